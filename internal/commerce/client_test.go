package commerce_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/commerce"
)

type recordedRequest struct {
	Method string
	Path   string
	Key    string
	Body   map[string]string
}

type storeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(r recordedRequest) (int, string)
}

func (s *storeRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Key: r.Header.Get("x-publishable-api-key")}
	_ = json.NewDecoder(r.Body).Decode(&rec.Body)

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	handler := s.handler
	s.mu.Unlock()

	status, body := handler(rec)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *storeRecorder) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func newTestClient(t *testing.T, rec *storeRecorder) *commerce.Client {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	client, err := commerce.NewClient(commerce.Config{
		BaseURL:        srv.URL,
		PublishableKey: "pk_test_123",
		Timeout:        2 * time.Second,
		HTTPClient:     srv.Client(),
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := commerce.NewClient(commerce.Config{})
	require.Error(t, err)
}

func TestCompleteCartSucceeds(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{handler: func(recordedRequest) (int, string) {
		return http.StatusOK, `{"type":"order","order":{"id":"order_1"}}`
	}}
	client := newTestClient(t, rec)

	require.NoError(t, client.CompleteCart(context.Background(), "cart_123"))

	requests := rec.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, http.MethodPost, requests[0].Method)
	require.Equal(t, "/store/carts/cart_123/complete", requests[0].Path)
	require.Equal(t, "pk_test_123", requests[0].Key)
}

func TestCompleteCartClassifiesMissingSession(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{handler: func(recordedRequest) (int, string) {
		return http.StatusBadRequest, `{"message":"Payment sessions are required to complete a cart"}`
	}}
	client := newTestClient(t, rec)

	err := client.CompleteCart(context.Background(), "cart_123")
	require.ErrorIs(t, err, commerce.ErrPaymentSessionMissing)
}

func TestCompleteCartSurfacesOtherFailures(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{handler: func(recordedRequest) (int, string) {
		return http.StatusConflict, `{"message":"cart already completed elsewhere"}`
	}}
	client := newTestClient(t, rec)

	err := client.CompleteCart(context.Background(), "cart_123")
	require.Error(t, err)
	require.NotErrorIs(t, err, commerce.ErrPaymentSessionMissing)
	require.Contains(t, err.Error(), "409")
}

func TestCompleteCartRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	rec := &storeRecorder{}
	rec.handler = func(recordedRequest) (int, string) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return http.StatusBadGateway, `{"message":"upstream hiccup"}`
		}
		return http.StatusOK, `{"type":"order"}`
	}
	client := newTestClient(t, rec)

	require.NoError(t, client.CompleteCart(context.Background(), "cart_123"))
	require.Len(t, rec.Requests(), 3)
}

func TestCreatePaymentCollection(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{handler: func(recordedRequest) (int, string) {
		return http.StatusOK, `{"payment_collection":{"id":"paycol_1"}}`
	}}
	client := newTestClient(t, rec)

	id, err := client.CreatePaymentCollection(context.Background(), "cart_123")
	require.NoError(t, err)
	require.Equal(t, "paycol_1", id)

	requests := rec.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, "/store/payment-collections", requests[0].Path)
	require.Equal(t, "cart_123", requests[0].Body["cart_id"])
}

func TestCreatePaymentCollectionRejectsMissingID(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{handler: func(recordedRequest) (int, string) {
		return http.StatusOK, `{"payment_collection":{}}`
	}}
	client := newTestClient(t, rec)

	_, err := client.CreatePaymentCollection(context.Background(), "cart_123")
	require.Error(t, err)
}

func TestEnsurePaymentSession(t *testing.T) {
	t.Parallel()

	rec := &storeRecorder{}
	rec.handler = func(r recordedRequest) (int, string) {
		if r.Path == "/store/payment-collections" {
			return http.StatusOK, `{"payment_collection":{"id":"paycol_9"}}`
		}
		return http.StatusOK, `{"payment_collection":{"id":"paycol_9","payment_sessions":[{"id":"payses_1"}]}}`
	}
	client := newTestClient(t, rec)

	require.NoError(t, client.EnsurePaymentSession(context.Background(), "cart_123"))

	requests := rec.Requests()
	require.Len(t, requests, 2)
	require.Equal(t, "/store/payment-collections", requests[0].Path)
	require.Equal(t, "/store/payment-collections/paycol_9/payment-sessions", requests[1].Path)
	require.Equal(t, "pp_paynow", requests[1].Body["provider_id"])
}
