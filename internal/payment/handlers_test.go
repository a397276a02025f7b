package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/payment"
	"github.com/noah-isme/storefront-gateway/internal/paynow"
)

type fakeGateway struct {
	createFn func(ctx context.Context, req paynow.CreatePaymentRequest) (*paynow.Payment, error)
	statusFn func(ctx context.Context, paymentID string) (*string, error)

	created  []paynow.CreatePaymentRequest
	statusOf []string
}

func (f *fakeGateway) CreatePayment(ctx context.Context, req paynow.CreatePaymentRequest) (*paynow.Payment, error) {
	f.created = append(f.created, req)
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &paynow.Payment{PaymentID: "PAY-1", RedirectURL: "https://gw.example/redirect", Status: "NEW"}, nil
}

func (f *fakeGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*string, error) {
	f.statusOf = append(f.statusOf, paymentID)
	if f.statusFn != nil {
		return f.statusFn(ctx, paymentID)
	}
	return nil, nil
}

func (f *fakeGateway) PaymentMethods(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"type":"BLIK"}]`), nil
}

func (f *fakeGateway) DataProcessingNotices(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"title":"notice"}]`), nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newHandler(t *testing.T, gw payment.Gateway) (*payment.Handler, *payment.Correlation) {
	t.Helper()
	corr := &payment.Correlation{R: newTestRedis(t), TTL: time.Hour}
	return &payment.Handler{
		Gateway:     gw,
		Validate:    validator.New(),
		Correlation: corr,
		Logger:      zerolog.Nop(),
	}, corr
}

func initiateBody() string {
	return `{"amount":10000,"externalId":"cart_123","description":"Order #123","email":"a@b.com"}`
}

func TestInitiateCreatesPaymentAndBindsCorrelation(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	h, corr := newHandler(t, gw)

	rec := httptest.NewRecorder()
	h.Initiate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(initiateBody())))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		PaymentID   string `json:"paymentId"`
		RedirectURL string `json:"redirectUrl"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "PAY-1", resp.PaymentID)
	require.Equal(t, "https://gw.example/redirect", resp.RedirectURL)
	require.Equal(t, "NEW", resp.Status)

	require.Len(t, gw.created, 1)
	require.Equal(t, int64(10000), gw.created[0].Amount)
	require.Equal(t, "a@b.com", gw.created[0].Buyer.Email)

	bound, err := corr.PaymentID(context.Background(), "cart_123")
	require.NoError(t, err)
	require.Equal(t, "PAY-1", bound)
}

func TestInitiateRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	h, _ := newHandler(t, gw)

	cases := map[string]string{
		"not json":       `{`,
		"zero amount":    `{"amount":0,"externalId":"c","description":"d","email":"a@b.com"}`,
		"missing email":  `{"amount":100,"externalId":"c","description":"d"}`,
		"bad email":      `{"amount":100,"externalId":"c","description":"d","email":"nope"}`,
		"missing cart":   `{"amount":100,"description":"d","email":"a@b.com"}`,
		"short currency": `{"amount":100,"currency":"PL","externalId":"c","description":"d","email":"a@b.com"}`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		h.Initiate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Empty(t, gw.created)
}

func TestInitiateMapsGatewayErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"gateway rejects", &paynow.GatewayError{StatusCode: 422, Body: `{"errors":[]}`}, http.StatusUnprocessableEntity, "GATEWAY_ERROR"},
		{"gateway denies auth", &paynow.GatewayError{StatusCode: 401}, http.StatusUnauthorized, "GATEWAY_ERROR"},
		{"gateway throttles", &paynow.GatewayError{StatusCode: 429}, http.StatusTooManyRequests, "GATEWAY_ERROR"},
		{"gateway down", &paynow.GatewayError{StatusCode: 503}, http.StatusServiceUnavailable, "GATEWAY_ERROR"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gw := &fakeGateway{createFn: func(context.Context, paynow.CreatePaymentRequest) (*paynow.Payment, error) {
				return nil, tc.err
			}}
			h, _ := newHandler(t, gw)

			rec := httptest.NewRecorder()
			h.Initiate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(initiateBody())))

			require.Equal(t, tc.status, rec.Code)
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func statusRequest(t *testing.T, h http.HandlerFunc, pattern, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get(pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatusReturnsGatewayStatus(t *testing.T) {
	t.Parallel()

	confirmed := "CONFIRMED"
	gw := &fakeGateway{statusFn: func(context.Context, string) (*string, error) { return &confirmed, nil }}
	h, _ := newHandler(t, gw)

	rec := statusRequest(t, h.Status, "/payments/{paymentId}/status", "/payments/PAY-1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"paymentId":"PAY-1","status":"CONFIRMED"}`, rec.Body.String())
	require.Equal(t, []string{"PAY-1"}, gw.statusOf)
}

func TestStatusErrorKeepsGatewayCodeAndDisablesCaching(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{statusFn: func(context.Context, string) (*string, error) {
		return nil, &paynow.GatewayError{StatusCode: 401}
	}}
	h, _ := newHandler(t, gw)

	rec := statusRequest(t, h.Status, "/payments/{paymentId}/status", "/payments/PAY-1/status")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "GATEWAY_ERROR", resp.Error.Code)
}

func TestStatusUnknownWhenGatewayHasNothing(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	h, _ := newHandler(t, gw)

	rec := statusRequest(t, h.Status, "/payments/{paymentId}/status", "/payments/PAY-1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"paymentId":"PAY-1","status":"UNKNOWN"}`, rec.Body.String())
}

func TestStatusByExternalResolvesCorrelation(t *testing.T) {
	t.Parallel()

	pending := "PENDING"
	gw := &fakeGateway{statusFn: func(_ context.Context, id string) (*string, error) {
		require.Equal(t, "PAY-9", id)
		return &pending, nil
	}}
	h, corr := newHandler(t, gw)
	require.NoError(t, corr.Bind(context.Background(), "cart_77", "PAY-9"))

	rec := statusRequest(t, h.StatusByExternal, "/carts/{externalId}/payment-status", "/carts/cart_77/payment-status")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"paymentId":"PAY-9","status":"PENDING"}`, rec.Body.String())
}

func TestStatusByExternalUnknownCart(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	h, _ := newHandler(t, gw)

	rec := statusRequest(t, h.StatusByExternal, "/carts/{externalId}/payment-status", "/carts/cart_unseen/payment-status")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, gw.statusOf)
}

func TestMethodsPassthrough(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, &fakeGateway{})

	rec := httptest.NewRecorder()
	h.Methods(rec, httptest.NewRequest(http.MethodGet, "/payments/methods", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"type":"BLIK"}]`, rec.Body.String())
}

func TestNoticesPassthrough(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, &fakeGateway{})

	rec := httptest.NewRecorder()
	h.Notices(rec, httptest.NewRequest(http.MethodGet, "/payments/data-processing-notices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"title":"notice"}]`, rec.Body.String())
}
