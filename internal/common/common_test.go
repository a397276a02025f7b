package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

func TestAppErrorUnwrap(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	app := common.NewAppError("GATEWAY_ERROR", "gateway unavailable", http.StatusBadGateway, root)

	require.Equal(t, "connection refused", app.Error())
	require.ErrorIs(t, app, root)

	wrapped := fmt.Errorf("initiate: %w", app)
	got, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Equal(t, "GATEWAY_ERROR", got.Code)
}

func TestAsAppErrorMiss(t *testing.T) {
	t.Parallel()

	_, ok := common.AsAppError(errors.New("plain"))
	require.False(t, ok)
}

func TestJSONAppError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	common.JSONAppError(rec, common.NewAppError("VALIDATION_ERROR", "amount too low", http.StatusBadRequest, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":{"code":"VALIDATION_ERROR","message":"amount too low"}}`, rec.Body.String())
}

func TestJSONAppErrorNil(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	common.JSONAppError(rec, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJSONAppErrorNoStore(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	common.JSONAppErrorNoStore(rec, common.NewAppError("GATEWAY_ERROR", "upstream failed", http.StatusBadGateway, nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestSha256Hex(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		common.Sha256Hex("hello"))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4312"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	require.Equal(t, "203.0.113.4", common.ClientIP(req))
}

func TestIdemMiddlewareBlocksReplay(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var handled int
	wrapped := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled++
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("Idempotency-Key", "key-1")

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req.Clone(req.Context()))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req.Clone(req.Context()))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 1, handled)
}

func TestIdemMiddlewareWithoutHeaderPassesThrough(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	wrapped := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
}
