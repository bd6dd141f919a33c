package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func newMemoryLimiter(limit int64) *limiter.Limiter {
	return limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: limit})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	h := Handler{Limiter: newMemoryLimiter(2)}
	calls := 0
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/gateway/razorpay/callback", nil)
		req.RemoteAddr = ip + ":1234"
		rr := httptest.NewRecorder()
		next.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusNoContent, serve("10.0.0.1").Code)
	rr := serve("10.0.0.1")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = serve("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	require.Equal(t, http.StatusNoContent, serve("10.0.0.2").Code)
	require.Equal(t, 3, calls)
}

func TestHandlerWithoutLimiterPassesThrough(t *testing.T) {
	next := Handler{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	next.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestByClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	require.Equal(t, "ip:203.0.113.5", ByClientIP(req))
}
