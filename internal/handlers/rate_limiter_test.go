package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sfykart/api/internal/platform/requestctx"
)

func TestRateLimitMiddlewarePerDevice(t *testing.T) {
	now := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	handler := RateLimitMiddleware(2, clock)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(device string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(requestctx.WithDeviceID(req.Context(), device))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assertStatus(t, call("d1"), http.StatusOK)
	assertStatus(t, call("d1"), http.StatusOK)
	limited := call("d1")
	assertStatus(t, limited, http.StatusTooManyRequests)
	if limited.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	assertStatus(t, call("d2"), http.StatusOK)

	now = now.Add(time.Minute)
	assertStatus(t, call("d1"), http.StatusOK)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	called := 0
	handler := RateLimitMiddleware(0, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
	}))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if called != 5 {
		t.Fatalf("expected all requests through, got %d", called)
	}
}

func TestTokenBucketLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	limiter := newTokenBucketLimiter(10, func() time.Time { return now }).(*tokenBucketLimiter)
	limiter.Allow("a")
	now = now.Add(limiterIdleTTL + time.Second)
	limiter.Allow("b")
	if _, ok := limiter.buckets["a"]; ok {
		t.Fatalf("expected idle key to be pruned")
	}
}
