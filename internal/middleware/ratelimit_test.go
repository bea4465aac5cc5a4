package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	rl := NewRateLimiter(2, 1)

	if !rl.Allow("acme:1.2.3.4") || !rl.Allow("acme:1.2.3.4") {
		t.Fatalf("first two requests should be allowed")
	}
	if rl.Allow("acme:1.2.3.4") {
		t.Fatalf("third request should exceed the bucket capacity")
	}

	// each client gets its own bucket
	if !rl.Allow("acme:5.6.7.8") {
		t.Fatalf("a different client must not share the exhausted bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/jobs", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 response should carry Retry-After")
	}

	probe := httptest.NewRequest(http.MethodGet, "/health", nil)
	probe.RemoteAddr = "9.9.9.9:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, probe)
	if rec.Code != http.StatusOK {
		t.Fatalf("probe endpoint must bypass rate limiting, got %d", rec.Code)
	}
}
