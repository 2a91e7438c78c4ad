package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	mw := RateLimit(1, 3)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/consultations", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/consultations", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-burst status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response missing Retry-After header")
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	if ok, _ := limiter.Take("10.0.0.1"); !ok {
		t.Fatal("first request from first client should pass")
	}
	if ok, _ := limiter.Take("10.0.0.1"); ok {
		t.Fatal("second request from same client should be limited")
	}
	if ok, _ := limiter.Take("10.0.0.2"); !ok {
		t.Fatal("second client has its own bucket")
	}
}

func TestRateLimitRefillsOverTime(t *testing.T) {
	limiter := NewRateLimiter(2, 1)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	if ok, _ := limiter.Take("10.0.0.1"); !ok {
		t.Fatal("burst token should be available")
	}
	ok, wait := limiter.Take("10.0.0.1")
	if ok {
		t.Fatal("bucket should be empty")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("wait hint = %s, want within (0, 1s]", wait)
	}

	now = now.Add(time.Second)
	if ok, _ := limiter.Take("10.0.0.1"); !ok {
		t.Fatal("token should refill after a second at 2 rps")
	}
}
