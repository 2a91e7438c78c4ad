package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter throttles requests per client IP with a token bucket: each
// client accrues rate tokens per second up to burst, and a request spends
// one. Webhook endpoints are exempted at the router level, since providers
// batch retries after outages.
type RateLimiter struct {
	rate  float64
	burst float64

	mu       sync.Mutex
	visitors map[string]*visitor

	now func() time.Time
}

type visitor struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the given
// burst per client, and starts a background sweep of idle clients.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:     rate,
		burst:    float64(burst),
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
	go rl.evictIdle(5*time.Minute, 10*time.Minute)
	return rl
}

// Take spends a token for the client if one is available. When the bucket is
// empty it reports how long the client should wait before retrying.
func (rl *RateLimiter) Take(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[client]
	if !ok {
		v = &visitor{tokens: rl.burst, seen: now}
		rl.visitors[client] = v
	}

	v.tokens = math.Min(rl.burst, v.tokens+now.Sub(v.seen).Seconds()*rl.rate)
	v.seen = now

	if v.tokens < 1 {
		wait := time.Duration((1 - v.tokens) / rl.rate * float64(time.Second))
		return false, wait
	}
	v.tokens--
	return true, 0
}

func (rl *RateLimiter) evictIdle(every, maxIdle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := rl.now().Add(-maxIdle)
		for client, v := range rl.visitors {
			if v.seen.Before(cutoff) {
				delete(rl.visitors, client)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects requests over the configured rate with 429 Too Many
// Requests and a Retry-After hint.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// chi's RealIP middleware rewrites RemoteAddr behind a proxy.
			client := r.RemoteAddr
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				client = xri
			}
			ok, wait := limiter.Take(client)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
