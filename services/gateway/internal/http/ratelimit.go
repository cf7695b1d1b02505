package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/internal/platform/auth"
	"github.com/example/arctica/internal/platform/httpserver"
)

// RateLimiter is a token bucket keyed by UI scope, or by client address for
// requests that carry no scope.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), last: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.last = now

	if b.tokens < 1 {
		var wait time.Duration
		if rl.rate > 0 {
			wait = time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

// Forget drops the bucket of a closed scope.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.buckets, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.ScopeIDFromContext(r.Context())
		if !ok || key == "" {
			key = r.RemoteAddr
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				key = fwd
			}
		}
		if allowed, wait := rl.allow(key); !allowed {
			rid := httpserver.RequestIDFromContext(r.Context())
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", rid, map[string]any{"retry_after_ms": wait.Milliseconds()})
			return
		}
		next.ServeHTTP(w, r)
	})
}
