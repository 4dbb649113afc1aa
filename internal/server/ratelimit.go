package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/aristath/openalgo-bridge/internal/apierr"
)

// maxQueueWait is how long a request waits for a free token before
// failing with RATE_LIMITED (spec §5: "queue up to 1s then fail").
const maxQueueWait = 1 * time.Second

// tokenBucket is a small stdlib rate limiter. No ecosystem token-
// bucket package appears anywhere in the retrieval pack (see
// DESIGN.md), so this is hand-rolled rather than borrowed.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(perMinute int) *tokenBucket {
	if perMinute <= 0 {
		perMinute = 600
	}
	rate := float64(perMinute) / 60.0
	return &tokenBucket{
		tokens:     rate,
		capacity:   rate,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	deadline := time.Now().Add(maxQueueWait)
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return true
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (b *tokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" || r.URL.Path == "/status" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.allow() {
			writeAPIError(w, apierr.New(apierr.RateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
