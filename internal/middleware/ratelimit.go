package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pcoservices/server/internal/observability"
)

const (
	limiterIdleTimeout = 5 * time.Minute
	cleanupInterval    = time.Minute
)

// RateLimiter applies a token bucket per authenticated subject.
// State is in-memory; each instance enforces independently.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	subjects map[string]*subjectLimiter
	now      func() time.Time
}

type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a rate limiter allowing perSecond requests per
// subject with an equal burst. The cleanup goroutine stops when done closes.
func NewRateLimiter(perSecond int, done <-chan struct{}) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	rl := &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
		subjects: make(map[string]*subjectLimiter),
		now:      time.Now,
	}
	go rl.cleanup(done)
	return rl
}

// Allow reports whether a request from subject may proceed.
func (rl *RateLimiter) Allow(subject string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	sl, ok := rl.subjects[subject]
	if !ok {
		sl = &subjectLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.subjects[subject] = sl
	}
	sl.lastAccess = now
	return sl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup(done <-chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops limiters that have not been used recently.
func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-limiterIdleTimeout)
	for subject, sl := range rl.subjects {
		if sl.lastAccess.Before(cutoff) {
			delete(rl.subjects, subject)
		}
	}
}

// Middleware returns an HTTP middleware that applies rate limiting.
// Must be placed AFTER Authenticate (reads the subject from context).
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := subjectOf(r.Context())
		if subject == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(subject) {
			observability.LogSecurityEvent(GetRequestID(r.Context()), subject, "rate_limited", map[string]any{
				"path": r.URL.Path,
			})
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":   "RATE_LIMIT_EXCEEDED",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
