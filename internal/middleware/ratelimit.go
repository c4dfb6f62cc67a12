// Package middleware provides HTTP middleware for the Samovar API.
package middleware

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/samovar-im/server/internal/auth"
)

// RateLimiter keeps one token bucket per authenticated user. The WebSocket
// surface is not limited here; frame abuse is the read pump's problem.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewRateLimiter allows requestsPerMin sustained requests per user, with a
// burst of a tenth of that (at least 5).
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[uuid.UUID]*rate.Limiter),
		limit:   rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   max(requestsPerMin/10, 5),
	}
}

func (rl *RateLimiter) bucket(userID uuid.UUID) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[userID]
	if !ok {
		b = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[userID] = b
	}
	return b
}

// Middleware rejects requests over the caller's budget with 429.
// Unauthenticated requests pass through; auth rejects them with a better
// status than this layer could.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserID(r.Context())
		if ok && !rl.bucket(userID).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded, please try again later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops buckets that have refilled completely, meaning their user
// has been idle. Call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		if b.Tokens() >= float64(rl.burst) {
			delete(rl.buckets, userID)
		}
	}
}
