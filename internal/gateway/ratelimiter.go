package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-identity token bucket, used for the managed HTTP
// API's request throttling.
//
// golang.org/x/time/rate is a direct go.mod dependency with no import
// site elsewhere in the tree; this is that site.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter allowing rpm requests per minute per
// key, with burst as the bucket size. rpm <= 0 disables limiting
// entirely (Enabled() reports false).
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether this limiter actually throttles anything.
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.rps > 0
}

// Allow reports whether a request for key may proceed right now,
// consuming one token if so.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}
