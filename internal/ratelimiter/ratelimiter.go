// Package ratelimiter throttles background work issued against the native
// client, such as the per-child stat pass that follows a directory listing.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiter on top of golang.org/x/time/rate.
//
// Background passes call Wait before each native round trip so that a
// directory with thousands of files cannot monopolize the single dispatcher
// worker. Interactive callers are never throttled.
//
// A nil *RateLimiter is valid and never blocks.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing opsPerSecond sustained operations with
// bursts of up to burst operations.
//
// opsPerSecond = 0 disables limiting. A zero burst is raised to one, since a
// bucket that can hold no token would block forever.
func New(opsPerSecond, burst uint) *RateLimiter {
	if opsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// SetLimit changes the sustained rate. Zero disables limiting.
func (r *RateLimiter) SetLimit(opsPerSecond uint) {
	if opsPerSecond == 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(opsPerSecond))
	if r.limiter.Burst() == 0 {
		r.limiter.SetBurst(1)
	}
}

// SetBurst changes the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}
