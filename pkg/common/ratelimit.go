package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to an upstream API. It is a thin wrapper over a
// token bucket so callers depend on this package rather than x/time directly.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps sustained requests per second
// with the given burst headroom.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a slot is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
