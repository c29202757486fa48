// Package ratelimit provides a token-bucket limiter backed by
// golang.org/x/time/rate. It gates inbound gRPC requests (Allow) and paces
// outbound calls to the market-data provider (Wait).
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter. A Limiter built with a non-positive
// rate never limits.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps events per second with the
// given burst size. rps ≤ 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), max(burst, 1))}
}

// Allow reports whether a single event may proceed now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Wait blocks until an event may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}
