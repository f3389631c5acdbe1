package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter pauses for a fixed delay between reference groups.
type RateLimiter struct {
	delay time.Duration
	clock clockwork.Clock
}

func NewRateLimiter(delay time.Duration, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{delay: delay, clock: clock}
}

func (r *RateLimiter) Pause(ctx context.Context) error {
	if r.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(r.delay):
		return nil
	}
}
