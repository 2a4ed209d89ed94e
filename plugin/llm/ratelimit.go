package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// newLimiter builds the shared outbound limiter for one backend.
// A zero or negative perMinute disables limiting.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// waitLimiter blocks until the limiter admits a request or the context ends.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
