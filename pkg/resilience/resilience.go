// Package resilience retries startup dependencies with exponential backoff.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"duet-backend/pkg/logger"
)

// Backoff describes how often and how long to retry
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff is five attempts starting at one second, capped at 30s
var DefaultBackoff = Backoff{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// Delay returns the wait after the given failed attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Retrier runs operations until they succeed or attempts run out
type Retrier struct {
	backoff Backoff
	clock   clock.Clock
	log     *zap.Logger
}

// NewRetrier returns a retrier on the wall clock. log may be nil.
func NewRetrier(b Backoff, log *zap.Logger) *Retrier {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	return &Retrier{backoff: b, clock: clock.New(), log: logger.OrDefault(log)}
}

// WithClock replaces the clock used to wait between attempts
func (r *Retrier) WithClock(c clock.Clock) *Retrier {
	r.clock = c
	return r
}

// Do calls fn until it returns nil. The last error is returned once every
// attempt failed or ctx is done while waiting.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.backoff.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				r.log.Info("Operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt == r.backoff.MaxAttempts {
			break
		}

		delay := r.backoff.Delay(attempt)
		r.log.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))

		timer := r.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", operation, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.backoff.MaxAttempts, lastErr)
}
