package providers

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is the backoff state machine for backend calls: a fixed attempt
// budget with a doubling delay between attempts. It is independent of how the
// failure was signalled, so it can be exercised without real I/O.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Delay returns the backoff before the given 1-indexed attempt. The first
// attempt has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Do runs operation until it succeeds or the attempt budget is exhausted,
// sleeping the policy delay between attempts. Context cancellation interrupts
// both the wait and further attempts.
func (p RetryPolicy) Do(ctx context.Context, operation func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		slog.Debug("operation failed", "attempt", attempt, "max_attempts", attempts, "err", lastErr)
	}
	return lastErr
}
