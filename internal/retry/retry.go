// Package retry runs an operation under an attempt budget with exponential backoff,
// retrying only the errors a classifier marks as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBudgetExhausted wraps the last error once every attempt has failed.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Transient decides whether an error is worth another attempt. Nil means IsTransient.
	Transient func(error) bool
	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is the policy used when a component is configured without one.
func Default() Policy {
	return Policy{Attempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Do runs fn until it succeeds, fails terminally, the budget is spent or ctx ends.
// It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	transient := p.Transient
	if transient == nil {
		transient = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !transient(lastErr) {
			return attempt, lastErr
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return attempt, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrBudgetExhausted, attempts, lastErr)
}

// Delay returns the wait after the given failed attempt: BaseDelay doubled per
// attempt and capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
