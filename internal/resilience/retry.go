package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles after
	// every further failure.
	BaseDelay time.Duration
}

// DefaultRetryConfig suits short provider calls.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff
// between attempts. Context cancellation stops the loop immediately and
// is returned as-is, so callers can distinguish it from provider errors.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
