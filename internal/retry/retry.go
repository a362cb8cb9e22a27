// Package retry implements jittered exponential backoff for transient
// store and event-sink errors, per spec §7's Transient propagation policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// IsRetryableFunc reports whether err is worth retrying. Do never retries
// context cancellation or deadline errors; when isRetryable is nil, every
// other error is retried.
type IsRetryableFunc func(err error) bool

// Do executes fn with exponential backoff retry, using isRetryable to decide
// whether a failed attempt should be retried.
func Do(ctx context.Context, cfg Config, isRetryable IsRetryableFunc, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff with jitter: base*2^attempt,
// capped at max, scaled by a random factor in [0.5, 1.0) to avoid thundering
// herds when multiple jobs retry at once.
func calculateBackoff(base, maxBackoff time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
