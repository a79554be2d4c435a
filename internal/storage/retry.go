package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrRetryExhausted is returned when every retry attempt failed.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryConfig controls exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries int

	// InitialDelay is the delay before the first retry (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps any single delay (default: 60s).
	MaxDelay time.Duration

	// Multiplier grows the delay between retries (default: 2).
	Multiplier float64

	// Jitter randomizes each delay to between 50% and 100% of its value.
	Jitter bool

	// OnRetry is called before sleeping ahead of a retry. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the backoff used when connecting to a backend.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Delay returns the backoff before retry number attempt (1-based), without jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	d := float64(c.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, the attempts run out, or ctx is done.
// The final error wraps both ErrRetryExhausted and fn's last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.Delay(attempt)
			if cfg.Jitter && delay > 0 {
				delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
			}
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, delay, lastErr)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxRetries+1, lastErr)
}
