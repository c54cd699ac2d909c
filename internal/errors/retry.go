package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig tunes backoff for retryable provider calls.
type RetryConfig struct {
	// MaxRetries is how many retries follow the initial attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry. It grows by
	// Multiplier per failed attempt, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter randomizes each wait into [50%, 100%] of its nominal value.
	Jitter bool
}

// DefaultRetryConfig is sized for embedding provider calls: a few
// attempts with second-scale backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithResult runs fn until it succeeds, the retry budget is spent,
// or the context ends. Context cancellation wins over the backoff wait.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt == cfg.MaxRetries {
			return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
