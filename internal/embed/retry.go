package embed

import (
	"context"
	"errors"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts after the initial attempt.
	InitialDelay time.Duration // Delay before the first retry.
	MaxDelay     time.Duration // Cap on the backoff delay.
	Multiplier   float64       // Backoff growth factor.
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff. Context cancellation
// returns immediately. Non-retryable provider errors abort the loop.
// After exhaustion the last error is returned wrapped so callers can map
// it to an absent embedding.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Validation-class failures will not improve with retries.
		var fe *forerrors.Error
		if errors.As(err, &fe) && !fe.Retryable && fe.Kind != forerrors.KindInternal {
			return err
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return forerrors.Wrap(forerrors.KindEmbeddingUnavailable, lastErr,
		"provider failed after %d retries", cfg.MaxRetries)
}
