package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forerrors "github.com/bwl/forest/internal/errors"
)

func fastRetry(retries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustionMapsToEmbeddingUnavailable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(2), func() error {
		calls++
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.True(t, forerrors.IsKind(err, forerrors.KindEmbeddingUnavailable))
}

func TestWithRetry_NonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		return forerrors.Validation("bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
}

func TestWithRetry_RateLimitedIsRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(2), func() error {
		calls++
		return forerrors.New(forerrors.KindProviderRateLimited, "slow down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, fastRetry(3), func() error {
		return errors.New("never reached after cancel")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
