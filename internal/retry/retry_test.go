package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pempem98/inventory-scanner/internal/retry"

	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("first attempt succeeds", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(t.Context(), retry.Config{MaxAttempts: 3, Interval: time.Millisecond}, func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("recovers before the bound", func(t *testing.T) {
		t.Parallel()
		calls := 0
		var retried []int
		cfg := retry.Config{
			MaxAttempts: 5,
			Interval:    time.Millisecond,
			OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
		}
		err := retry.Do(t.Context(), cfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not ready")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
		require.Equal(t, []int{1, 2}, retried)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		sentinel := errors.New("still down")
		calls := 0
		err := retry.Do(t.Context(), retry.Config{MaxAttempts: 3, Interval: time.Millisecond}, func(context.Context) error {
			calls++
			return sentinel
		})
		require.Error(t, err)
		require.ErrorIs(t, err, sentinel)
		require.Equal(t, 3, calls)
	})

	t.Run("cancelled between attempts", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := retry.Do(ctx, retry.Config{MaxAttempts: 2, Interval: time.Minute}, func(context.Context) error {
			return errors.New("not ready")
		})
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
	})
}
