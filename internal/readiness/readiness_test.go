package readiness_test

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pempem98/inventory-scanner/internal/readiness"
)

var errNotReady = errors.New("connection refused")

func TestWaitForDatabase(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		mock.ExpectPing()
		require.NoError(t, readiness.WaitForDatabase(t.Context(), db, readiness.Options{
			MaxAttempts: 3,
			Interval:    time.Millisecond,
		}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recovers after failed pings", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		mock.ExpectPing().WillReturnError(errNotReady)
		mock.ExpectPing().WillReturnError(errNotReady)
		mock.ExpectPing()
		require.NoError(t, readiness.WaitForDatabase(t.Context(), db, readiness.Options{
			MaxAttempts: 5,
			Interval:    time.Millisecond,
		}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up at the bound", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		for range 3 {
			mock.ExpectPing().WillReturnError(errNotReady)
		}
		err = readiness.WaitForDatabase(t.Context(), db, readiness.Options{
			MaxAttempts: 3,
			Interval:    time.Millisecond,
		})
		require.Error(t, err)
		require.ErrorContains(t, err, "database never became ready")
	})
}

func TestWaitForBroker(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, readiness.WaitForBroker(t.Context(), client, readiness.Options{
			MaxAttempts: 3,
			Interval:    time.Millisecond,
		}))
	})

	t.Run("gives up when unreachable", func(t *testing.T) {
		t.Parallel()
		// A miniredis that has been shut down leaves a port nothing listens on.
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })

		err := readiness.WaitForBroker(t.Context(), client, readiness.Options{
			MaxAttempts: 2,
			Interval:    time.Millisecond,
		})
		require.Error(t, err)
		require.ErrorContains(t, err, "broker never became ready")
	})
}
