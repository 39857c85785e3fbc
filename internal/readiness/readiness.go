// Package readiness gates startup on external dependencies. The original
// deployment blocked forever waiting for the database; here the wait is a
// fixed-interval poll with an explicit bound so a dead dependency becomes an
// operator-visible failure instead of a silent hang.
package readiness

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pempem98/inventory-scanner/internal/retry"
)

type Options struct {
	// MaxAttempts bounds the poll. Zero falls back to 30 attempts.
	MaxAttempts int
	// Interval is the fixed delay between attempts. Zero falls back to 2s.
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 30
	}
	if o.Interval == 0 {
		o.Interval = 2 * time.Second
	}
	return o
}

// WaitForDatabase pings db until it answers or the bound is exhausted.
func WaitForDatabase(ctx context.Context, db *sql.DB, opts Options) error {
	opts = opts.withDefaults()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: opts.MaxAttempts,
		Interval:    opts.Interval,
		OnRetry: func(attempt int, err error) {
			slog.InfoContext(ctx, "database not ready, retrying", "attempt", attempt, "error", err)
		},
	}, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("database never became ready: %w", err)
	}
	slog.InfoContext(ctx, "database ready")
	return nil
}

// WaitForBroker pings the message broker until it answers or the bound is
// exhausted.
func WaitForBroker(ctx context.Context, client *redis.Client, opts Options) error {
	opts = opts.withDefaults()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: opts.MaxAttempts,
		Interval:    opts.Interval,
		OnRetry: func(attempt int, err error) {
			slog.InfoContext(ctx, "broker not ready, retrying", "attempt", attempt, "error", err)
		},
	}, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("broker never became ready: %w", err)
	}
	slog.InfoContext(ctx, "broker ready")
	return nil
}
