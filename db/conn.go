package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"maintflow/config"
)

// NewPool constructs a pgx connection pool and verifies it with a ping,
// retrying with a linear backoff while the database comes up.
func NewPool(ctx context.Context, connString string, opts config.Pool, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}

	attempts := max(opts.ConnectAttempts, 1)
	var lastErr error
	for i := range attempts {
		if i > 0 {
			wait := time.Duration(i) * opts.ConnectBackoff
			log.WithFields(logrus.Fields{"attempt": i + 1, "wait": wait.String()}).
				WithError(lastErr).Warn("database not ready, retrying")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("db: connect: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return pool, nil
	}

	return nil, fmt.Errorf("db: connect after %d attempts: %w", attempts, lastErr)
}

// Healthcheck returns a probe suitable for a readiness endpoint.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("db: ping: %w", err)
		}
		return nil
	}
}
