package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/logger"
)

// Deadlocks between writers touching the same artifact are expected and are
// retried locally; they only surface once the attempt budget is exhausted.
const (
	deadlockRetryAttempts = 50
	deadlockRetryWait     = 500 * time.Millisecond
)

// DB wraps pgxpool with common operations
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New creates a new database connection pool
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.log.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// WithTxRetry is WithTx with a bounded fixed-wait retry on deadlock and
// serialization failures.
func (db *DB) WithTxRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.RunWithRetry(ctx, func(ctx context.Context) error {
		return db.WithTx(ctx, fn)
	})
}

// RunWithRetry retries fn on deadlock-class errors with a fixed wait, up to
// the attempt budget. Any other error returns immediately.
func (db *DB) RunWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= deadlockRetryAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsDeadlock(lastErr) {
			return lastErr
		}

		db.log.Warn("deadlock detected, retrying",
			"attempt", attempt,
			"max_attempts", deadlockRetryAttempts,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(deadlockRetryWait):
		}
	}

	return fmt.Errorf("giving up after %d deadlock retries: %w", deadlockRetryAttempts, lastErr)
}

// IsDeadlock reports whether err is a Postgres deadlock or serialization
// failure (SQLSTATE 40P01 / 40001).
func IsDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
