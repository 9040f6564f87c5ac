package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/db"
	"github.com/openartifacts/registry/common/logger"
)

// LockRepository implements mutual exclusion through uniquely keyed
// rows in the artifact_locks table. Acquisition is non-blocking: a
// failed insert means someone else holds the key, unless the holder's
// row has gone stale and can be taken over.
type LockRepository struct {
	db         *db.DB
	log        *logger.Logger
	staleAfter time.Duration
}

// NewLockRepository creates a SQL-backed lock backend.
func NewLockRepository(database *db.DB, log *logger.Logger, staleAfter time.Duration) *LockRepository {
	return &LockRepository{db: database, log: log, staleAfter: staleAfter}
}

// CreateLock acquires the key or fails with Conflict. A row older than
// staleAfter belongs to a crashed holder and is re-stamped instead.
func (r *LockRepository) CreateLock(ctx context.Context, key string) (string, error) {
	var id string

	err := r.db.RunWithRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO artifact_locks (lock_key, acquired_at) VALUES ($1, now())`,
			key)
		if err == nil {
			id = key
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return fmt.Errorf("create lock %q: %w", key, err)
		}

		tag, err := r.db.Exec(ctx, `
			UPDATE artifact_locks SET acquired_at = now()
			WHERE lock_key = $1 AND acquired_at < now() - $2::interval`,
			key, r.staleAfter.String())
		if err != nil {
			return fmt.Errorf("take over lock %q: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict(
				"cannot lock an item with key %s, lock already acquired by other request", key)
		}

		r.log.Warn("took over stale lock", "key", key, "stale_after", r.staleAfter)
		id = key
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteLock releases a previously acquired lock. A missing row is
// reported as NotFound so callers can log and move on.
func (r *LockRepository) DeleteLock(ctx context.Context, id string) error {
	return r.db.RunWithRetry(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx,
			`DELETE FROM artifact_locks WHERE lock_key = $1`, id)
		if err != nil {
			return fmt.Errorf("delete lock %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("lock %s not found", id)
		}
		return nil
	})
}
