package service

import (
	"context"
	"errors"

	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/logger"
)

// Keys at or past this length are served without locking; the write
// still happens, just without mutual exclusion.
const maxLockKeyLength = 255

// LockBackend acquires and releases named locks. The SQL row backend
// and the Redis backend both satisfy it.
type LockBackend interface {
	CreateLock(ctx context.Context, key string) (string, error)
	DeleteLock(ctx context.Context, id string) error
}

// Lock is a held (or deliberately skipped) lock. A zero ID means no
// backend lock exists and release is a no-op.
type Lock struct {
	ID  string
	Key string
}

// LockEngine serializes writers on artifact-scoped keys.
type LockEngine struct {
	backend LockBackend
	log     *logger.Logger
}

// NewLockEngine creates a lock engine over the given backend.
func NewLockEngine(backend LockBackend, log *logger.Logger) *LockEngine {
	return &LockEngine{backend: backend, log: log}
}

// Acquire takes the lock for key, failing with Conflict when another
// request holds it. Oversized keys are let through unlocked.
func (e *LockEngine) Acquire(ctx context.Context, key string) (*Lock, error) {
	if key == "" || len(key) >= maxLockKeyLength {
		e.log.Info("no lock for key", "key", key)
		return &Lock{Key: key}, nil
	}

	id, err := e.backend.CreateLock(ctx, key)
	if err != nil {
		return nil, err
	}
	e.log.Debug("lock acquired", "lock_id", id, "key", key)
	return &Lock{ID: id, Key: key}, nil
}

// Release frees a held lock. Failures are logged, never propagated: a
// stale leftover row will be taken over by the next acquirer anyway.
func (e *LockEngine) Release(ctx context.Context, lock *Lock) {
	if lock == nil || lock.ID == "" {
		return
	}
	if err := e.backend.DeleteLock(ctx, lock.ID); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind() == apperr.KindNotFound {
			e.log.Warn("lock already released", "lock_id", lock.ID)
			return
		}
		e.log.Error("failed to release lock", "lock_id", lock.ID, "error", err)
		return
	}
	e.log.Debug("lock released", "lock_id", lock.ID, "key", lock.Key)
}
