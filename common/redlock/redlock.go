// Package redlock provides a Redis-backed lock backend as an alternative to
// the SQL lock table. A lock is a SET NX key with a TTL: a held key means the
// resource is locked, and the TTL covers the crash-between-acquire-and-release
// gap that the SQL backend handles with stale-age takeover.
package redlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openartifacts/registry/common/apperr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// releaseScript deletes the key only when it still carries our token, so a
// release that races a TTL takeover cannot delete another holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Backend implements the lock engine's backend contract on Redis.
type Backend struct {
	redis  *redis.Client
	ttl    time.Duration
	logger Logger
}

// New creates a Redis lock backend. ttl bounds how long an abandoned lock
// can block other writers.
func New(redisClient *redis.Client, ttl time.Duration, logger Logger) *Backend {
	return &Backend{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// CreateLock acquires the lock for key, failing fast with Conflict when it
// is already held. The returned id is "<key>/<token>".
func (b *Backend) CreateLock(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()

	ok, err := b.redis.SetNX(ctx, lockKey(key), token, b.ttl).Result()
	if err != nil {
		b.logger.Error("redis SETNX failed", "key", key, "error", err)
		return "", fmt.Errorf("acquire redis lock %s: %w", key, err)
	}
	if !ok {
		return "", apperr.Conflict(
			"cannot lock an item with key %s, lock already acquired by other request", key)
	}

	b.logger.Debug("redis lock acquired", "key", key)
	return key + "/" + token, nil
}

// DeleteLock releases a lock previously returned by CreateLock. A missing or
// superseded lock is reported as NotFound; callers treat that as non-fatal.
func (b *Backend) DeleteLock(ctx context.Context, id string) error {
	key, token := splitLockID(id)

	deleted, err := releaseScript.Run(ctx, b.redis, []string{lockKey(key)}, token).Int()
	if err != nil {
		b.logger.Error("redis lock release failed", "key", key, "error", err)
		return fmt.Errorf("release redis lock %s: %w", key, err)
	}
	if deleted == 0 {
		return apperr.NotFound("lock %s not held", key)
	}

	b.logger.Debug("redis lock released", "key", key)
	return nil
}

func lockKey(key string) string {
	return "artifact_lock:" + key
}

func splitLockID(id string) (key, token string) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[:i], id[i+1:]
		}
	}
	return id, ""
}
