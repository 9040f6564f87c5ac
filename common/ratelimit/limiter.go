package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the window resets (0 if allowed)
}

// Limiter provides tenant-aware rate limiting using Redis + Lua
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// New creates a rate limiter with the embedded Lua counter script
func New(redisClient *redis.Client, logger Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckGlobal checks the service-wide request limit
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64, windowSec int) (*Result, error) {
	return l.check(ctx, "rate_limit:global", limit, windowSec)
}

// CheckTenant checks the per-tenant request limit
func (l *Limiter) CheckTenant(ctx context.Context, tenantID string, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("rate_limit:tenant:%s", tenantID)
	return l.check(ctx, key, limit, windowSec)
}

// check runs the counter script atomically and parses its reply
func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	reply, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Reply array: {allowed, current_count, limit, retry_after}
	fields, ok := reply.([]interface{})
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	result := &Result{
		Allowed:           fields[0].(int64) == 1,
		CurrentCount:      fields[1].(int64),
		Limit:             fields[2].(int64),
		RetryAfterSeconds: fields[3].(int64),
	}

	if !result.Allowed {
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", limit,
			"retry_after", result.RetryAfterSeconds)
	}

	return result, nil
}

// CurrentCount returns the counter value without incrementing it
func (l *Limiter) CurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset clears a rate limit counter
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
