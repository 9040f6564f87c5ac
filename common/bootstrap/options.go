package bootstrap

import (
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/db"
	"github.com/openartifacts/registry/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	skipQueue    bool
	skipCache    bool
	customLogger *logger.Logger
	customConfig *config.Config
	dbInitHook   func(*db.DB) error
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutRedis skips the shared Redis client. Services running with the
// SQL lock backend have no other Redis consumers.
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutQueue skips queue initialization
func WithoutQueue() Option {
	return func(o *options) {
		o.skipQueue = true
	}
}

// WithoutCache skips cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithDBInitHook runs a custom function after DB initialization.
// Useful for applying schema, seeding data, etc.
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.dbInitHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
