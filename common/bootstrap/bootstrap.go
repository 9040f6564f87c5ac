package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openartifacts/registry/common/cache"
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/db"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/queue"
)

// Setup initializes all service components.
// This is the main entry point for all services.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize Redis (if not skipped). Used by the redis lock
	// backend; the SQL backend runs without it.
	if !options.skipRedis {
		components.Logger.Info("connecting to redis",
			"addr", components.Config.Redis.Addr,
		)
		components.Redis = redis.NewClient(&redis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := components.Redis.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Initialize queue (if not skipped)
	if !options.skipQueue {
		components.Queue = queue.NewMemoryQueue(components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 6. Initialize cache (if not skipped)
	if !options.skipCache && components.Config.Cache.Enabled {
		components.Cache = cache.NewMemoryCache(components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error.
// Useful for services that can't recover from initialization failure.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
