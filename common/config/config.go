package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Lock      LockConfig
	Store     StoreConfig
	Cache     CacheConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	// PprofPort serves pprof on localhost when non-zero.
	PprofPort int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LockConfig selects the mutual-exclusion backend used to serialize
// artifact updates.
type LockConfig struct {
	// Backend is "sql" (uniquely-keyed row insert) or "redis" (SET NX).
	Backend string
	// StaleAfter is the age past which an abandoned lock may be re-acquired.
	StaleAfter time.Duration
}

// StoreConfig selects where blob bytes are written.
type StoreConfig struct {
	// Backend is "database" or "s3".
	Backend string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// QuotaConfig holds the global quota defaults. -1 means unlimited.
// Per-type limits live in the artifact type descriptors and per-project
// overrides in the quota table.
type QuotaConfig struct {
	MaxArtifactNumber int64
	MaxUploadedData   int64
}

// RateLimitConfig holds Redis-backed request rate limits. Limits are
// requests per window; disabled entirely when Enabled is false.
type RateLimitConfig struct {
	Enabled     bool
	GlobalLimit int64
	TenantLimit int64
	WindowSec   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			PprofPort:   getEnvInt("PPROF_PORT", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "registry"),
			User:        getEnv("POSTGRES_USER", "registry"),
			Password:    getEnv("POSTGRES_PASSWORD", "registry"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			Backend:    getEnv("LOCK_BACKEND", "sql"),
			StaleAfter: getEnvDuration("LOCK_STALE_AFTER", 5*time.Second),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", "database"),
			S3Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			S3Bucket:    getEnv("S3_BUCKET", "registry-blobs"),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3UseSSL:    getEnvBool("S3_USE_SSL", false),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", time.Minute),
		},
		Quota: QuotaConfig{
			MaxArtifactNumber: getEnvInt64("MAX_ARTIFACT_NUMBER", -1),
			MaxUploadedData:   getEnvInt64("MAX_UPLOADED_DATA", -1),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvBool("RATE_LIMIT_ENABLED", false),
			GlobalLimit: getEnvInt64("RATE_LIMIT_GLOBAL", 10000),
			TenantLimit: getEnvInt64("RATE_LIMIT_TENANT", 600),
			WindowSec:   getEnvInt("RATE_LIMIT_WINDOW_SEC", 60),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	switch c.Lock.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %s", c.Lock.Backend)
	}

	switch c.Store.Backend {
	case "database", "s3":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
