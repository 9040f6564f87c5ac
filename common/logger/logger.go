package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with contextual fields
type Logger struct {
	*slog.Logger
}

// New creates a new logger
func New(level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	default:
		// Colored console output for development
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// With returns a logger with additional fields
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithArtifact adds artifact_id to logger context
func (l *Logger) WithArtifact(artifactID string) *Logger {
	return &Logger{Logger: l.Logger.With("artifact_id", artifactID)}
}

// WithTenant adds tenant_id to logger context
func (l *Logger) WithTenant(tenantID string) *Logger {
	return &Logger{Logger: l.Logger.With("tenant_id", tenantID)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
