// Package logging provides the structured logger shared by the catalog cache
// components. It wraps log/slog so every component logs with the same field
// names and so a nil or no-op logger is always safe to call.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

// LogLevelDebug represents debug logging level
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger provides structured logging for the cache system.
// A nil *Logger discards everything.
type Logger struct {
	impl loggerImpl
}

type loggerImpl interface {
	log(ctx context.Context, level slog.Level, msg string, args ...any)
	with(args ...any) loggerImpl
}

// LogConfig holds configuration for the cache logger.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level LogLevel
	// EnableCallerInfo includes file and line number in logs
	EnableCallerInfo bool
	// JSON switches the handler from text to JSON output
	JSON bool
	// Output is where log lines are written. Defaults to stderr.
	Output io.Writer
}

// DefaultLogConfig returns a default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return FromSlog(slog.New(handler))
}

// FromSlog adapts an existing *slog.Logger.
func FromSlog(logger *slog.Logger) *Logger {
	if logger == nil {
		return NewNopLogger()
	}
	return &Logger{impl: &slogLogger{logger: logger}}
}

// NewNopLogger creates a no-op logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{impl: nopLogger{}}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil || l.impl == nil {
		return
	}
	l.impl.log(ctx, level, msg, args...)
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.impl == nil {
		return l
	}
	if _, ok := l.impl.(nopLogger); ok {
		return l
	}
	return &Logger{impl: l.impl.with(args...)}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(operation Operation) *Logger {
	return l.With("operation", string(operation))
}

// WithKey returns a logger with cache key context
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// WithNamespace returns a logger with storage namespace context
func (l *Logger) WithNamespace(namespace string) *Logger {
	return l.With("namespace", namespace)
}

// WithSelector returns a logger with source selector context
func (l *Logger) WithSelector(selector string) *Logger {
	return l.With("selector", selector)
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	l.logger.Log(ctx, level, msg, args...)
}

func (l *slogLogger) with(args ...any) loggerImpl {
	return &slogLogger{logger: l.logger.With(args...)}
}

type nopLogger struct{}

func (nopLogger) log(context.Context, slog.Level, string, ...any) {}
func (n nopLogger) with(...any) loggerImpl                         { return n }

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Operation represents different types of cache operations for logging.
type Operation string

// Operation constants for cache operations
const (
	OpStoreRead   Operation = "store_read"
	OpStoreWrite  Operation = "store_write"
	OpStoreRemove Operation = "store_remove"
	OpGetImage    Operation = "get_image"
	OpPutImage    Operation = "put_image"
	OpFetchImage  Operation = "fetch_image"
	OpClearImage  Operation = "clear_image"
	OpLoadItems   Operation = "load_items"
	OpSaveItems   Operation = "save_items"
	OpClearItems  Operation = "clear_items"
	OpRefresh     Operation = "refresh"
	OpPrefetch    Operation = "prefetch"
	OpFetchItems  Operation = "fetch_items"
)

// LogCacheOperation logs a cache operation with performance metrics.
func LogCacheOperation(
	ctx context.Context,
	logger *Logger,
	operation Operation,
	duration time.Duration,
	success bool,
	size int64,
	err error,
) {
	if logger == nil {
		return
	}

	fields := []any{
		"operation", string(operation),
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}

	if size > 0 {
		fields = append(fields, "size", size)
	}

	if err != nil {
		fields = append(fields, "error", err.Error())
	}

	if success {
		logger.Debug(ctx, "cache operation completed", fields...)
	} else {
		logger.Warn(ctx, "cache operation failed", fields...)
	}
}

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, operation Operation, tier string, size int64) {
	logger.Debug(ctx, "cache hit",
		"operation", string(operation),
		"tier", tier,
		"size", size,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, operation Operation, reason string) {
	logger.Debug(ctx, "cache miss",
		"operation", string(operation),
		"reason", reason,
		"result", "miss")
}

// LogEviction logs an eviction event.
func LogEviction(ctx context.Context, logger *Logger, key string, size int64, reason string) {
	logger.Debug(ctx, "cache entry evicted",
		"key", key,
		"size", size,
		"reason", reason)
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
