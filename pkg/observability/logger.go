// Package observability provides structured logging, metrics collection,
// and health checks for nekosync.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogFormat selects the log output encoding.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogLevel is the minimum severity that gets logged.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig configures the logger.
type LogConfig struct {
	Level  LogLevel
	Format LogFormat
	// Output defaults to os.Stderr so log lines never mix with command
	// output on stdout.
	Output    io.Writer
	AddSource bool
	// ServiceName and ServiceVersion are stamped on every record.
	ServiceName    string
	ServiceVersion string
}

// DefaultLogConfig is tuned for interactive use: text on stderr at info.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelInfo,
		Format:         LogFormatText,
		Output:         os.Stderr,
		ServiceName:    "nekosync",
		ServiceVersion: "dev",
	}
}

// ProductionLogConfig is tuned for the watch daemon under a supervisor:
// JSON with source locations.
func ProductionLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelInfo,
		Format:         LogFormatJSON,
		Output:         os.Stdout,
		AddSource:      true,
		ServiceName:    "nekosync",
		ServiceVersion: "unknown",
	}
}

// NewLogger builds a slog.Logger from cfg. Records carry the service
// attributes plus any correlation and request IDs found on the context.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseSlogLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var inner slog.Handler
	if cfg.Format == LogFormatJSON {
		inner = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		inner = slog.NewTextHandler(cfg.Output, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", cfg.ServiceVersion))
	}

	return slog.New(&contextHandler{inner: inner, attrs: attrs})
}

// LoggerFromEnv builds a logger from the environment:
//
//	APP_ENV=production     switch to the production defaults
//	LOG_LEVEL              debug, info, warn, error
//	NEKOSYNC_LOG_FORMAT    text or json
//	NEKOSYNC_VERSION       stamped as the version attribute
func LoggerFromEnv() *slog.Logger {
	cfg := DefaultLogConfig()
	if os.Getenv("APP_ENV") == "production" {
		cfg = ProductionLogConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if format := os.Getenv("NEKOSYNC_LOG_FORMAT"); format != "" {
		cfg.Format = LogFormat(format)
	}
	if version := os.Getenv("NEKOSYNC_VERSION"); version != "" {
		cfg.ServiceVersion = version
	}
	return NewLogger(cfg)
}

func parseSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler stamps service attributes on every record and lifts
// correlation and request IDs out of the context.
type contextHandler struct {
	inner slog.Handler
	attrs []slog.Attr
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	if id := CorrelationIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(RequestIDKey, id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs), attrs: h.attrs}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name), attrs: h.attrs}
}
