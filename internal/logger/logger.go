// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context, optionally teed
// into a size-rotated file, and propagates cycle trace IDs through
// context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options configures Setup.
type Options struct {
	Level      slog.Level
	File       string // empty: stdout only
	MaxSizeMB  int64
	MaxBackups int
}

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New builds a JSON logger on w and installs it as the slog default.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// Setup is Init plus an optional rotating log file. The standard library
// logger used for boot messages is pointed at the same writers. The
// returned closer releases the file.
func Setup(service string, opts Options) (*slog.Logger, io.Closer) {
	if opts.File == "" {
		return Init(service, opts.Level), io.NopCloser(nil)
	}
	rot, err := NewRotator(opts.File, opts.MaxSizeMB, opts.MaxBackups)
	if err != nil {
		log.Printf("[logger] failed to open log file, using stdout only: %v", err)
		return Init(service, opts.Level), io.NopCloser(nil)
	}
	w := io.MultiWriter(os.Stdout, rot)
	log.SetOutput(w)
	return New(w, service, opts.Level), rot
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from an instrument and timestamp.
// Format: "{instrument}-{unixNano}".
func GenerateTraceID(instrument string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", instrument, ts.UnixNano())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
