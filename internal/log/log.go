// Package log provides structured logging for callsim.
// It wraps slog with sensible defaults for production use.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Sink receives every record that passes the level filter, alongside the
// normal output. The dashboard uses it to mirror log lines.
type Sink func(level, message string)

var sink atomic.Pointer[Sink]

// SetSink installs fn as the record mirror. Pass nil to detach.
func SetSink(fn Sink) {
	sink.Store(&fn)
}

// Init initializes the global logger with the specified level and format.
// Valid levels: "debug", "info", "warn", "error". Format is "json" or
// "text"; empty falls back to JSON when CALLSIM_ENV=production.
func Init(level, format string) {
	once.Do(func() {
		var lvl slog.Level
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			lvl = slog.LevelInfo
		}

		logger = slog.New(teeHandler{newHandler(os.Stdout, lvl, format)})
		slog.SetDefault(logger)
	})
}

func newHandler(w io.Writer, lvl slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	if format == "" && os.Getenv("CALLSIM_ENV") == "production" {
		format = "json"
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// teeHandler mirrors records to the sink before delegating.
type teeHandler struct {
	slog.Handler
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if fn := sink.Load(); fn != nil && *fn != nil {
		(*fn)(strings.ToLower(r.Level.String()), r.Message)
	}
	return h.Handler.Handle(ctx, r)
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{h.Handler.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{h.Handler.WithGroup(name)}
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info", "")
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
