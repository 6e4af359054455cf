package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with polyfit field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger on handler; nil means a text handler on stderr at info.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewTextLogger(io.Discard, slog.Level(1000))
}

// FromConfig builds a stderr logger from the log section of the config.
func FromConfig(level, format string) *Logger {
	lv := ParseLevel(level)
	if format == "json" {
		return NewJSONLogger(os.Stderr, lv)
	}
	return NewTextLogger(os.Stderr, lv)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithComponent tags every record with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func (l *Logger) WithSet(name string) *Logger {
	return &Logger{Logger: l.Logger.With("set", name)}
}

// LogSolve logs one interpolation.
func (l *Logger) LogSolve(ctx context.Context, points, degree int, err error) {
	if err != nil {
		l.WarnContext(ctx, "interpolation rejected",
			"points", points,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "interpolation completed",
		"points", points,
		"degree", degree,
	)
}

// LogCheckpoint logs a journal checkpoint into the backend.
func (l *Logger) LogCheckpoint(ctx context.Context, sets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"sets", sets,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "checkpoint completed",
		"sets", sets,
	)
}

// LogRecovery logs startup replay.
func (l *Logger) LogRecovery(ctx context.Context, sets, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "journal recovery failed",
			"sets", sets,
			"entries_replayed", entriesReplayed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "journal recovery completed",
		"sets", sets,
		"entries_replayed", entriesReplayed,
	)
}
