package anndata

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with anndata-specific helpers so every
// operation logs with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithContainer tags the logger with a container location.
func (l *Logger) WithContainer(location string) *Logger {
	return &Logger{
		Logger: l.Logger.With("container", location),
	}
}

// LogOpen logs opening or creating a container.
func (l *Logger) LogOpen(ctx context.Context, mode string, nObs, nVar int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"mode", mode,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "container opened",
			"mode", mode,
			"n_obs", nObs,
			"n_var", nVar,
		)
	}
}

// LogWrite logs a write of one element.
func (l *Logger) LogWrite(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"path", path,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"path", path,
		)
	}
}

// LogSubset logs a subset operation.
func (l *Logger) LogSubset(ctx context.Context, nObs, nVar, elements int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "subset failed",
			"n_obs", nObs,
			"n_var", nVar,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "subset completed",
			"n_obs", nObs,
			"n_var", nVar,
			"elements", elements,
		)
	}
}

// LogConcat logs an eager concatenation.
func (l *Logger) LogConcat(ctx context.Context, containers, nObs, nVar int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "concat failed",
			"containers", containers,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "concat completed",
			"containers", containers,
			"n_obs", nObs,
			"n_var", nVar,
		)
	}
}

// LogIndexRebuild logs a dataset row index rebuild.
func (l *Logger) LogIndexRebuild(ctx context.Context, containers, rows, cols int) {
	l.DebugContext(ctx, "dataset index rebuilt",
		"containers", containers,
		"rows", rows,
		"cols", cols,
	)
}

// LogImport logs a format import.
func (l *Logger) LogImport(ctx context.Context, source string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"source", source,
			"entries", entries,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"source", source,
			"entries", entries,
		)
	}
}
