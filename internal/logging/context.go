package logging

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// Component derives a logger tagged with a component name.
// Params: base logger (nil falls back to slog.Default) and component name.
// Returns: child logger.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}

// IntoContext stores a request-scoped logger.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the request-scoped logger or fallback.
// Params: context and fallback logger.
// Returns: logger carrying request attributes when present.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback == nil {
		return slog.Default()
	}
	return fallback
}
