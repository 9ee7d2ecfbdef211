// Package logging builds the process logger and carries request scoped
// loggers through contexts.
package logging

import (
	"context"
	"io"
	"log/slog"
)

type contextKey struct{}

// New returns the root logger: JSON lines on w at level, every record
// tagged with service.
func New(w io.Writer, level slog.Leveler, service string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ContextWithLogger returns a derived context that carries logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts a logger previously attached to the context.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(contextKey{}).(*slog.Logger)
	return logger
}

// WithAttrs derives a logger from the one in ctx, or from fallback when ctx
// has none, and stores it back in the returned context.
func WithAttrs(ctx context.Context, fallback *slog.Logger, attrs ...any) (context.Context, *slog.Logger) {
	base := FromContext(ctx)
	if base == nil {
		base = fallback
	}
	if base == nil {
		base = slog.Default()
	}
	logger := base.With(attrs...)
	return ContextWithLogger(ctx, logger), logger
}
