// Package logging configures log/slog and carries request- and batch-scoped
// loggers through contexts.
//
// A logger taken from a request context includes chi's request_id; one
// attached with WithBatch also carries batch_id, parser and group_id so
// every line of a run can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// Setup configures the global slog logger to write to stdout.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New creates a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewContext returns a context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx. Without one it returns
// the default logger, with chi's request id added as request_id.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithBatch attaches a run-scoped logger to ctx and returns both.
//
//	ctx, log := logging.WithBatch(ctx, batchID, "csv", groupID)
//	log.Info("batch started", "items", n)
func WithBatch(ctx context.Context, batchID, parser, groupID string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(
		"batch_id", batchID,
		"parser", parser,
		"group_id", groupID,
	)
	return NewContext(ctx, logger), logger
}
