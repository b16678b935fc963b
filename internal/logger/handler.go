package logger

import (
	"context"
	"log/slog"

	"github.com/anasrobo/research-agent/internal/middleware"
)

// ContextHandler decorates log records with the correlation id carried by the
// context, when present. Background pipeline runs seed the context with the
// task id so their records correlate the same way request handlers do.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
