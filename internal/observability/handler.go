package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
)

// TracingHandler decorates an [slog.Handler] with the ids of the span active
// on the record's context, so log lines join up with their tick span. The
// service name is attached to the wrapped handler once, which keeps it
// top-level no matter how callers group.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner. An empty service name attaches nothing.
func NewTracingHandler(inner slog.Handler, service string) *TracingHandler {
	if service != "" {
		inner = inner.WithAttrs([]slog.Attr{slog.String(attrService, service)})
	}

	return &TracingHandler{inner: inner}
}

// Enabled delegates to the wrapped handler.
func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle stamps the record with trace and span ids when ctx carries a valid
// span context, then hands it to the wrapped handler.
func (h *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	handleErr := h.inner.Handle(ctx, record)
	if handleErr != nil {
		return fmt.Errorf("emit record: %w", handleErr)
	}

	return nil
}

// WithAttrs wraps the attribute-extended inner handler.
func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup wraps the group-scoped inner handler.
func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: h.inner.WithGroup(name)}
}
