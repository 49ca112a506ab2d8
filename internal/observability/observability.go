// Package observability wires structured logging and tracing for lanekeeper.
// Logs go to stderr through a handler that injects OpenTelemetry trace
// context, so a tick's log lines correlate with its spans.
package observability

import (
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for lanekeeper spans.
const tracerName = "lanekeeper"

// Options controls logger construction.
type Options struct {
	// Level is a slog level name: debug, info, warn, error.
	Level string
	// JSON selects the JSON handler instead of text.
	JSON bool
	// Service is attached to every record.
	Service string
}

// Tracer returns the lanekeeper tracer from the global provider. Without a
// configured SDK this is a no-op tracer with zero overhead.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// NewLogger builds the process logger per opts.
func NewLogger(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var inner slog.Handler
	if opts.JSON {
		inner = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return slog.New(NewTracingHandler(inner, opts.Service))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
