// Package observability wires the ambient logging/tracing/metrics stack:
// zerolog structured logging (grounded on tracing/logging.go), OpenTelemetry
// tracing (grounded on otel/init.go), and Prometheus metrics (grounded on
// tracing/metrics.go).
package observability

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds a JSON structured logger tagged with a service name, the
// way tracing/logging.go's NewLogger configures zerolog.
func NewLogger(writer io.Writer, serviceName string) zerolog.Logger {
	if writer == nil {
		writer = os.Stdout
	}
	return zerolog.New(writer).With().Timestamp().Str("service", serviceName).Logger()
}

// NewConsoleLogger builds a human-readable logger for local development,
// mirroring tracing/logging.go's NewConsoleLogger.
func NewConsoleLogger(serviceName string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID stashes a correlation ID on the context, the way
// tracing/logging.go's ContextWithTraceIDs does for request-scoped IDs —
// here scoped to one scheduler task run.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// LoggerFromContext returns a logger annotated with the context's
// correlation ID, if any.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		return base.With().Str("correlation_id", id).Logger()
	}
	return base
}
