package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the component name celeris's tracing.go convention uses as
// the otel.Tracer key.
const tracerName = "github.com/hexinfra/httptxn"

// Tracer returns the package-wide tracer. One span is started per
// transaction (StartTransactionSpan) and ended at detach.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTransactionSpan starts a span named for the transaction's direction,
// tagged with its stream id, following celeris's span-per-unit-of-work
// shape (one span per request/response exchange).
func StartTransactionSpan(ctx context.Context, direction string, streamID uint32) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "httptxn.transaction",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("txn.direction", direction),
			attribute.Int64("txn.stream_id", int64(streamID)),
		),
	)
}
