package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes the sync-run spans. HTTP server spans come from
// otelgin under its own scope.
const tracerName = "feedbridge"

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

// StartRunSpan opens the root span for one sync run. The caller owns
// span.End(); group spans nest under the returned context.
func StartRunSpan(ctx context.Context, mode, backend string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "sync.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run_mode", mode),
			attribute.String("run_backend", backend),
		),
	)
}

// StartGroupSpan opens a child span for reconciling one catalog group.
func StartGroupSpan(ctx context.Context, group string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "sync.group",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("group", group)),
	)
}

// SetGroupItems records how many feed rows the group contributed to the
// diff.
func SetGroupItems(span trace.Span, count int) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("items_count", count))
}

// SetRunTotals records the terminal counters on a run span so a trace
// alone answers what the run did.
func SetRunTotals(span trace.Span, created, updated, skipped, errs int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("created", created),
		attribute.Int("updated", updated),
		attribute.Int("skipped", skipped),
		attribute.Int("errors", errs),
	)
}

// MarkRunStopped notes an operator-initiated stop on the run span.
func MarkRunStopped(span trace.Span) {
	if span == nil {
		return
	}
	span.AddEvent("run_stopped")
}

// RecordError records err on the span and flips its status to error.
// Nil span or nil err is a no-op.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SpanFromContext returns the span carried by ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
