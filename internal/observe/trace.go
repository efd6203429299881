package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wordtetris/pronounce"

// Span names and attribute keys of the speech spans. A speak span is the
// parent of its attempt spans; probe spans hang off whatever started the
// probe cycle.
const (
	SpanSpeak   = "pronounce.speak"
	SpanAttempt = "pronounce.attempt"
	SpanProbe   = "pronounce.probe"

	AttrProvider    = "pronounce.provider"
	AttrKind        = "pronounce.kind"
	AttrStatus      = "pronounce.status"
	AttrUtteranceID = "pronounce.utterance_id"
)

// tracer returns the pronounce tracer from the global provider. It is looked
// up on every call so a provider installed later still takes effect.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it, usually with
// [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, opts...)
}

// EndSpan ends span, marking it failed when err is non-nil. Context
// cancellation is recorded as an event rather than an error status, since a
// superseded utterance is not a fault.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("canceled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The HTTP API echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
