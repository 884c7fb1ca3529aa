// Package telemetry provides the span helpers used around loop steps. Spans
// go to the globally registered tracer provider, which is a no-op unless the
// host installs one.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/martinemde/planwright"

// Common attribute keys.
const (
	AttrRunID       = attribute.Key("planwright.run_id")
	AttrPhase       = attribute.Key("planwright.phase")
	AttrState       = attribute.Key("planwright.state")
	AttrCycle       = attribute.Key("research.cycle")
	AttrRejections  = attribute.Key("research.rejections")
	AttrTaskIdx     = attribute.Key("execution.task_idx")
	AttrAtomicIdx   = attribute.Key("execution.atomic_task_idx")
	AttrAttempt     = attribute.Key("execution.attempt")
	AttrFilePath    = attribute.Key("execution.file_path")
	AttrFailureKind = attribute.Key("failure.kind")
)

// Tracer returns the named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentation + "/" + component)
}

// StartSpan starts a span on the component's tracer.
func StartSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(component).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, sets the status and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddEvent adds an event to the span in ctx, if it is recording.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// TraceID returns the trace ID of the span in ctx.
func TraceID(ctx context.Context) string {
	return trace.SpanFromContext(ctx).SpanContext().TraceID().String()
}
