package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithSpan runs fn inside a new span of tracer and records its error. A nil
// tracer uses the global one.
func WithSpan(ctx context.Context, tracer trace.Tracer, spanName string, fn func(context.Context, trace.Span) error, opts ...trace.SpanStartOption) error {
	if tracer == nil {
		tracer = GetTracer()
	}
	ctx, span := tracer.Start(ctx, spanName, opts...)
	defer span.End()

	if err := fn(ctx, span); err != nil {
		RecordError(span, err)
		return err
	}
	return nil
}

// RecordError records err on span, marks the span failed and tags the error
// type.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}

// AddEvent adds an event to a span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// LogWithTrace prefixes message with the trace and span IDs found in ctx.
func LogWithTrace(ctx context.Context, message string) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return message
	}
	return fmt.Sprintf("[trace_id=%s span_id=%s] %s", sc.TraceID(), sc.SpanID(), message)
}
