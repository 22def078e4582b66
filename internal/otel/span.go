// Package otel provides OpenTelemetry span helpers for the boot sequence.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/hms-server/internal/fault"
)

// Attribute keys shared by boot spans.
const (
	AttrBootPhase     = attribute.Key("boot.phase")
	AttrModelName     = attribute.Key("schema.model")
	AttrTableName     = attribute.Key("schema.table")
	AttrSyncOutcome   = attribute.Key("schema.outcome")
	AttrFaultClass    = attribute.Key("fault.class")
	AttrFaultSeverity = attribute.Key("fault.severity")
	AttrLockBackend   = attribute.Key("lock.backend")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed. Classified
// errors also set the fault attributes. The status description is kept generic
// so SQL text and connection details only appear in the exception event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	if class := fault.ClassOf(err); class != fault.ClassUnknown {
		severity := fault.Recoverable
		if fault.IsFatal(err) {
			severity = fault.Fatal
		}
		span.SetAttributes(AttrFaultClass.String(class.String()), AttrFaultSeverity.String(severity.String()))
	}
	span.SetStatus(codes.Error, "operation failed")
}
