package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer adapts an OpenTelemetry tracer to the Tracer contract. The
// agent's worker loops start a span per step and per synth call, and the
// task runner one per task run; the spans carry only their name, and
// AddEvent drops its attributes.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer builds a Tracer backed by the named OpenTelemetry tracer.
func NewOTelTracer(instrumentationName string) Tracer {
	return OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

// Start begins a span and returns the updated context plus a Span handle.
func (t OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}
