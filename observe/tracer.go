package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// QueryMeta identifies a query operation in telemetry output.
type QueryMeta struct {
	Path string // procedure path, required
	Op   string // fetch, ensure, prefetch, refetch, invalidate, cancel, reset
	Kind string // query or infinite
}

// op returns the operation name, defaulting to fetch.
func (m QueryMeta) op() string {
	if m.Op == "" {
		return "fetch"
	}
	return m.Op
}

// SpanName returns the span name in the form query.<op>.<path>.
func (m QueryMeta) SpanName() string {
	return "query." + m.op() + "." + m.Path
}

// Validate checks that the metadata carries the required fields.
func (m QueryMeta) Validate() error {
	if m.Path == "" {
		return ErrMissingPath
	}
	return nil
}

// Tracer manages spans around query operations.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: StartSpan derives the span context from ctx without blocking.
// - Errors: EndSpan is best-effort and never panics.
type Tracer interface {
	// StartSpan opens a span named after the query operation.
	StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span)

	// EndSpan closes the span, recording err when non-nil.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

var _ Tracer = (*tracerImpl)(nil)

func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("query.path", meta.Path),
		attribute.String("query.op", meta.op()),
		attribute.Bool("query.error", false),
	}
	if meta.Kind != "" {
		attrs = append(attrs, attribute.String("query.kind", meta.Kind))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan flips query.error and records the error on failed fetches.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		span.End()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("query.error", true))
	span.End()
}

// noopTracer hands out spans from a discarding provider so callers always
// hold a valid span.
type noopTracer struct {
	tracer trace.Tracer
}

var _ Tracer = (*noopTracer)(nil)

func newNoopTracer() Tracer {
	return &noopTracer{tracer: tracenoop.NewTracerProvider().Tracer("queryops")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
