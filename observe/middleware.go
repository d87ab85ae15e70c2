package observe

import (
	"context"
	"encoding/json"
	"time"
)

// FetchExec executes a remote fetch for a query. Middleware wraps values of
// this type.
type FetchExec func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Middleware ties tracing, metrics, and logging to query cache events.
//
// Contract:
//   - Concurrency: WrapFetch() returns a thread-safe FetchExec.
//   - Context: the span context is propagated into the wrapped fetch.
//   - Errors: fetch errors are recorded and returned unchanged.
//   - Ownership: inputs and results pass through unmodified.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware assembles a Middleware from the three primitives.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NewNoopMiddleware creates a Middleware that records nothing. Useful as a
// default when no Observer is configured.
func NewNoopMiddleware() *Middleware {
	return NewMiddleware(newNoopTracer(), &noopMetrics{}, &noopLogger{})
}

// WrapFetch instruments a remote fetch with a span, a duration metric, and a
// completion log record.
func (m *Middleware) WrapFetch(meta QueryMeta, fn FetchExec) FetchExec {
	// The scoped logger is immutable, so build it once per wrap rather
	// than once per fetch.
	queryLogger := m.logger.WithQuery(meta)

	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx, input)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)
		m.metrics.RecordFetch(ctx, meta, duration, err)

		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			queryLogger.Error(ctx, "query fetch failed", fields...)
		} else {
			queryLogger.Info(ctx, "query fetch completed", fields...)
		}

		return result, err
	}
}

// Lookup records a cache lookup result.
func (m *Middleware) Lookup(ctx context.Context, meta QueryMeta, hit bool) {
	m.metrics.RecordLookup(ctx, meta, hit)
}

// Coalesced records a caller served by a shared in-flight fetch.
func (m *Middleware) Coalesced(ctx context.Context, meta QueryMeta) {
	m.metrics.RecordCoalesced(ctx, meta)
	m.logger.WithQuery(meta).Debug(ctx, "query fetch coalesced")
}

// Cancelled records a cancelled in-flight fetch.
func (m *Middleware) Cancelled(ctx context.Context, meta QueryMeta) {
	m.metrics.RecordCancel(ctx, meta)
	m.logger.WithQuery(meta).Debug(ctx, "query fetch cancelled")
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// MiddlewareFromObserver wires a Middleware to an Observer's tracer, meter,
// and logger.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	tracer := newTracer(obs.Tracer())

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}
