package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and fetch activity for query operations.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: Record calls return quickly and never block on export.
// - Errors: Record calls never panic.
type Metrics interface {
	// RecordFetch records a remote fetch with duration and error status.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error)

	// RecordLookup records a cache lookup and whether it was served fresh.
	RecordLookup(ctx context.Context, meta QueryMeta, hit bool)

	// RecordCoalesced records a caller served by a shared in-flight fetch.
	RecordCoalesced(ctx context.Context, meta QueryMeta)

	// RecordCancel records a cancelled in-flight fetch.
	RecordCancel(ctx context.Context, meta QueryMeta)
}

type metricsImpl struct {
	meter          metric.Meter
	fetchCount     metric.Int64Counter
	errorCount     metric.Int64Counter
	durationHist   metric.Float64Histogram
	lookupCount    metric.Int64Counter
	coalescedCount metric.Int64Counter
	cancelCount    metric.Int64Counter
}

var _ Metrics = (*metricsImpl)(nil)

// newMetrics registers the query instruments on meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit),
		)
		return c
	}

	m := &metricsImpl{meter: meter}
	m.fetchCount = counter("query.fetch.total", "Remote fetches", "{call}")
	m.errorCount = counter("query.fetch.errors", "Remote fetch errors", "{error}")
	m.lookupCount = counter("query.cache.lookups", "Cache lookups by result", "{lookup}")
	m.coalescedCount = counter("query.fetch.coalesced", "Callers served by a shared in-flight fetch", "{caller}")
	m.cancelCount = counter("query.fetch.cancelled", "Cancelled in-flight fetches", "{fetch}")
	if err != nil {
		return nil, err
	}

	m.durationHist, err = meter.Float64Histogram("query.fetch.duration_ms",
		metric.WithDescription("Remote fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// attrs keeps series cardinality down by skipping unset meta fields.
func (m *metricsImpl) attrs(meta QueryMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.path", meta.Path),
	}
	if meta.Op != "" {
		attrs = append(attrs, attribute.String("query.op", meta.Op))
	}
	if meta.Kind != "" {
		attrs = append(attrs, attribute.String("query.kind", meta.Kind))
	}
	return attrs
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(m.attrs(meta)...)

	m.fetchCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta QueryMeta, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := append(m.attrs(meta), attribute.String("query.result", result))
	m.lookupCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordCoalesced(ctx context.Context, meta QueryMeta) {
	m.coalescedCount.Add(ctx, 1, metric.WithAttributes(m.attrs(meta)...))
}

func (m *metricsImpl) RecordCancel(ctx context.Context, meta QueryMeta) {
	m.cancelCount.Add(ctx, 1, metric.WithAttributes(m.attrs(meta)...))
}

// noopMetrics discards every record call.
type noopMetrics struct{}

var _ Metrics = (*noopMetrics)(nil)

func (m *noopMetrics) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordLookup(ctx context.Context, meta QueryMeta, hit bool) {}
func (m *noopMetrics) RecordCoalesced(ctx context.Context, meta QueryMeta)        {}
func (m *noopMetrics) RecordCancel(ctx context.Context, meta QueryMeta)           {}
