package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/queryops/query"
)

// StoreCheckerConfig configures the store health checker.
type StoreCheckerConfig struct {
	// KeyPrefix namespaces probe keys away from real cache entries.
	// Default: "health:probe"
	KeyPrefix string

	// SlowThreshold marks the store degraded when the probe round-trip
	// takes longer than this. Default: 250ms
	SlowThreshold time.Duration
}

// StoreChecker verifies a cache store by writing, reading back, and deleting
// a probe entry. A store that completes the round-trip slowly is degraded; a
// store that loses or corrupts the probe is unhealthy.
type StoreChecker struct {
	config StoreCheckerConfig
	store  query.Store
	seq    atomic.Uint64
}

// NewStoreChecker creates a new store health checker.
func NewStoreChecker(store query.Store, config StoreCheckerConfig) *StoreChecker {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "health:probe"
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = 250 * time.Millisecond
	}

	return &StoreChecker{config: config, store: store}
}

// Name returns the name of this checker.
func (c *StoreChecker) Name() string {
	return "store"
}

// Check performs the store round-trip probe.
func (c *StoreChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	key := fmt.Sprintf("%s:%d", c.config.KeyPrefix, c.seq.Add(1))
	probe := query.Entry{
		Path:      "health.probe",
		Kind:      query.KindQuery,
		Data:      json.RawMessage(`{"probe":true}`),
		Status:    query.StatusSuccess,
		UpdatedAt: time.Now(),
	}

	start := time.Now()

	if err := c.store.Set(ctx, key, probe); err != nil {
		return Unhealthy("probe write failed", err)
	}

	got, ok := c.store.Get(ctx, key)
	if !ok {
		_ = c.store.Delete(ctx, key)
		return Unhealthy("probe read missed", ErrCheckFailed)
	}
	if !bytes.Equal(got.Data, probe.Data) {
		_ = c.store.Delete(ctx, key)
		return Unhealthy("probe data mismatch", ErrCheckFailed)
	}

	if err := c.store.Delete(ctx, key); err != nil {
		return Unhealthy("probe delete failed", err)
	}

	elapsed := time.Since(start)

	details := map[string]any{
		"round_trip_ms": float64(elapsed.Microseconds()) / 1000,
	}

	if elapsed >= c.config.SlowThreshold {
		return Degraded(
			fmt.Sprintf("store slow: round-trip took %v", elapsed),
		).WithDetails(details)
	}

	return Healthy("store round-trip ok").WithDetails(details)
}

// Info reports the number of stored keys. Stores without key enumeration
// report no details.
func (c *StoreChecker) Info(ctx context.Context) (map[string]any, error) {
	lister, ok := c.store.(query.KeyLister)
	if !ok {
		return map[string]any{}, nil
	}

	keys, err := lister.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"keys": len(keys)}, nil
}

var _ InfoChecker = (*StoreChecker)(nil)
