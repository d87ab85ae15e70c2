package health

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a full CheckAll pass when no timeout is
// configured.
const DefaultCheckTimeout = 10 * time.Second

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the deadline for a full CheckAll pass.
	// Default: DefaultCheckTimeout
	Timeout time.Duration

	// Parallel runs probes concurrently when true.
	// Default: true
	Parallel bool
}

// Aggregator runs a registered set of checkers and folds their results
// into one composite status for readiness and health endpoints.
type Aggregator struct {
	config AggregatorConfig

	mu     sync.RWMutex
	byName map[string]Checker
	names  []string // registration order
}

// NewAggregator creates an aggregator. With no config, probes run in
// parallel under DefaultCheckTimeout.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{
		Timeout:  DefaultCheckTimeout,
		Parallel: true,
	}
	if len(config) > 0 {
		cfg = config[0]
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultCheckTimeout
		}
	}

	return &Aggregator{
		config: cfg,
		byName: make(map[string]Checker),
	}
}

// Register adds a checker under the given name. Registering an existing
// name replaces the checker and keeps its position.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byName[name]; !exists {
		a.names = append(a.names, name)
	}
	a.byName[name] = checker
}

// Unregister removes the named checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byName[name]; !exists {
		return
	}
	delete(a.byName, name)

	if i := slices.Index(a.names, name); i >= 0 {
		a.names = slices.Delete(a.names, i, i+1)
	}
}

// CheckerNames returns registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return slices.Clone(a.names)
}

// Check runs the named probe. Returns ErrCheckerNotFound for unknown
// names.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.byName[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	return a.probe(ctx, checker), nil
}

// CheckAll runs every registered probe and returns results keyed by
// name. The whole pass shares one deadline from the configured Timeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	names := slices.Clone(a.names)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = a.byName[name]
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(names))
	if len(names) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if a.config.Parallel {
		// Each goroutine owns one slot, so no result lock is needed.
		slots := make([]Result, len(names))
		var wg sync.WaitGroup
		for i, checker := range checkers {
			wg.Add(1)
			go func(i int, checker Checker) {
				defer wg.Done()
				slots[i] = a.probe(ctx, checker)
			}(i, checker)
		}
		wg.Wait()

		for i, name := range names {
			results[name] = slots[i]
		}
		return results
	}

	for i, name := range names {
		results[name] = a.probe(ctx, checkers[i])
	}
	return results
}

// OverallStatus folds a result set into the worst observed status. An
// empty set is healthy.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	worst := StatusHealthy
	for _, result := range results {
		if result.Status > worst {
			worst = result.Status
		}
	}
	return worst
}

// probe runs one checker in its own goroutine so that a checker which
// ignores its context cannot stall the whole pass.
func (a *Aggregator) probe(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		r := checker.Check(ctx)
		r.Duration = time.Since(start)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
	}

	return Result{
		Status:    StatusUnhealthy,
		Message:   "check timed out",
		Error:     ErrCheckTimeout,
		Duration:  time.Since(start),
		Timestamp: start,
	}
}

// Checker exposes the aggregator itself as a single composite Checker,
// so one aggregator can feed into another.
func (a *Aggregator) Checker() Checker {
	return &aggregatorChecker{agg: a}
}

type aggregatorChecker struct {
	agg *Aggregator
}

func (c *aggregatorChecker) Name() string { return "aggregate" }

var compositeMessages = map[Status]string{
	StatusHealthy:   "all checks passed",
	StatusDegraded:  "some checks degraded",
	StatusUnhealthy: "some checks failed",
}

func (c *aggregatorChecker) Check(ctx context.Context) Result {
	results := c.agg.CheckAll(ctx)
	status := c.agg.OverallStatus(results)

	details := make(map[string]any, len(results))
	for name, result := range results {
		entry := map[string]any{
			"status":   result.Status.String(),
			"message":  result.Message,
			"duration": result.Duration.String(),
		}
		if result.Error != nil {
			entry["error"] = result.Error.Error()
		}
		details[name] = entry
	}

	return Result{
		Status:    status,
		Message:   compositeMessages[status],
		Details:   details,
		Timestamp: time.Now(),
	}
}
