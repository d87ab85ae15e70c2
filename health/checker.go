package health

import (
	"context"
	"time"
)

// Checker probes one dependency of the query stack, such as a cache
// store or a procedure client.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Check must honor cancellation and deadlines.
// - Errors: a failed probe is reported through Result, not a panic.
type Checker interface {
	// Name identifies the probed dependency.
	Name() string

	// Check probes the dependency once and reports the outcome.
	Check(ctx context.Context) Result
}

// PingChecker is a Checker whose dependency supports a cheap
// reachability probe.
type PingChecker interface {
	Checker

	// Ping reports whether the dependency is reachable.
	Ping(ctx context.Context) error
}

// InfoChecker is a Checker that can describe its dependency beyond
// pass/fail, for example a store's key count.
type InfoChecker interface {
	Checker

	// Info returns diagnostic details about the dependency.
	Info(ctx context.Context) (map[string]any, error)
}

// CheckerFunc adapts a plain function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc wraps fn as a named Checker.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string { return f.name }

func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// Status classifies the outcome of a probe. Severity increases with the
// numeric value, so aggregation can take the maximum across probes.
type Status int

const (
	// StatusHealthy means the dependency answered normally.
	StatusHealthy Status = iota
	// StatusDegraded means the dependency answered but outside its
	// expected envelope, for example slower than the configured threshold.
	StatusDegraded
	// StatusUnhealthy means the dependency failed to answer correctly.
	StatusUnhealthy
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy"}

// String returns the lowercase name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Result is the outcome of one probe.
type Result struct {
	// Status classifies the outcome.
	Status Status

	// Message is a short human-readable summary.
	Message string

	// Details carries probe-specific metadata, such as round-trip times.
	Details map[string]any

	// Duration is how long the probe took.
	Duration time.Duration

	// Timestamp is when the probe ran.
	Timestamp time.Time

	// Error is the underlying failure, if any.
	Error error
}

func newResult(status Status, message string, err error) Result {
	return Result{
		Status:    status,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// Healthy builds a passing result.
func Healthy(message string) Result {
	return newResult(StatusHealthy, message, nil)
}

// Degraded builds a result for a dependency that works but is impaired.
func Degraded(message string) Result {
	return newResult(StatusDegraded, message, nil)
}

// Unhealthy builds a failing result carrying the underlying error.
func Unhealthy(message string, err error) Result {
	return newResult(StatusUnhealthy, message, err)
}

// WithDetails returns a copy of the result with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns a copy of the result with the duration set.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}
