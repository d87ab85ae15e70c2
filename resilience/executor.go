package resilience

import (
	"context"
	"time"
)

// stage is one resilience pattern in the execution chain. All five
// patterns implement it.
type stage interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Executor composes the configured resilience patterns around a fetch.
// Order, outermost first: rate limiter, bulkhead, circuit breaker,
// retry, timeout. Timeout sits innermost so its budget applies to each
// attempt rather than the whole retry loop.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor from the given options. An executor
// with no options runs fetches unwrapped.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker shields fetches behind cb.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry reruns failed fetch attempts through r.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter caps the fetch rate with rl.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead caps concurrent fetches with b.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout bounds each fetch attempt to the given duration.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// WithTimeoutConfig bounds each fetch attempt with a prebuilt Timeout.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// chain returns the configured stages, outermost first.
func (e *Executor) chain() []stage {
	stages := make([]stage, 0, 5)
	if e.rateLimiter != nil {
		stages = append(stages, e.rateLimiter)
	}
	if e.bulkhead != nil {
		stages = append(stages, e.bulkhead)
	}
	if e.circuitBreaker != nil {
		stages = append(stages, e.circuitBreaker)
	}
	if e.retry != nil {
		stages = append(stages, e.retry)
	}
	if e.timeout != nil {
		stages = append(stages, e.timeout)
	}
	return stages
}

// Execute runs op through every configured stage.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	run := op
	stages := e.chain()
	for i := len(stages) - 1; i >= 0; i-- {
		st, inner := stages[i], run
		run = func(ctx context.Context) error {
			return st.Execute(ctx, inner)
		}
	}
	return run(ctx)
}
