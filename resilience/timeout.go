package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultAttemptTimeout bounds one fetch attempt when no timeout is
// configured.
const DefaultAttemptTimeout = 30 * time.Second

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for one fetch attempt.
	// Default: DefaultAttemptTimeout
	Timeout time.Duration
}

// Timeout wraps fetch attempts with a deadline. A timed-out attempt
// returns ErrTimeout, which the default retry predicate treats as
// retryable; parent-context cancellation is passed through untouched.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a timeout wrapper, applying the default budget
// when none is given.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = DefaultAttemptTimeout
	}
	return &Timeout{config: config}
}

// Execute runs op under the attempt budget. The operation runs in its
// own goroutine so that an op which ignores its context cannot hold the
// caller past the deadline; such an op is abandoned, not stopped.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		err := attemptCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout runs op under a one-off attempt budget.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
