package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays grow between attempts.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear grows the delay by the initial delay each attempt.
	BackoffLinear
	// BackoffConstant keeps the same delay for all attempts.
	BackoffConstant
)

// Retry defaults.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Default: DefaultMaxAttempts
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: DefaultInitialDelay
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	// Default: DefaultMaxDelay
	MaxDelay time.Duration

	// Multiplier scales the delay under BackoffExponential.
	// Default: DefaultMultiplier
	Multiplier float64

	// Strategy selects the backoff curve.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter spreads delays randomly so coordinated callers do not
	// refetch in lockstep.
	Jitter bool

	// RetryIf decides whether an error is worth another attempt.
	// Default: DefaultRetryIf
	RetryIf func(err error) bool

	// OnRetry runs before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryIf retries any error except context cancellation.
// A cancelled fetch was abandoned on purpose; retrying it would resurrect
// work no caller is waiting for.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Retry reruns failed fetch attempts with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a retry handler, filling unset config fields with
// defaults.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = DefaultMultiplier
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}

	return &Retry{config: config}
}

// Execute runs op until it succeeds, exhausts the attempt budget, or
// fails with an error the retry predicate rejects. The error from the
// final attempt is returned as-is.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.config.RetryIf(lastErr) {
			return lastErr
		}
		if attempt >= r.config.MaxAttempts {
			return lastErr
		}

		delay := r.backoff(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff returns the delay after the given attempt number, capped at
// MaxDelay and widened by up to 25% jitter.
func (r *Retry) backoff(attempt int) time.Duration {
	delay := r.config.InitialDelay

	switch r.config.Strategy {
	case BackoffLinear:
		delay *= time.Duration(attempt)

	case BackoffExponential:
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * r.config.Multiplier)
			if delay >= r.config.MaxDelay {
				break
			}
		}
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay/4 > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += rand.N(delay / 4)
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
