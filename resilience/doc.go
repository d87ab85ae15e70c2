// Package resilience guards query fetches against slow and failing
// backends.
//
// Five guards are provided, usable alone or composed through an
// Executor:
//
//   - CircuitBreaker stops fetching from a backend that keeps failing,
//     probing it again after a reset timeout.
//   - Retry reruns failed fetches with constant, linear, or exponential
//     backoff.
//   - RateLimiter bounds fetch throughput with a token bucket.
//   - Bulkhead caps in-flight fetches so one hot key cannot exhaust the
//     process.
//   - Timeout abandons fetch attempts that outlive their budget.
//
// # Ordering
//
// An Executor runs its guards in a fixed order: rate limiter, bulkhead,
// circuit breaker, retry, timeout. The timeout sits innermost, so it
// budgets each attempt rather than the whole call; a single slow fetch
// is retried instead of sinking the call. The rate limiter and bulkhead
// sit outermost, so a rejected fetch consumes no retry budget and never
// reaches the circuit breaker.
//
// # Cancellation
//
// A cancelled fetch is not a failure. The default retry predicate does
// not retry context.Canceled or context.DeadlineExceeded, and the
// default circuit breaker predicate does not count context.Canceled
// against the failure threshold. A caller abandoning a fetch says
// nothing about backend health.
//
// # Usage
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	        Rate:  100,
//	        Burst: 10,
//	    })),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        MaxFailures:  5,
//	        ResetTimeout: time.Minute,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  3,
//	        InitialDelay: 100 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return fetchFromBackend(ctx)
//	})
package resilience
