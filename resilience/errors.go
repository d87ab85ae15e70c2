package resilience

import "errors"

var (
	// ErrCircuitOpen rejects a fetch while the breaker shields a
	// failing backend.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded rejects a fetch that would exceed the
	// configured request rate.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull rejects a fetch when too many are already in
	// flight.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout marks one fetch attempt that outran its budget. The
	// default retry predicate treats it as retryable, unlike parent
	// context deadlines.
	ErrTimeout = errors.New("resilience: operation timed out")
)
