package health

import "errors"

var (
	// ErrCheckFailed indicates a probe completed but the dependency
	// misbehaved, for example a store read returned the wrong bytes.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a probe did not finish within the
	// aggregator's deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates no checker is registered under the
	// requested name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrNoCheckers indicates the aggregator has nothing registered.
	ErrNoCheckers = errors.New("health: no checkers registered")
)
