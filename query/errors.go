package query

import "errors"

// Sentinel errors for query operations.
var (
	ErrNilClient      = errors.New("query: client is nil")
	ErrNilCoordinator = errors.New("query: coordinator is nil")
	ErrInvalidKey     = errors.New("query: key is invalid")
	ErrKeyTooLong     = errors.New("query: key exceeds max length")
	ErrUnserializable = errors.New("query: input cannot be serialized")
	ErrCancelled      = errors.New("query: fetch cancelled")
	ErrDecode         = errors.New("query: cached data does not decode")
	ErrPagesMismatch  = errors.New("query: pages and pageParams lengths differ")
	ErrPageInput      = errors.New("query: cursor cannot be injected into input")
	ErrNotListable    = errors.New("query: store does not support key listing")
)

// Sentinel errors for configuration.
var (
	ErrNegativeDuration      = errors.New("query: durations must not be negative")
	ErrMissingCursorField    = errors.New("query: cursor field is required")
	ErrMissingPageInputField = errors.New("query: page input field is required")
)
