package procedure

import (
	"errors"
	"fmt"
)

// Sentinel errors for procedure operations.
var (
	ErrNilClient     = errors.New("procedure: client is nil")
	ErrEmptyPath     = errors.New("procedure: path is empty")
	ErrInvalidPath   = errors.New("procedure: path is invalid")
	ErrPathTooLong   = errors.New("procedure: path exceeds max length")
	ErrDuplicatePath = errors.New("procedure: path already registered")
)

// TransportError wraps a failure reported by a Client for a specific path.
// Client implementations are free to return their own error types; this
// wrapper exists for adapters that want the failing path attached.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("procedure: call %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
