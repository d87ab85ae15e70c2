package procedure

import (
	"context"
	"encoding/json"
)

// Client delivers procedure calls to a remote endpoint. Implementations own
// the wire protocol; inputs and outputs cross this boundary as JSON.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: implementations must check ctx before dispatching; a call whose
//   context is already cancelled must return ctx.Err() without side effects.
// - Errors: remote failures are returned as-is; callers wrap as needed.
type Client interface {
	// Invoke calls the procedure at path with the given JSON input and
	// returns the JSON output.
	Invoke(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error)

// Invoke implements Client.
func (f ClientFunc) Invoke(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, path, input)
}

var _ Client = (ClientFunc)(nil)

// Middleware wraps a Client with additional behavior.
type Middleware func(Client) Client

// Chain applies middlewares to a client. The first middleware is the
// outermost wrapper.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
