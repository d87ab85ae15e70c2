package procedure

import (
	"context"
	"encoding/json"

	"github.com/jonwraymond/queryops/resilience"
)

// WithResilience wraps a client so every Invoke runs through the given
// resilience executor (rate limit, bulkhead, circuit breaker, retry,
// timeout, in that order).
func WithResilience(exec *resilience.Executor) Middleware {
	return func(next Client) Client {
		if exec == nil {
			return next
		}
		return ClientFunc(func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
			var out json.RawMessage
			err := exec.Execute(ctx, func(ctx context.Context) error {
				var callErr error
				out, callErr = next.Invoke(ctx, path, input)
				return callErr
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		})
	}
}
