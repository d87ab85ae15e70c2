// Package observe instruments the query cache: spans around remote fetches,
// counters for lookups and coalesced callers, and structured JSON logs with
// query identity attached.
//
// The package performs no fetching of its own. Build an Observer from Config,
// derive a Middleware with MiddlewareFromObserver, and wrap fetch functions
// with WrapFetch. Disabled subsystems degrade to no-ops, never to nil.
package observe
