package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// FetchFunc is a per-call replacement for the procedure client.
type FetchFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Option configures a single coordinator operation.
type Option func(*fetchOptions)

type fetchOptions struct {
	staleTime   time.Duration
	initialData json.RawMessage
	fetchFunc   FetchFunc
	pages       int
	nextParam   NextPageParamFunc
	pageInput   PageInputFunc
	err         error
}

// WithStaleTime overrides the coordinator's stale time for this call.
func WithStaleTime(d time.Duration) Option {
	return func(o *fetchOptions) {
		o.staleTime = d
	}
}

// WithInitialData seeds the entry with raw JSON if it does not exist yet.
// The seed is retained for the lifetime of the entry and restored by Reset.
func WithInitialData(data json.RawMessage) Option {
	return func(o *fetchOptions) {
		o.initialData = data
	}
}

// InitialData is WithInitialData for a typed value.
func InitialData[T any](v T) Option {
	return func(o *fetchOptions) {
		raw, err := json.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("%w: %v", ErrUnserializable, err)
			return
		}
		o.initialData = raw
	}
}

// WithFetchFunc replaces the procedure client for this call. When several
// concurrent callers supply different funcs for the same key, the one that
// starts the flight wins. Refetches triggered by invalidation always use the
// procedure client.
func WithFetchFunc(fn FetchFunc) Option {
	return func(o *fetchOptions) {
		o.fetchFunc = fn
	}
}

// WithPages sets the target page count for an infinite fetch. Without it the
// fetch targets the cached page count, or one page for a cold entry.
func WithPages(n int) Option {
	return func(o *fetchOptions) {
		o.pages = n
	}
}

// WithNextPageParam overrides the cursor extractor for this call.
func WithNextPageParam(fn NextPageParamFunc) Option {
	return func(o *fetchOptions) {
		o.nextParam = fn
	}
}

// WithPageInput overrides the cursor injector for this call.
func WithPageInput(fn PageInputFunc) Option {
	return func(o *fetchOptions) {
		o.pageInput = fn
	}
}

// RefetchMode selects which invalidated entries are refetched immediately.
type RefetchMode int

const (
	// RefetchActive refetches invalidated entries that have subscribers.
	RefetchActive RefetchMode = iota
	// RefetchNone marks entries stale without refetching.
	RefetchNone
	// RefetchAll refetches every invalidated entry.
	RefetchAll
)

// String returns a human-readable mode name.
func (m RefetchMode) String() string {
	switch m {
	case RefetchActive:
		return "active"
	case RefetchNone:
		return "none"
	case RefetchAll:
		return "all"
	default:
		return "unknown"
	}
}

// InvalidateOption selects invalidation targets and behavior.
type InvalidateOption func(*invalidateOptions)

type invalidateOptions struct {
	refs    []invalidateRef
	paths   []string
	all     bool
	refetch RefetchMode
}

type invalidateRef struct {
	path  string
	kind  Kind
	input any
}

// ByQuery targets the plain query entry for one path and input.
func ByQuery(path string, input any) InvalidateOption {
	return func(o *invalidateOptions) {
		o.refs = append(o.refs, invalidateRef{path: path, kind: KindQuery, input: input})
	}
}

// ByQueryInfinite targets the infinite entry for one path and input.
func ByQueryInfinite(path string, input any) InvalidateOption {
	return func(o *invalidateOptions) {
		o.refs = append(o.refs, invalidateRef{path: path, kind: KindInfinite, input: input})
	}
}

// ByPath targets every entry under a procedure path, including sub-paths:
// ByPath("post") matches "post" and "post.byId" but not "poster".
func ByPath(path string) InvalidateOption {
	return func(o *invalidateOptions) {
		o.paths = append(o.paths, path)
	}
}

// All targets every entry in the store.
func All() InvalidateOption {
	return func(o *invalidateOptions) {
		o.all = true
	}
}

// WithRefetch sets the refetch mode. The default is RefetchActive.
func WithRefetch(m RefetchMode) InvalidateOption {
	return func(o *invalidateOptions) {
		o.refetch = m
	}
}
