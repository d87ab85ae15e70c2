package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/queryops/procedure"
)

// Util binds a coordinator to one typed procedure. It is the typed surface
// over the coordinator's raw operations: inputs are serialized and outputs
// decoded using the descriptor's type parameters.
type Util[In, Out any] struct {
	c    *Coordinator
	path string
}

// NewUtil creates the typed utility for one procedure.
func NewUtil[In, Out any](c *Coordinator, d procedure.Descriptor[In, Out]) (*Util[In, Out], error) {
	if c == nil {
		return nil, ErrNilCoordinator
	}
	return &Util[In, Out]{c: c, path: d.Path()}, nil
}

// Path returns the bound procedure path.
func (u *Util[In, Out]) Path() string { return u.path }

// Key derives the cache key for an input.
func (u *Util[In, Out]) Key(in In) (string, error) {
	return u.c.keyer.Key(u.path, KindQuery, in)
}

// Fetch returns the cached value when fresh, otherwise fetches it.
func (u *Util[In, Out]) Fetch(ctx context.Context, in In, opts ...Option) (Out, error) {
	raw, err := u.c.Fetch(ctx, u.path, in, opts...)
	if err != nil {
		var zero Out
		return zero, err
	}
	return decodeAs[Out](raw)
}

// EnsureData returns any cached value regardless of age, fetching only when
// the entry is absent or invalidated.
func (u *Util[In, Out]) EnsureData(ctx context.Context, in In, opts ...Option) (Out, error) {
	raw, err := u.c.EnsureData(ctx, u.path, in, opts...)
	if err != nil {
		var zero Out
		return zero, err
	}
	return decodeAs[Out](raw)
}

// Prefetch warms the cache. Fetch errors are never returned.
func (u *Util[In, Out]) Prefetch(ctx context.Context, in In, opts ...Option) {
	u.c.Prefetch(ctx, u.path, in, opts...)
}

// Refetch fetches regardless of freshness.
func (u *Util[In, Out]) Refetch(ctx context.Context, in In, opts ...Option) (Out, error) {
	raw, err := u.c.Refetch(ctx, u.path, in, opts...)
	if err != nil {
		var zero Out
		return zero, err
	}
	return decodeAs[Out](raw)
}

// GetData returns the cached value, regardless of staleness. Values that no
// longer decode as Out report a miss.
func (u *Util[In, Out]) GetData(ctx context.Context, in In) (Out, bool) {
	var zero Out
	raw, ok := u.c.GetData(ctx, u.path, in)
	if !ok {
		return zero, false
	}
	v, err := decodeAs[Out](raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// SetData writes a value directly into the cache.
func (u *Util[In, Out]) SetData(ctx context.Context, in In, data Out) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return u.c.SetData(ctx, u.path, in, raw)
}

// SetDataFunc updates the cached value through fn, which receives the
// current value and whether one exists. Returning false leaves the cache
// untouched.
func (u *Util[In, Out]) SetDataFunc(ctx context.Context, in In, fn func(cur Out, ok bool) (Out, bool)) error {
	var cur Out
	raw, ok := u.c.GetData(ctx, u.path, in)
	if ok {
		v, err := decodeAs[Out](raw)
		if err != nil {
			ok = false
		} else {
			cur = v
		}
	}
	next, write := fn(cur, ok)
	if !write {
		return nil
	}
	return u.SetData(ctx, in, next)
}

// Invalidate marks the entry for one input stale, refetching per the
// coordinator's refetch rules.
func (u *Util[In, Out]) Invalidate(ctx context.Context, in In, opts ...InvalidateOption) error {
	return u.c.Invalidate(ctx, append([]InvalidateOption{ByQuery(u.path, in)}, opts...)...)
}

// InvalidateAll marks every entry under the procedure path stale, including
// infinite entries and sub-paths.
func (u *Util[In, Out]) InvalidateAll(ctx context.Context, opts ...InvalidateOption) error {
	return u.c.Invalidate(ctx, append([]InvalidateOption{ByPath(u.path)}, opts...)...)
}

// Cancel aborts the in-flight fetch for one input, if any.
func (u *Util[In, Out]) Cancel(ctx context.Context, in In) error {
	return u.c.Cancel(ctx, u.path, in)
}

// Reset returns the entry for one input to its initial state.
func (u *Util[In, Out]) Reset(ctx context.Context, in In, opts ...Option) error {
	return u.c.Reset(ctx, u.path, in, opts...)
}

// Subscribe registers fn to observe every mutation of the input's entry.
func (u *Util[In, Out]) Subscribe(in In, fn func(Entry)) (cancel func(), err error) {
	return u.c.Subscribe(u.path, in, fn)
}

// Pages is the typed view of an infinite query: decoded pages in order and
// the cursor each page was fetched with. The first cursor is always nil.
type Pages[Cursor, Out any] struct {
	Pages      []Out
	PageParams []*Cursor
}

// InfiniteConfig configures cursor plumbing for one infinite procedure.
type InfiniteConfig[Cursor, Out any] struct {
	// CursorField is the response field the next cursor is read from.
	// Defaults to DefaultCursorField. Ignored when NextPage is set.
	CursorField string

	// InputField is the input field the cursor is written to.
	// Defaults to DefaultPageInputField.
	InputField string

	// NextPage replaces field-based extraction with a typed func. Returning
	// false ends the page sequence.
	NextPage func(last Out, pages []Out) (Cursor, bool)
}

// InfiniteUtil binds a coordinator to one typed infinite procedure.
type InfiniteUtil[In, Cursor, Out any] struct {
	c    *Coordinator
	path string
	base []Option
}

// NewInfiniteUtil creates the typed utility for one infinite procedure.
func NewInfiniteUtil[In, Cursor, Out any](c *Coordinator, d procedure.Descriptor[In, Out], cfg InfiniteConfig[Cursor, Out]) (*InfiniteUtil[In, Cursor, Out], error) {
	if c == nil {
		return nil, ErrNilCoordinator
	}
	u := &InfiniteUtil[In, Cursor, Out]{c: c, path: d.Path()}

	switch {
	case cfg.NextPage != nil:
		u.base = append(u.base, WithNextPageParam(typedNextPage(cfg.NextPage)))
	case cfg.CursorField != "":
		u.base = append(u.base, WithNextPageParam(NextCursorField(cfg.CursorField)))
	}
	if cfg.InputField != "" {
		u.base = append(u.base, WithPageInput(InjectCursorField(cfg.InputField)))
	}
	return u, nil
}

// Path returns the bound procedure path.
func (u *InfiniteUtil[In, Cursor, Out]) Path() string { return u.path }

// Key derives the cache key for an input.
func (u *InfiniteUtil[In, Cursor, Out]) Key(in In) (string, error) {
	return u.c.keyer.Key(u.path, KindInfinite, in)
}

// Fetch returns the cached pages when fresh, otherwise fetches them.
func (u *InfiniteUtil[In, Cursor, Out]) Fetch(ctx context.Context, in In, opts ...Option) (Pages[Cursor, Out], error) {
	d, err := u.c.FetchInfinite(ctx, u.path, in, u.options(opts)...)
	if err != nil {
		return Pages[Cursor, Out]{}, err
	}
	return decodePages[Cursor, Out](d)
}

// EnsureData returns any cached pages regardless of age, fetching only when
// the entry is absent or invalidated.
func (u *InfiniteUtil[In, Cursor, Out]) EnsureData(ctx context.Context, in In, opts ...Option) (Pages[Cursor, Out], error) {
	d, err := u.c.EnsureInfiniteData(ctx, u.path, in, u.options(opts)...)
	if err != nil {
		return Pages[Cursor, Out]{}, err
	}
	return decodePages[Cursor, Out](d)
}

// Prefetch warms the cache. Fetch errors are never returned.
func (u *InfiniteUtil[In, Cursor, Out]) Prefetch(ctx context.Context, in In, opts ...Option) {
	u.c.PrefetchInfinite(ctx, u.path, in, u.options(opts)...)
}

// GetData returns the cached pages, regardless of staleness.
func (u *InfiniteUtil[In, Cursor, Out]) GetData(ctx context.Context, in In) (Pages[Cursor, Out], bool) {
	d, ok := u.c.GetInfiniteData(ctx, u.path, in)
	if !ok {
		return Pages[Cursor, Out]{}, false
	}
	p, err := decodePages[Cursor, Out](d)
	if err != nil {
		return Pages[Cursor, Out]{}, false
	}
	return p, true
}

// SetData writes pages directly into the cache. An empty PageParams is
// padded with nulls to match Pages.
func (u *InfiniteUtil[In, Cursor, Out]) SetData(ctx context.Context, in In, pages Pages[Cursor, Out]) error {
	if len(pages.PageParams) != 0 && len(pages.PageParams) != len(pages.Pages) {
		return ErrPagesMismatch
	}
	var d InfiniteData
	for _, p := range pages.Pages {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnserializable, err)
		}
		d.Pages = append(d.Pages, raw)
	}
	if len(pages.PageParams) == 0 {
		for range pages.Pages {
			d.PageParams = append(d.PageParams, json.RawMessage("null"))
		}
	} else {
		for _, cp := range pages.PageParams {
			if cp == nil {
				d.PageParams = append(d.PageParams, json.RawMessage("null"))
				continue
			}
			raw, err := json.Marshal(*cp)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnserializable, err)
			}
			d.PageParams = append(d.PageParams, raw)
		}
	}
	return u.c.SetInfiniteData(ctx, u.path, in, d)
}

// Invalidate marks the infinite entry for one input stale.
func (u *InfiniteUtil[In, Cursor, Out]) Invalidate(ctx context.Context, in In, opts ...InvalidateOption) error {
	return u.c.Invalidate(ctx, append([]InvalidateOption{ByQueryInfinite(u.path, in)}, opts...)...)
}

// Cancel aborts the in-flight page loop for one input, if any.
func (u *InfiniteUtil[In, Cursor, Out]) Cancel(ctx context.Context, in In) error {
	return u.c.CancelInfinite(ctx, u.path, in)
}

// Reset returns the infinite entry for one input to its initial state.
func (u *InfiniteUtil[In, Cursor, Out]) Reset(ctx context.Context, in In, opts ...Option) error {
	return u.c.ResetInfinite(ctx, u.path, in, opts...)
}

// Subscribe registers fn to observe every mutation of the input's entry.
func (u *InfiniteUtil[In, Cursor, Out]) Subscribe(in In, fn func(Entry)) (cancel func(), err error) {
	return u.c.SubscribeInfinite(u.path, in, fn)
}

// options prepends the util's cursor plumbing so per-call options win.
func (u *InfiniteUtil[In, Cursor, Out]) options(opts []Option) []Option {
	if len(u.base) == 0 {
		return opts
	}
	return append(append([]Option{}, u.base...), opts...)
}

// FetchWith is WithFetchFunc for typed procedures: fn receives the decoded
// input and its result replaces the remote call for this operation.
func FetchWith[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Option {
	return WithFetchFunc(func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
		}
		return b, nil
	})
}

// decodeAs decodes raw JSON into T, wrapping failures in ErrDecode.
func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

func decodePages[Cursor, Out any](d InfiniteData) (Pages[Cursor, Out], error) {
	var out Pages[Cursor, Out]
	for _, p := range d.Pages {
		v, err := decodeAs[Out](p)
		if err != nil {
			return Pages[Cursor, Out]{}, err
		}
		out.Pages = append(out.Pages, v)
	}
	for _, p := range d.PageParams {
		if len(bytes.TrimSpace(p)) == 0 || bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
			out.PageParams = append(out.PageParams, nil)
			continue
		}
		var cv Cursor
		if err := json.Unmarshal(p, &cv); err != nil {
			return Pages[Cursor, Out]{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		out.PageParams = append(out.PageParams, &cv)
	}
	return out, nil
}

// typedNextPage adapts a typed cursor extractor to the raw JSON form.
func typedNextPage[Cursor, Out any](fn func(last Out, pages []Out) (Cursor, bool)) NextPageParamFunc {
	return func(lastPage json.RawMessage, pages []json.RawMessage) (json.RawMessage, bool) {
		last, err := decodeAs[Out](lastPage)
		if err != nil {
			return nil, false
		}
		typed := make([]Out, 0, len(pages))
		for _, p := range pages {
			v, err := decodeAs[Out](p)
			if err != nil {
				return nil, false
			}
			typed = append(typed, v)
		}
		cur, more := fn(last, typed)
		if !more {
			return nil, false
		}
		raw, err := json.Marshal(cur)
		if err != nil {
			return nil, false
		}
		return json.RawMessage(raw), true
	}
}
