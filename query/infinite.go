package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jonwraymond/queryops/observe"
)

const (
	// DefaultCursorField is the response field the default extractor reads
	// the next cursor from.
	DefaultCursorField = "nextCursor"
	// DefaultPageInputField is the input field the default injector writes
	// the cursor to.
	DefaultPageInputField = "cursor"
)

// InfiniteData is the stored shape of an infinite query: fetched pages in
// order, and the cursor each page was fetched with. PageParams[0] is always
// null, the first page has no cursor.
type InfiniteData struct {
	Pages      []json.RawMessage `json:"pages"`
	PageParams []json.RawMessage `json:"pageParams"`
}

// NextPageParamFunc extracts the cursor for the page after lastPage. It
// returns false when there are no more pages.
type NextPageParamFunc func(lastPage json.RawMessage, pages []json.RawMessage) (json.RawMessage, bool)

// PageInputFunc merges a cursor into the base input for a page fetch.
type PageInputFunc func(input, cursor json.RawMessage) (json.RawMessage, error)

// NextCursorField extracts the cursor from a top-level response field.
// A missing or null field means no more pages.
func NextCursorField(field string) NextPageParamFunc {
	return func(lastPage json.RawMessage, _ []json.RawMessage) (json.RawMessage, bool) {
		r := gjson.GetBytes(lastPage, field)
		if !r.Exists() || r.Type == gjson.Null {
			return nil, false
		}
		return json.RawMessage(r.Raw), true
	}
}

// InjectCursorField sets the cursor on a top-level input field. A null or
// empty base input becomes an object holding only the cursor. Non-object
// inputs cannot carry a cursor and fail with ErrPageInput.
func InjectCursorField(field string) PageInputFunc {
	return func(input, cursor json.RawMessage) (json.RawMessage, error) {
		base := input
		if len(bytes.TrimSpace(base)) == 0 || bytes.Equal(bytes.TrimSpace(base), []byte("null")) {
			base = json.RawMessage("{}")
		}
		if !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
			return nil, fmt.Errorf("%w: input is not a JSON object", ErrPageInput)
		}
		out, err := sjson.SetRawBytes(base, field, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPageInput, err)
		}
		return out, nil
	}
}

// infiniteSettings is the cursor plumbing an infinite key was last fetched
// with, kept so invalidation can replay the page loop.
type infiniteSettings struct {
	next   NextPageParamFunc
	inject PageInputFunc
}

func (c *Coordinator) infiniteSettingsFor(key string) infiniteSettings {
	if v, ok := c.infOpts.Load(key); ok {
		return v.(infiniteSettings)
	}
	return infiniteSettings{next: c.nextParam, inject: c.pageInput}
}

func decodeInfinite(raw json.RawMessage) (InfiniteData, error) {
	var d InfiniteData
	if err := json.Unmarshal(raw, &d); err != nil {
		return InfiniteData{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d, nil
}

// FetchInfinite returns the cached pages when they are fresh and reach the
// target page count, otherwise fetches pages sequentially from the start.
// The target is WithPages when given, else the cached page count, else one.
func (c *Coordinator) FetchInfinite(ctx context.Context, path string, input any, opts ...Option) (InfiniteData, error) {
	return c.fetchInfinite(ctx, "fetch", path, input, opts, false)
}

// EnsureInfiniteData is like FetchInfinite but treats any non-invalidated
// cached pages as sufficient regardless of age or page count.
func (c *Coordinator) EnsureInfiniteData(ctx context.Context, path string, input any, opts ...Option) (InfiniteData, error) {
	return c.fetchInfinite(ctx, "ensure", path, input, opts, true)
}

// PrefetchInfinite warms the cache for an infinite query. Fetch errors are
// recorded on the entry and logged, never returned.
func (c *Coordinator) PrefetchInfinite(ctx context.Context, path string, input any, opts ...Option) {
	if _, err := c.fetchInfinite(ctx, "prefetch", path, input, opts, true); err != nil {
		c.log.Debug(ctx, "prefetch failed",
			observe.Field{Key: "path", Value: path},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

// GetInfiniteData returns the cached pages for the input, regardless of
// staleness. It never fetches.
func (c *Coordinator) GetInfiniteData(ctx context.Context, path string, input any) (InfiniteData, bool) {
	key, _, err := c.keyFor(path, KindInfinite, input)
	if err != nil {
		return InfiniteData{}, false
	}
	e, ok := c.store.Get(ctx, key)
	if !ok || !e.HasData() {
		return InfiniteData{}, false
	}
	d, err := decodeInfinite(e.Data)
	if err != nil {
		return InfiniteData{}, false
	}
	return d, true
}

// SetInfiniteData writes pages directly into the cache. Pages and PageParams
// must have equal length.
func (c *Coordinator) SetInfiniteData(ctx context.Context, path string, input any, data InfiniteData) error {
	if len(data.Pages) != len(data.PageParams) {
		return ErrPagesMismatch
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return c.setData(ctx, path, KindInfinite, input, raw)
}

// CancelInfinite aborts the in-flight page loop for the input, if any.
func (c *Coordinator) CancelInfinite(ctx context.Context, path string, input any) error {
	return c.cancelKind(ctx, path, KindInfinite, input)
}

// ResetInfinite returns the infinite entry to its initial state, as Reset
// does for plain queries.
func (c *Coordinator) ResetInfinite(ctx context.Context, path string, input any, opts ...Option) error {
	return c.resetKind(ctx, path, KindInfinite, input, opts)
}

// SubscribeInfinite registers fn to observe every mutation of the input's
// infinite entry.
func (c *Coordinator) SubscribeInfinite(path string, input any, fn func(Entry)) (cancel func(), err error) {
	key, _, err := c.keyFor(path, KindInfinite, input)
	if err != nil {
		return nil, err
	}
	return c.store.Subscribe(key, fn), nil
}

func (c *Coordinator) fetchInfinite(ctx context.Context, op, path string, input any, opts []Option, ensure bool) (InfiniteData, error) {
	o, err := c.newOptions(opts)
	if err != nil {
		return InfiniteData{}, err
	}
	key, canon, err := c.keyFor(path, KindInfinite, input)
	if err != nil {
		return InfiniteData{}, err
	}
	meta := observe.QueryMeta{Path: path, Op: op, Kind: KindInfinite.String()}

	set := infiniteSettings{next: o.nextParam, inject: o.pageInput}
	c.infOpts.Store(key, set)

	e, ok := c.store.Get(ctx, key)
	var cached InfiniteData
	if ok && e.HasData() {
		if d, derr := decodeInfinite(e.Data); derr == nil {
			cached = d
		}
	}
	target := o.pages
	if target <= 0 {
		target = len(cached.Pages)
	}
	if target <= 0 {
		target = 1
	}

	if ok {
		served := false
		if ensure {
			served = e.HasData() && !e.Stale
		} else {
			served = e.Fresh(o.staleTime, c.now()) && len(cached.Pages) >= target
		}
		if served {
			c.mw.Lookup(ctx, meta, true)
			return cached, nil
		}
	}
	c.mw.Lookup(ctx, meta, false)

	raw, err := c.flightFetch(ctx, meta, key, path, KindInfinite, canon, c.pageLoopFunc(path, set, target, o.fetchFunc))
	if err != nil {
		return InfiniteData{}, err
	}
	return decodeInfinite(raw)
}

// pageLoopFunc builds the flight body for an infinite fetch: pages are
// fetched sequentially from the first, each cursor derived from the page
// before it. A page error aborts the loop with nothing written back.
func (c *Coordinator) pageLoopFunc(path string, set infiniteSettings, target int, override FetchFunc) observe.FetchExec {
	return func(fctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var data InfiniteData
		var cursor json.RawMessage
		for page := 0; page < target; page++ {
			in := input
			if page > 0 {
				var err error
				in, err = set.inject(input, cursor)
				if err != nil {
					return nil, err
				}
			}

			var out json.RawMessage
			var err error
			if override != nil {
				out, err = override(fctx, in)
			} else {
				out, err = c.client.Invoke(fctx, path, in)
			}
			if err != nil {
				return nil, err
			}

			data.Pages = append(data.Pages, out)
			if page == 0 {
				data.PageParams = append(data.PageParams, json.RawMessage("null"))
			} else {
				data.PageParams = append(data.PageParams, cursor)
			}

			next, more := set.next(out, data.Pages)
			if !more {
				break
			}
			cursor = next
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
		}
		return raw, nil
	}
}
