package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/queryops/observe"
)

// Invalidate marks the selected entries stale and refetches them according
// to the refetch mode. Refetches run before Invalidate returns; their errors
// are recorded on the entries and logged, never returned. Selecting by path
// prefix or ByAll requires the store to implement KeyLister.
func (c *Coordinator) Invalidate(ctx context.Context, opts ...InvalidateOption) error {
	o := invalidateOptions{refetch: RefetchActive}
	for _, opt := range opts {
		opt(&o)
	}

	keys, err := c.invalidateTargets(ctx, o)
	if err != nil {
		return err
	}

	var refetch []string
	for _, key := range keys {
		e, ok := c.store.Get(ctx, key)
		if !ok {
			continue
		}
		e.Stale = true
		if err := c.store.Set(ctx, key, e); err != nil {
			c.log.Warn(ctx, "invalidate write failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
			continue
		}
		switch o.refetch {
		case RefetchAll:
			refetch = append(refetch, key)
		case RefetchActive:
			if c.store.Subscribers(key) > 0 {
				refetch = append(refetch, key)
			}
		}
	}
	for _, key := range refetch {
		c.refetchEntry(ctx, key)
	}
	return nil
}

// invalidateTargets resolves selectors to a deduplicated key list.
func (c *Coordinator) invalidateTargets(ctx context.Context, o invalidateOptions) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, ref := range o.refs {
		key, _, err := c.keyFor(ref.path, ref.kind, ref.input)
		if err != nil {
			return nil, err
		}
		add(key)
	}

	if o.all || len(o.paths) > 0 {
		lister, ok := c.store.(KeyLister)
		if !ok {
			return nil, ErrNotListable
		}
		all, err := lister.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("query: list keys: %w", err)
		}
		for _, k := range all {
			if o.all || matchesAnyPath(k, o.paths) {
				add(k)
			}
		}
	}
	return keys, nil
}

// keyPath extracts the procedure path from a derived cache key.
func keyPath(key string) (string, bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != keyPrefix {
		return "", false
	}
	return parts[1], true
}

// matchesAnyPath reports whether the key's path equals a selector or sits
// under it as a dot-separated descendant.
func matchesAnyPath(key string, paths []string) bool {
	p, ok := keyPath(key)
	if !ok {
		return false
	}
	for _, sel := range paths {
		if p == sel || strings.HasPrefix(p, sel+".") {
			return true
		}
	}
	return false
}

// refetchEntry refetches one invalidated entry using the stored path and
// input. Infinite entries replay their page loop with the last-used cursor
// settings.
func (c *Coordinator) refetchEntry(ctx context.Context, key string) {
	e, ok := c.store.Get(ctx, key)
	if !ok || e.Path == "" {
		c.infOpts.Delete(key)
		return
	}
	meta := observe.QueryMeta{Path: e.Path, Op: "invalidate", Kind: e.Kind.String()}

	var call observe.FetchExec
	if e.Kind == KindInfinite {
		set := c.infiniteSettingsFor(key)
		target := 1
		if d, err := decodeInfinite(e.Data); err == nil && len(d.Pages) > 0 {
			target = len(d.Pages)
		}
		call = c.pageLoopFunc(e.Path, set, target, nil)
	} else {
		path := e.Path
		call = func(fctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return c.client.Invoke(fctx, path, input)
		}
	}

	if _, err := c.flightFetch(ctx, meta, key, e.Path, e.Kind, e.Input, call); err != nil {
		c.log.Warn(ctx, "refetch after invalidate failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}
}
