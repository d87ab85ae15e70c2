package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonwraymond/queryops/observe"
	"github.com/jonwraymond/queryops/procedure"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Client delivers procedure calls. Required.
	Client procedure.Client

	// Store holds cache entries. Defaults to an in-memory store.
	Store Store

	// Keyer derives cache keys. Defaults to DefaultKeyer.
	Keyer Keyer

	// StaleTime is how long fetched data is served without revalidation.
	// Zero means every fetch revalidates.
	StaleTime time.Duration

	// NextPageParam extracts the next cursor from the last fetched page of
	// an infinite query. Defaults to NextCursorField("nextCursor").
	NextPageParam NextPageParamFunc

	// PageInput injects a cursor into the input of a page fetch.
	// Defaults to InjectCursorField("cursor").
	PageInput PageInputFunc

	// Observer provides tracing, metrics, and logging. Optional.
	Observer observe.Observer

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Coordinator routes every remote read through the cache store: it derives
// keys, coalesces concurrent fetches per key, applies staleness rules, and
// writes results back.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: a caller leaving Fetch early abandons only its own wait; the
//   shared fetch keeps running until it settles or Cancel is called.
// - Errors: remote errors are recorded on the entry and returned unchanged.
type Coordinator struct {
	client    procedure.Client
	store     Store
	keyer     Keyer
	staleTime time.Duration
	nextParam NextPageParamFunc
	pageInput PageInputFunc
	mw        *observe.Middleware
	log       observe.Logger
	now       func() time.Time
	flights   *flightTable
	infOpts   sync.Map // key -> infiniteSettings, last used per infinite key
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(MemoryStoreConfig{})
	}
	if cfg.Keyer == nil {
		cfg.Keyer = NewDefaultKeyer()
	}
	if cfg.NextPageParam == nil {
		cfg.NextPageParam = NextCursorField(DefaultCursorField)
	}
	if cfg.PageInput == nil {
		cfg.PageInput = InjectCursorField(DefaultPageInputField)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	mw := observe.NewNoopMiddleware()
	if cfg.Observer != nil {
		var err error
		mw, err = observe.MiddlewareFromObserver(cfg.Observer)
		if err != nil {
			return nil, err
		}
	}

	return &Coordinator{
		client:    cfg.Client,
		store:     cfg.Store,
		keyer:     cfg.Keyer,
		staleTime: cfg.StaleTime,
		nextParam: cfg.NextPageParam,
		pageInput: cfg.PageInput,
		mw:        mw,
		log:       mw.Logger(),
		now:       cfg.Now,
		flights:   newFlightTable(),
	}, nil
}

// Store returns the coordinator's cache store.
func (c *Coordinator) Store() Store { return c.store }

// Fetch returns the cached value for the input when it is fresh, otherwise
// fetches it remotely. Concurrent fetches for the same key share one remote
// call.
func (c *Coordinator) Fetch(ctx context.Context, path string, input any, opts ...Option) (json.RawMessage, error) {
	return c.fetch(ctx, "fetch", path, input, opts, false)
}

// EnsureData is like Fetch but treats any non-invalidated cached value as
// sufficient regardless of age. It never issues a remote call for a key that
// already has data.
func (c *Coordinator) EnsureData(ctx context.Context, path string, input any, opts ...Option) (json.RawMessage, error) {
	return c.fetch(ctx, "ensure", path, input, opts, true)
}

// Prefetch warms the cache with Fetch semantics. Fetch errors are recorded
// on the entry and logged, never returned.
func (c *Coordinator) Prefetch(ctx context.Context, path string, input any, opts ...Option) {
	if _, err := c.fetch(ctx, "prefetch", path, input, opts, false); err != nil {
		c.log.Debug(ctx, "prefetch failed",
			observe.Field{Key: "path", Value: path},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

// Refetch fetches remotely regardless of freshness. It still joins an
// outstanding flight for the key rather than starting a second call.
func (c *Coordinator) Refetch(ctx context.Context, path string, input any, opts ...Option) (json.RawMessage, error) {
	o, err := c.newOptions(opts)
	if err != nil {
		return nil, err
	}
	key, canon, err := c.keyFor(path, KindQuery, input)
	if err != nil {
		return nil, err
	}
	meta := observe.QueryMeta{Path: path, Op: "refetch", Kind: KindQuery.String()}
	return c.flightFetch(ctx, meta, key, path, KindQuery, canon, c.callFunc(path, o))
}

// GetData returns the cached value for the input, regardless of staleness.
// It never fetches. The second return is false when no data is cached.
func (c *Coordinator) GetData(ctx context.Context, path string, input any) (json.RawMessage, bool) {
	key, _, err := c.keyFor(path, KindQuery, input)
	if err != nil {
		return nil, false
	}
	e, ok := c.store.Get(ctx, key)
	if !ok || !e.HasData() {
		return nil, false
	}
	return e.Data, true
}

// SetData writes a value directly into the cache, creating the entry if
// needed. The entry becomes a fresh success.
func (c *Coordinator) SetData(ctx context.Context, path string, input any, data json.RawMessage) error {
	return c.setData(ctx, path, KindQuery, input, data)
}

// Cancel aborts the in-flight fetch for the input, if any. All waiters
// receive ErrCancelled, nothing is written back, and the entry returns to
// its pre-fetch state. Without an outstanding fetch it is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, path string, input any) error {
	return c.cancelKind(ctx, path, KindQuery, input)
}

// Reset returns the entry to its initial state: the retained (or supplied)
// initial data when present, otherwise the entry is removed. Any outstanding
// fetch for the key is cancelled first.
func (c *Coordinator) Reset(ctx context.Context, path string, input any, opts ...Option) error {
	return c.resetKind(ctx, path, KindQuery, input, opts)
}

// Subscribe registers fn to observe every mutation of the input's entry.
func (c *Coordinator) Subscribe(path string, input any, fn func(Entry)) (cancel func(), err error) {
	key, _, err := c.keyFor(path, KindQuery, input)
	if err != nil {
		return nil, err
	}
	return c.store.Subscribe(key, fn), nil
}

// Stats is a point-in-time snapshot of coordinator state.
type Stats struct {
	// Entries is the number of stored entries.
	Entries int
	// ByStatus counts entries per status name.
	ByStatus map[string]int
	// Flights is the number of outstanding fetches.
	Flights int
}

// Stats snapshots the coordinator. Entry counts require the store to
// implement KeyLister; otherwise only Flights is populated.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	s := Stats{ByStatus: make(map[string]int), Flights: c.flights.outstanding()}
	lister, ok := c.store.(KeyLister)
	if !ok {
		return s
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return s
	}
	for _, k := range keys {
		if e, ok := c.store.Get(ctx, k); ok {
			s.Entries++
			s.ByStatus[e.Status.String()]++
		}
	}
	return s
}

// fetch is the shared implementation of Fetch, EnsureData, and Prefetch.
// ensure treats any non-invalidated data as fresh.
func (c *Coordinator) fetch(ctx context.Context, op, path string, input any, opts []Option, ensure bool) (json.RawMessage, error) {
	o, err := c.newOptions(opts)
	if err != nil {
		return nil, err
	}
	key, canon, err := c.keyFor(path, KindQuery, input)
	if err != nil {
		return nil, err
	}
	meta := observe.QueryMeta{Path: path, Op: op, Kind: KindQuery.String()}

	e, ok := c.store.Get(ctx, key)
	if !ok && o.initialData != nil {
		e = c.seedEntry(ctx, key, path, KindQuery, canon, o.initialData)
		ok = true
	}
	if ok {
		served := false
		if ensure {
			served = e.HasData() && !e.Stale
		} else {
			served = e.Fresh(o.staleTime, c.now())
		}
		if served {
			c.mw.Lookup(ctx, meta, true)
			return e.Data, nil
		}
	}
	c.mw.Lookup(ctx, meta, false)
	return c.flightFetch(ctx, meta, key, path, KindQuery, canon, c.callFunc(path, o))
}

// newOptions resolves per-call options over coordinator defaults.
func (c *Coordinator) newOptions(opts []Option) (fetchOptions, error) {
	o := fetchOptions{
		staleTime: c.staleTime,
		nextParam: c.nextParam,
		pageInput: c.pageInput,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return o, o.err
	}
	return o, nil
}

// keyFor derives the cache key and the canonical input it hashes.
func (c *Coordinator) keyFor(path string, kind Kind, input any) (string, json.RawMessage, error) {
	key, err := c.keyer.Key(path, kind, input)
	if err != nil {
		return "", nil, err
	}
	canon, err := Canonical(input)
	if err != nil {
		return "", nil, err
	}
	return key, canon, nil
}

// callFunc builds the remote call for a plain query.
func (c *Coordinator) callFunc(path string, o fetchOptions) observe.FetchExec {
	if o.fetchFunc != nil {
		return observe.FetchExec(o.fetchFunc)
	}
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return c.client.Invoke(ctx, path, input)
	}
}

// seedEntry writes initial data for a key that has no entry yet. The seed is
// retained so Reset can restore it.
func (c *Coordinator) seedEntry(ctx context.Context, key, path string, kind Kind, canon, initial json.RawMessage) Entry {
	e := Entry{
		Path:        path,
		Kind:        kind,
		Input:       canon,
		Data:        initial,
		Status:      StatusSuccess,
		UpdatedAt:   c.now(),
		InitialData: initial,
	}
	if err := c.store.Set(ctx, key, e); err != nil {
		c.log.Warn(ctx, "seed write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}
	return e
}

// flightFetch joins or starts the coalesced flight for key and waits for its
// result. The caller's context only bounds the wait.
func (c *Coordinator) flightFetch(ctx context.Context, meta observe.QueryMeta, key, path string, kind Kind, canon json.RawMessage, call observe.FetchExec) (json.RawMessage, error) {
	ch := c.flights.do(key, func() (any, error) {
		return c.runFlight(ctx, meta, key, path, kind, canon, call)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.mw.Coalesced(ctx, meta)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

// runFlight performs one remote fetch and writes the result back. It runs
// inside singleflight, so at most one instance per key is live.
func (c *Coordinator) runFlight(ctx context.Context, meta observe.QueryMeta, key, path string, kind Kind, canon json.RawMessage, call observe.FetchExec) (json.RawMessage, error) {
	prev, prevOK := c.store.Get(ctx, key)
	f := c.flights.register(ctx, key, prev, prevOK)
	defer f.cancel()

	// Show the fetching transition to subscribers. Previous data stays
	// visible while revalidating.
	marked := prev
	marked.Path, marked.Kind, marked.Input = path, kind, canon
	marked.Status = StatusFetching
	if err := c.store.Set(f.ctx, key, marked); err != nil {
		c.log.Warn(f.ctx, "status write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}

	c.log.Debug(f.ctx, "flight started",
		observe.Field{Key: "key", Value: key},
		observe.Field{Key: "flight_id", Value: f.id})

	out, err := c.mw.WrapFetch(meta, call)(f.ctx, canon)

	if f.ctx.Err() != nil {
		// Cancel restored the entry; make sure the fetching transition did
		// not outlive it, then settle without writing back.
		c.flights.settle(f)
		c.restore(context.WithoutCancel(f.ctx), key, f)
		return nil, ErrCancelled
	}
	if !c.flights.settle(f) {
		return nil, ErrCancelled
	}

	cur, curOK := c.store.Get(f.ctx, key)
	if !curOK {
		cur = marked
	}
	cur.Path, cur.Kind, cur.Input = path, kind, canon
	if err != nil {
		// Keep previous data and UpdatedAt; only a later success
		// overwrites them.
		cur.Status = StatusError
		cur.Error = err.Error()
		if werr := c.store.Set(f.ctx, key, cur); werr != nil {
			c.log.Warn(f.ctx, "error write failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: werr.Error()})
		}
		return nil, err
	}

	cur.Data = out
	cur.Status = StatusSuccess
	cur.Error = ""
	cur.Stale = false
	cur.UpdatedAt = c.now()
	if werr := c.store.Set(f.ctx, key, cur); werr != nil {
		c.log.Warn(f.ctx, "result write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: werr.Error()})
	}

	c.log.Debug(f.ctx, "flight settled",
		observe.Field{Key: "key", Value: key},
		observe.Field{Key: "flight_id", Value: f.id})
	return out, nil
}

// setData writes data for a key directly, preserving any retained initial
// data.
func (c *Coordinator) setData(ctx context.Context, path string, kind Kind, input any, data json.RawMessage) error {
	key, canon, err := c.keyFor(path, kind, input)
	if err != nil {
		return err
	}
	prev, _ := c.store.Get(ctx, key)
	e := Entry{
		Path:        path,
		Kind:        kind,
		Input:       canon,
		Data:        data,
		Status:      StatusSuccess,
		UpdatedAt:   c.now(),
		InitialData: prev.InitialData,
	}
	return c.store.Set(ctx, key, e)
}

func (c *Coordinator) cancelKind(ctx context.Context, path string, kind Kind, input any) error {
	key, _, err := c.keyFor(path, kind, input)
	if err != nil {
		return err
	}
	f, ok := c.flights.take(key)
	if !ok {
		return nil
	}
	c.mw.Cancelled(ctx, observe.QueryMeta{Path: path, Op: "cancel", Kind: kind.String()})
	c.restore(ctx, key, f)
	return nil
}

// restore reverts a cancelled fetch's entry to its pre-fetch state, unless a
// direct write already superseded the fetching transition.
func (c *Coordinator) restore(ctx context.Context, key string, f *flight) {
	cur, ok := c.store.Get(ctx, key)
	if !ok || cur.Status != StatusFetching {
		return
	}
	if !f.prevOK {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn(ctx, "restore delete failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
		}
		return
	}
	if err := c.store.Set(ctx, key, f.prev); err != nil {
		c.log.Warn(ctx, "restore write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

func (c *Coordinator) resetKind(ctx context.Context, path string, kind Kind, input any, opts []Option) error {
	o, err := c.newOptions(opts)
	if err != nil {
		return err
	}
	key, canon, err := c.keyFor(path, kind, input)
	if err != nil {
		return err
	}
	if f, ok := c.flights.take(key); ok {
		c.mw.Cancelled(ctx, observe.QueryMeta{Path: path, Op: "reset", Kind: kind.String()})
		_ = f
	}
	cur, _ := c.store.Get(ctx, key)
	initial := o.initialData
	if initial == nil {
		initial = cur.InitialData
	}
	if initial == nil {
		c.infOpts.Delete(key)
		return c.store.Delete(ctx, key)
	}
	e := Entry{
		Path:        path,
		Kind:        kind,
		Input:       canon,
		Data:        initial,
		Status:      StatusSuccess,
		UpdatedAt:   c.now(),
		InitialData: initial,
	}
	return c.store.Set(ctx, key, e)
}
