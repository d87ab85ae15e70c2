package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClient is a scriptable procedure client. Calls count only after the
// release gate (when set) and a final context check, so a cancelled call is
// never a completed one.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	paths   []string
	handler func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error)
	started chan struct{} // one value per call entry, if set
	release chan struct{} // calls block until closed, if set
}

func newFakeClient(handler func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error)) *fakeClient {
	if handler == nil {
		handler = func(_ context.Context, path string, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(fmt.Sprintf(`{"path":%q}`, path)), nil
		}
	}
	return &fakeClient{handler: handler}
}

func (f *fakeClient) Invoke(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return f.handler(ctx, path, input)
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// countingHandler returns v1, v2, ... across calls.
func countingHandler() func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		n++
		v := n
		mu.Unlock()
		return json.RawMessage(fmt.Sprintf(`{"v":%d}`, v)), nil
	}
}

func newTestCoordinator(t *testing.T, client *fakeClient, mut ...func(*CoordinatorConfig)) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := CoordinatorConfig{
		Client: client,
		Store:  NewMemoryStore(MemoryStoreConfig{Now: clock.Now}),
		Now:    clock.Now,
	}
	for _, m := range mut {
		m(&cfg)
	}
	c, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c, clock
}

func TestNewCoordinator_RequiresClient(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig{})
	if !errors.Is(err, ErrNilClient) {
		t.Errorf("NewCoordinator() error = %v, want ErrNilClient", err)
	}
}

func TestCoordinator_FetchServesFreshData(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	first, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(time.Minute))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	second, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(time.Minute))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if client.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", client.Calls())
	}
	if string(first) != string(second) {
		t.Errorf("cached fetch returned different data: %s vs %s", first, second)
	}
}

func TestCoordinator_FetchDefaultAlwaysRevalidates(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.Fetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := c.Fetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if client.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2 with zero stale time", client.Calls())
	}
}

func TestCoordinator_FetchStaleTimeExpiry(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, clock := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(30*time.Second)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	clock.Advance(10 * time.Second)
	if _, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(30*time.Second)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("Calls() = %d, want 1 within stale time", client.Calls())
	}

	clock.Advance(25 * time.Second)
	if _, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(30*time.Second)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if client.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2 after stale time elapsed", client.Calls())
	}
}

func TestCoordinator_EnsureDataFetchesOnce(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, clock := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	first, err := c.EnsureData(ctx, "post.byId", in)
	if err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}

	// Age is irrelevant to EnsureData, only invalidation forces a refetch.
	clock.Advance(24 * time.Hour)

	second, err := c.EnsureData(ctx, "post.byId", in)
	if err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}

	if client.Calls() != 1 {
		t.Errorf("Calls() = %d, want exactly 1 across two EnsureData", client.Calls())
	}
	if string(first) != string(second) {
		t.Errorf("EnsureData returned different data: %s vs %s", first, second)
	}
}

func TestCoordinator_EnsureDataRefetchesInvalidated(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.EnsureData(ctx, "post.byId", in); err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}
	if err := c.Invalidate(ctx, ByQuery("post.byId", in), WithRefetch(RefetchNone)); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.EnsureData(ctx, "post.byId", in); err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}

	if client.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2 after invalidation", client.Calls())
	}
}

func TestCoordinator_ConcurrentFetchesShareOneCall(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	client.started = make(chan struct{}, 1)
	client.release = make(chan struct{})
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	const waiters = 8
	results := make([]json.RawMessage, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(ctx, "post.byId", in, WithStaleTime(time.Minute))
		}(i)
	}

	<-client.started
	// Give the rest a moment to join the flight; late arrivals are served
	// from the then-fresh cache either way.
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	if client.Calls() != 1 {
		t.Fatalf("Calls() = %d, want 1 for %d concurrent fetches", client.Calls(), waiters)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("Fetch()[%d] error = %v", i, errs[i])
		}
		if string(results[i]) != string(results[0]) {
			t.Errorf("Fetch()[%d] = %s, want %s", i, results[i], results[0])
		}
	}
}

func TestCoordinator_AbandoningWaiterKeepsFlight(t *testing.T) {
	client := newFakeClient(countingHandler())
	client.started = make(chan struct{}, 1)
	client.release = make(chan struct{})
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	settled := make(chan Entry, 1)
	cancelSub, err := c.Subscribe("post.byId", in, func(e Entry) {
		if e.Status == StatusSuccess {
			select {
			case settled <- e:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancelSub()

	waitCtx, cancelWait := context.WithCancel(context.Background())
	fetchErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(waitCtx, "post.byId", in)
		fetchErr <- err
	}()

	<-client.started
	cancelWait()

	if err := <-fetchErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned Fetch() error = %v, want context.Canceled", err)
	}

	// The shared flight keeps running and still writes back.
	close(client.release)
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("flight did not settle after the waiter left")
	}

	if client.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", client.Calls())
	}
	if _, ok := c.GetData(context.Background(), "post.byId", in); !ok {
		t.Error("GetData() should hit after the flight settled")
	}
}

func TestCoordinator_CancelAbortsFlight(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	client.started = make(chan struct{}, 1)
	client.release = make(chan struct{})
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	fetchErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "post.byId", in)
		fetchErr <- err
	}()

	<-client.started
	if err := c.Cancel(ctx, "post.byId", in); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if err := <-fetchErr; !errors.Is(err, ErrCancelled) {
		t.Fatalf("Fetch() after Cancel error = %v, want ErrCancelled", err)
	}
	if client.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0 completed calls", client.Calls())
	}
	if _, ok := c.GetData(ctx, "post.byId", in); ok {
		t.Error("no data should be written for a cancelled fetch")
	}
	if c.Stats(ctx).Entries != 0 {
		t.Errorf("Stats().Entries = %d, want 0 after restore", c.Stats(ctx).Entries)
	}
}

func TestCoordinator_CancelPreservesPriorData(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if err := c.SetData(ctx, "post.byId", in, json.RawMessage(`{"v":"prior"}`)); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}

	client.started = make(chan struct{}, 1)
	client.release = make(chan struct{})
	fetchErr := make(chan error, 1)
	go func() {
		_, err := c.Refetch(ctx, "post.byId", in)
		fetchErr <- err
	}()

	<-client.started
	if err := c.Cancel(ctx, "post.byId", in); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := <-fetchErr; !errors.Is(err, ErrCancelled) {
		t.Fatalf("Refetch() after Cancel error = %v, want ErrCancelled", err)
	}

	data, ok := c.GetData(ctx, "post.byId", in)
	if !ok {
		t.Fatal("prior data should survive a cancelled refetch")
	}
	if string(data) != `{"v":"prior"}` {
		t.Errorf("GetData() = %s, want prior value", data)
	}
	key, _, err := c.keyFor("post.byId", KindQuery, in)
	if err != nil {
		t.Fatalf("keyFor() error = %v", err)
	}
	e, _ := c.store.Get(ctx, key)
	if e.Status != StatusSuccess {
		t.Errorf("entry status = %v, want StatusSuccess restored", e.Status)
	}
}

func TestCoordinator_CancelWithoutFlight(t *testing.T) {
	client := newFakeClient(nil)
	c, _ := newTestCoordinator(t, client)

	if err := c.Cancel(context.Background(), "post.byId", map[string]any{"id": 1}); err != nil {
		t.Errorf("Cancel() without flight error = %v, want nil", err)
	}
}

func TestCoordinator_ErrorKeepsPreviousData(t *testing.T) {
	ctx := context.Background()
	fetchErr := errors.New("upstream exploded")
	fail := false
	client := newFakeClient(func(_ context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
		if fail {
			return nil, fetchErr
		}
		return json.RawMessage(`{"v":1}`), nil
	})
	c, clock := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.Fetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	fetchedAt := clock.Now()

	clock.Advance(time.Minute)
	fail = true
	if _, err := c.Refetch(ctx, "post.byId", in); !errors.Is(err, fetchErr) {
		t.Fatalf("Refetch() error = %v, want %v", err, fetchErr)
	}

	data, ok := c.GetData(ctx, "post.byId", in)
	if !ok || string(data) != `{"v":1}` {
		t.Errorf("GetData() = %s, %v, want previous data retained", data, ok)
	}

	key, _, err := c.keyFor("post.byId", KindQuery, in)
	if err != nil {
		t.Fatalf("keyFor() error = %v", err)
	}
	e, _ := c.store.Get(ctx, key)
	if e.Status != StatusError {
		t.Errorf("entry status = %v, want StatusError", e.Status)
	}
	if e.Error != "upstream exploded" {
		t.Errorf("entry error = %q, want %q", e.Error, "upstream exploded")
	}
	if !e.UpdatedAt.Equal(fetchedAt) {
		t.Errorf("entry UpdatedAt = %v, want unchanged %v", e.UpdatedAt, fetchedAt)
	}
}

func TestCoordinator_SetDataGetData(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(nil)
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, ok := c.GetData(ctx, "post.byId", in); ok {
		t.Fatal("GetData() on empty cache should miss")
	}

	if err := c.SetData(ctx, "post.byId", in, json.RawMessage(`{"v":"direct"}`)); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}

	data, ok := c.GetData(ctx, "post.byId", in)
	if !ok {
		t.Fatal("GetData() after SetData() should hit")
	}
	if string(data) != `{"v":"direct"}` {
		t.Errorf("GetData() = %s, want direct value", data)
	}
	if client.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0 for direct reads and writes", client.Calls())
	}
}

func TestCoordinator_RefetchIgnoresFreshness(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.Fetch(ctx, "post.byId", in, WithStaleTime(time.Hour)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	data, err := c.Refetch(ctx, "post.byId", in)
	if err != nil {
		t.Fatalf("Refetch() error = %v", err)
	}

	if client.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", client.Calls())
	}
	if string(data) != `{"v":2}` {
		t.Errorf("Refetch() = %s, want fresh value", data)
	}
}

func TestCoordinator_PrefetchSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(func(_ context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	c.Prefetch(ctx, "post.byId", in)

	key, _, err := c.keyFor("post.byId", KindQuery, in)
	if err != nil {
		t.Fatalf("keyFor() error = %v", err)
	}
	e, ok := c.store.Get(ctx, key)
	if !ok {
		t.Fatal("prefetch should leave an entry behind")
	}
	if e.Status != StatusError {
		t.Errorf("entry status = %v, want StatusError", e.Status)
	}
}

func TestCoordinator_PrefetchWarmsCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	c.Prefetch(ctx, "post.byId", in)
	data, err := c.EnsureData(ctx, "post.byId", in)
	if err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}

	if client.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", client.Calls())
	}
	if string(data) != `{"v":1}` {
		t.Errorf("EnsureData() = %s, want prefetched value", data)
	}
}

func TestCoordinator_InitialDataServesWithoutFetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	data, err := c.EnsureData(ctx, "post.byId", in, WithInitialData(json.RawMessage(`{"v":"seed"}`)))
	if err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}
	if string(data) != `{"v":"seed"}` {
		t.Errorf("EnsureData() = %s, want seed", data)
	}
	if client.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0 when seeded", client.Calls())
	}
}

func TestCoordinator_ResetRestoresInitialData(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.EnsureData(ctx, "post.byId", in, InitialData(map[string]any{"v": "seed"})); err != nil {
		t.Fatalf("EnsureData() error = %v", err)
	}
	if _, err := c.Refetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Refetch() error = %v", err)
	}
	if data, _ := c.GetData(ctx, "post.byId", in); string(data) != `{"v":1}` {
		t.Fatalf("GetData() = %s, want refetched value", data)
	}

	if err := c.Reset(ctx, "post.byId", in); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	data, ok := c.GetData(ctx, "post.byId", in)
	if !ok {
		t.Fatal("GetData() after Reset should hit the restored seed")
	}
	if string(data) != `{"v":"seed"}` {
		t.Errorf("GetData() = %s, want restored seed", data)
	}
}

func TestCoordinator_ResetDeletesWithoutInitialData(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	if _, err := c.Fetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if err := c.Reset(ctx, "post.byId", in); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok := c.GetData(ctx, "post.byId", in); ok {
		t.Error("GetData() after Reset without seed should miss")
	}
}

func TestCoordinator_FetchFuncOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	data, err := c.Fetch(ctx, "post.byId", in, WithFetchFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":"local"}`), nil
	}))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if string(data) != `{"v":"local"}` {
		t.Errorf("Fetch() = %s, want override value", data)
	}
	if client.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0 with a fetch func override", client.Calls())
	}
	if cached, _ := c.GetData(ctx, "post.byId", in); string(cached) != `{"v":"local"}` {
		t.Errorf("GetData() = %s, want override value cached", cached)
	}
}

func TestCoordinator_OptionErrorPropagates(t *testing.T) {
	client := newFakeClient(nil)
	c, _ := newTestCoordinator(t, client)

	_, err := c.Fetch(context.Background(), "post.byId", nil, InitialData(make(chan int)))
	if !errors.Is(err, ErrUnserializable) {
		t.Errorf("Fetch() error = %v, want ErrUnserializable", err)
	}
}

func TestCoordinator_ClientReceivesCanonicalInput(t *testing.T) {
	ctx := context.Background()
	var got json.RawMessage
	client := newFakeClient(func(_ context.Context, _ string, input json.RawMessage) (json.RawMessage, error) {
		got = input
		return json.RawMessage(`{}`), nil
	})
	c, _ := newTestCoordinator(t, client)

	type in struct {
		Slug string `json:"slug"`
		ID   int    `json:"id"`
	}
	if _, err := c.Fetch(ctx, "post.byId", in{Slug: "intro", ID: 1}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := `{"id":1,"slug":"intro"}`
	if string(got) != want {
		t.Errorf("client input = %s, want canonical %s", got, want)
	}
}

func TestCoordinator_SubscribeSeesTransitions(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(countingHandler())
	c, _ := newTestCoordinator(t, client)
	in := map[string]any{"id": 1}

	var mu sync.Mutex
	var statuses []Status
	cancel, err := c.Subscribe("post.byId", in, func(e Entry) {
		mu.Lock()
		statuses = append(statuses, e.Status)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if _, err := c.Fetch(ctx, "post.byId", in); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || statuses[0] != StatusFetching || statuses[1] != StatusSuccess {
		t.Errorf("observed statuses = %v, want [fetching success]", statuses)
	}
}
