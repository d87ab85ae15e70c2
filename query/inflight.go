package query

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// flight tracks one outstanding fetch so it can be cancelled and its entry
// restored. The flight context is detached from the initiating caller:
// waiters abandoning the wait never abort a shared fetch, only Cancel does.
type flight struct {
	id     string
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	prev   Entry
	prevOK bool
}

// flightTable coalesces fetches per key. Deduplication itself is delegated to
// singleflight; the side map exists so Cancel can reach the running flight.
// Prevents thundering herds on hot keys.
type flightTable struct {
	mu      sync.Mutex
	group   singleflight.Group
	flights map[string]*flight
}

func newFlightTable() *flightTable {
	return &flightTable{flights: make(map[string]*flight)}
}

// do joins or starts the flight for key. Each caller receives its own result
// channel; fn runs at most once while a flight is outstanding.
func (t *flightTable) do(key string, fn func() (any, error)) <-chan singleflight.Result {
	return t.group.DoChan(key, fn)
}

// register records the running flight for key. Called from inside the
// singleflight function, so at most one register per key is live at a time.
func (t *flightTable) register(base context.Context, key string, prev Entry, prevOK bool) *flight {
	fctx, cancel := context.WithCancel(context.WithoutCancel(base))
	f := &flight{
		id:     uuid.NewString(),
		key:    key,
		ctx:    fctx,
		cancel: cancel,
		prev:   prev,
		prevOK: prevOK,
	}
	t.mu.Lock()
	t.flights[key] = f
	t.mu.Unlock()
	return f
}

// settle removes f from the table if it is still the current flight for its
// key. It reports whether the caller may write the result back; a cancelled
// flight has already been removed and must not write.
func (t *flightTable) settle(f *flight) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.flights[f.key]; ok && cur == f {
		delete(t.flights, f.key)
		return true
	}
	return false
}

// take removes and returns the current flight for key, cancelling its
// context and forgetting the singleflight call so the next fetch starts
// fresh. Returns false when no flight is outstanding.
func (t *flightTable) take(key string) (*flight, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flights[key]
	if !ok {
		return nil, false
	}
	delete(t.flights, key)
	t.group.Forget(key)
	f.cancel()
	return f, true
}

// outstanding reports the number of running flights.
func (t *flightTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flights)
}
