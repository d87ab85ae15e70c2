package query

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultCacheTime is how long an untouched entry stays in memory before
// eviction.
const DefaultCacheTime = 5 * time.Minute

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// CacheTime is the eviction deadline measured from the last write.
	// Zero or negative uses DefaultCacheTime.
	CacheTime time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryStore is an in-memory Store implementation.
//
// Entries are evicted lazily on Get once their cache time elapses, or in
// bulk via Sweep. Entries with live subscribers are never evicted.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	subs      map[string]map[int]func(Entry)
	nextSub   int
	cacheTime time.Duration
	now       func() time.Time
}

type memoryEntry struct {
	entry   Entry
	evictAt time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CacheTime <= 0 {
		cfg.CacheTime = DefaultCacheTime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		subs:      make(map[string]map[int]func(Entry)),
		cacheTime: cfg.CacheTime,
		now:       cfg.Now,
	}
}

// Get retrieves an entry. Returns (Entry{}, false) on miss or after the
// entry's cache time has elapsed.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	s.mu.RLock()
	me, ok := s.entries[key]
	var expired bool
	if ok {
		expired = s.now().After(me.evictAt) && len(s.subs[key]) == 0
	}
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if expired {
		// Expired - clean up lazily
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur == me {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return Entry{}, false
	}
	return me.entry, true
}

// Set stores an entry and refreshes its eviction deadline.
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[key] = &memoryEntry{
		entry:   entry,
		evictAt: s.now().Add(s.cacheTime),
	}
	fns := s.listeners(key)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(entry)
	}
	return nil
}

// Delete removes an entry. Idempotent - no error on miss. Subscribers are
// notified with a zero Entry.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	var fns []func(Entry)
	if existed {
		fns = s.listeners(key)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(Entry{})
	}
	return nil
}

// Subscribe registers fn to observe mutations of the key's entry.
func (s *MemoryStore) Subscribe(key string, fn func(Entry)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(Entry))
	}
	s.subs[key][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if fns, ok := s.subs[key]; ok {
			delete(fns, id)
			if len(fns) == 0 {
				delete(s.subs, key)
			}
		}
		s.mu.Unlock()
	}
}

// Subscribers reports the number of live subscriptions for the key.
func (s *MemoryStore) Subscribers(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[key])
}

// Keys returns all stored keys in unspecified order.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Sweep evicts all entries past their cache time that have no subscribers.
// Returns the number of evicted entries.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, me := range s.entries {
		if now.After(me.evictAt) && len(s.subs[k]) == 0 {
			delete(s.entries, k)
			evicted++
		}
	}
	return evicted, nil
}

// listeners snapshots the subscriber list for a key in registration order.
// Caller must hold mu.
func (s *MemoryStore) listeners(key string) []func(Entry) {
	ids := make([]int, 0, len(s.subs[key]))
	for id := range s.subs[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Entry), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[key][id])
	}
	return fns
}

// Ensure MemoryStore implements Store and KeyLister
var (
	_ Store     = (*MemoryStore)(nil)
	_ KeyLister = (*MemoryStore)(nil)
)
