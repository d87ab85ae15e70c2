package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	_ "modernc.org/sqlite"

	"github.com/jonwraymond/queryops/query"
)

// ErrNoPath is returned when Open is called without a database path.
var ErrNoPath = errors.New("sqlitestore: path is required")

const schema = `
CREATE TABLE IF NOT EXISTS query_entries (
	key          TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	kind         INTEGER NOT NULL,
	input        BLOB,
	data         BLOB,
	status       INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL,
	stale        INTEGER NOT NULL DEFAULT 0,
	initial_data BLOB,
	evict_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS query_entries_evict_at ON query_entries (evict_at);
`

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file location. Required.
	Path string `env:"QUERYOPS_SQLITE_PATH"`

	// CacheTime is the eviction deadline measured from the last write.
	// Zero or negative uses query.DefaultCacheTime.
	CacheTime time.Duration `env:"QUERYOPS_SQLITE_CACHE_TIME"`

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ConfigFromEnv loads Config from QUERYOPS_* environment variables. Unset
// variables leave the zero value in place.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("sqlitestore: parse env: %w", err)
	}
	return cfg, nil
}

// Store persists query cache entries in SQLite.
//
// Contract:
// - Concurrency: safe for concurrent use; writes serialize on the
//   database with a busy timeout.
// - Errors: Get never errors; storage faults degrade to a miss.
// - Notification: subscribers are kept in memory and observe only writes
//   made through this value, outside locks, in registration order.
type Store struct {
	db        *sql.DB
	cacheTime time.Duration
	now       func() time.Time

	mu      sync.Mutex
	subs    map[string]map[int]func(query.Entry)
	nextSub int
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) a SQLite-backed store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrNoPath
	}
	if cfg.CacheTime <= 0 {
		cfg.CacheTime = query.DefaultCacheTime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cleanPath := filepath.Clean(cfg.Path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{
		db:        db,
		cacheTime: cfg.CacheTime,
		now:       cfg.Now,
		subs:      make(map[string]map[int]func(query.Entry)),
	}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves an entry. Returns (Entry{}, false) on miss, on any storage
// fault, or after the entry's cache time has elapsed.
func (s *Store) Get(ctx context.Context, key string) (query.Entry, bool) {
	if ctx.Err() != nil {
		return query.Entry{}, false
	}

	const q = `SELECT path, kind, input, data, status, error, updated_at, stale, initial_data, evict_at
	           FROM query_entries WHERE key = ?`

	var (
		path      string
		kind      int64
		input     []byte
		data      []byte
		status    int64
		errMsg    string
		updatedAt int64
		stale     bool
		initial   []byte
		evictAt   int64
	)
	row := s.db.QueryRowContext(ctx, q, key)
	if err := row.Scan(&path, &kind, &input, &data, &status, &errMsg, &updatedAt, &stale, &initial, &evictAt); err != nil {
		return query.Entry{}, false
	}

	if s.now().After(fromMillis(evictAt)) && s.Subscribers(key) == 0 {
		// Expired - clean up lazily
		_, _ = s.db.ExecContext(ctx, `DELETE FROM query_entries WHERE key = ? AND evict_at = ?`, key, evictAt)
		return query.Entry{}, false
	}

	return query.Entry{
		Path:        path,
		Kind:        query.Kind(kind),
		Input:       input,
		Data:        data,
		Status:      query.Status(status),
		Error:       errMsg,
		UpdatedAt:   fromMillis(updatedAt),
		Stale:       stale,
		InitialData: initial,
	}, true
}

// Set stores an entry, replacing any previous one, and refreshes its
// eviction deadline.
func (s *Store) Set(ctx context.Context, key string, entry query.Entry) error {
	if err := query.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	const q = `INSERT INTO query_entries (key, path, kind, input, data, status, error, updated_at, stale, initial_data, evict_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON CONFLICT(key) DO UPDATE SET
	             path = excluded.path,
	             kind = excluded.kind,
	             input = excluded.input,
	             data = excluded.data,
	             status = excluded.status,
	             error = excluded.error,
	             updated_at = excluded.updated_at,
	             stale = excluded.stale,
	             initial_data = excluded.initial_data,
	             evict_at = excluded.evict_at`

	_, err := s.db.ExecContext(ctx, q,
		key,
		entry.Path,
		int64(entry.Kind),
		[]byte(entry.Input),
		[]byte(entry.Data),
		int64(entry.Status),
		entry.Error,
		toMillis(entry.UpdatedAt),
		entry.Stale,
		[]byte(entry.InitialData),
		toMillis(s.now().Add(s.cacheTime)),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: set entry: %w", err)
	}

	for _, fn := range s.listeners(key) {
		fn(entry)
	}
	return nil
}

// Delete removes an entry. Idempotent - no error on miss. Subscribers are
// notified with a zero Entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM query_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete entry: %w", err)
	}
	if affected == 0 {
		return nil
	}

	for _, fn := range s.listeners(key) {
		fn(query.Entry{})
	}
	return nil
}

// Subscribe registers fn to observe mutations of the key's entry made
// through this Store value.
func (s *Store) Subscribe(key string, fn func(query.Entry)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(query.Entry))
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
func (s *Store) Subscribers(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key])
}

// Keys returns all stored keys in unspecified order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM query_entries`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlitestore: list keys: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list keys: %w", err)
	}
	return keys, nil
}

// Sweep deletes all entries past their cache time that have no subscribers.
// Returns the number of deleted entries.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := toMillis(s.now())

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM query_entries WHERE evict_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: sweep: %w", err)
	}
	var victims []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("sqlitestore: sweep: %w", err)
		}
		if s.Subscribers(key) == 0 {
			victims = append(victims, key)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("sqlitestore: sweep: %w", err)
	}
	_ = rows.Close()

	evicted := 0
	for _, key := range victims {
		// Re-check the deadline so a concurrent Set that refreshed the
		// entry is not deleted.
		res, err := s.db.ExecContext(ctx, `DELETE FROM query_entries WHERE key = ? AND evict_at < ?`, key, cutoff)
		if err != nil {
			return evicted, fmt.Errorf("sqlitestore: sweep: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return evicted, fmt.Errorf("sqlitestore: sweep: %w", err)
		}
		evicted += int(affected)
	}
	return evicted, nil
}

// listeners snapshots the subscriber list for a key in registration order.
func (s *Store) listeners(key string) []func(query.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.subs[key]))
	for id := range s.subs[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(query.Entry), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[key][id])
	}
	return fns
}

// Ensure Store implements query.Store and query.KeyLister
var (
	_ query.Store     = (*Store)(nil)
	_ query.KeyLister = (*Store)(nil)
)
