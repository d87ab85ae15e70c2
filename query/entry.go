package query

import (
	"encoding/json"
	"time"
)

// Status describes the lifecycle state of a cache entry.
type Status int

const (
	// StatusIdle means the entry has never been fetched.
	StatusIdle Status = iota
	// StatusFetching means a fetch for the entry is in flight.
	StatusFetching
	// StatusSuccess means the last fetch (or direct write) succeeded.
	StatusSuccess
	// StatusError means the last fetch failed.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Kind separates the keyspace of plain queries from infinite queries.
type Kind int

const (
	// KindQuery is a single-result query.
	KindQuery Kind = iota
	// KindInfinite is a paginated query storing pages and page params.
	KindInfinite
)

// String returns the kind segment used in cache keys.
func (k Kind) String() string {
	switch k {
	case KindInfinite:
		return "infinite"
	default:
		return "query"
	}
}

// Entry is the stored state for one cache key. Entries are self-describing:
// they carry the procedure path, kind, and canonical input so an entry can be
// refetched without the original caller present.
//
// Data and InitialData share backing arrays with store internals; callers
// must treat them as read-only.
type Entry struct {
	// Path is the procedure path the entry was fetched from.
	Path string `json:"path"`
	// Kind records whether this is a plain or infinite entry.
	Kind Kind `json:"kind"`
	// Input is the canonical JSON input the key was derived from.
	Input json.RawMessage `json:"input,omitempty"`
	// Data is the cached JSON value. Nil means no data has been written.
	Data json.RawMessage `json:"data,omitempty"`
	// Status is the entry lifecycle state.
	Status Status `json:"status"`
	// Error holds the last fetch error message when Status is StatusError.
	Error string `json:"error,omitempty"`
	// UpdatedAt is the time of the last successful data write.
	UpdatedAt time.Time `json:"updated_at"`
	// Stale marks the entry as explicitly invalidated.
	Stale bool `json:"stale"`
	// InitialData, when set, is the seed value Reset restores.
	InitialData json.RawMessage `json:"initial_data,omitempty"`
}

// HasData reports whether the entry holds a cached value.
func (e Entry) HasData() bool { return len(e.Data) > 0 }

// Fresh reports whether the entry can be served without revalidation.
// A zero or negative staleTime means entries are never fresh.
func (e Entry) Fresh(staleTime time.Duration, now time.Time) bool {
	if e.Status != StatusSuccess || e.Stale || !e.HasData() {
		return false
	}
	if staleTime <= 0 {
		return false
	}
	return now.Sub(e.UpdatedAt) < staleTime
}
