package query

import (
	"context"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Store is the interface for holding query cache entries.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get should never error; storage faults degrade to a miss.
// - Notification: Set must notify the key's subscribers after a successful
//   write, and Delete must notify them with a zero Entry. Notifications run
//   outside internal locks, in registration order.
type Store interface {
	// Get retrieves an entry. Returns (Entry{}, false) on miss.
	Get(ctx context.Context, key string) (Entry, bool)

	// Set stores an entry, replacing any previous one.
	Set(ctx context.Context, key string, entry Entry) error

	// Delete removes an entry. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn to observe every mutation of the key's entry.
	// The returned cancel func removes the registration and is idempotent.
	Subscribe(key string, fn func(Entry)) (cancel func())

	// Subscribers reports the number of live subscriptions for the key.
	Subscribers(key string) int
}

// KeyLister is an optional Store extension for enumerating stored keys.
// Invalidation by path or of all entries requires it.
type KeyLister interface {
	// Keys returns all stored keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)
}

// ValidateKey checks if a key is valid for storage.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
