// Package sqlitestore provides a SQLite-backed query.Store.
//
// Entries written by one process run survive into the next, so a warmed
// cache can be served, invalidated, and refetched after a restart. Because
// entries are self-describing, refetching needs no state beyond the row.
//
// Subscriptions are process-local. Subscribe observes writes made through
// this Store value only, never writes from another process sharing the
// database file.
package sqlitestore
