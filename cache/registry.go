package cache

import (
	"context"
	"time"
)

// Registry is the set of named cache stores shared by every request handler.
// Each store maps a request key to a serialized response.
// Stores are identified by their name, which carries the release version
// (e.g. `atd-static-v2`), so evicting a release means deleting its stores.
//
// Implementations must be thread-safe!
// Writes are whole-entry replacements; concurrent writes to the same key
// are resolved last-write-wins.
type Registry interface {
	// Open creates the named store if it does not exist yet.
	Open(ctx context.Context, store string) error
	// Names returns the names of all existing stores, sorted.
	Names(ctx context.Context) ([]string, error)
	// Match returns the entry stored under key in the given store.
	// The boolean is false if either the store or the key does not exist.
	Match(ctx context.Context, store, key string) (Entry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	// The store is created if needed.
	Put(ctx context.Context, store string, entry Entry) error
	// PutAll stores all entries at once: either every entry is written or none is.
	PutAll(ctx context.Context, store string, entries []Entry) error
	// Keys calls the given callback for each key in the store.
	Keys(ctx context.Context, store string, cb func(string)) error
	// Len returns the number of entries in the store.
	Len(ctx context.Context, store string) (int, error)
	// Delete removes the store with all of its entries.
	// It reports whether the store existed.
	Delete(ctx context.Context, store string) (bool, error)
	// Close releases the underlying resources.
	Close() error
}

// Entry is a single stored response.
type Entry struct {
	Key      string
	StoredAt time.Time
	// HTTP/1.1 representation of the response, see pkg/response-serializer.
	Bytes []byte
}
