// Package kv describes the key-value store the deduplication layer relies on.
//
// Keys live in named regions. A region is a flat string-to-string mapping; the
// only indivisible operations required are SetIfAbsent and DeleteMany.
package kv

import "context"

// Key addresses one field of a region
type Key struct {
	Region string
	Field  string
}

// Store is the key-value store collaborator
type Store interface {
	// SetIfAbsent stores value under key only when the key does not exist yet.
	// It reports whether the value was written.
	SetIfAbsent(ctx context.Context, region, key, value string) (bool, error)

	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, region, key string) (string, bool, error)

	// Set stores value under key unconditionally.
	Set(ctx context.Context, region, key, value string) error

	// DeleteMany removes all keys in a single transaction.
	DeleteMany(ctx context.Context, keys ...Key) error
}
