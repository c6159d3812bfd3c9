// Package kv defines the shared expiring key store used by the poll backend.
//
// Records are plain keys with a time-to-live. Indexes are sets of member
// strings that group records (one index per room) and carry their own TTL so
// that abandoned indexes disappear as well. Implementations must apply a
// value and its TTL atomically; a key never exists without its expiry.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is an expiring key/value store with set indexes.
type Store interface {
	// SetEx stores value under key, expiring after ttl.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the live value of key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns one entry per key, nil for missing or expired keys.
	GetMany(ctx context.Context, keys ...string) ([][]byte, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// IndexAdd adds member to index and extends the index expiry to ttl.
	IndexAdd(ctx context.Context, index, member string, ttl time.Duration) error
	// IndexMembers lists the members of a live index.
	IndexMembers(ctx context.Context, index string) ([]string, error)
	// IndexRemove removes members from index.
	IndexRemove(ctx context.Context, index string, members ...string) error
	// IndexPrune removes each member whose record key (the map value) is
	// missing or expired. The existence check and the removal happen
	// atomically per member, so a record refreshed concurrently keeps its
	// index entry. It returns the number of members removed.
	IndexPrune(ctx context.Context, index string, members map[string]string) (int, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
