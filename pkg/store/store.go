package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist (or expired).
var ErrNotFound = errors.New("store: key not found")

// EphemeralStore is the only component that knows the wire format of the fast
// keyed store holding call data before durable migration. Implementations must
// treat ListKeys as a snapshot and stay safe under concurrent writers.
type EphemeralStore interface {
	// Put stores value under key with a TTL (0 means no expiry).
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// ListKeys returns all keys matching a glob pattern, e.g. "metrics:call:*".
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// AppendToList appends value to the list at key. When maxLen > 0 the list
	// is trimmed to its most recent maxLen entries; ttl > 0 refreshes expiry.
	AppendToList(ctx context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error
	// RangeList returns the full list at key in append order. A missing list
	// yields an empty slice, not an error.
	RangeList(ctx context.Context, key string) ([][]byte, error)

	Close() error
}
