// Package kvstore defines the uniform key/value abstraction every cache
// pattern in this module is built on, plus the backend implementations: a
// RediSearch-capable Redis store, a plain Redis store, and an in-memory
// store for tests and single-process demos.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel error kinds. Callers use errors.Is against these, never string
// matching, since error text is free to change across backends.
var (
	// ErrUnavailable signals a connection/transport failure talking to the
	// backend. It is retryable.
	ErrUnavailable = errors.New("kvstore: backend unavailable")
	// ErrNotSupported signals a capability the backend does not implement
	// (most commonly vector search on a non-vector backend).
	ErrNotSupported = errors.New("kvstore: capability not supported")
	// ErrNotFound signals a missing key on an operation that distinguishes
	// absence from an empty value.
	ErrNotFound = errors.New("kvstore: key not found")
)

// ScoredKey is one hit from a vector KNN search.
type ScoredKey struct {
	Key   string
	Score float64
}

// VectorField describes an ancillary text field carried alongside the
// vector in an index record (used for filtering).
type VectorField struct {
	Name string
}

// Metric is a vector index distance/similarity metric.
type Metric string

// Supported metrics.
const (
	MetricCosine Metric = "cosine"
)

// Store is the KVStore abstraction. Every method takes a context and must
// be safe for concurrent use by multiple goroutines, since every cache
// pattern in this module shares one Store across concurrent callers.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. ttl == 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent atomically creates key with value and ttl, returning false
	// (not an error) if the key already existed.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the given keys and returns the number actually removed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// CompareAndDelete deletes key only if its current value equals
	// expected; returns whether it deleted anything. Used by StampedeGuard
	// to release a lock only if still held by the caller.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// IncrBy atomically adds delta to the integer stored at key (creating it
	// at 0 first if absent) and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// ListPushRight appends value to the tail of the list at key and
	// returns the new list length.
	ListPushRight(ctx context.Context, key string, value []byte) (int64, error)
	// ListPopLeft pops and returns up to count elements from the head of
	// the list at key. Returns fewer than count (possibly zero) if the list
	// is shorter.
	ListPopLeft(ctx context.Context, key string, count int64) ([][]byte, error)
	// ListLen returns the length of the list at key.
	ListLen(ctx context.Context, key string) (int64, error)
	// ListRemove removes up to one occurrence equal to value from the list
	// at key (used to unwind the reliable-queue in-flight list on failure).
	ListRemove(ctx context.Context, key string, value []byte) error

	// HashSet sets the given fields on the hash at key.
	HashSet(ctx context.Context, key string, fields map[string][]byte) error
	// HashGetAll returns every field of the hash at key.
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// Scan enumerates keys matching pattern. It never blocks the backend
	// (no KEYS); cursor 0 starts a new scan, and a non-zero returned cursor
	// means more results remain.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	// VectorIndexCreate creates (idempotently) a vector index over keys
	// matching prefix, using field as the vector attribute, dim dimensions
	// and the given metric. Returns ErrNotSupported on a backend without
	// vector search.
	VectorIndexCreate(ctx context.Context, name, prefix, field string, dim int, metric Metric, extraFields []VectorField) error
	// VectorKNN returns the k nearest keys to vector under index name.
	// Returns ErrNotSupported on a backend without vector search.
	VectorKNN(ctx context.Context, name string, vector []float32, k int) ([]ScoredKey, error)
}
