// Package provider defines the storage contracts used by layercache.
//
// Local is the in-process level (L1). It holds Go values as-is, is expected to
// be fast and non-blocking, and owns its own eviction policy.
//
// Remote is the out-of-process level (L2). It is a byte store with TTLs and
// must be byte-for-byte transparent: Get must return exactly the []byte
// previously passed to Set for a key (no prepended/appended metadata, no
// re-encoding). If a store compresses internally it must fully reverse it.
package provider

import (
	"context"
	"time"
)

// Local is an in-process value store with TTLs. Must be safe for concurrent use.
type Local interface {
	// Get returns (value, true) on hit.
	Get(key string) (any, bool)
	// Set stores value. Returns false when the store refused the write
	// (admission policy, capacity). ttl <= 0 means no expiry.
	Set(key string, value any, cost int64, ttl time.Duration) bool
	// Del removes a key (best-effort).
	Del(key string)
	// Close releases resources.
	Close() error
}

// EvictionNotifier is implemented by Local stores that can report values they
// dropped on their own (capacity eviction, TTL expiry, admission rejection).
// Explicit Del must not be reported.
type EvictionNotifier interface {
	OnEvict(fn func(value any))
}

// Remote is a byte store with TTLs. Must be safe for concurrent use.
type Remote interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
