// Package genstore keeps a generation counter per cache key.
//
// A key's generation moves forward every time the key is invalidated. The
// cache snapshots the generation before running a factory and refuses to
// store the result if the generation moved in the meantime, so a value
// computed from pre-invalidation data never lands in the cache afterwards.
// L2 envelopes carry the generation they were written under; readers drop
// envelopes whose generation no longer matches.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use Local (default) for in-process generations, or Redis to share them
// between processes that share an L2.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
