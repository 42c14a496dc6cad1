// Package layercache is a two-level get-or-create cache.
//
// A Cache sits in front of an in-process store (L1) and an optional
// out-of-process byte store (L2). GetOrCreate returns a fresh cached value
// when one exists and otherwise runs the factory exactly once per key, no
// matter how many goroutines ask at the same time, then writes the result to
// L1 immediately and to L2 in the background.
//
// Components:
//   - provider.Local: value store with TTL and its own eviction (e.g. Ristretto).
//   - provider.Remote: byte store with TTL (e.g. Redis, BigCache).
//   - serializer.Registry: maps a value's type to the codec used for L2.
//   - genstore.GenStore: per-key generations fencing writes against invalidation.
//   - tagindex.Index: tag -> keys bookkeeping for InvalidateByTag.
//
// Freshness:
//
//	created ── fresh ──> TTL ── stale ──> TTL+StaleWindow ── expired
//
// A stale hit is returned immediately and triggers one background refresh
// routed through the same coalescing path as foreground misses.
//
// Usage:
//
//	l1, _ := ristretto.New(ristretto.Config{NumCounters: 1e6, MaxCost: 1e5, BufferItems: 64})
//	l2, _ := redis.New(redis.Config{Client: rdb})
//	c, _ := layercache.New(layercache.Options{Local: l1, Remote: l2, DefaultTTL: time.Minute})
//
//	u, err := layercache.GetOrCreate(ctx, c, "user:42", func(ctx context.Context) (User, error) {
//	    return db.LoadUser(ctx, 42)
//	}, layercache.WithTags("users"))
package layercache
