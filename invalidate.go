package layercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// InvalidateByKey removes key from both levels and bumps its generation so
// that a computation already running for key cannot write its result back.
// It returns *InvalidateError only when both the bump and the L2 delete fail.
func (c *Cache) InvalidateByKey(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.invalidate(ctx, key, func() { c.tags.Remove(key) })
}

// InvalidateByTag invalidates every live key currently indexed under tag and
// returns how many it invalidated. Keys whose entries already expired are
// dropped from the index without being counted. Keys written under tag after
// the membership snapshot are not affected.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	members := c.tags.Members(tag, c.now())
	if len(members) == 0 {
		return 0, nil
	}

	var (
		g    errgroup.Group
		n    atomic.Int64
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.fanout)
	for _, m := range members {
		g.Go(func() error {
			// a newer write under the same key keeps its own tag record
			err := c.invalidate(ctx, m.Key, func() { c.tags.RemoveIf(m.Key, m.Seq) })
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			n.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	c.log.Debug("invalidated tag", Fields{"tag": tag, "keys": n.Load()})
	return int(n.Load()), errors.Join(errs...)
}

func (c *Cache) invalidate(ctx context.Context, key string, untag func()) error {
	newGen, genErr := c.gen.Bump(ctx, key)
	if genErr != nil {
		c.log.Warn("generation bump failed", Fields{"key": key, "err": genErr})
	}
	c.local.Del(key)

	var delErr error
	if c.remote != nil {
		rctx, cancel := c.remoteCtx(ctx)
		delErr = c.remote.Del(rctx, c.remoteKey(key))
		cancel()
		if delErr != nil {
			c.hooks.RemoteError("del", key, delErr)
			c.log.Warn("remote del failed", Fields{"key": key, "err": delErr})
		}
	}
	untag()
	c.log.Debug("invalidated key (bumped gen + cleared L1/L2)", Fields{"key": key, "newGen": newGen})

	switch {
	case genErr != nil && delErr != nil:
		c.hooks.InvalidateOutage(key, genErr, delErr)
		return &InvalidateError{Key: key, GenErr: genErr, DelErr: delErr}
	case delErr != nil && c.strict:
		return &BackingStoreError{Op: "del", Key: key, Err: delErr}
	}
	return nil
}

// Flush waits for background L2 writes and stale refreshes to finish.
func (c *Cache) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes background work and releases every store the cache uses.
// Calls after the first return the first call's result.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		// no background work starts after this point
		c.bgMu.Lock()
		c.closed.Store(true)
		c.bgMu.Unlock()
		var errs []error
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if c.ownTags {
			_ = c.tags.Close()
		}
		// gen store first (best effort)
		_ = c.gen.Close(ctx)
		if c.remote != nil {
			if err := c.remote.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.local.Close(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
