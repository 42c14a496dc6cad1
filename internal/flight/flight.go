// Package flight coalesces concurrent computations for the same key.
//
// Unlike x/sync/singleflight, the computation runs under its own context that
// is detached from the caller who started it. Each caller waits with its own
// context; the computation's context is canceled only after every attached
// caller has given up. An abandoned computation keeps its key until fn
// returns; callers arriving in the meantime wait for it to finish and then
// start a new one, so fn never runs twice at once for the same key.
package flight

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const shardCount = 64

// PanicError is delivered to every waiter when fn panics.
type PanicError struct {
	Key   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("layercache: factory for %q panicked: %v", e.Key, e.Value)
}

type call struct {
	done    chan struct{}
	val     any
	err     error
	waiters int // guarded by the shard lock
	dups    int
	// abandoned is set once every waiter has left; guarded by the shard lock.
	abandoned bool
	cancel    context.CancelFunc
}

type shard struct {
	mu    sync.Mutex
	calls map[string]*call
}

// Group tracks in-flight computations. The zero value is not usable; use New.
type Group struct {
	shards [shardCount]shard
	slots  *semaphore.Weighted
}

// New returns a Group. maxInFlight > 0 bounds the number of concurrently
// running computations across all keys; callers that would start a new one
// block until a slot frees up (or their context ends).
func New(maxInFlight int) *Group {
	g := &Group{}
	for i := range g.shards {
		g.shards[i].calls = make(map[string]*call)
	}
	if maxInFlight > 0 {
		g.slots = semaphore.NewWeighted(int64(maxInFlight))
	}
	return g
}

func (g *Group) shard(key string) *shard {
	return &g.shards[xxhash.Sum64String(key)%shardCount]
}

// Do runs fn once for all concurrent callers of key and returns its result.
// shared reports whether the result was delivered to more than one caller.
// If ctx ends first, Do returns ctx.Err() and detaches; the computation keeps
// running for the remaining waiters.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, err error, shared bool) {
	s := g.shard(key)

	s.mu.Lock()
	if c, ok := s.calls[key]; ok {
		if c.abandoned {
			s.mu.Unlock()
			return g.retryAfter(ctx, key, c, fn)
		}
		c.waiters++
		c.dups++
		s.mu.Unlock()
		return g.wait(ctx, s, c)
	}
	s.mu.Unlock()

	if g.slots != nil {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return nil, err, false
		}
	}

	s.mu.Lock()
	// someone may have started while we waited for a slot
	if c, ok := s.calls[key]; ok {
		if g.slots != nil {
			g.slots.Release(1)
		}
		if c.abandoned {
			s.mu.Unlock()
			return g.retryAfter(ctx, key, c, fn)
		}
		c.waiters++
		c.dups++
		s.mu.Unlock()
		return g.wait(ctx, s, c)
	}
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
	s.calls[key] = c
	s.mu.Unlock()

	go g.run(fctx, s, key, c, fn)
	return g.wait(ctx, s, c)
}

// retryAfter waits for an abandoned computation to return before starting over.
func (g *Group) retryAfter(ctx context.Context, key string, c *call, fn func(context.Context) (any, error)) (any, error, bool) {
	select {
	case <-c.done:
		return g.Do(ctx, key, fn)
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

func (g *Group) run(ctx context.Context, s *shard, key string, c *call, fn func(context.Context) (any, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.val, c.err = nil, &PanicError{Key: key, Value: r, Stack: debug.Stack()}
		}
		s.mu.Lock()
		if s.calls[key] == c {
			delete(s.calls, key)
		}
		s.mu.Unlock()
		c.cancel()
		if g.slots != nil {
			g.slots.Release(1)
		}
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

func (g *Group) wait(ctx context.Context, s *shard, c *call) (any, error, bool) {
	select {
	case <-c.done:
		s.mu.Lock()
		shared := c.dups > 0
		s.mu.Unlock()
		return c.val, c.err, shared
	case <-ctx.Done():
	}

	s.mu.Lock()
	c.waiters--
	abandoned := c.waiters == 0
	if abandoned {
		// the slot stays until run returns
		c.abandoned = true
	}
	s.mu.Unlock()
	if abandoned {
		c.cancel()
	}
	return nil, ctx.Err(), false
}

// Len returns the number of keys with a computation in flight.
func (g *Group) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.calls)
		s.mu.Unlock()
	}
	return n
}

// InFlight reports whether key has a computation in flight.
func (g *Group) InFlight(key string) bool {
	s := g.shard(key)
	s.mu.Lock()
	_, ok := s.calls[key]
	s.mu.Unlock()
	return ok
}
