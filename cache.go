package layercache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	gen "github.com/unkn0wn-root/layercache/genstore"
	"github.com/unkn0wn-root/layercache/internal/expiry"
	"github.com/unkn0wn-root/layercache/internal/flight"
	"github.com/unkn0wn-root/layercache/internal/wire"
	pr "github.com/unkn0wn-root/layercache/provider"
	"github.com/unkn0wn-root/layercache/serializer"
	"github.com/unkn0wn-root/layercache/tagindex"
)

const (
	defaultTTL              = 10 * time.Minute
	defaultGenRetention     = 30 * 24 * time.Hour
	defaultGenSweep         = time.Hour
	defaultTagSweep         = time.Minute
	defaultInvalidateFanout = 16
)

// PanicError is the Err of a *FactoryError whose factory panicked.
type PanicError = flight.PanicError

// Cache coordinates L1, L2 and per-key computations. Safe for concurrent use.
type Cache struct {
	local  pr.Local
	remote pr.Remote
	ns     string
	ser    *serializer.Registry
	gen    gen.GenStore
	tags   *tagindex.Index
	flight *flight.Group
	policy expiry.Policy

	log   Logger
	hooks Hooks
	now   func() time.Time
	cost  CostFunc

	enabled       bool
	strict        bool
	syncWrites    bool
	remoteTimeout time.Duration
	fanout        int
	ownTags       bool

	seq        atomic.Uint64
	refreshing sync.Map   // key -> struct{}; at most one background refresh per key
	bgMu       sync.Mutex // orders bg.Add against Close
	bg         sync.WaitGroup
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

func New(opts Options) (*Cache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		local:         opts.Local,
		remote:        opts.Remote,
		ns:            opts.Namespace,
		enabled:       !opts.Disabled,
		strict:        opts.StrictRemote,
		syncWrites:    opts.SyncRemoteWrites,
		remoteTimeout: opts.RemoteTimeout,
		flight:        flight.New(opts.MaxInFlight),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.fanout = coalesce(opts.InvalidateConcurrency, defaultInvalidateFanout)
	c.policy = expiry.Policy{
		TTL:         coalesce(opts.DefaultTTL, defaultTTL),
		StaleWindow: opts.DefaultStaleWindow,
		Jitter:      opts.Jitter,
	}

	if opts.Clock != nil {
		c.now = opts.Clock
	} else {
		c.now = time.Now
	}
	if opts.ComputeCost != nil {
		c.cost = opts.ComputeCost
	} else {
		c.cost = func(string, any) int64 { return 1 }
	}

	if opts.Serializers != nil {
		c.ser = opts.Serializers
	} else {
		c.ser = serializer.Default()
	}
	c.ser.Freeze()

	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		c.gen = gen.NewLocal(
			coalesce(opts.GenCleanupInterval, defaultGenSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}
	if opts.Tags != nil {
		c.tags = opts.Tags
	} else {
		c.tags = tagindex.New(coalesce(opts.TagSweepInterval, defaultTagSweep), tagindex.WithClock(c.now))
		c.ownTags = true
	}

	if n, ok := c.local.(pr.EvictionNotifier); ok {
		n.OnEvict(c.onEvict)
	}
	return c, nil
}

// GetOrCreate returns the cached value for key or computes, stores and
// returns it. Concurrent callers for the same key share one factory run and
// one result (or one *FactoryError). A caller whose ctx ends stops waiting
// without canceling the computation for the others.
//
// Failures are never cached. L2 and serialization problems degrade to L1-only
// behavior unless Options.StrictRemote is set.
func GetOrCreate[V any](ctx context.Context, c *Cache, key string, factory Factory[V], opts ...EntryOption) (V, error) {
	var zero V
	if factory == nil {
		return zero, &ConfigError{Field: "factory", Reason: "must not be nil"}
	}
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if !c.enabled {
		v, err := factory(ctx)
		if err != nil {
			return zero, &FactoryError{Key: key, Err: err}
		}
		return v, nil
	}

	o := resolveOptions[V](c, opts)
	fn := c.leader(key, erase(factory), o)
	if !o.forceRefresh {
		if v, ok, err := lookup[V](ctx, c, key, o, fn); err != nil || ok {
			return v, err
		}
	}

	res, err, _ := c.flight.Do(ctx, key, fn)
	if err != nil {
		return zero, err
	}
	v, ok := as[V](res)
	if !ok {
		return zero, fmt.Errorf("%w: %q computed %T, want %s", ErrTypeMismatch, key, res, o.typ)
	}
	return v, nil
}

// Get looks key up in L1 then L2 without computing anything. Stale values are
// returned as hits.
func Get[V any](ctx context.Context, c *Cache, key string, opts ...EntryOption) (V, bool, error) {
	var zero V
	if c.closed.Load() {
		return zero, false, ErrClosed
	}
	if !c.enabled {
		return zero, false, nil
	}
	return lookup[V](ctx, c, key, resolveOptions[V](c, opts), nil)
}

// Set stores value under key as if a factory had produced it.
func Set[V any](ctx context.Context, c *Cache, key string, value V, opts ...EntryOption) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.enabled {
		return nil
	}
	o := resolveOptions[V](c, opts)
	g, err := c.gen.Snapshot(ctx, key)
	if err != nil {
		c.log.Warn("generation snapshot failed; Set skipped", Fields{"key": key, "err": err})
		if c.strict {
			return &BackingStoreError{Op: "gen", Key: key, Err: err}
		}
		return nil
	}
	return c.store(ctx, key, value, o, g)
}

func erase[V any](f Factory[V]) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) { return f(ctx) }
}

// lookup checks L1 then L2. refresh, when non-nil, is started in the
// background for stale hits.
func lookup[V any](ctx context.Context, c *Cache, key string, o callOptions, refresh func(context.Context) (any, error)) (V, bool, error) {
	var zero V
	now := c.now()
	if e, ok := c.getLocal(key); ok {
		if v, ok := as[V](e.value); ok {
			switch e.deadlines.State(now) {
			case expiry.Fresh:
				c.touch(ctx, e, now)
				return v, true, nil
			case expiry.Stale:
				c.serveStale(key, refresh)
				return v, true, nil
			}
		}
	}
	if o.skipRemote {
		return zero, false, nil
	}

	e, err := c.remoteGet(ctx, key, o.typ)
	if err != nil || e == nil {
		return zero, false, err
	}
	v, ok := as[V](e.value)
	if !ok {
		return zero, false, nil
	}
	c.putLocal(e, now)
	if c.fenced(ctx, e) {
		// invalidated after remoteGet checked the generation
		return zero, false, nil
	}
	if e.deadlines.State(now) == expiry.Stale {
		c.serveStale(key, refresh)
	}
	return v, true, nil
}

// leader builds the computation shared by all callers of key.
// The generation is snapshotted before the factory runs; if it moved by the
// time the result is written, the write is dropped.
func (c *Cache) leader(key string, factory func(context.Context) (any, error), o callOptions) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		g, genErr := c.gen.Snapshot(ctx, key)
		v, err := runFactory(ctx, key, factory)
		if err != nil {
			c.hooks.FactoryFailed(key, err)
			c.log.Debug("factory failed; nothing cached", Fields{"key": key, "err": err})
			return nil, &FactoryError{Key: key, Err: err}
		}
		if genErr != nil {
			c.log.Warn("generation snapshot failed; result not cached", Fields{"key": key, "err": genErr})
			return v, nil
		}
		if err := c.store(ctx, key, v, o, g); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func runFactory(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Key: key, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// store writes v to L1 synchronously and to L2 in the background
// (synchronously with Options.SyncRemoteWrites).
func (c *Cache) store(ctx context.Context, key string, v any, o callOptions, g uint64) error {
	if !o.settings.Cacheable() {
		return nil
	}
	now := c.now()
	e := &entry{
		key:       key,
		value:     v,
		typ:       o.typ,
		createdAt: now,
		deadlines: o.settings.Deadlines(now),
		sliding:   o.settings.Sliding,
		tags:      o.tags,
		size:      o.size,
		gen:       g,
		seq:       c.seq.Add(1),
		remote:    !o.skipRemote,
	}
	if e.size <= 0 {
		e.size = c.cost(key, v)
	}
	c.putLocal(e, now)

	// an invalidation that started after the snapshot wins
	if c.fenced(ctx, e) {
		return nil
	}
	if o.skipRemote {
		return nil
	}
	return c.writeRemote(ctx, e)
}

func (c *Cache) getLocal(key string) (*entry, bool) {
	raw, ok := c.local.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := raw.(*entry)
	return e, ok
}

// putLocal stores e in L1 for its remaining lifetime and records its tags.
// Tags are recorded even if L1 refuses the entry, since L2 may still hold it.
func (c *Cache) putLocal(e *entry, now time.Time) {
	ttl := e.deadlines.Remaining(now)
	if ttl <= 0 {
		return
	}
	if !c.local.Set(e.key, e, e.size, ttl) {
		c.log.Debug("L1 refused entry", Fields{"key": e.key, "cost": e.size})
	}
	c.tags.Set(e.key, e.tags, e.seq, e.deadlines.StaleUntil)
}

// dropLocal removes e from L1 unless a newer write replaced it.
func (c *Cache) dropLocal(e *entry) {
	if cur, ok := c.getLocal(e.key); ok && cur == e {
		c.local.Del(e.key)
	}
	c.tags.RemoveIf(e.key, e.seq)
}

// fenced reports whether key's generation moved past e.gen, in which case e
// has been taken back out of L1.
func (c *Cache) fenced(ctx context.Context, e *entry) bool {
	cur, err := c.gen.Snapshot(ctx, e.key)
	if err == nil && cur == e.gen {
		return false
	}
	c.dropLocal(e)
	c.hooks.WriteDiscarded(e.key)
	c.log.Debug("write discarded (key invalidated)", Fields{"key": e.key, "gen": e.gen, "current": cur, "err": err})
	return true
}

// touch renews a sliding entry once less than half its window is left.
// Only the entry L1 still holds is renewed.
func (c *Cache) touch(ctx context.Context, e *entry, now time.Time) {
	if e.sliding <= 0 || e.deadlines.FreshUntil.Sub(now) > e.sliding/2 {
		return
	}
	if cur, ok := c.getLocal(e.key); !ok || cur != e {
		return
	}
	ne := *e
	ne.deadlines = e.deadlines.Renew(now, e.sliding)
	ne.seq = c.seq.Add(1)
	c.putLocal(&ne, now)
	c.fenced(ctx, &ne)
}

// spawn runs fn in the background unless the cache is closing.
// Close waits for everything spawn started.
func (c *Cache) spawn(fn func()) bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
	return true
}

// serveStale starts at most one background refresh per key.
func (c *Cache) serveStale(key string, refresh func(context.Context) (any, error)) {
	c.hooks.StaleServed(key)
	if refresh == nil {
		return
	}
	if _, busy := c.refreshing.LoadOrStore(key, struct{}{}); busy {
		return
	}
	started := c.spawn(func() {
		defer c.refreshing.Delete(key)
		if _, err, _ := c.flight.Do(context.Background(), key, refresh); err != nil {
			c.log.Warn("background refresh failed; serving stale", Fields{"key": key, "err": err})
		}
	})
	if !started {
		c.refreshing.Delete(key)
	}
}

func (c *Cache) onEvict(v any) {
	e, ok := v.(*entry)
	if !ok || e.remote {
		// L2 may still hold the entry; the index sweep drops it on expiry
		return
	}
	c.tags.RemoveIf(e.key, e.seq)
}

func (c *Cache) remoteKey(key string) string {
	if c.ns == "" {
		return key
	}
	return c.ns + ":" + key
}

func (c *Cache) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.remoteTimeout > 0 {
		return context.WithTimeout(ctx, c.remoteTimeout)
	}
	return ctx, func() {}
}

// remoteFailed reports an L2 error and converts it to what the caller sees.
func (c *Cache) remoteFailed(op, key string, err error) error {
	c.hooks.RemoteError(op, key, err)
	c.log.Warn("remote "+op+" failed", Fields{"key": key, "err": err})
	if c.strict {
		return &BackingStoreError{Op: op, Key: key, Err: err}
	}
	return nil
}

// remoteGet returns a usable (fresh or stale) L2 entry, nil on miss.
// Anything unreadable is deleted from L2 and treated as a miss.
func (c *Cache) remoteGet(ctx context.Context, key string, typ reflect.Type) (*entry, error) {
	rctx, cancel := c.remoteCtx(ctx)
	raw, ok, err := c.remote.Get(rctx, c.remoteKey(key))
	cancel()
	if err != nil {
		return nil, c.remoteFailed("get", key, err)
	}
	if !ok {
		return nil, nil
	}

	we, err := wire.DecodeEntry(raw)
	if err != nil {
		reason := "corrupt"
		if errors.Is(err, wire.ErrUnsupportedVersion) {
			reason = "version"
		}
		c.selfHeal(ctx, key, reason, err)
		return nil, nil
	}

	now := c.now()
	d := expiry.Deadlines{FreshUntil: we.FreshUntil, StaleUntil: we.StaleUntil}
	if d.State(now) == expiry.Expired {
		c.selfHeal(ctx, key, "expired", nil)
		return nil, nil
	}

	g, err := c.gen.Snapshot(ctx, key)
	if err != nil {
		c.log.Warn("generation snapshot failed; ignoring L2 entry", Fields{"key": key, "err": err})
		return nil, nil
	}
	if g != we.Gen {
		c.selfHeal(ctx, key, "gen_mismatch", nil)
		return nil, nil
	}

	s, err := c.ser.Resolve(typ)
	if err != nil {
		// no codec for the requested type; the entry may be fine for another reader
		return nil, nil
	}
	if s.Name != we.Codec {
		c.selfHeal(ctx, key, "codec_mismatch", nil)
		return nil, nil
	}
	if we.Type != typeName(typ) {
		// same codec, different Go type: decoding would silently zero fields
		c.selfHeal(ctx, key, "type_mismatch", nil)
		return nil, nil
	}
	v, err := s.Decode(we.Payload)
	if err != nil {
		c.selfHeal(ctx, key, "value_decode", fmt.Errorf("%w: %w", ErrDecodeFailed, err))
		return nil, nil
	}

	e := &entry{
		key:       key,
		value:     v,
		typ:       typ,
		createdAt: we.CreatedAt,
		deadlines: d,
		tags:      we.Tags,
		gen:       we.Gen,
		seq:       c.seq.Add(1),
		remote:    true,
	}
	e.size = c.cost(key, v)
	return e, nil
}

func (c *Cache) selfHeal(ctx context.Context, key, reason string, cause error) {
	c.hooks.SelfHeal(key, reason)
	c.log.Debug("self-heal: dropping L2 entry", Fields{"key": key, "reason": reason, "err": cause})
	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	if err := c.remote.Del(rctx, c.remoteKey(key)); err != nil {
		c.hooks.RemoteError("del", key, err)
		c.log.Warn("self-heal delete failed", Fields{"key": key, "err": err})
	}
}

func (c *Cache) encode(e *entry) ([]byte, error) {
	s, err := c.ser.Resolve(e.typ)
	if err != nil {
		return nil, &SerializationError{Key: e.key, Err: err}
	}
	payload, err := s.Encode(e.value)
	if err != nil {
		return nil, &SerializationError{Key: e.key, Err: err}
	}
	b, err := wire.EncodeEntry(wire.Entry{
		Gen:        e.gen,
		CreatedAt:  e.createdAt,
		FreshUntil: e.deadlines.FreshUntil,
		StaleUntil: e.deadlines.StaleUntil,
		Codec:      s.Name,
		Type:       typeName(e.typ),
		Tags:       e.tags,
		Payload:    payload,
	})
	if err != nil {
		return nil, &SerializationError{Key: e.key, Err: err}
	}
	return b, nil
}

func (c *Cache) writeRemote(ctx context.Context, e *entry) error {
	b, err := c.encode(e)
	if err != nil {
		c.hooks.SerializationSkipped(e.key, err)
		c.log.Warn("value kept in L1 only", Fields{"key": e.key, "type": e.typ.String(), "err": err})
		return nil
	}
	ttl := e.deadlines.Remaining(c.now())
	if ttl <= 0 {
		return nil
	}
	if c.syncWrites {
		return c.remoteSet(ctx, e.key, b, ttl)
	}
	wctx := context.WithoutCancel(ctx)
	if !c.spawn(func() { _ = c.remoteSet(wctx, e.key, b, ttl) }) {
		c.log.Debug("cache closing; L2 write skipped", Fields{"key": e.key})
	}
	return nil
}

func (c *Cache) remoteSet(ctx context.Context, key string, b []byte, ttl time.Duration) error {
	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	if err := c.remote.Set(rctx, c.remoteKey(key), b, ttl); err != nil {
		return c.remoteFailed("set", key, err)
	}
	return nil
}
