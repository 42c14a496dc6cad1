package layercache

import (
	"context"
	"reflect"
	"time"

	gen "github.com/unkn0wn-root/layercache/genstore"
	"github.com/unkn0wn-root/layercache/internal/expiry"
	pr "github.com/unkn0wn-root/layercache/provider"
	"github.com/unkn0wn-root/layercache/serializer"
	"github.com/unkn0wn-root/layercache/tagindex"
)

// Factory computes the value for a missing key. It runs under a context that
// stays alive while at least one caller is still waiting for the result.
type Factory[V any] func(ctx context.Context) (V, error)

// CostFunc returns the L1 cost of a value (Ristretto-style). Default 1.
type CostFunc func(key string, value any) int64

// Options configure a Cache. Only Local is required; others have sensible defaults.
type Options struct {
	// Required
	Local pr.Local

	Remote      pr.Remote            // nil => L1 only
	Namespace   string               // prefix for L2 keys ("ns:key"); empty => none
	Serializers *serializer.Registry // nil => serializer.Default() (JSON fallback); frozen by New
	GenStore    gen.GenStore         // nil => in-process generations
	Tags        *tagindex.Index      // nil => in-process index owned by the cache

	DefaultTTL         time.Duration // 0 => 10m
	DefaultStaleWindow time.Duration // 0 => no stale window
	Jitter             time.Duration // up to Jitter extra fresh time per write; 0 => none

	MaxInFlight           int           // bound on concurrent factories; 0 => unbounded
	InvalidateConcurrency int           // parallel key invalidations per tag; 0 => 16
	RemoteTimeout         time.Duration // per L2 call; 0 => caller's context only
	StrictRemote          bool          // surface L2 errors instead of degrading to L1
	SyncRemoteWrites      bool          // write L2 before GetOrCreate returns

	GenCleanupInterval time.Duration // in-process generations; 0 => 1h
	GenRetention       time.Duration // 0 => 30d
	TagSweepInterval   time.Duration // 0 => 1m

	Disabled    bool     // every call runs the factory; nothing is stored
	ComputeCost CostFunc // default 1
	Logger      Logger   // if nil, NopLogger is used
	Hooks       Hooks    // if nil, NopHooks is used
	Clock       func() time.Time
}

// Validate reports the first unusable setting as a *ConfigError.
func (o Options) Validate() error {
	switch {
	case o.Local == nil:
		return &ConfigError{Field: "Local", Reason: "an L1 store is required"}
	case o.DefaultTTL < 0:
		return &ConfigError{Field: "DefaultTTL", Reason: "must not be negative"}
	case o.DefaultStaleWindow < 0:
		return &ConfigError{Field: "DefaultStaleWindow", Reason: "must not be negative"}
	case o.Jitter < 0:
		return &ConfigError{Field: "Jitter", Reason: "must not be negative"}
	case o.MaxInFlight < 0:
		return &ConfigError{Field: "MaxInFlight", Reason: "must not be negative"}
	case o.InvalidateConcurrency < 0:
		return &ConfigError{Field: "InvalidateConcurrency", Reason: "must not be negative"}
	case o.RemoteTimeout < 0:
		return &ConfigError{Field: "RemoteTimeout", Reason: "must not be negative"}
	case o.GenCleanupInterval < 0 || o.GenRetention < 0:
		return &ConfigError{Field: "GenCleanupInterval", Reason: "must not be negative"}
	case o.TagSweepInterval < 0:
		return &ConfigError{Field: "TagSweepInterval", Reason: "must not be negative"}
	case len(o.Namespace) > 0xFF:
		return &ConfigError{Field: "Namespace", Reason: "longer than 255 bytes"}
	}
	return nil
}

// EntryOption adjusts a single GetOrCreate/Get/Set call.
type EntryOption func(*entryConfig)

type entryConfig struct {
	override     expiry.Override
	tags         []string
	size         int64
	forceRefresh bool
	skipRemote   bool
}

// WithTTL overrides the fresh window. ttl <= 0 disables caching for the call:
// concurrent callers still share one computation but nothing is stored.
func WithTTL(ttl time.Duration) EntryOption {
	return func(c *entryConfig) { c.override.TTL = &ttl }
}

func WithStaleWindow(d time.Duration) EntryOption {
	return func(c *entryConfig) { c.override.StaleWindow = &d }
}

// WithSliding makes the entry fresh for d after its last L1 read.
func WithSliding(d time.Duration) EntryOption {
	return func(c *entryConfig) { c.override.Sliding = d }
}

// WithTags associates the stored entry with tags for InvalidateByTag.
func WithTags(tags ...string) EntryOption {
	return func(c *entryConfig) { c.tags = append(c.tags, tags...) }
}

// WithSize sets the L1 cost explicitly, bypassing Options.ComputeCost.
func WithSize(n int64) EntryOption {
	return func(c *entryConfig) { c.size = n }
}

// WithForceRefresh skips both lookups and recomputes (still coalesced).
func WithForceRefresh() EntryOption {
	return func(c *entryConfig) { c.forceRefresh = true }
}

// WithSkipRemote keeps the call to L1 only.
func WithSkipRemote() EntryOption {
	return func(c *entryConfig) { c.skipRemote = true }
}

// callOptions is a resolved entryConfig for one typed call.
type callOptions struct {
	settings     expiry.Settings
	tags         []string
	size         int64
	forceRefresh bool
	skipRemote   bool
	typ          reflect.Type
}

func resolveOptions[V any](c *Cache, opts []EntryOption) callOptions {
	var ec entryConfig
	for _, o := range opts {
		if o != nil {
			o(&ec)
		}
	}
	return callOptions{
		settings:     c.policy.Resolve(ec.override),
		tags:         ec.tags,
		size:         ec.size,
		forceRefresh: ec.forceRefresh,
		skipRemote:   ec.skipRemote || c.remote == nil,
		typ:          reflect.TypeOf((*V)(nil)).Elem(),
	}
}
