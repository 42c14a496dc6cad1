package layercache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An L2 entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "version", "expired", "gen_mismatch", "codec_mismatch", "type_mismatch", "value_decode"}
	SelfHeal(key, reason string)

	// L2 I/O failed. op ∈ {"get", "set", "del"}
	RemoteError(op, key string, err error)

	// A value could not be serialized; it was returned and kept in L1 only.
	SerializationSkipped(key string, err error)

	// The factory returned an error (or panicked). Nothing was cached.
	FactoryFailed(key string, err error)

	// A stale entry was served; a background refresh was started or is running.
	StaleServed(key string)

	// A computed value was not cached because its key was invalidated while
	// the factory ran.
	WriteDiscarded(key string)

	// Both gen bump and L2 delete failed during invalidation (likely backend outage).
	InvalidateOutage(key string, genErr, delErr error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) RemoteError(string, string, error)     {}
func (NopHooks) SerializationSkipped(string, error)    {}
func (NopHooks) FactoryFailed(string, error)           {}
func (NopHooks) StaleServed(string)                    {}
func (NopHooks) WriteDiscarded(string)                 {}
func (NopHooks) InvalidateOutage(string, error, error) {}
