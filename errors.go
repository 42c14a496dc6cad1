package layercache

import (
	"errors"
	"fmt"
)

var (
	// ErrFactoryFailed matches every *FactoryError.
	ErrFactoryFailed = errors.New("layercache: factory failed")
	// ErrSerializationUnsupported: no serializer could handle the value type.
	// Never returned by GetOrCreate; reported via Hooks.SerializationSkipped.
	ErrSerializationUnsupported = errors.New("layercache: serialization unsupported")
	// ErrDecodeFailed: L2 bytes could not be turned back into a value.
	// Handled internally as a miss plus self-heal.
	ErrDecodeFailed = errors.New("layercache: decode failed")
	// ErrBackingStoreUnavailable matches every *BackingStoreError.
	ErrBackingStoreUnavailable = errors.New("layercache: backing store unavailable")
	// ErrInvalidConfiguration matches every *ConfigError.
	ErrInvalidConfiguration = errors.New("layercache: invalid configuration")
	// ErrTypeMismatch: the cached or coalesced value is not of the requested type.
	ErrTypeMismatch = errors.New("layercache: type mismatch")
	ErrClosed       = errors.New("layercache: cache is closed")
)

// FactoryError carries the factory's failure to every caller that waited on
// the same computation. All of them receive the same *FactoryError.
type FactoryError struct {
	Key string
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("layercache: factory for %q failed: %v", e.Key, e.Err)
}

func (e *FactoryError) Unwrap() []error { return []error{ErrFactoryFailed, e.Err} }

// BackingStoreError is returned only when Options.StrictRemote is set.
// Op ∈ {"get", "set", "del"}
type BackingStoreError struct {
	Op  string
	Key string
	Err error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("layercache: remote %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *BackingStoreError) Unwrap() []error { return []error{ErrBackingStoreUnavailable, e.Err} }

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("layercache: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("layercache: serialize %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() []error { return []error{ErrSerializationUnsupported, e.Err} }

type InvalidateError struct {
	Key    string
	GenErr error
	DelErr error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.GenErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.GenErr, e.DelErr)
	case e.GenErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.GenErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.GenErr != nil {
		errs = append(errs, e.GenErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
