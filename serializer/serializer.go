// Package serializer maps a value's runtime type to the functions that turn
// it into bytes for the distributed cache level and back.
//
// Lookup order in Resolve:
//  1. a codec registered for the exact type
//  2. a built-in codec ([]byte, string, bool, integer and float kinds)
//  3. the structured fallback (JSON, Msgpack, CBOR), if one is configured
//
// A Registry is mutable until Freeze; the cache freezes it when constructed.
package serializer

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

var (
	ErrUnsupportedType = errors.New("serializer: unsupported type")
	ErrEncode          = errors.New("serializer: encode failed")
	ErrDecode          = errors.New("serializer: decode failed")
	ErrFrozen          = errors.New("serializer: registry is frozen")
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Fallback handles any type without a dedicated codec.
// Unmarshal receives a pointer to a zero value of the target type.
type Fallback interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, ptr any) error
}

// Serializer is a type-erased codec resolved for one type.
// Name is written next to the payload so a reader can reject bytes produced
// by a different codec.
type Serializer struct {
	Name   string
	Encode func(any) ([]byte, error)
	Decode func([]byte) (any, error)
}

type Registry struct {
	mu       sync.RWMutex
	codecs   map[reflect.Type]Serializer
	fallback Fallback
	frozen   atomic.Bool
}

// NewRegistry returns a registry with built-ins only and no fallback.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[reflect.Type]Serializer)}
}

// Default returns a registry with built-ins and a JSON fallback.
func Default() *Registry {
	r := NewRegistry()
	r.fallback = JSON{}
	return r
}

// Register binds c to V under name. Registering the same type twice replaces
// the earlier codec.
func Register[V any](r *Registry, name string, c Codec[V]) error {
	if name == "" || len(name) > 0xFF {
		return fmt.Errorf("serializer: invalid codec name %q", name)
	}
	if c == nil {
		return fmt.Errorf("serializer: nil codec for %q", name)
	}
	t := reflect.TypeOf((*V)(nil)).Elem()
	s := Serializer{
		Name: name,
		Encode: func(v any) ([]byte, error) {
			tv, ok := v.(V)
			if !ok {
				return nil, fmt.Errorf("%w: %s codec got %T", ErrEncode, name, v)
			}
			b, err := c.Encode(tv)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
			}
			return b, nil
		},
		Decode: func(b []byte) (any, error) {
			v, err := c.Decode(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
			}
			return v, nil
		},
	}
	return r.put(t, s)
}

// MustRegister is like Register but panics on error.
func MustRegister[V any](r *Registry, name string, c Codec[V]) {
	if err := Register(r, name, c); err != nil {
		panic(err)
	}
}

func (r *Registry) put(t reflect.Type, s Serializer) error {
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.codecs[t] = s
	return nil
}

// SetFallback configures (or, with nil, removes) the structured fallback.
func (r *Registry) SetFallback(f Fallback) error {
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen.Store(true) }

func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Resolve returns the serializer for t or ErrUnsupportedType.
func (r *Registry) Resolve(t reflect.Type) (Serializer, error) {
	if t == nil {
		return Serializer{}, fmt.Errorf("%w: <nil>", ErrUnsupportedType)
	}
	r.mu.RLock()
	s, ok := r.codecs[t]
	fb := r.fallback
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if s, ok := builtin(t); ok {
		return s, nil
	}
	if fb != nil && structured(t) {
		return fallbackSerializer(fb, t), nil
	}
	return Serializer{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// ResolveFor is Resolve for a static type.
func ResolveFor[V any](r *Registry) (Serializer, error) {
	return r.Resolve(reflect.TypeOf((*V)(nil)).Elem())
}

// structured reports whether t can plausibly round-trip through a
// reflection-based encoder. Funcs, channels and unsafe pointers cannot.
func structured(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return false
	}
	return true
}

func fallbackSerializer(fb Fallback, t reflect.Type) Serializer {
	name := fb.Name()
	return Serializer{
		Name: name,
		Encode: func(v any) ([]byte, error) {
			b, err := fb.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
			}
			return b, nil
		},
		Decode: func(b []byte) (any, error) {
			ptr := reflect.New(t)
			if err := fb.Unmarshal(b, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
			}
			return ptr.Elem().Interface(), nil
		},
	}
}
