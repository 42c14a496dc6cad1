package serializer

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Msgpack is compact and fast; be mindful of struct tag differences vs JSON.
// Use `msgpack:"fieldName"` tags if you need explicit control.
type Msgpack struct{}

var _ Fallback = Msgpack{}

func (Msgpack) Name() string                      { return "msgpack" }
func (Msgpack) Marshal(v any) ([]byte, error)     { return msgpack.Marshal(v) }
func (Msgpack) Unmarshal(b []byte, ptr any) error { return msgpack.Unmarshal(b, ptr) }

// MsgpackCodec is the typed form of Msgpack for use with Register.
type MsgpackCodec[V any] struct{}

func (MsgpackCodec[V]) Encode(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}
func (MsgpackCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
