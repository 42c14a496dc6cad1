package serializer

import "encoding/json"

// JSON is a Codec and Fallback backed by encoding/json.
type JSON struct{}

var _ Fallback = JSON{}

func (JSON) Name() string                      { return "json" }
func (JSON) Marshal(v any) ([]byte, error)     { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, ptr any) error { return json.Unmarshal(b, ptr) }

// JSONCodec is the typed form of JSON for use with Register.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
