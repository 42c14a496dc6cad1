package serializer

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR serializes values using fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR or MustCBOR.
//
// Use deterministic=true for canonical encoding (RFC 8949 Core Deterministic)
// when you need byte-for-byte stable outputs. Otherwise
// PreferredUnsortedEncOptions are used. Time values are encoded as RFC3339Nano.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Fallback = CBOR{}

func NewCBOR(deterministic bool) (CBOR, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR(deterministic bool) CBOR {
	c, err := NewCBOR(deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Name() string                      { return "cbor" }
func (c CBOR) Marshal(v any) ([]byte, error)     { return c.enc.Marshal(v) }
func (c CBOR) Unmarshal(b []byte, ptr any) error { return c.dec.Unmarshal(b, ptr) }

// CBORCodec is the typed form of CBOR for use with Register.
type CBORCodec[V any] struct{ CBOR }

func NewCBORCodec[V any](deterministic bool) (CBORCodec[V], error) {
	c, err := NewCBOR(deterministic)
	return CBORCodec[V]{c}, err
}

func (c CBORCodec[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }
func (c CBORCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
