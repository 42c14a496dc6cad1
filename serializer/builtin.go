package serializer

import (
	"fmt"
	"reflect"
	"strconv"
)

// Bytes is an identity codec for []byte values.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) {
	// copy: the input usually aliases a store-owned buffer
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// String is a codec for Go string values. By convention this assumes UTF-8
// and performs no validation.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

var (
	bytesType  = reflect.TypeOf([]byte(nil))
	stringType = reflect.TypeOf("")
)

// builtin resolves codecs for raw bytes, strings and scalar kinds.
// Named types (type UserID string) resolve too and decode back to the named type.
func builtin(t reflect.Type) (Serializer, bool) {
	switch {
	case t == bytesType:
		return Serializer{
			Name:   "raw",
			Encode: func(v any) ([]byte, error) { return Bytes{}.Encode(v.([]byte)) },
			Decode: func(b []byte) (any, error) { return Bytes{}.Decode(b) },
		}, true
	case t == stringType:
		return Serializer{
			Name:   "utf8",
			Encode: func(v any) ([]byte, error) { return String{}.Encode(v.(string)) },
			Decode: func(b []byte) (any, error) { return String{}.Decode(b) },
		}, true
	}
	switch t.Kind() {
	case reflect.String:
		return scalar(t, "utf8",
			func(rv reflect.Value) string { return rv.String() },
			func(s string, rv reflect.Value) error { rv.SetString(s); return nil }), true
	case reflect.Bool:
		return scalar(t, "bool",
			func(rv reflect.Value) string { return strconv.FormatBool(rv.Bool()) },
			func(s string, rv reflect.Value) error {
				x, err := strconv.ParseBool(s)
				rv.SetBool(x)
				return err
			}), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return scalar(t, "int",
			func(rv reflect.Value) string { return strconv.FormatInt(rv.Int(), 10) },
			func(s string, rv reflect.Value) error {
				x, err := strconv.ParseInt(s, 10, t.Bits())
				rv.SetInt(x)
				return err
			}), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return scalar(t, "uint",
			func(rv reflect.Value) string { return strconv.FormatUint(rv.Uint(), 10) },
			func(s string, rv reflect.Value) error {
				x, err := strconv.ParseUint(s, 10, t.Bits())
				rv.SetUint(x)
				return err
			}), true
	case reflect.Float32, reflect.Float64:
		return scalar(t, "float",
			func(rv reflect.Value) string { return strconv.FormatFloat(rv.Float(), 'g', -1, t.Bits()) },
			func(s string, rv reflect.Value) error {
				x, err := strconv.ParseFloat(s, t.Bits())
				rv.SetFloat(x)
				return err
			}), true
	}
	return Serializer{}, false
}

func scalar(t reflect.Type, name string, format func(reflect.Value) string, parse func(string, reflect.Value) error) Serializer {
	return Serializer{
		Name: name,
		Encode: func(v any) ([]byte, error) {
			rv := reflect.ValueOf(v)
			if !rv.IsValid() || rv.Type() != t {
				return nil, fmt.Errorf("%w: %s codec got %T", ErrEncode, name, v)
			}
			return []byte(format(rv)), nil
		},
		Decode: func(b []byte) (any, error) {
			rv := reflect.New(t).Elem()
			if err := parse(string(b), rv); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
			}
			return rv.Interface(), nil
		},
	}
}
