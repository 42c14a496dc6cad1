package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const version byte = 2

var (
	ErrCorrupt            = errors.New("layercache: corrupt entry")
	ErrUnsupportedVersion = errors.New("layercache: unsupported entry version")

	magic4 = [...]byte{'L', 'Y', 'R', 'C'}
)

// Entry is the L2-resident form of a cached value.
// Payload is the serializer output; Codec names the serializer that produced it
// and Type the Go type it was encoded from.
type Entry struct {
	Gen        uint64
	CreatedAt  time.Time
	FreshUntil time.Time
	StaleUntil time.Time
	Codec      string
	Type       string
	Tags       []string
	Payload    []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// EncodeEntry frames e as:
//
//	magic(4) | ver(1) | gen(u64 be) | created(i64 be) | fresh(i64 be) | stale(i64 be)
//	codecLen(u8) | codec | typeLen(u16 be) | type | ntags(u16 be) | (tagLen(u16 be) | tag) * ntags
//	vlen(u32 be) | payload(vlen)
func EncodeEntry(e Entry) ([]byte, error) {
	if len(e.Codec) == 0 || len(e.Codec) > 0xFF {
		return nil, fmt.Errorf("layercache: invalid codec name length %d", len(e.Codec))
	}
	if len(e.Type) > 0xFFFF {
		return nil, fmt.Errorf("layercache: type name too long (%d)", len(e.Type))
	}
	if len(e.Tags) > 0xFFFF {
		return nil, fmt.Errorf("layercache: too many tags (%d)", len(e.Tags))
	}
	total := 4 + 1 + 8 + 8*3 + 1 + len(e.Codec) + 2 + len(e.Type) + 2 + 4 + len(e.Payload)
	for _, tag := range e.Tags {
		if l := len(tag); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("layercache: invalid tag length %d", l)
		}
		total += 2 + len(tag)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])
	for _, ts := range [...]time.Time{e.CreatedAt, e.FreshUntil, e.StaleUntil} {
		binary.BigEndian.PutUint64(u8[:], uint64(unixNano(ts)))
		buf.Write(u8[:])
	}

	buf.WriteByte(byte(len(e.Codec)))
	buf.WriteString(e.Codec)

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Type)))
	buf.Write(u2[:])
	buf.WriteString(e.Type)

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Tags)))
	buf.Write(u2[:])
	for _, tag := range e.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(tag)))
		buf.Write(u2[:])
		buf.WriteString(tag)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses a buffer written by EncodeEntry. The returned Payload
// aliases b. A well-formed header with a different version yields
// ErrUnsupportedVersion; anything else malformed yields ErrCorrupt.
func DecodeEntry(b []byte) (Entry, error) {
	const fixed = 4 + 1 + 8 + 8*3 + 1
	if len(b) < 5 || !hasMagic(b) {
		return Entry{}, ErrCorrupt
	}
	if b[4] != version {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[4])
	}
	if len(b) < fixed {
		return Entry{}, ErrCorrupt
	}

	var e Entry
	off := 5

	e.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	e.CreatedAt = fromUnixNano(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8
	e.FreshUntil = fromUnixNano(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8
	e.StaleUntil = fromUnixNano(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	// codec
	clen := int(b[off])
	off++
	if clen == 0 || clen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Codec = string(b[off : off+clen])
	off += clen

	// type
	if off+2 > len(b) {
		return Entry{}, ErrCorrupt
	}
	ylen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if ylen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Type = string(b[off : off+ylen])
	off += ylen

	// tags
	if off+2 > len(b) {
		return Entry{}, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n > 0 {
		// each tag needs at least 3 bytes; don't trust n for preallocation beyond that
		if n > (len(b)-off)/3 {
			return Entry{}, ErrCorrupt
		}
		e.Tags = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return Entry{}, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen == 0 || tlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		e.Tags = append(e.Tags, string(b[off:off+tlen]))
		off += tlen
	}

	// payload
	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict: no trailing bytes
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	return e, nil
}
