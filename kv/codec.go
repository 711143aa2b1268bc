package kv

import (
	"encoding/binary"
	"strings"
)

// Codec turns a logical value of type T into a fixed-width byte record and
// back. Every Codec for a given tree must report the same Size() across the
// whole lifetime of a tree's on-disk files, since that width is baked into
// every record's offset.
type Codec[T any] interface {
	// Size is the fixed number of bytes Encode writes and Decode reads.
	Size() int
	// Encode writes v into buf, which is exactly Size() bytes long.
	Encode(v T, buf []byte)
	// Decode reconstructs a value from buf, which is exactly Size() bytes long.
	Decode(buf []byte) T
}

// Comparator orders two logical keys: negative if a < b, zero if equal,
// positive if a > b. Comparison is defined on the logical value, never on
// the raw (possibly padded) byte encoding produced by a Codec.
type Comparator[K any] func(a, b K) int

// Uint64Codec encodes a uint64 key or value as 8 big-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(v uint64, buf []byte) {
	binary.BigEndian.PutUint64(buf, v)
}

func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

// Uint64Comparator orders uint64 keys naturally.
func Uint64Comparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// fixedStringCodec encodes a string into a fixed-width, null-padded buffer,
// mirroring the null-terminated char[width] key buffers of the source this
// design is ported from.
type fixedStringCodec struct {
	width int
}

// FixedStringCodec returns a Codec for strings stored in a fixed-width,
// null-padded buffer of the given width. Strings longer than width bytes
// are truncated on Encode; a string of exactly width bytes is stored with
// no terminating null.
func FixedStringCodec(width int) Codec[string] {
	return fixedStringCodec{width: width}
}

func (c fixedStringCodec) Size() int { return c.width }

func (c fixedStringCodec) Encode(v string, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	n := len(v)
	if n > c.width {
		n = c.width
	}
	copy(buf[:n], v[:n])
}

func (c fixedStringCodec) Decode(buf []byte) string {
	n := strings.IndexByte(string(buf), 0)
	if n < 0 {
		n = len(buf)
	}
	return string(buf[:n])
}

// StringComparator orders strings by their logical (trimmed) value, not by
// their padded on-disk representation.
func StringComparator(a, b string) int {
	return strings.Compare(a, b)
}

// fixedBytesCodec stores an opaque, fixed-width byte blob.
type fixedBytesCodec struct {
	width int
}

// FixedBytesCodec returns a Codec for opaque fixed-width byte values (a
// generalization of a plain-old-data value type).
func FixedBytesCodec(width int) Codec[[]byte] {
	return fixedBytesCodec{width: width}
}

func (c fixedBytesCodec) Size() int { return c.width }

func (c fixedBytesCodec) Encode(v []byte, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	n := len(v)
	if n > c.width {
		n = c.width
	}
	copy(buf[:n], v[:n])
}

func (c fixedBytesCodec) Decode(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}
