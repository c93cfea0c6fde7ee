package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/util"
)

// --------------------------------------------------------------------------
// Built-in Codec IDs
// --------------------------------------------------------------------------

const (
	IDInt64   = "fx:i64"
	IDInt32   = "fx:i32"
	IDInt16   = "fx:i16"
	IDInt8    = "fx:i8"
	IDUint64  = "fx:u64"
	IDFloat64 = "fx:f64"
	IDFloat32 = "fx:f32"
	IDBool    = "fx:bool"
	IDString  = "fx:string:utf8"
	IDBytes   = "fx:bytes:lenlex"
)

// builtinVersion is the version of every built-in encoding.
const builtinVersion = 1

// Built-in codecs. Fixed-width integers are stored big-endian with the sign
// bit flipped, floats with the IEEE sign-magnitude trick, so that unsigned
// byte comparison matches numeric order.
var (
	Int64   Codec[int64]   = fixed[int64]{id: IDInt64, width: 8, put: putInt64, get: getInt64}
	Int32   Codec[int32]   = fixed[int32]{id: IDInt32, width: 4, put: putInt32, get: getInt32}
	Int16   Codec[int16]   = fixed[int16]{id: IDInt16, width: 2, put: putInt16, get: getInt16}
	Int8    Codec[int8]    = fixed[int8]{id: IDInt8, width: 1, put: putInt8, get: getInt8}
	Uint64  Codec[uint64]  = fixed[uint64]{id: IDUint64, width: 8, put: binary.BigEndian.PutUint64, get: binary.BigEndian.Uint64}
	Float64 Codec[float64] = fixed[float64]{id: IDFloat64, width: 8, put: putFloat64, get: getFloat64}
	Float32 Codec[float32] = fixed[float32]{id: IDFloat32, width: 4, put: putFloat32, get: getFloat32}
	Bool    Codec[bool]    = fixed[bool]{id: IDBool, width: 1, put: putBool, get: getBool}
	String  Codec[string]  = stringCodec{}
	Bytes   Codec[[]byte]  = bytesCodec{}
)

// --------------------------------------------------------------------------
// Fixed-width codecs
// --------------------------------------------------------------------------

// fixed is a codec for values with a constant encoded width whose encoding
// is already ordered under bytes.Compare.
type fixed[T any] struct {
	id    string
	width int
	put   func([]byte, T)
	get   func([]byte) T
}

func (c fixed[T]) ID() string { return c.id }
func (c fixed[T]) Version() int { return builtinVersion }

func (c fixed[T]) Encode(v T) ([]byte, error) {
	b := make([]byte, c.width)
	c.put(b, v)
	return b, nil
}

func (c fixed[T]) Decode(b []byte) (T, error) {
	if len(b) != c.width {
		var zero T
		return zero, store.Errorf(store.RetCCorruption, "%s: expected %d bytes, got %d", c.id, c.width, len(b))
	}
	return c.get(b), nil
}

func (c fixed[T]) CompareBytes(a, b []byte) int { return bytes.Compare(a, b) }
func (c fixed[T]) EqualsBytes(a, b []byte) bool { return bytes.Equal(a, b) }
func (c fixed[T]) HashBytes(b []byte) uint64 { return util.HashBytes(b, 0) }

func putInt64(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)^(1<<63)) }
func getInt64(b []byte) int64 { return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)) }
func putInt32(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)^(1<<31)) }
func getInt32(b []byte) int32 { return int32(binary.BigEndian.Uint32(b) ^ (1 << 31)) }
func putInt16(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)^(1<<15)) }
func getInt16(b []byte) int16 { return int16(binary.BigEndian.Uint16(b) ^ (1 << 15)) }
func putInt8(b []byte, v int8) { b[0] = uint8(v) ^ 0x80 }
func getInt8(b []byte) int8 { return int8(b[0] ^ 0x80) }

func putBool(b []byte, v bool) {
	b[0] = 0
	if v {
		b[0] = 1
	}
}
func getBool(b []byte) bool { return b[0] != 0 }

// orderedFloat64 maps IEEE bits so that unsigned order equals numeric order:
// negatives are inverted entirely, positives get the sign bit set.
func orderedFloat64(bits uint64) uint64 {
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func unorderedFloat64(u uint64) uint64 {
	if u&(1<<63) != 0 {
		return u &^ (1 << 63)
	}
	return ^u
}

func putFloat64(b []byte, v float64) {
	binary.BigEndian.PutUint64(b, orderedFloat64(math.Float64bits(v)))
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(unorderedFloat64(binary.BigEndian.Uint64(b)))
}

func putFloat32(b []byte, v float32) {
	bits := math.Float32bits(v)
	if bits&(1<<31) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 31
	}
	binary.BigEndian.PutUint32(b, bits)
}

func getFloat32(b []byte) float32 {
	u := binary.BigEndian.Uint32(b)
	if u&(1<<31) != 0 {
		u &^= 1 << 31
	} else {
		u = ^u
	}
	return math.Float32frombits(u)
}

// --------------------------------------------------------------------------
// Variable-length codecs
// --------------------------------------------------------------------------

// stringCodec stores UTF-8 bytes, ordered unsigned lexicographically
// (shorter prefix first).
type stringCodec struct{}

func (stringCodec) ID() string { return IDString }
func (stringCodec) Version() int { return builtinVersion }

func (stringCodec) Encode(v string) ([]byte, error) {
	if !utf8.ValidString(v) {
		return nil, store.NewError(store.RetCInvalidArgument, "string is not valid UTF-8")
	}
	return []byte(v), nil
}

func (stringCodec) Decode(b []byte) (string, error) {
	return string(b), nil
}

func (stringCodec) CompareBytes(a, b []byte) int { return bytes.Compare(a, b) }
func (stringCodec) EqualsBytes(a, b []byte) bool { return bytes.Equal(a, b) }
func (stringCodec) HashBytes(b []byte) uint64 { return util.HashBytes(b, 0) }

// bytesCodec stores raw bytes ordered by length first, then unsigned lexicographically.
type bytesCodec struct{}

func (bytesCodec) ID() string { return IDBytes }
func (bytesCodec) Version() int { return builtinVersion }

func (bytesCodec) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (bytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (bytesCodec) CompareBytes(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}

func (bytesCodec) EqualsBytes(a, b []byte) bool { return bytes.Equal(a, b) }
func (bytesCodec) HashBytes(b []byte) uint64 { return util.HashBytes(b, 0) }
