package modbus

import (
	"encoding/binary"
	"math"
	"strings"
)

// Decode interprets big-endian register words as dt.
//
// Integers and floats come back as their Go type (int16, uint16, int32,
// uint32, float32, float64). Strings are NUL- and whitespace-trimmed ASCII.
// Booleans are true when the first word is non-zero. Unknown data types fall
// back to the first raw word. Words beyond the width of dt are ignored.
func Decode(words []uint16, dt DataType) (any, error) {
	need := dt.Words()
	if dt == TypeString {
		need = 0
	}
	if len(words) < need {
		return nil, &DecodeError{DataType: dt, Words: len(words), Want: need}
	}
	b := wordsToBytes(words)

	switch dt {
	case TypeInt16:
		return int16(binary.BigEndian.Uint16(b)), nil
	case TypeUint16:
		return binary.BigEndian.Uint16(b), nil
	case TypeInt32:
		return int32(binary.BigEndian.Uint32(b)), nil
	case TypeUint32:
		return binary.BigEndian.Uint32(b), nil
	case TypeFloat32:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case TypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TypeString:
		return decodeString(b), nil
	case TypeBoolean:
		return words[0] != 0, nil
	default:
		return words[0], nil
	}
}

func wordsToBytes(words []uint16) []byte {
	b := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(b[2*i:], w)
	}
	return b
}

func decodeString(b []byte) string {
	if n := strings.IndexByte(string(b), 0); n >= 0 {
		b = b[:n]
	}
	return strings.TrimSpace(string(b))
}

// DecodeBits unpacks count bits from a coil or discrete-input payload.
// Bit i lives in byte i/8 at position i%8, least significant bit first.
// Bits past the end of data decode as false.
func DecodeBits(data []byte, count int) []bool {
	bits := make([]bool, count)
	for i := range bits {
		idx := i / 8
		if idx >= len(data) {
			break
		}
		bits[i] = data[idx]&(1<<uint(i%8)) != 0
	}
	return bits
}

// AnyBit folds bits into one reading: true if any bit is set.
func AnyBit(bits []bool) bool {
	for _, b := range bits {
		if b {
			return true
		}
	}
	return false
}

// ApplyScale multiplies a numeric value by scale and then adds offset.
// Nil scale and offset leave the value untouched; non-numeric values are
// always returned as is.
func ApplyScale(v any, scale, offset *float64) any {
	if scale == nil && offset == nil {
		return v
	}
	f, ok := toFloat(v)
	if !ok {
		return v
	}
	if scale != nil {
		f *= *scale
	}
	if offset != nil {
		f += *offset
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
