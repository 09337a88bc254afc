package modbus

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecode(t *testing.T) {
	f32 := math.Float32bits(230.5)
	f64 := math.Float64bits(-1.25)

	tests := []struct {
		name  string
		words []uint16
		dt    DataType
		want  any
	}{
		{"int16 negative", []uint16{0xFFFE}, TypeInt16, int16(-2)},
		{"uint16", []uint16{0xFFFE}, TypeUint16, uint16(0xFFFE)},
		{"int32 big endian", []uint16{0xFFFF, 0xFFFF}, TypeInt32, int32(-1)},
		{"uint32 big endian", []uint16{0x0001, 0x0002}, TypeUint32, uint32(0x00010002)},
		{"float32", []uint16{uint16(f32 >> 16), uint16(f32)}, TypeFloat32, float32(230.5)},
		{"float64", []uint16{uint16(f64 >> 48), uint16(f64 >> 32), uint16(f64 >> 16), uint16(f64)}, TypeFloat64, float64(-1.25)},
		{"string nul trimmed", []uint16{0x4142, 0x0000}, TypeString, "AB"},
		{"string space trimmed", []uint16{0x2041, 0x4220}, TypeString, "AB"},
		{"empty string", nil, TypeString, ""},
		{"boolean", []uint16{2}, TypeBoolean, true},
		{"unknown falls back to first word", []uint16{42, 7}, DataType("bcd"), uint16(42)},
		{"extra words ignored", []uint16{1, 2, 3}, TypeInt16, int16(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.words, tt.dt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	for _, dt := range []DataType{TypeInt16, TypeInt32, TypeUint32, TypeFloat32, TypeFloat64} {
		_, err := Decode(make([]uint16, dt.Words()-1), dt)
		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr), "data type %s", dt)
		assert.Equal(t, dt.Words(), decErr.Want)
	}
}

func TestDecodeScaledInt32(t *testing.T) {
	// int32 1000 scaled by 0.01
	v, err := Decode([]uint16{0x0000, 0x03E8}, TypeInt32)
	require.NoError(t, err)
	scaled := ApplyScale(v, f64(0.01), nil)
	assert.InDelta(t, 10.0, scaled, 1e-9)
}

func TestApplyScale(t *testing.T) {
	assert.Equal(t, int16(5), ApplyScale(int16(5), nil, nil))
	assert.InDelta(t, 12.0, ApplyScale(uint16(10), f64(1), f64(2)), 1e-9)
	// scale before offset
	assert.InDelta(t, 25.0, ApplyScale(uint16(10), f64(2), f64(5)), 1e-9)
	assert.Equal(t, "AB", ApplyScale("AB", f64(2), f64(1)))
	assert.Equal(t, true, ApplyScale(true, f64(2), nil))
}

func TestDecodeBitsLSBFirst(t *testing.T) {
	assert.Equal(t, []bool{true, false, true}, DecodeBits([]byte{0b00000101}, 3))
}

func TestDecodeBitsAcrossBytes(t *testing.T) {
	bits := DecodeBits([]byte{0x00, 0x81}, 16)
	assert.True(t, bits[8])
	assert.True(t, bits[15])
	assert.False(t, bits[9])
	// Bits beyond the payload read as false.
	assert.Equal(t, make([]bool, 4), DecodeBits(nil, 4))
}

func TestAnyBit(t *testing.T) {
	assert.False(t, AnyBit(nil))
	assert.False(t, AnyBit([]bool{false, false}))
	assert.True(t, AnyBit([]bool{false, true}))
}

func TestDecodeBitsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bits := rapid.SliceOfN(rapid.Bool(), 1, MaxReadBits).Draw(t, "bits")
		frame := bitsFrame(Header{UnitID: 1}, FuncCodeReadCoils, bits)
		p, err := parsePDU(frame, 1, FuncCodeReadCoils)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		data, err := p.bitBytes(uint16(len(bits)))
		if err != nil {
			t.Fatalf("bit bytes: %v", err)
		}
		got := DecodeBits(data, len(bits))
		for i := range bits {
			if got[i] != bits[i] {
				t.Fatalf("bit %d: got %v want %v", i, got[i], bits[i])
			}
		}
	})
}

// Unused high bits of the last byte never leak into the decoded bits.
func TestDecodeBitsIgnoresPaddingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bits := rapid.SliceOfN(rapid.Bool(), 1, MaxReadBits).Draw(t, "bits")
		data := make([]byte, (len(bits)+7)/8)
		for i, b := range bits {
			if b {
				data[i/8] |= 1 << uint(i%8)
			}
		}
		if used := len(bits) % 8; used != 0 {
			padding := rapid.Byte().Draw(t, "padding")
			data[len(data)-1] |= padding &^ (1<<uint(used) - 1)
		}

		got := DecodeBits(data, len(bits))
		if len(got) != len(bits) {
			t.Fatalf("decoded %d bits, want %d", len(got), len(bits))
		}
		if diff := cmp.Diff(bits, got); diff != "" {
			t.Fatalf("bits mismatch (-want +got):\n%s", diff)
		}
		if again := DecodeBits(data, len(bits)); !cmp.Equal(got, again) {
			t.Fatalf("decode is not idempotent")
		}
	})
}

func TestDataTypeWords(t *testing.T) {
	assert.Equal(t, 1, TypeInt16.Words())
	assert.Equal(t, 2, TypeFloat32.Words())
	assert.Equal(t, 4, TypeFloat64.Words())
	assert.False(t, TypeString.IsNumeric())
	assert.True(t, TypeUint32.IsNumeric())
}

func TestReadResultFloat64(t *testing.T) {
	v, ok := ReadResult{Value: int32(-4)}.Float64()
	assert.True(t, ok)
	assert.Equal(t, -4.0, v)

	v, ok = ReadResult{Value: true}.Float64()
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = ReadResult{Value: "x"}.Float64()
	assert.False(t, ok)
}
