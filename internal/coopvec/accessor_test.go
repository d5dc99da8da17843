package coopvec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessorIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 7, -128, 127, 255, 1000, -40000, 65535}
	for _, ct := range ComponentTypes() {
		if ct.IsFloat() {
			continue
		}
		t.Run(ct.String(), func(t *testing.T) {
			buf := make([]byte, 64+len(values)*ct.Size())
			for i, v := range values {
				SetIntAt(buf, ct, 64, i, v)
			}
			for i, v := range values {
				assert.Equal(t, TruncInt(v, ct), GetIntAt(buf, ct, 64, i), "value %d", v)
			}
		})
	}
}

func TestAccessorFloatRoundTrip(t *testing.T) {
	values := []float64{0, 1, -2.5, 0.125, 3.75, -64}
	for _, ct := range []ComponentType{Float16, Float32, Float64, FloatE4M3, FloatE5M2} {
		t.Run(ct.String(), func(t *testing.T) {
			buf := make([]byte, len(values)*ct.Size())
			for i, v := range values {
				SetFloat(buf, ct, i, v)
			}
			for i, v := range values {
				want := v
				if ct != Float64 {
					want = float64(Quantize(float32(v), ct))
				}
				assert.Equal(t, want, GetFloat(buf, ct, i))
			}
		})
	}
}

func TestGetIntTruncatesFloats(t *testing.T) {
	buf := make([]byte, 8)
	SetFloat(buf, Float32, 0, -3.75)
	SetFloat(buf, Float32, 1, 9.5)
	assert.Equal(t, int64(-3), GetInt(buf, Float32, 0))
	assert.Equal(t, int64(9), GetInt(buf, Float32, 1))
}

func TestFloatAccessOnIntegerPanics(t *testing.T) {
	buf := make([]byte, 4)
	assert.Panics(t, func() { GetFloat(buf, SInt32, 0) })
	assert.Panics(t, func() { SetFloat(buf, UInt8, 0, 1) })
}

func TestTruncInt(t *testing.T) {
	tests := []struct {
		v    int64
		ct   ComponentType
		want int64
	}{
		{0x1FF, UInt8, 0xFF},
		{0x1FF, SInt8, -1},
		{0x80, SInt8, -128},
		{-1, UInt16, 0xFFFF},
		{0x12345678, SInt16, 0x5678},
		{0xFFFFFFFF, SInt32, -1},
		{-5, SInt64, -5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncInt(tt.v, tt.ct), "%d as %v", tt.v, tt.ct)
	}
}

func TestComponentTable(t *testing.T) {
	assert.Equal(t, 16, Float16.Bits())
	assert.Equal(t, 1, FloatE4M3.Size())
	assert.Equal(t, "floate5m2_t", FloatE5M2.TypeName())
	assert.Equal(t, "gl_ComponentTypeSignedInt8PackedNV", SInt8Packed.InterpretationName())
	assert.True(t, SInt8.IsSignedInt())
	assert.False(t, Float16.IsSignedInt())
	assert.Equal(t, SInt8, SInt8Packed.Unpacked())

	ct, err := ParseComponentType("uint32")
	assert.NoError(t, err)
	assert.Equal(t, UInt32, ct)
	_, err = ParseComponentType("bfloat16")
	assert.Error(t, err)
}

func TestLayoutHelpers(t *testing.T) {
	assert.Equal(t, ColumnMajor, SwapRowCol(RowMajor))
	assert.Equal(t, RowMajor, SwapRowCol(ColumnMajor))
	assert.Equal(t, TrainingOptimal, SwapRowCol(TrainingOptimal))
	assert.Equal(t, 16, ConcreteStride(RowMajor, 3, 5, Float16))
	assert.Equal(t, 48, ConcreteStride(ColumnMajor, 9, 1, Float32))
	assert.Equal(t, 32, ConcreteStride(ColumnMajor, 8, 1, Float32))
	assert.Equal(t, 48, ConcreteSize(RowMajor, 3, 5, 16))
	assert.Equal(t, 64, AlignUp(33, 64))
	assert.Equal(t, 3, DivRoundUp(11, 5))
}
