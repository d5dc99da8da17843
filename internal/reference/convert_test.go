package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// concreteQuery sizes row and column major copies and gives optimal
// copies a fixed tile.
func concreteQuery(c coopvec.Conversion) (int, error) {
	if c.DstLayout.IsOptimal() {
		return 4096, nil
	}
	return coopvec.ConcreteSize(c.DstLayout, c.Rows, c.Cols, c.DstStride), nil
}

func TestLayoutChainPlacement(t *testing.T) {
	c := cases.LayoutConvertCase{
		MatrixType: coopvec.Float16,
		Layouts:    [4]coopvec.MatrixLayout{coopvec.RowMajor, coopvec.ColumnMajor, coopvec.TrainingOptimal, coopvec.RowMajor},
	}
	lc, err := NewLayoutChain(c, 3, 5, concreteQuery)
	require.NoError(t, err)
	assert.Equal(t, [4]int{16, 16, 0, 16}, lc.Strides)
	assert.Equal(t, [4]int{48, 80, 4096, 48}, lc.Sizes)
	assert.Equal(t, [4]int{128, 192, 320, 4416}, lc.Offsets)

	steps := lc.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, coopvec.RowMajor, steps[0].SrcLayout)
	assert.Equal(t, coopvec.ColumnMajor, steps[0].DstLayout)
	assert.Equal(t, 192, steps[0].DstOffset)
	assert.Equal(t, coopvec.TrainingOptimal, steps[2].SrcLayout)
}

func TestLayoutChainFP8EndsInHalf(t *testing.T) {
	assert.Equal(t, [4]coopvec.ComponentType{coopvec.FloatE5M2, coopvec.FloatE5M2, coopvec.FloatE5M2, coopvec.Float16},
		ChainTypes(coopvec.FloatE5M2))
	assert.Equal(t, [4]coopvec.ComponentType{coopvec.SInt8, coopvec.SInt8, coopvec.SInt8, coopvec.SInt8},
		ChainTypes(coopvec.SInt8))
}

func TestLayoutChainVerify(t *testing.T) {
	c := cases.LayoutConvertCase{
		MatrixType: coopvec.Float32,
		Layouts:    [4]coopvec.MatrixLayout{coopvec.RowMajor, coopvec.ColumnMajor, coopvec.RowMajor, coopvec.RowMajor},
	}
	lc, err := NewLayoutChain(c, 2, 3, concreteQuery)
	require.NoError(t, err)
	buf := make([]byte, LayoutBufferSize)
	lc.Fill(buf, NewRand(Seed))
	assert.Equal(t, 49.5, coopvec.GetFloatAt(buf, coopvec.Float32, lc.Offsets[0], 0))

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			v := coopvec.GetFloatAt(buf, coopvec.Float32, lc.Offsets[0]+i*lc.Strides[0], j)
			coopvec.SetFloatAt(buf, coopvec.Float32, lc.Offsets[1]+j*lc.Strides[1], i, v)
			coopvec.SetFloatAt(buf, coopvec.Float32, lc.Offsets[2]+i*lc.Strides[2], j, v)
			coopvec.SetFloatAt(buf, coopvec.Float32, lc.Offsets[3]+i*lc.Strides[3], j, v)
		}
	}
	v := &Verdict{}
	lc.Verify(buf, v)
	assert.True(t, v.Passed())

	coopvec.SetFloatAt(buf, coopvec.Float32, lc.Offsets[1]+2*lc.Strides[1], 1, -1000)
	lc.Verify(buf, v)
	require.Equal(t, 1, v.Failures)
	assert.Equal(t, Mismatch{Invocation: 1, Element: 5, Expected: coopvec.GetFloatAt(buf, coopvec.Float32, lc.Offsets[0]+lc.Strides[0], 2), Actual: -1000}, v.Mismatches[0])
}

func TestTypeChainSizes(t *testing.T) {
	tc, err := NewTypeChain(cases.TypeConvertCase{SrcType: coopvec.Float32, DstType: coopvec.FloatE4M3}, concreteQuery)
	require.NoError(t, err)
	assert.Equal(t, 1<<16, tc.NumElements)
	assert.Equal(t, coopvec.Float32, tc.Out)
	assert.Equal(t, 1<<18+4096+1<<18, tc.BufferSize())

	tc, err = NewTypeChain(cases.TypeConvertCase{SrcType: coopvec.FloatE5M2, DstType: coopvec.Float16}, concreteQuery)
	require.NoError(t, err)
	assert.Equal(t, 256, tc.NumElements)
	assert.Equal(t, coopvec.Float16, tc.Out)
	steps := tc.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 256, steps[1].SrcOffset)
	assert.Equal(t, 256+4096, steps[1].DstOffset)
}

func TestTypeChainVerify(t *testing.T) {
	tc, err := NewTypeChain(cases.TypeConvertCase{SrcType: coopvec.Float16, DstType: coopvec.FloatE4M3}, concreteQuery)
	require.NoError(t, err)
	buf := make([]byte, tc.BufferSize())
	tc.Fill(buf)
	out := buf[tc.outOffset():]
	for i := 0; i < tc.NumElements; i++ {
		src := float32(coopvec.GetFloat(buf, coopvec.Float16, i))
		coopvec.SetFloat(out, coopvec.Float16, i, float64(coopvec.Quantize(src, coopvec.FloatE4M3)))
	}
	v := &Verdict{}
	tc.Verify(buf, v)
	assert.True(t, v.Passed(), "NaN sources must match NaN results")

	// 0x3C00 is 1.0
	coopvec.SetFloat(out, coopvec.Float16, 0x3C00, 2)
	tc.Verify(buf, v)
	assert.Equal(t, 1, v.Failures)
}
