package device

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

func rowMajor(t coopvec.ComponentType, rows, cols int) []byte {
	buf := make([]byte, rows*coopvec.ConcreteStride(coopvec.RowMajor, rows, cols, t))
	stride := coopvec.ConcreteStride(coopvec.RowMajor, rows, cols, t)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			coopvec.SetFloatAt(buf, t, r*stride, c, float64(r*cols+c))
		}
	}
	return buf
}

func TestConvertRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := NewEmulator()
	defer e.Close()

	const rows, cols = 5, 7
	stride := coopvec.ConcreteStride(coopvec.RowMajor, rows, cols, coopvec.Float32)
	src := rowMajor(coopvec.Float32, rows, cols)

	for _, l := range []coopvec.MatrixLayout{coopvec.ColumnMajor, coopvec.InferencingOptimal, coopvec.TrainingOptimal} {
		t.Run(l.String(), func(t *testing.T) {
			there := coopvec.Conversion{
				SrcType: coopvec.Float32, DstType: coopvec.Float32,
				SrcLayout: coopvec.RowMajor, DstLayout: l,
				Rows: rows, Cols: cols, SrcStride: stride,
				DstStride: coopvec.ConcreteStride(l, rows, cols, coopvec.Float32),
			}
			size, err := e.ConvertMatrixLayout(ctx, MatrixConversion{Conversion: there})
			require.NoError(t, err)
			mid := make([]byte, size)
			_, err = e.ConvertMatrixLayout(ctx, MatrixConversion{Conversion: there, Src: src, Dst: mid})
			require.NoError(t, err)

			back := there
			back.SrcLayout, back.DstLayout = l, coopvec.RowMajor
			back.SrcStride, back.DstStride = there.DstStride, stride
			out := make([]byte, len(src))
			_, err = e.ConvertMatrixLayout(ctx, MatrixConversion{Conversion: back, Src: mid, Dst: out, Host: true})
			require.NoError(t, err)
			assert.Equal(t, src, out)
		})
	}
}

func TestConvertSizeQuery(t *testing.T) {
	e := NewEmulator()
	c := coopvec.Conversion{
		SrcType: coopvec.Float16, DstType: coopvec.Float16,
		SrcLayout: coopvec.RowMajor, DstLayout: coopvec.InferencingOptimal,
		Rows: 5, Cols: 7, SrcStride: 16,
	}
	size, err := e.ConvertMatrixLayout(context.Background(), MatrixConversion{Conversion: c})
	require.NoError(t, err)
	assert.Equal(t, 16*16*2, size)

	c.DstLayout = coopvec.TrainingOptimal
	size, err = e.ConvertMatrixLayout(context.Background(), MatrixConversion{Conversion: c})
	require.NoError(t, err)
	assert.Equal(t, 7*16*2, size)
}

func TestConvertRoundsToDestination(t *testing.T) {
	e := NewEmulator()
	src := make([]byte, 16)
	coopvec.SetFloat(src, coopvec.Float32, 0, 1.0/3)
	dst := make([]byte, 16)
	c := coopvec.Conversion{
		SrcType: coopvec.Float32, DstType: coopvec.Float16,
		SrcLayout: coopvec.RowMajor, DstLayout: coopvec.RowMajor,
		Rows: 1, Cols: 1, SrcStride: 16, DstStride: 16,
	}
	_, err := e.ConvertMatrixLayout(context.Background(), MatrixConversion{Conversion: c, Src: src, Dst: dst})
	require.NoError(t, err)
	want := float16.Fromfloat32(1.0 / 3).Bits()
	assert.Equal(t, want, binary.LittleEndian.Uint16(dst))
}

func TestConvertFP8NeedsOptimalDestination(t *testing.T) {
	e := NewEmulator()
	c := coopvec.Conversion{
		SrcType: coopvec.Float16, DstType: coopvec.FloatE4M3,
		SrcLayout: coopvec.RowMajor, DstLayout: coopvec.RowMajor,
		Rows: 4, Cols: 4, SrcStride: 16, DstStride: 16,
	}
	_, err := e.ConvertMatrixLayout(context.Background(), MatrixConversion{Conversion: c})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSupported))
	var ue *UnsupportedError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Feature, "floate4m3")
}

func TestConvertRejectsShortStride(t *testing.T) {
	e := NewEmulator()
	before := testutil.ToFloat64(metrics.ValidationErrors.WithLabelValues("convert", "descriptor"))
	c := coopvec.Conversion{
		SrcType: coopvec.Float32, DstType: coopvec.Float32,
		SrcLayout: coopvec.RowMajor, DstLayout: coopvec.InferencingOptimal,
		Rows: 4, Cols: 8, SrcStride: 16,
	}
	_, err := e.ConvertMatrixLayout(context.Background(), MatrixConversion{Conversion: c})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotSupported))
	assert.Contains(t, err.Error(), "invalid stride")
	after := testutil.ToFloat64(metrics.ValidationErrors.WithLabelValues("convert", "descriptor"))
	assert.Equal(t, before+1, after)
}

func TestConvertHonoursCancellation(t *testing.T) {
	e := NewEmulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ConvertMatrixLayout(ctx, MatrixConversion{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryPoolReuse(t *testing.T) {
	e := NewEmulator()
	base := AllocatedBytes()

	b, err := e.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, 100, b.Size())
	assert.Zero(t, b.Address%addressAlign)
	assert.Equal(t, base+256, AllocatedBytes())
	b.Data[0] = 7
	addr := b.Address

	e.Free(b)
	assert.Equal(t, base+256, AllocatedBytes())

	b, err = e.Allocate(200)
	require.NoError(t, err)
	assert.Equal(t, addr, b.Address)
	assert.Equal(t, 200, b.Size())
	assert.Zero(t, b.Data[0])
	assert.Equal(t, base+256, AllocatedBytes())

	e.Free(b)
	e.Close()
	assert.Equal(t, base, AllocatedBytes())
	assert.Equal(t, float64(base), testutil.ToFloat64(metrics.EmulatorMemoryAllocated))
}

func TestMemoryRejectsInvalidSize(t *testing.T) {
	e := NewEmulator()
	_, err := e.Allocate(0)
	assert.ErrorIs(t, err, ErrResource)
	_, err = e.Allocate(int(MaxMemory) + 1)
	assert.ErrorIs(t, err, ErrResource)
}

func TestMemoryResolve(t *testing.T) {
	m := newMemory()
	a, err := m.allocate(64)
	require.NoError(t, err)
	b, err := m.allocate(64)
	require.NoError(t, err)

	got, off, err := m.resolve(b.Address + 12)
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, 12, off)

	m.free(a)
	_, _, err = m.resolve(a.Address)
	assert.Error(t, err)
}

func vectorDef(tt cases.TestType, typ coopvec.ComponentType, n, invocations int) cases.Definition {
	return cases.Definition{
		Stage:                cases.StageCompute,
		TestType:             tt,
		ThreadsPerWorkgroupX: invocations,
		ThreadsPerWorkgroupY: 1,
		WorkgroupsX:          1,
		WorkgroupsY:          1,
		InputType:            typ,
		InputInterpretation:  typ,
		MatrixType:           typ,
		OutputType:           typ,
		N:                    n,
		K:                    n,
	}
}

func TestCapabilitiesCheck(t *testing.T) {
	caps := EmulatorCapabilities()
	assert.NoError(t, caps.Check(vectorDef(cases.TTAdd, coopvec.Float32, 4, 1)))
	assert.NoError(t, caps.Check(vectorDef(cases.TTMatrixMul, coopvec.Float32, 1, 1)))
	assert.NoError(t, caps.Check(vectorDef(cases.TTMatrixMad, coopvec.Float16, 8, 1)))
	assert.NoError(t, caps.Check(cases.LayoutConvertCase{MatrixType: coopvec.FloatE5M2}))
	assert.NoError(t, caps.Check(cases.TypeConvertCase{SrcType: coopvec.Float32, DstType: coopvec.FloatE4M3}))

	assert.ErrorIs(t, Capabilities{}.Check(vectorDef(cases.TTAdd, coopvec.Float32, 4, 1)), ErrNotSupported)

	noF16 := EmulatorCapabilities()
	noF16.ShaderFloat16 = false
	err := noF16.Check(vectorDef(cases.TTAdd, coopvec.Float16, 4, 1))
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, "shaderFloat16 not supported", err.Error())

	noTraining := EmulatorCapabilities()
	noTraining.Training = false
	assert.ErrorIs(t, noTraining.Check(vectorDef(cases.TTOuterProduct, coopvec.Float16, 4, 1)), ErrNotSupported)

	noProps := EmulatorCapabilities()
	noProps.Properties = nil
	assert.ErrorIs(t, noProps.Check(cases.LayoutConvertCase{MatrixType: coopvec.Float16}), ErrNotSupported)
	assert.NoError(t, noProps.Check(cases.LayoutConvertCase{MatrixType: coopvec.Float32}))
}

func TestSupportsUsesOverriddenCapabilities(t *testing.T) {
	e := NewEmulator(WithCapabilities(Capabilities{}))
	assert.ErrorIs(t, e.Supports(vectorDef(cases.TTAdd, coopvec.Float32, 4, 1)), ErrNotSupported)
	assert.Equal(t, "emulator", e.Name())
}

func bindAdd(t *testing.T, e *Emulator, d cases.Definition) []*Buffer {
	bufs := make([]*Buffer, NumBindings)
	n := d.TotalInvocations() * d.N * d.InputType.Size()
	for i := 0; i < 4; i++ {
		b, err := e.Allocate(n)
		require.NoError(t, err)
		bufs[i] = b
	}
	table, err := e.Allocate(32)
	require.NoError(t, err)
	bufs[4] = table
	for j := 0; j < d.TotalInvocations()*d.N; j++ {
		coopvec.SetFloat(bufs[0].Data, d.InputType, j, float64(j))
		coopvec.SetFloat(bufs[1].Data, d.InputType, j, 0.5)
	}
	return bufs
}

func TestRunProgramAdd(t *testing.T) {
	for _, sc := range []cases.StorageClass{cases.SCBuffer, cases.SCPhysicalStorageBuffer} {
		t.Run(sc.String(), func(t *testing.T) {
			e := NewEmulator(WithWorkers(2))
			defer e.Close()
			d := vectorDef(cases.TTAdd, coopvec.Float32, 4, 3)
			d.StorageClass = sc
			bufs := bindAdd(t, e, d)
			for i := 0; i < 4; i++ {
				binary.LittleEndian.PutUint64(bufs[4].Data[8*i:], bufs[i].Address)
			}

			p := shader.Synthesize(d)
			p.Specialize(d, shader.MemoryLayout{})
			require.NoError(t, e.RunProgram(context.Background(), &p, d, bufs))
			for j := 0; j < 12; j++ {
				assert.Equal(t, float64(j)+0.5, coopvec.GetFloat(bufs[3].Data, coopvec.Float32, j), "element %d", j)
			}
		})
	}
}

func TestRunProgramFloat32Arithmetic(t *testing.T) {
	// The product is rounded to binary32 before the addend; computing
	// a*b+0.5 wide and narrowing once ends one ulp higher (0x40086247).
	a, b := math.Float32frombits(0x3fb26179), math.Float32frombits(0x3f95ce01)

	e := NewEmulator()
	defer e.Close()
	d := vectorDef(cases.TTFma, coopvec.Float32, 1, 1)
	bufs := bindAdd(t, e, d)
	coopvec.SetFloat(bufs[0].Data, coopvec.Float32, 0, float64(a))
	coopvec.SetFloat(bufs[1].Data, coopvec.Float32, 0, float64(b))
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(bufs[4].Data[8*i:], bufs[i].Address)
	}

	p := shader.Synthesize(d)
	p.Specialize(d, shader.MemoryLayout{})
	require.NoError(t, e.RunProgram(context.Background(), &p, d, bufs))
	got := float32(coopvec.GetFloat(bufs[3].Data, coopvec.Float32, 0))
	assert.Equal(t, uint32(0x40086246), math.Float32bits(got))
}

func TestRunProgramRejectsBadBindings(t *testing.T) {
	e := NewEmulator()
	d := vectorDef(cases.TTAdd, coopvec.Float32, 4, 1)
	p := shader.Synthesize(d)

	err := e.RunProgram(context.Background(), &p, d, make([]*Buffer, 2))
	assert.ErrorContains(t, err, "invalid bindings")

	bufs := bindAdd(t, e, d)
	err = e.RunProgram(context.Background(), &p, d, bufs)
	assert.ErrorContains(t, err, "not specialized")
}

func TestRunProgramUnmappedAddress(t *testing.T) {
	e := NewEmulator()
	d := vectorDef(cases.TTAdd, coopvec.Float32, 4, 1)
	d.StorageClass = cases.SCPhysicalStorageBuffer
	bufs := bindAdd(t, e, d)
	p := shader.Synthesize(d)
	p.Specialize(d, shader.MemoryLayout{})

	err := e.RunProgram(context.Background(), &p, d, bufs)
	assert.ErrorContains(t, err, "not mapped")
}
