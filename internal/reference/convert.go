package reference

import (
	"encoding/binary"
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

const (
	// LayoutBufferSize is the byte size of the buffer holding a layout
	// chain.
	LayoutBufferSize = 1 << 20
	// MaxLayoutDim bounds the rows and columns a layout case sweeps.
	MaxLayoutDim = 32
	// layoutSourceOffset keeps the first matrix off the buffer start.
	layoutSourceOffset = 128
)

// Step is one conversion between two regions of a buffer.
type Step struct {
	coopvec.Conversion
	SrcOffset int
	SrcSize   int
	DstOffset int
	DstSize   int
}

// LayoutChain converts a rows x cols matrix from row major through two
// layouts and back to row major, each copy placed after the previous
// one at 64 byte alignment.
type LayoutChain struct {
	Rows, Cols int
	Types      [4]coopvec.ComponentType
	Layouts    [4]coopvec.MatrixLayout
	Offsets    [4]int
	Sizes      [4]int
	Strides    [4]int
}

// ChainTypes returns the element type of each copy. FP8 cannot be
// written row or column major, so FP8 chains end in binary16.
func ChainTypes(t coopvec.ComponentType) [4]coopvec.ComponentType {
	types := [4]coopvec.ComponentType{t, t, t, t}
	if t.IsFP8() {
		types[3] = coopvec.Float16
	}
	return types
}

// NewLayoutChain places every copy of the chain. query sizes the copies.
func NewLayoutChain(c cases.LayoutConvertCase, rows, cols int, query SizeQuery) (*LayoutChain, error) {
	lc := &LayoutChain{Rows: rows, Cols: cols, Types: ChainTypes(c.MatrixType), Layouts: c.Layouts}
	lc.Offsets[0] = layoutSourceOffset
	lc.Strides[0] = coopvec.ConcreteStride(coopvec.RowMajor, rows, cols, c.MatrixType)
	lc.Sizes[0] = rows * lc.Strides[0]
	for m := 1; m < 4; m++ {
		lc.Offsets[m] = coopvec.AlignUp(lc.Offsets[m-1]+lc.Sizes[m-1], 64)
		lc.Strides[m] = coopvec.ConcreteStride(lc.Layouts[m], rows, cols, lc.Types[m])
		size, err := query(lc.step(m).Conversion)
		if err != nil {
			return nil, fmt.Errorf("step %d size: %w", m, err)
		}
		lc.Sizes[m] = size
	}
	if end := lc.Offsets[3] + lc.Sizes[3]; end > LayoutBufferSize {
		return nil, fmt.Errorf("invalid chain size: %d (must be at most %d)", end, LayoutBufferSize)
	}
	return lc, nil
}

func (lc *LayoutChain) step(m int) Step {
	return Step{
		Conversion: coopvec.Conversion{
			SrcType: lc.Types[m-1], DstType: lc.Types[m],
			SrcLayout: lc.Layouts[m-1], DstLayout: lc.Layouts[m],
			Rows: lc.Rows, Cols: lc.Cols,
			SrcStride: lc.Strides[m-1], DstStride: lc.Strides[m],
		},
		SrcOffset: lc.Offsets[m-1],
		SrcSize:   lc.Sizes[m-1],
		DstOffset: lc.Offsets[m],
		DstSize:   lc.Sizes[m],
	}
}

// Steps returns the three conversions in execution order.
func (lc *LayoutChain) Steps() []Step {
	return []Step{lc.step(1), lc.step(2), lc.step(3)}
}

// Fill writes the row major source matrix. rnd continues across the
// shapes of one case.
func (lc *LayoutChain) Fill(buf []byte, rnd *Rand) {
	t := lc.Types[0]
	for i := 0; i < lc.Rows; i++ {
		row := lc.Offsets[0] + i*lc.Strides[0]
		for j := 0; j < lc.Cols; j++ {
			r := rnd.Uint32()
			if t.IsFloat() {
				coopvec.SetFloatAt(buf, t, row, j, (float64(r&0xff)-64)/2)
			} else {
				coopvec.SetIntAt(buf, t, row, j, int64(r&0xff))
			}
		}
	}
}

func (lc *LayoutChain) at(m, i, j int) (offset, index int) {
	if lc.Layouts[m] == coopvec.ColumnMajor {
		return lc.Offsets[m] + j*lc.Strides[m], i
	}
	return lc.Offsets[m] + i*lc.Strides[m], j
}

// Verify compares every row or column major copy with the source.
// Mismatches record the chain step as the invocation.
func (lc *LayoutChain) Verify(buf []byte, v *Verdict) {
	src := lc.Types[0]
	for i := 0; i < lc.Rows; i++ {
		for j := 0; j < lc.Cols; j++ {
			so, si := lc.at(0, i, j)
			for m := 1; m < 4; m++ {
				if lc.Layouts[m].IsOptimal() {
					continue
				}
				t := lc.Types[m]
				do, di := lc.at(m, i, j)
				if src.IsFloat() {
					want := float32(coopvec.GetFloatAt(buf, src, so, si))
					got := float32(coopvec.GetFloatAt(buf, t, do, di))
					if got != want {
						v.fail(m, i*lc.Cols+j, float64(want), float64(got))
					}
					continue
				}
				want := coopvec.GetIntAt(buf, src, so, si)
				got := coopvec.GetIntAt(buf, t, do, di)
				if got != want {
					v.fail(m, i*lc.Cols+j, float64(want), float64(got))
				}
			}
		}
	}
}

// TypeChain converts every encoding of a source type to a destination
// type in inferencing optimal layout, then back to a wide row major
// vector.
type TypeChain struct {
	Src, Dst, Out coopvec.ComponentType
	NumElements   int
	OptimalSize   int
}

// NewTypeChain sizes the chain. Float32 sources cover every value whose
// low half is zero.
func NewTypeChain(c cases.TypeConvertCase, query SizeQuery) (*TypeChain, error) {
	tc := &TypeChain{Src: c.SrcType, Dst: c.DstType, Out: coopvec.Float16}
	if c.SrcType == coopvec.Float32 {
		tc.Out = coopvec.Float32
		tc.NumElements = 1 << 16
	} else {
		tc.NumElements = 1 << (8 * c.SrcType.Size())
	}
	size, err := query(tc.toOptimal().Conversion)
	if err != nil {
		return nil, fmt.Errorf("optimal size: %w", err)
	}
	tc.OptimalSize = size
	return tc, nil
}

func (tc *TypeChain) srcSize() int { return tc.NumElements * tc.Src.Size() }

// BufferSize is the byte size of the buffer holding the chain.
func (tc *TypeChain) BufferSize() int {
	return tc.srcSize() + tc.OptimalSize + tc.NumElements*tc.Out.Size()
}

func (tc *TypeChain) toOptimal() Step {
	return Step{
		Conversion: coopvec.Conversion{
			SrcType: tc.Src, DstType: tc.Dst,
			SrcLayout: coopvec.RowMajor, DstLayout: coopvec.InferencingOptimal,
			Rows: 1, Cols: tc.NumElements, SrcStride: tc.srcSize(),
		},
		SrcSize:   tc.srcSize(),
		DstOffset: tc.srcSize(),
		DstSize:   tc.OptimalSize,
	}
}

func (tc *TypeChain) outOffset() int { return tc.srcSize() + tc.OptimalSize }

// Steps returns the conversion to optimal layout and the read back.
func (tc *TypeChain) Steps() []Step {
	back := Step{
		Conversion: coopvec.Conversion{
			SrcType: tc.Dst, DstType: tc.Out,
			SrcLayout: coopvec.InferencingOptimal, DstLayout: coopvec.RowMajor,
			Rows: 1, Cols: tc.NumElements, DstStride: tc.NumElements * tc.Out.Size(),
		},
		SrcOffset: tc.srcSize(),
		SrcSize:   tc.OptimalSize,
		DstOffset: tc.outOffset(),
		DstSize:   tc.NumElements * tc.Out.Size(),
	}
	return []Step{tc.toOptimal(), back}
}

// Fill writes every source encoding in ascending order.
func (tc *TypeChain) Fill(buf []byte) {
	for i := 0; i < tc.NumElements; i++ {
		switch tc.Src.Size() {
		case 4:
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(i)<<16)
		case 2:
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(i))
		default:
			buf[i] = byte(i)
		}
	}
}

// Verify expects each source value rounded through the destination
// type. NaN matches any NaN.
func (tc *TypeChain) Verify(buf []byte, v *Verdict) {
	out := buf[tc.outOffset():]
	for i := 0; i < tc.NumElements; i++ {
		src := float32(coopvec.GetFloat(buf, tc.Src, i))
		got := float32(coopvec.GetFloat(out, tc.Out, i))
		want := coopvec.Quantize(src, tc.Dst)
		if got != want && !(want != want && got != got) {
			v.fail(0, i, float64(want), float64(got))
		}
	}
}
