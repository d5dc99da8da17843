package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

// exec is one dispatch of a program over resolved bindings.
type exec struct {
	d  cases.Definition
	dt [4]coopvec.ComponentType

	a, b, c, o []byte

	inPad, outPad int
	// outPadB is the padded length of the outer product's second vector,
	// which is laid out in input elements.
	outPadB int

	layerStride      int
	layerOffsets     [3]int
	views            [3]matrixView
	biasStride       int
	outerProductSize int

	// mu serializes accumulation into shared training outputs.
	mu sync.Mutex
}

func (e *Emulator) newExec(p *shader.Program, d cases.Definition, bufs []*Buffer) (*exec, error) {
	x := &exec{d: d, dt: d.DataTypes()}
	data := [4][]byte{}
	if d.StorageClass == cases.SCPhysicalStorageBuffer {
		table := bufs[4].Data
		if len(table) < 32 {
			return nil, fmt.Errorf("invalid address table size: %d (must be at least 32)", len(table))
		}
		for i := range data {
			b, off, err := e.mem.resolve(le.Uint64(table[8*i:]))
			if err != nil {
				return nil, fmt.Errorf("binding %d: %w", i, err)
			}
			data[i] = b.Data[off:]
		}
	} else {
		for i := range data {
			data[i] = bufs[i].Data
		}
	}
	x.a, x.b, x.c, x.o = data[0], data[1], data[2], data[3]

	sc := p.SpecConstants
	x.layerStride = int(sc[shader.SpecLayerStride])
	for i := range x.layerOffsets {
		x.layerOffsets[i] = int(sc[shader.SpecLayer0Offset+i])
	}
	x.outerProductSize = int(sc[shader.SpecOuterProductSize])

	inBits := x.dt[0].Bits()
	x.inPad = coopvec.AlignUp(d.K, 128/inBits)
	x.outPad = coopvec.AlignUp(d.N, 128/x.dt[3].Bits())
	x.outPadB = coopvec.AlignUp(d.N, 128/inBits)
	x.biasStride = coopvec.AlignUp(d.N*x.dt[2].Size(), 16)

	mes := d.MatrixType.Size()
	for l := 0; l < d.TestType.Layers(); l++ {
		rows, cols := d.LayerShape(l)
		stride := coopvec.AlignUp(cols*mes, 16)
		if d.MatrixLayout[l] == coopvec.ColumnMajor {
			stride = coopvec.AlignUp(rows*mes, 16)
		}
		x.views[l] = matrixView{d.MatrixLayout[l], d.MatrixType, rows, cols, stride}
	}
	return x, nil
}

func (x *exec) invoke(inv int) {
	switch {
	case x.d.TestType.IsTraining():
		x.training(inv)
	case x.d.TestType.IsMatrixMul() && x.dt[3].IsFloat():
		x.matMulFloat(inv)
	case x.d.TestType.IsMatrixMul():
		x.matMulInt(inv)
	case x.dt[3].IsFloat():
		x.elementwiseFloat(inv)
	default:
		x.elementwiseInt(inv)
	}
}

func (x *exec) inputFloat(buf []byte, t coopvec.ComponentType, index int) float32 {
	return loadFloat(buf, t, index*t.Size())
}

func (x *exec) inputInt(buf []byte, t coopvec.ComponentType, index int) int64 {
	if t.IsFloat() {
		return int64(loadFloat(buf, t, index*t.Size()))
	}
	return coopvec.GetIntAt(buf, t, 0, index)
}

// elementwiseFloat computes in binary32 like a device does. Only the
// transcendentals go through float64.
func (x *exec) elementwiseFloat(inv int) {
	d, dt := x.d, x.dt
	out := dt[3]
	for j := 0; j < d.N; j++ {
		a := x.inputFloat(x.a, dt[0], inv*x.inPad+j)
		b := x.inputFloat(x.b, dt[1], inv*x.inPad+j)
		var r float32
		switch d.TestType {
		case cases.TTLength:
			r = float32(d.N)
		case cases.TTConstant:
			r = 1
		case cases.TTConvert:
			r = a
		case cases.TTComposite, cases.TTCompositeRvalue, cases.TTCompositeArray, cases.TTAdd:
			r = a + b
		case cases.TTVectorExtract:
			r = a + (b + 1)
		case cases.TTSub:
			r = a - b
		case cases.TTMul:
			r = a * b
		case cases.TTDiv:
			r = a / b
		case cases.TTNegate, cases.TTFunc:
			r = -a
		case cases.TTVectorTimesScalar:
			r = float32(2*a) * 3
		case cases.TTExp:
			r = float32(math.Exp(float64(a * 0.0625)))
		case cases.TTLog:
			r = float32(math.Log(float64(a + 100)))
		case cases.TTTanh:
			r = float32(math.Tanh(float64(a * 0.1)))
		case cases.TTAtan:
			r = float32(math.Atan(float64(a)))
		case cases.TTMin:
			r = min(a, b, 5)
		case cases.TTMax:
			r = max(a, b, 0)
		case cases.TTClamp:
			r = min(max(a, b), 5)
		case cases.TTStep:
			r = 1
			if a < 0 {
				r = 0
			}
		case cases.TTFma:
			r = float32(a*b) + 0.5
		default:
			panic(fmt.Sprintf("device: %v has no float form", d.TestType))
		}
		storeFloat(x.o, out, (inv*x.outPad+j)*out.Size(), r)
	}
}

func (x *exec) elementwiseInt(inv int) {
	d, dt := x.d, x.dt
	out := dt[3]
	for j := 0; j < d.N; j++ {
		a := x.inputInt(x.a, dt[0], inv*x.inPad+j)
		b := x.inputInt(x.b, dt[1], inv*x.inPad+j)
		var r int64
		switch d.TestType {
		case cases.TTLength:
			r = int64(d.N)
		case cases.TTConstant:
			r = 1
		case cases.TTConvert:
			r = a
			if !out.IsSigned() && r < 0 {
				r = 0
			}
		case cases.TTComposite, cases.TTCompositeRvalue, cases.TTCompositeArray, cases.TTAdd:
			r = a + b
		case cases.TTVectorExtract:
			r = a + b + 1
		case cases.TTSub:
			r = a - b
		case cases.TTMul:
			r = a * b
		case cases.TTDiv:
			if b != 0 {
				r = a / b
			}
		case cases.TTNegate, cases.TTFunc:
			r = -a
		case cases.TTVectorTimesScalar:
			r = 6 * a
		case cases.TTMin:
			r = min(a, b, 5)
		case cases.TTMax:
			r = max(a, b, 0)
		case cases.TTClamp:
			r = min(max(a, b), 5)
		case cases.TTAnd:
			r = a & b
		case cases.TTOr:
			r = a | b
		case cases.TTXor:
			r = a ^ b
		case cases.TTNot:
			r = ^a
		case cases.TTShl:
			r = a << (b & 7)
		case cases.TTShr:
			r = a >> (b & 7)
		default:
			panic(fmt.Sprintf("device: %v has no integer form", d.TestType))
		}
		coopvec.SetIntAt(x.o, out, 0, inv*x.outPad+j, coopvec.TruncInt(r, out))
	}
}

// matrixBase is the byte offset of layer l in the weight set used by inv.
func (x *exec) matrixBase(inv, l int) int {
	set := 0
	if x.d.NonuniformOffset {
		set = inv / cases.MatrixGroupSize
	}
	return set*x.layerStride + x.layerOffsets[l]
}

func (x *exec) biasOffset(inv int) int {
	if x.d.NonuniformOffset {
		return inv / cases.BiasGroupSize * x.biasStride
	}
	return 0
}

// element returns the byte offset of the weight feeding output o from
// input i of layer l.
func (x *exec) element(l, o, i int) int {
	if x.d.Transpose {
		return x.views[l].offset(i, o)
	}
	return x.views[l].offset(o, i)
}

func swapPairs[T any](v []T) []T {
	out := make([]T, len(v))
	for k := range v {
		idx := k ^ 1
		if idx >= len(v) {
			idx = k
		}
		out[k] = v[idx]
	}
	return out
}
