package device

import (
	"math"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// Float matrix multiplies accumulate in binary32 in ascending input
// order. Every result vector is rounded to the output type.

func (x *exec) toInterp(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = roundTo(roundTo(f, x.dt[0]), x.d.InputInterpretation)
	}
	return out
}

func (x *exec) mulFloat(inv, l int, in []float32, outDim int) []float32 {
	mt := x.d.MatrixType
	base := x.matrixBase(inv, l)
	out := make([]float32, outDim)
	for o := range out {
		var sum float32
		for i, a := range in {
			w := loadFloat(x.b, mt, base+x.element(l, o, i))
			sum += float32(a * w)
		}
		out[o] = sum
	}
	return out
}

func (x *exec) roundOut(v []float32) {
	for i := range v {
		v[i] = roundTo(v[i], x.dt[3])
	}
}

func (x *exec) biasFloat(inv int, v []float32) {
	off := x.biasOffset(inv)
	for o := range v {
		v[o] += loadFloat(x.c, x.dt[2], off+o*x.dt[2].Size())
	}
}

func (x *exec) activateFloat(act cases.Activation, inv int, v []float32) {
	dt := x.dt
	for i, f := range v {
		switch act {
		case cases.ActNone:
		case cases.ActMul:
			f *= 0.5
		case cases.ActMax:
			f = max(f, 0)
		case cases.ActNonUniform:
			f *= float32(float64(inv%3) / 2.0)
		case cases.ActDiverge:
			if inv&1 != 0 {
				f *= 0.5
			}
		case cases.ActSigmoid:
			f = float32(1 / (1 + math.Exp(-float64(f))))
		case cases.ActLeakyReluStep, cases.ActLeakyReluMax:
			if f < 0 {
				f *= 0.5
			}
		case cases.ActHardGelu:
			f = float32(f/2) + 0.75
			f = float32(min(f, 128) * min(1, max(0, float32(f/3)+0.75)))
		case cases.ActLoad, cases.ActLoadShared:
			f += loadFloat(x.c, dt[2], 16*(inv&1)+i*dt[2].Size())
		case cases.ActLoadReadonly:
			f += loadFloat(x.a, dt[0], inv*dt[0].Size())
		}
		v[i] = roundTo(f, dt[3])
	}
}

func (x *exec) matMulFloat(inv int) {
	d := x.d
	in := make([]float32, d.K)
	for k := range in {
		in[k] = x.inputFloat(x.a, x.dt[0], inv*x.inPad+k)
	}

	var res []float32
	switch d.TestType {
	case cases.TTMatrixMad, cases.TTMatrixMadTranspose:
		res = x.mulFloat(inv, 0, x.toInterp(in), d.N)
		x.biasFloat(inv, res)
		x.roundOut(res)
		x.activateFloat(d.Act[0], inv, res)
	case cases.TTMatrixMul, cases.TTMatrixMulTrainingBias:
		res = x.mulFloat(inv, 0, x.toInterp(in), d.N)
		x.roundOut(res)
		x.activateFloat(d.Act[0], inv, res)
	case cases.TTMatrixMul3:
		res = x.mulFloat(inv, 0, x.toInterp(in), d.N)
		x.roundOut(res)
		x.activateFloat(d.Act[0], inv, res)
		mid := x.mulFloat(inv, 1, x.toInterp(res), d.K)
		x.roundOut(mid)
		x.activateFloat(d.Act[1], inv, mid)
		res = x.mulFloat(inv, 2, x.toInterp(mid), d.N)
		x.roundOut(res)
		x.activateFloat(d.Act[2], inv, res)
	case cases.TTMatrixMul2Add, cases.TTMatrixMul2AddMul2:
		t0 := x.mulFloat(inv, 0, x.toInterp(in), d.N)
		t1 := x.mulFloat(inv, 0, x.toInterp(swapPairs(in)), d.N)
		x.roundOut(t0)
		x.roundOut(t1)
		res = make([]float32, d.N)
		for n := range res {
			res[n] = t0[n] + t1[n]
		}
		x.roundOut(res)
		x.activateFloat(d.Act[0], inv, res)
		if d.TestType == cases.TTMatrixMul2AddMul2 {
			mid := x.mulFloat(inv, 1, x.toInterp(res), d.K)
			x.roundOut(mid)
			x.activateFloat(d.Act[1], inv, mid)
			res = x.mulFloat(inv, 2, x.toInterp(mid), d.N)
			x.roundOut(res)
			x.activateFloat(d.Act[2], inv, res)
		}
	}

	out := x.dt[3]
	for n, v := range res {
		storeFloat(x.o, out, (inv*x.outPad+n)*out.Size(), v)
	}
}

// Integer matrix multiplies accumulate exactly. Results are narrowed to
// the output type only when stored.

func (x *exec) mulInt(inv, l int, in []int64, outDim int) []int64 {
	mt := x.d.MatrixType
	base := x.matrixBase(inv, l)
	out := make([]int64, outDim)
	for o := range out {
		var sum int64
		for i, a := range in {
			sum += a * coopvec.GetIntAt(x.b, mt, base+x.element(l, o, i), 0)
		}
		out[o] = sum
	}
	return out
}

func (x *exec) activateInt(act cases.Activation, inv int, v []int64) {
	dt := x.dt
	for i := range v {
		switch act {
		case cases.ActMul:
			v[i] *= 2
		case cases.ActMax:
			v[i] = max(v[i], 0)
		case cases.ActNonUniform:
			v[i] *= int64(inv % 3)
		case cases.ActDiverge:
			if inv&1 != 0 {
				v[i] *= 2
			}
		case cases.ActHardGelu:
			t := float32(v[i])
			t = float32(t/2) + 0.75
			t = float32(min(t, 65536) * min(4, max(-4, float32(t/3)+0.75)))
			v[i] = int64(t)
		case cases.ActLoad, cases.ActLoadShared:
			v[i] += 16 * coopvec.GetIntAt(x.c, dt[2], 16*(inv&1), i)
		case cases.ActLoadReadonly:
			v[i] += x.inputInt(x.a, dt[0], inv)
		}
	}
}

// interpRange is the saturation range of the implicit input conversion.
func (x *exec) interpRange() (lo, hi int64) {
	d := x.d
	if d.InputType == d.InputInterpretation {
		return math.MinInt64, math.MaxInt64
	}
	return coopvec.IntRange(d.InputInterpretation)
}

// rescale prepares a layer result as the next layer's input: scaled back
// by the contraction length k, narrowed to the input type and saturated
// to the interpretation.
func (x *exec) rescale(v []int64, k int) []int64 {
	d := x.d
	lo, hi := x.interpRange()
	shift := cases.IntScaleShift(k)
	out := make([]int64, len(v))
	for i, r := range v {
		switch {
		case d.DoFloatScale():
			r = coopvec.RoundHalfEven(float32(r) * cases.FloatScaleFactor(k))
		case d.DoIntShift():
			r >>= shift
		}
		if !d.InputType.IsFloat() && (d.InputType != d.OutputType || d.InputType.IsSigned()) {
			r = coopvec.TruncInt(r, d.InputType)
		}
		out[i] = min(max(r, lo), hi)
	}
	return out
}

func (x *exec) matMulInt(inv int) {
	d := x.d
	in := make([]int64, d.K)
	for k := range in {
		in[k] = x.inputInt(x.a, x.dt[0], inv*x.inPad+k)
	}

	var res []int64
	switch d.TestType {
	case cases.TTMatrixMad, cases.TTMatrixMadTranspose:
		res = x.mulInt(inv, 0, in, d.N)
		off := x.biasOffset(inv)
		for o := range res {
			res[o] += coopvec.GetIntAt(x.c, x.dt[2], off, o)
		}
		x.activateInt(d.Act[0], inv, res)
	case cases.TTMatrixMul, cases.TTMatrixMulTrainingBias:
		res = x.mulInt(inv, 0, in, d.N)
		x.activateInt(d.Act[0], inv, res)
	case cases.TTMatrixMul3:
		res = x.mulInt(inv, 0, in, d.N)
		x.activateInt(d.Act[0], inv, res)
		mid := x.mulInt(inv, 1, x.rescale(res, d.K), d.K)
		x.activateInt(d.Act[1], inv, mid)
		res = x.mulInt(inv, 2, x.rescale(mid, d.K), d.N)
		x.activateInt(d.Act[2], inv, res)
	case cases.TTMatrixMul2Add, cases.TTMatrixMul2AddMul2:
		t0 := x.mulInt(inv, 0, in, d.N)
		t1 := x.mulInt(inv, 0, swapPairs(in), d.N)
		res = make([]int64, d.N)
		for n := range res {
			res[n] = t0[n] + t1[n]
		}
		x.activateInt(d.Act[0], inv, res)
		if d.TestType == cases.TTMatrixMul2AddMul2 {
			mid := x.mulInt(inv, 1, x.rescale(res, d.K), d.K)
			x.activateInt(d.Act[1], inv, mid)
			res = x.mulInt(inv, 2, x.rescale(mid, d.N), d.N)
			x.activateInt(d.Act[2], inv, res)
		}
	}

	for n, v := range res {
		coopvec.SetIntAt(x.o, x.dt[3], 0, inv*x.outPad+n, v)
	}
}

// training runs a reduce or outer product accumulation once per
// invocation, guarded by the per-invocation flag in the bias binding.
func (x *exec) training(inv int) {
	d := x.d
	x.mu.Lock()
	defer x.mu.Unlock()
	if coopvec.GetIntAt(x.c, coopvec.UInt32, 0, inv) != 0 {
		return
	}
	coopvec.SetIntAt(x.c, coopvec.UInt32, 0, inv, 1)

	index := d.ResultAddr.Index(inv)
	in, out := x.dt[0], x.dt[3]
	a := make([]float32, d.K)
	for k := range a {
		a[k] = x.inputFloat(x.a, in, inv*x.inPad+k)
	}

	if d.TestType == cases.TTReduceSum {
		base := x.outPad * out.Size() * index
		for k, v := range a {
			p := base + k*out.Size()
			storeFloat(x.o, out, p, loadFloat(x.o, out, p)+v)
		}
		return
	}

	view := matrixView{d.MatrixLayout[0], out, d.K, d.N, coopvec.ConcreteStride(d.MatrixLayout[0], d.K, d.N, out)}
	base := x.outerProductSize * index
	for k, av := range a {
		for n := 0; n < d.N; n++ {
			bv := x.inputFloat(x.b, x.dt[1], inv*x.outPadB+n)
			p := base + view.offset(k, n)
			storeFloat(x.o, out, p, loadFloat(x.o, out, p)+float32(av*bv))
		}
	}
}
