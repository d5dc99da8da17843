package reference

import (
	"math"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
)

// layers reads weights from the raw row or column major copies of an
// invocation's weight set.
type layers struct {
	p   *Plan
	buf []byte
	set int
}

func (p *Plan) layersFor(buf []byte, inv int) layers {
	set := 0
	if p.Def.NonuniformOffset {
		set = inv / cases.MatrixGroupSize
	}
	return layers{p, buf, set}
}

// at returns the byte offset and element index of the weight feeding
// output o from input in of layer l.
func (w layers) at(l, o, in int) (offset, index int) {
	d := w.p.Def
	base := w.set*w.p.TotalLayerSize + w.p.LayerOffsetsRaw[l]
	transpose := l == 0 && d.TestType == cases.TTMatrixMadTranspose
	if (d.MatrixLayout[l] == coopvec.ColumnMajor) != transpose {
		return base + in*w.p.MatrixStride[l], o
	}
	return base + o*w.p.MatrixStride[l], in
}

func (p *Plan) biasOffset(inv int) int {
	if p.Def.NonuniformOffset {
		return inv / cases.BiasGroupSize * p.BiasStride
	}
	return 0
}

// floatModel evaluates one invocation of a float matrix case.
type floatModel struct {
	p   *Plan
	w   layers
	c   []byte
	a   []byte
	inv int
	// interp is the type inputs are quantized through before each
	// multiply.
	interp coopvec.ComponentType
}

func (m *floatModel) quantize(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = coopvec.Quantize(f, m.interp)
	}
	return out
}

func (m *floatModel) mul(l int, in []float32, outDim int) []float32 {
	mt := m.p.Def.MatrixType
	out := make([]float32, outDim)
	for o := range out {
		var sum float32
		for i, a := range in {
			off, idx := m.w.at(l, o, i)
			w := float32(coopvec.GetFloatAt(m.w.buf, mt, off, idx))
			if m.p.Def.TestType == cases.TTMatrixMulTrainingBias {
				w = coopvec.Quantize(w+1, mt)
			}
			sum += float32(a * w)
		}
		out[o] = sum
	}
	return out
}

func (m *floatModel) activate(act cases.Activation, v []float32) {
	dt := m.p.DataTypes
	inv := m.inv
	for i, f := range v {
		switch act {
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
			f = 1 / (1 + float32(math.Exp(float64(-f))))
		case cases.ActLeakyReluStep, cases.ActLeakyReluMax:
			if f < 0 {
				f = 0.5 * f
			}
		case cases.ActHardGelu:
			f = f/2 + 0.75
			f = min(f, 128) * min(1, max(0, f/3+0.75))
		case cases.ActLoad, cases.ActLoadShared:
			f += float32(coopvec.GetFloatAt(m.c, dt[2], 16*(inv&1), i))
		case cases.ActLoadReadonly:
			f += float32(coopvec.GetFloatAt(m.a, dt[0], 0, inv))
		}
		v[i] = f
	}
}

func (m *floatModel) eval(in []float32) []float32 {
	d := m.p.Def
	var res []float32
	switch d.TestType {
	case cases.TTMatrixMad, cases.TTMatrixMadTranspose:
		res = m.mul(0, m.quantize(in), d.N)
		off := m.p.biasOffset(m.inv)
		for o := range res {
			res[o] += float32(coopvec.GetFloatAt(m.c, m.p.DataTypes[2], off, o))
		}
		m.activate(d.Act[0], res)
	case cases.TTMatrixMul, cases.TTMatrixMulTrainingBias:
		res = m.mul(0, m.quantize(in), d.N)
		m.activate(d.Act[0], res)
	case cases.TTMatrixMul3:
		res = m.mul(0, m.quantize(in), d.N)
		m.activate(d.Act[0], res)
		mid := m.mul(1, m.quantize(res), d.K)
		m.activate(d.Act[1], mid)
		res = m.mul(2, m.quantize(mid), d.N)
		m.activate(d.Act[2], res)
	case cases.TTMatrixMul2Add, cases.TTMatrixMul2AddMul2:
		t0 := m.mul(0, m.quantize(in), d.N)
		t1 := m.mul(0, m.quantize(swapPairs(in)), d.N)
		res = make([]float32, d.N)
		for n := range res {
			res[n] = t0[n] + t1[n]
		}
		m.activate(d.Act[0], res)
		if d.TestType == cases.TTMatrixMul2AddMul2 {
			mid := m.mul(1, m.quantize(res), d.K)
			m.activate(d.Act[1], mid)
			res = m.mul(2, m.quantize(mid), d.N)
			m.activate(d.Act[2], res)
		}
	}
	return res
}

// verifyMatMulFloat checks every invocation with quantization to the
// input interpretation. An FP8 invocation that fails is checked once
// more with binary16 quantization and passes if that agrees.
func verifyMatMulFloat(p *Plan, bufs [4][]byte, v *Verdict) {
	d, dt := p.Def, p.DataTypes
	tol := NewMatMulTolerance(d)
	for inv := 0; inv < d.TotalInvocations(); inv++ {
		in := make([]float32, d.K)
		for k := range in {
			in[k] = float32(coopvec.GetFloat(bufs[0], dt[0], inv*p.InputPadded+k))
		}
		out := make([]float32, d.N)
		for n := range out {
			out[n] = float32(coopvec.GetFloat(bufs[3], dt[3], inv*p.OutputPadded+n))
		}

		m := &floatModel{p: p, w: p.layersFor(bufs[1], inv), c: bufs[2], a: bufs[0], inv: inv, interp: d.InputInterpretation}
		ref := m.eval(in)
		bad := compareFloat(tol, ref, out)
		if len(bad) > 0 && d.InputInterpretation.IsFP8() {
			m.interp = coopvec.Float16
			if len(compareFloat(tol, m.eval(in), out)) == 0 {
				v.FP8Retries++
				metrics.RecordFP8Retry()
				bad = nil
			}
		}
		for _, n := range bad {
			v.fail(inv, n, float64(ref[n]), float64(out[n]))
		}
	}
}

// compareFloat returns the elements of out rejected against ref.
func compareFloat(tol MatMulTolerance, ref, out []float32) []int {
	var bad []int
	for n := range out {
		if !tol.Accepts(out[n], ref[n]) {
			bad = append(bad, n)
		}
	}
	return bad
}

// intModel evaluates one invocation of an integer matrix case. Sums are
// exact; rescaling between layers narrows to the input type and
// saturates to the interpretation.
type intModel struct {
	p   *Plan
	w   layers
	c   []byte
	a   []byte
	inv int

	clampMin, clampMax int64
	mask               int64
}

func newIntModel(p *Plan, bufs [4][]byte, inv int) *intModel {
	d := p.Def
	m := &intModel{
		p: p, w: p.layersFor(bufs[1], inv), c: bufs[2], a: bufs[0], inv: inv,
		clampMin: math.MinInt64, clampMax: math.MaxInt64, mask: ^int64(0),
	}
	if d.InputType != d.InputInterpretation {
		m.clampMin, m.clampMax = coopvec.IntRange(d.InputInterpretation)
	}
	if d.InputType != d.OutputType && !d.InputType.IsFloat() {
		m.mask = int64(1)<<d.InputType.Bits() - 1
	}
	return m
}

func (m *intModel) trunc(v int64) int64 {
	in := m.p.Def.InputType
	v &= m.mask
	if in.IsSignedInt() {
		s := 64 - in.Bits()
		v = v << s >> s
	}
	return min(max(v, m.clampMin), m.clampMax)
}

func (m *intModel) rescale(v []int64, k int) []int64 {
	d := m.p.Def
	out := make([]int64, len(v))
	for i, r := range v {
		switch {
		case d.DoFloatScale():
			r = coopvec.RoundHalfEven(float32(r) * cases.FloatScaleFactor(k))
		case d.DoIntShift():
			r >>= cases.IntScaleShift(k)
		}
		out[i] = m.trunc(r)
	}
	return out
}

func (m *intModel) mul(l int, in []int64, outDim int) []int64 {
	mt := m.p.Def.MatrixType
	out := make([]int64, outDim)
	for o := range out {
		var sum int64
		for i, a := range in {
			off, idx := m.w.at(l, o, i)
			w := coopvec.GetIntAt(m.w.buf, mt, off, idx)
			if m.p.Def.TestType == cases.TTMatrixMulTrainingBias && w < 0x7F {
				w++
			}
			sum += a * w
		}
		out[o] = sum
	}
	return out
}

func (m *intModel) activate(act cases.Activation, v []int64) {
	dt := m.p.DataTypes
	inv := m.inv
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
			t = t/2 + 0.75
			t = min(t, 65536) * min(4, max(-4, t/3+0.75))
			v[i] = int64(t)
		case cases.ActLoad, cases.ActLoadShared:
			v[i] += 16 * coopvec.GetIntAt(m.c, dt[2], 16*(inv&1), i)
		case cases.ActLoadReadonly:
			v[i] += coopvec.GetIntAt(m.a, dt[0], 0, inv)
		}
	}
}

func (m *intModel) eval(in []int64) []int64 {
	d := m.p.Def
	var res []int64
	switch d.TestType {
	case cases.TTMatrixMad, cases.TTMatrixMadTranspose:
		res = m.mul(0, in, d.N)
		off := m.p.biasOffset(m.inv)
		for o := range res {
			res[o] += coopvec.GetIntAt(m.c, m.p.DataTypes[2], off, o)
		}
		m.activate(d.Act[0], res)
	case cases.TTMatrixMul, cases.TTMatrixMulTrainingBias:
		res = m.mul(0, in, d.N)
		m.activate(d.Act[0], res)
	case cases.TTMatrixMul3:
		res = m.mul(0, in, d.N)
		m.activate(d.Act[0], res)
		mid := m.mul(1, m.rescale(res, d.K), d.K)
		m.activate(d.Act[1], mid)
		res = m.mul(2, m.rescale(mid, d.K), d.N)
		m.activate(d.Act[2], res)
	case cases.TTMatrixMul2Add, cases.TTMatrixMul2AddMul2:
		t0 := m.mul(0, in, d.N)
		t1 := m.mul(0, swapPairs(in), d.N)
		res = make([]int64, d.N)
		for n := range res {
			res[n] = t0[n] + t1[n]
		}
		m.activate(d.Act[0], res)
		if d.TestType == cases.TTMatrixMul2AddMul2 {
			mid := m.mul(1, m.rescale(res, d.K), d.K)
			m.activate(d.Act[1], mid)
			res = m.mul(2, m.rescale(mid, d.N), d.N)
			m.activate(d.Act[2], res)
		}
	}
	return res
}

// verifyMatMulInt compares the low 32 bits of every result.
func verifyMatMulInt(p *Plan, bufs [4][]byte, v *Verdict) {
	d, dt := p.Def, p.DataTypes
	for inv := 0; inv < d.TotalInvocations(); inv++ {
		in := make([]int64, d.K)
		for k := range in {
			in[k] = coopvec.GetInt(bufs[0], dt[0], inv*p.InputPadded+k)
		}
		ref := newIntModel(p, bufs, inv).eval(in)
		for n, r := range ref {
			got := coopvec.GetInt(bufs[3], dt[3], inv*p.OutputPadded+n)
			if int32(got) != int32(r) {
				v.fail(inv, n, float64(r), float64(got))
			}
		}
	}
}

// swapPairs exchanges adjacent elements; a trailing odd element stays.
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
