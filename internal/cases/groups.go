package cases

import (
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

type vd = Definition

func testTypeAxis(types ...TestType) Axis[vd] {
	ax := Axis[vd]{Name: "tt"}
	for _, tt := range types {
		tt := tt
		ax.Options = append(ax.Options, Option[vd]{Name: tt.String(), Apply: func(d *vd) { d.TestType = tt }})
	}
	return ax
}

func storageAxis(classes ...StorageClass) Axis[vd] {
	ax := Axis[vd]{Name: "sc"}
	for _, sc := range classes {
		sc := sc
		ax.Options = append(ax.Options, Option[vd]{Name: sc.String(), Apply: func(d *vd) { d.StorageClass = sc }})
	}
	return ax
}

// componentSizes are the square vector lengths of elementwise and
// reduce cases.
var componentSizes = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 31, 65}

func componentSizeAxis() Axis[vd] {
	ax := Axis[vd]{Name: "size"}
	for _, n := range componentSizes {
		n := n
		ax.Options = append(ax.Options, Option[vd]{
			Name:  fmt.Sprintf("components%d", n),
			Apply: func(d *vd) { d.K, d.N = n, n },
		})
	}
	return ax
}

// matrixSizes are (N, K) pairs named "NxK".
var matrixSizes = [][2]int{
	{1, 1}, {2, 2}, {10, 1}, {1, 10}, {40, 5}, {5, 40}, {8, 8}, {16, 8},
	{8, 16}, {16, 16}, {7, 13}, {32, 32}, {21, 35}, {19, 51}, {51, 19}, {128, 128},
}

func matrixSizeAxis(withMax bool) Axis[vd] {
	ax := Axis[vd]{Name: "size"}
	for _, s := range matrixSizes {
		if s[0] == 128 && !withMax {
			continue
		}
		n, k := s[0], s[1]
		ax.Options = append(ax.Options, Option[vd]{
			Name:  fmt.Sprintf("%dx%d", n, k),
			Apply: func(d *vd) { d.N, d.K = n, k },
		})
	}
	return ax
}

type sizedStage struct {
	stage Stage
	x, y  int
}

// sizedStages carry the per-stage threads per workgroup of the matmul and
// training groups.
var sizedStages = []sizedStage{
	{StageCompute, 71, 2}, {StageRaygen, 71, 2}, {StageIntersect, 71, 2}, {StageAnyHit, 71, 2},
	{StageClosestHit, 71, 2}, {StageMiss, 71, 2}, {StageCallable, 71, 2}, {StageVertex, 71, 1},
	{StageFragment, 13, 8}, {StageGeometry, 32, 1}, {StageTessCtrl, 32, 1}, {StageTessEval, 32, 1},
	{StageTask, 37, 2}, {StageMesh, 37, 2}, {StageTask, 31, 1}, {StageMesh, 31, 1},
}

func (s sizedStage) name() string { return fmt.Sprintf("%s%dx%d", s.stage, s.x, s.y) }

func sizedStageAxis() Axis[vd] {
	ax := Axis[vd]{Name: "stage"}
	for _, s := range sizedStages {
		s := s
		ax.Options = append(ax.Options, Option[vd]{Name: s.name(), Apply: func(d *vd) {
			d.Stage = s.stage
			d.ThreadsPerWorkgroupX, d.ThreadsPerWorkgroupY = s.x, s.y
		}})
	}
	return ax
}

func flagAxis(name, off, on string, set func(*vd, bool)) Axis[vd] {
	return Axis[vd]{Name: name, Options: []Option[vd]{
		{Name: off, Apply: func(d *vd) { set(d, false) }},
		{Name: on, Apply: func(d *vd) { set(d, true) }},
	}}
}

func layoutAxis(name string, layouts ...coopvec.MatrixLayout) Axis[vd] {
	ax := Axis[vd]{Name: name}
	for _, l := range layouts {
		l := l
		ax.Options = append(ax.Options, Option[vd]{Name: l.String(), Apply: func(d *vd) { d.MatrixLayout[0] = l }})
	}
	return ax
}

var rejectWorkgroupOutsideCompute = Filter[vd]{
	Name:   "workgroup-storage-needs-compute",
	Reject: func(d *vd) bool { return d.StorageClass.IsWorkgroup() && d.Stage != StageCompute },
}

func is(d *vd, n, k int) bool { return d.N == n && d.K == k }

// BasicSpace enumerates the elementwise operation group.
func BasicSpace() Space[vd] {
	type pair struct{ in, out coopvec.ComponentType }
	pairs := []pair{
		{coopvec.Float16, coopvec.Float16}, {coopvec.UInt8, coopvec.UInt8}, {coopvec.UInt8, coopvec.UInt32},
		{coopvec.UInt32, coopvec.UInt8}, {coopvec.SInt8, coopvec.SInt8}, {coopvec.SInt8, coopvec.SInt32},
		{coopvec.SInt32, coopvec.SInt8}, {coopvec.Float16, coopvec.UInt8}, {coopvec.Float16, coopvec.SInt8},
		{coopvec.Float16, coopvec.UInt32}, {coopvec.Float16, coopvec.SInt32}, {coopvec.UInt8, coopvec.Float16},
		{coopvec.SInt8, coopvec.Float16}, {coopvec.UInt32, coopvec.Float16}, {coopvec.SInt32, coopvec.Float16},
		{coopvec.Float16, coopvec.Float32}, {coopvec.Float32, coopvec.Float16}, {coopvec.Float32, coopvec.Float32},
	}
	dt := Axis[vd]{Name: "dt"}
	for _, p := range pairs {
		p := p
		dt.Options = append(dt.Options, Option[vd]{
			Name: p.in.String() + "_" + p.out.String(),
			Apply: func(d *vd) {
				d.InputType, d.InputInterpretation, d.MatrixType = p.in, p.in, p.in
				d.OutputType = p.out
			},
		})
	}

	stages := Axis[vd]{Name: "stage"}
	for s := StageCompute; s < numStages; s++ {
		s := s
		stages.Options = append(stages.Options, Option[vd]{Name: s.String(), Apply: func(d *vd) { d.Stage = s }})
	}

	return Space[vd]{
		Group: "basic",
		Base: vd{
			ThreadsPerWorkgroupX: 8, ThreadsPerWorkgroupY: 8,
			WorkgroupsX: 2, WorkgroupsY: 2,
		},
		Axes: []Axis[vd]{
			testTypeAxis(TTLength, TTConstant, TTConvert, TTComposite, TTCompositeRvalue, TTVectorExtract,
				TTAdd, TTSub, TTMul, TTDiv, TTNegate, TTVectorTimesScalar, TTExp, TTLog, TTTanh, TTAtan,
				TTMin, TTMax, TTClamp, TTStep, TTFma, TTFunc, TTAnd, TTOr, TTXor, TTNot, TTShl, TTShr,
				TTCompositeArray),
			dt,
			storageAxis(SCBuffer, SCWorkgroup, SCBufferVariablePointers, SCWorkgroupVariablePointers, SCPhysicalStorageBuffer),
			componentSizeAxis(),
			stages,
		},
		Finish: func(d *vd) {
			switch d.Stage {
			case StageGeometry, StageTessCtrl, StageTessEval, StageTask, StageMesh:
				d.ThreadsPerWorkgroupX, d.ThreadsPerWorkgroupY = 32, 1
			}
		},
		Filters: []Filter[vd]{
			rejectWorkgroupOutsideCompute,
			{"signed-types-outside-compute-need-65", func(d *vd) bool {
				return d.Stage != StageCompute && (d.InputType.IsSignedInt() || d.OutputType.IsSignedInt()) && d.N != 65
			}},
			{"non-compute-needs-31", func(d *vd) bool { return d.N != 31 && d.Stage != StageCompute }},
			{"mixed-types-need-convert", func(d *vd) bool {
				return !d.TestType.IsMatrixMul() && d.TestType != TTConvert && d.InputType != d.OutputType
			}},
			{"convert-needs-mixed-types", func(d *vd) bool {
				return d.TestType == TTConvert && d.InputType == d.OutputType
			}},
			{"pointer-storage-needs-31", func(d *vd) bool {
				return (d.StorageClass == SCPhysicalStorageBuffer || d.StorageClass == SCBufferVariablePointers) &&
					!is(d, 31, 31)
			}},
			{"float-only-op", func(d *vd) bool {
				return d.TestType.FloatOnly() && (!d.InputType.IsFloat() || !d.OutputType.IsFloat())
			}},
			{"int-only-op", func(d *vd) bool {
				return d.TestType.IntOnly() && (d.InputType.IsFloat() || d.OutputType.IsFloat())
			}},
		},
	}
}

// activationBudget limits which activations run where: mul everywhere,
// load and loadshared only in a few pipelines, hardgelu at every size
// for float32 input and every other activation only at 40x5.
func activationBudget(d *vd) bool {
	switch d.Act[0] {
	case ActMul:
		return false
	case ActLoad:
		return !((d.Stage == StageCompute || d.Stage == StageClosestHit || d.Stage == StageVertex) &&
			d.NonuniformOffset && d.MatrixLayout[0] == coopvec.InferencingOptimal &&
			!d.StorageClass.IsWorkgroup())
	case ActLoadShared:
		return !(d.Stage == StageCompute && d.MatrixLayout[0] == coopvec.InferencingOptimal &&
			(d.StorageClass == SCBuffer || d.StorageClass == SCWorkgroup))
	case ActHardGelu:
		if d.InputType == coopvec.Float32 {
			return false
		}
	}
	return !is(d, 40, 5)
}

// MatMulSpace enumerates the matrix multiply group.
func MatMulSpace() Space[vd] {
	type quad struct {
		in, interp, matrix, out coopvec.ComponentType
		packed                  bool
	}
	quads := []quad{
		{coopvec.Float16, coopvec.Float16, coopvec.Float16, coopvec.Float16, false},
		{coopvec.UInt8, coopvec.UInt8, coopvec.UInt8, coopvec.UInt32, false},
		{coopvec.UInt8, coopvec.UInt8, coopvec.UInt8, coopvec.SInt32, false},
		{coopvec.UInt8, coopvec.UInt8, coopvec.SInt8, coopvec.SInt32, false},
		{coopvec.SInt8, coopvec.SInt8, coopvec.UInt8, coopvec.SInt32, false},
		{coopvec.SInt8, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, false},
		{coopvec.SInt8, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, true},
		{coopvec.UInt8, coopvec.UInt8, coopvec.SInt8, coopvec.SInt32, true},
		{coopvec.SInt32, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, false},
		{coopvec.Float32, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, false},
		{coopvec.Float16, coopvec.FloatE4M3, coopvec.FloatE4M3, coopvec.Float16, false},
		{coopvec.Float16, coopvec.FloatE5M2, coopvec.FloatE5M2, coopvec.Float16, false},
	}
	dt := Axis[vd]{Name: "dt"}
	for _, q := range quads {
		q := q
		first := q.in.String()
		if q.packed {
			first += "packed"
		}
		dt.Options = append(dt.Options, Option[vd]{
			Name: fmt.Sprintf("%s_%s_%s_%s", first, q.interp, q.matrix, q.out),
			Apply: func(d *vd) {
				d.InputType, d.InputInterpretation, d.MatrixType, d.OutputType = q.in, q.interp, q.matrix, q.out
				d.InputPacked = q.packed
			},
		})
	}

	act := Axis[vd]{Name: "act"}
	for a := ActNone; a < numActivations; a++ {
		a := a
		act.Options = append(act.Options, Option[vd]{Name: a.String(), Apply: func(d *vd) { d.Act = [3]Activation{a, a, a} }})
	}

	return Space[vd]{
		Group: "matmul",
		Base:  vd{WorkgroupsX: 2, WorkgroupsY: 2},
		Axes: []Axis[vd]{
			testTypeAxis(TTMatrixMul, TTMatrixMad, TTMatrixMadTranspose, TTMatrixMul3, TTMatrixMul2AddMul2,
				TTMatrixMul2Add, TTMatrixMulTrainingBias),
			dt,
			storageAxis(SCBuffer, SCWorkgroup, SCBufferVariablePointers, SCWorkgroupVariablePointers, SCPhysicalStorageBuffer),
			matrixSizeAxis(true),
			act,
			flagAxis("nonunif", "uniformoffset", "nonuniformoffset", func(d *vd, v bool) { d.NonuniformOffset = v }),
			flagAxis("cf", "cfuniform", "cfdivergent", func(d *vd, v bool) { d.CFDivergent = v }),
			layoutAxis("col", coopvec.Layouts()...),
			sizedStageAxis(),
		},
		Finish: func(d *vd) {
			l := d.MatrixLayout[0]
			d.MatrixLayout = [3]coopvec.MatrixLayout{l, coopvec.SwapRowCol(l), l}
			d.Transpose = d.TestType == TTMatrixMadTranspose
		},
		Filters: []Filter[vd]{
			rejectWorkgroupOutsideCompute,
			{"concrete-layout-no-transpose", func(d *vd) bool {
				return !d.MatrixLayout[0].IsOptimal() && d.TestType == TTMatrixMadTranspose
			}},
			{"fp8-matrix-needs-optimal", func(d *vd) bool {
				return !d.MatrixLayout[0].IsOptimal() && d.MatrixType.IsFP8()
			}},
			{"int-output-activation", func(d *vd) bool {
				a := d.Act[0]
				return !d.OutputType.IsFloat() && (a == ActSigmoid || a == ActLeakyReluStep || a == ActLeakyReluMax)
			}},
			{"fp8-nonlinear-activation", func(d *vd) bool {
				return (d.Act[0] == ActSigmoid || d.Act[0] == ActHardGelu) && d.InputInterpretation.IsFP8()
			}},
			{"mixed-sign-outside-compute", func(d *vd) bool {
				return d.Stage != StageCompute && d.InputType.IsSignedInt() != d.MatrixType.IsSignedInt() && !is(d, 21, 35)
			}},
			{"loadreadonly-needs-float-output", func(d *vd) bool {
				return d.Act[0] == ActLoadReadonly && !d.OutputType.IsFloat()
			}},
			{"activation-budget", activationBudget},
			{"pointer-storage-needs-16x16", func(d *vd) bool {
				return (d.StorageClass == SCPhysicalStorageBuffer || d.StorageClass.IsVariablePointers()) && !is(d, 16, 16)
			}},
			{"storage-variants-only-2addmul2", func(d *vd) bool {
				return d.TestType != TTMatrixMul2AddMul2 && d.StorageClass != SCBuffer
			}},
			{"compute-only-ops", func(d *vd) bool {
				return (d.TestType == TTMatrixMul2Add || d.TestType == TTMatrixMul) && d.Stage != StageCompute
			}},
			{"non-compute-skips-51x19", func(d *vd) bool {
				return d.Stage != StageCompute && d.N*d.K == 51*19
			}},
			{"uniformoffset-needs-16x16", func(d *vd) bool { return !d.NonuniformOffset && !is(d, 16, 16) }},
			{"cfdivergent-needs-21x35", func(d *vd) bool { return d.CFDivergent && !is(d, 21, 35) }},
			{"layout-stage-budget", func(d *vd) bool {
				return d.MatrixLayout[0] != coopvec.InferencingOptimal &&
					!(d.Stage == StageCompute || d.Stage == StageIntersect || d.Stage == StageFragment)
			}},
			{"trainingbias-needs-training-layout", func(d *vd) bool {
				return d.TestType == TTMatrixMulTrainingBias && d.MatrixLayout[0] != coopvec.TrainingOptimal
			}},
			{"trainingbias-matrix-type", func(d *vd) bool {
				return d.TestType == TTMatrixMulTrainingBias &&
					d.MatrixType != coopvec.Float16 && d.MatrixType != coopvec.Float32
			}},
			{"max-size-only-mul", func(d *vd) bool {
				return d.N == 128 && !(d.TestType == TTMatrixMul && d.Act[0] == ActMul)
			}},
		},
	}
}

func indexing64(stage sizedStage, tt TestType) vd {
	opt := coopvec.InferencingOptimal
	return vd{
		Stage:                stage.stage,
		TestType:             tt,
		ThreadsPerWorkgroupX: stage.x,
		ThreadsPerWorkgroupY: stage.y,
		WorkgroupsX:          2,
		WorkgroupsY:          2,
		InputType:            coopvec.Float16,
		InputInterpretation:  coopvec.Float16,
		MatrixType:           coopvec.Float16,
		OutputType:           coopvec.Float16,
		MatrixLayout:         [3]coopvec.MatrixLayout{opt, opt, opt},
		StorageClass:         SCBuffer,
		K:                    5,
		N:                    5,
		Uses64BitIndexing:    true,
	}
}

// MatMulGroup builds the matrix multiply group including 64-bit indexing.
func MatMulGroup() (*Node, Stats) {
	g, st := MatMulSpace().Build()
	g64 := NewGroup("64b_indexing")
	for _, s := range sizedStages {
		g64.Insert([]string{"muladd_" + s.name()}, indexing64(s, TTMatrixMad))
	}
	g.AddChild(g64)
	return g, st
}

// TrainingSpace enumerates one training op; reduce and outer product use
// different size tables.
func TrainingSpace(tt TestType) Space[vd] {
	dt := Axis[vd]{Name: "dt"}
	for _, t := range []coopvec.ComponentType{coopvec.Float16, coopvec.Float32} {
		t := t
		dt.Options = append(dt.Options, Option[vd]{Name: t.String(), Apply: func(d *vd) {
			d.InputType, d.InputInterpretation, d.MatrixType, d.OutputType = t, t, t, t
		}})
	}

	size := componentSizeAxis()
	if tt == TTOuterProduct {
		size = matrixSizeAxis(false)
	}

	addr := Axis[vd]{Name: "nonunif"}
	for _, r := range []ResultAddress{ResultUniform, ResultUnique, ResultClustered} {
		r := r
		addr.Options = append(addr.Options, Option[vd]{Name: r.String(), Apply: func(d *vd) {
			d.ResultAddr = r
			d.NonuniformOffset = r != ResultUniform
		}})
	}

	return Space[vd]{
		Group: "training",
		Base:  vd{WorkgroupsX: 2, WorkgroupsY: 2},
		Axes: []Axis[vd]{
			testTypeAxis(tt),
			dt,
			storageAxis(SCBuffer, SCBufferVariablePointers, SCPhysicalStorageBuffer),
			size,
			addr,
			flagAxis("cf", "cfuniform", "cfdivergent", func(d *vd, v bool) { d.CFDivergent = v }),
			layoutAxis("col", coopvec.TrainingOptimal),
			sizedStageAxis(),
		},
		Finish: func(d *vd) {
			if d.TestType == TTOuterProduct {
				d.InputType, d.InputInterpretation = coopvec.Float16, coopvec.Float16
			}
		},
	}
}

// TrainingGroup builds the training group including 64-bit indexing.
func TrainingGroup() (*Node, Stats) {
	g := NewGroup("training")
	total := Stats{Skipped: make(map[string]int)}
	for _, tt := range []TestType{TTReduceSum, TTOuterProduct} {
		st := TrainingSpace(tt).Enumerate(func(path []string, d vd) { g.Insert(path, d) })
		total.Total += st.Total
		total.Emitted += st.Emitted
		for k, v := range st.Skipped {
			total.Skipped[k] += v
		}
	}
	g64 := NewGroup("64b_indexing")
	for _, s := range sizedStages {
		g64.Insert([]string{"reducesum_" + s.name()}, indexing64(s, TTReduceSum))
		g64.Insert([]string{"outerproduct_" + s.name()}, indexing64(s, TTOuterProduct))
	}
	g.AddChild(g64)
	return g, total
}

func hostAxis[T any](set func(*T, bool)) Axis[T] {
	return Axis[T]{Name: "host", Options: []Option[T]{
		{Name: "device", Apply: func(c *T) { set(c, false) }},
		{Name: "host", Apply: func(c *T) { set(c, true) }},
	}}
}

// LayoutConvertSpace enumerates layout conversion chains.
func LayoutConvertSpace() Space[LayoutConvertCase] {
	type lc = LayoutConvertCase
	dt := Axis[lc]{Name: "dt"}
	for _, t := range []coopvec.ComponentType{coopvec.Float32, coopvec.Float16, coopvec.UInt8, coopvec.SInt8,
		coopvec.FloatE4M3, coopvec.FloatE5M2} {
		t := t
		dt.Options = append(dt.Options, Option[lc]{Name: t.String(), Apply: func(c *lc) { c.MatrixType = t }})
	}
	col := func(name string, slot int) Axis[lc] {
		ax := Axis[lc]{Name: name}
		for _, l := range coopvec.Layouts() {
			l := l
			ax.Options = append(ax.Options, Option[lc]{Name: l.String(), Apply: func(c *lc) { c.Layouts[slot] = l }})
		}
		return ax
	}
	return Space[lc]{
		Group: "layoutconvert",
		Base:  lc{Layouts: [4]coopvec.MatrixLayout{coopvec.RowMajor, 0, 0, coopvec.RowMajor}},
		Axes: []Axis[lc]{
			hostAxis(func(c *lc, v bool) { c.HostConvert = v }),
			dt,
			col("col", 1),
			col("col2", 2),
		},
		Filters: []Filter[lc]{
			{"fp8-needs-optimal", func(c *lc) bool {
				return c.MatrixType.IsFP8() && (!c.Layouts[1].IsOptimal() || !c.Layouts[2].IsOptimal())
			}},
		},
	}
}

// TypeConvertSpace enumerates matrix type conversions.
func TypeConvertSpace() Space[TypeConvertCase] {
	type tc = TypeConvertCase
	pairs := [][2]coopvec.ComponentType{
		{coopvec.Float32, coopvec.Float16}, {coopvec.Float32, coopvec.FloatE4M3}, {coopvec.Float32, coopvec.FloatE5M2},
		{coopvec.Float16, coopvec.Float16}, {coopvec.Float16, coopvec.FloatE4M3}, {coopvec.Float16, coopvec.FloatE5M2},
		{coopvec.FloatE4M3, coopvec.Float16}, {coopvec.FloatE5M2, coopvec.Float16},
		{coopvec.FloatE4M3, coopvec.FloatE4M3}, {coopvec.FloatE5M2, coopvec.FloatE5M2},
	}
	dt := Axis[tc]{Name: "dt"}
	for _, p := range pairs {
		p := p
		dt.Options = append(dt.Options, Option[tc]{
			Name:  p[0].String() + "to" + p[1].String(),
			Apply: func(c *tc) { c.SrcType, c.DstType = p[0], p[1] },
		})
	}
	return Space[tc]{
		Group: "typeconvert",
		Axes:  []Axis[tc]{hostAxis(func(c *tc, v bool) { c.HostConvert = v }), dt},
	}
}

// All builds every group under an unnamed root, in a fixed order.
func All() (*Node, map[string]Stats) {
	root := NewGroup("")
	stats := make(map[string]Stats)

	basic, st := BasicSpace().Build()
	root.AddChild(basic)
	stats[basic.Name] = st

	mm, st := MatMulGroup()
	root.AddChild(mm)
	stats[mm.Name] = st

	tr, st := TrainingGroup()
	root.AddChild(tr)
	stats[tr.Name] = st

	lc, st := LayoutConvertSpace().Build()
	root.AddChild(lc)
	stats[lc.Name] = st

	tc, st := TypeConvertSpace().Build()
	root.AddChild(tc)
	stats[tc.Name] = st

	return root, stats
}
