package cases

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

var (
	allOnce  sync.Once
	allRoot  *Node
	allStats map[string]Stats
)

func fullTree(t *testing.T) *Node {
	t.Helper()
	allOnce.Do(func() { allRoot, allStats = All() })
	return allRoot
}

func definition(t *testing.T, name string) Definition {
	t.Helper()
	n := fullTree(t).Find(name)
	require.NotNil(t, n, "missing case %s", name)
	require.True(t, n.IsLeaf())
	d, ok := n.Case.(Definition)
	require.True(t, ok)
	return d
}

func TestGroupOrder(t *testing.T) {
	var names []string
	for _, c := range fullTree(t).Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"basic", "matmul", "training", "layoutconvert", "typeconvert"}, names)
}

func TestSpaceTotals(t *testing.T) {
	fullTree(t)
	for _, tc := range []struct {
		name  string
		space func() []int
	}{
		{"basic", func() []int { return axisLens(BasicSpace().Axes) }},
		{"matmul", func() []int { return axisLens(MatMulSpace().Axes) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			want := 1
			for _, n := range tc.space() {
				want *= n
			}
			st := allStats[tc.name]
			assert.Equal(t, want, st.Total)
			skipped := 0
			for _, v := range st.Skipped {
				skipped += v
			}
			assert.Equal(t, st.Total, st.Emitted+skipped)
		})
	}
}

func axisLens[T any](axes []Axis[T]) []int {
	out := make([]int, len(axes))
	for i, ax := range axes {
		out[i] = len(ax.Options)
	}
	return out
}

func TestDeterministicNames(t *testing.T) {
	a, _ := BasicSpace().Build()
	b, _ := BasicSpace().Build()
	na, nb := a.Flatten(""), b.Flatten("")
	require.Equal(t, len(na), len(nb))
	for i := range na {
		require.Equal(t, na[i].Name, nb[i].Name)
		require.Equal(t, na[i].Case, nb[i].Case)
	}
	assert.Equal(t, "basic.length.float16_float16.buffer.components1.compute", na[0].Name)
}

func TestMatMulNaming(t *testing.T) {
	d := definition(t, "matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x16.actmul.uniformoffset.cfuniform.inferencingOptimal.compute71x2")
	assert.Equal(t, TTMatrixMad, d.TestType)
	assert.Equal(t, 16, d.N)
	assert.Equal(t, 16, d.K)
	assert.Equal(t, 71, d.ThreadsPerWorkgroupX)
	assert.Equal(t, 2, d.ThreadsPerWorkgroupY)
	assert.Equal(t, [3]Activation{ActMul, ActMul, ActMul}, d.Act)
	assert.False(t, d.NonuniformOffset)
	assert.False(t, d.Transpose)
}

func TestMatMulLayouts(t *testing.T) {
	d := definition(t, "matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x16.actmul.uniformoffset.cfuniform.colMajor.compute71x2")
	assert.Equal(t, [3]coopvec.MatrixLayout{coopvec.ColumnMajor, coopvec.RowMajor, coopvec.ColumnMajor}, d.MatrixLayout)

	d = definition(t, "matmul.matrixmuladdtranspose.float16_float16_float16_float16.buffer.16x16.actmul.uniformoffset.cfuniform.inferencingOptimal.compute71x2")
	assert.True(t, d.Transpose)
}

func TestMatMulPacked(t *testing.T) {
	d := definition(t, "matmul.matrixmuladd.sint8packed_sint8_sint8_sint32.buffer.16x16.actmul.uniformoffset.cfuniform.inferencingOptimal.compute71x2")
	assert.True(t, d.InputPacked)
	assert.Equal(t, coopvec.SInt8, d.InputType)
	assert.Equal(t, coopvec.SInt32, d.OutputType)
}

func TestMatMulFilters(t *testing.T) {
	root := fullTree(t)
	for _, name := range []string{
		// fp8 matrices need an optimal layout
		"matmul.matrixmuladd.float16_floate4m3_floate4m3_float16.buffer.16x16.actmul.uniformoffset.cfuniform.rowMajor.compute71x2",
		// sigmoid needs a float output
		"matmul.matrixmuladd.uint8_uint8_uint8_uint32.buffer.40x5.actsigmoid.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2",
		// workgroup storage only in compute
		"matmul.matrixmul2addmul2.float16_float16_float16_float16.workgroup.16x16.actmul.uniformoffset.cfuniform.inferencingOptimal.raygen71x2",
		// divergent control flow only at 21x35
		"matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x16.actmul.uniformoffset.cfdivergent.inferencingOptimal.compute71x2",
		// matrixmul only in compute
		"matmul.matrixmul.float16_float16_float16_float16.buffer.16x16.actmul.uniformoffset.cfuniform.inferencingOptimal.raygen71x2",
		// the largest size only for matrixmul with actmul
		"matmul.matrixmuladd.float16_float16_float16_float16.buffer.128x128.actmul.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2",
	} {
		assert.Nil(t, root.Find(name), name)
	}
	assert.NotNil(t, root.Find("matmul.matrixmul.float16_float16_float16_float16.buffer.128x128.actmul.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2"))
}

func TestMatMulActivationBudget(t *testing.T) {
	root := fullTree(t)
	assert.NotNil(t, root.Find("matmul.matrixmuladd.float16_float16_float16_float16.buffer.40x5.actsigmoid.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2"))
	assert.Nil(t, root.Find("matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x8.actsigmoid.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2"))
	assert.NotNil(t, root.Find("matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x8.actload.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2"))
	assert.Nil(t, root.Find("matmul.matrixmuladd.float16_float16_float16_float16.buffer.16x8.actload.nonuniformoffset.cfuniform.inferencingOptimal.raygen71x2"))
	assert.NotNil(t, root.Find("matmul.matrixmuladd.float32_sint8_sint8_sint32.buffer.16x8.acthardgelu.nonuniformoffset.cfuniform.inferencingOptimal.compute71x2"))
}

func TestBasicFilters(t *testing.T) {
	root := fullTree(t)
	assert.NotNil(t, root.Find("basic.add.float16_float16.buffer.components31.vertex"))
	assert.Nil(t, root.Find("basic.add.float16_float16.buffer.components5.vertex"))
	assert.Nil(t, root.Find("basic.add.float16_float16.workgroup.components31.vertex"))
	assert.Nil(t, root.Find("basic.add.float16_float32.buffer.components5.compute"))
	assert.NotNil(t, root.Find("basic.convert.float16_float32.buffer.components5.compute"))
	assert.Nil(t, root.Find("basic.convert.float16_float16.buffer.components5.compute"))
	assert.Nil(t, root.Find("basic.exp.uint8_uint8.buffer.components5.compute"))
	assert.Nil(t, root.Find("basic.xor.float16_float16.buffer.components5.compute"))
	assert.NotNil(t, root.Find("basic.xor.uint8_uint8.buffer.components5.compute"))
	assert.Nil(t, root.Find("basic.add.float16_float16.physical_buffer.components5.compute"))

	// signed integer types never survive outside compute
	for _, c := range root.Child("basic").Flatten("") {
		d := c.Case.(Definition)
		if d.Stage != StageCompute {
			assert.False(t, d.InputType.IsSignedInt() || d.OutputType.IsSignedInt(), c.Name)
		}
	}
}

func TestBasicThreads(t *testing.T) {
	d := definition(t, "basic.add.float16_float16.buffer.components31.geometry")
	assert.Equal(t, 32, d.ThreadsPerWorkgroupX)
	assert.Equal(t, 1, d.ThreadsPerWorkgroupY)
	d = definition(t, "basic.add.float16_float16.buffer.components31.vertex")
	assert.Equal(t, 8, d.ThreadsPerWorkgroupX)
	assert.Equal(t, 8, d.ThreadsPerWorkgroupY)
	assert.Equal(t, 256, d.TotalInvocations())
}

func TestTrainingGroup(t *testing.T) {
	d := definition(t, "training.outerproduct.float32.buffer.2x2.resultuniform.cfuniform.trainingOptimal.compute71x2")
	assert.Equal(t, coopvec.Float16, d.InputType)
	assert.Equal(t, coopvec.Float32, d.MatrixType)
	assert.Equal(t, coopvec.Float32, d.OutputType)
	assert.Equal(t, coopvec.TrainingOptimal, d.MatrixLayout[0])
	assert.False(t, d.NonuniformOffset)

	d = definition(t, "training.reducesum.float16.buffer_varptr.components9.resultclustered.cfdivergent.trainingOptimal.mesh31x1")
	assert.Equal(t, ResultClustered, d.ResultAddr)
	assert.True(t, d.NonuniformOffset)
	assert.Equal(t, 9, d.K)

	assert.Nil(t, fullTree(t).Find("training.outerproduct.float16.buffer.128x128.resultuniform.cfuniform.trainingOptimal.compute71x2"))
}

func TestIndexing64(t *testing.T) {
	root := fullTree(t)
	assert.Equal(t, len(sizedStages), root.Find("matmul.64b_indexing").Count())
	assert.Equal(t, 2*len(sizedStages), root.Find("training.64b_indexing").Count())

	d := definition(t, "training.64b_indexing.outerproduct_task31x1")
	assert.True(t, d.Uses64BitIndexing)
	assert.Equal(t, TTOuterProduct, d.TestType)
	assert.Equal(t, StageTask, d.Stage)
	assert.Equal(t, 31, d.ThreadsPerWorkgroupX)
}

func TestConvertGroups(t *testing.T) {
	root := fullTree(t)
	assert.Equal(t, 20, root.Child("typeconvert").Count())
	n := root.Find("typeconvert.host.floate4m3tofloat16")
	require.NotNil(t, n)
	assert.Equal(t, TypeConvertCase{SrcType: coopvec.FloatE4M3, DstType: coopvec.Float16, HostConvert: true}, n.Case)

	assert.Nil(t, root.Find("layoutconvert.device.floate4m3.rowMajor.inferencingOptimal"))
	n = root.Find("layoutconvert.device.floate4m3.inferencingOptimal.trainingOptimal")
	require.NotNil(t, n)
	lc := n.Case.(LayoutConvertCase)
	assert.Equal(t, [4]coopvec.MatrixLayout{coopvec.RowMajor, coopvec.InferencingOptimal, coopvec.TrainingOptimal, coopvec.RowMajor}, lc.Layouts)
	// 4 non-fp8 types with 16 chains, 2 fp8 types with 4, on device and host
	assert.Equal(t, 2*(4*16+2*4), root.Child("layoutconvert").Count())
}

func TestFilterChargesFirstRejecter(t *testing.T) {
	s := Space[Definition]{
		Group: "toy",
		Axes: []Axis[Definition]{
			{Name: "k", Options: []Option[Definition]{
				{Name: "one", Apply: func(d *Definition) { d.K = 1 }},
				{Name: "two", Apply: func(d *Definition) { d.K = 2 }},
				{Name: "three", Apply: func(d *Definition) { d.K = 3 }},
			}},
		},
		Filters: []Filter[Definition]{
			{Name: "odd", Reject: func(d *Definition) bool { return d.K%2 == 1 }},
			{Name: "small", Reject: func(d *Definition) bool { return d.K < 3 }},
		},
	}
	root, st := s.Build()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 0, st.Emitted)
	assert.Equal(t, map[string]int{"odd": 2, "small": 1}, st.Skipped)
	assert.Equal(t, 0, root.Len())

	parent := NewGroup("parent")
	parent.AddChild(root)
	assert.Equal(t, 0, parent.Len(), "empty groups are dropped")
}

func TestTreeWalk(t *testing.T) {
	root := NewGroup("")
	g := NewGroup("g")
	g.Insert([]string{"a", "x"}, TypeConvertCase{})
	g.Insert([]string{"a", "y"}, TypeConvertCase{HostConvert: true})
	g.Insert([]string{"b"}, LayoutConvertCase{})
	root.AddChild(g)

	var names []string
	require.NoError(t, root.Walk(func(name string, c Case) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"g.a.x", "g.a.y", "g.b"}, names)
	assert.Equal(t, 3, root.Count())
	assert.Len(t, root.Flatten("g.a."), 2)
	assert.Equal(t, KindLayoutConvert, root.Find("g.b").Case.Kind())
	assert.Nil(t, root.Find("g.c"))
}

func TestScaleShift(t *testing.T) {
	assert.Equal(t, 8, IntScaleShift(1))
	assert.Equal(t, 12, IntScaleShift(16))
	assert.Equal(t, 13, IntScaleShift(17))
	assert.Equal(t, float32(1.0/4096), FloatScaleFactor(16))
	assert.Equal(t, 1, ResultClustered.Index(7))
	assert.Equal(t, 7, ResultUnique.Index(7))
	assert.Equal(t, 1, ResultUniform.Index(7))
}
