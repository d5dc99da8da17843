package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

func matmulDef(tt cases.TestType, in, interp, matrix, out coopvec.ComponentType, n, k int) cases.Definition {
	opt := coopvec.InferencingOptimal
	return cases.Definition{
		Stage:                cases.StageCompute,
		TestType:             tt,
		ThreadsPerWorkgroupX: 71,
		ThreadsPerWorkgroupY: 2,
		WorkgroupsX:          2,
		WorkgroupsY:          2,
		InputType:            in,
		InputInterpretation:  interp,
		MatrixType:           matrix,
		OutputType:           out,
		MatrixLayout:         [3]coopvec.MatrixLayout{opt, opt, opt},
		N:                    n,
		K:                    k,
		Act:                  [3]cases.Activation{cases.ActMul, cases.ActMul, cases.ActMul},
		NonuniformOffset:     true,
	}
}

func balanced(t *testing.T, name, text string) {
	t.Helper()
	assert.Equal(t, strings.Count(text, "{"), strings.Count(text, "}"), name)
	assert.Equal(t, strings.Count(text, "("), strings.Count(text, ")"), name)
}

func TestVecType(t *testing.T) {
	assert.Equal(t, "coopvecNV<float16_t, 7>", VecType(coopvec.Float16, 7, false))
	assert.Equal(t, "coopvecNV<uint32_t, 2>", VecType(coopvec.SInt8, 5, true))
	assert.Equal(t, "coopvecNV<uint32_t, 4>", VecType(coopvec.UInt8, 16, true))
}

func TestBasicPrograms(t *testing.T) {
	root, _ := cases.BasicSpace().Build()
	for _, c := range root.Flatten("") {
		d := c.Case.(cases.Definition)
		p := Synthesize(d)
		balanced(t, c.Name, p.Main.Text)
		require.Contains(t, p.Main.Text, "void main()", c.Name)
		assert.Equal(t, d.Stage.Extension(), p.Main.Stage)
	}
}

func TestAddCompute(t *testing.T) {
	root, _ := cases.BasicSpace().Build()
	d := root.Find("add.float16_float16.buffer.components5.compute").Case.(cases.Definition)
	p := Synthesize(d)
	src := p.Main.Text

	assert.Equal(t, "test", p.Main.Name)
	assert.Empty(t, p.Aux)
	assert.True(t, strings.HasPrefix(src, "#version 460 core\n"))
	assert.Contains(t, src, localSize)
	assert.Contains(t, src, "const uint K = 5;")
	assert.Contains(t, src, "const uint inputVectorPaddedElements = (K + 7) & ~7;")
	assert.Contains(t, src, "layout(set=0, binding=0) readonly buffer InputA { float16_t x[]; } inputA;")
	assert.Contains(t, src, "vecB = coopvecNV<float16_t, 5>(inputB.x[inputBase + 0],inputB.x[inputBase + 1],")
	assert.Contains(t, src, "vecO = vecA + vecB;")
	assert.Contains(t, src, "coopVecStoreNV(vecO, outputO.x, uint32_t(outputBase * outputElementSize));")
	assert.NotContains(t, src, "use_variable_pointers")
}

func TestStorageVariants(t *testing.T) {
	root, _ := cases.BasicSpace().Build()
	d := root.Find("add.float16_float16.physical_buffer.components31.compute").Case.(cases.Definition)
	src := Synthesize(d).Main.Text
	assert.Contains(t, src, "layout(buffer_reference) buffer InputA { float16_t x[]; };")
	assert.Contains(t, src, "inputA = params.inputA;")

	d = root.Find("add.float16_float16.workgroup_varptr.components5.compute").Case.(cases.Definition)
	src = Synthesize(d).Main.Text
	assert.Contains(t, src, "#pragma use_variable_pointers")
	assert.Contains(t, src, "shared float16_t sharedA[64 * inputVectorPaddedElements];")
	assert.Contains(t, src, "coopVecStoreNV(storeTemp, outputO.x, outputBase * outputElementSize);")
}

func TestMatMulAdd(t *testing.T) {
	d := matmulDef(cases.TTMatrixMad, coopvec.Float16, coopvec.Float16, coopvec.Float16, coopvec.Float16, 16, 16)
	src := Synthesize(d).Main.Text
	balanced(t, "mad", src)
	assert.Contains(t, src, "uint32_t matrixIdx = (globalInvocationIndex / 5);")
	assert.Contains(t, src, "uint32_t biasOffset = (globalInvocationIndex / 6) * biasStride;")
	assert.Contains(t, src, "coopVecMatMulAddNV(vecO, v, gl_ComponentTypeFloat16NV, inputB.x, "+
		"uint32_t((matrixIdx * layerStride + layer0Offset)), gl_ComponentTypeFloat16NV, inputC.x, (biasOffset), "+
		"gl_ComponentTypeFloat16NV, N, K, gl_CooperativeVectorMatrixLayoutInferencingOptimalNV, false, matrixStride0);")
	assert.Contains(t, src, "vecO *= float16_t(0.5);")
	assert.Contains(t, src, "const uint matrixStride0 = 0;")
}

func TestMatMulIntChain(t *testing.T) {
	d := matmulDef(cases.TTMatrixMul3, coopvec.SInt8, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, 16, 16)
	src := Synthesize(d).Main.Text
	balanced(t, "mul3", src)
	assert.Contains(t, src, "vecO >>= coopvecNV<int32_t, 16>(12);")
	assert.Contains(t, src, "temp >>= coopvecNV<int32_t, 16>(12);")
	assert.Contains(t, src, "vecO *= coopvecNV<int32_t, 16>(2);")
	assert.Equal(t, 3, strings.Count(src, "coopVecMatMulNV("))
}

func TestMatMulFloatScale(t *testing.T) {
	d := matmulDef(cases.TTMatrixMul3, coopvec.Float32, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, 16, 16)
	d.Act = [3]cases.Activation{cases.ActHardGelu, cases.ActHardGelu, cases.ActHardGelu}
	require.True(t, d.DoFloatScale())
	src := Synthesize(d).Main.Text
	balanced(t, "hardgelu", src)
	assert.Contains(t, src, "coopvecNV<float32_t, 16> actVal0 = coopvecNV<float32_t, 16>(vecO);")
	assert.Contains(t, src, "(actVal0 * 0.000244141)")
	assert.NotContains(t, src, ">>=")
}

func TestPackedSwap(t *testing.T) {
	d := matmulDef(cases.TTMatrixMul2Add, coopvec.SInt8, coopvec.SInt8, coopvec.SInt8, coopvec.SInt32, 7, 13)
	d.InputPacked = true
	src := Synthesize(d).Main.Text
	balanced(t, "packed", src)
	assert.Contains(t, src, "coopvecNV<uint32_t, 4> vecA;")
	assert.Contains(t, src, "gl_ComponentTypeSignedInt8PackedNV")
	assert.Contains(t, src, "vecB[2] = ((vecB[2] & 0xFF00FF) << 8) | ((vecB[2] & 0xFF00FF00) >> 8);")
	assert.NotContains(t, src, "vecB[3] = (vecB[3] & 0xFFFF0000)")
	assert.Contains(t, src, "vecO = temp2;")
}

func TestTrainingPrograms(t *testing.T) {
	root, _ := cases.TrainingGroup()
	for _, c := range root.Flatten("") {
		p := Synthesize(c.Case.(cases.Definition))
		balanced(t, c.Name, p.Main.Text)
	}

	d := root.Find("64b_indexing.outerproduct_compute71x2").Case.(cases.Definition)
	src := Synthesize(d).Main.Text
	assert.Contains(t, src, "layout(constant_id = 7) const uint outerProductSize = 0;")
	assert.Contains(t, src, "coopVecOuterProductAccumulateNV(vecA, vecB, outputO.x, uint64_t(offset), 0, ")
	assert.Contains(t, src, "if (atomicAdd(inputC.x[globalInvocationIndex], 1) != 0) return;")
	assert.NotContains(t, src, "coopVecStoreNV(vecO")
}

func TestStageSources(t *testing.T) {
	d := matmulDef(cases.TTMatrixMad, coopvec.Float16, coopvec.Float16, coopvec.Float16, coopvec.Float16, 16, 16)

	d.Stage = cases.StageTessEval
	p := Synthesize(d)
	assert.Equal(t, "tese", p.Main.Name)
	require.Len(t, p.Aux, 2)
	assert.Contains(t, p.Aux[1].Text, "gl_TessLevelOuter[1] = 71;")
	assert.Contains(t, p.Main.Text, "bool dontLoadStore = false;")
	balanced(t, "tese", p.Main.Text)

	d.Stage = cases.StageFragment
	p = Synthesize(d)
	require.Len(t, p.Aux, 1)
	assert.Equal(t, "vert", p.Aux[0].Name)
	assert.Contains(t, p.Main.Text, "width*uint(gl_FragCoord.y)")
	assert.Equal(t, []string{"vert", "test"}, names(p.Sources()))

	d.Stage = cases.StageCallable
	p = Synthesize(d)
	assert.Contains(t, p.Aux[0].Text, "executeCallableEXT(0, 0);")
	assert.Contains(t, p.Main.Text, "callableDataInEXT")

	d.Stage = cases.StageTask
	p = Synthesize(d)
	assert.Contains(t, p.Main.Text, "EmitMeshTasksEXT(0, 0, 0);")
	assert.Equal(t, "mesh", p.Aux[0].Name)
}

func names(srcs []Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Name
	}
	return out
}

func TestSpecialize(t *testing.T) {
	d := matmulDef(cases.TTMatrixMul3, coopvec.Float16, coopvec.Float16, coopvec.Float16, coopvec.Float16, 8, 8)
	p := Synthesize(d)
	p.Specialize(d, MemoryLayout{LayerStride: 640, LayerOffsets: [3]int{0, 192, 384}, OuterProductSize: 0})
	assert.Equal(t, []uint32{71, 2, 640, 0, 192, 384, 142, 0}, p.SpecConstants)
}

func TestBuilderPanicsOnUnbalancedClose(t *testing.T) {
	var b Builder
	assert.Panics(t, func() { b.Close() })
	b.Open("if (x)")
	b.Line("y = %d;", 1)
	b.Close()
	assert.Equal(t, "if (x) {\n   y = 1;\n}\n", b.String())
}
