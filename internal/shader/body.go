package shader

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// mulArgs describes one coopVecMatMul(Add)NV call.
type mulArgs struct {
	dst      string
	src      string
	interp   string
	offset   string
	rows     string
	cols     string
	layout   int
	withBias bool
}

func (s *synth) matMul(a mulArgs) {
	d, b := s.d, &s.b
	args := []string{a.dst, "v", a.interp, "inputB.x", a.offset, d.MatrixType.InterpretationName()}
	fn := "coopVecMatMulNV"
	if a.withBias {
		fn = "coopVecMatMulAddNV"
		args = append(args, "inputC.x", s.biasOffset(), d.OutputType.InterpretationName())
	}
	args = append(args, a.rows, a.cols, d.MatrixLayout[a.layout].Constant(), boolLit(d.Transpose),
		fmt.Sprintf("matrixStride%d", a.layout))
	in := VecType(d.InputType, d.K, d.InputPacked)
	b.Open("")
	b.Line("%s v = %s;", in, ctor(in, a.src))
	b.Line("%s;", call(fn, args...))
	b.Close()
}

func (s *synth) biasOffset() string {
	if s.d.NonuniformOffset {
		return "(biasOffset)"
	}
	return "biasOffset"
}

func (s *synth) layerOffset(i int) string {
	name := fmt.Sprintf("layer%dOffset", i)
	if s.d.NonuniformOffset {
		name = fmt.Sprintf("(matrixIdx * layerStride + %s)", name)
	}
	if i == 0 {
		return s.offsetType + "(" + name + ")"
	}
	return name
}

func (s *synth) inputInterp0() string {
	d := s.d
	if !d.InputPacked {
		return d.InputInterpretation.InterpretationName()
	}
	switch d.InputInterpretation {
	case coopvec.SInt8:
		return coopvec.SInt8Packed.InterpretationName()
	case coopvec.UInt8:
		return coopvec.UInt8Packed.InterpretationName()
	}
	panic(fmt.Sprintf("shader: packed input with interpretation %v", d.InputInterpretation))
}

// rescaled emits the conversion feeding a later layer: either the float
// scaled activation temporary or the previous result itself.
func (s *synth) rescaled(src string, n int, actIdx int, k int) {
	d, b := s.d, &s.b
	t := VecType(d.InputType, n, false)
	if d.DoFloatScale() {
		b.Line("%s v = %s;", t, ctor(t, fmt.Sprintf("actVal%d * %s", actIdx, formatScale(cases.FloatScaleFactor(k)))))
	} else {
		b.Line("%s v = %s;", t, ctor(t, src))
	}
}

func (s *synth) intShift(vec, vecType string, k int) {
	if s.d.DoIntShift() {
		s.b.Line("%s >>= %s;", vec, ctor(vecType, fmt.Sprint(cases.IntScaleShift(k))))
	}
}

func (s *synth) laterLayer(dst, src string, n, actIdx, k int, rows, cols string, layout int) {
	d, b := s.d, &s.b
	b.Open("")
	s.rescaled(src, n, actIdx, k)
	b.Line("%s;", call("coopVecMatMulNV", dst, "v", d.InputInterpretation.InterpretationName(), "inputB.x",
		s.layerOffset(layout), d.MatrixType.InterpretationName(), rows, cols,
		d.MatrixLayout[layout].Constant(), boolLit(d.Transpose), fmt.Sprintf("matrixStride%d", layout)))
	b.Close()
}

func (s *synth) main() {
	d, b := s.d, &s.b
	workgroup := d.StorageClass.IsWorkgroup()

	b.Open("void main()")
	if d.StorageClass == cases.SCPhysicalStorageBuffer {
		for _, n := range []string{"inputA", "inputB", "inputC", "outputO"} {
			b.Line("%s = params.%s;", n, n)
		}
	}
	if d.Stage == cases.StageTessEval {
		// Only the first row of the tessellated edge loads and stores.
		b.Line("bool dontLoadStore = false;")
		b.Line("if (gl_TessCoord.y != 0 || gl_TessCoord.x == 1) { dontLoadStore = true; globalInvocationIndex = 0; }")
		b.Open("if (!dontLoadStore)")
	}
	if d.TestType.IsTraining() {
		b.Line("if (atomicAdd(inputC.x[globalInvocationIndex], 1) != 0) return;")
	}

	if workgroup {
		b.Line("%s loadTemp;", s.vecA)
		b.Line("coopVecLoadNV(loadTemp, inputA.x, inputBase * inputElementSize);")
		b.Line("coopVecStoreNV(loadTemp, sharedA, inputVectorPaddedElements * gl_LocalInvocationIndex * inputElementSize);")
		b.Line("barrier();")
		b.Line("coopVecLoadNV(vecA, sharedA, inputVectorPaddedElements * gl_LocalInvocationIndex * inputElementSize);")
	} else {
		b.Line("coopVecLoadNV(vecA, inputA.x, %s(inputBase * inputElementSize));", s.offsetType)
	}

	if d.Act[0] == cases.ActLoadShared {
		b.Open("if (gl_LocalInvocationIndex == 0)")
		b.Open("for (uint32_t k = 0; k < max(N,K) + 16; ++k)")
		b.Line("biasSh[k] = inputC.x[k];")
		b.Close()
		b.Close()
		b.Line("barrier();")
	}

	if d.TestType == cases.TTMatrixMul2Add || d.TestType == cases.TTMatrixMul2AddMul2 {
		s.swapPairs(workgroup)
	}

	switch {
	case d.TestType == cases.TTOuterProduct:
		b.Line("coopVecLoadNV(vecB, inputB.x, outputBase * inputElementSize);")
	case d.TestType.IsTraining(), d.TestType.IsMatrixMul():
	default:
		elems := make([]string, d.K)
		for i := range elems {
			elems[i] = fmt.Sprintf("inputB.x[inputBase + %d]", i)
		}
		b.Line("vecB = %s(%s);", s.vecB, strings.Join(elems, ","))
	}

	if d.Stage == cases.StageTessEval {
		b.Close()
	}

	if d.TestType == cases.TTCompositeArray {
		b.Line("%s vecAArr[2];", s.vecA)
		b.Line("vecAArr[1] = vecA; vecAArr[0] = %s;", ctor(s.vecA, "0.0"))
		b.Line("%s vecBArr[2];", s.vecB)
		b.Line("vecBArr[1] = vecB; vecBArr[0] = %s;", ctor(s.vecA, "0.0"))
		b.Line("%s vecOArr[2];", s.outVec)
	}

	if d.NonuniformOffset {
		b.Line("uint32_t matrixIdx = (globalInvocationIndex / %d);", cases.MatrixGroupSize)
		b.Line("uint32_t biasOffset = (globalInvocationIndex / %d) * biasStride;", cases.BiasGroupSize)
	} else {
		b.Line("uint32_t biasOffset = 0;")
	}

	if d.CFDivergent {
		b.Line("uint32_t subgroupInvocation = gl_SubgroupInvocationID;")
		b.Line("uint32_t invocationIDMasks[4] = {0x8, 0x2, 0x1, 0xFFFFFFF4};")
		b.Open("for (int maskIdx = 0; maskIdx < 4; ++maskIdx)")
		b.Open("if (((1<<gl_SubgroupInvocationID) & invocationIDMasks[maskIdx]) != 0 || (maskIdx == 3 && gl_SubgroupInvocationID >= 32))")
	}

	s.operation()

	if d.CFDivergent {
		b.Close()
		b.Close()
	}

	if d.TestType == cases.TTCompositeArray {
		b.Line("vecOArr[0] = %s;", ctor(s.outVec, "0.0"))
		b.Line("vecO = vecOArr[1];")
	}

	if d.Stage == cases.StageTessEval {
		b.Open("if (!dontLoadStore)")
	}
	if !d.TestType.IsTraining() {
		if workgroup {
			b.Line("barrier();")
			b.Line("coopVecStoreNV(vecO, sharedO, outputVectorPaddedElements * gl_LocalInvocationIndex * outputElementSize);")
			b.Line("%s storeTemp;", s.outVec)
			b.Line("coopVecLoadNV(storeTemp, sharedO, outputVectorPaddedElements * gl_LocalInvocationIndex * outputElementSize);")
			b.Line("coopVecStoreNV(storeTemp, outputO.x, outputBase * outputElementSize);")
		} else {
			b.Line("coopVecStoreNV(vecO, outputO.x, %s(outputBase * outputElementSize));", s.offsetType)
		}
	}
	if d.Stage == cases.StageTessEval {
		b.Close()
	}

	for _, l := range stageEpilogue(d.Stage) {
		b.Line("%s", l)
	}
	b.Close()
}

// swapPairs builds vecB as vecA with neighbouring components exchanged.
func (s *synth) swapPairs(workgroup bool) {
	d, b := s.d, &s.b
	if d.InputPacked {
		b.Line("vecB = vecA;")
		for i := 0; i < d.K/4; i++ {
			b.Line("vecB[%d] = ((vecB[%d] & 0xFF00FF) << 8) | ((vecB[%d] & 0xFF00FF00) >> 8);", i, i, i)
		}
		if d.K%4 >= 2 {
			n := d.K / 4
			b.Line("vecB[%d] = (vecB[%d] & 0xFFFF0000) | ((vecB[%d] & 0xFF) << 8) | ((vecB[%d] & 0xFF00) >> 8);", n, n, n, n)
		}
		return
	}
	elems := make([]string, d.K)
	for i := range elems {
		idx := i ^ 1
		if idx >= d.K {
			idx = i
		}
		if workgroup {
			elems[i] = fmt.Sprintf("sharedA[inputVectorPaddedElements * gl_LocalInvocationIndex + %d]", idx)
		} else {
			elems[i] = fmt.Sprintf("inputA.x[inputBase + %d]", idx)
		}
	}
	b.Line("vecB = %s(%s);", s.vecA, strings.Join(elems, ","))
}

func (s *synth) operation() {
	d, b := s.d, &s.b
	vecA, outVec := s.vecA, s.outVec

	switch d.TestType {
	case cases.TTLength:
		b.Line("vecO = %s;", ctor(outVec, "vecO.length()"))
	case cases.TTConstant:
		b.Line("vecO = vecConst;")
	case cases.TTConvert:
		b.Line("vecO = %s;", ctor(outVec, "vecA"))
	case cases.TTComposite, cases.TTCompositeRvalue:
		b.Open("for (int i = 0; i < vecA.length(); ++i)")
		b.Line("vecO[i] = vecA[i] + vecB[i];")
		b.Close()
		if d.TestType == cases.TTCompositeRvalue {
			b.Line("%s t = vecA;", vecA)
			b.Line("vecO[0] = (t += vecB)[0];")
			if d.K > 1 {
				b.Line("t = vecA;")
				b.Line("vecO[1] = (t += vecB)[1];")
			}
		}
	case cases.TTCompositeArray:
		b.Open("for (int i = 0; i < vecA.length(); ++i)")
		b.Line("vecOArr[1][i] = vecAArr[1][i] + vecBArr[1][i];")
		b.Close()
	case cases.TTVectorExtract:
		b.Open("for (int i = 0; i < vecA.length(); ++i)")
		b.Line("vecO[i] = vecA[i] + (vecB + %s)[i];", ctor(vecA, "1"))
		b.Close()
	case cases.TTAdd:
		b.Line("vecO = vecA + vecB;")
	case cases.TTSub:
		b.Line("vecO = vecA - vecB;")
	case cases.TTMul:
		b.Line("vecO = vecA * vecB;")
	case cases.TTDiv:
		b.Line("vecO = vecA / vecB;")
	case cases.TTNegate:
		b.Line("vecO = -vecA;")
	case cases.TTFunc:
		b.Line("vecO = f(vecA);")
	case cases.TTVectorTimesScalar:
		b.Line("vecO = (%s*vecA)*%s;", ctor(s.typeA, "2.0"), ctor(s.typeA, "3.0"))
	case cases.TTExp:
		b.Line("vecO = exp(vecA * %s);", ctor(s.typeA, "0.0625"))
	case cases.TTLog:
		b.Line("vecO = log(vecA + %s);", ctor(vecA, "100"))
	case cases.TTTanh:
		b.Line("vecO = tanh(vecA * %s);", ctor(s.typeA, "0.1"))
	case cases.TTAtan:
		b.Line("vecO = atan(vecA);")
	case cases.TTMin:
		b.Line("vecO = min(min(vecA, vecB), %s);", ctor(vecA, "5.0"))
	case cases.TTMax:
		b.Line("vecO = max(max(vecA, vecB), %s);", ctor(vecA, "0.0"))
	case cases.TTClamp:
		b.Line("vecO = clamp(vecA, vecB, %s);", ctor(vecA, "5.0"))
	case cases.TTStep:
		b.Line("vecO = step(%s, vecA);", ctor(vecA, "0.0"))
	case cases.TTFma:
		b.Line("vecO = fma(vecA, vecB, %s);", ctor(vecA, "0.5"))
	case cases.TTAnd:
		b.Line("vecO = vecA & vecB;")
	case cases.TTOr:
		b.Line("vecO = vecA | vecB;")
	case cases.TTXor:
		b.Line("vecO = vecA ^ vecB;")
	case cases.TTNot:
		b.Line("vecO = ~vecA;")
	case cases.TTShl:
		b.Line("vecO = vecA << (vecB & %s);", ctor(vecA, "7"))
	case cases.TTShr:
		b.Line("vecO = vecA >> (vecB & %s);", ctor(vecA, "7"))

	case cases.TTMatrixMul, cases.TTMatrixMulTrainingBias:
		s.matMul(mulArgs{dst: "vecO", src: "vecA", interp: s.inputInterp0(), offset: s.layerOffset(0), rows: "N", cols: "K"})
		s.activation(d.Act[0], "vecO", outVec, d.N, 0)
	case cases.TTMatrixMad, cases.TTMatrixMadTranspose:
		s.matMul(mulArgs{dst: "vecO", src: "vecA", interp: s.inputInterp0(), offset: s.layerOffset(0), rows: "N", cols: "K", withBias: true})
		s.activation(d.Act[0], "vecO", outVec, d.N, 0)
	case cases.TTMatrixMul3:
		// (NxK * (KxN * (NxK * Kx1))) -> Nx1
		b.Line("%s temp;", s.outVecK)
		s.matMul(mulArgs{dst: "vecO", src: "vecA", interp: s.inputInterp0(), offset: s.layerOffset(0), rows: "N", cols: "K"})
		s.activation(d.Act[0], "vecO", outVec, d.N, 0)
		s.intShift("vecO", outVec, d.K)
		s.laterLayer("temp", "vecO", d.N, 0, d.K, "K", "N", 1)
		s.activation(d.Act[1], "temp", s.outVecK, d.K, 1)
		s.intShift("temp", s.outVecK, d.K)
		s.laterLayer("vecO", "temp", d.K, 1, d.K, "N", "K", 2)
		s.activation(d.Act[2], "vecO", outVec, d.N, 2)
	case cases.TTMatrixMul2Add, cases.TTMatrixMul2AddMul2:
		b.Line("%s temp0, temp1, temp2;", outVec)
		b.Line("%s temp3;", s.outVecK)
		s.matMul(mulArgs{dst: "temp0", src: "vecA", interp: s.inputInterp0(), offset: s.layerOffset(0), rows: "N", cols: "K"})
		s.matMul(mulArgs{dst: "temp1", src: "vecB", interp: s.inputInterp0(), offset: s.layerOffset(0), rows: "N", cols: "K"})
		b.Line("temp2 = temp0 + temp1;")
		s.activation(d.Act[0], "temp2", outVec, d.N, 0)
		if d.TestType == cases.TTMatrixMul2AddMul2 {
			s.intShift("temp2", outVec, d.K)
			s.laterLayer("temp3", "temp2", d.N, 0, d.K, "K", "N", 1)
			s.activation(d.Act[1], "temp3", s.outVecK, d.K, 1)
			s.intShift("temp3", s.outVecK, d.N)
			s.laterLayer("vecO", "temp3", d.K, 1, d.N, "N", "K", 2)
			s.activation(d.Act[2], "vecO", outVec, d.N, 2)
		} else {
			b.Line("vecO = temp2;")
		}

	case cases.TTReduceSum, cases.TTOuterProduct:
		if d.Stage == cases.StageTessEval {
			b.Open("if (!dontLoadStore)")
		}
		switch d.ResultAddr {
		case cases.ResultUniform:
			b.Line("uint index = 1;")
		case cases.ResultUnique:
			b.Line("uint index = globalInvocationIndex;")
		case cases.ResultClustered:
			b.Line("uint index = globalInvocationIndex / %d;", cases.ClusterSize)
		}
		if d.TestType == cases.TTReduceSum {
			b.Line("uint offset = outputVectorPaddedElements * outputElementSize * index;")
			b.Line("coopVecReduceSumAccumulateNV(vecA, outputO.x, %s(offset));", s.offsetType)
		} else {
			b.Line("uint offset = outerProductSize * index;")
			b.Line("coopVecOuterProductAccumulateNV(vecA, vecB, outputO.x, %s(offset), 0, %s, %s);", s.offsetType,
				d.MatrixLayout[0].Constant(), d.OutputType.InterpretationName())
		}
		if d.Stage == cases.StageTessEval {
			b.Close()
		}

	default:
		panic(fmt.Sprintf("shader: unhandled test type %v", d.TestType))
	}
}
