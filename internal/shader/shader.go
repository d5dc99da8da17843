// Package shader synthesizes the device program for one cooperative vector
// case. The emitted program computes, per invocation, exactly what the
// reference model computes for the same definition and stimulus.
package shader

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// Specialization constant ids used by every synthesized program.
const (
	SpecThreadsX = iota
	SpecThreadsY
	SpecLayerStride
	SpecLayer0Offset
	SpecLayer1Offset
	SpecLayer2Offset
	SpecWidth
	SpecOuterProductSize

	NumSpecConstants
)

// Source is one stage of a program.
type Source struct {
	Name string
	// Stage is the conventional file suffix (comp, vert, rgen, ...).
	Stage string
	Text  string
}

// Program is the stage under test plus the helper stages its pipeline
// needs, in creation order.
type Program struct {
	Main          Source
	Aux           []Source
	SpecConstants []uint32
}

// Sources returns the auxiliary stages followed by the main stage.
func (p Program) Sources() []Source {
	out := make([]Source, 0, len(p.Aux)+1)
	out = append(out, p.Aux...)
	return append(out, p.Main)
}

// MemoryLayout carries the plan values consumed through specialization.
type MemoryLayout struct {
	LayerStride      int
	LayerOffsets     [3]int
	OuterProductSize int
}

// Specialize fills SpecConstants for d and the given memory layout.
func (p *Program) Specialize(d cases.Definition, m MemoryLayout) {
	sc := make([]uint32, NumSpecConstants)
	sc[SpecThreadsX] = uint32(d.ThreadsPerWorkgroupX)
	sc[SpecThreadsY] = uint32(d.ThreadsPerWorkgroupY)
	sc[SpecLayerStride] = uint32(m.LayerStride)
	for i, off := range m.LayerOffsets {
		sc[SpecLayer0Offset+i] = uint32(off)
	}
	sc[SpecWidth] = uint32(d.InvocationsPerRow())
	sc[SpecOuterProductSize] = uint32(m.OuterProductSize)
	p.SpecConstants = sc
}

var headerTmpl = template.Must(template.New("header").Parse(`#version 460 core
#pragma use_vulkan_memory_model
#extension GL_KHR_shader_subgroup_basic : enable
#extension GL_KHR_memory_scope_semantics : enable
#extension GL_EXT_nonuniform_qualifier : enable
#extension GL_EXT_shader_explicit_arithmetic_types : enable
#extension GL_NV_cooperative_vector : enable
#extension GL_EXT_buffer_reference : enable
#extension GL_EXT_ray_tracing : enable
#extension GL_EXT_control_flow_attributes : enable
#extension GL_EXT_shader_64bit_indexing : enable
{{range .StageDecls}}{{.}}
{{end}}{{if .VariablePointers}}#pragma use_variable_pointers
{{end}}const int workgroupsX = {{.WorkgroupsX}};
{{if .Physical}}layout(buffer_reference) buffer InputA { {{.TypeA}} x[]; };
layout(buffer_reference) buffer InputB { {{.TypeB}} x[]; };
layout(buffer_reference) buffer InputC { {{.TypeC}} x[]; };
layout(buffer_reference) buffer Output { {{.TypeO}} x[]; };
layout(set=0, binding=4) buffer Params { InputA inputA; InputB inputB; InputC inputC; Output outputO; } params;
InputA inputA;
InputB inputB;
InputC inputC;
Output outputO;
{{else}}layout(set=0, binding=0) readonly buffer InputA { {{.TypeA}} x[]; } inputA;
layout(set=0, binding=1) readonly buffer InputB { {{.TypeB}} x[]; } inputB;
layout(set=0, binding=2) buffer InputC { {{.TypeC}} x[]; } inputC;
layout(set=0, binding=3) coherent buffer Output { {{.TypeO}} x[]; } outputO;
{{end}}const uint K = {{.K}};
const uint N = {{.N}};
{{if .BiasShared}}shared {{.TypeC}} biasSh[max(K,N) + 16];
{{end}}const uint inputVectorPaddedElements = (K + {{.InMask}}) & ~{{.InMask}};
const uint outputVectorPaddedElements = (N + {{.OutMask}}) & ~{{.OutMask}};
{{if .Workgroup}}shared {{.TypeA}} sharedA[{{.Threads}} * inputVectorPaddedElements];
shared {{.TypeO}} sharedO[{{.Threads}} * outputVectorPaddedElements];
{{end}}layout(constant_id = 6) const uint width = 0;
{{if .MeshOutputs}}layout(triangles) out;
layout(max_vertices=3, max_primitives=1) out;
{{end}}uint globalInvocationIndex = {{.InvocationIndex}};
uint inputBase = inputVectorPaddedElements * globalInvocationIndex;
uint outputBase = outputVectorPaddedElements * globalInvocationIndex;
const uint inputElementSize = {{.InputSize}};
const uint matrixElementSize = {{.MatrixSize}};
const uint biasElementSize = {{.OutputSize}};
const uint outputElementSize = {{.OutputSize}};
{{range $i, $s := .MatrixStrides}}const uint matrixStride{{$i}} = {{$s}};
{{end}}layout(constant_id = 2) const uint layerStride = 0;
layout(constant_id = 3) const uint layer0Offset = 0;
layout(constant_id = 4) const uint layer1Offset = 0;
layout(constant_id = 5) const uint layer2Offset = 0;
{{if .OuterProduct}}layout(constant_id = 7) const uint outerProductSize = 0;
{{end}}const uint biasStride = (N*biasElementSize + 16 - 1) & ~(16 - 1);
`))

type header struct {
	StageDecls       []string
	VariablePointers bool
	WorkgroupsX      int
	Physical         bool
	TypeA            string
	TypeB            string
	TypeC            string
	TypeO            string
	K, N             int
	BiasShared       bool
	InMask, OutMask  int
	Workgroup        bool
	Threads          int
	MeshOutputs      bool
	InvocationIndex  string
	InputSize        int
	MatrixSize       int
	OutputSize       int
	MatrixStrides    [3]string
	OuterProduct     bool
}

// VecType names the device vector type of n elements of t. Packed vectors
// hold four 8-bit elements per 32-bit component.
func VecType(t coopvec.ComponentType, n int, packed bool) string {
	if packed {
		return fmt.Sprintf("coopvecNV<%s, %d>", coopvec.UInt32.TypeName(), coopvec.DivRoundUp(n, 32/t.Bits()))
	}
	return fmt.Sprintf("coopvecNV<%s, %d>", t.TypeName(), n)
}

func formatScale(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', 6, 32)
}

// synth holds the names derived once from a definition.
type synth struct {
	d cases.Definition
	b Builder

	typeA      string
	vecA       string
	vecB       string
	outVec     string
	outVecK    string
	offsetType string
}

func newSynth(d cases.Definition) *synth {
	s := &synth{d: d}
	s.typeA = d.InputType.TypeName()
	s.vecA = VecType(d.InputType, d.K, d.InputPacked)
	if d.TestType == cases.TTOuterProduct {
		s.vecB = VecType(d.InputType, d.N, d.InputPacked)
	} else {
		s.vecB = s.vecA
	}
	s.outVec = VecType(d.OutputType, d.N, false)
	s.outVecK = VecType(d.OutputType, d.K, false)
	s.offsetType = "uint32_t"
	if d.Uses64BitIndexing {
		s.offsetType = "uint64_t"
	}
	return s
}

func (s *synth) header() string {
	d := s.d
	h := header{
		StageDecls:       stageDecls(d),
		VariablePointers: d.StorageClass.IsVariablePointers(),
		WorkgroupsX:      d.WorkgroupsX,
		Physical:         d.StorageClass == cases.SCPhysicalStorageBuffer,
		TypeA:            s.typeA,
		TypeB:            s.typeA,
		TypeC:            d.OutputType.TypeName(),
		TypeO:            d.OutputType.TypeName(),
		K:                d.K,
		N:                d.N,
		BiasShared:       d.Act[0] == cases.ActLoadShared,
		Workgroup:        d.StorageClass.IsWorkgroup(),
		Threads:          d.ThreadsPerWorkgroupX * d.ThreadsPerWorkgroupY,
		MeshOutputs:      d.Stage == cases.StageMesh,
		InvocationIndex:  invocationIndex(d),
		InputSize:        d.InputType.Size(),
		MatrixSize:       d.MatrixType.Size(),
		OutputSize:       d.OutputType.Size(),
		OuterProduct:     d.TestType == cases.TTOuterProduct,
	}
	if d.TestType.IsMatrixMul() {
		h.TypeB = "uint32_t"
	}
	if d.TestType.IsMatrixMul() || d.TestType.IsTraining() {
		h.TypeC = "uint32_t"
	}
	h.InMask = 128/d.InputType.Bits() - 1
	h.OutMask = h.InMask
	if d.TestType != cases.TTOuterProduct {
		h.OutMask = 128/d.OutputType.Bits() - 1
	}
	for i := 0; i < 3; i++ {
		l := d.MatrixLayout[i]
		if i == 1 {
			l = coopvec.SwapRowCol(l)
		}
		switch l {
		case coopvec.ColumnMajor:
			h.MatrixStrides[i] = "(N*matrixElementSize + 16 - 1) & ~(16 - 1)"
		case coopvec.RowMajor:
			h.MatrixStrides[i] = "(K*matrixElementSize + 16 - 1) & ~(16 - 1)"
		default:
			h.MatrixStrides[i] = "0"
		}
	}

	var sb strings.Builder
	if err := headerTmpl.Execute(&sb, h); err != nil {
		panic(fmt.Sprintf("shader: header template: %v", err))
	}
	return sb.String()
}

// helpers emits the per-case functions the body calls.
func (s *synth) helpers() {
	d, b := s.d, &s.b
	b.Line("%s vecA;", s.vecA)
	b.Line("%s vecB = %s;", s.vecB, ctor(s.vecB, "1"))
	b.Line("%s vecO;", s.outVec)
	if d.TestType == cases.TTConstant {
		b.Line("const %s vecConst = %s;", s.outVec, ctor(s.outVec, "1.0"))
	}
	if d.TestType == cases.TTFunc {
		b.Line("%s f(%s v) { return -v; }", s.vecA, s.vecA)
	}

	uses := func(a cases.Activation) bool { return d.Act[0] == a || d.Act[1] == a || d.Act[2] == a }
	types := []string{s.vecA}
	if s.vecA != s.outVec {
		types = append(types, s.outVec)
	}
	if uses(cases.ActSigmoid) {
		for _, t := range types {
			b.Open("%s sigmoid(%s v)", t, t)
			b.Line("return %s / (%s + exp(-v));", ctor(t, "1.0"), ctor(t, "1.0"))
			b.Close()
		}
	}
	if uses(cases.ActLeakyReluStep) {
		for _, t := range types {
			b.Open("%s coopmix(%s x, %s y, %s a)", t, t, t, t)
			b.Line("return x * (%s - a) + y * a;", ctor(t, "1.0"))
			b.Close()
		}
	}
}

// activation emits act applied in place to vec of type vecType with n
// components. idx names the temporary used by hardgelu and loads.
func (s *synth) activation(act cases.Activation, vec, vecType string, n, idx int) {
	d, b := s.d, &s.b
	floatOut := d.OutputType.IsFloat()
	scale := func() {
		if floatOut {
			b.Line("%s *= %s;", vec, ctor(s.typeA, "0.5"))
		} else {
			b.Line("%s *= %s;", vec, ctor(vecType, "2"))
		}
	}
	actVal := "actVal" + strconv.Itoa(idx)

	switch act {
	case cases.ActNone:
	case cases.ActMul:
		scale()
	case cases.ActMax:
		b.Line("%s = max(%s, %s);", vec, vec, ctor(vecType, "0.0"))
	case cases.ActNonUniform:
		if floatOut {
			b.Line("%s *= %s;", vec, ctor(s.typeA, "(globalInvocationIndex % 3) / 2.0"))
		} else {
			b.Line("%s *= %s;", vec, ctor(vecType, "globalInvocationIndex % 3"))
		}
	case cases.ActDiverge:
		b.Open("if ((globalInvocationIndex & 1) != 0)")
		scale()
		b.Close()
	case cases.ActSigmoid:
		b.Line("%s = sigmoid(%s);", vec, vec)
	case cases.ActLeakyReluStep:
		b.Line("%s = coopmix(%s*%s, %s, step(%s, %s));", vec, ctor(vecType, "0.5"), vec, vec, ctor(vecType, "0.0"), vec)
	case cases.ActLeakyReluMax:
		b.Line("%s = max(%s*%s, %s);", vec, ctor(vecType, "0.5"), vec, vec)
	case cases.ActHardGelu:
		// x * clamp(x/3 + 0.75) after a 0.5x + 0.75 prescale, in float32
		// when the output is an integer type.
		t := vecType
		if !floatOut {
			t = VecType(coopvec.Float32, n, false)
		}
		b.Blank()
		b.Line("%s %s = %s;", t, actVal, ctor(t, vec))
		b.Line("%s = %s * %s + %s;", actVal, ctor(t, "1.0 / 2.0"), actVal, ctor(t, "0.75"))
		if floatOut {
			b.Line("%s = min(%s, %s) * clamp(%s * %s + %s, %s, %s);", actVal, ctor(t, "128.0"), actVal,
				ctor(t, "1.0/3.0"), actVal, ctor(t, "0.75"), ctor(t, "0"), ctor(t, "1"))
		} else {
			b.Line("%s = min(%s, %s) * clamp(%s * %s + %s, %s, %s);", actVal, ctor(t, "65536"), actVal,
				ctor(t, "1.0/3.0"), actVal, ctor(t, "0.75"), ctor(t, "-4"), ctor(t, "4"))
		}
		b.Line("%s = %s;", vec, ctor(vecType, actVal))
		b.Blank()
	case cases.ActLoad, cases.ActLoadShared:
		src := "inputC.x"
		if act == cases.ActLoadShared {
			src = "biasSh"
		}
		b.Line("%s %s;", vecType, actVal)
		b.Line("coopVecLoadNV(%s, %s, 16*((globalInvocationIndex & 1)));", actVal, src)
		if !floatOut {
			b.Line("%s *= 16;", actVal)
		}
		b.Line("%s = %s + %s;", vec, vec, actVal)
	case cases.ActLoadReadonly:
		b.Line("%s = %s + %s;", vec, vec, ctor(vecType, "inputA.x[globalInvocationIndex]"))
	default:
		panic(fmt.Sprintf("shader: unhandled activation %v", act))
	}
}

// Synthesize emits the program implementing d.
func Synthesize(d cases.Definition) Program {
	s := newSynth(d)
	s.b.Raw(s.header())
	s.helpers()
	s.main()
	return Program{
		Main: Source{Name: mainName(d.Stage), Stage: d.Stage.Extension(), Text: s.b.String()},
		Aux:  auxSources(d),
	}
}
