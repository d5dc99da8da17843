package device

import (
	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// Property is one supported combination of matrix multiply types.
type Property struct {
	InputType            coopvec.ComponentType
	InputInterpretation  coopvec.ComponentType
	MatrixInterpretation coopvec.ComponentType
	BiasInterpretation   coopvec.ComponentType
	ResultType           coopvec.ComponentType
	Transpose            bool
}

// Capabilities are the feature bits and property tuples of an
// implementation.
type Capabilities struct {
	CooperativeVector         bool
	Training                  bool
	TrainingFloat16Accumulate bool
	TrainingFloat32Accumulate bool
	Shader64BitIndexing       bool
	ShaderFloat16             bool
	VariablePointers          bool
	BufferDeviceAddress       bool
	RayTracing                bool
	MeshShader                bool
	TaskShader                bool
	Properties                []Property
}

// Check reports the first capability c lacks to run the case, or nil.
func (caps Capabilities) Check(c cases.Case) error {
	if !caps.CooperativeVector {
		return unsupported("cooperativeVector")
	}
	switch v := c.(type) {
	case cases.Definition:
		return caps.checkVector(v)
	case cases.LayoutConvertCase:
		return caps.checkMatrixType(v.MatrixType)
	case cases.TypeConvertCase:
		if err := caps.checkMatrixType(v.SrcType); err != nil {
			return err
		}
		return caps.checkMatrixType(v.DstType)
	}
	return unsupported("case kind %v", c.Kind())
}

// checkMatrixType accepts float32 unconditionally as a conversion source.
func (caps Capabilities) checkMatrixType(t coopvec.ComponentType) error {
	if t == coopvec.Float32 {
		return nil
	}
	for _, p := range caps.Properties {
		if p.MatrixInterpretation == t {
			return nil
		}
	}
	return unsupported("matrix type %v", t)
}

func (caps Capabilities) checkVector(d cases.Definition) error {
	if d.Uses64BitIndexing && !caps.Shader64BitIndexing {
		return unsupported("shader64BitIndexing")
	}
	if d.Stage.IsRayTracing() && !caps.RayTracing {
		return unsupported("rayTracingPipeline")
	}
	if d.Stage.IsMesh() {
		if !caps.MeshShader {
			return unsupported("meshShader")
		}
		if d.Stage == cases.StageTask && !caps.TaskShader {
			return unsupported("taskShader")
		}
	}
	if d.StorageClass.IsVariablePointers() && !caps.VariablePointers {
		return unsupported("variablePointers")
	}
	if !caps.BufferDeviceAddress {
		return unsupported("bufferDeviceAddress")
	}
	if !caps.ShaderFloat16 &&
		(d.InputType == coopvec.Float16 || d.MatrixType == coopvec.Float16 || d.OutputType == coopvec.Float16) {
		return unsupported("shaderFloat16")
	}
	if d.TestType.IsTraining() {
		if !caps.Training {
			return unsupported("cooperativeVectorTraining")
		}
		if d.MatrixType == coopvec.Float16 && !caps.TrainingFloat16Accumulate {
			return unsupported("trainingFloat16Accumulation")
		}
		if d.MatrixType == coopvec.Float32 && !caps.TrainingFloat32Accumulate {
			return unsupported("trainingFloat32Accumulation")
		}
	}
	if len(caps.Properties) == 0 {
		return unsupported("cooperative vector properties")
	}
	if d.TestType.IsMatrixMul() {
		for _, p := range caps.Properties {
			if caps.matches(p, d) {
				return nil
			}
		}
		return unsupported("cooperative vector combination %v/%v/%v/%v", d.InputType, d.InputInterpretation,
			d.MatrixType, d.OutputType)
	}
	var in, out bool
	for _, p := range caps.Properties {
		in = in || p.InputType == d.InputType || p.ResultType == d.InputType
		out = out || p.InputType == d.OutputType || p.ResultType == d.OutputType
	}
	if !in || !out {
		return unsupported("cooperative vector combination %v/%v", d.InputType, d.OutputType)
	}
	return nil
}

func (caps Capabilities) matches(p Property, d cases.Definition) bool {
	inType, interp := d.InputType, d.InputInterpretation
	if d.InputPacked {
		inType = coopvec.UInt32
		switch interp {
		case coopvec.SInt8:
			interp = coopvec.SInt8Packed
		case coopvec.UInt8:
			interp = coopvec.UInt8Packed
		}
	}
	return p.InputType == inType && p.InputInterpretation == interp &&
		p.MatrixInterpretation == d.MatrixType && p.BiasInterpretation == d.OutputType &&
		p.ResultType == d.OutputType && (d.TestType != cases.TTMatrixMadTranspose || p.Transpose)
}

// EmulatorCapabilities advertises everything the emulator implements:
// every matrix multiply tuple reachable from the case space.
func EmulatorCapabilities() Capabilities {
	caps := Capabilities{
		CooperativeVector:         true,
		Training:                  true,
		TrainingFloat16Accumulate: true,
		TrainingFloat32Accumulate: true,
		Shader64BitIndexing:       true,
		ShaderFloat16:             true,
		VariablePointers:          true,
		BufferDeviceAddress:       true,
		RayTracing:                true,
		MeshShader:                true,
		TaskShader:                true,
	}
	floats := []coopvec.ComponentType{coopvec.Float16, coopvec.Float32}
	interps := []coopvec.ComponentType{coopvec.Float32, coopvec.Float16, coopvec.FloatE4M3, coopvec.FloatE5M2}
	for _, in := range floats {
		for _, interp := range interps {
			for _, out := range floats {
				m := interp
				caps.Properties = append(caps.Properties, Property{in, interp, m, out, out, true})
			}
		}
		for _, interp := range []coopvec.ComponentType{coopvec.SInt8, coopvec.UInt8} {
			for _, out := range []coopvec.ComponentType{coopvec.SInt32, coopvec.UInt32} {
				caps.Properties = append(caps.Properties,
					Property{in, interp, coopvec.SInt8, out, out, true},
					Property{in, interp, coopvec.UInt8, out, out, true})
			}
		}
	}
	for _, in := range []coopvec.ComponentType{coopvec.SInt8, coopvec.UInt8, coopvec.SInt32, coopvec.UInt32} {
		for _, interp := range []coopvec.ComponentType{coopvec.SInt8, coopvec.UInt8} {
			for _, m := range []coopvec.ComponentType{coopvec.SInt8, coopvec.UInt8} {
				for _, out := range []coopvec.ComponentType{coopvec.SInt32, coopvec.UInt32} {
					caps.Properties = append(caps.Properties, Property{in, interp, m, out, out, true})
				}
			}
		}
	}
	for _, interp := range []coopvec.ComponentType{coopvec.SInt8Packed, coopvec.UInt8Packed} {
		for _, m := range []coopvec.ComponentType{coopvec.SInt8, coopvec.UInt8} {
			for _, out := range []coopvec.ComponentType{coopvec.SInt32, coopvec.UInt32} {
				caps.Properties = append(caps.Properties, Property{coopvec.UInt32, interp, m, out, out, true})
			}
		}
	}
	return caps
}
