package cases

import (
	"fmt"
	"math/bits"

	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// Per-invocation grouping of weight matrices and bias vectors used when
// the offsets are non-uniform.
const (
	MatrixGroupSize = 5
	BiasGroupSize   = 6
)

// Kind distinguishes the case variants held by the group tree.
type Kind int

const (
	KindVector Kind = iota
	KindLayoutConvert
	KindTypeConvert
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindLayoutConvert:
		return "layoutconvert"
	case KindTypeConvert:
		return "typeconvert"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Case is one executable test held by a leaf of the group tree.
type Case interface {
	Kind() Kind
}

// Definition fully specifies one cooperative vector case.
type Definition struct {
	Stage                Stage
	TestType             TestType
	ThreadsPerWorkgroupX int
	ThreadsPerWorkgroupY int
	WorkgroupsX          int
	WorkgroupsY          int

	InputType           coopvec.ComponentType
	InputInterpretation coopvec.ComponentType
	MatrixType          coopvec.ComponentType
	OutputType          coopvec.ComponentType
	InputPacked         bool

	MatrixLayout [3]coopvec.MatrixLayout
	Transpose    bool
	StorageClass StorageClass

	// K is the input (contraction) length, N the output length.
	K int
	N int

	Act [3]Activation

	NonuniformOffset  bool
	CFDivergent       bool
	ResultAddr        ResultAddress
	Uses64BitIndexing bool
}

func (d Definition) Kind() Kind { return KindVector }

// TotalInvocations is the number of logical invocations dispatched.
func (d Definition) TotalInvocations() int {
	return d.ThreadsPerWorkgroupX * d.ThreadsPerWorkgroupY * d.WorkgroupsX * d.WorkgroupsY
}

// InvocationsPerRow is the launch width used by graphics and ray stages.
func (d Definition) InvocationsPerRow() int {
	return d.ThreadsPerWorkgroupX * d.WorkgroupsX
}

// DataTypes returns the element types of the input, matrix, bias and
// output buffers.
func (d Definition) DataTypes() [4]coopvec.ComponentType {
	if d.TestType.IsMatrixMul() {
		return [4]coopvec.ComponentType{d.InputType, d.MatrixType, d.OutputType, d.OutputType}
	}
	return [4]coopvec.ComponentType{d.InputType, d.InputType, d.OutputType, d.OutputType}
}

// LayerShape returns the rows and columns of weight matrix layer i.
func (d Definition) LayerShape(i int) (rows, cols int) {
	if (i == 1) != d.Transpose {
		return d.K, d.N
	}
	return d.N, d.K
}

// ColumnMajor reports whether layer i is addressed column by column.
func (d Definition) ColumnMajor(i int) bool {
	return (d.MatrixLayout[i] == coopvec.ColumnMajor) != d.Transpose
}

// DoFloatScale selects float rescaling for hardgelu on float input
// quantized to an integer interpretation.
func (d Definition) DoFloatScale() bool {
	return !d.OutputType.IsFloat() && d.InputType.IsFloat() && !d.InputInterpretation.IsFloat() &&
		d.Act[0] == ActHardGelu
}

// DoIntShift selects integer shift rescaling between layers.
func (d Definition) DoIntShift() bool {
	return !d.OutputType.IsFloat() &&
		!(d.InputType.IsFloat() && !d.InputInterpretation.IsFloat() && d.Act[0] == ActHardGelu)
}

// IntScaleShift returns log2(nextPow2(k) * 256).
func IntScaleShift(k int) int {
	p := 1
	for p < k {
		p <<= 1
	}
	return bits.Len(uint(p*256)) - 1
}

// FloatScaleFactor is the float equivalent of IntScaleShift.
func FloatScaleFactor(k int) float32 {
	return 1.0 / float32(uint32(1)<<IntScaleShift(k))
}

// LayoutConvertCase converts a matrix through a chain of layouts and
// back to row major.
type LayoutConvertCase struct {
	MatrixType  coopvec.ComponentType
	Layouts     [4]coopvec.MatrixLayout
	HostConvert bool
}

func (c LayoutConvertCase) Kind() Kind { return KindLayoutConvert }

// TypeConvertCase converts every encodable source value to another type.
type TypeConvertCase struct {
	SrcType     coopvec.ComponentType
	DstType     coopvec.ComponentType
	HostConvert bool
}

func (c TypeConvertCase) Kind() Kind { return KindTypeConvert }
