package coopvec

import "fmt"

// MatrixLayout is the memory arrangement of a weight matrix. The two
// optimal layouts are opaque and only produced by a layout conversion.
type MatrixLayout int

const (
	RowMajor MatrixLayout = iota
	ColumnMajor
	InferencingOptimal
	TrainingOptimal
)

var layoutNames = [...]string{
	RowMajor:           "rowMajor",
	ColumnMajor:        "colMajor",
	InferencingOptimal: "inferencingOptimal",
	TrainingOptimal:    "trainingOptimal",
}

var layoutConstants = [...]string{
	RowMajor:           "gl_CooperativeVectorMatrixLayoutRowMajorNV",
	ColumnMajor:        "gl_CooperativeVectorMatrixLayoutColumnMajorNV",
	InferencingOptimal: "gl_CooperativeVectorMatrixLayoutInferencingOptimalNV",
	TrainingOptimal:    "gl_CooperativeVectorMatrixLayoutTrainingOptimalNV",
}

func (l MatrixLayout) String() string {
	if l < 0 || int(l) >= len(layoutNames) {
		return fmt.Sprintf("MatrixLayout(%d)", int(l))
	}
	return layoutNames[l]
}

// Constant is the device-side layout enumerant.
func (l MatrixLayout) Constant() string { return layoutConstants[l] }

func (l MatrixLayout) IsOptimal() bool {
	return l == InferencingOptimal || l == TrainingOptimal
}

// SwapRowCol exchanges row and column major and keeps optimal layouts.
func SwapRowCol(l MatrixLayout) MatrixLayout {
	switch l {
	case RowMajor:
		return ColumnMajor
	case ColumnMajor:
		return RowMajor
	}
	return l
}

// Layouts returns all layouts in declaration order.
func Layouts() []MatrixLayout {
	return []MatrixLayout{RowMajor, ColumnMajor, InferencingOptimal, TrainingOptimal}
}

// AlignUp rounds v up to a multiple of a.
func AlignUp(v, a int) int {
	return (v + a - 1) / a * a
}

// DivRoundUp divides rounding toward positive infinity.
func DivRoundUp(v, d int) int {
	return (v + d - 1) / d
}

// ConcreteStride returns the minimal 16-byte aligned stride of a row or
// column major matrix; optimal layouts have no stride.
func ConcreteStride(l MatrixLayout, rows, cols int, t ComponentType) int {
	switch l {
	case RowMajor:
		return AlignUp(cols*t.Size(), 16)
	case ColumnMajor:
		return AlignUp(rows*t.Size(), 16)
	}
	return 0
}

// ConcreteSize is the byte size of a row or column major matrix at stride.
func ConcreteSize(l MatrixLayout, rows, cols, stride int) int {
	switch l {
	case RowMajor:
		return rows * stride
	case ColumnMajor:
		return cols * stride
	}
	return 0
}
