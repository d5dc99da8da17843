package coopvec

import "fmt"

// Conversion describes a rows x cols matrix rewritten from one layout and
// element type to another. Strides are in bytes and only meaningful for
// row and column major layouts.
type Conversion struct {
	SrcType   ComponentType
	DstType   ComponentType
	SrcLayout MatrixLayout
	DstLayout MatrixLayout
	Rows      int
	Cols      int
	SrcStride int
	DstStride int
}

func (c Conversion) String() string {
	return fmt.Sprintf("%dx%d %v/%v -> %v/%v", c.Rows, c.Cols, c.SrcType, c.SrcLayout, c.DstType, c.DstLayout)
}

// Validate rejects descriptors no layout implementation can honour.
func (c Conversion) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("invalid matrix shape: %dx%d (must be positive)", c.Rows, c.Cols)
	}
	if !c.SrcType.Valid() || !c.DstType.Valid() {
		return fmt.Errorf("invalid component types: %d -> %d", int(c.SrcType), int(c.DstType))
	}
	if c.SrcType.IsFloat() != c.DstType.IsFloat() {
		return fmt.Errorf("conversion %v mixes float and integer types", c)
	}
	if !c.SrcType.IsFloat() && c.SrcType != c.DstType {
		return fmt.Errorf("conversion %v changes integer type", c)
	}
	if err := checkStride(c.SrcLayout, c.Rows, c.Cols, c.SrcType, c.SrcStride); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := checkStride(c.DstLayout, c.Rows, c.Cols, c.DstType, c.DstStride); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	return nil
}

func checkStride(l MatrixLayout, rows, cols int, t ComponentType, stride int) error {
	var min int
	switch l {
	case RowMajor:
		min = cols * t.Size()
	case ColumnMajor:
		min = rows * t.Size()
	case InferencingOptimal, TrainingOptimal:
		return nil
	default:
		return fmt.Errorf("unknown layout %v", l)
	}
	if stride < min {
		return fmt.Errorf("invalid stride: %d (must be at least %d for %v)", stride, min, l)
	}
	return nil
}
