package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
)

// Inferencing-optimal matrices are stored as 16x16 element tiles in row
// major tile order. Training-optimal matrices are column major with the
// column height padded to a whole tile.
const tileDim = 16

// matrixView addresses a matrix in any layout. Padding elements of the
// optimal layouts are never read.
type matrixView struct {
	layout     coopvec.MatrixLayout
	typ        coopvec.ComponentType
	rows, cols int
	stride     int
}

func optimalSize(l coopvec.MatrixLayout, rows, cols int, t coopvec.ComponentType) int {
	switch l {
	case coopvec.InferencingOptimal:
		return coopvec.AlignUp(rows, tileDim) * coopvec.AlignUp(cols, tileDim) * t.Size()
	case coopvec.TrainingOptimal:
		return cols * coopvec.AlignUp(rows, tileDim) * t.Size()
	}
	return 0
}

func (v matrixView) size() int {
	if v.layout.IsOptimal() {
		return optimalSize(v.layout, v.rows, v.cols, v.typ)
	}
	return coopvec.ConcreteSize(v.layout, v.rows, v.cols, v.stride)
}

// offset is the byte offset of element (r, c).
func (v matrixView) offset(r, c int) int {
	es := v.typ.Size()
	switch v.layout {
	case coopvec.RowMajor:
		return r*v.stride + c*es
	case coopvec.ColumnMajor:
		return c*v.stride + r*es
	case coopvec.InferencingOptimal:
		tilesPerRow := coopvec.AlignUp(v.cols, tileDim) / tileDim
		tile := (r/tileDim)*tilesPerRow + c/tileDim
		return (tile*tileDim*tileDim + (r%tileDim)*tileDim + c%tileDim) * es
	case coopvec.TrainingOptimal:
		return (c*coopvec.AlignUp(v.rows, tileDim) + r) * es
	}
	panic(fmt.Sprintf("device: unknown layout %v", v.layout))
}

var le = binary.LittleEndian

// loadFloat reads a float element in device precision.
func loadFloat(buf []byte, t coopvec.ComponentType, off int) float32 {
	switch t {
	case coopvec.Float32:
		return math.Float32frombits(le.Uint32(buf[off:]))
	case coopvec.Float16:
		return float16.Frombits(le.Uint16(buf[off:])).Float32()
	case coopvec.FloatE4M3, coopvec.FloatE5M2:
		return coopvec.Decode(uint32(buf[off]), t)
	case coopvec.Float64:
		return float32(math.Float64frombits(le.Uint64(buf[off:])))
	}
	return float32(coopvec.GetIntAt(buf, t, off, 0))
}

// storeFloat writes v rounded to nearest even in t.
func storeFloat(buf []byte, t coopvec.ComponentType, off int, v float32) {
	switch t {
	case coopvec.Float32:
		le.PutUint32(buf[off:], math.Float32bits(v))
	case coopvec.Float16:
		le.PutUint16(buf[off:], float16.Fromfloat32(v).Bits())
	case coopvec.FloatE4M3, coopvec.FloatE5M2:
		buf[off] = byte(coopvec.Encode(v, t))
	case coopvec.Float64:
		le.PutUint64(buf[off:], math.Float64bits(float64(v)))
	default:
		coopvec.SetIntAt(buf, t, off, 0, int64(v))
	}
}

// roundTo rounds a binary32 value through type t.
func roundTo(v float32, t coopvec.ComponentType) float32 {
	switch t {
	case coopvec.Float16:
		return float16.Fromfloat32(v).Float32()
	case coopvec.FloatE4M3, coopvec.FloatE5M2:
		return coopvec.Quantize(v, t)
	}
	return v
}

// convertMatrix implements ConvertMatrixLayout for the emulator.
func convertMatrix(m MatrixConversion) (int, error) {
	if err := m.Validate(); err != nil {
		metrics.RecordValidationError("convert", "descriptor")
		return 0, err
	}
	if m.DstType.IsFP8() && !m.DstLayout.IsOptimal() {
		return 0, unsupported("%v destination in %v layout", m.DstType, m.DstLayout)
	}
	src := matrixView{m.SrcLayout, m.SrcType, m.Rows, m.Cols, m.SrcStride}
	dst := matrixView{m.DstLayout, m.DstType, m.Rows, m.Cols, m.DstStride}
	size := dst.size()
	if m.Dst == nil {
		return size, nil
	}
	if len(m.Dst) < size {
		metrics.RecordValidationError("convert", "dst_size")
		return 0, fmt.Errorf("invalid destination size: %d (must be at least %d)", len(m.Dst), size)
	}
	if need := src.size(); len(m.Src) < need {
		metrics.RecordValidationError("convert", "src_size")
		return 0, fmt.Errorf("invalid source size: %d (must be at least %d)", len(m.Src), need)
	}

	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			so, do := src.offset(r, c), dst.offset(r, c)
			if m.SrcType.IsFloat() {
				storeFloat(m.Dst, m.DstType, do, loadFloat(m.Src, m.SrcType, so))
			} else {
				copy(m.Dst[do:do+m.DstType.Size()], m.Src[so:so+m.SrcType.Size()])
			}
		}
	}
	path := "device"
	if m.Host {
		path = "host"
	}
	metrics.RecordConversion(path, m.DstLayout.String())
	return size, nil
}
