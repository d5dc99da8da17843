package reference

import (
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

// SizeQuery returns the destination size of a layout conversion.
type SizeQuery func(c coopvec.Conversion) (int, error)

// AddressTableSize is the byte size of the device address table binding.
const AddressTableSize = 4 * 8

// Plan is the memory layout of one vector case: buffer sizes, weight
// layer placement and the values passed through specialization.
type Plan struct {
	Def         cases.Definition
	DataTypes   [4]coopvec.ComponentType
	ElementSize [4]int
	// NumLayers is zero for cases without weight matrices.
	NumLayers int

	// Per layer: the row major stride of the raw copy, its offset, and
	// the offset of the copy the program reads (equal for row and column
	// major layers).
	MatrixStride    [3]int
	LayerOffsetsRaw [3]int
	LayerOffsets    [3]int
	LayerSizesRaw   [3]int
	LayerSizes      [3]int
	TotalLayerSize  int

	BiasStride int
	// InputPadded and OutputPadded are vector lengths in elements padded
	// to 16 bytes. OuterInputPadded pads the outer product's second
	// vector in input elements.
	InputPadded      int
	OutputPadded     int
	OuterInputPadded int
	OuterProductSize int

	TotalElements [4]int
	BufferSizes   [5]int
}

// NewPlan lays out memory for d. Optimal layer sizes come from query.
func NewPlan(d cases.Definition, query SizeQuery) (*Plan, error) {
	p := &Plan{Def: d, DataTypes: d.DataTypes()}
	if d.TestType.IsMatrixMul() {
		p.NumLayers = d.TestType.Layers()
	}
	dt := p.DataTypes
	N, K := d.N, d.K
	mes := dt[1].Size()

	total := 0
	for i := 0; i < p.NumLayers; i++ {
		p.LayerOffsetsRaw[i], p.LayerOffsets[i] = total, total
		rows, cols := d.LayerShape(i)
		switch l := d.MatrixLayout[i]; l {
		case coopvec.RowMajor:
			p.MatrixStride[i] = coopvec.AlignUp(cols*mes, 16)
			p.LayerSizes[i] = p.MatrixStride[i] * rows
			p.LayerSizesRaw[i] = p.LayerSizes[i]
			total += p.LayerSizes[i]
		case coopvec.ColumnMajor:
			p.MatrixStride[i] = coopvec.AlignUp(rows*mes, 16)
			p.LayerSizes[i] = p.MatrixStride[i] * cols
			p.LayerSizesRaw[i] = p.LayerSizes[i]
			total += p.LayerSizes[i]
		default:
			p.MatrixStride[i] = coopvec.AlignUp(cols*mes, 16)
			p.LayerSizesRaw[i] = p.MatrixStride[i] * rows
			p.LayerOffsets[i] = coopvec.AlignUp(total+p.LayerSizesRaw[i], 64)
			size, err := query(coopvec.Conversion{
				SrcType: d.MatrixType, DstType: d.MatrixType,
				SrcLayout: coopvec.RowMajor, DstLayout: l,
				Rows: rows, Cols: cols, SrcStride: p.MatrixStride[i],
			})
			if err != nil {
				return nil, fmt.Errorf("layer %d size: %w", i, err)
			}
			p.LayerSizes[i] = size
			total = p.LayerOffsets[i] + size
		}
		total = coopvec.AlignUp(total, 64)
	}
	p.TotalLayerSize = total

	p.BiasStride = coopvec.AlignUp(N*dt[2].Size(), 16)
	p.InputPadded = coopvec.AlignUp(K, 128/d.InputType.Bits())
	p.OutputPadded = coopvec.AlignUp(N, 128/d.OutputType.Bits())
	p.OuterInputPadded = coopvec.AlignUp(N, 128/d.InputType.Bits())

	te := [4]int{p.InputPadded, p.InputPadded, p.BiasStride / dt[2].Size(), p.OutputPadded}
	if d.TestType == cases.TTOuterProduct {
		size, err := query(coopvec.Conversion{
			SrcType: dt[3], DstType: dt[3],
			SrcLayout: coopvec.RowMajor, DstLayout: d.MatrixLayout[0],
			Rows: K, Cols: N, SrcStride: N * dt[3].Size(),
		})
		if err != nil {
			return nil, fmt.Errorf("outer product size: %w", err)
		}
		p.OuterProductSize = size
		te[1] = p.OuterInputPadded
		te[3] = coopvec.DivRoundUp(size, dt[3].Size())
	}
	if d.TestType.IsTraining() {
		te[2] = 1
	}

	inv := d.TotalInvocations()
	for i := 0; i < 4; i++ {
		p.ElementSize[i] = dt[i].Size()
		if d.TestType.IsTraining() && i == 2 {
			p.ElementSize[i] = 4
		}
		switch {
		case i == 1 && d.TestType.IsMatrixMul():
			te[i] = p.WeightSets() * p.TotalLayerSize / p.ElementSize[i]
		case i == 2 && (d.TestType == cases.TTMatrixMad || d.TestType == cases.TTMatrixMadTranspose):
			te[i] = coopvec.DivRoundUp(inv, cases.BiasGroupSize) * p.BiasStride / p.ElementSize[i]
		default:
			te[i] *= inv
		}
		p.BufferSizes[i] = te[i] * p.ElementSize[i]
	}
	p.TotalElements = te
	p.BufferSizes[4] = AddressTableSize
	return p, nil
}

// WeightSets is the number of weight matrix copies, one per group of
// invocations sharing a matrix offset.
func (p *Plan) WeightSets() int {
	return coopvec.DivRoundUp(p.Def.TotalInvocations(), cases.MatrixGroupSize)
}

// MemoryLayout returns the values the program is specialized with.
func (p *Plan) MemoryLayout() shader.MemoryLayout {
	return shader.MemoryLayout{
		LayerStride:      p.TotalLayerSize,
		LayerOffsets:     p.LayerOffsets,
		OuterProductSize: p.OuterProductSize,
	}
}

// DeviceConvert reports whether optimal layers are converted by a
// recorded device command rather than on the host.
func (p *Plan) DeviceConvert() bool {
	return p.Def.N > 20 && p.Def.TestType != cases.TTMatrixMulTrainingBias
}

// OptimalConversions returns, per optimal layer and weight set, the
// conversion from the raw row major copy to the copy the program reads.
// Offsets are byte offsets into the matrix binding.
func (p *Plan) OptimalConversions() []LayerConversion {
	var out []LayerConversion
	d := p.Def
	for i := 0; i < p.NumLayers; i++ {
		l := d.MatrixLayout[i]
		if !l.IsOptimal() {
			continue
		}
		rows, cols := d.LayerShape(i)
		for w := 0; w < p.WeightSets(); w++ {
			out = append(out, LayerConversion{
				Step: Step{
					Conversion: coopvec.Conversion{
						SrcType: d.MatrixType, DstType: d.MatrixType,
						SrcLayout: coopvec.RowMajor, DstLayout: l,
						Rows: rows, Cols: cols, SrcStride: p.MatrixStride[i],
					},
					SrcOffset: w*p.TotalLayerSize + p.LayerOffsetsRaw[i],
					SrcSize:   p.LayerSizesRaw[i],
					DstOffset: w*p.TotalLayerSize + p.LayerOffsets[i],
					DstSize:   p.LayerSizes[i],
				},
				Layer: i,
			})
		}
	}
	return out
}

// LayerConversion is one weight set's optimal layer conversion.
type LayerConversion struct {
	Step
	Layer int
}
