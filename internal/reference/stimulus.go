package reference

import (
	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

// Fill writes the stimulus for a vector case into the four data
// bindings, drawing every element of every binding from rnd in binding
// order. Value ranges keep exact results representable in the output
// type.
func Fill(p *Plan, bufs [4][]byte, rnd *Rand) {
	d := p.Def
	tt := d.TestType
	for i := 0; i < 4; i++ {
		t := p.DataTypes[i]
		for j := 0; j < p.TotalElements[i]; j++ {
			r := rnd.Uint32()
			if !t.IsFloat() {
				bias := int64(-128)
				// unsigned values large enough to overflow binary16
				if !t.IsSignedInt() && p.DataTypes[3] == coopvec.Float16 {
					bias = 0
				}
				coopvec.SetInt(bufs[i], t, j, int64(r&0xff)+bias)
				continue
			}
			var v float64
			switch {
			case !tt.IsMatrixMul() && !tt.IsTraining() && tt != cases.TTMul && tt != cases.TTFma:
				v = (float64(r&0xff) - 64) / 2
			case tt == cases.TTMatrixMul3 || tt == cases.TTMatrixMul2AddMul2 || tt.IsTraining():
				v = (float64(r&0x3) - 1) / 2
			case i == 0 && !d.InputInterpretation.IsFloat():
				v = float64(r&0x7) - 3
			default:
				v = (float64(r&0xf) - 4) / 2
			}
			if tt.IsTraining() && i >= 2 {
				v = 0
			}
			if tt.IsTraining() && i == 2 {
				coopvec.SetInt(bufs[i], coopvec.UInt32, j, 0)
				continue
			}
			coopvec.SetFloat(bufs[i], t, j, v)
		}
	}
}

// AddTrainingBias adds one to every element of an optimal matrix copy,
// padding included, so that padding values which leak into results are
// detected.
func AddTrainingBias(buf []byte, t coopvec.ComponentType) {
	for e := 0; e < len(buf)/t.Size(); e++ {
		coopvec.SetFloat(buf, t, e, coopvec.GetFloat(buf, t, e)+1)
	}
}

// WriteAddressTable stores the device addresses of the four data bindings.
func WriteAddressTable(table []byte, addrs [4]uint64) {
	for i, a := range addrs {
		coopvec.SetInt(table, coopvec.UInt64, i, int64(a))
	}
}
