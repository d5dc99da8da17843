package reference

import (
	"math"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
)

const (
	// RelativeLimit bounds transcendental and min/max results.
	RelativeLimit = 0.01
	// SigmoidLimit is the absolute error allowed after a sigmoid.
	SigmoidLimit = 0.01
	// LargeRelativeLimit applies to products with more than
	// LargeProduct weights.
	LargeRelativeLimit = 0.06
	LargeProduct       = 200
	// EscapeValve accepts small absolute errors for activations that
	// amplify precision loss.
	EscapeValve = 0.1
	// divULPs is the error allowed for division, in output ulps.
	divULPs = 3
)

func abs32(v float32) float32 { return float32(math.Abs(float64(v))) }

// DivAccepts checks a quotient against a/b within three ulps of the
// input precision. Division by zero is never checked.
func DivAccepts(out, a, b float32, input coopvec.ComponentType) bool {
	if b == 0 {
		return true
	}
	ulp := float32(1.0 / (8 * 1024 * 1024))
	if input == coopvec.Float16 {
		ulp = 1.0 / 1024
	}
	ulp *= divULPs
	q := a / b
	return !(abs32(out-q) > ulp*abs32(q))
}

// RelativeAccepts reports whether out is within RelativeLimit of ref.
// The error is divided by the signed reference, so a negative reference
// accepts any result.
func RelativeAccepts(out, ref float32) bool {
	return out == ref || !(abs32(out-ref)/ref > RelativeLimit)
}

// MatMulTolerance is the acceptance rule for float matrix results of
// one case.
type MatMulTolerance struct {
	sigmoid  bool
	relative bool
	escape   bool
	limit    float32
}

func NewMatMulTolerance(d cases.Definition) MatMulTolerance {
	tt, act := d.TestType, d.Act[0]
	t := MatMulTolerance{
		sigmoid: act == cases.ActSigmoid,
		relative: tt == cases.TTMatrixMul3 || tt == cases.TTMatrixMul2AddMul2 || tt == cases.TTMatrixMul2Add ||
			act == cases.ActHardGelu || tt == cases.TTMatrixMulTrainingBias || d.K > 64,
		escape: act == cases.ActLeakyReluStep || act == cases.ActLeakyReluMax || act == cases.ActHardGelu ||
			tt == cases.TTMatrixMul2AddMul2,
		limit: RelativeLimit,
	}
	if d.N*d.K > LargeProduct {
		t.limit = LargeRelativeLimit
	}
	return t
}

// Accepts reports whether out matches ref under the case's rule.
func (t MatMulTolerance) Accepts(out, ref float32) bool {
	if out == ref {
		return true
	}
	diff := abs32(out - ref)
	switch {
	case t.sigmoid:
		return !(diff > SigmoidLimit)
	case t.relative:
		denom := abs32(ref)
		if denom < 0.5 {
			denom = 5
		}
		if !(diff/denom > t.limit) {
			return true
		}
		return t.escape && diff < EscapeValve
	}
	return false
}
