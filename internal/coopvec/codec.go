package coopvec

import (
	"fmt"
	"math"
)

const (
	f32ExpBits  = 8
	f32ManBits  = 23
	f32ExpBias  = 127
	f32ExpMask  = 0xFF
	f32ManMask  = 0x7FFFFF
	e4m3NaNCode = 0x7F
)

type narrowFormat struct {
	expBits uint32
	manBits uint32
	// noInf marks formats whose all-ones exponent still encodes finite values.
	noInf bool
}

func formatOf(t ComponentType) narrowFormat {
	switch t {
	case Float16, FloatE5M2:
		i := componentTable[t]
		return narrowFormat{expBits: i.expBits, manBits: i.manBits}
	case FloatE4M3:
		i := componentTable[t]
		return narrowFormat{expBits: i.expBits, manBits: i.manBits, noInf: true}
	}
	panic(fmt.Sprintf("coopvec: %v is not a narrow float type", t))
}

func (f narrowFormat) bias() int32     { return int32(1)<<(f.expBits-1) - 1 }
func (f narrowFormat) expMax() uint32  { return 1<<f.expBits - 1 }
func (f narrowFormat) manMask() uint32 { return 1<<f.manBits - 1 }
func (f narrowFormat) signBit() uint32 { return 1 << (f.expBits + f.manBits) }

func (f narrowFormat) nan() uint32 {
	if f.noInf {
		return e4m3NaNCode
	}
	return f.expMax()<<f.manBits | 1<<(f.manBits-1)
}

func (f narrowFormat) inf() uint32 {
	if f.noInf {
		return e4m3NaNCode
	}
	return f.expMax() << f.manBits
}

// Decode widens an encoded value of type t to binary32.
func Decode(bits uint32, t ComponentType) float32 {
	if t == Float32 {
		return math.Float32frombits(bits)
	}
	f := formatOf(t)
	sign := bits & f.signBit()
	mag := bits & (f.signBit() - 1)
	sign32 := uint32(0)
	if sign != 0 {
		sign32 = 1 << 31
	}
	if mag == 0 {
		return math.Float32frombits(sign32)
	}

	exp := mag >> f.manBits
	man := mag & f.manMask()

	if f.noInf {
		if mag == e4m3NaNCode {
			return float32(math.NaN())
		}
	} else if exp == f.expMax() {
		if man == 0 {
			return math.Float32frombits(sign32 | f32ExpMask<<f32ManBits)
		}
		return math.Float32frombits(sign32 | f32ExpMask<<f32ManBits | 1<<(f32ManBits-1) | man<<(f32ManBits-f.manBits))
	}

	e := int32(exp)
	if exp == 0 {
		e = 1
		for man&(1<<f.manBits) == 0 {
			man <<= 1
			e--
		}
		man &= f.manMask()
	}
	e32 := uint32(e - f.bias() + f32ExpBias)
	return math.Float32frombits(sign32 | e32<<f32ManBits | man<<(f32ManBits-f.manBits))
}

// roundShift drops the low s bits of v with round-to-nearest-even.
func roundShift(v uint32, s uint32) uint32 {
	if s == 0 {
		return v
	}
	if s >= 32 {
		return 0
	}
	out := v >> s
	rem := v & (1<<s - 1)
	half := uint32(1) << (s - 1)
	if rem > half || (rem == half && out&1 == 1) {
		out++
	}
	return out
}

// Encode narrows a binary32 value to type t with round-to-nearest-even.
// Out-of-range magnitudes become infinity, or NaN for E4M3.
func Encode(x float32, t ComponentType) uint32 {
	if t == Float32 {
		return math.Float32bits(x)
	}
	f := formatOf(t)
	b := math.Float32bits(x)
	sign := uint32(0)
	if b>>31 != 0 {
		sign = f.signBit()
	}
	exp32 := (b >> f32ManBits) & f32ExpMask
	man32 := b & f32ManMask

	if exp32 == f32ExpMask {
		if man32 != 0 {
			return sign | f.nan()
		}
		return sign | f.inf()
	}
	// binary32 denormals are far below every narrow format's range
	if exp32 == 0 {
		return sign
	}

	exp := int32(exp32) - f32ExpBias + f.bias()
	drop := uint32(f32ManBits - f.manBits)
	full := man32 | 1<<f32ManBits

	if exp <= 0 {
		shift := drop + uint32(1-exp)
		if shift > f32ManBits+1 {
			return sign
		}
		// a carry into the exponent field yields the smallest normal
		return sign | roundShift(full, shift)
	}

	m := roundShift(full, drop)
	if m == 1<<(f.manBits+1) {
		m >>= 1
		exp++
	}
	code := uint32(exp)<<f.manBits | (m & f.manMask())

	if f.noInf {
		if uint32(exp) > f.expMax() || code >= e4m3NaNCode {
			return sign | e4m3NaNCode
		}
		return sign | code
	}
	if uint32(exp) >= f.expMax() {
		return sign | f.inf()
	}
	return sign | code
}

// Quantize rounds x through type t and back to binary32. Integer and
// wider types leave x untouched.
func Quantize(x float32, t ComponentType) float32 {
	switch t {
	case Float16, FloatE4M3, FloatE5M2:
		return Decode(Encode(x, t), t)
	}
	return x
}

// IsNaNCode reports whether bits encode a NaN of type t.
func IsNaNCode(bits uint32, t ComponentType) bool {
	v := Decode(bits, t)
	return v != v
}

// MaxFinite returns the largest finite magnitude of a narrow float type.
func MaxFinite(t ComponentType) float32 {
	f := formatOf(t)
	if f.noInf {
		return Decode(e4m3NaNCode-1, t)
	}
	return Decode((f.expMax()-1)<<f.manBits|f.manMask(), t)
}
