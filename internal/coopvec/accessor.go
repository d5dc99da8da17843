package coopvec

import (
	"encoding/binary"
	"fmt"
	"math"
)

var le = binary.LittleEndian

// GetFloat reads element index of a float-typed buffer.
func GetFloat(buf []byte, t ComponentType, index int) float64 {
	return GetFloatAt(buf, t, 0, index)
}

// GetFloatAt reads element index starting at a byte offset.
func GetFloatAt(buf []byte, t ComponentType, offset, index int) float64 {
	p := offset + index*t.Size()
	switch t {
	case Float32:
		return float64(math.Float32frombits(le.Uint32(buf[p:])))
	case Float64:
		return math.Float64frombits(le.Uint64(buf[p:]))
	case Float16:
		return float64(Decode(uint32(le.Uint16(buf[p:])), t))
	case FloatE4M3, FloatE5M2:
		return float64(Decode(uint32(buf[p]), t))
	}
	panic(fmt.Sprintf("coopvec: GetFloat on non-float type %v", t))
}

// SetFloat writes element index of a float-typed buffer, rounding to t.
func SetFloat(buf []byte, t ComponentType, index int, v float64) {
	SetFloatAt(buf, t, 0, index, v)
}

// SetFloatAt writes element index starting at a byte offset.
func SetFloatAt(buf []byte, t ComponentType, offset, index int, v float64) {
	p := offset + index*t.Size()
	switch t {
	case Float32:
		le.PutUint32(buf[p:], math.Float32bits(float32(v)))
	case Float64:
		le.PutUint64(buf[p:], math.Float64bits(v))
	case Float16:
		le.PutUint16(buf[p:], uint16(Encode(float32(v), t)))
	case FloatE4M3, FloatE5M2:
		buf[p] = byte(Encode(float32(v), t))
	default:
		panic(fmt.Sprintf("coopvec: SetFloat on non-float type %v", t))
	}
}

// GetInt reads element index as an integer. Float types are truncated
// toward zero.
func GetInt(buf []byte, t ComponentType, index int) int64 {
	return GetIntAt(buf, t, 0, index)
}

// GetIntAt reads element index starting at a byte offset.
func GetIntAt(buf []byte, t ComponentType, offset, index int) int64 {
	if t.IsFloat() {
		return int64(GetFloatAt(buf, t, offset, index))
	}
	p := offset + index*t.Size()
	switch t.Unpacked() {
	case SInt8:
		return int64(int8(buf[p]))
	case UInt8:
		return int64(buf[p])
	case SInt16:
		return int64(int16(le.Uint16(buf[p:])))
	case UInt16:
		return int64(le.Uint16(buf[p:]))
	case SInt32:
		return int64(int32(le.Uint32(buf[p:])))
	case UInt32:
		return int64(le.Uint32(buf[p:]))
	case SInt64, UInt64:
		return int64(le.Uint64(buf[p:]))
	}
	panic(fmt.Sprintf("coopvec: GetInt on unsupported type %v", t))
}

// SetInt writes element index, narrowing v to the width of t.
func SetInt(buf []byte, t ComponentType, index int, v int64) {
	SetIntAt(buf, t, 0, index, v)
}

// SetIntAt writes element index starting at a byte offset.
func SetIntAt(buf []byte, t ComponentType, offset, index int, v int64) {
	if t.IsFloat() {
		SetFloatAt(buf, t, offset, index, float64(v))
		return
	}
	p := offset + index*t.Size()
	switch t.Size() {
	case 1:
		buf[p] = byte(v)
	case 2:
		le.PutUint16(buf[p:], uint16(v))
	case 4:
		le.PutUint32(buf[p:], uint32(v))
	case 8:
		le.PutUint64(buf[p:], uint64(v))
	default:
		panic(fmt.Sprintf("coopvec: SetInt on unsupported type %v", t))
	}
}

// TruncInt narrows v to the bit width of t, sign-extending signed types.
func TruncInt(v int64, t ComponentType) int64 {
	bits := t.Bits()
	if bits >= 64 {
		return v
	}
	mask := int64(1)<<bits - 1
	v &= mask
	if t.IsSigned() && v&(int64(1)<<(bits-1)) != 0 {
		v |= ^mask
	}
	return v
}

// IntRange returns the representable range of an integer type.
func IntRange(t ComponentType) (lo, hi int64) {
	bits := t.Bits()
	if t.IsSigned() {
		if bits >= 64 {
			return math.MinInt64, math.MaxInt64
		}
		return -(int64(1) << (bits - 1)), int64(1)<<(bits-1) - 1
	}
	if bits >= 64 {
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<bits - 1
}
