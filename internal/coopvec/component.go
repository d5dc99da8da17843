package coopvec

import "fmt"

// ComponentType identifies a scalar storage format.
type ComponentType int

const (
	Float16 ComponentType = iota
	Float32
	Float64
	SInt8
	SInt16
	SInt32
	SInt64
	UInt8
	UInt16
	UInt32
	UInt64
	FloatE4M3
	FloatE5M2
	SInt8Packed
	UInt8Packed

	numComponentTypes
)

type componentInfo struct {
	bits     int
	name     string
	typeName string
	interp   string
	float    bool
	signed   bool
	expBits  uint32
	manBits  uint32
}

var componentTable = [numComponentTypes]componentInfo{
	Float16:     {16, "float16", "float16_t", "gl_ComponentTypeFloat16NV", true, true, 5, 10},
	Float32:     {32, "float32", "float32_t", "gl_ComponentTypeFloat32NV", true, true, 8, 23},
	Float64:     {64, "float64", "float64_t", "gl_ComponentTypeFloat64NV", true, true, 11, 52},
	SInt8:       {8, "sint8", "int8_t", "gl_ComponentTypeSignedInt8NV", false, true, 0, 0},
	SInt16:      {16, "sint16", "int16_t", "gl_ComponentTypeSignedInt16NV", false, true, 0, 0},
	SInt32:      {32, "sint32", "int32_t", "gl_ComponentTypeSignedInt32NV", false, true, 0, 0},
	SInt64:      {64, "sint64", "int64_t", "gl_ComponentTypeSignedInt64NV", false, true, 0, 0},
	UInt8:       {8, "uint8", "uint8_t", "gl_ComponentTypeUnsignedInt8NV", false, false, 0, 0},
	UInt16:      {16, "uint16", "uint16_t", "gl_ComponentTypeUnsignedInt16NV", false, false, 0, 0},
	UInt32:      {32, "uint32", "uint32_t", "gl_ComponentTypeUnsignedInt32NV", false, false, 0, 0},
	UInt64:      {64, "uint64", "uint64_t", "gl_ComponentTypeUnsignedInt64NV", false, false, 0, 0},
	FloatE4M3:   {8, "floate4m3", "floate4m3_t", "gl_ComponentTypeFloatE4M3NV", true, true, 4, 3},
	FloatE5M2:   {8, "floate5m2", "floate5m2_t", "gl_ComponentTypeFloatE5M2NV", true, true, 5, 2},
	SInt8Packed: {8, "sint8packed", "int8_t", "gl_ComponentTypeSignedInt8PackedNV", false, true, 0, 0},
	UInt8Packed: {8, "uint8packed", "uint8_t", "gl_ComponentTypeUnsignedInt8PackedNV", false, false, 0, 0},
}

func (t ComponentType) info() componentInfo {
	if !t.Valid() {
		panic(fmt.Sprintf("coopvec: unknown component type %d", int(t)))
	}
	return componentTable[t]
}

// Valid reports whether t is one of the declared component types.
func (t ComponentType) Valid() bool {
	return t >= 0 && t < numComponentTypes
}

// Bits returns the storage width in bits.
func (t ComponentType) Bits() int { return t.info().bits }

// Size returns the storage width in bytes.
func (t ComponentType) Size() int { return t.info().bits / 8 }

func (t ComponentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ComponentType(%d)", int(t))
	}
	return componentTable[t].name
}

// TypeName is the device-side scalar type name.
func (t ComponentType) TypeName() string { return t.info().typeName }

// InterpretationName is the device-side component type constant.
func (t ComponentType) InterpretationName() string { return t.info().interp }

func (t ComponentType) IsFloat() bool { return t.info().float }

// IsSigned is true for signed integers and all floats.
func (t ComponentType) IsSigned() bool { return t.info().signed }

// IsSignedInt is true only for signed integer types.
func (t ComponentType) IsSignedInt() bool {
	i := t.info()
	return i.signed && !i.float
}

func (t ComponentType) IsFP8() bool { return t == FloatE4M3 || t == FloatE5M2 }

func (t ComponentType) IsPacked() bool { return t == SInt8Packed || t == UInt8Packed }

// Unpacked maps a packed type to its per-element scalar type.
func (t ComponentType) Unpacked() ComponentType {
	switch t {
	case SInt8Packed:
		return SInt8
	case UInt8Packed:
		return UInt8
	}
	return t
}

// ComponentTypes returns every declared type in table order.
func ComponentTypes() []ComponentType {
	out := make([]ComponentType, 0, numComponentTypes)
	for t := ComponentType(0); t < numComponentTypes; t++ {
		out = append(out, t)
	}
	return out
}

// ParseComponentType looks a type up by its short name.
func ParseComponentType(name string) (ComponentType, error) {
	for t := ComponentType(0); t < numComponentTypes; t++ {
		if componentTable[t].name == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown component type: %q", name)
}
