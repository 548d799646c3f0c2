package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Value: a typed JVM value
// ---------------------------------------------------------------------------

// ValueKind tags the contents of a Value.
type ValueKind uint8

const (
	ValUninitialized ValueKind = iota
	ValInt                     // also boolean, byte, char and short
	ValLong
	ValFloat
	ValDouble
	ValRef
	ValReturnAddress
)

var valueKindNames = [...]string{
	ValUninitialized: "uninitialized",
	ValInt:           "int",
	ValLong:          "long",
	ValFloat:         "float",
	ValDouble:        "double",
	ValRef:           "reference",
	ValReturnAddress: "returnAddress",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Ref is a handle into the heap arena. The zero Ref is null.
type Ref uint32

// Null is the null reference.
const Null Ref = 0

// Value holds any JVM value. Numeric payloads live in Bits (32-bit kinds use
// the low word); references live in Ref.
type Value struct {
	Kind ValueKind
	Bits uint64
	Ref  Ref
}

// IntValue creates an int value.
func IntValue(v int32) Value {
	return Value{Kind: ValInt, Bits: uint64(uint32(v))}
}

// BoolValue creates the int encoding of a boolean.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// LongValue creates a long value.
func LongValue(v int64) Value {
	return Value{Kind: ValLong, Bits: uint64(v)}
}

// FloatValue creates a float value.
func FloatValue(v float32) Value {
	return Value{Kind: ValFloat, Bits: uint64(math.Float32bits(v))}
}

// DoubleValue creates a double value.
func DoubleValue(v float64) Value {
	return Value{Kind: ValDouble, Bits: math.Float64bits(v)}
}

// RefValue creates a reference value.
func RefValue(r Ref) Value {
	return Value{Kind: ValRef, Ref: r}
}

// ReturnAddress creates a jsr return address.
func ReturnAddress(pc int) Value {
	return Value{Kind: ValReturnAddress, Bits: uint64(pc)}
}

func (v Value) Int() int32 { return int32(uint32(v.Bits)) }
func (v Value) Long() int64 { return int64(v.Bits) }
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) Double() float64 { return math.Float64frombits(v.Bits) }
func (v Value) Bool() bool { return v.Int() != 0 }
func (v Value) IsNull() bool { return v.Kind == ValRef && v.Ref == Null }
func (v Value) Wide() bool { return v.Kind == ValLong || v.Kind == ValDouble }
func (v Value) ReturnPC() int { return int(v.Bits) }
func (v Value) IsReference() bool { return v.Kind == ValRef }

// Halves splits a long or double into its high and low 32-bit words.
func (v Value) Halves() (hi, lo int32) {
	return int32(uint32(v.Bits >> 32)), int32(uint32(v.Bits))
}

// FromHalves rebuilds a long or double from its two words.
func FromHalves(kind ValueKind, hi, lo int32) Value {
	return Value{Kind: kind, Bits: uint64(uint32(hi))<<32 | uint64(uint32(lo))}
}

func (v Value) String() string {
	switch v.Kind {
	case ValInt:
		return fmt.Sprintf("%d", v.Int())
	case ValLong:
		return fmt.Sprintf("%dL", v.Long())
	case ValFloat:
		return fmt.Sprintf("%gf", v.Float())
	case ValDouble:
		return fmt.Sprintf("%g", v.Double())
	case ValRef:
		if v.Ref == Null {
			return "null"
		}
		return fmt.Sprintf("@%d", v.Ref)
	case ValReturnAddress:
		return fmt.Sprintf("ret(%d)", v.ReturnPC())
	default:
		return "<uninitialized>"
	}
}
