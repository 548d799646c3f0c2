package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Type descriptors
// ---------------------------------------------------------------------------

// BaseType is the leading character of a field descriptor.
type BaseType byte

const (
	TByte      BaseType = 'B'
	TChar      BaseType = 'C'
	TDouble    BaseType = 'D'
	TFloat     BaseType = 'F'
	TInt       BaseType = 'I'
	TLong      BaseType = 'J'
	TShort     BaseType = 'S'
	TBoolean   BaseType = 'Z'
	TVoid      BaseType = 'V'
	TReference BaseType = 'L'
	TArray     BaseType = '['
)

// IsPrimitive reports whether b names a primitive (non-void) type.
func (b BaseType) IsPrimitive() bool {
	switch b {
	case TByte, TChar, TDouble, TFloat, TInt, TLong, TShort, TBoolean:
		return true
	}
	return false
}

// ValueType is a parsed field type.
type ValueType struct {
	Base      BaseType
	ClassName string     // TReference only
	Elem      *ValueType // TArray only
}

// Descriptor renders the type back to descriptor form.
func (t ValueType) Descriptor() string {
	switch t.Base {
	case TReference:
		return "L" + t.ClassName + ";"
	case TArray:
		return "[" + t.Elem.Descriptor()
	default:
		return string(rune(t.Base))
	}
}

// Slots is the number of 32-bit stack or local slots the type occupies.
func (t ValueType) Slots() int {
	switch t.Base {
	case TLong, TDouble:
		return 2
	case TVoid:
		return 0
	}
	return 1
}

// IsReference reports whether values of the type are heap references.
func (t ValueType) IsReference() bool {
	return t.Base == TReference || t.Base == TArray
}

// Kind returns the Value kind used to hold the type.
func (t ValueType) Kind() ValueKind {
	switch t.Base {
	case TLong:
		return ValLong
	case TFloat:
		return ValFloat
	case TDouble:
		return ValDouble
	case TReference, TArray:
		return ValRef
	case TVoid:
		return ValUninitialized
	}
	return ValInt
}

// Zero returns the default value of the type.
func (t ValueType) Zero() Value {
	return zeroValue(t.Base)
}

func zeroValue(b BaseType) Value {
	switch b {
	case TLong:
		return LongValue(0)
	case TFloat:
		return FloatValue(0)
	case TDouble:
		return DoubleValue(0)
	case TReference, TArray:
		return RefValue(Null)
	}
	return IntValue(0)
}

// Dimensions counts the leading array brackets.
func (t ValueType) Dimensions() int {
	n := 0
	for cur := t; cur.Base == TArray; cur = *cur.Elem {
		n++
	}
	return n
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []ValueType
	Return ValueType
}

// ArgSlots is the number of local slots the parameters occupy, excluding
// the receiver.
func (m MethodType) ArgSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Slots()
	}
	return n
}

func descriptorError(desc string, format string, args ...any) *Error {
	e := newError(ErrClassFormat, format, args...)
	e.Msg = "descriptor " + desc + ": " + e.Msg
	return e
}

// parseType consumes one field type from s starting at i and returns the
// index following it.
func parseType(s string, i int, allowVoid bool) (ValueType, int, *Error) {
	if i >= len(s) {
		return ValueType{}, i, descriptorError(s, "unexpected end")
	}
	switch b := BaseType(s[i]); b {
	case TByte, TChar, TDouble, TFloat, TInt, TLong, TShort, TBoolean:
		return ValueType{Base: b}, i + 1, nil
	case TVoid:
		if !allowVoid {
			return ValueType{}, i, descriptorError(s, "void is only valid as a return type")
		}
		return ValueType{Base: b}, i + 1, nil
	case TReference:
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return ValueType{}, i, descriptorError(s, "unterminated class name at %d", i)
		}
		return ValueType{Base: b, ClassName: s[i+1 : i+end]}, i + end + 1, nil
	case TArray:
		elem, next, err := parseType(s, i+1, false)
		if err != nil {
			return ValueType{}, i, err
		}
		return ValueType{Base: b, Elem: &elem}, next, nil
	default:
		return ValueType{}, i, descriptorError(s, "unexpected %q at %d", s[i], i)
	}
}

// ParseFieldDescriptor parses a single field type such as "I",
// "Ljava/lang/String;" or "[[J".
func ParseFieldDescriptor(s string) (ValueType, error) {
	t, next, err := parseType(s, 0, false)
	if err != nil {
		return ValueType{}, err
	}
	if next != len(s) {
		return ValueType{}, descriptorError(s, "trailing characters")
	}
	return t, nil
}

// ParseMethodDescriptor parses "(<params>)<return>" in one left-to-right pass.
func ParseMethodDescriptor(s string) (MethodType, error) {
	if len(s) == 0 || s[0] != '(' {
		return MethodType{}, descriptorError(s, "missing '('")
	}
	var mt MethodType
	i := 1
	for i < len(s) && s[i] != ')' {
		p, next, err := parseType(s, i, false)
		if err != nil {
			return MethodType{}, err
		}
		mt.Params = append(mt.Params, p)
		i = next
	}
	if i >= len(s) {
		return MethodType{}, descriptorError(s, "missing ')'")
	}
	ret, next, err := parseType(s, i+1, true)
	if err != nil {
		return MethodType{}, err
	}
	if next != len(s) {
		return MethodType{}, descriptorError(s, "trailing characters")
	}
	mt.Return = ret
	return mt, nil
}

// ClassDescriptor returns the field descriptor for a class or array name as
// it appears in a Class constant ("java/lang/String" or "[I").
func ClassDescriptor(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// newarray type codes.
const (
	atBoolean = 4
	atChar    = 5
	atFloat   = 6
	atDouble  = 7
	atByte    = 8
	atShort   = 9
	atInt     = 10
	atLong    = 11
)

var arrayTypeCodes = map[byte]BaseType{
	atBoolean: TBoolean,
	atChar:    TChar,
	atFloat:   TFloat,
	atDouble:  TDouble,
	atByte:    TByte,
	atShort:   TShort,
	atInt:     TInt,
	atLong:    TLong,
}
