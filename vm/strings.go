package vm

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// java/lang/String
// ---------------------------------------------------------------------------

const (
	stringClass      = "java/lang/String"
	stringValueField = "value"
	charArray        = "[C"
)

// StringTable interns string literals: equal literals share one object.
type StringTable struct {
	mu       sync.Mutex
	interned map[string]Ref
}

// NewStringTable creates an empty intern table.
func NewStringTable() *StringTable {
	return &StringTable{interned: make(map[string]Ref)}
}

// Len returns the number of interned strings.
func (st *StringTable) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.interned)
}

// NewString allocates a fresh java/lang/String holding s.
func (vm *VM) NewString(s string) (Ref, error) {
	return vm.newStringUnits(utf16.Encode([]rune(s)))
}

func (vm *VM) newStringUnits(units []uint16) (Ref, error) {
	strKlass, err := vm.Loader.Load(stringClass)
	if err != nil {
		return Null, err
	}
	arrKlass, err := vm.Loader.PrimitiveArray(TChar)
	if err != nil {
		return Null, err
	}
	arr, err := vm.Heap.AllocateArray(arrKlass, len(units))
	if err != nil {
		return Null, err
	}
	elems := vm.Heap.Get(arr).Elements
	for i, u := range units {
		elems[i] = IntValue(int32(u))
	}
	ref, err := vm.Heap.AllocateInstance(strKlass)
	if err != nil {
		return Null, err
	}
	vm.Heap.Get(ref).SetFieldByName(stringValueField, charArray, RefValue(arr))
	return ref, nil
}

// Intern returns the canonical String object for s.
func (vm *VM) Intern(s string) (Ref, error) {
	st := vm.strings
	st.mu.Lock()
	defer st.mu.Unlock()
	if ref, ok := st.interned[s]; ok {
		return ref, nil
	}
	ref, err := vm.NewString(s)
	if err != nil {
		return Null, err
	}
	st.interned[s] = ref
	return ref, nil
}

// stringConstant resolves a String pool entry to its interned object.
func (vm *VM) stringConstant(pool *ConstantPool, idx uint16) (Ref, error) {
	if v, ok := pool.cached(idx); ok {
		return v.(Ref), nil
	}
	s, err := pool.ResolveString(idx)
	if err != nil {
		return Null, err
	}
	ref, err := vm.Intern(s)
	if err != nil {
		return Null, err
	}
	pool.store(idx, ref)
	return ref, nil
}

// stringUnits returns the UTF-16 code units of a String object.
func (vm *VM) stringUnits(ref Ref) ([]uint16, error) {
	obj := vm.Heap.Get(ref)
	if obj == nil {
		return nil, newError(ErrNullPointer, "string is null")
	}
	if obj.Klass.Name != stringClass {
		return nil, newError(ErrClassCast, "class %s cannot be cast to class java.lang.String", obj.Klass.JavaName())
	}
	v, _ := obj.FieldByName(stringValueField, charArray)
	arr := vm.Heap.Get(v.Ref)
	if arr == nil {
		return nil, nil
	}
	units := make([]uint16, len(arr.Elements))
	for i, e := range arr.Elements {
		units[i] = uint16(e.Int())
	}
	return units, nil
}

// GoString converts a String object to a Go string.
func (vm *VM) GoString(ref Ref) (string, error) {
	units, err := vm.stringUnits(ref)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// stringOf renders ref as String.valueOf(Object) would: "null", the text of
// a String, or the result of its toString().
func (t *Thread) stringOf(ref Ref) (string, error) {
	if ref == Null {
		return "null", nil
	}
	obj := t.deref(ref)
	if obj.Klass.Name == stringClass {
		return t.vm.GoString(ref)
	}
	m := obj.Klass.FindVirtual("toString", "()Ljava/lang/String;")
	if m == nil {
		return "", newError(ErrAbstractMethod, "%s.toString()", obj.Klass.JavaName())
	}
	v, err := t.Invoke(m, []Value{RefValue(ref)})
	if err != nil {
		return "", err
	}
	if v.Ref == Null {
		return "null", nil
	}
	return t.vm.GoString(v.Ref)
}

// ---------------------------------------------------------------------------
// Number formatting
// ---------------------------------------------------------------------------

// javaDouble formats v like Double.toString.
func javaDouble(v float64) string {
	return formatJavaFloat(v, 64)
}

// javaFloat formats v like Float.toString.
func javaFloat(v float32) string {
	return formatJavaFloat(float64(v), 32)
}

func formatJavaFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}

	if abs := math.Abs(v); abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(v, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	s := strconv.FormatFloat(v, 'e', -1, bits)
	mant, exp, _ := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(n)
}
