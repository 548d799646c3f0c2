package vm

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"unicode/utf16"
)

// registerLangNatives binds the natives behind the bootstrap java.lang
// classes.
func registerLangNatives(r *NativeRegistry) {
	for key, fn := range map[string]NativeFunc{
		"java/lang/Object/hashCode":  objectHashCode,
		"java/lang/Object/equals":    objectEquals,
		"java/lang/Object/toString":  objectToString,
		"java/lang/Object/getClass":  objectGetClass,
		"java/lang/Object/clone":     objectClone,
		"java/lang/Object/wait":      objectWait,
		"java/lang/Object/notify":    objectNotify,
		"java/lang/Object/notifyAll": objectNotify,

		"java/lang/String/<init>":       stringInit,
		"java/lang/String/length":       stringLength,
		"java/lang/String/charAt":       stringCharAt,
		"java/lang/String/isEmpty":      stringIsEmpty,
		"java/lang/String/equals":       stringEquals,
		"java/lang/String/hashCode":     stringHashCode,
		"java/lang/String/toString":     stringToString,
		"java/lang/String/compareTo":    stringCompareTo,
		"java/lang/String/concat":       stringConcat,
		"java/lang/String/substring":    stringSubstring,
		"java/lang/String/indexOf":      stringIndexOf,
		"java/lang/String/contains":     stringContains,
		"java/lang/String/startsWith":   stringStartsWith,
		"java/lang/String/endsWith":     stringEndsWith,
		"java/lang/String/toUpperCase":  stringMap(strings.ToUpper),
		"java/lang/String/toLowerCase":  stringMap(strings.ToLower),
		"java/lang/String/trim":         stringMap(javaTrim),
		"java/lang/String/intern":       stringIntern,
		"java/lang/String/toCharArray":  stringToCharArray,
		"java/lang/String/valueOf":      stringValueOf,

		"java/lang/StringBuilder/<init>":   builderInit,
		"java/lang/StringBuilder/append":   builderAppend,
		"java/lang/StringBuilder/toString": builderToString,
		"java/lang/StringBuilder/length":   builderLength,
		"java/lang/StringBuilder/reverse":  builderReverse,

		"java/lang/Integer/parseInt":       integerParseInt,
		"java/lang/Integer/valueOf":        integerValueOf,
		"java/lang/Integer/toString":       integerToString,
		"java/lang/Integer/toHexString":    integerRadix(16),
		"java/lang/Integer/toBinaryString": integerRadix(2),
		"java/lang/Integer/hashCode":       integerHashCode,
		"java/lang/Integer/equals":         integerEquals,
		"java/lang/Integer/compare":        integerCompare,

		"java/lang/Math/abs":    mathAbs,
		"java/lang/Math/max":    mathMinMax(false),
		"java/lang/Math/min":    mathMinMax(true),
		"java/lang/Math/sqrt":   mathUnary(math.Sqrt),
		"java/lang/Math/floor":  mathUnary(math.Floor),
		"java/lang/Math/ceil":   mathUnary(math.Ceil),
		"java/lang/Math/pow":    mathPow,
		"java/lang/Math/random": mathRandom,

		"java/lang/Class/getName":       classGetName,
		"java/lang/Class/getSimpleName": classGetSimpleName,
		"java/lang/Class/toString":      classToString,
		"java/lang/Class/isInterface":   classIsInterface,
		"java/lang/Class/isArray":       classIsArray,
	} {
		r.Register(key, fn)
	}
	registerSystemNatives(r)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (t *Thread) stringArg(v Value) (string, error) {
	if v.Ref == Null {
		return "", newError(ErrNullPointer, "")
	}
	return t.vm.GoString(v.Ref)
}

func (t *Thread) unitsArg(v Value) ([]uint16, error) {
	if v.Ref == Null {
		return nil, newError(ErrNullPointer, "")
	}
	return t.vm.stringUnits(v.Ref)
}

func (t *Thread) stringResult(s string) (Value, error) {
	ref, err := t.vm.NewString(s)
	return RefValue(ref), err
}

func (t *Thread) unitsResult(units []uint16) (Value, error) {
	ref, err := t.vm.newStringUnits(units)
	return RefValue(ref), err
}

// identityHash spreads heap handles so consecutive objects do not get
// consecutive hash codes.
func identityHash(ref Ref) int32 {
	return int32((uint32(ref) * 0x9e3779b1) >> 1)
}

// ---------------------------------------------------------------------------
// java/lang/Object
// ---------------------------------------------------------------------------

func objectHashCode(t *Thread, m *Method, args []Value) (Value, error) {
	return IntValue(identityHash(args[0].Ref)), nil
}

func objectEquals(t *Thread, m *Method, args []Value) (Value, error) {
	return BoolValue(args[0].Ref == args[1].Ref), nil
}

func objectToString(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	hash := identityHash(args[0].Ref)
	if hc := obj.Klass.FindVirtual("hashCode", "()I"); hc != nil && hc.Owner.Name != "java/lang/Object" {
		v, err := t.Invoke(hc, args[:1])
		if err != nil {
			return Value{}, err
		}
		hash = v.Int()
	}
	return t.stringResult(obj.Klass.JavaName() + "@" + strconv.FormatUint(uint64(uint32(hash)), 16))
}

func objectGetClass(t *Thread, m *Method, args []Value) (Value, error) {
	ref, err := t.vm.Mirror(t.deref(args[0].Ref).Klass)
	return RefValue(ref), err
}

func objectClone(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	var ref Ref
	var err error
	if obj.IsArray() {
		ref, err = t.vm.Heap.AllocateArray(obj.Klass, len(obj.Elements))
	} else {
		ref, err = t.vm.Heap.AllocateInstance(obj.Klass)
	}
	if err != nil {
		return Value{}, err
	}
	dup := t.vm.Heap.Get(ref)
	copy(dup.Elements, obj.Elements)
	copy(dup.Fields, obj.Fields)
	return RefValue(ref), nil
}

func objectWait(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	var millis int64
	if len(args) > 1 {
		if millis = args[1].Long(); millis < 0 {
			return Value{}, t.newThrowable("java/lang/IllegalArgumentException", "timeout value is negative")
		}
	}
	return Value{}, obj.Wait(t, millisDuration(millis))
}

func objectNotify(t *Thread, m *Method, args []Value) (Value, error) {
	return Value{}, t.deref(args[0].Ref).Notify(t, m.Name == "notifyAll")
}

// ---------------------------------------------------------------------------
// java/lang/String
// ---------------------------------------------------------------------------

func stringInit(t *Thread, m *Method, args []Value) (Value, error) {
	var units []uint16
	switch m.Descriptor {
	case "([C)V":
		arr := t.deref(args[1].Ref)
		units = make([]uint16, len(arr.Elements))
		for i, e := range arr.Elements {
			units[i] = uint16(e.Int())
		}
	case "(Ljava/lang/String;)V":
		var err error
		if units, err = t.unitsArg(args[1]); err != nil {
			return Value{}, err
		}
	}
	tmp, err := t.vm.newStringUnits(units)
	if err != nil {
		return Value{}, err
	}
	v, _ := t.vm.Heap.Get(tmp).FieldByName(stringValueField, charArray)
	t.deref(args[0].Ref).SetFieldByName(stringValueField, charArray, v)
	return Value{}, nil
}

func stringLength(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	return IntValue(int32(len(units))), err
}

func stringCharAt(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	i := int(args[1].Int())
	if i < 0 || i >= len(units) {
		return Value{}, t.newThrowable("java/lang/StringIndexOutOfBoundsException",
			"Index "+strconv.Itoa(i)+" out of bounds for length "+strconv.Itoa(len(units)))
	}
	return IntValue(int32(units[i])), nil
}

func stringIsEmpty(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	return BoolValue(len(units) == 0), err
}

func stringEquals(t *Thread, m *Method, args []Value) (Value, error) {
	if args[0].Ref == args[1].Ref {
		return BoolValue(true), nil
	}
	other := t.vm.Heap.Get(args[1].Ref)
	if other == nil || other.Klass.Name != stringClass {
		return BoolValue(false), nil
	}
	a, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	b, err := t.unitsArg(args[1])
	if err != nil {
		return Value{}, err
	}
	return BoolValue(compareUnits(a, b) == 0), nil
}

func stringHashCode(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	var h int32
	for _, u := range units {
		h = 31*h + int32(u)
	}
	return IntValue(h), err
}

func stringToString(t *Thread, m *Method, args []Value) (Value, error) {
	return args[0], nil
}

func compareUnits(a, b []uint16) int32 {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int32(a[i]) - int32(b[i])
		}
	}
	return int32(len(a) - len(b))
}

func stringCompareTo(t *Thread, m *Method, args []Value) (Value, error) {
	a, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	b, err := t.unitsArg(args[1])
	if err != nil {
		return Value{}, err
	}
	return IntValue(compareUnits(a, b)), nil
}

func stringConcat(t *Thread, m *Method, args []Value) (Value, error) {
	a, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	b, err := t.unitsArg(args[1])
	if err != nil {
		return Value{}, err
	}
	if len(b) == 0 {
		return args[0], nil
	}
	return t.unitsResult(append(append([]uint16{}, a...), b...))
}

func stringSubstring(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	begin, end := int(args[1].Int()), len(units)
	if len(args) > 2 {
		end = int(args[2].Int())
	}
	if begin < 0 || end > len(units) || begin > end {
		return Value{}, t.newThrowable("java/lang/StringIndexOutOfBoundsException",
			"begin "+strconv.Itoa(begin)+", end "+strconv.Itoa(end)+", length "+strconv.Itoa(len(units)))
	}
	return t.unitsResult(units[begin:end])
}

func indexUnits(s, sub []uint16) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		match := true
		for j := range sub {
			if s[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func stringIndexOf(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	var sub []uint16
	if m.Descriptor == "(I)I" {
		sub = utf16.Encode([]rune{rune(args[1].Int())})
	} else if sub, err = t.unitsArg(args[1]); err != nil {
		return Value{}, err
	}
	return IntValue(int32(indexUnits(units, sub))), nil
}

func stringContains(t *Thread, m *Method, args []Value) (Value, error) {
	s, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	if args[1].Ref == Null {
		return Value{}, newError(ErrNullPointer, "")
	}
	sub, err := t.stringOf(args[1].Ref)
	if err != nil {
		return Value{}, err
	}
	return BoolValue(indexUnits(s, utf16.Encode([]rune(sub))) >= 0), nil
}

func stringStartsWith(t *Thread, m *Method, args []Value) (Value, error) {
	s, err := t.stringArg(args[0])
	if err != nil {
		return Value{}, err
	}
	prefix, err := t.stringArg(args[1])
	return BoolValue(strings.HasPrefix(s, prefix)), err
}

func stringEndsWith(t *Thread, m *Method, args []Value) (Value, error) {
	s, err := t.stringArg(args[0])
	if err != nil {
		return Value{}, err
	}
	suffix, err := t.stringArg(args[1])
	return BoolValue(strings.HasSuffix(s, suffix)), err
}

func stringMap(fn func(string) string) NativeFunc {
	return func(t *Thread, m *Method, args []Value) (Value, error) {
		s, err := t.stringArg(args[0])
		if err != nil {
			return Value{}, err
		}
		out := fn(s)
		if out == s {
			return args[0], nil
		}
		return t.stringResult(out)
	}
}

// javaTrim strips leading and trailing characters <= U+0020.
func javaTrim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
}

func stringIntern(t *Thread, m *Method, args []Value) (Value, error) {
	s, err := t.stringArg(args[0])
	if err != nil {
		return Value{}, err
	}
	ref, err := t.vm.Intern(s)
	return RefValue(ref), err
}

func stringToCharArray(t *Thread, m *Method, args []Value) (Value, error) {
	units, err := t.unitsArg(args[0])
	if err != nil {
		return Value{}, err
	}
	return t.charArray(units)
}

func (t *Thread) charArray(units []uint16) (Value, error) {
	k, err := t.vm.Loader.PrimitiveArray(TChar)
	if err != nil {
		return Value{}, err
	}
	ref, err := t.vm.Heap.AllocateArray(k, len(units))
	if err != nil {
		return Value{}, err
	}
	elems := t.vm.Heap.Get(ref).Elements
	for i, u := range units {
		elems[i] = IntValue(int32(u))
	}
	return RefValue(ref), nil
}

func charArrayUnits(arr *Oop) []uint16 {
	units := make([]uint16, len(arr.Elements))
	for i, e := range arr.Elements {
		units[i] = uint16(e.Int())
	}
	return units
}

func stringValueOf(t *Thread, m *Method, args []Value) (Value, error) {
	mt, err := m.Resolve()
	if err != nil {
		return Value{}, err
	}
	if mt.Params[0].Descriptor() == charArray {
		return t.unitsResult(charArrayUnits(t.deref(args[0].Ref)))
	}
	s, err := t.formatArg(args[0], mt.Params[0])
	if err != nil {
		return Value{}, err
	}
	return t.stringResult(s)
}

// ---------------------------------------------------------------------------
// java/lang/StringBuilder
// ---------------------------------------------------------------------------

// stringBuffer is the native state of a StringBuilder.
type stringBuffer struct {
	units []uint16
}

func (t *Thread) buffer(ref Ref) *stringBuffer {
	obj := t.deref(ref)
	buf, ok := obj.Native.(*stringBuffer)
	if !ok {
		buf = &stringBuffer{}
		obj.Native = buf
	}
	return buf
}

func builderInit(t *Thread, m *Method, args []Value) (Value, error) {
	buf := t.buffer(args[0].Ref)
	if m.Descriptor == "(Ljava/lang/String;)V" {
		units, err := t.unitsArg(args[1])
		if err != nil {
			return Value{}, err
		}
		buf.units = append(buf.units[:0], units...)
	}
	return Value{}, nil
}

func builderAppend(t *Thread, m *Method, args []Value) (Value, error) {
	mt, err := m.Resolve()
	if err != nil {
		return Value{}, err
	}
	buf := t.buffer(args[0].Ref)
	switch typ := mt.Params[0]; {
	case typ.Base == TChar:
		buf.units = append(buf.units, uint16(args[1].Int()))
	case typ.Descriptor() == charArray:
		buf.units = append(buf.units, charArrayUnits(t.deref(args[1].Ref))...)
	default:
		s, err := t.formatArg(args[1], typ)
		if err != nil {
			return Value{}, err
		}
		buf.units = append(buf.units, utf16.Encode([]rune(s))...)
	}
	return args[0], nil
}

func builderToString(t *Thread, m *Method, args []Value) (Value, error) {
	return t.unitsResult(t.buffer(args[0].Ref).units)
}

func builderLength(t *Thread, m *Method, args []Value) (Value, error) {
	return IntValue(int32(len(t.buffer(args[0].Ref).units))), nil
}

func builderReverse(t *Thread, m *Method, args []Value) (Value, error) {
	buf := t.buffer(args[0].Ref)
	runes := []rune(string(utf16.Decode(buf.units)))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	buf.units = utf16.Encode(runes)
	return args[0], nil
}

// ---------------------------------------------------------------------------
// java/lang/Integer
// ---------------------------------------------------------------------------

func (t *Thread) boxInteger(v int32) (Value, error) {
	k, err := t.vm.Loader.Load("java/lang/Integer")
	if err != nil {
		return Value{}, err
	}
	if err := t.vm.Loader.Initialize(t, k); err != nil {
		return Value{}, err
	}
	ref, err := t.vm.Heap.AllocateInstance(k)
	if err != nil {
		return Value{}, err
	}
	t.vm.Heap.Get(ref).SetFieldByName("value", "I", IntValue(v))
	return RefValue(ref), nil
}

func (t *Thread) unboxInteger(ref Ref) int32 {
	v, _ := t.deref(ref).FieldByName("value", "I")
	return v.Int()
}

func (t *Thread) parseInt(v Value, radix int) (int32, error) {
	if v.Ref == Null {
		return 0, t.newThrowable("java/lang/NumberFormatException", "Cannot parse null string: null")
	}
	s, err := t.vm.GoString(v.Ref)
	if err != nil {
		return 0, err
	}
	n, perr := strconv.ParseInt(s, radix, 32)
	if perr != nil {
		return 0, t.newThrowable("java/lang/NumberFormatException", "For input string: \""+s+"\"")
	}
	return int32(n), nil
}

func integerParseInt(t *Thread, m *Method, args []Value) (Value, error) {
	radix := 10
	if len(args) > 1 {
		radix = int(args[1].Int())
	}
	n, err := t.parseInt(args[0], radix)
	return IntValue(n), err
}

func integerValueOf(t *Thread, m *Method, args []Value) (Value, error) {
	if m.Descriptor == "(I)Ljava/lang/Integer;" {
		return t.boxInteger(args[0].Int())
	}
	n, err := t.parseInt(args[0], 10)
	if err != nil {
		return Value{}, err
	}
	return t.boxInteger(n)
}

func integerToString(t *Thread, m *Method, args []Value) (Value, error) {
	var n int32
	if m.IsStatic() {
		n = args[0].Int()
	} else {
		n = t.unboxInteger(args[0].Ref)
	}
	return t.stringResult(strconv.Itoa(int(n)))
}

func integerRadix(radix int) NativeFunc {
	return func(t *Thread, m *Method, args []Value) (Value, error) {
		return t.stringResult(strconv.FormatUint(uint64(uint32(args[0].Int())), radix))
	}
}

func integerHashCode(t *Thread, m *Method, args []Value) (Value, error) {
	return IntValue(t.unboxInteger(args[0].Ref)), nil
}

func integerEquals(t *Thread, m *Method, args []Value) (Value, error) {
	other := t.vm.Heap.Get(args[1].Ref)
	if other == nil || other.Klass.Name != "java/lang/Integer" {
		return BoolValue(false), nil
	}
	return BoolValue(t.unboxInteger(args[0].Ref) == t.unboxInteger(args[1].Ref)), nil
}

func integerCompare(t *Thread, m *Method, args []Value) (Value, error) {
	a, b := args[0].Int(), args[1].Int()
	return IntValue(compare(a < b, a > b)), nil
}

// ---------------------------------------------------------------------------
// java/lang/Math
// ---------------------------------------------------------------------------

func mathAbs(t *Thread, m *Method, args []Value) (Value, error) {
	switch m.Descriptor {
	case "(I)I":
		if v := args[0].Int(); v < 0 {
			return IntValue(-v), nil
		}
	case "(J)J":
		if v := args[0].Long(); v < 0 {
			return LongValue(-v), nil
		}
	case "(F)F":
		return FloatValue(float32(math.Abs(float64(args[0].Float())))), nil
	case "(D)D":
		return DoubleValue(math.Abs(args[0].Double())), nil
	}
	return args[0], nil
}

func mathMinMax(min bool) NativeFunc {
	return func(t *Thread, m *Method, args []Value) (Value, error) {
		a, b := args[0], args[1]
		var less bool
		switch m.Descriptor {
		case "(II)I":
			less = a.Int() < b.Int()
		case "(JJ)J":
			less = a.Long() < b.Long()
		case "(FF)F":
			return FloatValue(float32(minMax(min, float64(a.Float()), float64(b.Float())))), nil
		case "(DD)D":
			return DoubleValue(minMax(min, a.Double(), b.Double())), nil
		}
		if less == min {
			return a, nil
		}
		return b, nil
	}
}

func minMax(min bool, a, b float64) float64 {
	if min {
		return math.Min(a, b)
	}
	return math.Max(a, b)
}

func mathUnary(fn func(float64) float64) NativeFunc {
	return func(t *Thread, m *Method, args []Value) (Value, error) {
		return DoubleValue(fn(args[0].Double())), nil
	}
}

func mathPow(t *Thread, m *Method, args []Value) (Value, error) {
	return DoubleValue(math.Pow(args[0].Double(), args[1].Double())), nil
}

func mathRandom(t *Thread, m *Method, args []Value) (Value, error) {
	return DoubleValue(rand.Float64()), nil
}

// ---------------------------------------------------------------------------
// java/lang/Class
// ---------------------------------------------------------------------------

func (t *Thread) mirrorArg(v Value) *Klass {
	t.deref(v.Ref)
	k := t.vm.klassOfMirror(v.Ref)
	if k == nil {
		panic(verifyFault("Class object without a class"))
	}
	return k
}

func classGetName(t *Thread, m *Method, args []Value) (Value, error) {
	return t.stringResult(t.mirrorArg(args[0]).JavaName())
}

var primitiveNames = map[BaseType]string{
	TBoolean: "boolean",
	TByte:    "byte",
	TChar:    "char",
	TShort:   "short",
	TInt:     "int",
	TLong:    "long",
	TFloat:   "float",
	TDouble:  "double",
}

func simpleName(k *Klass) string {
	if k.IsArray() {
		if elem := k.ElementKlass(); elem != nil {
			return simpleName(elem) + "[]"
		}
		return primitiveNames[k.Elem] + "[]"
	}
	name := k.Name
	if i := strings.LastIndexAny(name, "/$"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func classGetSimpleName(t *Thread, m *Method, args []Value) (Value, error) {
	return t.stringResult(simpleName(t.mirrorArg(args[0])))
}

func classToString(t *Thread, m *Method, args []Value) (Value, error) {
	k := t.mirrorArg(args[0])
	prefix := "class "
	if k.IsInterface() {
		prefix = "interface "
	}
	return t.stringResult(prefix + k.JavaName())
}

func classIsInterface(t *Thread, m *Method, args []Value) (Value, error) {
	return BoolValue(t.mirrorArg(args[0]).IsInterface()), nil
}

func classIsArray(t *Thread, m *Method, args []Value) (Value, error) {
	return BoolValue(t.mirrorArg(args[0]).IsArray()), nil
}
