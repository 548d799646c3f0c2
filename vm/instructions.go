package vm

import (
	"math"

	"github.com/chazu/espresso/classfile"
)

// exec executes a single decoded instruction. f.opPC holds its address and
// the reader is positioned at its first operand.
func (t *Thread) exec(f *Frame, op Opcode) error {
	s, l, r := f.Stack, f.Locals, f.reader

	switch op {
	// -----------------------------------------------------------------------
	// Constants
	// -----------------------------------------------------------------------
	case OpNop:
	case OpAconstNull:
		s.PushRef(Null)
	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		s.PushInt(int32(op) - int32(OpIconst0))
	case OpLconst0, OpLconst1:
		s.PushLong(int64(op - OpLconst0))
	case OpFconst0, OpFconst1, OpFconst2:
		s.PushFloat(float32(op - OpFconst0))
	case OpDconst0, OpDconst1:
		s.PushDouble(float64(op - OpDconst0))
	case OpBipush:
		s.PushInt(int32(r.ReadInt8()))
	case OpSipush:
		s.PushInt(int32(r.ReadInt16()))
	case OpLdc:
		return t.ldc(f, uint16(r.ReadByte()))
	case OpLdcW:
		return t.ldc(f, r.ReadUint16())
	case OpLdc2W:
		n, err := f.Klass.Pool.ResolveNumeric(r.ReadUint16())
		if err != nil {
			return err
		}
		if n.Tag != classfile.TagLong && n.Tag != classfile.TagDouble {
			return verifyFault("ldc2_w of %v constant", n.Tag)
		}
		s.Push(n.Value())

	// -----------------------------------------------------------------------
	// Loads and stores
	// -----------------------------------------------------------------------
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		t.load(f, loadKinds[op-OpIload], int(r.ReadByte()))
	case OpIload0, OpIload1, OpIload2, OpIload3:
		t.load(f, ValInt, int(op-OpIload0))
	case OpLload0, OpLload1, OpLload2, OpLload3:
		t.load(f, ValLong, int(op-OpLload0))
	case OpFload0, OpFload1, OpFload2, OpFload3:
		t.load(f, ValFloat, int(op-OpFload0))
	case OpDload0, OpDload1, OpDload2, OpDload3:
		t.load(f, ValDouble, int(op-OpDload0))
	case OpAload0, OpAload1, OpAload2, OpAload3:
		t.load(f, ValRef, int(op-OpAload0))

	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		t.store(f, loadKinds[op-OpIstore], int(r.ReadByte()))
	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		t.store(f, ValInt, int(op-OpIstore0))
	case OpLstore0, OpLstore1, OpLstore2, OpLstore3:
		t.store(f, ValLong, int(op-OpLstore0))
	case OpFstore0, OpFstore1, OpFstore2, OpFstore3:
		t.store(f, ValFloat, int(op-OpFstore0))
	case OpDstore0, OpDstore1, OpDstore2, OpDstore3:
		t.store(f, ValDouble, int(op-OpDstore0))
	case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
		t.store(f, ValRef, int(op-OpAstore0))

	case OpIinc:
		idx, delta := int(r.ReadByte()), int32(r.ReadInt8())
		l.SetInt(idx, l.GetInt(idx)+delta)

	case OpWide:
		return t.wide(f)

	// -----------------------------------------------------------------------
	// Arrays
	// -----------------------------------------------------------------------
	case OpIaload, OpBaload, OpCaload, OpSaload:
		arr, i := t.arrayElement(s)
		s.PushInt(arr.Elements[i].Int())
	case OpLaload:
		arr, i := t.arrayElement(s)
		s.PushLong(arr.Elements[i].Long())
	case OpFaload:
		arr, i := t.arrayElement(s)
		s.PushFloat(arr.Elements[i].Float())
	case OpDaload:
		arr, i := t.arrayElement(s)
		s.PushDouble(arr.Elements[i].Double())
	case OpAaload:
		arr, i := t.arrayElement(s)
		s.PushRef(arr.Elements[i].Ref)

	case OpIastore:
		v := s.PopInt()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = IntValue(v)
	case OpBastore:
		v := s.PopInt()
		arr, i := t.arrayElement(s)
		if arr.Klass.Elem == TBoolean {
			arr.Elements[i] = IntValue(v & 1)
		} else {
			arr.Elements[i] = IntValue(int32(int8(v)))
		}
	case OpCastore:
		v := s.PopInt()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = IntValue(int32(uint16(v)))
	case OpSastore:
		v := s.PopInt()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = IntValue(int32(int16(v)))
	case OpLastore:
		v := s.PopLong()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = LongValue(v)
	case OpFastore:
		v := s.PopFloat()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = FloatValue(v)
	case OpDastore:
		v := s.PopDouble()
		arr, i := t.arrayElement(s)
		arr.Elements[i] = DoubleValue(v)
	case OpAastore:
		v := s.PopRef()
		arr, i := t.arrayElement(s)
		if v != Null {
			elem := t.deref(v)
			if want := arr.Klass.ElementKlass(); want != nil && !elem.Klass.IsAssignableTo(want) {
				return newError(ErrArrayStore, "%s", elem.Klass.JavaName())
			}
		}
		arr.Elements[i] = RefValue(v)

	// -----------------------------------------------------------------------
	// Stack
	// -----------------------------------------------------------------------
	case OpPop:
		s.popSlot()
	case OpPop2:
		s.popSlots(2)
	case OpDup:
		v := s.popSlot()
		s.pushSlots(v, v)
	case OpDupX1:
		v := s.popSlots(2)
		s.pushSlots(v[1], v[0], v[1])
	case OpDupX2:
		v := s.popSlots(3)
		s.pushSlots(v[2], v[0], v[1], v[2])
	case OpDup2:
		v := s.popSlots(2)
		s.pushSlots(v[0], v[1], v[0], v[1])
	case OpDup2X1:
		v := s.popSlots(3)
		s.pushSlots(v[1], v[2], v[0], v[1], v[2])
	case OpDup2X2:
		v := s.popSlots(4)
		s.pushSlots(v[2], v[3], v[0], v[1], v[2], v[3])
	case OpSwap:
		v := s.popSlots(2)
		s.pushSlots(v[1], v[0])

	// -----------------------------------------------------------------------
	// Math
	// -----------------------------------------------------------------------
	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIand, OpIor, OpIxor, OpIshl, OpIshr, OpIushr:
		b, a := s.PopInt(), s.PopInt()
		v, err := intOp(op, a, b)
		if err != nil {
			return err
		}
		s.PushInt(v)
	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLand, OpLor, OpLxor:
		b, a := s.PopLong(), s.PopLong()
		v, err := longOp(op, a, b)
		if err != nil {
			return err
		}
		s.PushLong(v)
	case OpLshl, OpLshr, OpLushr:
		n := s.PopInt() & 0x3f
		a := s.PopLong()
		switch op {
		case OpLshl:
			s.PushLong(a << n)
		case OpLshr:
			s.PushLong(a >> n)
		default:
			s.PushLong(int64(uint64(a) >> n))
		}
	case OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem:
		b, a := s.PopFloat(), s.PopFloat()
		s.PushFloat(float32(floatOp(op-OpFadd+OpDadd, float64(a), float64(b))))
	case OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem:
		b, a := s.PopDouble(), s.PopDouble()
		s.PushDouble(floatOp(op, a, b))
	case OpIneg:
		s.PushInt(-s.PopInt())
	case OpLneg:
		s.PushLong(-s.PopLong())
	case OpFneg:
		s.PushFloat(-s.PopFloat())
	case OpDneg:
		s.PushDouble(-s.PopDouble())

	// -----------------------------------------------------------------------
	// Conversions
	// -----------------------------------------------------------------------
	case OpI2l:
		s.PushLong(int64(s.PopInt()))
	case OpI2f:
		s.PushFloat(float32(s.PopInt()))
	case OpI2d:
		s.PushDouble(float64(s.PopInt()))
	case OpL2i:
		s.PushInt(int32(s.PopLong()))
	case OpL2f:
		s.PushFloat(float32(s.PopLong()))
	case OpL2d:
		s.PushDouble(float64(s.PopLong()))
	case OpF2i:
		s.PushInt(f2i(float64(s.PopFloat())))
	case OpF2l:
		s.PushLong(f2l(float64(s.PopFloat())))
	case OpF2d:
		s.PushDouble(float64(s.PopFloat()))
	case OpD2i:
		s.PushInt(f2i(s.PopDouble()))
	case OpD2l:
		s.PushLong(f2l(s.PopDouble()))
	case OpD2f:
		s.PushFloat(float32(s.PopDouble()))
	case OpI2b:
		s.PushInt(int32(int8(s.PopInt())))
	case OpI2c:
		s.PushInt(int32(uint16(s.PopInt())))
	case OpI2s:
		s.PushInt(int32(int16(s.PopInt())))

	// -----------------------------------------------------------------------
	// Comparisons
	// -----------------------------------------------------------------------
	case OpLcmp:
		b, a := s.PopLong(), s.PopLong()
		s.PushInt(compare(a < b, a > b))
	case OpFcmpl, OpFcmpg:
		b, a := s.PopFloat(), s.PopFloat()
		s.PushInt(fcmp(float64(a), float64(b), op == OpFcmpg))
	case OpDcmpl, OpDcmpg:
		b, a := s.PopDouble(), s.PopDouble()
		s.PushInt(fcmp(a, b, op == OpDcmpg))

	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
		off := int(r.ReadInt16())
		if intCond(op-OpIfeq, s.PopInt(), 0) {
			f.branch(off)
		}
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		off := int(r.ReadInt16())
		b, a := s.PopInt(), s.PopInt()
		if intCond(op-OpIfIcmpeq, a, b) {
			f.branch(off)
		}
	case OpIfAcmpeq, OpIfAcmpne:
		off := int(r.ReadInt16())
		b, a := s.PopRef(), s.PopRef()
		if (a == b) == (op == OpIfAcmpeq) {
			f.branch(off)
		}
	case OpIfnull, OpIfnonnull:
		off := int(r.ReadInt16())
		if (s.PopRef() == Null) == (op == OpIfnull) {
			f.branch(off)
		}

	// -----------------------------------------------------------------------
	// Control
	// -----------------------------------------------------------------------
	case OpGoto:
		f.branch(int(r.ReadInt16()))
	case OpGotoW:
		f.branch(int(r.ReadInt32()))
	case OpJsr:
		off := int(r.ReadInt16())
		s.PushReturnAddress(f.PC())
		f.branch(off)
	case OpJsrW:
		off := int(r.ReadInt32())
		s.PushReturnAddress(f.PC())
		f.branch(off)
	case OpRet:
		f.SetPC(l.GetReturnAddress(int(r.ReadByte())))
	case OpTableswitch:
		sw := r.ReadTableSwitch()
		f.branch(int(sw.Target(s.PopInt())))
	case OpLookupswitch:
		sw := r.ReadLookupSwitch()
		f.branch(int(sw.Target(s.PopInt())))

	case OpIreturn:
		f.returnValue(IntValue(s.PopInt()))
	case OpLreturn:
		f.returnValue(LongValue(s.PopLong()))
	case OpFreturn:
		f.returnValue(FloatValue(s.PopFloat()))
	case OpDreturn:
		f.returnValue(DoubleValue(s.PopDouble()))
	case OpAreturn:
		f.returnValue(RefValue(s.PopRef()))
	case OpReturn:
		f.returnValue(Value{})

	// -----------------------------------------------------------------------
	// References
	// -----------------------------------------------------------------------
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		return t.fieldAccess(f, op, r.ReadUint16())

	case OpInvokevirtual:
		return t.invokeVirtual(f, r.ReadUint16())
	case OpInvokespecial:
		return t.invokeSpecial(f, r.ReadUint16())
	case OpInvokestatic:
		return t.invokeStatic(f, r.ReadUint16())
	case OpInvokeinterface:
		idx := r.ReadUint16()
		r.Skip(2) // count, 0
		return t.invokeVirtual(f, idx)
	case OpInvokedynamic:
		idx := r.ReadUint16()
		r.Skip(2)
		return t.invokeDynamic(f, idx)

	case OpNew:
		return t.newInstance(f, r.ReadUint16())
	case OpNewarray:
		code := r.ReadByte()
		base, ok := arrayTypeCodes[code]
		if !ok {
			return verifyFault("newarray type %d", code)
		}
		k, err := t.vm.Loader.PrimitiveArray(base)
		if err != nil {
			return err
		}
		return t.newArray(s, k)
	case OpAnewarray:
		comp, err := t.classRef(f, r.ReadUint16())
		if err != nil {
			return err
		}
		k, err := t.vm.Loader.ArrayOf(comp)
		if err != nil {
			return err
		}
		return t.newArray(s, k)
	case OpMultianewarray:
		idx, dims := r.ReadUint16(), int(r.ReadByte())
		k, err := t.classRef(f, idx)
		if err != nil {
			return err
		}
		if dims < 1 || dims > k.Dimension {
			return verifyFault("multianewarray of %d dimensions for %s", dims, k.Name)
		}
		counts := make([]int, dims)
		for i := dims - 1; i >= 0; i-- {
			counts[i] = int(s.PopInt())
		}
		for _, n := range counts {
			if n < 0 {
				return newError(ErrNegativeArraySize, "%d", n)
			}
		}
		ref, err := t.newMultiArray(k, counts)
		if err != nil {
			return err
		}
		s.PushRef(ref)
	case OpArraylength:
		s.PushInt(int32(t.deref(s.PopRef()).Length()))

	case OpAthrow:
		ref := s.PopRef()
		t.deref(ref)
		return t.vm.throwable(ref)

	case OpCheckcast:
		k, err := t.classRef(f, r.ReadUint16())
		if err != nil {
			return err
		}
		if ref := s.PeekRef(0); ref != Null {
			if obj := t.deref(ref); !obj.Klass.IsAssignableTo(k) {
				return newError(ErrClassCast, "class %s cannot be cast to class %s", obj.Klass.JavaName(), k.JavaName())
			}
		}
	case OpInstanceof:
		k, err := t.classRef(f, r.ReadUint16())
		if err != nil {
			return err
		}
		ref := s.PopRef()
		s.PushInt(boolInt(ref != Null && t.deref(ref).Klass.IsAssignableTo(k)))

	case OpMonitorenter:
		t.deref(s.PopRef()).Enter(t)
	case OpMonitorexit:
		return t.deref(s.PopRef()).Exit(t)

	default:
		return &Error{Kind: ErrUnimplemented, Class: f.Klass.Name, Msg: "opcode " + op.Name()}
	}
	return nil
}

// loadKinds maps the offset from iload/istore to the value kind.
var loadKinds = [...]ValueKind{ValInt, ValLong, ValFloat, ValDouble, ValRef}

func (t *Thread) load(f *Frame, kind ValueKind, idx int) {
	s, l := f.Stack, f.Locals
	switch kind {
	case ValInt:
		s.PushInt(l.GetInt(idx))
	case ValLong:
		s.PushLong(l.GetLong(idx))
	case ValFloat:
		s.PushFloat(l.GetFloat(idx))
	case ValDouble:
		s.PushDouble(l.GetDouble(idx))
	case ValRef:
		s.PushRef(l.GetRef(idx))
	}
}

func (t *Thread) store(f *Frame, kind ValueKind, idx int) {
	s, l := f.Stack, f.Locals
	switch kind {
	case ValInt:
		l.SetInt(idx, s.PopInt())
	case ValLong:
		l.SetLong(idx, s.PopLong())
	case ValFloat:
		l.SetFloat(idx, s.PopFloat())
	case ValDouble:
		l.SetDouble(idx, s.PopDouble())
	case ValRef:
		// astore also stores jsr return addresses
		sl := s.popSlot()
		switch sl.kind {
		case slotRef:
			l.SetRef(idx, sl.r)
		case slotReturn:
			l.Set(idx, ReturnAddress(int(sl.v)))
		default:
			panic(verifyFault("astore of %v", sl.kind))
		}
	}
}

func (t *Thread) wide(f *Frame) error {
	r, l := f.reader, f.Locals
	op := r.ReadOpcode()
	idx := int(r.ReadUint16())
	switch op {
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		t.load(f, loadKinds[op-OpIload], idx)
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		t.store(f, loadKinds[op-OpIstore], idx)
	case OpRet:
		f.SetPC(l.GetReturnAddress(idx))
	case OpIinc:
		l.SetInt(idx, l.GetInt(idx)+int32(r.ReadInt16()))
	default:
		return verifyFault("wide %s", op.Name())
	}
	return nil
}

func (t *Thread) ldc(f *Frame, idx uint16) error {
	pool := f.Klass.Pool
	switch tag := pool.Tag(idx); tag {
	case classfile.TagInteger, classfile.TagFloat:
		n, err := pool.ResolveNumeric(idx)
		if err != nil {
			return err
		}
		f.Stack.Push(n.Value())
	case classfile.TagString:
		ref, err := t.vm.stringConstant(pool, idx)
		if err != nil {
			return err
		}
		f.Stack.PushRef(ref)
	case classfile.TagClass:
		k, err := t.classRef(f, idx)
		if err != nil {
			return err
		}
		ref, err := t.vm.Mirror(k)
		if err != nil {
			return err
		}
		f.Stack.PushRef(ref)
	case classfile.TagLong, classfile.TagDouble:
		return verifyFault("ldc of %v constant", tag)
	case classfile.TagUnusable:
		return pool.fail(idx, "ldc of unusable slot")
	default:
		return &Error{Kind: ErrUnimplemented, Class: f.Klass.Name, Msg: "ldc of " + tag.String()}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Heap access helpers
// ---------------------------------------------------------------------------

// deref returns the object behind a non-null reference, panicking with a
// NullPointerException error for null.
func (t *Thread) deref(ref Ref) *Oop {
	if ref == Null {
		panic(newError(ErrNullPointer, ""))
	}
	obj := t.vm.Heap.Get(ref)
	if obj == nil {
		panic(verifyFault("dangling reference %d", ref))
	}
	return obj
}

// arrayElement pops an index and an array reference and bounds-checks them.
func (t *Thread) arrayElement(s *OperandStack) (*Oop, int) {
	i := s.PopInt()
	arr := t.deref(s.PopRef())
	if i < 0 || int(i) >= len(arr.Elements) {
		panic(newError(ErrArrayIndex, "Index %d out of bounds for length %d", i, len(arr.Elements)))
	}
	return arr, int(i)
}

func (t *Thread) classRef(f *Frame, idx uint16) (*Klass, error) {
	name, err := f.Klass.Pool.ResolveClassName(idx)
	if err != nil {
		return nil, err
	}
	return t.vm.Loader.Load(name)
}

func (t *Thread) newInstance(f *Frame, idx uint16) error {
	k, err := t.classRef(f, idx)
	if err != nil {
		return err
	}
	if k.IsInterface() || k.IsAbstract() {
		return newError(ErrInstantiation, "%s", k.JavaName())
	}
	if err := t.vm.Loader.Initialize(t, k); err != nil {
		return err
	}
	ref, err := t.vm.Heap.AllocateInstance(k)
	if err != nil {
		return err
	}
	f.Stack.PushRef(ref)
	return nil
}

func (t *Thread) newArray(s *OperandStack, k *Klass) error {
	n := s.PopInt()
	ref, err := t.vm.Heap.AllocateArray(k, int(n))
	if err != nil {
		return err
	}
	s.PushRef(ref)
	return nil
}

func (t *Thread) newMultiArray(k *Klass, counts []int) (Ref, error) {
	ref, err := t.vm.Heap.AllocateArray(k, counts[0])
	if err != nil {
		return Null, err
	}
	if len(counts) == 1 {
		return ref, nil
	}
	arr := t.vm.Heap.Get(ref)
	for i := range arr.Elements {
		sub, err := t.newMultiArray(k.Down, counts[1:])
		if err != nil {
			return Null, err
		}
		arr.Elements[i] = RefValue(sub)
	}
	return ref, nil
}

func (t *Thread) fieldAccess(f *Frame, op Opcode, idx uint16) error {
	static := op == OpGetstatic || op == OpPutstatic
	fld, err := t.resolveField(f, idx, static)
	if err != nil {
		return err
	}
	s := f.Stack
	switch op {
	case OpGetstatic:
		if err := t.vm.Loader.Initialize(t, fld.Owner); err != nil {
			return err
		}
		s.Push(fld.Owner.GetStatic(fld.Offset))
	case OpPutstatic:
		if err := t.vm.Loader.Initialize(t, fld.Owner); err != nil {
			return err
		}
		fld.Owner.SetStatic(fld.Offset, s.Pop(fld.Type.Kind()))
	case OpGetfield:
		obj := t.deref(s.PopRef())
		s.Push(obj.Field(fld))
	case OpPutfield:
		v := s.Pop(fld.Type.Kind())
		t.deref(s.PopRef()).SetField(fld, v)
	}
	return nil
}

func (t *Thread) resolveField(f *Frame, idx uint16, static bool) (*Field, error) {
	pool := f.Klass.Pool
	if v, ok := pool.cached(idx); ok {
		return v.(*Field), nil
	}
	ref, err := pool.ResolveFieldref(idx)
	if err != nil {
		return nil, err
	}
	k, err := t.vm.Loader.Load(ref.Owner)
	if err != nil {
		return nil, err
	}
	fld := k.LookupField(ref.Name, ref.Descriptor)
	if fld == nil {
		return nil, &Error{Kind: ErrResolution, Class: f.Klass.Name, Msg: "no such field " + ref.String()}
	}
	if fld.Static != static {
		return nil, &Error{Kind: ErrLinkage, Class: f.Klass.Name, Msg: "static mismatch for field " + ref.String()}
	}
	pool.store(idx, fld)
	return fld, nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func intOp(op Opcode, a, b int32) (int32, error) {
	switch op {
	case OpIadd:
		return a + b, nil
	case OpIsub:
		return a - b, nil
	case OpImul:
		return a * b, nil
	case OpIdiv:
		if b == 0 {
			return 0, newError(ErrArithmetic, "/ by zero")
		}
		return a / b, nil
	case OpIrem:
		if b == 0 {
			return 0, newError(ErrArithmetic, "/ by zero")
		}
		return a % b, nil
	case OpIand:
		return a & b, nil
	case OpIor:
		return a | b, nil
	case OpIxor:
		return a ^ b, nil
	case OpIshl:
		return a << (b & 0x1f), nil
	case OpIshr:
		return a >> (b & 0x1f), nil
	case OpIushr:
		return int32(uint32(a) >> (b & 0x1f)), nil
	}
	return 0, verifyFault("%s is not an int operation", op.Name())
}

func longOp(op Opcode, a, b int64) (int64, error) {
	switch op {
	case OpLadd:
		return a + b, nil
	case OpLsub:
		return a - b, nil
	case OpLmul:
		return a * b, nil
	case OpLdiv:
		if b == 0 {
			return 0, newError(ErrArithmetic, "/ by zero")
		}
		return a / b, nil
	case OpLrem:
		if b == 0 {
			return 0, newError(ErrArithmetic, "/ by zero")
		}
		return a % b, nil
	case OpLand:
		return a & b, nil
	case OpLor:
		return a | b, nil
	case OpLxor:
		return a ^ b, nil
	}
	return 0, verifyFault("%s is not a long operation", op.Name())
}

// floatOp applies a double-precision operation; float opcodes are mapped
// onto their double counterparts by the caller.
func floatOp(op Opcode, a, b float64) float64 {
	switch op {
	case OpDadd:
		return a + b
	case OpDsub:
		return a - b
	case OpDmul:
		return a * b
	case OpDdiv:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

func f2i(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func f2l(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

func compare(less, greater bool) int32 {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// fcmp implements fcmpl/dcmpl (NaN -> -1) and fcmpg/dcmpg (NaN -> 1).
func fcmp(a, b float64, nanGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanGreater {
			return 1
		}
		return -1
	}
	return compare(a < b, a > b)
}

// intCond evaluates the n-th condition of the eq, ne, lt, ge, gt, le
// family.
func intCond(n Opcode, a, b int32) bool {
	switch n {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
