package vm

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/chazu/espresso/classfile"
)

// ---------------------------------------------------------------------------
// Method resolution
// ---------------------------------------------------------------------------

// resolveMethod resolves a Methodref or InterfaceMethodref of f's class,
// caching the result in the constant pool.
func (t *Thread) resolveMethod(f *Frame, idx uint16) (*Method, error) {
	pool := f.Klass.Pool
	if v, ok := pool.cached(idx); ok {
		return v.(*Method), nil
	}
	ref, err := pool.ResolveMethodref(idx)
	if err != nil {
		return nil, err
	}
	k, err := t.vm.Loader.Load(ref.Owner)
	if err != nil {
		return nil, err
	}
	m := k.LookupMethod(ref.Name, ref.Descriptor)
	if m == nil {
		return nil, &Error{Kind: ErrResolution, Class: f.Klass.Name, Msg: "no such method " + ref.String()}
	}
	if _, err := m.Resolve(); err != nil {
		return nil, err
	}
	pool.store(idx, m)
	return m, nil
}

// popArgs pops the declared arguments in reverse order, then the receiver
// when withReceiver is set. The result is in declaration order, receiver
// first.
func popArgs(s *OperandStack, mt MethodType, withReceiver bool) []Value {
	n := len(mt.Params)
	if withReceiver {
		n++
	}
	args := make([]Value, n)
	for i := len(mt.Params) - 1; i >= 0; i-- {
		args[n-len(mt.Params)+i] = s.Pop(mt.Params[i].Kind())
	}
	if withReceiver {
		args[0] = RefValue(s.PopRef())
	}
	return args
}

// call invokes m and pushes its result onto f's stack.
func (t *Thread) call(f *Frame, m *Method, args []Value) error {
	mt, err := m.Resolve()
	if err != nil {
		return err
	}
	v, err := t.Invoke(m, args)
	if err != nil {
		return err
	}
	if mt.Return.Base != TVoid {
		f.Stack.Push(v)
	}
	return nil
}

func nullReceiver(m *Method) *Error {
	return newError(ErrNullPointer, "Cannot invoke \"%s.%s()\" because value is null", m.Owner.JavaName(), m.Name)
}

// ---------------------------------------------------------------------------
// invoke* instructions
// ---------------------------------------------------------------------------

func (t *Thread) invokeStatic(f *Frame, idx uint16) error {
	m, err := t.resolveMethod(f, idx)
	if err != nil {
		return err
	}
	if !m.IsStatic() {
		return &Error{Kind: ErrLinkage, Class: f.Klass.Name, Msg: "expected static method " + m.String()}
	}
	if err := t.vm.Loader.Initialize(t, m.Owner); err != nil {
		return err
	}
	mt, _ := m.Resolve()
	return t.call(f, m, popArgs(f.Stack, mt, false))
}

func (t *Thread) invokeSpecial(f *Frame, idx uint16) error {
	m, err := t.resolveMethod(f, idx)
	if err != nil {
		return err
	}
	if m.IsStatic() {
		return &Error{Kind: ErrLinkage, Class: f.Klass.Name, Msg: "expected instance method " + m.String()}
	}
	mt, _ := m.Resolve()
	args := popArgs(f.Stack, mt, true)
	if args[0].Ref == Null {
		return nullReceiver(m)
	}

	// super.m(): select from the direct superclass of the current class.
	target := m
	cur := f.Klass
	if cur.AccessFlags&classfile.AccSuper != 0 && !m.IsConstructor() && !m.IsPrivate() &&
		!m.Owner.IsInterface() && cur != m.Owner && cur.Super != nil && cur.IsSubclassOf(m.Owner) {
		if sel := cur.Super.FindVirtual(m.Name, m.Descriptor); sel != nil {
			target = sel
		}
	}
	return t.call(f, target, args)
}

// invokeVirtual implements invokevirtual and invokeinterface. The receiver's
// class is looked up through the call site's inline cache.
func (t *Thread) invokeVirtual(f *Frame, idx uint16) error {
	m, err := t.resolveMethod(f, idx)
	if err != nil {
		return err
	}
	if m.IsStatic() {
		return &Error{Kind: ErrLinkage, Class: f.Klass.Name, Msg: "expected instance method " + m.String()}
	}
	mt, _ := m.Resolve()
	args := popArgs(f.Stack, mt, true)
	if args[0].Ref == Null {
		return nullReceiver(m)
	}
	obj := t.deref(args[0].Ref)

	target := m
	if !m.IsPrivate() {
		target = f.Method.inlineCaches(true).Dispatch(f.opPC, obj.Klass, func() *Method {
			return obj.Klass.FindVirtual(m.Name, m.Descriptor)
		})
	}
	if target == nil {
		return newError(ErrAbstractMethod, "%s.%s%s", obj.Klass.JavaName(), m.Name, m.Descriptor)
	}
	return t.call(f, target, args)
}

// ---------------------------------------------------------------------------
// invokedynamic
// ---------------------------------------------------------------------------

const stringConcatFactory = "java/lang/invoke/StringConcatFactory"

// Recipe tags of makeConcatWithConstants.
const (
	recipeArg      = '\u0001'
	recipeConstant = '\u0002'
)

func (t *Thread) invokeDynamic(f *Frame, idx uint16) error {
	pool := f.Klass.Pool
	cs, err := pool.ResolveInvokeDynamic(idx)
	if err != nil {
		return err
	}
	bsm := cs.Bootstrap.Ref
	if bsm.Owner != stringConcatFactory || (bsm.Name != "makeConcatWithConstants" && bsm.Name != "makeConcat") {
		return &Error{Kind: ErrUnimplemented, Class: f.Klass.Name, Msg: "invokedynamic bootstrap " + bsm.String()}
	}
	mt, err := ParseMethodDescriptor(cs.Descriptor)
	if err != nil {
		return err
	}
	args := popArgs(f.Stack, mt, false)

	var b strings.Builder
	if bsm.Name == "makeConcat" {
		for i, a := range args {
			s, err := t.formatArg(a, mt.Params[i])
			if err != nil {
				return err
			}
			b.WriteString(s)
		}
	} else {
		if err := t.concatRecipe(&b, pool, cs, mt, args); err != nil {
			return err
		}
	}

	ref, err := t.vm.NewString(b.String())
	if err != nil {
		return err
	}
	f.Stack.PushRef(ref)
	return nil
}

func (t *Thread) concatRecipe(b *strings.Builder, pool *ConstantPool, cs *CallSite, mt MethodType, args []Value) error {
	if len(cs.Args) == 0 {
		return pool.fail(0, "makeConcatWithConstants without a recipe")
	}
	recipe, err := pool.ResolveString(cs.Args[0])
	if err != nil {
		return err
	}
	consts := cs.Args[1:]
	next, nextConst := 0, 0
	for _, r := range recipe {
		switch r {
		case recipeArg:
			if next >= len(args) {
				return pool.fail(0, "concat recipe %q needs more than %d arguments", recipe, len(args))
			}
			s, err := t.formatArg(args[next], mt.Params[next])
			if err != nil {
				return err
			}
			b.WriteString(s)
			next++
		case recipeConstant:
			if nextConst >= len(consts) {
				return pool.fail(0, "concat recipe %q needs more constants", recipe)
			}
			s, err := t.constantText(pool, consts[nextConst])
			if err != nil {
				return err
			}
			b.WriteString(s)
			nextConst++
		default:
			b.WriteRune(r)
		}
	}
	return nil
}

// constantText renders a static bootstrap argument.
func (t *Thread) constantText(pool *ConstantPool, idx uint16) (string, error) {
	if pool.Tag(idx) == classfile.TagString {
		return pool.ResolveString(idx)
	}
	n, err := pool.ResolveNumeric(idx)
	if err != nil {
		return "", err
	}
	switch n.Tag {
	case classfile.TagFloat:
		return javaFloat(n.Float), nil
	case classfile.TagLong:
		return strconv.FormatInt(n.Long, 10), nil
	case classfile.TagDouble:
		return javaDouble(n.Double), nil
	}
	return strconv.Itoa(int(n.Int)), nil
}

// formatArg renders v the way String.valueOf does for its static type.
func (t *Thread) formatArg(v Value, typ ValueType) (string, error) {
	switch typ.Base {
	case TInt, TByte, TShort:
		return strconv.Itoa(int(v.Int())), nil
	case TLong:
		return strconv.FormatInt(v.Long(), 10), nil
	case TFloat:
		return javaFloat(v.Float()), nil
	case TDouble:
		return javaDouble(v.Double()), nil
	case TBoolean:
		return strconv.FormatBool(v.Bool()), nil
	case TChar:
		return string(utf16.Decode([]uint16{uint16(v.Int())})), nil
	}
	return t.stringOf(v.Ref)
}
