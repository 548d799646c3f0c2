package vm

import (
	"errors"
	"strings"
	"sync"

	"github.com/chazu/espresso/cds"
	"github.com/chazu/espresso/classfile"
	"github.com/chazu/espresso/classpath"
)

// ---------------------------------------------------------------------------
// ClassLoader: loading, linking and initialization
// ---------------------------------------------------------------------------

// ClassLoader turns class-path bytes into linked Klasses and drives class
// initialization. Loading and linking are serialized by the loader lock;
// initialization is coordinated per Klass.
type ClassLoader struct {
	vm      *VM
	table   *ClassTable
	path    classpath.Entry
	archive *cds.Archive

	mu sync.Mutex

	// OnStateChange, when set, observes every Klass state transition. It is
	// called without any Klass lock held.
	OnStateChange func(k *Klass, from, to ClassState)
}

// NewClassLoader creates a loader over path. archive may be nil.
func NewClassLoader(vm *VM, table *ClassTable, path classpath.Entry, archive *cds.Archive) *ClassLoader {
	return &ClassLoader{
		vm:      vm,
		table:   table,
		path:    path,
		archive: archive,
	}
}

// Table returns the loader's class table.
func (l *ClassLoader) Table() *ClassTable {
	return l.table
}

func (l *ClassLoader) notify(k *Klass, from, to ClassState) {
	log.Debugf("class %s: %s -> %s", k.Name, from, to)
	if l.OnStateChange != nil {
		l.OnStateChange(k, from, to)
	}
}

func (l *ClassLoader) advance(k *Klass, to ClassState) bool {
	k.mu.Lock()
	from, ok := k.setState(to)
	k.mu.Unlock()
	if ok {
		l.notify(k, from, to)
	}
	return ok
}

// fail records err and moves k to InitializationError.
func (l *ClassLoader) fail(k *Klass, err error) {
	k.mu.Lock()
	k.initErr = err
	from, ok := k.setState(InitializationError)
	k.mu.Unlock()
	if ok {
		l.notify(k, from, InitializationError)
	}
}

// failure returns the error recorded for a class in InitializationError.
func (k *Klass) failure() error {
	if k.initErr != nil {
		return k.initErr
	}
	return &Error{Kind: ErrInitialization, Class: k.Name, Msg: "Could not initialize class " + k.JavaName()}
}

// Load returns the linked Klass for a binary name, loading and linking it
// on first use. Array names ("[I", "[Ljava/lang/String;") are derived from
// their component type.
func (l *ClassLoader) Load(name string) (*Klass, error) {
	if k := l.table.Lookup(name); k != nil {
		k.mu.Lock()
		st, err := k.state, k.initErr
		k.mu.Unlock()
		switch {
		case st == InitializationError:
			if err == nil {
				err = k.failure()
			}
			return nil, err
		case st >= Linked:
			return k, nil
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(name)
}

func (l *ClassLoader) loadLocked(name string) (*Klass, error) {
	if k := l.table.Lookup(name); k != nil {
		k.mu.Lock()
		st := k.state
		k.mu.Unlock()
		switch {
		case st == InitializationError:
			return nil, k.failure()
		case st >= Linked:
			return k, nil
		default:
			return nil, &Error{Kind: ErrLinkage, Class: name, Msg: "class circularity"}
		}
	}

	if strings.HasPrefix(name, "[") {
		return l.arrayLocked(name)
	}

	data, err := l.path.Search(name)
	if err != nil {
		if errors.Is(err, classpath.ErrNotFound) {
			return nil, &Error{Kind: ErrClassNotFound, Class: name, Msg: strings.ReplaceAll(name, "/", ".")}
		}
		return nil, wrapError(ErrClassNotFound, name, err)
	}

	cf, err := l.decode(name, data)
	if err != nil {
		return nil, err
	}
	if got, err := cf.ClassName(); err != nil || got != name {
		return nil, &Error{Kind: ErrClassNotFound, Class: name, Msg: "wrong name: " + got, Err: err}
	}

	k := newKlass(KindInstance, name)
	k.File = cf
	l.table.Register(k)
	l.advance(k, Loaded)

	if err := l.link(k); err != nil {
		l.fail(k, err)
		return nil, err
	}
	l.advance(k, Linked)
	return k, nil
}

// decode parses class bytes, consulting the CDS archive when one is
// configured.
func (l *ClassLoader) decode(name string, data []byte) (*classfile.ClassFile, error) {
	var digest string
	if l.archive != nil {
		digest = cds.Digest(data)
		cf, err := l.archive.Lookup(name, digest)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, cds.ErrMiss) {
			log.Warningf("cds lookup %s: %v", name, err)
		}
	}

	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, wrapError(ErrClassFormat, name, err)
	}

	if l.archive != nil {
		if err := l.archive.Store(name, digest, cf); err != nil {
			log.Warningf("cds store %s: %v", name, err)
		}
	}
	return cf, nil
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

func linkError(k *Klass, format string, args ...any) *Error {
	e := newError(ErrLinkage, format, args...)
	e.Class = k.Name
	return e
}

// link prepares a Loaded class: access flags, own name, super class and
// interfaces, field layout, then the method table.
func (l *ClassLoader) link(k *Klass) error {
	cf := k.File

	k.AccessFlags = cf.AccessFlags
	k.SourceFile = cf.SourceFile
	k.Pool = NewConstantPool(k.Name, cf)

	name, err := k.Pool.ResolveClassName(cf.ThisClass)
	if err != nil {
		return err
	}
	if name != k.Name {
		return linkError(k, "this_class names %s", name)
	}

	if err := l.linkSupers(k); err != nil {
		return err
	}
	if err := l.layoutFields(k); err != nil {
		return err
	}
	return l.buildMethods(k)
}

func (l *ClassLoader) linkSupers(k *Klass) error {
	cf := k.File
	if cf.SuperClass == 0 {
		if k.Name != "java/lang/Object" {
			return linkError(k, "missing superclass")
		}
	} else {
		superName, err := k.Pool.ResolveClassName(cf.SuperClass)
		if err != nil {
			return err
		}
		super, err := l.loadLocked(superName)
		if err != nil {
			if IsKind(err, ErrLinkage) {
				return err
			}
			return &Error{Kind: ErrLinkage, Class: k.Name, Msg: "superclass " + superName, Err: err}
		}
		if super.IsInterface() {
			return linkError(k, "superclass %s is an interface", superName)
		}
		if super.IsFinal() {
			return linkError(k, "cannot inherit from final class %s", superName)
		}
		k.Super = super
	}

	for _, idx := range cf.Interfaces {
		ifaceName, err := k.Pool.ResolveClassName(idx)
		if err != nil {
			return err
		}
		iface, err := l.loadLocked(ifaceName)
		if err != nil {
			if IsKind(err, ErrLinkage) {
				return err
			}
			return &Error{Kind: ErrLinkage, Class: k.Name, Msg: "interface " + ifaceName, Err: err}
		}
		if !iface.IsInterface() {
			return linkError(k, "%s is not an interface", ifaceName)
		}
		k.Interfaces = append(k.Interfaces, iface)
	}
	return nil
}

func (l *ClassLoader) layoutFields(k *Klass) error {
	if k.Super != nil {
		k.layout = append(k.layout, k.Super.layout...)
	}
	var statics []Value
	for _, info := range k.File.Fields {
		name, err := k.Pool.utf8String(info.NameIndex)
		if err != nil {
			return err
		}
		desc, err := k.Pool.utf8String(info.DescriptorIndex)
		if err != nil {
			return err
		}
		typ, err := ParseFieldDescriptor(desc)
		if err != nil {
			return err
		}
		key := memberKey(name, desc)
		if _, dup := k.fieldsByKey[key]; dup {
			return &Error{Kind: ErrClassFormat, Class: k.Name, Msg: "duplicate field " + name}
		}

		f := &Field{
			Owner:         k,
			Name:          name,
			Descriptor:    desc,
			Type:          typ,
			AccessFlags:   info.AccessFlags,
			Static:        info.AccessFlags&classfile.AccStatic != 0,
			ConstantValue: info.ConstantValue,
		}
		if f.Static {
			f.Offset = len(statics)
			statics = append(statics, typ.Zero())
		} else {
			f.Offset = len(k.layout)
			k.layout = append(k.layout, f)
		}
		k.Fields = append(k.Fields, f)
		k.fieldsByKey[key] = f
	}
	k.statics = statics
	k.InstanceFieldCount = len(k.layout)
	return nil
}

func (l *ClassLoader) buildMethods(k *Klass) error {
	for _, info := range k.File.Methods {
		name, err := k.Pool.utf8String(info.NameIndex)
		if err != nil {
			return err
		}
		desc, err := k.Pool.utf8String(info.DescriptorIndex)
		if err != nil {
			return err
		}
		m := newMethod(k, info, name, desc)
		if _, dup := k.methods[m.Key()]; dup {
			return &Error{Kind: ErrClassFormat, Class: k.Name, Msg: "duplicate method " + name + desc}
		}
		k.methods[m.Key()] = m
		k.Methods = append(k.Methods, m)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Array classes
// ---------------------------------------------------------------------------

func (l *ClassLoader) arrayLocked(name string) (*Klass, error) {
	t, err := ParseFieldDescriptor(name)
	if err != nil {
		return nil, err
	}
	object, err := l.loadLocked("java/lang/Object")
	if err != nil {
		return nil, err
	}

	k := newKlass(KindTypeArray, name)
	k.AccessFlags = classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract
	k.Super = object
	k.state = FullyInitialized

	switch elem := *t.Elem; elem.Base {
	case TArray:
		down, err := l.loadLocked(elem.Descriptor())
		if err != nil {
			return nil, err
		}
		k.Kind, k.Dimension, k.Down = down.Kind, down.Dimension+1, down
		k.Component, k.Elem = down.Component, down.Elem
	case TReference:
		comp, err := l.loadLocked(elem.ClassName)
		if err != nil {
			return nil, err
		}
		k.Kind, k.Dimension, k.Component = KindObjectArray, 1, comp
	default:
		k.Dimension, k.Elem = 1, elem.Base
	}

	k, _ = l.table.RegisterIfAbsent(k)
	return k, nil
}

// ArrayOf returns the array class whose elements are of class component.
func (l *ClassLoader) ArrayOf(component *Klass) (*Klass, error) {
	if component.IsArray() {
		return l.Load("[" + component.Name)
	}
	return l.Load("[L" + component.Name + ";")
}

// PrimitiveArray returns the one-dimensional array class of a primitive
// type.
func (l *ClassLoader) PrimitiveArray(base BaseType) (*Klass, error) {
	if !base.IsPrimitive() {
		return nil, newError(ErrClassFormat, "%q is not a primitive type", rune(base))
	}
	return l.Load("[" + string(rune(base)))
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// Initialize runs class initialization for k on thread t: superclass first,
// then ConstantValue statics, then <clinit>. Other threads block until the
// outcome is known; a recursive request from the initializing thread
// returns immediately.
func (l *ClassLoader) Initialize(t *Thread, k *Klass) error {
	if k.Kind != KindInstance {
		return nil
	}

	k.mu.Lock()
	for k.state == BeingInitialized && k.initThread != t {
		k.cond.Wait()
	}
	switch k.state {
	case FullyInitialized, BeingInitialized:
		k.mu.Unlock()
		return nil
	case InitializationError:
		err := k.failure()
		k.mu.Unlock()
		return err
	}
	from, _ := k.setState(BeingInitialized)
	k.initThread = t
	k.mu.Unlock()
	l.notify(k, from, BeingInitialized)

	err := l.runInitializer(t, k)

	k.mu.Lock()
	to := FullyInitialized
	if err != nil {
		to = InitializationError
		k.initErr = &Error{Kind: ErrInitialization, Class: k.Name, Msg: "Could not initialize class " + k.JavaName()}
	}
	from, _ = k.setState(to)
	k.initThread = nil
	k.mu.Unlock()
	l.notify(k, from, to)

	if err != nil {
		log.Debugf("initialization of %s failed: %v", k.Name, err)
	}
	return err
}

func (l *ClassLoader) runInitializer(t *Thread, k *Klass) error {
	if k.Super != nil && !k.IsInterface() {
		if err := l.Initialize(t, k.Super); err != nil {
			return err
		}
	}

	for _, f := range k.Fields {
		if !f.Static || f.ConstantValue == 0 {
			continue
		}
		v, err := l.constantValue(k, f)
		if err != nil {
			return err
		}
		k.SetStatic(f.Offset, v)
	}

	if clinit := k.DeclaredMethod("<clinit>", "()V"); clinit != nil {
		if _, err := t.Invoke(clinit, nil); err != nil {
			return err
		}
	}
	return nil
}

func (l *ClassLoader) constantValue(k *Klass, f *Field) (Value, error) {
	if f.Type.Base == TReference && f.Type.ClassName == "java/lang/String" {
		s, err := k.Pool.ResolveString(f.ConstantValue)
		if err != nil {
			return Value{}, err
		}
		ref, err := l.vm.Intern(s)
		if err != nil {
			return Value{}, err
		}
		return RefValue(ref), nil
	}
	n, err := k.Pool.ResolveNumeric(f.ConstantValue)
	if err != nil {
		return Value{}, err
	}
	return n.Value(), nil
}
