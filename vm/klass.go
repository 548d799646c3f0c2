package vm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chazu/espresso/classfile"
)

// ---------------------------------------------------------------------------
// Class lifecycle
// ---------------------------------------------------------------------------

// ClassState is the lifecycle position of a Klass. States only move
// forward; InitializationError is absorbing.
type ClassState uint8

const (
	Allocated ClassState = iota
	Loaded
	Linked
	BeingInitialized
	FullyInitialized
	InitializationError
)

var classStateNames = [...]string{
	Allocated:           "Allocated",
	Loaded:              "Loaded",
	Linked:              "Linked",
	BeingInitialized:    "BeingInitialized",
	FullyInitialized:    "FullyInitialized",
	InitializationError: "InitializationError",
}

func (s ClassState) String() string {
	if int(s) < len(classStateNames) {
		return classStateNames[s]
	}
	return fmt.Sprintf("ClassState(%d)", uint8(s))
}

// canAdvance reports whether from -> to is a legal transition.
func canAdvance(from, to ClassState) bool {
	if from == InitializationError {
		return false
	}
	if to == InitializationError {
		return true
	}
	return to > from
}

// ---------------------------------------------------------------------------
// Klass: runtime class metadata
// ---------------------------------------------------------------------------

// KlassKind discriminates the Klass variants.
type KlassKind uint8

const (
	KindInstance KlassKind = iota
	KindObjectArray
	KindTypeArray
)

func (k KlassKind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindObjectArray:
		return "objArray"
	case KindTypeArray:
		return "typeArray"
	}
	return fmt.Sprintf("KlassKind(%d)", uint8(k))
}

// Klass is the runtime representation of a class, interface or array type.
// Instance-only and array-only fields are left zero on the other variants.
type Klass struct {
	ID          int
	Kind        KlassKind
	Name        string
	AccessFlags uint16
	Super       *Klass
	Interfaces  []*Klass

	// KindInstance
	Pool               *ConstantPool
	File               *classfile.ClassFile
	SourceFile         string
	Fields             []*Field // declared, in class-file order
	Methods            []*Method
	InstanceFieldCount int

	fieldsByKey    map[string]*Field
	layout         []*Field // instance fields by offset, inherited first
	methods        map[string]*Method
	staticsMu      sync.RWMutex
	statics        []Value
	staticFieldLen int

	// KindObjectArray and KindTypeArray
	Dimension int
	Component *Klass   // innermost element class (object arrays)
	Elem      BaseType // innermost element type (type arrays)
	Down      *Klass   // array of one less dimension, nil when Dimension == 1

	mu         sync.Mutex
	cond       *sync.Cond
	state      ClassState
	initThread *Thread
	initErr    error

	vcache sync.Map // name+descriptor -> *Method
	mirror Ref
}

func newKlass(kind KlassKind, name string) *Klass {
	k := &Klass{
		Kind:        kind,
		Name:        name,
		fieldsByKey: make(map[string]*Field),
		methods:     make(map[string]*Method),
	}
	k.cond = sync.NewCond(&k.mu)
	return k
}

func memberKey(name, descriptor string) string {
	return name + ":" + descriptor
}

func (k *Klass) String() string {
	return k.Name
}

// JavaName returns the dotted class name used in diagnostics.
func (k *Klass) JavaName() string {
	return strings.ReplaceAll(k.Name, "/", ".")
}

// State returns the current lifecycle state.
func (k *Klass) State() ClassState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// setState advances the state. It must be called with k.mu held and
// refuses regressions.
func (k *Klass) setState(to ClassState) (ClassState, bool) {
	from := k.state
	if !canAdvance(from, to) {
		return from, false
	}
	k.state = to
	k.cond.Broadcast()
	return from, true
}

func (k *Klass) IsInterface() bool { return k.AccessFlags&classfile.AccInterface != 0 }
func (k *Klass) IsAbstract() bool  { return k.AccessFlags&classfile.AccAbstract != 0 }
func (k *Klass) IsFinal() bool     { return k.AccessFlags&classfile.AccFinal != 0 }
func (k *Klass) IsArray() bool     { return k.Kind != KindInstance }

// ElementKlass returns the class of the array's immediate elements, or nil
// for a one-dimensional primitive array.
func (k *Klass) ElementKlass() *Klass {
	if k.Down != nil {
		return k.Down
	}
	return k.Component
}

// ElementType returns the field type of the array's immediate elements.
func (k *Klass) ElementType() ValueType {
	if k.Kind == KindTypeArray && k.Dimension == 1 {
		return ValueType{Base: k.Elem}
	}
	t, err := ParseFieldDescriptor(k.Name[1:])
	if err != nil {
		return ValueType{Base: TReference, ClassName: "java/lang/Object"}
	}
	return t
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Field is a declared field.
type Field struct {
	Owner         *Klass
	Name          string
	Descriptor    string
	Type          ValueType
	AccessFlags   uint16
	Static        bool
	Offset        int    // index into Oop.Fields or the owner's statics
	ConstantValue uint16 // pool index of the ConstantValue attribute, 0 if none

	typeOnce  sync.Once
	typeKlass *Klass
	typeErr   error
}

func (f *Field) String() string {
	return f.Owner.Name + "." + f.Name + ":" + f.Descriptor
}

// TypeKlass resolves the declared class of a reference-typed field on
// first use. Primitive fields return nil.
func (f *Field) TypeKlass(l *ClassLoader) (*Klass, error) {
	if !f.Type.IsReference() {
		return nil, nil
	}
	f.typeOnce.Do(func() {
		name := f.Type.ClassName
		if f.Type.Base == TArray {
			name = f.Descriptor
		}
		f.typeKlass, f.typeErr = l.Load(name)
	})
	return f.typeKlass, f.typeErr
}

// DeclaredField returns a field declared directly by k.
func (k *Klass) DeclaredField(name, descriptor string) *Field {
	return k.fieldsByKey[memberKey(name, descriptor)]
}

// LookupField resolves a field reference: own fields, then
// superinterfaces, then the super chain.
func (k *Klass) LookupField(name, descriptor string) *Field {
	for c := k; c != nil; c = c.Super {
		if f := c.DeclaredField(name, descriptor); f != nil {
			return f
		}
		for _, iface := range c.Interfaces {
			if f := iface.LookupField(name, descriptor); f != nil {
				return f
			}
		}
	}
	return nil
}

// InstanceLayout returns every instance field by offset, inherited fields
// first.
func (k *Klass) InstanceLayout() []*Field {
	return k.layout
}

// GetStatic reads a static field slot.
func (k *Klass) GetStatic(offset int) Value {
	k.staticsMu.RLock()
	defer k.staticsMu.RUnlock()
	return k.statics[offset]
}

// SetStatic writes a static field slot.
func (k *Klass) SetStatic(offset int, v Value) {
	k.staticsMu.Lock()
	k.statics[offset] = v
	k.staticsMu.Unlock()
}

// DeclaredMethod returns a method declared directly by k.
func (k *Klass) DeclaredMethod(name, descriptor string) *Method {
	return k.methods[memberKey(name, descriptor)]
}

// LookupMethod resolves a static or special method reference: own methods,
// then the super chain, then superinterfaces.
func (k *Klass) LookupMethod(name, descriptor string) *Method {
	for c := k; c != nil; c = c.Super {
		if m := c.DeclaredMethod(name, descriptor); m != nil {
			return m
		}
	}
	return k.interfaceMethod(name, descriptor, false)
}

// interfaceMethod searches the superinterfaces of k and its supers. With
// concrete set only non-abstract (default) methods match.
func (k *Klass) interfaceMethod(name, descriptor string, concrete bool) *Method {
	seen := make(map[*Klass]bool)
	var walk func(c *Klass) *Method
	walk = func(c *Klass) *Method {
		for _, iface := range c.Interfaces {
			if seen[iface] {
				continue
			}
			seen[iface] = true
			if m := iface.DeclaredMethod(name, descriptor); m != nil && !m.IsStatic() {
				if !concrete || !m.IsAbstract() {
					return m
				}
			}
			if m := walk(iface); m != nil {
				return m
			}
		}
		return nil
	}
	for c := k; c != nil; c = c.Super {
		if m := walk(c); m != nil {
			return m
		}
	}
	return nil
}

// FindVirtual selects the implementation invoked for a receiver of class
// k: the super chain first, then default methods of superinterfaces.
// Results are cached per Klass.
func (k *Klass) FindVirtual(name, descriptor string) *Method {
	key := memberKey(name, descriptor)
	if m, ok := k.vcache.Load(key); ok {
		return m.(*Method)
	}
	var found *Method
	for c := k; c != nil && found == nil; c = c.Super {
		if m := c.DeclaredMethod(name, descriptor); m != nil && !m.IsStatic() {
			found = m
		}
	}
	if found == nil {
		found = k.interfaceMethod(name, descriptor, true)
	}
	if found == nil {
		found = k.interfaceMethod(name, descriptor, false)
	}
	if found != nil {
		k.vcache.Store(key, found)
	}
	return found
}

// ---------------------------------------------------------------------------
// Subtyping
// ---------------------------------------------------------------------------

// IsSubclassOf reports whether other appears on k's super chain (k
// included).
func (k *Klass) IsSubclassOf(other *Klass) bool {
	for c := k; c != nil; c = c.Super {
		if c == other {
			return true
		}
	}
	return false
}

// Implements reports whether k or a superclass implements iface.
func (k *Klass) Implements(iface *Klass) bool {
	for c := k; c != nil; c = c.Super {
		for _, i := range c.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableTo reports whether a value of class k may be stored where
// other is expected.
func (k *Klass) IsAssignableTo(other *Klass) bool {
	if k == other || other.Name == "java/lang/Object" {
		return true
	}
	switch k.Kind {
	case KindInstance:
		if other.IsInterface() {
			return k.Implements(other)
		}
		return k.IsSubclassOf(other)
	default:
		if !other.IsArray() {
			return other.Name == "java/lang/Cloneable" || other.Name == "java/io/Serializable"
		}
		ke, oe := k.ElementKlass(), other.ElementKlass()
		if ke == nil || oe == nil {
			return k.Kind == KindTypeArray && other.Kind == KindTypeArray &&
				k.Dimension == other.Dimension && k.Elem == other.Elem
		}
		return ke.IsAssignableTo(oe)
	}
}
