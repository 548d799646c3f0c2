package vm

import (
	"math"
	"strconv"
	"sync"

	"github.com/chazu/espresso/classfile"
)

// ---------------------------------------------------------------------------
// ConstantPool: runtime view of a class's constant pool
// ---------------------------------------------------------------------------

// ConstantPool resolves symbolic references in a loaded class. The lookups
// are pure table reads; resolved runtime objects (string refs, class
// mirrors) are memoized per index.
type ConstantPool struct {
	owner     string
	entries   classfile.ConstantPool
	bootstrap []classfile.BootstrapMethod

	mu    sync.Mutex
	cache map[uint16]any
}

// NewConstantPool wraps the pool of a decoded class.
func NewConstantPool(owner string, cf *classfile.ClassFile) *ConstantPool {
	return &ConstantPool{
		owner:     owner,
		entries:   cf.ConstantPool,
		bootstrap: cf.BootstrapMethods,
		cache:     make(map[uint16]any),
	}
}

// Raw returns the underlying class-file pool.
func (p *ConstantPool) Raw() classfile.ConstantPool {
	return p.entries
}

// Len returns the number of pool slots including slot 0.
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

// Tag returns the tag at index i, or TagUnusable when out of range.
func (p *ConstantPool) Tag(i uint16) classfile.Tag {
	if int(i) >= len(p.entries) {
		return classfile.TagUnusable
	}
	return p.entries[i].Tag
}

func (p *ConstantPool) fail(i uint16, format string, args ...any) *Error {
	e := newError(ErrResolution, format, args...)
	e.Class = p.owner
	e.Msg = "#" + strconv.Itoa(int(i)) + ": " + e.Msg
	return e
}

// entry fetches slot i and checks its tag against want.
func (p *ConstantPool) entry(i uint16, want ...classfile.Tag) (classfile.Constant, error) {
	if i == 0 || int(i) >= len(p.entries) {
		return classfile.Constant{}, p.fail(i, "index out of range (pool size %d)", len(p.entries))
	}
	c := p.entries[i]
	if c.Tag == classfile.TagUnusable {
		return classfile.Constant{}, p.fail(i, "unusable slot")
	}
	for _, t := range want {
		if c.Tag == t {
			return c, nil
		}
	}
	return classfile.Constant{}, p.fail(i, "expected %v, found %v", want, c.Tag)
}

// ResolveUtf8 returns the stored (modified UTF-8) bytes of a Utf8 entry.
func (p *ConstantPool) ResolveUtf8(i uint16) ([]byte, error) {
	c, err := p.entry(i, classfile.TagUtf8)
	if err != nil {
		return nil, err
	}
	return c.Bytes, nil
}

func (p *ConstantPool) utf8String(i uint16) (string, error) {
	b, err := p.ResolveUtf8(i)
	if err != nil {
		return "", err
	}
	s, derr := classfile.DecodeModifiedUTF8(b)
	if derr != nil {
		return "", p.fail(i, "%v", derr)
	}
	return s, nil
}

// ResolveClassName returns the binary name referenced by a Class entry.
func (p *ConstantPool) ResolveClassName(i uint16) (string, error) {
	c, err := p.entry(i, classfile.TagClass)
	if err != nil {
		return "", err
	}
	return p.utf8String(c.NameIndex)
}

// ResolveNameAndType returns the name and descriptor of a NameAndType entry.
func (p *ConstantPool) ResolveNameAndType(i uint16) (name, descriptor string, err error) {
	c, err := p.entry(i, classfile.TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.utf8String(c.NameIndex); err != nil {
		return "", "", err
	}
	if descriptor, err = p.utf8String(c.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

func (r MemberRef) String() string {
	return r.Owner + "." + r.Name + ":" + r.Descriptor
}

func (p *ConstantPool) memberRef(i uint16, tags ...classfile.Tag) (MemberRef, error) {
	c, err := p.entry(i, tags...)
	if err != nil {
		return MemberRef{}, err
	}
	owner, err := p.ResolveClassName(c.ClassIndex)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.ResolveNameAndType(c.NameAndTypeIndex)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{
		Owner:      owner,
		Name:       name,
		Descriptor: desc,
		Interface:  c.Tag == classfile.TagInterfaceMethodref,
	}, nil
}

// ResolveFieldref resolves a Fieldref entry.
func (p *ConstantPool) ResolveFieldref(i uint16) (MemberRef, error) {
	return p.memberRef(i, classfile.TagFieldref)
}

// ResolveMethodref resolves a Methodref or InterfaceMethodref entry.
func (p *ConstantPool) ResolveMethodref(i uint16) (MemberRef, error) {
	return p.memberRef(i, classfile.TagMethodref, classfile.TagInterfaceMethodref)
}

// Numeric is a resolved Integer, Float, Long or Double constant. Only the
// field matching Tag is meaningful.
type Numeric struct {
	Tag    classfile.Tag
	Int    int32
	Float  float32
	Long   int64
	Double float64
}

// Value converts the constant to an interpreter value.
func (n Numeric) Value() Value {
	switch n.Tag {
	case classfile.TagFloat:
		return FloatValue(n.Float)
	case classfile.TagLong:
		return LongValue(n.Long)
	case classfile.TagDouble:
		return DoubleValue(n.Double)
	default:
		return IntValue(n.Int)
	}
}

// ResolveNumeric resolves a numeric constant.
func (p *ConstantPool) ResolveNumeric(i uint16) (Numeric, error) {
	c, err := p.entry(i, classfile.TagInteger, classfile.TagFloat, classfile.TagLong, classfile.TagDouble)
	if err != nil {
		return Numeric{}, err
	}
	n := Numeric{Tag: c.Tag}
	wide := uint64(c.High)<<32 | uint64(c.Low)
	switch c.Tag {
	case classfile.TagInteger:
		n.Int = int32(c.High)
	case classfile.TagFloat:
		n.Float = math.Float32frombits(c.High)
	case classfile.TagLong:
		n.Long = int64(wide)
	case classfile.TagDouble:
		n.Double = math.Float64frombits(wide)
	}
	return n, nil
}

// ResolveString returns the text of a String entry.
func (p *ConstantPool) ResolveString(i uint16) (string, error) {
	c, err := p.entry(i, classfile.TagString)
	if err != nil {
		return "", err
	}
	return p.utf8String(c.StringIndex)
}

// MethodHandleRef is a resolved MethodHandle entry.
type MethodHandleRef struct {
	Kind uint8
	Ref  MemberRef
}

// ResolveMethodHandle resolves a MethodHandle entry.
func (p *ConstantPool) ResolveMethodHandle(i uint16) (MethodHandleRef, error) {
	c, err := p.entry(i, classfile.TagMethodHandle)
	if err != nil {
		return MethodHandleRef{}, err
	}
	var ref MemberRef
	switch c.ReferenceKind {
	case classfile.RefGetField, classfile.RefGetStatic, classfile.RefPutField, classfile.RefPutStatic:
		ref, err = p.ResolveFieldref(c.ReferenceIndex)
	default:
		ref, err = p.ResolveMethodref(c.ReferenceIndex)
	}
	if err != nil {
		return MethodHandleRef{}, err
	}
	return MethodHandleRef{Kind: c.ReferenceKind, Ref: ref}, nil
}

// CallSite is a resolved InvokeDynamic entry together with its bootstrap
// method. Args are raw pool indices of the static bootstrap arguments.
type CallSite struct {
	Name       string
	Descriptor string
	Bootstrap  MethodHandleRef
	Args       []uint16
}

// ResolveInvokeDynamic resolves an InvokeDynamic entry.
func (p *ConstantPool) ResolveInvokeDynamic(i uint16) (*CallSite, error) {
	if cs, ok := p.cached(i); ok {
		return cs.(*CallSite), nil
	}
	c, err := p.entry(i, classfile.TagInvokeDynamic)
	if err != nil {
		return nil, err
	}
	name, desc, err := p.ResolveNameAndType(c.NameAndTypeIndex)
	if err != nil {
		return nil, err
	}
	if int(c.BootstrapIndex) >= len(p.bootstrap) {
		return nil, p.fail(i, "bootstrap method %d out of range", c.BootstrapIndex)
	}
	bsm := p.bootstrap[c.BootstrapIndex]
	handle, err := p.ResolveMethodHandle(bsm.MethodRef)
	if err != nil {
		return nil, err
	}
	cs := &CallSite{Name: name, Descriptor: desc, Bootstrap: handle, Args: bsm.Arguments}
	p.store(i, cs)
	return cs, nil
}

func (p *ConstantPool) cached(i uint16) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.cache[i]
	return v, ok
}

func (p *ConstantPool) store(i uint16, v any) {
	p.mu.Lock()
	p.cache[i] = v
	p.mu.Unlock()
}
