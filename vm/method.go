package vm

import (
	"sync"

	"github.com/chazu/espresso/classfile"
)

// ---------------------------------------------------------------------------
// Method: a declared method
// ---------------------------------------------------------------------------

// Method is a method declared by a Klass. Code is nil for native and
// abstract methods.
type Method struct {
	Owner       *Klass
	Name        string
	Descriptor  string
	AccessFlags uint16
	Code        *classfile.CodeAttribute

	exceptions []uint16 // Class entries of the Exceptions attribute

	mu         sync.Mutex
	resolved   bool
	typ        MethodType
	throws     []string
	resolveErr error

	caches *InlineCacheTable
}

func newMethod(owner *Klass, info classfile.MethodInfo, name, descriptor string) *Method {
	return &Method{
		Owner:       owner,
		Name:        name,
		Descriptor:  descriptor,
		AccessFlags: info.AccessFlags,
		Code:        info.Code,
		exceptions:  info.Exceptions,
	}
}

// Resolve parses the descriptor and the declared checked exceptions. The
// result is memoized.
func (m *Method) Resolve() (MethodType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved {
		return m.typ, m.resolveErr
	}
	m.resolved = true

	m.typ, m.resolveErr = ParseMethodDescriptor(m.Descriptor)
	if m.resolveErr != nil {
		return m.typ, m.resolveErr
	}
	for _, idx := range m.exceptions {
		name, err := m.Owner.Pool.ResolveClassName(idx)
		if err != nil {
			m.resolveErr = err
			return m.typ, err
		}
		m.throws = append(m.throws, name)
	}
	return m.typ, nil
}

// Throws returns the declared checked exceptions. Resolve must have
// succeeded.
func (m *Method) Throws() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throws
}

func (m *Method) IsStatic() bool       { return m.AccessFlags&classfile.AccStatic != 0 }
func (m *Method) IsNative() bool       { return m.AccessFlags&classfile.AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.AccessFlags&classfile.AccAbstract != 0 }
func (m *Method) IsSynchronized() bool { return m.AccessFlags&classfile.AccSynchronized != 0 }
func (m *Method) IsPrivate() bool      { return m.AccessFlags&classfile.AccPrivate != 0 }

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>"
}

// inlineCaches returns the method's call-site caches, creating them when
// create is set.
func (m *Method) inlineCaches(create bool) *InlineCacheTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caches == nil && create {
		m.caches = NewInlineCacheTable()
	}
	return m.caches
}

// Key is the name+descriptor key used in method tables.
func (m *Method) Key() string {
	return memberKey(m.Name, m.Descriptor)
}

// NativeKey is the native bridge key, "<owner>/<name>".
func (m *Method) NativeKey() string {
	return m.Owner.Name + "/" + m.Name
}

// LineFor returns the source line of the instruction at pc, or 0.
func (m *Method) LineFor(pc int) int {
	if m.Code == nil {
		return 0
	}
	return m.Code.LineFor(pc)
}

func (m *Method) String() string {
	return m.Owner.Name + "." + m.Name + m.Descriptor
}
