package classfile

import (
	"fmt"
	"math"
)

// Builder assembles a ClassFile in memory, interning constant pool entries.
type Builder struct {
	cf      *ClassFile
	cpIndex map[string]uint16
}

// MethodSpec describes a method to add with Builder.AddMethod.
type MethodSpec struct {
	Access     uint16
	Name       string
	Descriptor string
	Code       *CodeAttribute // nil for native or abstract methods
	Throws     []string       // class names for the Exceptions attribute
}

// NewBuilder starts a class with the given binary name and super class. An
// empty super name leaves super_class at 0 (only valid for java/lang/Object).
func NewBuilder(name, super string) *Builder {
	b := &Builder{
		cf: &ClassFile{
			MinorVersion: DefaultMinorVersion,
			MajorVersion: DefaultMajorVersion,
			ConstantPool: ConstantPool{{Tag: TagUnusable}},
			AccessFlags:  AccPublic | AccSuper,
		},
		cpIndex: make(map[string]uint16),
	}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	return b
}

func (b *Builder) add(key string, c Constant) uint16 {
	if idx, ok := b.cpIndex[key]; ok {
		return idx
	}
	idx := uint16(len(b.cf.ConstantPool))
	b.cf.ConstantPool = append(b.cf.ConstantPool, c)
	if c.Tag.Wide() {
		b.cf.ConstantPool = append(b.cf.ConstantPool, Constant{Tag: TagUnusable})
	}
	b.cpIndex[key] = idx
	return idx
}

// Utf8 interns a Utf8 entry.
func (b *Builder) Utf8(s string) uint16 {
	return b.add("utf8:"+s, Constant{Tag: TagUtf8, Bytes: EncodeModifiedUTF8(s)})
}

// Class interns a Class entry.
func (b *Builder) Class(name string) uint16 {
	nameIdx := b.Utf8(name)
	return b.add("class:"+name, Constant{Tag: TagClass, NameIndex: nameIdx})
}

// StringConst interns a String entry.
func (b *Builder) StringConst(s string) uint16 {
	idx := b.Utf8(s)
	return b.add("string:"+s, Constant{Tag: TagString, StringIndex: idx})
}

// Integer interns an Integer entry.
func (b *Builder) Integer(v int32) uint16 {
	return b.add(fmt.Sprintf("int:%d", v), Constant{Tag: TagInteger, High: uint32(v)})
}

// Float interns a Float entry.
func (b *Builder) Float(v float32) uint16 {
	bits := math.Float32bits(v)
	return b.add(fmt.Sprintf("float:%08x", bits), Constant{Tag: TagFloat, High: bits})
}

// Long interns a Long entry (two slots).
func (b *Builder) Long(v int64) uint16 {
	u := uint64(v)
	return b.add(fmt.Sprintf("long:%d", v), Constant{Tag: TagLong, High: uint32(u >> 32), Low: uint32(u)})
}

// Double interns a Double entry (two slots).
func (b *Builder) Double(v float64) uint16 {
	u := math.Float64bits(v)
	return b.add(fmt.Sprintf("double:%016x", u), Constant{Tag: TagDouble, High: uint32(u >> 32), Low: uint32(u)})
}

// NameAndType interns a NameAndType entry.
func (b *Builder) NameAndType(name, descriptor string) uint16 {
	n, d := b.Utf8(name), b.Utf8(descriptor)
	return b.add("nat:"+name+":"+descriptor, Constant{Tag: TagNameAndType, NameIndex: n, DescriptorIndex: d})
}

func (b *Builder) memberRef(tag Tag, owner, name, descriptor string) uint16 {
	cls, nat := b.Class(owner), b.NameAndType(name, descriptor)
	key := fmt.Sprintf("%d:%s.%s:%s", tag, owner, name, descriptor)
	return b.add(key, Constant{Tag: tag, ClassIndex: cls, NameAndTypeIndex: nat})
}

// Fieldref interns a Fieldref entry.
func (b *Builder) Fieldref(owner, name, descriptor string) uint16 {
	return b.memberRef(TagFieldref, owner, name, descriptor)
}

// Methodref interns a Methodref entry.
func (b *Builder) Methodref(owner, name, descriptor string) uint16 {
	return b.memberRef(TagMethodref, owner, name, descriptor)
}

// InterfaceMethodref interns an InterfaceMethodref entry.
func (b *Builder) InterfaceMethodref(owner, name, descriptor string) uint16 {
	return b.memberRef(TagInterfaceMethodref, owner, name, descriptor)
}

// MethodHandle interns a MethodHandle entry.
func (b *Builder) MethodHandle(kind uint8, ref uint16) uint16 {
	return b.add(fmt.Sprintf("mh:%d:%d", kind, ref), Constant{Tag: TagMethodHandle, ReferenceKind: kind, ReferenceIndex: ref})
}

// MethodType interns a MethodType entry.
func (b *Builder) MethodType(descriptor string) uint16 {
	d := b.Utf8(descriptor)
	return b.add("mt:"+descriptor, Constant{Tag: TagMethodType, DescriptorIndex: d})
}

// InvokeDynamic interns an InvokeDynamic entry for a bootstrap method index.
func (b *Builder) InvokeDynamic(bootstrap uint16, name, descriptor string) uint16 {
	nat := b.NameAndType(name, descriptor)
	key := fmt.Sprintf("indy:%d:%s:%s", bootstrap, name, descriptor)
	return b.add(key, Constant{Tag: TagInvokeDynamic, BootstrapIndex: bootstrap, NameAndTypeIndex: nat})
}

// AddBootstrapMethod appends a BootstrapMethods entry and returns its index.
func (b *Builder) AddBootstrapMethod(handle uint16, args ...uint16) uint16 {
	b.cf.BootstrapMethods = append(b.cf.BootstrapMethods, BootstrapMethod{MethodRef: handle, Arguments: args})
	return uint16(len(b.cf.BootstrapMethods) - 1)
}

// SetAccess replaces the class access flags.
func (b *Builder) SetAccess(flags uint16) *Builder {
	b.cf.AccessFlags = flags
	return b
}

// SetSourceFile records the SourceFile attribute.
func (b *Builder) SetSourceFile(name string) *Builder {
	b.Utf8(name)
	b.cf.SourceFile = name
	return b
}

// AddInterface declares a direct superinterface.
func (b *Builder) AddInterface(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

// AddField declares a field.
func (b *Builder) AddField(access uint16, name, descriptor string) *Builder {
	b.cf.Fields = append(b.cf.Fields, FieldInfo{
		AccessFlags:     access,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(descriptor),
	})
	return b
}

// AddConstantField declares a static field with a ConstantValue attribute
// pointing at an already interned constant.
func (b *Builder) AddConstantField(access uint16, name, descriptor string, constant uint16) *Builder {
	b.cf.Fields = append(b.cf.Fields, FieldInfo{
		AccessFlags:     access | AccStatic,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(descriptor),
		ConstantValue:   constant,
	})
	return b
}

// AddMethod declares a method.
func (b *Builder) AddMethod(spec MethodSpec) *Builder {
	m := MethodInfo{
		AccessFlags:     spec.Access,
		NameIndex:       b.Utf8(spec.Name),
		DescriptorIndex: b.Utf8(spec.Descriptor),
		Code:            spec.Code,
	}
	for _, t := range spec.Throws {
		m.Exceptions = append(m.Exceptions, b.Class(t))
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return b
}

// Build interns the attribute names the writer will need and returns the
// class file.
func (b *Builder) Build() *ClassFile {
	for _, f := range b.cf.Fields {
		if f.ConstantValue != 0 {
			b.Utf8(AttrConstantValue)
		}
	}
	for _, m := range b.cf.Methods {
		if m.Code != nil {
			b.Utf8(AttrCode)
			if len(m.Code.LineNumbers) > 0 {
				b.Utf8(AttrLineNumberTable)
			}
		}
		if len(m.Exceptions) > 0 {
			b.Utf8(AttrExceptions)
		}
	}
	if b.cf.SourceFile != "" {
		b.Utf8(AttrSourceFile)
	}
	if len(b.cf.BootstrapMethods) > 0 {
		b.Utf8(AttrBootstrapMethods)
	}
	return b.cf
}

// Bytes builds and serializes the class.
func (b *Builder) Bytes() ([]byte, error) {
	return b.Build().Bytes()
}
