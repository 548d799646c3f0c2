package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadMagic      = errors.New("classfile: invalid magic number: expected CAFEBABE")
	ErrTruncated     = errors.New("classfile: unexpected end of class data")
	ErrTrailingBytes = errors.New("classfile: trailing bytes after class data")
)

// reader walks a class-file byte slice. The first failure is sticky: later
// reads return zero values and Parse reports that first error.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.offset+n > len(r.data) {
		r.fail(fmt.Errorf("%w at offset %d (need %d bytes)", ErrTruncated, r.offset, n))
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.offset]
	r.offset++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.offset:r.offset+n])
	r.offset += n
	return b
}

// Parse decodes a binary class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}
	if r.u4() != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrBadMagic
	}

	cf := &ClassFile{}
	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	cf.ConstantPool = r.constantPool()
	if r.err != nil {
		return nil, r.err
	}

	cf.AccessFlags = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()

	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		cf.Interfaces = append(cf.Interfaces, r.u2())
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		cf.Fields = append(cf.Fields, r.field(cf.ConstantPool))
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		cf.Methods = append(cf.Methods, r.method(cf.ConstantPool))
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, data := r.attribute(cf.ConstantPool)
		switch name {
		case AttrSourceFile:
			sub := &reader{data: data}
			if s, ok := cf.ConstantPool.Utf8(sub.u2()); ok {
				cf.SourceFile = s
			}
			r.fail(sub.err)
		case AttrBootstrapMethods:
			cf.BootstrapMethods = parseBootstrapMethods(data, r)
		default:
			cf.Attributes = append(cf.Attributes, Attribute{Name: name, Data: data})
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.offset != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(data)-r.offset)
	}
	return cf, nil
}

func (r *reader) constantPool() ConstantPool {
	count := int(r.u2())
	if count == 0 {
		r.fail(errors.New("classfile: constant_pool_count is 0"))
		return nil
	}
	cp := make(ConstantPool, count)
	for i := 1; i < count && r.err == nil; i++ {
		c := Constant{Tag: Tag(r.u1())}
		switch c.Tag {
		case TagUtf8:
			c.Bytes = r.bytes(int(r.u2()))
		case TagInteger, TagFloat:
			c.High = r.u4()
		case TagLong, TagDouble:
			c.High = r.u4()
			c.Low = r.u4()
		case TagClass:
			c.NameIndex = r.u2()
		case TagString:
			c.StringIndex = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			c.ClassIndex = r.u2()
			c.NameAndTypeIndex = r.u2()
		case TagNameAndType:
			c.NameIndex = r.u2()
			c.DescriptorIndex = r.u2()
		case TagMethodHandle:
			c.ReferenceKind = r.u1()
			c.ReferenceIndex = r.u2()
		case TagMethodType:
			c.DescriptorIndex = r.u2()
		case TagInvokeDynamic:
			c.BootstrapIndex = r.u2()
			c.NameAndTypeIndex = r.u2()
		default:
			r.fail(fmt.Errorf("classfile: unknown constant tag %d at pool index %d", c.Tag, i))
			return nil
		}
		cp[i] = c
		if c.Tag.Wide() {
			// The following slot is a phantom and stays TagUnusable.
			i++
			if i >= count {
				r.fail(fmt.Errorf("classfile: %s constant at index %d overruns the pool", c.Tag, i-1))
			}
		}
	}
	return cp
}

func (r *reader) attribute(cp ConstantPool) (string, []byte) {
	nameIndex := r.u2()
	length := int(r.u4())
	data := r.bytes(length)
	if r.err != nil {
		return "", nil
	}
	name, ok := cp.Utf8(nameIndex)
	if !ok {
		r.fail(fmt.Errorf("classfile: attribute name #%d is not a Utf8 entry", nameIndex))
	}
	return name, data
}

func (r *reader) field(cp ConstantPool) FieldInfo {
	f := FieldInfo{
		AccessFlags:     r.u2(),
		NameIndex:       r.u2(),
		DescriptorIndex: r.u2(),
	}
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, data := r.attribute(cp)
		if name == AttrConstantValue && len(data) == 2 {
			f.ConstantValue = binary.BigEndian.Uint16(data)
			continue
		}
		f.Attributes = append(f.Attributes, Attribute{Name: name, Data: data})
	}
	return f
}

func (r *reader) method(cp ConstantPool) MethodInfo {
	m := MethodInfo{
		AccessFlags:     r.u2(),
		NameIndex:       r.u2(),
		DescriptorIndex: r.u2(),
	}
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, data := r.attribute(cp)
		switch name {
		case AttrCode:
			m.Code = parseCode(data, cp, r)
		case AttrExceptions:
			sub := &reader{data: data}
			count := int(sub.u2())
			for j := 0; j < count && sub.err == nil; j++ {
				m.Exceptions = append(m.Exceptions, sub.u2())
			}
			r.fail(sub.err)
		default:
			m.Attributes = append(m.Attributes, Attribute{Name: name, Data: data})
		}
	}
	return m
}

func parseCode(data []byte, cp ConstantPool, parent *reader) *CodeAttribute {
	r := &reader{data: data}
	c := &CodeAttribute{
		MaxStack:  r.u2(),
		MaxLocals: r.u2(),
	}
	c.Code = r.bytes(int(r.u4()))
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		c.ExceptionTable = append(c.ExceptionTable, ExceptionTableEntry{
			StartPC:   r.u2(),
			EndPC:     r.u2(),
			HandlerPC: r.u2(),
			CatchType: r.u2(),
		})
	}
	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, attr := r.attribute(cp)
		if name == AttrLineNumberTable {
			sub := &reader{data: attr}
			count := int(sub.u2())
			for j := 0; j < count && sub.err == nil; j++ {
				c.LineNumbers = append(c.LineNumbers, LineNumber{StartPC: sub.u2(), Line: sub.u2()})
			}
			r.fail(sub.err)
			continue
		}
		c.Attributes = append(c.Attributes, Attribute{Name: name, Data: attr})
	}
	if r.err != nil {
		parent.fail(fmt.Errorf("Code attribute: %w", r.err))
		return nil
	}
	return c
}

func parseBootstrapMethods(data []byte, parent *reader) []BootstrapMethod {
	r := &reader{data: data}
	n := int(r.u2())
	methods := make([]BootstrapMethod, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		bm := BootstrapMethod{MethodRef: r.u2()}
		argc := int(r.u2())
		for j := 0; j < argc && r.err == nil; j++ {
			bm.Arguments = append(bm.Arguments, r.u2())
		}
		methods = append(methods, bm)
	}
	if r.err != nil {
		parent.fail(fmt.Errorf("BootstrapMethods attribute: %w", r.err))
	}
	return methods
}
