package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// writer is a big-endian byte sink.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8)  { w.buf.WriteByte(v) }
func (w *writer) u2(v uint16) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) u4(v uint32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) raw(b []byte) {
	w.buf.Write(b)
}

// Bytes serializes the class file. Every attribute name it emits must be
// present in the constant pool as a Utf8 entry.
func (cf *ClassFile) Bytes() ([]byte, error) {
	e := &encoder{cp: cf.ConstantPool}
	w := &writer{}

	w.u4(Magic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	w.u2(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		c := cf.ConstantPool[i]
		if c.Tag == TagUnusable {
			continue
		}
		if err := writeConstant(w, c); err != nil {
			return nil, fmt.Errorf("pool index %d: %w", i, err)
		}
	}

	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, iface := range cf.Interfaces {
		w.u2(iface)
	}

	w.u2(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		w.u2(f.AccessFlags)
		w.u2(f.NameIndex)
		w.u2(f.DescriptorIndex)
		var attrs []encodedAttr
		if f.ConstantValue != 0 {
			attrs = append(attrs, e.attr(AttrConstantValue, u2bytes(f.ConstantValue)))
		}
		attrs = append(attrs, e.rawAttrs(f.Attributes)...)
		e.writeAttrs(w, attrs)
	}

	w.u2(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		w.u2(m.AccessFlags)
		w.u2(m.NameIndex)
		w.u2(m.DescriptorIndex)
		var attrs []encodedAttr
		if m.Code != nil {
			attrs = append(attrs, e.attr(AttrCode, e.code(m.Code)))
		}
		if len(m.Exceptions) > 0 {
			sub := &writer{}
			sub.u2(uint16(len(m.Exceptions)))
			for _, ex := range m.Exceptions {
				sub.u2(ex)
			}
			attrs = append(attrs, e.attr(AttrExceptions, sub.buf.Bytes()))
		}
		attrs = append(attrs, e.rawAttrs(m.Attributes)...)
		e.writeAttrs(w, attrs)
	}

	var attrs []encodedAttr
	if cf.SourceFile != "" {
		idx, ok := cf.ConstantPool.FindUtf8(cf.SourceFile)
		if !ok {
			e.fail(fmt.Errorf("classfile: source file %q not in constant pool", cf.SourceFile))
		}
		attrs = append(attrs, e.attr(AttrSourceFile, u2bytes(idx)))
	}
	if len(cf.BootstrapMethods) > 0 {
		sub := &writer{}
		sub.u2(uint16(len(cf.BootstrapMethods)))
		for _, bm := range cf.BootstrapMethods {
			sub.u2(bm.MethodRef)
			sub.u2(uint16(len(bm.Arguments)))
			for _, a := range bm.Arguments {
				sub.u2(a)
			}
		}
		attrs = append(attrs, e.attr(AttrBootstrapMethods, sub.buf.Bytes()))
	}
	attrs = append(attrs, e.rawAttrs(cf.Attributes)...)
	e.writeAttrs(w, attrs)

	if e.err != nil {
		return nil, e.err
	}
	return w.buf.Bytes(), nil
}

func writeConstant(w *writer, c Constant) error {
	w.u1(uint8(c.Tag))
	switch c.Tag {
	case TagUtf8:
		if len(c.Bytes) > 0xFFFF {
			return fmt.Errorf("classfile: Utf8 constant too long (%d bytes)", len(c.Bytes))
		}
		w.u2(uint16(len(c.Bytes)))
		w.raw(c.Bytes)
	case TagInteger, TagFloat:
		w.u4(c.High)
	case TagLong, TagDouble:
		w.u4(c.High)
		w.u4(c.Low)
	case TagClass:
		w.u2(c.NameIndex)
	case TagString:
		w.u2(c.StringIndex)
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		w.u2(c.ClassIndex)
		w.u2(c.NameAndTypeIndex)
	case TagNameAndType:
		w.u2(c.NameIndex)
		w.u2(c.DescriptorIndex)
	case TagMethodHandle:
		w.u1(c.ReferenceKind)
		w.u2(c.ReferenceIndex)
	case TagMethodType:
		w.u2(c.DescriptorIndex)
	case TagInvokeDynamic:
		w.u2(c.BootstrapIndex)
		w.u2(c.NameAndTypeIndex)
	default:
		return fmt.Errorf("classfile: cannot write constant with tag %s", c.Tag)
	}
	return nil
}

type encodedAttr struct {
	nameIndex uint16
	data      []byte
}

// encoder resolves attribute names against the pool, keeping the first error.
type encoder struct {
	cp  ConstantPool
	err error
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) attr(name string, data []byte) encodedAttr {
	idx, ok := e.cp.FindUtf8(name)
	if !ok {
		e.fail(fmt.Errorf("classfile: attribute name %q not in constant pool", name))
	}
	return encodedAttr{nameIndex: idx, data: data}
}

func (e *encoder) rawAttrs(attrs []Attribute) []encodedAttr {
	out := make([]encodedAttr, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, e.attr(a.Name, a.Data))
	}
	return out
}

func (e *encoder) writeAttrs(w *writer, attrs []encodedAttr) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(a.nameIndex)
		w.u4(uint32(len(a.data)))
		w.raw(a.data)
	}
}

func (e *encoder) code(c *CodeAttribute) []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.raw(c.Code)
	w.u2(uint16(len(c.ExceptionTable)))
	for _, ex := range c.ExceptionTable {
		w.u2(ex.StartPC)
		w.u2(ex.EndPC)
		w.u2(ex.HandlerPC)
		w.u2(ex.CatchType)
	}
	var attrs []encodedAttr
	if len(c.LineNumbers) > 0 {
		sub := &writer{}
		sub.u2(uint16(len(c.LineNumbers)))
		for _, ln := range c.LineNumbers {
			sub.u2(ln.StartPC)
			sub.u2(ln.Line)
		}
		attrs = append(attrs, e.attr(AttrLineNumberTable, sub.buf.Bytes()))
	}
	attrs = append(attrs, e.rawAttrs(c.Attributes)...)
	e.writeAttrs(w, attrs)
	return w.buf.Bytes()
}

func u2bytes(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
