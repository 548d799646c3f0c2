// Package classfile holds the structured form of a JVM class file together
// with a decoder for the binary format, a writer that serializes it back, and
// a Builder for synthesizing classes in memory.
package classfile

import "fmt"

// Magic is the first word of every class file.
const Magic = 0xCAFEBABE

// Default version emitted by the Builder (Java 8).
const (
	DefaultMajorVersion = 52
	DefaultMinorVersion = 0
)

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUnusable           Tag = 0 // slot 0 and the phantom slot after Long/Double
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagInvokeDynamic      Tag = 18
)

var tagNames = map[Tag]string{
	TagUnusable:           "Unusable",
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagInvokeDynamic:      "InvokeDynamic",
}

// String implements the Stringer interface.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Wide reports whether an entry with this tag occupies two pool slots.
func (t Tag) Wide() bool {
	return t == TagLong || t == TagDouble
}

// Constant is one constant pool entry. Only the fields relevant to Tag are
// populated; the rest stay zero.
type Constant struct {
	Tag Tag `cbor:"1,keyasint"`

	Bytes []byte `cbor:"2,keyasint,omitempty"` // Utf8, modified UTF-8 as stored

	NameIndex        uint16 `cbor:"3,keyasint,omitempty"` // Class, NameAndType
	DescriptorIndex  uint16 `cbor:"4,keyasint,omitempty"` // NameAndType, MethodType
	ClassIndex       uint16 `cbor:"5,keyasint,omitempty"` // Fieldref, Methodref, InterfaceMethodref
	NameAndTypeIndex uint16 `cbor:"6,keyasint,omitempty"` // member refs, InvokeDynamic
	StringIndex      uint16 `cbor:"7,keyasint,omitempty"` // String
	ReferenceKind    uint8  `cbor:"8,keyasint,omitempty"` // MethodHandle
	ReferenceIndex   uint16 `cbor:"9,keyasint,omitempty"` // MethodHandle
	BootstrapIndex   uint16 `cbor:"10,keyasint,omitempty"` // InvokeDynamic

	// Integer and Float keep their raw bits in High. Long and Double keep
	// the high and low 32-bit halves.
	High uint32 `cbor:"11,keyasint,omitempty"`
	Low  uint32 `cbor:"12,keyasint,omitempty"`
}

// ConstantPool is the 1-based pool of a class. Index 0 is always a
// TagUnusable placeholder, as is the slot following every Long/Double.
type ConstantPool []Constant

// Len returns the constant_pool_count value (number of slots incl. slot 0).
func (cp ConstantPool) Len() int {
	return len(cp)
}

// Utf8 returns the decoded string stored at index i, if it is a Utf8 entry.
func (cp ConstantPool) Utf8(i uint16) (string, bool) {
	if int(i) <= 0 || int(i) >= len(cp) || cp[i].Tag != TagUtf8 {
		return "", false
	}
	s, err := DecodeModifiedUTF8(cp[i].Bytes)
	if err != nil {
		return "", false
	}
	return s, true
}

// FindUtf8 returns the index of a Utf8 entry holding s.
func (cp ConstantPool) FindUtf8(s string) (uint16, bool) {
	enc := EncodeModifiedUTF8(s)
	for i := 1; i < len(cp); i++ {
		if cp[i].Tag == TagUtf8 && string(cp[i].Bytes) == string(enc) {
			return uint16(i), true
		}
	}
	return 0, false
}

// ClassName returns the name referenced by a Class entry at index i.
func (cp ConstantPool) ClassName(i uint16) (string, bool) {
	if int(i) <= 0 || int(i) >= len(cp) || cp[i].Tag != TagClass {
		return "", false
	}
	return cp.Utf8(cp[i].NameIndex)
}

// ---------------------------------------------------------------------------
// Access flags
// ---------------------------------------------------------------------------

const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020 // classes
	AccSynchronized uint16 = 0x0020 // methods
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
)

// Method handle reference kinds.
const (
	RefGetField         uint8 = 1
	RefGetStatic        uint8 = 2
	RefPutField         uint8 = 3
	RefPutStatic        uint8 = 4
	RefInvokeVirtual    uint8 = 5
	RefInvokeStatic     uint8 = 6
	RefInvokeSpecial    uint8 = 7
	RefNewInvokeSpecial uint8 = 8
	RefInvokeInterface  uint8 = 9
)

// ---------------------------------------------------------------------------
// Class structure
// ---------------------------------------------------------------------------

// Attribute names understood by the decoder and writer.
const (
	AttrCode             = "Code"
	AttrConstantValue    = "ConstantValue"
	AttrExceptions       = "Exceptions"
	AttrSourceFile       = "SourceFile"
	AttrLineNumberTable  = "LineNumberTable"
	AttrBootstrapMethods = "BootstrapMethods"
)

// ClassFile is the structured description of one class.
type ClassFile struct {
	MinorVersion uint16       `cbor:"1,keyasint"`
	MajorVersion uint16       `cbor:"2,keyasint"`
	ConstantPool ConstantPool `cbor:"3,keyasint"`
	AccessFlags  uint16       `cbor:"4,keyasint"`
	ThisClass    uint16       `cbor:"5,keyasint"`
	SuperClass   uint16       `cbor:"6,keyasint"`
	Interfaces   []uint16     `cbor:"7,keyasint,omitempty"`
	Fields       []FieldInfo  `cbor:"8,keyasint,omitempty"`
	Methods      []MethodInfo `cbor:"9,keyasint,omitempty"`

	SourceFile       string            `cbor:"10,keyasint,omitempty"`
	BootstrapMethods []BootstrapMethod `cbor:"11,keyasint,omitempty"`
	Attributes       []Attribute       `cbor:"12,keyasint,omitempty"` // not otherwise understood
}

// FieldInfo describes a declared field.
type FieldInfo struct {
	AccessFlags     uint16      `cbor:"1,keyasint"`
	NameIndex       uint16      `cbor:"2,keyasint"`
	DescriptorIndex uint16      `cbor:"3,keyasint"`
	ConstantValue   uint16      `cbor:"4,keyasint,omitempty"` // pool index, 0 if absent
	Attributes      []Attribute `cbor:"5,keyasint,omitempty"`
}

// MethodInfo describes a declared method. Code is nil for native and
// abstract methods.
type MethodInfo struct {
	AccessFlags     uint16         `cbor:"1,keyasint"`
	NameIndex       uint16         `cbor:"2,keyasint"`
	DescriptorIndex uint16         `cbor:"3,keyasint"`
	Code            *CodeAttribute `cbor:"4,keyasint,omitempty"`
	Exceptions      []uint16       `cbor:"5,keyasint,omitempty"` // Class entries
	Attributes      []Attribute    `cbor:"6,keyasint,omitempty"`
}

// CodeAttribute is a method body.
type CodeAttribute struct {
	MaxStack       uint16                `cbor:"1,keyasint"`
	MaxLocals      uint16                `cbor:"2,keyasint"`
	Code           []byte                `cbor:"3,keyasint"`
	ExceptionTable []ExceptionTableEntry `cbor:"4,keyasint,omitempty"`
	LineNumbers    []LineNumber          `cbor:"5,keyasint,omitempty"`
	Attributes     []Attribute           `cbor:"6,keyasint,omitempty"`
}

// ExceptionTableEntry covers [StartPC, EndPC). CatchType 0 catches anything.
type ExceptionTableEntry struct {
	StartPC   uint16 `cbor:"1,keyasint"`
	EndPC     uint16 `cbor:"2,keyasint"`
	HandlerPC uint16 `cbor:"3,keyasint"`
	CatchType uint16 `cbor:"4,keyasint"`
}

// LineNumber maps a bytecode offset to a source line.
type LineNumber struct {
	StartPC uint16 `cbor:"1,keyasint"`
	Line    uint16 `cbor:"2,keyasint"`
}

// BootstrapMethod is one entry of the BootstrapMethods attribute.
type BootstrapMethod struct {
	MethodRef uint16   `cbor:"1,keyasint"` // MethodHandle entry
	Arguments []uint16 `cbor:"2,keyasint,omitempty"`
}

// Attribute is an attribute the decoder does not interpret.
type Attribute struct {
	Name string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
}

// ClassName returns the binary name of the class, e.g. "java/lang/String".
func (cf *ClassFile) ClassName() (string, error) {
	name, ok := cf.ConstantPool.ClassName(cf.ThisClass)
	if !ok {
		return "", fmt.Errorf("classfile: this_class #%d is not a Class entry", cf.ThisClass)
	}
	return name, nil
}

// LineFor returns the source line for a bytecode offset, or 0 when the
// method carries no line information.
func (c *CodeAttribute) LineFor(pc int) int {
	line := 0
	best := -1
	for _, ln := range c.LineNumbers {
		if int(ln.StartPC) <= pc && int(ln.StartPC) > best {
			best = int(ln.StartPC)
			line = int(ln.Line)
		}
	}
	return line
}
