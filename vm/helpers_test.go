package vm

import (
	"bytes"
	"testing"

	"github.com/chazu/espresso/classfile"
	"github.com/chazu/espresso/classpath"
)

const (
	mainDescriptor            = "([Ljava/lang/String;)V"
	concatBootstrapDescriptor = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;" +
		"Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"
)

// testProgram collects classes built in a test into an in-memory class path.
type testProgram struct {
	t     *testing.T
	entry *classpath.MemoryEntry
}

func newTestProgram(t *testing.T) *testProgram {
	t.Helper()
	return &testProgram{t: t, entry: classpath.NewMemoryEntry("test")}
}

func (p *testProgram) add(b *classfile.Builder) {
	p.t.Helper()
	name, err := b.Build().ClassName()
	if err != nil {
		p.t.Fatalf("ClassName: %v", err)
	}
	data, err := b.Bytes()
	if err != nil {
		p.t.Fatalf("serialize %s: %v", name, err)
	}
	p.entry.Put(name, data)
}

func (p *testProgram) newVM(opts Options) (*VM, *bytes.Buffer, *bytes.Buffer) {
	p.t.Helper()
	var stdout, stderr bytes.Buffer
	opts.ClassPath = p.entry
	opts.Stdout = &stdout
	opts.Stderr = &stderr
	machine, err := New(opts)
	if err != nil {
		p.t.Fatalf("New: %v", err)
	}
	p.t.Cleanup(func() { machine.Close() })
	return machine, &stdout, &stderr
}

// run executes mainClass and returns what it printed.
func (p *testProgram) run(mainClass string) (stdout, stderr string, err error) {
	p.t.Helper()
	machine, out, errOut := p.newVM(Options{})
	err = machine.Run(mainClass, nil)
	return out.String(), errOut.String(), err
}

func addCode(b *classfile.Builder, access uint16, name, desc string, maxStack, maxLocals uint16, bc *BytecodeBuilder) *classfile.CodeAttribute {
	c := code(maxStack, maxLocals, bc)
	b.AddMethod(classfile.MethodSpec{Access: access, Name: name, Descriptor: desc, Code: c})
	return c
}

func addMain(b *classfile.Builder, maxStack, maxLocals uint16, bc *BytecodeBuilder) *classfile.CodeAttribute {
	return addCode(b, classfile.AccPublic|classfile.AccStatic, "main", mainDescriptor, maxStack, maxLocals, bc)
}

// addConstructor declares a no-argument constructor calling super().
func addConstructor(b *classfile.Builder, super string) {
	bc := NewBytecodeBuilder().
		Emit(OpAload0).
		EmitUint16(OpInvokespecial, b.Methodref(super, "<init>", "()V")).
		Emit(OpReturn)
	addCode(b, classfile.AccPublic, "<init>", "()V", 1, 1, bc)
}

func emitOut(b *classfile.Builder, bc *BytecodeBuilder) {
	bc.EmitUint16(OpGetstatic, b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;"))
}

func emitPrintln(b *classfile.Builder, bc *BytecodeBuilder, arg string) {
	bc.EmitUint16(OpInvokevirtual, b.Methodref(printStreamClass, "println", "("+arg+")V"))
}

func emitNew(b *classfile.Builder, bc *BytecodeBuilder, class string) {
	bc.EmitUint16(OpNew, b.Class(class)).
		Emit(OpDup).
		EmitUint16(OpInvokespecial, b.Methodref(class, "<init>", "()V"))
}

// newTestThread returns a VM thread for driving frames directly.
func newTestThread(t *testing.T) *Thread {
	t.Helper()
	machine, _, _ := newTestProgram(t).newVM(Options{})
	return machine.NewThread("test")
}

// frameFor builds a frame over raw code owned by a fresh class.
func frameFor(code []byte, maxStack, maxLocals uint16) *Frame {
	owner := newKlass(KindInstance, "demo/Raw")
	owner.Pool = NewConstantPool(owner.Name, classfile.NewBuilder(owner.Name, "java/lang/Object").Build())
	m := &Method{
		Owner:       owner,
		Name:        "raw",
		Descriptor:  "()V",
		AccessFlags: classfile.AccStatic,
		Code:        &classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code},
	}
	return NewFrame(m)
}
