package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/espresso/classfile"
	"github.com/pmezard/go-difflib/difflib"
)

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op       Opcode
		name     string
		operands int
	}{
		{OpNop, "nop", 0},
		{OpIadd, "iadd", 0},
		{OpBipush, "bipush", 1},
		{OpSipush, "sipush", 2},
		{OpIinc, "iinc", 2},
		{OpGoto, "goto", 2},
		{OpGotoW, "goto_w", 4},
		{OpInvokeinterface, "invokeinterface", 4},
		{OpTableswitch, "tableswitch", -1},
		{OpWide, "wide", -1},
	}

	for _, tt := range tests {
		if got := tt.op.Name(); got != tt.name {
			t.Errorf("Opcode(0x%02X).Name() = %q, want %q", byte(tt.op), got, tt.name)
		}
		if got := tt.op.OperandBytes(); got != tt.operands {
			t.Errorf("%s.OperandBytes() = %d, want %d", tt.name, got, tt.operands)
		}
		if !tt.op.Known() {
			t.Errorf("%s.Known() = false", tt.name)
		}
	}

	if Opcode(0xCB).Known() {
		t.Error("0xCB should be undefined")
	}
	if got := Opcode(0xCB).String(); got != "unknown_cb" {
		t.Errorf("Opcode(0xCB).String() = %q", got)
	}
}

func TestOpcodeIsBranch(t *testing.T) {
	for _, op := range []Opcode{OpIfeq, OpIfIcmpge, OpGoto, OpJsr, OpIfnull, OpIfnonnull, OpGotoW, OpJsrW} {
		if !op.IsBranch() {
			t.Errorf("%s.IsBranch() = false", op)
		}
	}
	for _, op := range []Opcode{OpRet, OpTableswitch, OpIreturn, OpIinc} {
		if op.IsBranch() {
			t.Errorf("%s.IsBranch() = true", op)
		}
	}
}

func TestBytecodeBuilderForwardLabel(t *testing.T) {
	b := NewBytecodeBuilder()
	end := b.NewLabel()
	b.EmitJump(OpGoto, end)
	b.Emit(OpNop)
	b.Mark(end)
	b.Emit(OpReturn)

	want := []byte{0xA7, 0x00, 0x04, 0x00, 0xB1}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("bytes = % X, want % X", b.Bytes(), want)
	}
}

func TestBytecodeBuilderBackwardLabel(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNop, OpNop)
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpNop)
	b.EmitJump(OpGoto, top)

	// goto at 3 targets 2
	want := []byte{0x00, 0x00, 0x00, 0xA7, 0xFF, 0xFF}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("bytes = % X, want % X", b.Bytes(), want)
	}
}

func TestBytecodeBuilderWide(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *BytecodeBuilder)
		want  []byte
	}{
		{"narrow iload", func(b *BytecodeBuilder) { b.EmitLocal(OpIload, 4) }, []byte{0x15, 0x04}},
		{"wide iload", func(b *BytecodeBuilder) { b.EmitLocal(OpIload, 300) }, []byte{0xC4, 0x15, 0x01, 0x2C}},
		{"narrow iinc", func(b *BytecodeBuilder) { b.EmitIinc(1, -1) }, []byte{0x84, 0x01, 0xFF}},
		{"wide iinc", func(b *BytecodeBuilder) { b.EmitIinc(2, 1000) }, []byte{0xC4, 0x84, 0x00, 0x02, 0x03, 0xE8}},
		{"ldc", func(b *BytecodeBuilder) { b.EmitLdc(7) }, []byte{0x12, 0x07}},
		{"ldc_w", func(b *BytecodeBuilder) { b.EmitLdc(0x0102) }, []byte{0x13, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBytecodeBuilder()
			tt.build(b)
			if !bytes.Equal(b.Bytes(), tt.want) {
				t.Errorf("bytes = % X, want % X", b.Bytes(), tt.want)
			}
		})
	}
}

func TestBytecodeReader(t *testing.T) {
	code := []byte{0x10, 0xFE, 0x11, 0x01, 0x00, 0xC8, 0xFF, 0xFF, 0xFF, 0xFD}
	r := NewBytecodeReader(code)

	if op := r.ReadOpcode(); op != OpBipush {
		t.Fatalf("first opcode = %s", op)
	}
	if v := r.ReadInt8(); v != -2 {
		t.Errorf("bipush operand = %d, want -2", v)
	}
	if op := r.ReadOpcode(); op != OpSipush {
		t.Fatalf("second opcode = %s", op)
	}
	if v := r.ReadInt16(); v != 256 {
		t.Errorf("sipush operand = %d, want 256", v)
	}
	if op := r.ReadOpcode(); op != OpGotoW {
		t.Fatalf("third opcode = %s", op)
	}
	if v := r.ReadInt32(); v != -3 {
		t.Errorf("goto_w offset = %d, want -3", v)
	}
	if r.HasMore() {
		t.Errorf("reader has %d trailing bytes", r.Len()-r.Position())
	}
}

func TestBytecodeReaderUnderflow(t *testing.T) {
	r := NewBytecodeReader([]byte{0x11, 0x01})
	r.ReadOpcode()

	defer func() {
		rec := recover()
		e, ok := rec.(*Error)
		if !ok {
			t.Fatalf("recovered %v, want *Error", rec)
		}
		if e.Kind != ErrClassFormat {
			t.Errorf("kind = %s, want ClassFormatError", e.Kind)
		}
	}()
	r.ReadUint16()
}

func TestTableSwitchDecode(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitTableSwitchOffsets(0, 3, 999, 100, 200, 300, 400)

	// opcode, 3 padding bytes, default/low/high, 4 offsets
	if b.Len() != 1+3+12+16 {
		t.Fatalf("tableswitch length = %d, want 32", b.Len())
	}

	r := NewBytecodeReader(b.Bytes())
	if op := r.ReadOpcode(); op != OpTableswitch {
		t.Fatalf("opcode = %s", op)
	}
	sw := r.ReadTableSwitch()
	tests := []struct {
		key  int32
		want int32
	}{
		{0, 100},
		{1, 200},
		{3, 400},
		{5, 999},
		{-1, 999},
	}
	for _, tt := range tests {
		if got := sw.Target(tt.key); got != tt.want {
			t.Errorf("Target(%d) = %d, want %d", tt.key, got, tt.want)
		}
	}
	if r.HasMore() {
		t.Error("reader did not consume the whole switch")
	}
}

func TestLookupSwitchLabels(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNop)
	dflt, ten, twenty := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.EmitLookupSwitch(dflt, []int32{10, 20}, []*Label{ten, twenty})
	b.Mark(ten).Emit(OpIconst1, OpIreturn)
	b.Mark(twenty).Emit(OpIconst2, OpIreturn)
	b.Mark(dflt).Emit(OpIconst0, OpIreturn)

	r := NewBytecodeReader(b.Bytes())
	r.ReadOpcode()
	switchPC := r.Position()
	r.ReadOpcode()
	sw := r.ReadLookupSwitch()

	// nop, opcode, 2 padding bytes, default, npairs, 2 pairs
	body := 2 + 2 + 8 + 16
	tests := []struct {
		key  int32
		want int
	}{
		{10, body},
		{20, body + 2},
		{15, body + 4},
	}
	for _, tt := range tests {
		if got := switchPC + int(sw.Target(tt.key)); got != tt.want {
			t.Errorf("key %d jumps to %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestDisassembleLoop(t *testing.T) {
	b := NewBytecodeBuilder()
	loop, done := b.NewLabel(), b.NewLabel()
	b.Emit(OpIconst0, OpIstore1)
	b.Mark(loop)
	b.Emit(OpIload1)
	b.EmitInt8(OpBipush, 10)
	b.EmitJump(OpIfIcmpge, done)
	b.EmitIinc(1, 1)
	b.EmitJump(OpGoto, loop)
	b.Mark(done)
	b.Emit(OpIload1, OpIreturn)

	got, err := Disassemble(b.Bytes(), nil)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	want := strings.Join([]string{
		"   0: iconst_0",
		"   1: istore_1",
		"   2: iload_1",
		"   3: bipush        10",
		"   5: if_icmpge     14",
		"   8: iinc          1, 1",
		"  11: goto          2",
		"  14: iload_1",
		"  15: ireturn",
	}, "\n")
	assertListing(t, got, want)
}

func TestDisassembleConstantComments(t *testing.T) {
	cb := classfile.NewBuilder("demo/Hello", "java/lang/Object")
	out := cb.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	printInt := cb.Methodref("java/io/PrintStream", "println", "(I)V")

	b := NewBytecodeBuilder()
	b.EmitUint16(OpGetstatic, out)
	b.EmitInt8(OpBipush, 42)
	b.EmitUint16(OpInvokevirtual, printInt)
	b.Emit(OpReturn)

	got, err := Disassemble(b.Bytes(), cb.Build().ConstantPool)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	want := strings.Join([]string{
		"   0: getstatic     #10                 // Field java/lang/System.out:Ljava/io/PrintStream;",
		"   3: bipush        42",
		"   5: invokevirtual #16                 // Method java/io/PrintStream.println:(I)V",
		"   8: return",
	}, "\n")
	assertListing(t, got, want)
}

func TestDisassembleTruncatedCode(t *testing.T) {
	_, err := Disassemble([]byte{byte(OpSipush), 0x01}, nil)
	if !IsKind(err, ErrClassFormat) {
		t.Errorf("err = %v, want ClassFormatError", err)
	}
}

func TestDisassembleClass(t *testing.T) {
	cb := classfile.NewBuilder("demo/Hello", "java/lang/Object")
	cb.SetSourceFile("Hello.java")
	cb.AddField(classfile.AccPrivate, "count", "I")
	cb.AddMethod(classfile.MethodSpec{
		Access:     classfile.AccPublic | classfile.AccStatic,
		Name:       "answer",
		Descriptor: "()I",
		Code:       code(1, 0, NewBytecodeBuilder().EmitInt8(OpBipush, 42).Emit(OpIreturn)),
	})

	got, err := DisassembleClass(cb.Build())
	if err != nil {
		t.Fatalf("DisassembleClass failed: %v", err)
	}
	for _, want := range []string{
		`Compiled from "Hello.java"`,
		"class demo.Hello {",
		"  I count;",
		"  answer()I;",
		"    Code:",
		"       0: bipush        42",
		"       2: ireturn",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("listing missing %q:\n%s", want, got)
		}
	}
}

func assertListing(t *testing.T, got, want string) {
	t.Helper()
	if got == want {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want + "\n"),
		B:        difflib.SplitLines(got + "\n"),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	t.Errorf("listing mismatch:\n%s", diff)
}
