package vm

import (
	"bytes"
	"testing"

	"github.com/chazu/espresso/classfile"
)

func TestConstantPoolResolve(t *testing.T) {
	b := classfile.NewBuilder("demo/Pool", "java/lang/Object")
	utf := b.Utf8("café\x00")
	str := b.StringConst("hello")
	i := b.Integer(-17)
	f := b.Float(1.5)
	l := b.Long(1 << 40)
	d := b.Double(-0.25)
	field := b.Fieldref("demo/Pool", "count", "I")
	method := b.Methodref("demo/Pool", "run", "()V")
	iface := b.InterfaceMethodref("java/lang/Runnable", "run", "()V")

	p := NewConstantPool("demo/Pool", b.Build())

	raw, err := p.ResolveUtf8(utf)
	if err != nil {
		t.Fatalf("ResolveUtf8: %v", err)
	}
	// Stored bytes are modified UTF-8: NUL is two bytes.
	if want := []byte{'c', 'a', 'f', 0xC3, 0xA9, 0xC0, 0x80}; !bytes.Equal(raw, want) {
		t.Errorf("ResolveUtf8 = % X, want % X", raw, want)
	}

	if s, err := p.ResolveString(str); err != nil || s != "hello" {
		t.Errorf("ResolveString = %q, %v", s, err)
	}
	if name, err := p.ResolveClassName(b.Class("demo/Pool")); err != nil || name != "demo/Pool" {
		t.Errorf("ResolveClassName = %q, %v", name, err)
	}

	numerics := []struct {
		idx  uint16
		want Value
	}{
		{i, IntValue(-17)},
		{f, FloatValue(1.5)},
		{l, LongValue(1 << 40)},
		{d, DoubleValue(-0.25)},
	}
	for _, tt := range numerics {
		n, err := p.ResolveNumeric(tt.idx)
		if err != nil {
			t.Errorf("ResolveNumeric(%d): %v", tt.idx, err)
			continue
		}
		if got := n.Value(); got != tt.want {
			t.Errorf("ResolveNumeric(%d) = %v, want %v", tt.idx, got, tt.want)
		}
	}

	fr, err := p.ResolveFieldref(field)
	if err != nil || fr.String() != "demo/Pool.count:I" {
		t.Errorf("ResolveFieldref = %v, %v", fr, err)
	}
	mr, err := p.ResolveMethodref(method)
	if err != nil || mr.Interface || mr.Name != "run" {
		t.Errorf("ResolveMethodref = %+v, %v", mr, err)
	}
	ir, err := p.ResolveMethodref(iface)
	if err != nil || !ir.Interface || ir.Owner != "java/lang/Runnable" {
		t.Errorf("ResolveMethodref(interface) = %+v, %v", ir, err)
	}
}

func TestConstantPoolErrors(t *testing.T) {
	b := classfile.NewBuilder("demo/Pool", "java/lang/Object")
	l := b.Long(5)
	str := b.StringConst("x")
	p := NewConstantPool("demo/Pool", b.Build())

	tests := []struct {
		name string
		fn   func() error
	}{
		{"index zero", func() error { _, err := p.ResolveUtf8(0); return err }},
		{"out of range", func() error { _, err := p.ResolveUtf8(uint16(p.Len())); return err }},
		{"phantom slot after long", func() error { _, err := p.ResolveNumeric(l + 1); return err }},
		{"wrong tag", func() error { _, err := p.ResolveClassName(str); return err }},
		{"string as number", func() error { _, err := p.ResolveNumeric(str); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !IsKind(err, ErrResolution) {
				t.Errorf("err = %v, want ResolutionError", err)
			}
		})
	}

	if tag := p.Tag(l + 1); tag != classfile.TagUnusable {
		t.Errorf("Tag(phantom) = %v, want unusable", tag)
	}
}

func TestConstantPoolInvokeDynamic(t *testing.T) {
	b := classfile.NewBuilder("demo/Indy", "java/lang/Object")
	handle := b.MethodHandle(classfile.RefInvokeStatic,
		b.Methodref(stringConcatFactory, "makeConcatWithConstants", concatBootstrapDescriptor))
	recipe := b.StringConst("x=\u0001")
	bsm := b.AddBootstrapMethod(handle, recipe)
	indy := b.InvokeDynamic(bsm, "makeConcatWithConstants", "(I)Ljava/lang/String;")

	p := NewConstantPool("demo/Indy", b.Build())
	cs, err := p.ResolveInvokeDynamic(indy)
	if err != nil {
		t.Fatalf("ResolveInvokeDynamic: %v", err)
	}
	if cs.Name != "makeConcatWithConstants" || cs.Descriptor != "(I)Ljava/lang/String;" {
		t.Errorf("call site = %s%s", cs.Name, cs.Descriptor)
	}
	if cs.Bootstrap.Kind != classfile.RefInvokeStatic || cs.Bootstrap.Ref.Owner != stringConcatFactory {
		t.Errorf("bootstrap = %+v", cs.Bootstrap)
	}
	if len(cs.Args) != 1 || cs.Args[0] != recipe {
		t.Errorf("args = %v, want [%d]", cs.Args, recipe)
	}

	again, _ := p.ResolveInvokeDynamic(indy)
	if again != cs {
		t.Error("call site was not memoized")
	}
}
