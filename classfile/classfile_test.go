package classfile

import (
	"errors"
	"testing"
)

func buildSample(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder("demo/Point", "java/lang/Object")
	b.SetSourceFile("Point.java")
	b.AddInterface("java/lang/Runnable")
	b.AddField(AccPrivate, "x", "I")
	b.AddConstantField(AccPublic|AccFinal, "ORIGIN", "J", b.Long(-7))
	b.AddMethod(MethodSpec{
		Access:     AccPublic,
		Name:       "run",
		Descriptor: "()V",
		Code: &CodeAttribute{
			MaxStack:  1,
			MaxLocals: 1,
			Code:      []byte{0xB1}, // return
			ExceptionTable: []ExceptionTableEntry{
				{StartPC: 0, EndPC: 1, HandlerPC: 0, CatchType: 0},
			},
			LineNumbers: []LineNumber{{StartPC: 0, Line: 12}},
		},
		Throws: []string{"java/lang/Exception"},
	})
	b.AddMethod(MethodSpec{Access: AccPublic | AccNative, Name: "hash", Descriptor: "()I"})
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	return data
}

func TestParseBuiltClass(t *testing.T) {
	cf, err := Parse(buildSample(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	name, err := cf.ClassName()
	if err != nil || name != "demo/Point" {
		t.Fatalf("ClassName = %q, %v; want demo/Point", name, err)
	}
	if super, _ := cf.ConstantPool.ClassName(cf.SuperClass); super != "java/lang/Object" {
		t.Errorf("super = %q, want java/lang/Object", super)
	}
	if cf.MajorVersion != DefaultMajorVersion {
		t.Errorf("major version = %d, want %d", cf.MajorVersion, DefaultMajorVersion)
	}
	if cf.SourceFile != "Point.java" {
		t.Errorf("source file = %q", cf.SourceFile)
	}
	if len(cf.Interfaces) != 1 {
		t.Fatalf("interfaces = %d, want 1", len(cf.Interfaces))
	}
	if len(cf.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(cf.Fields))
	}
	cv := cf.Fields[1].ConstantValue
	if cv == 0 || cf.ConstantPool[cv].Tag != TagLong {
		t.Fatalf("ORIGIN constant value = #%d, want a Long entry", cv)
	}
	if cf.ConstantPool[cv+1].Tag != TagUnusable {
		t.Errorf("slot after Long has tag %s, want Unusable", cf.ConstantPool[cv+1].Tag)
	}

	run := cf.Methods[0]
	if run.Code == nil {
		t.Fatal("run has no Code attribute")
	}
	if len(run.Code.ExceptionTable) != 1 || len(run.Exceptions) != 1 {
		t.Errorf("exception table = %d, throws = %d", len(run.Code.ExceptionTable), len(run.Exceptions))
	}
	if line := run.Code.LineFor(0); line != 12 {
		t.Errorf("LineFor(0) = %d, want 12", line)
	}
	if cf.Methods[1].Code != nil {
		t.Error("native method should have no Code attribute")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := buildSample(t)
	data[0] = 0xCA
	data[1] = 0xFE
	data[2] = 0xD0
	data[3] = 0x0D
	if _, err := Parse(data); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseRejectsTruncatedData(t *testing.T) {
	data := buildSample(t)
	for _, n := range []int{2, 9, len(data) / 2, len(data) - 1} {
		if _, err := Parse(data[:n]); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse(data[:%d]) err = %v, want ErrTruncated", n, err)
		}
	}
}

func TestParseRejectsTrailingBytes(t *testing.T) {
	data := append(buildSample(t), 0x00)
	if _, err := Parse(data); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("err = %v, want ErrTrailingBytes", err)
	}
}

func TestBuilderInternsEntries(t *testing.T) {
	b := NewBuilder("A", "java/lang/Object")
	first := b.Methodref("A", "f", "()V")
	second := b.Methodref("A", "f", "()V")
	if first != second {
		t.Errorf("Methodref interned twice: %d vs %d", first, second)
	}
	if b.Class("A") != b.Build().ThisClass {
		t.Error("Class(A) did not reuse this_class")
	}
}

func TestModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		enc  []byte
	}{
		{"ascii", "abc", []byte("abc")},
		{"nul", "a\x00b", []byte{'a', 0xC0, 0x80, 'b'}},
		{"two byte", "é", []byte{0xC3, 0xA9}},
		{"supplementary", "\U0001F600", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := EncodeModifiedUTF8(tt.in)
			if string(enc) != string(tt.enc) {
				t.Errorf("encode = % x, want % x", enc, tt.enc)
			}
			dec, err := DecodeModifiedUTF8(tt.enc)
			if err != nil || dec != tt.in {
				t.Errorf("decode = %q, %v; want %q", dec, err, tt.in)
			}
		})
	}

	if _, err := DecodeModifiedUTF8([]byte{'a', 0x00}); !errors.Is(err, ErrBadUTF8) {
		t.Errorf("raw NUL err = %v, want ErrBadUTF8", err)
	}
	if _, err := DecodeModifiedUTF8([]byte{0xE0, 0x80}); !errors.Is(err, ErrBadUTF8) {
		t.Errorf("short sequence err = %v, want ErrBadUTF8", err)
	}
}
