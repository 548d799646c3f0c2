package vm

import (
	"math"
	"testing"
)

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc     string
		params   []string
		ret      string
		argSlots int
	}{
		{"()V", nil, "V", 0},
		{"(IJ)J", []string{"I", "J"}, "J", 3},
		{"([Ljava/lang/String;)V", []string{"[Ljava/lang/String;"}, "V", 1},
		{"(D[[ILjava/lang/Object;Z)Ljava/lang/String;",
			[]string{"D", "[[I", "Ljava/lang/Object;", "Z"}, "Ljava/lang/String;", 5},
	}
	for _, tt := range tests {
		mt, err := ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Errorf("ParseMethodDescriptor(%q): %v", tt.desc, err)
			continue
		}
		if len(mt.Params) != len(tt.params) {
			t.Errorf("%s: %d params, want %d", tt.desc, len(mt.Params), len(tt.params))
			continue
		}
		for i, p := range mt.Params {
			if p.Descriptor() != tt.params[i] {
				t.Errorf("%s: param %d = %s, want %s", tt.desc, i, p.Descriptor(), tt.params[i])
			}
		}
		if mt.Return.Descriptor() != tt.ret {
			t.Errorf("%s: return = %s, want %s", tt.desc, mt.Return.Descriptor(), tt.ret)
		}
		if mt.ArgSlots() != tt.argSlots {
			t.Errorf("%s: ArgSlots = %d, want %d", tt.desc, mt.ArgSlots(), tt.argSlots)
		}
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	methods := []string{"", "I", "(I", "(V)V", "(Ljava/lang/String)V", "(I)VV", "(Q)V"}
	for _, desc := range methods {
		if _, err := ParseMethodDescriptor(desc); !IsKind(err, ErrClassFormat) {
			t.Errorf("ParseMethodDescriptor(%q) err = %v, want ClassFormatError", desc, err)
		}
	}
	fields := []string{"", "V", "L;", "[", "II"}
	for _, desc := range fields {
		if _, err := ParseFieldDescriptor(desc); !IsKind(err, ErrClassFormat) {
			t.Errorf("ParseFieldDescriptor(%q) err = %v, want ClassFormatError", desc, err)
		}
	}
}

func TestValueTypeProperties(t *testing.T) {
	arr, err := ParseFieldDescriptor("[[[J")
	if err != nil {
		t.Fatalf("ParseFieldDescriptor: %v", err)
	}
	if arr.Dimensions() != 3 || !arr.IsReference() || arr.Slots() != 1 {
		t.Errorf("[[[J: dims %d ref %v slots %d", arr.Dimensions(), arr.IsReference(), arr.Slots())
	}
	if z := arr.Zero(); !z.IsNull() {
		t.Errorf("array zero = %v, want null", z)
	}

	long, _ := ParseFieldDescriptor("J")
	if long.Slots() != 2 || long.Kind() != ValLong {
		t.Errorf("J: slots %d kind %s", long.Slots(), long.Kind())
	}
	boolean, _ := ParseFieldDescriptor("Z")
	if boolean.Kind() != ValInt {
		t.Errorf("Z kind = %s, want int", boolean.Kind())
	}
}

func TestValueHalves(t *testing.T) {
	for _, v := range []Value{LongValue(-1), LongValue(1 << 40), DoubleValue(math.Pi), DoubleValue(math.Inf(-1))} {
		hi, lo := v.Halves()
		if got := FromHalves(v.Kind, hi, lo); got != v {
			t.Errorf("FromHalves(%d, %d) = %v, want %v", hi, lo, got, v)
		}
	}
	hi, lo := LongValue(0x0000000100000002).Halves()
	if hi != 1 || lo != 2 {
		t.Errorf("Halves = %d, %d; want 1, 2", hi, lo)
	}
}
