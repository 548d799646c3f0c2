package vm

import (
	"math"
	"testing"
)

func TestJavaNumberFormatting(t *testing.T) {
	doubles := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{0.1, "0.1"},
		{100, "100.0"},
		{-2.5, "-2.5"},
		{1234567, "1234567.0"},
		{1e7, "1.0E7"},
		{1.5e-4, "1.5E-4"},
		{0.001, "0.001"},
		{math.Copysign(0, -1), "-0.0"},
		{math.NaN(), "NaN"},
		{math.Inf(-1), "-Infinity"},
	}
	for _, tt := range doubles {
		if got := javaDouble(tt.in); got != tt.want {
			t.Errorf("javaDouble(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	floats := []struct {
		in   float32
		want string
	}{
		{0.1, "0.1"},
		{3, "3.0"},
		{1e10, "1.0E10"},
	}
	for _, tt := range floats {
		if got := javaFloat(tt.in); got != tt.want {
			t.Errorf("javaFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	machine, _, _ := newTestProgram(t).newVM(Options{})

	for _, s := range []string{"", "plain", "naïve", "emoji 😀", "nul\x00byte"} {
		ref, err := machine.NewString(s)
		if err != nil {
			t.Fatalf("NewString(%q): %v", s, err)
		}
		got, err := machine.GoString(ref)
		if err != nil {
			t.Fatalf("GoString: %v", err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}

	// A supplementary character is a surrogate pair in the char array.
	ref, _ := machine.NewString("😀")
	units, err := machine.stringUnits(ref)
	if err != nil || len(units) != 2 {
		t.Errorf("units = %v, %v; want a surrogate pair", units, err)
	}
}

func TestStringIntern(t *testing.T) {
	machine, _, _ := newTestProgram(t).newVM(Options{})
	before := machine.strings.Len()

	a, err := machine.Intern("hello")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	b, _ := machine.Intern("hello")
	if a != b {
		t.Errorf("Intern returned %d and %d for equal text", a, b)
	}
	fresh, _ := machine.NewString("hello")
	if fresh == a {
		t.Error("NewString returned the interned object")
	}
	if got := machine.strings.Len(); got != before+1 {
		t.Errorf("intern table grew by %d, want 1", got-before)
	}
}

func TestGoStringRejectsNonString(t *testing.T) {
	machine, _, _ := newTestProgram(t).newVM(Options{})
	obj, err := machine.Loader.Load("java/lang/Object")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref, err := machine.Heap.AllocateInstance(obj)
	if err != nil {
		t.Fatalf("AllocateInstance: %v", err)
	}

	if _, err := machine.GoString(ref); !IsKind(err, ErrClassCast) {
		t.Errorf("GoString(Object) err = %v, want ClassCastError", err)
	}
	if _, err := machine.GoString(Null); !IsKind(err, ErrNullPointer) {
		t.Errorf("GoString(null) err = %v, want NullPointerError", err)
	}
}
