package vm

import (
	"math"
	"testing"
)

// expectFault runs fn and reports the kind of *Error it panicked with.
func expectFault(t *testing.T, fn func()) ErrorKind {
	t.Helper()
	var kind ErrorKind
	func() {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			e, ok := rec.(*Error)
			if !ok {
				panic(rec)
			}
			kind = e.Kind
		}()
		fn()
	}()
	if kind == 0 {
		t.Fatal("expected a fault, got none")
	}
	return kind
}

func TestOperandStackTyped(t *testing.T) {
	s := NewOperandStack(8)
	s.PushInt(-5)
	s.PushLong(math.MinInt64)
	s.PushRef(Ref(9))
	s.PushDouble(2.5)
	s.PushFloat(1.25)

	if s.Depth() != 7 {
		t.Fatalf("Depth = %d, want 7", s.Depth())
	}
	if v := s.PopFloat(); v != 1.25 {
		t.Errorf("PopFloat = %v", v)
	}
	if v := s.PopDouble(); v != 2.5 {
		t.Errorf("PopDouble = %v", v)
	}
	if v := s.PopRef(); v != 9 {
		t.Errorf("PopRef = %v", v)
	}
	if v := s.PopLong(); v != math.MinInt64 {
		t.Errorf("PopLong = %v", v)
	}
	if v := s.PopInt(); v != -5 {
		t.Errorf("PopInt = %v", v)
	}
}

func TestOperandStackPeekRef(t *testing.T) {
	s := NewOperandStack(4)
	s.PushRef(Ref(3))
	s.PushInt(1)
	s.PushRef(Ref(4))
	s.PushInt(2)

	if r := s.PeekRef(1); r != 4 {
		t.Errorf("PeekRef(1) = %d, want 4", r)
	}
	if r := s.PeekRef(3); r != 3 {
		t.Errorf("PeekRef(3) = %d, want 3", r)
	}
	if s.Depth() != 4 {
		t.Errorf("PeekRef changed depth to %d", s.Depth())
	}
}

func TestOperandStackFaults(t *testing.T) {
	tests := []struct {
		name string
		fn   func(s *OperandStack)
		want ErrorKind
	}{
		{"overflow", func(s *OperandStack) { s.PushInt(1); s.PushInt(2); s.PushInt(3) }, ErrStackOverflow},
		{"long overflow", func(s *OperandStack) { s.PushInt(1); s.PushLong(2) }, ErrStackOverflow},
		{"underflow", func(s *OperandStack) { s.PopInt() }, ErrStackUnderflow},
		{"int as ref", func(s *OperandStack) { s.PushInt(1); s.PopRef() }, ErrVerify},
		{"ref as int", func(s *OperandStack) { s.PushRef(1); s.PopInt() }, ErrVerify},
		{"half a long", func(s *OperandStack) { s.PushInt(1); s.PopLong() }, ErrStackUnderflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewOperandStack(2)
			if got := expectFault(t, func() { tt.fn(s) }); got != tt.want {
				t.Errorf("fault = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLocalVars(t *testing.T) {
	l := NewLocalVars(6)
	l.SetInt(0, 7)
	l.SetLong(1, 1<<40)
	l.SetRef(3, Ref(2))
	l.SetDouble(4, -0.5)

	if v := l.GetInt(0); v != 7 {
		t.Errorf("GetInt(0) = %d", v)
	}
	if v := l.GetLong(1); v != 1<<40 {
		t.Errorf("GetLong(1) = %d", v)
	}
	if v := l.GetRef(3); v != 2 {
		t.Errorf("GetRef(3) = %d", v)
	}
	if v := l.GetDouble(4); v != -0.5 {
		t.Errorf("GetDouble(4) = %v", v)
	}

	l.Set(0, ReturnAddress(12))
	if pc := l.GetReturnAddress(0); pc != 12 {
		t.Errorf("GetReturnAddress(0) = %d", pc)
	}
}

func TestLocalVarsFaults(t *testing.T) {
	tests := []struct {
		name string
		fn   func(l *LocalVars)
		want ErrorKind
	}{
		{"index past end", func(l *LocalVars) { l.GetInt(3) }, ErrLocalIndex},
		{"long straddles end", func(l *LocalVars) { l.SetLong(2, 1) }, ErrLocalIndex},
		{"negative index", func(l *LocalVars) { l.SetInt(-1, 0) }, ErrLocalIndex},
		{"ref read as int", func(l *LocalVars) { l.SetRef(0, 1); l.GetInt(0) }, ErrVerify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocalVars(3)
			if got := expectFault(t, func() { tt.fn(l) }); got != tt.want {
				t.Errorf("fault = %s, want %s", got, tt.want)
			}
		})
	}
}
