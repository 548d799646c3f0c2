package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/espresso/classfile"
)

func TestStepIadd(t *testing.T) {
	th := newTestThread(t)
	f := frameFor([]byte{byte(OpIadd)}, 2, 0)
	f.Stack.PushInt(2)
	f.Stack.PushInt(3)

	if err := th.step(f); err != nil {
		t.Fatalf("step: %v", err)
	}
	if v := f.Stack.PopInt(); v != 5 {
		t.Errorf("2 + 3 = %d, want 5", v)
	}
	if f.Stack.Depth() != 0 {
		t.Errorf("stack depth = %d, want 0", f.Stack.Depth())
	}
}

func TestStepIdivByZero(t *testing.T) {
	th := newTestThread(t)
	f := frameFor([]byte{byte(OpIdiv)}, 2, 0)
	f.Stack.PushInt(7)
	f.Stack.PushInt(0)

	err := th.step(f)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("step returned %v, want *Error", err)
	}
	if e.Kind != ErrArithmetic || e.Msg != "/ by zero" {
		t.Errorf("error = %v, want ArithmeticError: / by zero", e)
	}
	if !e.Catchable() || e.JavaClass() != "java/lang/ArithmeticException" {
		t.Errorf("Catchable = %v, JavaClass = %q", e.Catchable(), e.JavaClass())
	}
}

func TestStepGotoBackward(t *testing.T) {
	th := newTestThread(t)
	code := make([]byte, 13)
	code[10] = byte(OpGoto)
	code[11], code[12] = 0xFF, 0xFD // -3
	f := frameFor(code, 0, 0)
	f.SetPC(10)

	if err := th.step(f); err != nil {
		t.Fatalf("step: %v", err)
	}
	if f.PC() != 7 {
		t.Errorf("pc = %d, want 7", f.PC())
	}
	if f.OpPC() != 10 {
		t.Errorf("op pc = %d, want 10", f.OpPC())
	}
}

func TestStepBranchOutsideCode(t *testing.T) {
	th := newTestThread(t)
	code := NewBytecodeBuilder().EmitBranchOffset(OpGoto, 100).Bytes()
	f := frameFor(code, 0, 0)

	if err := th.step(f); !IsKind(err, ErrVerify) {
		t.Errorf("err = %v, want VerifyError", err)
	}
}

func TestStepTableSwitch(t *testing.T) {
	code := NewBytecodeBuilder().EmitTableSwitchOffsets(0, 3, 999, 100, 200, 300, 400).Bytes()
	code = append(code, make([]byte, 1000)...)

	tests := []struct {
		key    int32
		wantPC int
	}{
		{0, 100},
		{1, 200},
		{3, 400},
		{5, 999},
		{-7, 999},
	}
	th := newTestThread(t)
	for _, tt := range tests {
		f := frameFor(code, 1, 0)
		f.Stack.PushInt(tt.key)
		if err := th.step(f); err != nil {
			t.Fatalf("key %d: step: %v", tt.key, err)
		}
		if f.PC() != tt.wantPC {
			t.Errorf("key %d: pc = %d, want %d", tt.key, f.PC(), tt.wantPC)
		}
	}
}

func TestStepArithmetic(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name  string
		op    Opcode
		setup func(s *OperandStack)
		check func(s *OperandStack) (any, any)
	}{
		{"irem sign follows dividend", OpIrem,
			func(s *OperandStack) { s.PushInt(-7); s.PushInt(2) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(-1) }},
		{"idiv overflow", OpIdiv,
			func(s *OperandStack) { s.PushInt(math.MinInt32); s.PushInt(-1) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(math.MinInt32) }},
		{"ishl masks count", OpIshl,
			func(s *OperandStack) { s.PushInt(1); s.PushInt(33) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(2) }},
		{"iushr", OpIushr,
			func(s *OperandStack) { s.PushInt(-1); s.PushInt(28) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(15) }},
		{"lshl", OpLshl,
			func(s *OperandStack) { s.PushLong(1); s.PushInt(40) },
			func(s *OperandStack) (any, any) { return s.PopLong(), int64(1 << 40) }},
		{"lcmp", OpLcmp,
			func(s *OperandStack) { s.PushLong(-5); s.PushLong(3) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(-1) }},
		{"i2b", OpI2b,
			func(s *OperandStack) { s.PushInt(200) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(-56) }},
		{"i2c", OpI2c,
			func(s *OperandStack) { s.PushInt(-1) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(0xFFFF) }},
		{"f2i NaN", OpF2i,
			func(s *OperandStack) { s.PushFloat(nan) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(0) }},
		{"d2i saturates", OpD2i,
			func(s *OperandStack) { s.PushDouble(1e20) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(math.MaxInt32) }},
		{"fcmpl NaN", OpFcmpl,
			func(s *OperandStack) { s.PushFloat(nan); s.PushFloat(1) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(-1) }},
		{"fcmpg NaN", OpFcmpg,
			func(s *OperandStack) { s.PushFloat(nan); s.PushFloat(1) },
			func(s *OperandStack) (any, any) { return s.PopInt(), int32(1) }},
		{"drem", OpDrem,
			func(s *OperandStack) { s.PushDouble(7.5); s.PushDouble(2) },
			func(s *OperandStack) (any, any) { return s.PopDouble(), 1.5 }},
		{"dup_x1", OpDupX1,
			func(s *OperandStack) { s.PushInt(1); s.PushInt(2) },
			func(s *OperandStack) (any, any) {
				return [3]int32{s.PopInt(), s.PopInt(), s.PopInt()}, [3]int32{2, 1, 2}
			}},
		{"swap", OpSwap,
			func(s *OperandStack) { s.PushRef(4); s.PushInt(9) },
			func(s *OperandStack) (any, any) { return [2]any{s.PopRef(), s.PopInt()}, [2]any{Ref(4), int32(9)} }},
	}

	th := newTestThread(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frameFor([]byte{byte(tt.op)}, 4, 0)
			tt.setup(f.Stack)
			if err := th.step(f); err != nil {
				t.Fatalf("step: %v", err)
			}
			if got, want := tt.check(f.Stack); got != want {
				t.Errorf("%s = %v, want %v", tt.op, got, want)
			}
		})
	}
}

func TestStepJsrRet(t *testing.T) {
	b := NewBytecodeBuilder()
	sub := b.NewLabel()
	b.EmitJump(OpJsr, sub) // 0
	b.Emit(OpReturn)       // 3
	b.Mark(sub)
	b.Emit(OpAstore1)     // 4
	b.EmitLocal(OpRet, 1) // 5

	th := newTestThread(t)
	f := frameFor(b.Bytes(), 1, 2)
	for i := 0; i < 3; i++ {
		if err := th.step(f); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if f.PC() != 3 {
		t.Errorf("pc after ret = %d, want 3", f.PC())
	}
}

func TestInvokeStaticMethod(t *testing.T) {
	p := newTestProgram(t)
	b := classfile.NewBuilder("demo/Calc", "java/lang/Object")
	addCode(b, classfile.AccPublic|classfile.AccStatic, "sum", "(IJ)J", 4, 3,
		NewBytecodeBuilder().
			Emit(OpIload0, OpI2l, OpLload1, OpLadd, OpLreturn))
	p.add(b)

	machine, _, _ := p.newVM(Options{})
	k, err := machine.Loader.Load("demo/Calc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := k.DeclaredMethod("sum", "(IJ)J")
	if m == nil {
		t.Fatal("sum not found")
	}

	v, err := machine.NewThread("test").Invoke(m, []Value{IntValue(2), LongValue(1 << 33)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.Kind != ValLong || v.Long() != 2+1<<33 {
		t.Errorf("sum = %v, want %d", v, int64(2+1<<33))
	}
}

func TestInvokeStackOverflow(t *testing.T) {
	p := newTestProgram(t)
	b := classfile.NewBuilder("demo/Deep", "java/lang/Object")
	addCode(b, classfile.AccPublic|classfile.AccStatic, "down", "()V", 0, 0,
		NewBytecodeBuilder().
			EmitUint16(OpInvokestatic, b.Methodref("demo/Deep", "down", "()V")).
			Emit(OpReturn))
	p.add(b)

	machine, _, _ := p.newVM(Options{MaxFrames: 32})
	k, err := machine.Loader.Load("demo/Deep")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	th := machine.NewThread("test")
	_, err = th.Invoke(k.DeclaredMethod("down", "()V"), nil)
	if !IsKind(err, ErrStackOverflow) {
		t.Errorf("err = %v, want StackOverflow", err)
	}
	if th.Depth() != 0 {
		t.Errorf("depth after unwinding = %d, want 0", th.Depth())
	}
}
