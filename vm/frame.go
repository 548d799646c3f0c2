package vm

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotValue
	slotRef
	slotReturn
)

// slot is one 32-bit operand stack or local variable cell.
type slot struct {
	kind slotKind
	v    int32
	r    Ref
}

func verifyFault(format string, args ...any) *Error {
	return newError(ErrVerify, format, args...)
}

// ---------------------------------------------------------------------------
// OperandStack
// ---------------------------------------------------------------------------

// OperandStack is a bounded stack kept as two parallel sequences: 32-bit
// values (including return addresses) and references. kinds records which
// sequence holds each position. Longs and doubles take two value slots,
// high half pushed first. Faults panic with a fatal *Error.
type OperandStack struct {
	values []int32
	refs   []Ref
	kinds  []slotKind
	max    int
}

// NewOperandStack creates a stack holding at most max slots.
func NewOperandStack(max int) *OperandStack {
	return &OperandStack{
		values: make([]int32, 0, max),
		refs:   make([]Ref, 0, 4),
		kinds:  make([]slotKind, 0, max),
		max:    max,
	}
}

// Depth returns the number of occupied slots.
func (s *OperandStack) Depth() int {
	return len(s.kinds)
}

// Clear empties the stack.
func (s *OperandStack) Clear() {
	s.values = s.values[:0]
	s.refs = s.refs[:0]
	s.kinds = s.kinds[:0]
}

func (s *OperandStack) reserve(n int) {
	if len(s.kinds)+n > s.max {
		panic(newError(ErrStackOverflow, "operand stack exceeds max_stack %d", s.max))
	}
}

func (s *OperandStack) top(want slotKind) {
	if len(s.kinds) == 0 {
		panic(newError(ErrStackUnderflow, "pop from empty operand stack"))
	}
	if got := s.kinds[len(s.kinds)-1]; got != want {
		panic(verifyFault("operand stack holds %v, want %v", got, want))
	}
}

func (k slotKind) String() string {
	switch k {
	case slotValue:
		return "value"
	case slotRef:
		return "reference"
	case slotReturn:
		return "returnAddress"
	}
	return "empty"
}

func (s *OperandStack) pushWord(k slotKind, v int32) {
	s.reserve(1)
	s.values = append(s.values, v)
	s.kinds = append(s.kinds, k)
}

func (s *OperandStack) popWord(k slotKind) int32 {
	s.top(k)
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	s.kinds = s.kinds[:len(s.kinds)-1]
	return v
}

func (s *OperandStack) PushInt(v int32) { s.pushWord(slotValue, v) }
func (s *OperandStack) PopInt() int32   { return s.popWord(slotValue) }

func (s *OperandStack) PushFloat(v float32) { s.PushInt(FloatValue(v).Int()) }
func (s *OperandStack) PopFloat() float32   { return Value{Bits: uint64(uint32(s.PopInt()))}.Float() }

func (s *OperandStack) PushLong(v int64) {
	hi, lo := LongValue(v).Halves()
	s.reserve(2)
	s.PushInt(hi)
	s.PushInt(lo)
}

func (s *OperandStack) PopLong() int64 {
	lo := s.PopInt()
	hi := s.PopInt()
	return FromHalves(ValLong, hi, lo).Long()
}

func (s *OperandStack) PushDouble(v float64) {
	hi, lo := DoubleValue(v).Halves()
	s.reserve(2)
	s.PushInt(hi)
	s.PushInt(lo)
}

func (s *OperandStack) PopDouble() float64 {
	lo := s.PopInt()
	hi := s.PopInt()
	return FromHalves(ValDouble, hi, lo).Double()
}

func (s *OperandStack) PushRef(r Ref) {
	s.reserve(1)
	s.refs = append(s.refs, r)
	s.kinds = append(s.kinds, slotRef)
}

func (s *OperandStack) PopRef() Ref {
	s.top(slotRef)
	r := s.refs[len(s.refs)-1]
	s.refs = s.refs[:len(s.refs)-1]
	s.kinds = s.kinds[:len(s.kinds)-1]
	return r
}

// PeekRef returns the reference depth slots below the top without popping.
// Every slot above it must be a single-slot value.
func (s *OperandStack) PeekRef(depth int) Ref {
	i := len(s.kinds) - 1 - depth
	if i < 0 {
		panic(newError(ErrStackUnderflow, "peek below stack bottom"))
	}
	if s.kinds[i] != slotRef {
		panic(verifyFault("operand stack holds %v, want reference", s.kinds[i]))
	}
	refsAbove := 0
	for _, k := range s.kinds[i+1:] {
		if k == slotRef {
			refsAbove++
		}
	}
	return s.refs[len(s.refs)-1-refsAbove]
}

func (s *OperandStack) PushReturnAddress(pc int) { s.pushWord(slotReturn, int32(pc)) }

// Push pushes a typed value.
func (s *OperandStack) Push(v Value) {
	switch v.Kind {
	case ValInt:
		s.PushInt(v.Int())
	case ValFloat:
		s.PushFloat(v.Float())
	case ValLong:
		s.PushLong(v.Long())
	case ValDouble:
		s.PushDouble(v.Double())
	case ValRef:
		s.PushRef(v.Ref)
	case ValReturnAddress:
		s.PushReturnAddress(v.ReturnPC())
	default:
		panic(verifyFault("push of %v value", v.Kind))
	}
}

// Pop pops a value of the given kind.
func (s *OperandStack) Pop(kind ValueKind) Value {
	switch kind {
	case ValInt:
		return IntValue(s.PopInt())
	case ValFloat:
		return FloatValue(s.PopFloat())
	case ValLong:
		return LongValue(s.PopLong())
	case ValDouble:
		return DoubleValue(s.PopDouble())
	case ValRef:
		return RefValue(s.PopRef())
	case ValReturnAddress:
		return ReturnAddress(int(s.popWord(slotReturn)))
	}
	panic(verifyFault("pop of %v value", kind))
}

// popSlot removes the top slot whatever its kind. Used by pop, dup and
// swap, which are untyped.
func (s *OperandStack) popSlot() slot {
	if len(s.kinds) == 0 {
		panic(newError(ErrStackUnderflow, "pop from empty operand stack"))
	}
	k := s.kinds[len(s.kinds)-1]
	if k == slotRef {
		return slot{kind: k, r: s.PopRef()}
	}
	return slot{kind: k, v: s.popWord(k)}
}

func (s *OperandStack) pushSlot(sl slot) {
	if sl.kind == slotRef {
		s.PushRef(sl.r)
		return
	}
	s.pushWord(sl.kind, sl.v)
}

// popSlots removes n slots and returns them bottom first.
func (s *OperandStack) popSlots(n int) []slot {
	out := make([]slot, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = s.popSlot()
	}
	return out
}

func (s *OperandStack) pushSlots(slots ...slot) {
	for _, sl := range slots {
		s.pushSlot(sl)
	}
}

// ---------------------------------------------------------------------------
// LocalVars
// ---------------------------------------------------------------------------

// LocalVars is a method's local variable array, sized to max_locals. Longs
// and doubles store the high half at n and the low half at n+1.
type LocalVars struct {
	slots []slot
}

// NewLocalVars allocates n empty locals.
func NewLocalVars(n int) *LocalVars {
	return &LocalVars{slots: make([]slot, n)}
}

// Len returns the number of local slots.
func (l *LocalVars) Len() int {
	return len(l.slots)
}

func (l *LocalVars) check(i, width int) {
	if i < 0 || i+width > len(l.slots) {
		panic(newError(ErrLocalIndex, "local %d out of range (max_locals %d)", i, len(l.slots)))
	}
}

func (l *LocalVars) word(i int, want slotKind) int32 {
	l.check(i, 1)
	s := l.slots[i]
	if s.kind != want && s.kind != slotEmpty {
		panic(verifyFault("local %d holds %v, want %v", i, s.kind, want))
	}
	return s.v
}

func (l *LocalVars) setWord(i int, k slotKind, v int32) {
	l.check(i, 1)
	l.slots[i] = slot{kind: k, v: v}
}

func (l *LocalVars) GetInt(i int) int32     { return l.word(i, slotValue) }
func (l *LocalVars) SetInt(i int, v int32)  { l.setWord(i, slotValue, v) }
func (l *LocalVars) GetFloat(i int) float32 { return Value{Bits: uint64(uint32(l.GetInt(i)))}.Float() }
func (l *LocalVars) SetFloat(i int, v float32) {
	l.SetInt(i, FloatValue(v).Int())
}

func (l *LocalVars) GetLong(i int) int64 {
	l.check(i, 2)
	return FromHalves(ValLong, l.GetInt(i), l.GetInt(i+1)).Long()
}

func (l *LocalVars) SetLong(i int, v int64) {
	l.check(i, 2)
	hi, lo := LongValue(v).Halves()
	l.SetInt(i, hi)
	l.SetInt(i+1, lo)
}

func (l *LocalVars) GetDouble(i int) float64 {
	l.check(i, 2)
	return FromHalves(ValDouble, l.GetInt(i), l.GetInt(i+1)).Double()
}

func (l *LocalVars) SetDouble(i int, v float64) {
	l.check(i, 2)
	hi, lo := DoubleValue(v).Halves()
	l.SetInt(i, hi)
	l.SetInt(i+1, lo)
}

func (l *LocalVars) GetRef(i int) Ref {
	l.check(i, 1)
	s := l.slots[i]
	if s.kind != slotRef && s.kind != slotEmpty {
		panic(verifyFault("local %d holds %v, want reference", i, s.kind))
	}
	return s.r
}

func (l *LocalVars) SetRef(i int, r Ref) {
	l.check(i, 1)
	l.slots[i] = slot{kind: slotRef, r: r}
}

// GetReturnAddress reads a jsr return address stored by astore.
func (l *LocalVars) GetReturnAddress(i int) int {
	return int(l.word(i, slotReturn))
}

// Set stores a typed value at i.
func (l *LocalVars) Set(i int, v Value) {
	switch v.Kind {
	case ValInt:
		l.SetInt(i, v.Int())
	case ValFloat:
		l.SetFloat(i, v.Float())
	case ValLong:
		l.SetLong(i, v.Long())
	case ValDouble:
		l.SetDouble(i, v.Double())
	case ValRef:
		l.SetRef(i, v.Ref)
	case ValReturnAddress:
		l.setWord(i, slotReturn, int32(v.ReturnPC()))
	default:
		panic(verifyFault("store of %v value", v.Kind))
	}
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the activation record of one method invocation.
type Frame struct {
	Method *Method
	Klass  *Klass
	Locals *LocalVars
	Stack  *OperandStack

	reader *BytecodeReader
	opPC   int // address of the instruction being executed

	done   bool
	result Value
}

// NewFrame creates a frame for a method with Code.
func NewFrame(m *Method) *Frame {
	code := m.Code
	return &Frame{
		Method: m,
		Klass:  m.Owner,
		Locals: NewLocalVars(int(code.MaxLocals)),
		Stack:  NewOperandStack(int(code.MaxStack)),
		reader: NewBytecodeReader(code.Code),
	}
}

// PC returns the address of the next instruction.
func (f *Frame) PC() int {
	return f.reader.Position()
}

// SetPC moves execution to an absolute address.
func (f *Frame) SetPC(pc int) {
	if pc < 0 || pc >= f.reader.Len() {
		panic(verifyFault("branch target %d outside code of length %d", pc, f.reader.Len()))
	}
	f.reader.Seek(pc)
}

// OpPC returns the address of the instruction currently executing.
func (f *Frame) OpPC() int {
	return f.opPC
}

// branch jumps relative to the current instruction's address.
func (f *Frame) branch(offset int) {
	f.SetPC(f.opPC + offset)
}

// returnValue completes the frame with v.
func (f *Frame) returnValue(v Value) {
	f.done = true
	f.result = v
}
