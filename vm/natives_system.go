package vm

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf16"
)

func registerSystemNatives(r *NativeRegistry) {
	for key, fn := range map[string]NativeFunc{
		"java/lang/System/<clinit>":          systemClinit,
		"java/lang/System/exit":              systemExit,
		"java/lang/System/arraycopy":         systemArraycopy,
		"java/lang/System/currentTimeMillis": systemCurrentTimeMillis,
		"java/lang/System/nanoTime":          systemNanoTime,
		"java/lang/System/identityHashCode":  systemIdentityHashCode,
		"java/lang/System/lineSeparator":     systemLineSeparator,

		"java/io/PrintStream/println": printStreamPrint(true),
		"java/io/PrintStream/print":   printStreamPrint(false),
		"java/io/PrintStream/flush":   printStreamFlush,

		"java/lang/Thread/<init>":        threadInit,
		"java/lang/Thread/start":         threadStart,
		"java/lang/Thread/join":          threadJoin,
		"java/lang/Thread/sleep":         threadSleep,
		"java/lang/Thread/currentThread": threadCurrentThread,
		"java/lang/Thread/getName":       threadGetName,
		"java/lang/Thread/getId":         threadGetID,
		"java/lang/Thread/isAlive":       threadIsAlive,

		"java/lang/Throwable/<init>":           throwableInit,
		"java/lang/Throwable/fillInStackTrace": throwableFillInStackTrace,
		"java/lang/Throwable/getMessage":       throwableGetMessage,
		"java/lang/Throwable/getCause":         throwableGetCause,
		"java/lang/Throwable/toString":         throwableToString,
		"java/lang/Throwable/printStackTrace":  throwablePrintStackTrace,
	} {
		r.Register(key, fn)
	}
}

func millisDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ---------------------------------------------------------------------------
// java/lang/System
// ---------------------------------------------------------------------------

const printStreamClass = "java/io/PrintStream"

func systemClinit(t *Thread, m *Method, args []Value) (Value, error) {
	system := m.Owner
	for _, stream := range []struct {
		field string
		w     io.Writer
	}{
		{"out", t.vm.stdout},
		{"err", t.vm.stderr},
	} {
		ref, err := t.newPrintStream(stream.w)
		if err != nil {
			return Value{}, err
		}
		f := system.DeclaredField(stream.field, "L"+printStreamClass+";")
		if f == nil {
			return Value{}, &Error{Kind: ErrLinkage, Class: system.Name, Msg: "missing field " + stream.field}
		}
		system.SetStatic(f.Offset, RefValue(ref))
	}
	return Value{}, nil
}

func (t *Thread) newPrintStream(w io.Writer) (Ref, error) {
	k, err := t.vm.Loader.Load(printStreamClass)
	if err != nil {
		return Null, err
	}
	ref, err := t.vm.Heap.AllocateInstance(k)
	if err != nil {
		return Null, err
	}
	t.vm.Heap.Get(ref).Native = w
	return ref, nil
}

func systemExit(t *Thread, m *Method, args []Value) (Value, error) {
	return Value{}, t.vm.Exit(int(args[0].Int()))
}

func systemArraycopy(t *Thread, m *Method, args []Value) (Value, error) {
	src, dst := t.deref(args[0].Ref), t.deref(args[2].Ref)
	srcPos, dstPos, n := int(args[1].Int()), int(args[3].Int()), int(args[4].Int())

	if !src.IsArray() || !dst.IsArray() {
		return Value{}, newError(ErrArrayStore, "arraycopy: argument type mismatch")
	}
	if src.Klass.Kind != dst.Klass.Kind || (src.Klass.Kind == KindTypeArray && src.Klass.Name != dst.Klass.Name) {
		return Value{}, newError(ErrArrayStore, "arraycopy: type mismatch: can not copy %s[] into %s[]",
			src.Klass.ElementType().Descriptor(), dst.Klass.ElementType().Descriptor())
	}
	switch {
	case n < 0:
		return Value{}, newError(ErrArrayIndex, "arraycopy: length %d is negative", n)
	case srcPos < 0 || srcPos+n > len(src.Elements):
		return Value{}, newError(ErrArrayIndex, "arraycopy: last source index %d out of bounds for length %d", srcPos+n, len(src.Elements))
	case dstPos < 0 || dstPos+n > len(dst.Elements):
		return Value{}, newError(ErrArrayIndex, "arraycopy: last destination index %d out of bounds for length %d", dstPos+n, len(dst.Elements))
	}

	if dst.Klass.Kind != KindTypeArray {
		if want := dst.Klass.ElementKlass(); want != nil {
			for _, e := range src.Elements[srcPos : srcPos+n] {
				if e.Ref == Null {
					continue
				}
				if k := t.deref(e.Ref).Klass; !k.IsAssignableTo(want) {
					return Value{}, newError(ErrArrayStore, "arraycopy: element type mismatch: %s", k.JavaName())
				}
			}
		}
	}
	copy(dst.Elements[dstPos:dstPos+n], src.Elements[srcPos:srcPos+n])
	return Value{}, nil
}

func systemCurrentTimeMillis(t *Thread, m *Method, args []Value) (Value, error) {
	return LongValue(time.Now().UnixMilli()), nil
}

func systemNanoTime(t *Thread, m *Method, args []Value) (Value, error) {
	return LongValue(int64(time.Since(t.vm.started))), nil
}

func systemIdentityHashCode(t *Thread, m *Method, args []Value) (Value, error) {
	if args[0].Ref == Null {
		return IntValue(0), nil
	}
	return IntValue(identityHash(args[0].Ref)), nil
}

func systemLineSeparator(t *Thread, m *Method, args []Value) (Value, error) {
	return t.stringResult("\n")
}

// ---------------------------------------------------------------------------
// java/io/PrintStream
// ---------------------------------------------------------------------------

func printStreamPrint(newline bool) NativeFunc {
	return func(t *Thread, m *Method, args []Value) (Value, error) {
		w, ok := t.deref(args[0].Ref).Native.(io.Writer)
		if !ok {
			return Value{}, newError(ErrIllegalState, "PrintStream is not connected")
		}
		mt, err := m.Resolve()
		if err != nil {
			return Value{}, err
		}
		var text string
		if len(mt.Params) == 1 {
			typ := mt.Params[0]
			if typ.Descriptor() == charArray {
				units, uerr := t.charArrayArg(args[1])
				if uerr != nil {
					return Value{}, uerr
				}
				text = string(utf16.Decode(units))
			} else if text, err = t.formatArg(args[1], typ); err != nil {
				return Value{}, err
			}
		}
		if newline {
			text += "\n"
		}
		t.vm.write(w, text)
		return Value{}, nil
	}
}

func (t *Thread) charArrayArg(v Value) ([]uint16, error) {
	if v.Ref == Null {
		return nil, newError(ErrNullPointer, "")
	}
	return charArrayUnits(t.deref(v.Ref)), nil
}

func printStreamFlush(t *Thread, m *Method, args []Value) (Value, error) {
	if f, ok := t.deref(args[0].Ref).Native.(interface{ Sync() error }); ok {
		f.Sync()
	}
	return Value{}, nil
}

// ---------------------------------------------------------------------------
// java/lang/Thread
// ---------------------------------------------------------------------------

const (
	threadClass   = "java/lang/Thread"
	runnableField = "Ljava/lang/Runnable;"
	stringField   = "Ljava/lang/String;"
)

func threadInit(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	mt, err := m.Resolve()
	if err != nil {
		return Value{}, err
	}
	name := Null
	for i, p := range mt.Params {
		switch p.ClassName {
		case "java/lang/Runnable":
			obj.SetFieldByName("target", runnableField, args[i+1])
		case stringClass:
			name = args[i+1].Ref
		}
	}
	if name == Null {
		if name, err = t.vm.NewString(fmt.Sprintf("Thread-%d", t.vm.nextThreadID.Load())); err != nil {
			return Value{}, err
		}
	}
	obj.SetFieldByName("name", stringField, RefValue(name))
	return Value{}, nil
}

func (t *Thread) threadName(obj *Oop) string {
	v, _ := obj.FieldByName("name", stringField)
	if v.Ref == Null {
		return "Thread"
	}
	name, err := t.vm.GoString(v.Ref)
	if err != nil {
		return "Thread"
	}
	return name
}

func threadStart(t *Thread, m *Method, args []Value) (Value, error) {
	recv := args[0].Ref
	obj := t.deref(recv)
	if obj.Native != nil {
		return Value{}, t.newThrowable("java/lang/IllegalThreadStateException", "")
	}
	run := obj.Klass.FindVirtual("run", "()V")
	if run == nil {
		return Value{}, newError(ErrAbstractMethod, "%s.run()V", obj.Klass.JavaName())
	}

	nt := t.vm.NewThread(t.threadName(obj))
	nt.oop = recv
	obj.Native = nt
	nt.Start(func(nt *Thread) error {
		_, err := nt.Invoke(run, []Value{RefValue(recv)})
		return err
	})
	return Value{}, nil
}

func (t *Thread) startedThread(ref Ref) *Thread {
	nt, _ := t.deref(ref).Native.(*Thread)
	return nt
}

func threadJoin(t *Thread, m *Method, args []Value) (Value, error) {
	nt := t.startedThread(args[0].Ref)
	if nt == nil || nt == t {
		return Value{}, nil
	}
	if len(args) > 1 && args[1].Long() > 0 {
		select {
		case <-nt.done:
		case <-time.After(millisDuration(args[1].Long())):
		}
		return Value{}, nil
	}
	nt.Join()
	return Value{}, nil
}

func threadSleep(t *Thread, m *Method, args []Value) (Value, error) {
	ms := args[0].Long()
	if ms < 0 {
		return Value{}, t.newThrowable("java/lang/IllegalArgumentException", "timeout value is negative")
	}
	time.Sleep(millisDuration(ms))
	return Value{}, nil
}

func threadCurrentThread(t *Thread, m *Method, args []Value) (Value, error) {
	if t.oop != Null {
		return RefValue(t.oop), nil
	}
	k, err := t.vm.Loader.Load(threadClass)
	if err != nil {
		return Value{}, err
	}
	ref, err := t.vm.Heap.AllocateInstance(k)
	if err != nil {
		return Value{}, err
	}
	name, err := t.vm.NewString(t.Name)
	if err != nil {
		return Value{}, err
	}
	obj := t.vm.Heap.Get(ref)
	obj.SetFieldByName("name", stringField, RefValue(name))
	obj.Native = t
	t.oop = ref
	return RefValue(ref), nil
}

func threadGetName(t *Thread, m *Method, args []Value) (Value, error) {
	v, _ := t.deref(args[0].Ref).FieldByName("name", stringField)
	return v, nil
}

func threadGetID(t *Thread, m *Method, args []Value) (Value, error) {
	if nt := t.startedThread(args[0].Ref); nt != nil {
		return LongValue(nt.ID), nil
	}
	return LongValue(0), nil
}

func threadIsAlive(t *Thread, m *Method, args []Value) (Value, error) {
	nt := t.startedThread(args[0].Ref)
	return BoolValue(nt != nil && nt.Alive()), nil
}

// ---------------------------------------------------------------------------
// java/lang/Throwable
// ---------------------------------------------------------------------------

const (
	throwableClass = "java/lang/Throwable"
	throwableField = "Ljava/lang/Throwable;"
)

func throwableInit(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	switch m.Descriptor {
	case "(Ljava/lang/String;)V":
		obj.SetFieldByName("detailMessage", stringField, args[1])
	case "(Ljava/lang/String;Ljava/lang/Throwable;)V":
		obj.SetFieldByName("detailMessage", stringField, args[1])
		obj.SetFieldByName("cause", throwableField, args[2])
	case "(Ljava/lang/Throwable;)V":
		obj.SetFieldByName("cause", throwableField, args[1])
		if args[1].Ref != Null {
			text, err := t.stringOf(args[1].Ref)
			if err != nil {
				return Value{}, err
			}
			msg, err := t.vm.NewString(text)
			if err != nil {
				return Value{}, err
			}
			obj.SetFieldByName("detailMessage", stringField, RefValue(msg))
		}
	}
	return throwableFillInStackTrace(t, m, args[:1])
}

// throwableFillInStackTrace records the current frames, dropping the
// constructors of the exception being built.
func throwableFillInStackTrace(t *Thread, m *Method, args []Value) (Value, error) {
	obj := t.deref(args[0].Ref)
	trace := t.StackTrace()
	skip := 0
	for i := len(t.frames) - 1; i >= 0; i-- {
		fm := t.frames[i].Method
		if fm.Name != "<init>" && fm.Name != "fillInStackTrace" || !obj.Klass.IsSubclassOf(fm.Owner) {
			break
		}
		skip++
	}
	obj.Native = trace[skip:]
	return args[0], nil
}

func throwableGetMessage(t *Thread, m *Method, args []Value) (Value, error) {
	v, _ := t.deref(args[0].Ref).FieldByName("detailMessage", stringField)
	return v, nil
}

func throwableGetCause(t *Thread, m *Method, args []Value) (Value, error) {
	v, _ := t.deref(args[0].Ref).FieldByName("cause", throwableField)
	if v.Ref == args[0].Ref {
		return RefValue(Null), nil
	}
	return v, nil
}

func throwableToString(t *Thread, m *Method, args []Value) (Value, error) {
	t.deref(args[0].Ref)
	return t.stringResult(t.vm.throwable(args[0].Ref).Error())
}

func throwablePrintStackTrace(t *Thread, m *Method, args []Value) (Value, error) {
	t.deref(args[0].Ref)
	t.vm.write(t.vm.stderr, t.vm.stackTraceText(args[0].Ref))
	return Value{}, nil
}

// newThrowable constructs an exception of the named class with msg as its
// detail message. On success the returned error is the *Throwable to
// propagate.
func (t *Thread) newThrowable(className, msg string) error {
	k, err := t.vm.Loader.Load(className)
	if err != nil {
		return err
	}
	if err := t.vm.Loader.Initialize(t, k); err != nil {
		return err
	}
	ref, err := t.vm.Heap.AllocateInstance(k)
	if err != nil {
		return err
	}

	args := []Value{RefValue(ref)}
	ctor := k.LookupMethod("<init>", "(Ljava/lang/String;)V")
	if msg == "" || ctor == nil {
		ctor = k.LookupMethod("<init>", "()V")
	} else {
		s, err := t.vm.NewString(msg)
		if err != nil {
			return err
		}
		args = append(args, RefValue(s))
	}
	if ctor == nil {
		return &Error{Kind: ErrResolution, Class: className, Msg: "no usable constructor"}
	}
	if _, err := t.Invoke(ctor, args); err != nil {
		return err
	}
	return t.vm.throwable(ref)
}

// throwable wraps a thrown object for propagation as a Go error.
func (vm *VM) throwable(ref Ref) *Throwable {
	th := &Throwable{Ref: ref}
	obj := vm.Heap.Get(ref)
	if obj == nil {
		return th
	}
	th.Class = obj.Klass.Name
	if v, ok := obj.FieldByName("detailMessage", stringField); ok && v.Ref != Null {
		th.Message, _ = vm.GoString(v.Ref)
	}
	return th
}

// stackTraceText renders ref and its causes the way printStackTrace does.
func (vm *VM) stackTraceText(ref Ref) string {
	var b strings.Builder
	seen := make(map[Ref]bool)
	for prefix := ""; ref != Null && !seen[ref]; prefix = "Caused by: " {
		seen[ref] = true
		b.WriteString(prefix)
		b.WriteString(vm.throwable(ref).Error())
		b.WriteString("\n")

		obj := vm.Heap.Get(ref)
		if trace, ok := obj.Native.([]StackTraceElement); ok {
			for _, e := range trace {
				b.WriteString("\tat ")
				b.WriteString(e.String())
				b.WriteString("\n")
			}
		}
		cause, _ := obj.FieldByName("cause", throwableField)
		ref = cause.Ref
	}
	return b.String()
}
