package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Method invocation
// ---------------------------------------------------------------------------

// Invoke runs m on the thread with typed arguments, receiver first for
// instance methods, and returns its result. A thrown Java exception comes
// back as a *Throwable error.
func (t *Thread) Invoke(m *Method, args []Value) (Value, error) {
	if m.IsAbstract() {
		return Value{}, &Error{Kind: ErrAbstractMethod, Msg: m.Owner.JavaName() + "." + m.Name + m.Descriptor}
	}
	if _, err := m.Resolve(); err != nil {
		return Value{}, err
	}

	if m.IsSynchronized() {
		lock, err := t.monitorFor(m, args)
		if err != nil {
			return Value{}, err
		}
		lock.Enter(t)
		defer lock.Exit(t)
	}

	if m.Code == nil {
		v, ok, err := t.vm.Natives.Invoke(t, m.NativeKey(), m, args)
		if !ok {
			return Value{}, &Error{Kind: ErrUnimplemented, Class: m.Owner.Name, Msg: "native method " + m.Name + m.Descriptor}
		}
		return v, err
	}

	if len(t.frames) >= t.vm.maxFrames {
		return Value{}, newError(ErrStackOverflow, "call depth exceeds %d frames", t.vm.maxFrames)
	}

	f := NewFrame(m)
	if err := t.protect(func() error {
		slot := 0
		for _, a := range args {
			f.Locals.Set(slot, a)
			if a.Wide() {
				slot += 2
			} else {
				slot++
			}
		}
		return nil
	}); err != nil {
		return Value{}, err
	}

	t.pushFrame(f)
	defer t.popFrame()
	return t.execute(f)
}

func (t *Thread) monitorFor(m *Method, args []Value) (*Oop, error) {
	ref := Null
	if m.IsStatic() {
		var err error
		if ref, err = t.vm.Mirror(m.Owner); err != nil {
			return nil, err
		}
	} else if len(args) > 0 {
		ref = args[0].Ref
	}
	obj := t.vm.Heap.Get(ref)
	if obj == nil {
		return nil, newError(ErrNullPointer, "synchronized receiver is null")
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Fetch / decode / execute
// ---------------------------------------------------------------------------

// execute runs f until it returns or an exception escapes it.
func (t *Thread) execute(f *Frame) (Value, error) {
	for !f.done {
		if t.vm.halted.Load() {
			return Value{}, t.vm.exitError()
		}
		if err := t.step(f); err != nil {
			if err = t.unwind(f, err); err != nil {
				return Value{}, err
			}
		}
	}
	return f.result, nil
}

// step executes one instruction. Faults raised by the stack, locals and
// bytecode reader arrive as *Error panics and are returned as errors.
func (t *Thread) step(f *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()

	f.opPC = f.reader.Position()
	op := f.reader.ReadOpcode()
	return t.exec(f, op)
}

// ---------------------------------------------------------------------------
// Exception unwinding
// ---------------------------------------------------------------------------

// unwind routes err through f's exception table. It returns nil when a
// handler took over, or the error to propagate to the caller.
func (t *Thread) unwind(f *Frame, err error) error {
	var thrown *Throwable
	var vmErr *Error
	switch {
	case errors.As(err, &thrown):
	case errors.As(err, &vmErr) && vmErr.Catchable():
		th, merr := t.materialize(vmErr)
		if merr != nil {
			return merr
		}
		thrown = th
	default:
		return err
	}

	handler, ok, herr := t.findHandler(f, thrown)
	if herr != nil {
		return herr
	}
	if !ok {
		return thrown
	}
	f.Stack.Clear()
	f.Stack.PushRef(thrown.Ref)
	f.SetPC(handler)
	return nil
}

// findHandler returns the handler_pc of the first exception table entry
// covering the faulting instruction whose catch type matches.
func (t *Thread) findHandler(f *Frame, thrown *Throwable) (int, bool, error) {
	obj := t.vm.Heap.Get(thrown.Ref)
	if obj == nil {
		return 0, false, nil
	}
	for _, h := range f.Method.Code.ExceptionTable {
		if f.opPC < int(h.StartPC) || f.opPC >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), true, nil
		}
		name, err := f.Klass.Pool.ResolveClassName(h.CatchType)
		if err != nil {
			return 0, false, err
		}
		catch, err := t.vm.Loader.Load(name)
		if err != nil {
			return 0, false, err
		}
		if obj.Klass.IsSubclassOf(catch) {
			return int(h.HandlerPC), true, nil
		}
	}
	return 0, false, nil
}

// materialize turns a catchable VM error into the matching java/lang
// exception object. When that is impossible the original error is
// returned.
func (t *Thread) materialize(e *Error) (*Throwable, error) {
	err := t.newThrowable(e.JavaClass(), e.Msg)
	var thrown *Throwable
	if errors.As(err, &thrown) {
		return thrown, nil
	}
	log.Debugf("cannot materialize %v: %v", e, err)
	return nil, e
}
