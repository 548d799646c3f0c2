package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Thread: one Java thread of execution
// ---------------------------------------------------------------------------

// Thread owns a stack of frames and runs on exactly one goroutine.
type Thread struct {
	vm     *VM
	ID     int64
	Name   string
	frames []*Frame

	oop  Ref // java/lang/Thread object, created on demand
	done chan struct{}
	err  error
}

// NewThread creates a thread that has not started running.
func (vm *VM) NewThread(name string) *Thread {
	return &Thread{
		vm:   vm,
		ID:   vm.nextThreadID.Add(1),
		Name: name,
		done: make(chan struct{}),
	}
}

// VM returns the thread's virtual machine.
func (t *Thread) VM() *VM {
	return t.vm
}

// Depth returns the number of active frames.
func (t *Thread) Depth() int {
	return len(t.frames)
}

// CurrentFrame returns the innermost frame, or nil.
func (t *Thread) CurrentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

func (t *Thread) pushFrame(f *Frame) {
	t.frames = append(t.frames, f)
}

func (t *Thread) popFrame() {
	t.frames[len(t.frames)-1] = nil
	t.frames = t.frames[:len(t.frames)-1]
}

// StackTrace captures the active frames, innermost first.
func (t *Thread) StackTrace() []StackTraceElement {
	trace := make([]StackTraceElement, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		trace = append(trace, StackTraceElement{
			Class:  f.Method.Owner.Name,
			Method: f.Method.Name,
			File:   f.Method.Owner.SourceFile,
			Line:   f.Method.LineFor(f.opPC),
		})
	}
	return trace
}

// Start runs fn on a new goroutine as this thread. Run waits for every
// started thread before returning.
func (t *Thread) Start(fn func(t *Thread) error) {
	t.vm.threads.Add(1)
	log.Debugf("thread %d %q starting", t.ID, t.Name)
	go func() {
		defer t.vm.threads.Done()
		defer close(t.done)
		t.err = t.protect(func() error { return fn(t) })
		var exit *ExitError
		if t.err != nil && !errors.As(t.err, &exit) {
			t.reportUncaught(t.err)
		}
		log.Debugf("thread %d %q finished", t.ID, t.Name)
	}()
}

// Join blocks until the thread finishes and returns its uncaught error.
func (t *Thread) Join() error {
	<-t.done
	return t.err
}

// Alive reports whether a started thread is still running.
func (t *Thread) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// protect converts a fault panicked outside the interpreter loop into an
// error.
func (t *Thread) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	return fn()
}

// reportUncaught prints an uncaught exception the way the java launcher
// does.
func (t *Thread) reportUncaught(err error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Exception in thread %q ", t.Name)

	var thrown *Throwable
	if errors.As(err, &thrown) {
		b.WriteString(t.vm.stackTraceText(thrown.Ref))
	} else {
		b.WriteString(err.Error())
		b.WriteString("\n")
	}
	log.Errorf("uncaught in thread %q: %v", t.Name, err)
	t.vm.write(t.vm.stderr, b.String())
}
