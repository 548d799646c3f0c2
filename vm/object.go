package vm

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Oop: a heap object
// ---------------------------------------------------------------------------

// Oop is an instance or array on the heap. Instances use Fields, laid out by
// the Klass's instance layout; arrays use Elements. Native holds host-side
// state for bootstrap classes (string builders, throwable traces, class
// mirrors, threads).
type Oop struct {
	Klass    *Klass
	Fields   []Value
	Elements []Value
	Native   any

	monOnce sync.Once
	mon     *monitor
}

// IsArray reports whether the object is an array.
func (o *Oop) IsArray() bool {
	return o.Klass.IsArray()
}

// Length returns the array length, or 0 for instances.
func (o *Oop) Length() int {
	return len(o.Elements)
}

// Field returns the instance field with the given offset.
func (o *Oop) Field(f *Field) Value {
	return o.Fields[f.Offset]
}

// SetField stores an instance field.
func (o *Oop) SetField(f *Field, v Value) {
	o.Fields[f.Offset] = v
}

// FieldByName reads an instance field by name and descriptor, returning
// false when the class has no such field.
func (o *Oop) FieldByName(name, descriptor string) (Value, bool) {
	f := o.Klass.LookupField(name, descriptor)
	if f == nil || f.Static {
		return Value{}, false
	}
	return o.Fields[f.Offset], true
}

// SetFieldByName writes an instance field by name and descriptor.
func (o *Oop) SetFieldByName(name, descriptor string, v Value) bool {
	f := o.Klass.LookupField(name, descriptor)
	if f == nil || f.Static {
		return false
	}
	o.Fields[f.Offset] = v
	return true
}

func (o *Oop) monitor() *monitor {
	o.monOnce.Do(func() {
		o.mon = &monitor{}
		o.mon.cond = sync.NewCond(&o.mon.mu)
	})
	return o.mon
}

// ---------------------------------------------------------------------------
// Monitors
// ---------------------------------------------------------------------------

// monitor is a reentrant lock with wait sets, owned by at most one Thread.
type monitor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	owner   *Thread
	count   int
	waiters []chan struct{}
}

// Enter acquires the object's monitor, blocking while another thread owns
// it.
func (o *Oop) Enter(t *Thread) {
	m := o.monitor()
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.owner != nil && m.owner != t {
		m.cond.Wait()
	}
	m.owner = t
	m.count++
}

// Exit releases one level of ownership.
func (o *Oop) Exit(t *Thread) error {
	m := o.monitor()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != t {
		return newError(ErrIllegalMonitorState, "current thread is not owner")
	}
	m.count--
	if m.count == 0 {
		m.owner = nil
		m.cond.Broadcast()
	}
	return nil
}

// Wait releases the monitor until notified or until timeout elapses (zero
// waits forever), then reacquires it at the same depth.
func (o *Oop) Wait(t *Thread, timeout time.Duration) error {
	m := o.monitor()
	m.mu.Lock()
	if m.owner != t {
		m.mu.Unlock()
		return newError(ErrIllegalMonitorState, "current thread is not owner")
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	depth := m.count
	m.owner, m.count = nil, 0
	m.cond.Broadcast()
	m.mu.Unlock()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	} else {
		<-ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeWaiter(ch)
	for m.owner != nil {
		m.cond.Wait()
	}
	m.owner, m.count = t, depth
	return nil
}

func (m *monitor) removeWaiter(ch chan struct{}) {
	for i, w := range m.waiters {
		if w == ch {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// Notify wakes one waiter, or every waiter when all is set.
func (o *Oop) Notify(t *Thread, all bool) error {
	m := o.monitor()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != t {
		return newError(ErrIllegalMonitorState, "current thread is not owner")
	}
	n := 1
	if all {
		n = len(m.waiters)
	}
	for i := 0; i < n && len(m.waiters) > 0; i++ {
		close(m.waiters[0])
		m.waiters = m.waiters[1:]
	}
	return nil
}
