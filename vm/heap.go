package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap allocates zero-initialized objects addressed by Ref handles. Objects
// are never freed explicitly.
type Heap interface {
	AllocateInstance(k *Klass) (Ref, error)
	AllocateArray(k *Klass, length int) (Ref, error)
	Get(r Ref) *Oop
	Len() int
}

// ArenaHeap is a Heap backed by a growable slice. Handle 0 is reserved for
// null. A positive Limit caps the number of live objects.
type ArenaHeap struct {
	mu      sync.RWMutex
	objects []*Oop
	Limit   int
}

// NewArenaHeap creates an empty heap. limit <= 0 means unbounded.
func NewArenaHeap(limit int) *ArenaHeap {
	return &ArenaHeap{
		objects: make([]*Oop, 1, 1024),
		Limit:   limit,
	}
}

func (h *ArenaHeap) put(o *Oop) (Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Limit > 0 && len(h.objects)-1 >= h.Limit {
		return Null, newError(ErrOutOfMemory, "Java heap space")
	}
	h.objects = append(h.objects, o)
	return Ref(len(h.objects) - 1), nil
}

// AllocateInstance allocates an instance of k with every field zeroed.
func (h *ArenaHeap) AllocateInstance(k *Klass) (Ref, error) {
	layout := k.InstanceLayout()
	fields := make([]Value, len(layout))
	for i, f := range layout {
		fields[i] = f.Type.Zero()
	}
	return h.put(&Oop{Klass: k, Fields: fields})
}

// AllocateArray allocates an array of class k with length zeroed elements.
func (h *ArenaHeap) AllocateArray(k *Klass, length int) (Ref, error) {
	if length < 0 {
		return Null, newError(ErrNegativeArraySize, "%d", length)
	}
	zero := RefValue(Null)
	if k.Kind == KindTypeArray && k.Dimension == 1 {
		zero = zeroValue(k.Elem)
	}
	elems := make([]Value, length)
	for i := range elems {
		elems[i] = zero
	}
	return h.put(&Oop{Klass: k, Elements: elems})
}

// Get dereferences a handle. It returns nil for Null and unknown handles.
func (h *ArenaHeap) Get(r Ref) *Oop {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r == Null || int(r) >= len(h.objects) {
		return nil
	}
	return h.objects[r]
}

// Len returns the number of allocated objects.
func (h *ArenaHeap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects) - 1
}
