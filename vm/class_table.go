package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// ClassTable: per-VM class registry
// ---------------------------------------------------------------------------

// ClassTable maps binary names to Klasses and hands out stable IDs.
// Safe for concurrent use.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Klass
	arena   []*Klass
}

// NewClassTable returns an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Klass),
	}
}

// Register adds k under its name and assigns its ID. It returns the class
// previously registered under that name, if any.
func (ct *ClassTable) Register(k *Klass) *Klass {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	old := ct.classes[k.Name]
	ct.add(k)
	return old
}

// RegisterIfAbsent adds k unless a class with the same name exists, in which
// case the existing class is returned with false.
func (ct *ClassTable) RegisterIfAbsent(k *Klass) (*Klass, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if old, ok := ct.classes[k.Name]; ok {
		return old, false
	}
	ct.add(k)
	return k, true
}

func (ct *ClassTable) add(k *Klass) {
	k.ID = len(ct.arena)
	ct.arena = append(ct.arena, k)
	ct.classes[k.Name] = k
}

// Lookup returns the class registered under a binary name.
func (ct *ClassTable) Lookup(name string) *Klass {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// ByID returns the class registered with the given ID.
func (ct *ClassTable) ByID(id int) *Klass {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if id < 0 || id >= len(ct.arena) {
		return nil
	}
	return ct.arena[id]
}

// Has reports whether name is registered, in any state.
func (ct *ClassTable) Has(name string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.classes[name]
	return ok
}

// All returns all registered classes sorted by name.
func (ct *ClassTable) All() []*Klass {
	ct.mu.RLock()
	result := make([]*Klass, 0, len(ct.classes))
	for _, k := range ct.classes {
		result = append(result, k)
	}
	ct.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Len counts registered names.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
