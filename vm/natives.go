package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Native method bridge
// ---------------------------------------------------------------------------

// NativeFunc implements a method without bytecode. args holds the receiver
// first for instance methods. Void methods return the zero Value.
type NativeFunc func(t *Thread, m *Method, args []Value) (Value, error)

// NativeRegistry maps "<owner>/<name>" keys to implementations. Overloads
// share a key and switch on m.Descriptor.
type NativeRegistry struct {
	mu    sync.RWMutex
	funcs map[string]NativeFunc
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{funcs: make(map[string]NativeFunc)}
}

// Register binds key to fn, replacing any previous binding.
func (r *NativeRegistry) Register(key string, fn NativeFunc) {
	r.mu.Lock()
	r.funcs[key] = fn
	r.mu.Unlock()
}

// Lookup returns the function bound to key.
func (r *NativeRegistry) Lookup(key string) (NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[key]
	return fn, ok
}

// Invoke calls the native bound to key. The boolean is false when nothing
// is registered.
func (r *NativeRegistry) Invoke(t *Thread, key string, m *Method, args []Value) (Value, bool, error) {
	fn, ok := r.Lookup(key)
	if !ok {
		return Value{}, false, nil
	}
	v, err := fn(t, m, args)
	return v, true, err
}

// Keys returns the registered keys in sorted order.
func (r *NativeRegistry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
