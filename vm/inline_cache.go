package vm

import "sync"

// Inline caching for virtual and interface dispatch.
//
// Each invokevirtual/invokeinterface call site keeps the receiver classes
// it has seen together with the selected implementation. Most sites see a
// single receiver class; sites that see more than MaxPICEntries classes go
// megamorphic and always fall back to Klass.FindVirtual.

// CacheState is how many receiver classes a call site has seen.
type CacheState uint8

const (
	CacheEmpty CacheState = iota
	CacheMonomorphic
	CachePolymorphic // up to MaxPICEntries receivers
	CacheMegamorphic
)

// MaxPICEntries bounds a polymorphic call site.
const MaxPICEntries = 6

// InlineCacheEntry pairs a receiver class with its selected method.
type InlineCacheEntry struct {
	Klass  *Klass
	Method *Method
}

// InlineCache belongs to one call site. State only moves forward.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup returns the method cached for receiver class k, or nil.
func (ic *InlineCache) Lookup(k *Klass) *Method {
	switch ic.State {
	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Klass == k {
				ic.Hits++
				return ic.Entries[i].Method
			}
		}
	case CacheMegamorphic, CacheEmpty:
	}

	ic.Misses++
	return nil
}

// Update records that receivers of class k dispatch to m. A full site
// drops its entries and stops caching.
func (ic *InlineCache) Update(k *Klass, m *Method) {
	if m == nil {
		return
	}

	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.Entries[0] = InlineCacheEntry{Klass: k, Method: m}
		ic.Count = 1

	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Klass == k {
				return
			}
		}
		if ic.Count < MaxPICEntries {
			ic.Entries[ic.Count] = InlineCacheEntry{Klass: k, Method: m}
			ic.Count++
			ic.State = CachePolymorphic
			return
		}
		ic.State = CacheMegamorphic
		for i := range ic.Entries {
			ic.Entries[i] = InlineCacheEntry{}
		}
		ic.Count = 0

	case CacheMegamorphic:
	}
}

// InlineCacheTable holds the caches of one method's call sites, keyed by
// bytecode offset. Safe for concurrent use.
type InlineCacheTable struct {
	mu     sync.Mutex
	caches map[int]*InlineCache
}

// NewInlineCacheTable returns an empty table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{
		caches: make(map[int]*InlineCache),
	}
}

// Dispatch returns the implementation for receiver class k at call site pc,
// consulting the cache before calling lookup.
func (t *InlineCacheTable) Dispatch(pc int, k *Klass, lookup func() *Method) *Method {
	t.mu.Lock()
	ic := t.caches[pc]
	if ic == nil {
		ic = &InlineCache{}
		t.caches[pc] = ic
	}
	if m := ic.Lookup(k); m != nil {
		t.mu.Unlock()
		return m
	}
	t.mu.Unlock()

	m := lookup()

	t.mu.Lock()
	ic.Update(k, m)
	t.mu.Unlock()
	return m
}

// Get returns the cache of the call site at pc, if it has executed.
func (t *InlineCacheTable) Get(pc int) *InlineCache {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caches[pc]
}

// ICStats summarizes call-site caches.
type ICStats struct {
	TotalCallSites int
	Monomorphic    int
	Polymorphic    int
	Megamorphic    int
	TotalHits      uint64
	TotalMisses    uint64
}

// HitRate is the percentage of lookups served from a cache.
func (s ICStats) HitRate() float64 {
	total := s.TotalHits + s.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(s.TotalHits) * 100 / float64(total)
}

func (s *ICStats) add(o ICStats) {
	s.TotalCallSites += o.TotalCallSites
	s.Monomorphic += o.Monomorphic
	s.Polymorphic += o.Polymorphic
	s.Megamorphic += o.Megamorphic
	s.TotalHits += o.TotalHits
	s.TotalMisses += o.TotalMisses
}

// Stats summarizes every call site in the table.
func (t *InlineCacheTable) Stats() ICStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s ICStats
	for _, ic := range t.caches {
		s.TotalCallSites++
		switch ic.State {
		case CacheMonomorphic:
			s.Monomorphic++
		case CachePolymorphic:
			s.Polymorphic++
		case CacheMegamorphic:
			s.Megamorphic++
		}
		s.TotalHits += ic.Hits
		s.TotalMisses += ic.Misses
	}
	return s
}

// CollectICStats sums the call-site caches of every method loaded into ct.
func CollectICStats(ct *ClassTable) ICStats {
	var total ICStats
	for _, k := range ct.All() {
		for _, m := range k.Methods {
			caches := m.inlineCaches(false)
			if caches == nil {
				continue
			}
			total.add(caches.Stats())
		}
	}
	return total
}
