package strings

import (
	"sort"

	"github.com/mabhi256/jovm/internal/heap"
)

// InternPool implements java.lang.String.intern(): a lazy byte-sequence to
// String-object map. The mapped String objects live on the VM heap (as
// AllocType String chunks) and are GC roots so long as they remain
// interned.
type InternPool struct {
	byBytes map[string]heap.Ptr
}

func NewInternPool() *InternPool {
	return &InternPool{byBytes: make(map[string]heap.Ptr)}
}

// Lookup returns the already-interned String object for the given bytes,
// if any.
func (p *InternPool) Lookup(b []byte) (heap.Ptr, bool) {
	ptr, ok := p.byBytes[string(b)]
	return ptr, ok
}

// Intern records the mapping from byte sequence to String object. The
// caller is responsible for allocating the String object on first
// intern; Intern is idempotent — interning the same
// bytes twice without an intervening class unload returns the original
// pointer, matching `intern(intern(s)) == intern(s)`.
func (p *InternPool) Intern(b []byte, makeString func() heap.Ptr) heap.Ptr {
	if ptr, ok := p.byBytes[string(b)]; ok {
		return ptr
	}
	ptr := makeString()
	p.byBytes[string(b)] = ptr
	return ptr
}

// Forget removes a mapping whose String object chunk was reclaimed
// (reachable only via this pool and otherwise unreferenced — interning
// does not itself keep a string artificially rooted beyond the pool scan).
func (p *InternPool) Forget(b []byte) {
	delete(p.byBytes, string(b))
}

// Roots marks every currently interned String object, implementing the
// "intern-string pool is a GC root" invariant (spec §4.2).
func (p *InternPool) Roots(mark heap.MarkFunc) {
	for _, ptr := range p.byBytes {
		mark(ptr)
	}
}

// Count returns the number of distinct interned strings.
func (p *InternPool) Count() int { return len(p.byBytes) }

// All returns every interned pointer in deterministic order, for dumps.
func (p *InternPool) All() []heap.Ptr {
	keys := make([]string, 0, len(p.byBytes))
	for k := range p.byBytes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]heap.Ptr, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.byBytes[k])
	}
	return out
}
