package debugger

import "github.com/mabhi256/jovm/internal/heap"

// RootMap implements vm.DebuggerRoots: an address-keyed set pinning
// objects against GC while the debugger may still refer to them by ID
// (spec §4.10). DisableCollection/EnableCollection add/remove entries;
// closing the session (Clear) wipes the whole table.
type RootMap struct {
	pinned map[heap.Ptr]int // refcount: DisableCollection may be called more than once per object
}

func NewRootMap() *RootMap {
	return &RootMap{pinned: make(map[heap.Ptr]int)}
}

func (r *RootMap) DisableCollection(p heap.Ptr) {
	r.pinned[p]++
}

func (r *RootMap) EnableCollection(p heap.Ptr) {
	if r.pinned[p] <= 1 {
		delete(r.pinned, p)
		return
	}
	r.pinned[p]--
}

func (r *RootMap) Clear() {
	r.pinned = make(map[heap.Ptr]int)
}

// Roots implements vm.DebuggerRoots.
func (r *RootMap) Roots(mark heap.MarkFunc) {
	for p := range r.pinned {
		mark(p)
	}
}
