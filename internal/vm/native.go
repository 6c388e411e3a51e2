package vm

import (
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/vmerr"
)

var (
	errTransientRootsExhausted = vmerr.ErrTransientRootsExhausted
	errPermanentRootsExhausted = vmerr.ErrPermanentRootsExhausted
)

// NativeFunc is the one calling convention every native method uses
// (spec §4.6): it receives its argument cells (index 0 is `this` for
// instance methods, the first declared argument for static ones; longs
// and doubles occupy two consecutive slots) and the invoking VM/thread,
// and returns its result by pushing onto the caller's operand stack via
// Thread.Return* helpers, or by throwing (setting thread.PendingException
// and returning without pushing anything).
//
// Only the calling convention is core; the registry of concrete natives
// is an external collaborator (spec §1 "native-method registry
// contents") — internal/native supplies a reference registry sufficient
// to run the end-to-end scenarios in spec §8.
type NativeFunc func(v *VM, t *Thread, args []Cell)

// NativeRegistry maps "ClassName.methodName:descriptor" to its
// implementation. Lookup happens once per call site at link time in a
// real embedding; this core does a direct map lookup per invokestatic/
// invokevirtual dispatch to a native method, which is cheap enough for a
// tree-walking-style interpreter like this one.
type NativeRegistry struct {
	byKey map[string]NativeFunc
}

func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{byKey: make(map[string]NativeFunc)}
}

func NativeKey(className, methodName, descriptor string) string {
	return className + "." + methodName + ":" + descriptor
}

func (r *NativeRegistry) Register(className, methodName, descriptor string, fn NativeFunc) {
	r.byKey[NativeKey(className, methodName, descriptor)] = fn
}

func (r *NativeRegistry) Lookup(className, methodName, descriptor string) (NativeFunc, bool) {
	fn, ok := r.byKey[NativeKey(className, methodName, descriptor)]
	return fn, ok
}

// TransientRoots is the native interface's per-invocation root stack
// (spec §4.6 "MallocLocal"): objects registered here survive until the
// current native method returns, then become ordinary collectible
// garbage unless the native explicitly promoted them (e.g. by storing
// into a field). It is a GC root while non-empty.
type TransientRoots struct {
	stack    []heap.Ptr
	maxDepth int
}

func NewTransientRoots(maxDepth int) *TransientRoots {
	return &TransientRoots{maxDepth: maxDepth}
}

// Push registers ptr as a transient root. Exceeding maxDepth is a fatal
// resource-exhaustion condition (spec §6 "exhausted transient/permanent
// root stacks").
func (r *TransientRoots) Push(ptr heap.Ptr) error {
	if len(r.stack) >= r.maxDepth {
		return errTransientRootsExhausted
	}
	r.stack = append(r.stack, ptr)
	return nil
}

// Mark is called at the end of every native invocation; PopFrame drops
// everything pushed since the matching PushFrame mark.
func (r *TransientRoots) Mark() int { return len(r.stack) }
func (r *TransientRoots) PopTo(mark int) {
	r.stack = r.stack[:mark]
}

func (r *TransientRoots) Roots(mark heap.MarkFunc) {
	for _, p := range r.stack {
		mark(p)
	}
}

// PermanentRoots is the NI's caller-owned, explicitly-managed root stack
// (objects a native wants to keep alive beyond its own invocation, until
// explicitly unrooted) — the non-transient half of spec §4.6.
type PermanentRoots struct {
	stack    []heap.Ptr
	maxDepth int
}

func NewPermanentRoots(maxDepth int) *PermanentRoots {
	return &PermanentRoots{maxDepth: maxDepth}
}

func (r *PermanentRoots) Push(ptr heap.Ptr) error {
	if len(r.stack) >= r.maxDepth {
		return errPermanentRootsExhausted
	}
	r.stack = append(r.stack, ptr)
	return nil
}

func (r *PermanentRoots) Remove(ptr heap.Ptr) {
	for i, p := range r.stack {
		if p == ptr {
			r.stack = append(r.stack[:i], r.stack[i+1:]...)
			return
		}
	}
}

func (r *PermanentRoots) Roots(mark heap.MarkFunc) {
	for _, p := range r.stack {
		mark(p)
	}
}
