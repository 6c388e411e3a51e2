package heap

import "testing"

func sumFreeChunks(a *Allocator) int {
	total := 0
	a.Walk(func(p Ptr, h header) {
		if !h.inUse() {
			total += int(h.size())
		}
	})
	return total
}

func sumInUseChunks(a *Allocator) int {
	total := 0
	a.Walk(func(p Ptr, h header) {
		if h.inUse() {
			total += int(h.size())
		}
	})
	return total
}

func TestFreeAndInUseSumsToCapacity(t *testing.T) {
	a := New(MinHeap)

	p1, err := a.Alloc(128, AllocData)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	_, err = a.Alloc(256, AllocObject)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if got := sumFreeChunks(a) + sumInUseChunks(a); got != a.Capacity() {
		t.Fatalf("free+inuse = %d, want %d", got, a.Capacity())
	}
	if a.FreeBytes() != sumFreeChunks(a) {
		t.Fatalf("FreeBytes() = %d, want %d", a.FreeBytes(), sumFreeChunks(a))
	}

	if err := a.Free(p1); err != nil {
		t.Fatalf("free: %v", err)
	}
	if got := sumFreeChunks(a) + sumInUseChunks(a); got != a.Capacity() {
		t.Fatalf("after free: free+inuse = %d, want %d", got, a.Capacity())
	}
}

func TestNoAdjacentFreeChunksAfterFree(t *testing.T) {
	a := New(MinHeap)

	ptrs := make([]Ptr, 8)
	for i := range ptrs {
		p, err := a.Alloc(64, AllocData)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		ptrs[i] = p
	}

	for _, p := range ptrs {
		if err := a.Free(p); err != nil {
			t.Fatalf("free: %v", err)
		}
	}

	// The whole arena should have coalesced back into a single free chunk.
	count := 0
	a.Walk(func(p Ptr, h header) {
		if !h.inUse() {
			count++
		}
	})
	if count != 1 {
		t.Fatalf("expected a single coalesced free chunk, got %d", count)
	}
	if a.FreeBytes() != a.Capacity() {
		t.Fatalf("FreeBytes() = %d, want %d", a.FreeBytes(), a.Capacity())
	}
}

func TestAllocMinChunkSucceeds(t *testing.T) {
	a := New(MinHeap)
	if _, err := a.Alloc(1, AllocData); err != nil {
		t.Fatalf("min alloc failed: %v", err)
	}
}

func TestOomWhenExhausted(t *testing.T) {
	a := New(MinHeap)

	// Drain the heap in large chunks until an allocation fails.
	var failed error
	for i := 0; i < 10000; i++ {
		if _, err := a.Alloc(4096, AllocData); err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		t.Fatal("expected eventual OOM, none occurred")
	}
}

func TestCloneCopiesPayload(t *testing.T) {
	a := New(MinHeap)
	p, err := a.Alloc(32, AllocData)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	copy(a.Payload(p), []byte("hello world"))

	clone, err := a.Clone(p)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if string(a.Payload(clone)[:11]) != "hello world" {
		t.Fatalf("clone payload mismatch: %q", a.Payload(clone)[:11])
	}
}

func TestSetAllocTypeFreezesChunk(t *testing.T) {
	a := New(MinHeap)
	p, err := a.Alloc(64, AllocInstanceClazz)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.SetAllocType(p, AllocStatic)
	if a.AllocType(p) != AllocStatic {
		t.Fatalf("AllocType = %v, want Static", a.AllocType(p))
	}
}

// fakeRoots marks a fixed set of pointers as roots; used to exercise the
// collector without a full VM.
type fakeRoots struct{ ptrs []Ptr }

func (f fakeRoots) Roots(mark MarkFunc) {
	for _, p := range f.ptrs {
		mark(p)
	}
}

func TestCollectFreesUnreachableObjects(t *testing.T) {
	a := New(MinHeap)

	reachable, err := a.Alloc(32, AllocObject)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	unreachable, err := a.Alloc(32, AllocObject)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	gc := &Collector{
		Alloc: a,
		Roots: fakeRoots{ptrs: []Ptr{reachable}},
		Trace: func(a *Allocator, p Ptr, at AllocType, mark MarkFunc) {},
	}
	gc.Collect()

	if h := a.getHeader(reachable); !h.inUse() {
		t.Fatal("reachable object was freed")
	}
	if h := a.getHeader(unreachable); h.inUse() {
		t.Fatal("unreachable object survived GC")
	}
	if gc.LastFreed != 1 {
		t.Fatalf("LastFreed = %d, want 1", gc.LastFreed)
	}
}

type fakeWeakRefs struct {
	referent map[Ptr]Ptr
	cleared  map[Ptr]bool
}

func (f *fakeWeakRefs) Referent(a *Allocator, weakRef Ptr) Ptr { return f.referent[weakRef] }
func (f *fakeWeakRefs) ClearAndEnqueue(a *Allocator, weakRef Ptr) {
	if f.cleared == nil {
		f.cleared = make(map[Ptr]bool)
	}
	f.cleared[weakRef] = true
}

func TestWeakRefClearedWhenReferentCollected(t *testing.T) {
	a := New(MinHeap)

	referent, _ := a.Alloc(32, AllocObject)
	weakRef, _ := a.Alloc(16, AllocWeakRef)

	wr := &fakeWeakRefs{referent: map[Ptr]Ptr{weakRef: referent}}
	gc := &Collector{
		Alloc:    a,
		Roots:    fakeRoots{ptrs: []Ptr{weakRef}},
		Trace:    func(a *Allocator, p Ptr, at AllocType, mark MarkFunc) {},
		WeakRefs: wr,
	}
	gc.Collect()

	if !wr.cleared[weakRef] {
		t.Fatal("expected weak reference to be cleared")
	}
}
