package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/mabhi256/jovm/internal/vmerr"
)

// Ptr is an offset into the arena, standing in for the allocator's native
// pointer. Zero is the reserved null pointer; valid chunks start at 8
// (offset 0 is never handed to a caller).
type Ptr uint32

const nullPtr Ptr = 0

// MinHeap and MaxHeap bound configured heap sizes (spec §4.1): the 24-bit
// chunk size field limits the arena to 16 MiB.
const (
	MinHeap = 256 * 1024
	MaxHeap = 16 * 1024 * 1024
)

// Allocator is a single-threaded, first-fit, eagerly-coalescing free-list
// allocator over a fixed byte arena. It never grows: construction reserves
// the whole arena up front, matching an embedded target with no virtual
// memory to call into.
type Allocator struct {
	arena    []byte
	freeHead Ptr // head of the doubly linked free list, 0 if empty
	free     int // bytes currently free (sum of free-chunk sizes)
	capacity int // bytes usable for chunks (arena minus the one-word sentinel)

	// onOOM is invoked once when an allocation fails; the GC wires itself
	// in here so the allocator can ask for a collection before giving up.
	onOOM func()
}

// New creates an allocator over an arena of the given size, clamped to
// [MinHeap, MaxHeap].
func New(size int) *Allocator {
	if size < MinHeap {
		size = MinHeap
	}
	if size > MaxHeap {
		size = MaxHeap
	}
	a := &Allocator{arena: make([]byte, size)}
	a.capacity = size - wordSize
	a.freeHead = 0
	a.initFreeSpace()
	return a
}

// SetOOMHandler installs the callback run once per failing allocation
// before it gives up (the GC's entry point).
func (a *Allocator) SetOOMHandler(f func()) { a.onOOM = f }

func (a *Allocator) initFreeSpace() {
	first := Ptr(wordSize) // offset 0 is the null sentinel word
	h := makeHeader(uint32(a.capacity), AllocData, colorWhite, false, false)
	a.putHeader(first, h)
	a.setNext(first, nullPtr)
	a.setPrev(first, nullPtr)
	a.setBackPointer(first, uint32(a.capacity))
	a.freeHead = first
	a.free = a.capacity
}

// FreeBytes returns the sum of free-chunk sizes, an invariant maintained
// across every alloc/free/coalesce.
func (a *Allocator) FreeBytes() int { return a.free }

// Capacity returns the bytes usable for chunks (the arena size minus the
// one-word null sentinel).
func (a *Allocator) Capacity() int { return a.capacity }

func (a *Allocator) putHeader(p Ptr, h header) {
	binary.LittleEndian.PutUint32(a.arena[p:], uint32(h))
}
func (a *Allocator) getHeader(p Ptr) header {
	return header(binary.LittleEndian.Uint32(a.arena[p:]))
}

// Free-chunk layout after the header: [next:4][prev:4]...[backPointer:4 at tail]
func (a *Allocator) setNext(p Ptr, next Ptr) {
	binary.LittleEndian.PutUint32(a.arena[p+4:], uint32(next))
}
func (a *Allocator) getNext(p Ptr) Ptr {
	return Ptr(binary.LittleEndian.Uint32(a.arena[p+4:]))
}
func (a *Allocator) setPrev(p Ptr, prev Ptr) {
	binary.LittleEndian.PutUint32(a.arena[p+8:], uint32(prev))
}
func (a *Allocator) getPrev(p Ptr) Ptr {
	return Ptr(binary.LittleEndian.Uint32(a.arena[p+8:]))
}

// setBackPointer writes the chunk's own size at its tail so the previous
// adjacent free chunk can be located in O(1) during coalescing.
func (a *Allocator) setBackPointer(p Ptr, size uint32) {
	tail := uint32(p) + size - 4
	binary.LittleEndian.PutUint32(a.arena[tail:], size)
}
func (a *Allocator) backPointerSize(endExclusive uint32) uint32 {
	return binary.LittleEndian.Uint32(a.arena[endExclusive-4:])
}

func (a *Allocator) unlinkFree(p Ptr) {
	prev, next := a.getPrev(p), a.getNext(p)
	if prev != nullPtr {
		a.setNext(prev, next)
	} else {
		a.freeHead = next
	}
	if next != nullPtr {
		a.setPrev(next, prev)
	}
}

func (a *Allocator) pushFree(p Ptr, size uint32, at AllocType) {
	h := makeHeader(size, at, colorWhite, false, false)
	a.putHeader(p, h)
	a.setNext(p, a.freeHead)
	a.setPrev(p, nullPtr)
	if a.freeHead != nullPtr {
		a.setPrev(a.freeHead, p)
	}
	a.freeHead = p
	a.setBackPointer(p, size)
	a.markSuccessorPrevFree(p, size, true)
}

// markSuccessorPrevFree sets or clears prev_free on the chunk immediately
// following p (if any exists within the arena).
func (a *Allocator) markSuccessorPrevFree(p Ptr, size uint32, v bool) {
	succ := uint32(p) + size
	if int(succ) >= a.capacity {
		return
	}
	h := a.getHeader(Ptr(succ))
	a.putHeader(Ptr(succ), h.withPrevFree(v))
}

// alignUp rounds n up to the machine word size.
func alignUp(n int) int {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// chunkSizeFor returns the chunk size (header+payload, word-aligned) needed
// to hold a user payload of n bytes, floored at minChunk.
func chunkSizeFor(n int) int {
	total := alignUp(n + 4) // 4-byte header
	if total < minChunk {
		total = minChunk
	}
	return total
}

// Alloc returns a word-aligned pointer to a chunk holding size bytes of
// uninitialized payload (reachable via Payload, just past the 4-byte
// header), tagged with the given allocation type.
func (a *Allocator) Alloc(size int, at AllocType) (Ptr, error) {
	need := chunkSizeFor(size)
	if need > maxChunkSize {
		return nullPtr, fmt.Errorf("%w: chunk size %d exceeds 24-bit limit", vmerr.ErrOom, need)
	}

	p, ok := a.firstFit(need, at)
	if !ok && a.onOOM != nil {
		a.onOOM()
		p, ok = a.firstFit(need, at)
	}
	if !ok {
		return nullPtr, vmerr.ErrOom
	}
	return p, nil
}

// Calloc is Alloc with the payload zero-filled.
func (a *Allocator) Calloc(size int, at AllocType) (Ptr, error) {
	p, err := a.Alloc(size, at)
	if err != nil {
		return nullPtr, err
	}
	h := a.getHeader(p)
	for i := uint32(4); i < h.size(); i++ {
		a.arena[uint32(p)+i] = 0
	}
	return p, nil
}

func (a *Allocator) firstFit(need int, at AllocType) (Ptr, bool) {
	for cur := a.freeHead; cur != nullPtr; cur = a.getNext(cur) {
		h := a.getHeader(cur)
		sz := int(h.size())
		if sz < need {
			continue
		}
		a.unlinkFree(cur)
		if sz-need >= minChunk {
			a.split(cur, uint32(need), uint32(sz-need))
		} else {
			need = sz
		}
		inUseHeader := makeHeader(uint32(need), at, colorWhite, h.prevFree(), true)
		a.putHeader(cur, inUseHeader)
		a.markSuccessorPrevFree(cur, uint32(need), false)
		a.free -= need
		return cur, true
	}
	return nullPtr, false
}

// split carves a free chunk of `total` bytes at p into an in-use-to-be
// region of `head` bytes and a new free remainder chunk.
func (a *Allocator) split(p Ptr, head, tail uint32) {
	remainder := Ptr(uint32(p) + head)
	a.pushFree(remainder, tail, AllocData)
}

// SetAllocType mutates a chunk's header in place without touching its
// payload — used to freeze unloaded class metadata as Static so future
// GCs ignore it.
func (a *Allocator) SetAllocType(p Ptr, at AllocType) {
	h := a.getHeader(p)
	a.putHeader(p, h.withAllocType(at))
}

// AllocType returns the type tag of the chunk at p.
func (a *Allocator) AllocType(p Ptr) AllocType { return a.getHeader(p).allocType() }

// Size returns the payload-carrying chunk size (including the 4-byte
// header) for the chunk at p.
func (a *Allocator) Size(p Ptr) int { return int(a.getHeader(p).size()) }

// Payload returns a slice over the chunk's bytes after the header.
func (a *Allocator) Payload(p Ptr) []byte {
	h := a.getHeader(p)
	return a.arena[uint32(p)+4 : uint32(p)+h.size()]
}

// Free returns the chunk to the free list, coalescing with the previous
// adjacent chunk (via its trailing back-pointer) and the next adjacent
// chunk (via its header's prev_free bit), so no two free chunks are ever
// adjacent.
func (a *Allocator) Free(p Ptr) error {
	h := a.getHeader(p)
	if !h.inUse() {
		return fmt.Errorf("%w: double free at offset %d", vmerr.ErrCorruptChunk, p)
	}
	size := h.size()
	start := uint32(p)

	// Coalesce with predecessor.
	if h.prevFree() {
		predSize := a.backPointerSize(start)
		predStart := start - predSize
		a.unlinkFree(Ptr(predStart))
		start = predStart
		size += predSize
	}

	// Coalesce with successor.
	succStart := start + size
	if int(succStart) < a.capacity {
		succHeader := a.getHeader(Ptr(succStart))
		if !succHeader.inUse() {
			a.unlinkFree(Ptr(succStart))
			size += succHeader.size()
		}
	}

	a.free += int(h.size())
	a.pushFree(Ptr(start), size, AllocData)
	return nil
}

// Clone allocates a chunk of the same size and type as p and copies its
// payload.
func (a *Allocator) Clone(p Ptr) (Ptr, error) {
	h := a.getHeader(p)
	payloadLen := int(h.size()) - 4
	np, err := a.Alloc(payloadLen, h.allocType())
	if err != nil {
		return nullPtr, err
	}
	a.SetAllocType(np, h.allocType())
	copy(a.Payload(np), a.Payload(p))
	return np, nil
}

// Walk invokes fn for every chunk in address order (both free and in-use),
// used internally by the sweeper.
func (a *Allocator) Walk(fn func(p Ptr, h header)) {
	for off := uint32(wordSize); int(off) < a.capacity; {
		p := Ptr(off)
		h := a.getHeader(p)
		fn(p, h)
		off += h.size()
	}
}

// ChunkSummary is a read-only snapshot of one chunk's header, exported for
// diagnostic commands (`jovm heap`) that can't name the unexported header
// type directly.
type ChunkSummary struct {
	Ptr       Ptr
	Size      int
	AllocType AllocType
	InUse     bool
}

// Summary walks the heap once and returns every chunk's header state, for
// the histogram/free-list-length output of `jovm heap`.
func (a *Allocator) Summary() []ChunkSummary {
	var out []ChunkSummary
	a.Walk(func(p Ptr, h header) {
		out = append(out, ChunkSummary{Ptr: p, Size: int(h.size()), AllocType: h.allocType(), InUse: h.inUse()})
	})
	return out
}
