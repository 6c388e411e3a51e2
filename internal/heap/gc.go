package heap

// MarkFunc is handed to root providers and tracers; calling it with a
// pointer schedules that chunk for marking if it is a live, in-use chunk.
type MarkFunc func(Ptr)

// Tracer discovers the outgoing references of a scannable chunk. The VM's
// type model supplies this (object field layouts, class static tables);
// the allocator only knows the chunk's bytes, never their meaning.
type Tracer func(a *Allocator, p Ptr, allocType AllocType, mark MarkFunc)

// RootSource enumerates every GC root: thread stacks, the class pool, the
// intern pool, permanent/transient native roots, the debugger root map,
// and pending exceptions (spec §4.2 "Roots").
type RootSource interface {
	Roots(mark MarkFunc)
}

// ClassUnloader is consulted for every InstanceClazz/ArrayClazz/
// PrimitiveClazz chunk found white at sweep time. If it returns true the
// chunk is retyped to AllocStatic instead of being freed (so later GCs
// ignore it), matching "unloaded classes" handling when a debugger is
// attached; returning false frees the chunk immediately (no debugger, or
// the caller has already finished with it).
type ClassUnloader interface {
	OnClassUnreachable(a *Allocator, p Ptr) (retype bool)
}

// WeakRefSink receives every weak reference chunk discovered during
// tracing, and is asked after sweep whether each one's referent survived.
type WeakRefSink interface {
	// Referent returns the pointer a weak-reference chunk currently
	// refers to.
	Referent(a *Allocator, weakRef Ptr) Ptr
	// ClearAndEnqueue clears the referent field of a weak reference whose
	// target was collected and enqueues it on its reference queue, if any.
	ClearAndEnqueue(a *Allocator, weakRef Ptr)
}

// Collector is a precise, non-moving, tri-color mark-and-sweep collector
// over an Allocator. It never conservatively scans: every scannable chunk
// is traced via the exact layout the Tracer provides.
type Collector struct {
	Alloc     *Allocator
	Roots     RootSource
	Trace     Tracer
	Unloader  ClassUnloader // may be nil (no debugger attached)
	WeakRefs  WeakRefSink   // may be nil if the VM has no weak references yet

	// Stats from the most recent cycle, surfaced by `jovm heap`.
	LastFreed     int
	LastRetyped   int
	LastScanned   int
	LastCollected int
}

// Collect runs one full mark/sweep cycle.
func (c *Collector) Collect() {
	c.resetColors()

	grey := make([]Ptr, 0, 64)
	mark := func(p Ptr) {
		if p == nullPtr {
			return
		}
		if int(p) >= c.Alloc.capacity {
			return
		}
		h := c.Alloc.getHeader(p)
		if !h.inUse() {
			return
		}
		if h.color() != colorWhite {
			return
		}
		c.Alloc.putHeader(p, h.withColor(colorGrey))
		grey = append(grey, p)
	}

	var weakChunks []Ptr

	if c.Roots != nil {
		c.Roots.Roots(mark)
	}

	scanned := 0
	for len(grey) > 0 {
		p := grey[len(grey)-1]
		grey = grey[:len(grey)-1]

		h := c.Alloc.getHeader(p)
		at := h.allocType()
		scanned++

		if at == AllocWeakRef {
			weakChunks = append(weakChunks, p)
			// The referent itself is not marked during the mark phase
			// (spec §4.2): weak references never keep their target alive.
		} else if at.Scannable() && c.Trace != nil {
			c.Trace(c.Alloc, p, at, mark)
		}

		c.Alloc.putHeader(p, h.withColor(colorBlack))
	}
	c.LastScanned = scanned

	c.sweep(weakChunks)
}

func (c *Collector) resetColors() {
	c.Alloc.Walk(func(p Ptr, h header) {
		if h.inUse() && h.color() != colorWhite {
			c.Alloc.putHeader(p, h.withColor(colorWhite))
		}
	})
}

func (c *Collector) sweep(weakChunks []Ptr) {
	white := make(map[Ptr]bool)

	var toFree []Ptr
	var toRetype []Ptr

	c.Alloc.Walk(func(p Ptr, h header) {
		if !h.inUse() || h.color() != colorWhite {
			return
		}
		white[p] = true

		at := h.allocType()
		if isClazzType(at) && c.Unloader != nil && c.Unloader.OnClassUnreachable(c.Alloc, p) {
			toRetype = append(toRetype, p)
			return
		}
		toFree = append(toFree, p)
	})

	for _, p := range toRetype {
		c.Alloc.SetAllocType(p, AllocStatic)
	}
	c.LastRetyped = len(toRetype)

	for _, p := range toFree {
		_ = c.Alloc.Free(p)
	}
	c.LastFreed = len(toFree)
	c.LastCollected = len(toFree) + len(toRetype)

	if c.WeakRefs != nil {
		for _, wp := range weakChunks {
			h := c.Alloc.getHeader(wp)
			if !h.inUse() {
				continue // the weak-ref holder itself was collected
			}
			ref := c.WeakRefs.Referent(c.Alloc, wp)
			if ref != nullPtr && white[ref] {
				c.WeakRefs.ClearAndEnqueue(c.Alloc, wp)
			}
		}
	}
}

func isClazzType(at AllocType) bool {
	return at == AllocInstanceClazz || at == AllocArrayClazz || at == AllocPrimitiveClazz
}
