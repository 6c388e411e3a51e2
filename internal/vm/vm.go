package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
	"github.com/mabhi256/jovm/internal/heap"
	strs "github.com/mabhi256/jovm/internal/strings"
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vmerr"
)

// DebuggerRoots is implemented by internal/debugger's root map; kept as
// an interface here so vm never imports the debugger package (the
// dependency runs the other way: debugger drives the VM).
type DebuggerRoots interface {
	Roots(mark heap.MarkFunc)
}

// ClassUnloadObserver is notified whenever a class is retyped to
// AllocStatic by the collector (spec §4.2); internal/debugger's event
// engine implements this to queue ClassUnload events.
type ClassUnloadObserver interface {
	OnClassUnloaded(c *types.Clazz)
}

// ExceptionObserver is notified on every exception-unwind step
// (spec §4.9 Exception events): internal/debugger's event engine
// implements this to fire EXCEPTION events with caught/uncaught modifier
// matching.
type ExceptionObserver interface {
	OnException(t *Thread, m *types.Method, pc int, excClazz *types.Clazz, caught bool)
}

// VM is the single well-defined context spec §9's "Global mutable state"
// design note calls for: every operation takes a *VM explicitly instead
// of reaching for package-level globals, with CurrentThread cached on it
// for the interpreter's hot path.
type VM struct {
	Config *config.Config

	Heap *heap.Allocator
	GC   *heap.Collector

	Classes *types.Pool
	Utf     *strs.UtfPool
	Intern  *strs.InternPool

	Sched *Scheduler

	Natives   *NativeRegistry
	Transient *TransientRoots
	Permanent *PermanentRoots

	CurrentThread *Thread

	DebuggerRoots       DebuggerRoots // nil unless a debugger session is open
	ClassUnloadObserver ClassUnloadObserver
	ExceptionObserver   ExceptionObserver // nil unless a debugger session is open

	// KnownClasses is a by-name set of classes whose ClassObj Roots marks
	// (spec §4.2 roots: "the known classes"). New leaves it empty and
	// nothing in this package fills it; hot paths look classes up through
	// Classes.
	KnownClasses map[string]*types.Clazz

	// oomSingleton is the pre-reserved java.lang.OutOfMemoryError instance
	// (spec §4.1): materialized once at startup, frozen as AllocStatic, so
	// reporting OOM never itself requires an allocation the failing
	// allocator could reject.
	oomSingleton heap.Ptr

	ExitCode int
}

// New constructs a VM over a fresh heap/class pool, wiring the collector
// to the allocator's OOM hook and every other GC root source together.
func New(cfg *config.Config, source classfile.ClassSource) *VM {
	arena := heap.New(cfg.HeapSize)
	utf := strs.NewUtfPool()
	intern := strs.NewInternPool()
	pool := types.NewPool(source, utf, arena)

	v := &VM{
		Config:       cfg,
		Heap:         arena,
		Classes:      pool,
		Utf:          utf,
		Intern:       intern,
		Sched:        NewScheduler(),
		Natives:      NewNativeRegistry(),
		Transient:    NewTransientRoots(cfg.TransientRootsDepth),
		Permanent:    NewPermanentRoots(cfg.PermanentRootsDepth),
		KnownClasses: make(map[string]*types.Clazz),
	}

	v.GC = &heap.Collector{
		Alloc:    arena,
		Roots:    v,
		Trace:    v.trace,
		Unloader: pool,
		WeakRefs: v,
	}
	arena.SetOOMHandler(v.GC.Collect)
	v.reserveOomSingleton()
	return v
}

// reserveOomSingleton allocates the OutOfMemoryError instance OOM
// reporting hands back once every other allocation is exhausted. Best
// effort: an embedding without java/lang/OutOfMemoryError on its
// classpath simply never gets a non-zero singleton, and OOM reporting
// falls back to a bare VM.Fatal.
func (v *VM) reserveOomSingleton() {
	c, err := v.Classes.FindOrLoadClass(0, "java/lang/OutOfMemoryError")
	if err != nil {
		return
	}
	obj, err := v.AllocObject(c)
	if err != nil {
		return
	}
	v.Heap.SetAllocType(obj, heap.AllocStatic)
	v.oomSingleton = obj
}

// RunGC forces a collection on explicit VM request (spec §4.2
// "Triggering"), surfacing stats through the collector for `jovm heap`.
func (v *VM) RunGC() {
	v.GC.Collect()
	for _, c := range v.Classes.DrainUnloaded() {
		if v.ClassUnloadObserver != nil {
			v.ClassUnloadObserver.OnClassUnloaded(c)
		}
	}
}

// Roots implements heap.RootSource, gathering every root category spec
// §4.2 lists.
func (v *VM) Roots(mark heap.MarkFunc) {
	for _, t := range v.Sched.Threads() {
		if t.IsDead() {
			continue
		}
		t.Stack.ScanCells(func(c Cell) { mark(c.Ptr()) })
		if t.PendingException != 0 {
			mark(t.PendingException)
		}
		if t.ThreadObj != 0 {
			mark(t.ThreadObj)
		}
	}
	for _, c := range v.Classes.Loaded() {
		if c.ClassObj != 0 {
			mark(c.ClassObj)
		}
		if c.StaticStorage != 0 {
			mark(c.StaticStorage)
			v.markStaticRefs(c, mark)
		}
	}
	v.Intern.Roots(mark)
	v.Transient.Roots(mark)
	v.Permanent.Roots(mark)
	if v.DebuggerRoots != nil {
		v.DebuggerRoots.Roots(mark)
	}
	for _, c := range v.KnownClasses {
		if c.ClassObj != 0 {
			mark(c.ClassObj)
		}
	}
}

func (v *VM) markStaticRefs(c *types.Clazz, mark heap.MarkFunc) {
	payload := v.Heap.Payload(c.StaticStorage)
	for _, f := range c.Fields {
		if !f.IsStatic || !f.JType.IsReference() {
			continue
		}
		ptr := heap.Ptr(binary.LittleEndian.Uint32(payload[f.Offset*8:]))
		mark(ptr)
	}
}

// trace implements heap.Tracer: given a chunk's allocation type, discover
// its outgoing references using the exact layout information the type
// model holds (spec §4.2 "Marking" — never conservative).
func (v *VM) trace(a *heap.Allocator, p heap.Ptr, at heap.AllocType, mark heap.MarkFunc) {
	switch at {
	case heap.AllocObject:
		v.traceObject(a, p, mark)
	case heap.AllocArrayObject:
		v.traceArrayObject(a, p, mark)
	case heap.AllocInstanceClazz, heap.AllocArrayClazz, heap.AllocPrimitiveClazz:
		// Class metadata in this implementation lives as native Go
		// values reachable from types.Pool, not as arena chunks of
		// their own (see design notes on cyclic graphs); only their
		// companion java.lang.Class object and static storage chunk
		// are arena-resident, and those are already walked by v.Roots.
	case heap.AllocString, heap.AllocArrayPrimitive, heap.AllocData:
		// No child references.
	}
}

// traceObject walks an Object chunk. The first 4-byte word of every Object/
// ArrayObject chunk is a pointer back to the owning Clazz's ClassObj, which
// the tracer and the interpreter both use to find the layout (spec §3
// "Object": "clazz field is the header from which GC infers the object's
// layout").
func (v *VM) traceObject(a *heap.Allocator, p heap.Ptr, mark heap.MarkFunc) {
	payload := a.Payload(p)
	clazzObj := heap.Ptr(binary.LittleEndian.Uint32(payload[0:]))
	mark(clazzObj)
	c := v.clazzByClassObj(clazzObj)
	if c == nil {
		return
	}
	for _, f := range c.AllInstFields {
		if !f.JType.IsReference() {
			continue
		}
		off := 4 + f.Offset*8 // 4-byte clazz header word, then cells
		ptr := heap.Ptr(binary.LittleEndian.Uint32(payload[off:]))
		mark(ptr)
	}
}

func (v *VM) traceArrayObject(a *heap.Allocator, p heap.Ptr, mark heap.MarkFunc) {
	payload := a.Payload(p)
	clazzObj := heap.Ptr(binary.LittleEndian.Uint32(payload[0:]))
	mark(clazzObj)
	length := int(binary.LittleEndian.Uint32(payload[4:]))
	base := 8
	for i := 0; i < length; i++ {
		off := base + i*8
		if off+4 > len(payload) {
			break
		}
		ptr := heap.Ptr(binary.LittleEndian.Uint32(payload[off:]))
		mark(ptr)
	}
}

func (v *VM) clazzByClassObj(classObj heap.Ptr) *types.Clazz {
	for _, c := range v.Classes.Loaded() {
		if c.ClassObj == classObj {
			return c
		}
	}
	return nil
}

// Referent/ClearAndEnqueue implement heap.WeakRefSink. A weak-reference
// chunk's payload is laid out as [clazzObj:4][referent:4][queue:4].
func (v *VM) Referent(a *heap.Allocator, weakRef heap.Ptr) heap.Ptr {
	payload := a.Payload(weakRef)
	return heap.Ptr(binary.LittleEndian.Uint32(payload[4:]))
}

func (v *VM) ClearAndEnqueue(a *heap.Allocator, weakRef heap.Ptr) {
	payload := a.Payload(weakRef)
	binary.LittleEndian.PutUint32(payload[4:], 0)
	// Enqueuing onto a reference queue requires invoking Java-level
	// queue machinery, which belongs to the interpreter, not the GC; only
	// the referent slot is cleared here and the reference is not enqueued.
}

// AllocObject allocates a zeroed instance of c, writing its ClassObj
// pointer as the first cell.
func (v *VM) AllocObject(c *types.Clazz) (heap.Ptr, error) {
	size := 4 + c.InstanceCells*8
	p, err := v.Heap.Calloc(size, heap.AllocObject)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(v.Heap.Payload(p)[0:], uint32(c.ClassObj))
	return p, nil
}

// AllocArray allocates a zeroed array of the given element width and
// length, tagging it Object or Primitive per spec §3 ("array objects
// carry length immediately after clazz").
func (v *VM) AllocArray(c *types.Clazz, length int, elemWidthBytes int, isRef bool) (heap.Ptr, error) {
	if length < 0 {
		return 0, vmerr.ErrNegativeArraySize
	}
	size := 8 + length*elemWidthBytes
	at := heap.AllocArrayPrimitive
	if isRef {
		at = heap.AllocArrayObject
	}
	p, err := v.Heap.Calloc(size, at)
	if err != nil {
		return 0, err
	}
	payload := v.Heap.Payload(p)
	binary.LittleEndian.PutUint32(payload[0:], uint32(c.ClassObj))
	binary.LittleEndian.PutUint32(payload[4:], uint32(length))
	return p, nil
}

func ArrayLength(a *heap.Allocator, arr heap.Ptr) int {
	return int(binary.LittleEndian.Uint32(a.Payload(arr)[4:]))
}

// Fatal reports a corruption-class condition (spec §7 "Corruption ...
// is fatal and exits the process with a distinguished code"). The
// process actually exits from cmd/, which owns main(); VM.Fatal just
// records the code and returns the error so callers can unwind cleanly
// through defers before cmd calls os.Exit.
func (v *VM) Fatal(code int, err error) error {
	v.ExitCode = code
	return fmt.Errorf("fatal: %w", err)
}
