// Package native supplies the reference native-method registry spec.md
// keeps deliberately out of scope ("native-method registry contents"):
// just enough of System.out.println, Object's monitor/hashCode natives,
// Thread.sleep, and Throwable.fillInStackTrace to run the hello-world
// and out-of-memory end-to-end scenarios against the core.
package native

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/vm"
)

// traces remembers each throwable's captured backtrace by its heap
// identity, keyed outside the arena since this core's Throwable layout
// carries no stack-trace field of its own (spec.md leaves Throwable's
// instance layout unspecified beyond "fields[]"). Entries are never
// evicted; a long-lived program repeatedly filling in stack traces for
// short-lived throwables would leak here, which is acceptable for the
// reference registry's scope (hello-world and OOM recovery, spec §8.1,
// §8.2) but not a general-purpose design.
var traces = newTraceTable()

type traceTable struct {
	byPtr map[heap.Ptr][]vm.StackTraceElement
}

func newTraceTable() *traceTable {
	return &traceTable{byPtr: make(map[heap.Ptr][]vm.StackTraceElement)}
}

func (tt *traceTable) set(p heap.Ptr, trace []vm.StackTraceElement) {
	tt.byPtr[p] = trace
}

// Lookup exposes a captured backtrace for diagnostics (`jovm run`'s
// uncaught-exception report).
func Lookup(p heap.Ptr) ([]vm.StackTraceElement, bool) {
	trace, ok := traces.byPtr[p]
	return trace, ok
}

// Register installs every native this package implements into r.
func Register(r *vm.NativeRegistry) {
	r.Register("java/io/PrintStream", "println", "(Ljava/lang/String;)V", println_)
	r.Register("java/io/PrintStream", "println", "()V", printlnEmpty)
	r.Register("java/lang/Object", "hashCode", "()I", hashCode)
	r.Register("java/lang/Object", "wait", "(J)V", objectWait)
	r.Register("java/lang/Object", "notify", "()V", objectNotify)
	r.Register("java/lang/Object", "notifyAll", "()V", objectNotifyAll)
	r.Register("java/lang/Thread", "sleep", "(J)V", threadSleep)
	r.Register("java/lang/Throwable", "fillInStackTrace", "()Ljava/lang/Throwable;", fillInStackTrace)
}

// readJavaString decodes an AllocString chunk's raw UTF-8 payload; this
// core materializes `ldc` String constants as bare byte chunks (see
// VM.internedString) rather than full java.lang.String objects with a
// backing char array, so a native reading one back needs no field
// resolution, just the chunk's payload.
func readJavaString(v *vm.VM, s heap.Ptr) string {
	if s == 0 {
		return "null"
	}
	// The chunk is padded past the string's bytes with zeros.
	return strings.TrimRight(string(v.Heap.Payload(s)), "\x00")
}

// println_ is java.io.PrintStream.println(String): args[0] is the
// PrintStream receiver (System.out), unused since there is only ever one
// console; args[1] is the String argument.
func println_(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	fmt.Fprintln(os.Stdout, readJavaString(v, args[1].Ptr()))
}

func printlnEmpty(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	fmt.Fprintln(os.Stdout)
}

// hashCode is java.lang.Object.hashCode(): this core has no moving
// collector, so an object's arena offset is a stable identity hash for
// its whole lifetime.
func hashCode(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	self := args[0].Ptr()
	t.Stack.Top().Push(vm.CellFromInt32(int32(uint32(self))))
}

// objectWait is Object.wait(long): args[1] is the timeout in
// milliseconds (0 means wait indefinitely), matching spec §4.5's
// Scheduler.Wait contract.
func objectWait(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	self := args[0].Ptr()
	millis := args[1].Int64()
	if err := v.Sched.Wait(t, self, millis, time.Now()); err != nil {
		t.PendingException = v.NewIllegalMonitorStateException()
	}
}

func objectNotify(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	if m, ok := v.Sched.Monitors().Lookup(args[0].Ptr()); !ok || m.OwnerThread != t {
		t.PendingException = v.NewIllegalMonitorStateException()
		return
	}
	v.Sched.Notify(args[0].Ptr())
}

func objectNotifyAll(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	if m, ok := v.Sched.Monitors().Lookup(args[0].Ptr()); !ok || m.OwnerThread != t {
		t.PendingException = v.NewIllegalMonitorStateException()
		return
	}
	v.Sched.NotifyAll(args[0].Ptr())
}

// threadSleep is the static Thread.sleep(long): args[0] is the millis
// argument directly, there is no receiver.
func threadSleep(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	v.Sched.Sleep(t, args[0].Int64(), time.Now())
}

// fillInStackTrace captures the calling thread's backtrace and stashes it
// against the throwable's identity for later Throwable.printStackTrace/
// getStackTrace natives (not implemented: out of scope for the reference
// registry), then returns `this` per the real method's contract.
func fillInStackTrace(v *vm.VM, t *vm.Thread, args []vm.Cell) {
	self := args[0]
	traces.set(self.Ptr(), vm.CaptureBacktrace(t))
	t.Stack.Top().Push(self)
}
