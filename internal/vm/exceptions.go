package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
)

// StackTraceElement is one captured backtrace entry (spec §4.4
// "Backtrace capture"). Materialization into a java.lang.StackTraceElement
// object happens lazily, only if Throwable.getStackTrace is actually
// called — this slice is the cheap intermediate form captured at throw
// time.
type StackTraceElement struct {
	ClassName  string
	MethodName string
	FileName   string
	LineNumber int
}

// CaptureBacktrace walks t's frames from current to bottom, recording one
// StackTraceElement per frame — Throwable.fillInStackTrace's job (spec
// §4.4).
func CaptureBacktrace(t *Thread) []StackTraceElement {
	frames := t.Stack.Frames()
	out := make([]StackTraceElement, 0, len(frames))
	for _, f := range frames {
		out = append(out, StackTraceElement{
			ClassName:  f.Method.Owner.Name.String(),
			MethodName: f.Method.Name.String(),
			FileName:   f.Method.Owner.SourceFile,
			LineNumber: lineForPC(f.Method, f.PC),
		})
	}
	return out
}

func lineForPC(m *types.Method, pc int) int {
	if m.Code == nil {
		return -1
	}
	line := -1
	for _, e := range m.Code.LineNumbers {
		if int(e.StartPC) <= pc {
			line = int(e.Line)
		} else {
			break
		}
	}
	return line
}

// UnwindResult tells the interpreter loop what to do next after an unwind
// attempt on the current thread.
type UnwindResult int

const (
	UnwindHandled    UnwindResult = iota // handler found in the current frame; keep running it
	UnwindPopFrame                       // no handler here; pop this frame and retry in the caller
	UnwindThreadDied                     // propagated past the bottom frame
)

// UnwindOne implements spec §4.4's unwind algorithm for thread t's current
// (topmost) frame: walk the method's exception table for a handler whose
// range contains the frame's PC and whose catch type is a supertype of
// the thrown object's class; failing that, release the monitor of a
// synchronized method's frame (Frame.SyncObj) before popping it. Monitors
// taken by a monitorenter without a matching exit are not released here.
func (v *VM) UnwindOne(t *Thread) UnwindResult {
	f := t.Stack.Top()
	if f == nil {
		return UnwindThreadDied
	}
	excClazz := v.classOfObject(t.PendingException)

	if f.Method.Code != nil {
		for _, e := range f.Method.Code.ExceptionTable {
			if f.PC < int(e.StartPC) || f.PC >= int(e.EndPC) {
				continue
			}
			if e.CatchType == "" || v.catchTypeMatches(e.CatchType, excClazz) {
				if v.ExceptionObserver != nil {
					v.ExceptionObserver.OnException(t, f.Method, f.PC, excClazz, true)
				}
				f.ClearOperands()
				f.Push(CellFromPtr(t.PendingException))
				f.PC = int(e.HandlerPC)
				t.PendingException = 0
				return UnwindHandled
			}
		}
	}
	if v.ExceptionObserver != nil {
		v.ExceptionObserver.OnException(t, f.Method, f.PC, excClazz, false)
	}

	if f.SyncObj != 0 {
		_ = v.Sched.MonitorExit(t, f.SyncObj)
	}
	t.Stack.PopFrame()
	if t.Stack.Top() == nil {
		return UnwindThreadDied
	}
	return UnwindPopFrame
}

func (v *VM) catchTypeMatches(catchTypeName string, excClazz *types.Clazz) bool {
	if excClazz == nil {
		return false
	}
	catchClazz, err := v.Classes.FindOrLoadClass(0, catchTypeName)
	if err != nil {
		return false
	}
	return types.IsAssignableFrom(excClazz, catchClazz)
}

// classOfObject reads the clazz header word every Object/ArrayObject
// chunk carries and resolves it back to the owning Clazz.
func (v *VM) classOfObject(obj heap.Ptr) *types.Clazz {
	if obj == 0 {
		return nil
	}
	payload := v.Heap.Payload(obj)
	classObj := heap.Ptr(binary.LittleEndian.Uint32(payload[0:]))
	return v.clazzByClassObj(classObj)
}

// ClassOf exposes classOfObject to internal/debugger (JDWP
// ObjectReference.ReferenceType).
func (v *VM) ClassOf(obj heap.Ptr) *types.Clazz {
	return v.classOfObject(obj)
}

// NewNullPointerException synthesizes the throwable spec §4.4 mandates
// when athrow pops a null reference, or any other NI/interpreter check
// fails with no Java-visible cause to wrap.
func (v *VM) NewNullPointerException() heap.Ptr {
	return v.newSyntheticThrowable("java/lang/NullPointerException")
}

func (v *VM) NewArrayIndexOutOfBounds(index int) heap.Ptr {
	return v.newSyntheticThrowableMsg("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("index %d", index))
}

func (v *VM) NewArithmeticException(msg string) heap.Ptr {
	return v.newSyntheticThrowableMsg("java/lang/ArithmeticException", msg)
}

func (v *VM) NewClassCastException(msg string) heap.Ptr {
	return v.newSyntheticThrowableMsg("java/lang/ClassCastException", msg)
}

func (v *VM) NewNegativeArraySizeException(msg string) heap.Ptr {
	return v.newSyntheticThrowableMsg("java/lang/NegativeArraySizeException", msg)
}

// NewIllegalMonitorStateException is thrown by monitorexit/Object.wait/
// Object.notify when the calling thread does not hold the target's
// monitor (spec §7).
func (v *VM) NewIllegalMonitorStateException() heap.Ptr {
	return v.newSyntheticThrowable("java/lang/IllegalMonitorStateException")
}

// NewOutOfMemoryError returns the pre-reserved emergency instance (spec
// §4.1): materialized once at VM startup in a corner of the arena frozen
// as AllocStatic, so the allocator that just failed is never asked to
// serve this allocation too.
func (v *VM) NewOutOfMemoryError() heap.Ptr {
	return v.oomSingleton
}

func (v *VM) newSyntheticThrowable(className string) heap.Ptr {
	c, err := v.Classes.FindOrLoadClass(0, className)
	if err != nil {
		return v.oomSingleton // cannot even load the exception class: OOM is the safest fallback
	}
	obj, err := v.AllocObject(c)
	if err != nil {
		return v.oomSingleton
	}
	return obj
}

// newSyntheticThrowableMsg allocates the throwable instance; attaching the
// detail message string is the interpreter's job when it runs the
// throwable's <init>(String) constructor, which is where message-field
// and String allocation naturally live. The message text is discarded at
// this layer.
func (v *VM) newSyntheticThrowableMsg(className, _ string) heap.Ptr {
	return v.newSyntheticThrowable(className)
}
