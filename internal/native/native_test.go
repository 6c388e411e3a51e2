package native

import (
	"testing"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
)

func newTestVM(t *testing.T) *vm.VM {
	t.Helper()
	cfg := config.Default()
	return vm.New(cfg, classfile.NewInMemorySource())
}

func allocString(t *testing.T, v *vm.VM, s string) heap.Ptr {
	t.Helper()
	p, err := v.Heap.Alloc(len(s), heap.AllocString)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(v.Heap.Payload(p), s)
	return p
}

func TestRegisterInstallsEveryNative(t *testing.T) {
	v := newTestVM(t)
	Register(v.Natives)

	cases := []struct{ class, method, desc string }{
		{"java/io/PrintStream", "println", "(Ljava/lang/String;)V"},
		{"java/io/PrintStream", "println", "()V"},
		{"java/lang/Object", "hashCode", "()I"},
		{"java/lang/Object", "wait", "(J)V"},
		{"java/lang/Object", "notify", "()V"},
		{"java/lang/Object", "notifyAll", "()V"},
		{"java/lang/Thread", "sleep", "(J)V"},
		{"java/lang/Throwable", "fillInStackTrace", "()Ljava/lang/Throwable;"},
	}
	for _, c := range cases {
		if _, ok := v.Natives.Lookup(c.class, c.method, c.desc); !ok {
			t.Errorf("missing native %s.%s%s", c.class, c.method, c.desc)
		}
	}
}

func TestReadJavaStringNullIsLiteralNull(t *testing.T) {
	v := newTestVM(t)
	if got := readJavaString(v, 0); got != "null" {
		t.Errorf("readJavaString(0) = %q, want null", got)
	}
}

func TestReadJavaStringRoundTrip(t *testing.T) {
	v := newTestVM(t)
	p := allocString(t, v, "hello")
	if got := readJavaString(v, p); got != "hello" {
		t.Errorf("readJavaString = %q, want hello", got)
	}
}

func TestHashCodeIsStableArenaOffset(t *testing.T) {
	v := newTestVM(t)
	th := v.Sched.NewThread(64)
	th.Stack.PushFrame(nil, 0, 4)

	self, err := v.Heap.Alloc(8, heap.AllocData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	hashCode(v, th, []vm.Cell{vm.CellFromPtr(self)})

	got := th.Stack.Top().Pop().Int32()
	if got != int32(uint32(self)) {
		t.Errorf("hashCode() = %d, want the chunk's own arena offset %d", got, self)
	}
}

func TestObjectWaitNotifyRoundTrip(t *testing.T) {
	v := newTestVM(t)
	Register(v.Natives)
	owner := v.Sched.NewThread(64)

	obj, err := v.Heap.Alloc(8, heap.AllocObject)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	v.Sched.MonitorEnter(owner, obj)
	objectWait(v, owner, []vm.Cell{vm.CellFromPtr(obj), vm.CellFromInt64(0)})
	if owner.Status&vm.StatusWaiting == 0 {
		t.Errorf("owner status = %v, want Waiting", owner.Status)
	}

	// notify() needs the monitor, which the waiting owner has given up.
	notifier := v.Sched.NewThread(64)
	v.Sched.MonitorEnter(notifier, obj)
	objectNotify(v, notifier, []vm.Cell{vm.CellFromPtr(obj)})
	if owner.Status&vm.StatusBlocked == 0 {
		t.Error("notify() should move the waiter to Blocked (re-acquiring)")
	}
}

func TestObjectWaitOnUnownedMonitorSetsPendingException(t *testing.T) {
	// Without a loadable exception class the VM falls back to its
	// pre-reserved OOM instance, which this fresh VM never allocated.
	src := classfile.NewInMemorySource()
	src.PutVerified("java/lang/IllegalMonitorStateException", &classfile.VerifiedClass{ThisClass: "java/lang/IllegalMonitorStateException"})
	v := vm.New(config.Default(), src)
	th := v.Sched.NewThread(64)

	obj, err := v.Heap.Alloc(8, heap.AllocObject)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	objectWait(v, th, []vm.Cell{vm.CellFromPtr(obj), vm.CellFromInt64(0)})
	if th.PendingException == 0 {
		t.Error("wait() on an unowned monitor should set a pending IllegalMonitorStateException")
	}
}

func TestThreadSleepArmsDeadline(t *testing.T) {
	v := newTestVM(t)
	th := v.Sched.NewThread(64)
	threadSleep(v, th, []vm.Cell{vm.CellFromInt64(1000)})
	if th.Status&vm.StatusSleeping == 0 {
		t.Error("expected thread to become Sleeping")
	}
	if th.SleepDeadlineNanos == 0 {
		t.Error("expected a nonzero sleep deadline")
	}
}

func TestFillInStackTraceStashesAndReturnsSelf(t *testing.T) {
	v := newTestVM(t)
	th := v.Sched.NewThread(64)

	owner := &types.Clazz{Name: v.Utf.GetString("Main"), SourceFile: "Main.java"}
	method := &types.Method{Owner: owner, Name: v.Utf.GetString("run"), Descriptor: v.Utf.GetString("()V")}
	th.Stack.PushFrame(method, 0, 4)

	self, err := v.Heap.Alloc(8, heap.AllocObject)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	fillInStackTrace(v, th, []vm.Cell{vm.CellFromPtr(self)})

	if got := th.Stack.Top().Pop().Ptr(); got != self {
		t.Errorf("fillInStackTrace should push back `this`, got %v want %v", got, self)
	}
	if _, ok := Lookup(self); !ok {
		t.Error("expected a backtrace to be stashed for self")
	}
}
