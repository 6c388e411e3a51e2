package vm

import (
	"testing"
	"time"

	"github.com/mabhi256/jovm/internal/heap"
)

func TestSchedulerPickNextRoundRobin(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	b := s.NewThread(64)
	c := s.NewThread(64)

	first := s.PickNext()
	second := s.PickNext()
	third := s.PickNext()
	fourth := s.PickNext()

	if first != a || second != b || third != c || fourth != a {
		t.Errorf("round-robin order wrong: got %v %v %v %v, want a b c a", first.ID, second.ID, third.ID, fourth.ID)
	}
}

func TestSchedulerPickNextSkipsNonRunnable(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	b := s.NewThread(64)
	b.setBase(StatusSleeping)

	got := s.PickNext()
	got2 := s.PickNext()
	if got != a || got2 != a {
		t.Errorf("expected only a to be picked while b sleeps, got %v then %v", got.ID, got2.ID)
	}
}

func TestSchedulerPickNextReturnsNilWhenNoneRunnable(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	a.setBase(StatusBlocked)

	if got := s.PickNext(); got != nil {
		t.Errorf("PickNext() = %v, want nil", got)
	}
}

func TestMonitorEnterUncontendedThenReentrant(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	obj := heap.Ptr(10)

	if blocked := s.MonitorEnter(a, obj); blocked {
		t.Fatal("first enter on an uncontended monitor must not block")
	}
	if blocked := s.MonitorEnter(a, obj); blocked {
		t.Fatal("re-entering a monitor already owned by the same thread must not block")
	}
	m, ok := s.Monitors().Lookup(obj)
	if !ok || m.EntryCount != 2 {
		t.Fatalf("EntryCount = %v, want 2", m.EntryCount)
	}
}

func TestMonitorEnterContentionBlocksAndFIFOWakesInOrder(t *testing.T) {
	s := NewScheduler()
	owner := s.NewThread(64)
	waiter1 := s.NewThread(64)
	waiter2 := s.NewThread(64)
	obj := heap.Ptr(20)

	if blocked := s.MonitorEnter(owner, obj); blocked {
		t.Fatal("owner's first enter should not block")
	}
	if blocked := s.MonitorEnter(waiter1, obj); !blocked {
		t.Fatal("waiter1 must block on a monitor owner already holds")
	}
	if blocked := s.MonitorEnter(waiter2, obj); !blocked {
		t.Fatal("waiter2 must block too")
	}
	if waiter1.Status&StatusBlocked == 0 {
		t.Error("waiter1 should be Blocked")
	}

	// owner releases; FIFO order means waiter1 gets it next, not waiter2.
	if err := s.MonitorExit(owner, obj); err != nil {
		t.Fatalf("MonitorExit: %v", err)
	}
	m, _ := s.Monitors().Lookup(obj)
	if m.OwnerThread != waiter1 {
		t.Fatalf("owner after exit = %v, want waiter1 (FIFO order)", m.OwnerThread)
	}
	if !waiter1.IsRunnable() {
		t.Error("waiter1 should become Runnable once it acquires the monitor")
	}

	if err := s.MonitorExit(waiter1, obj); err != nil {
		t.Fatalf("MonitorExit: %v", err)
	}
	m, _ = s.Monitors().Lookup(obj)
	if m.OwnerThread != waiter2 {
		t.Fatalf("owner after second exit = %v, want waiter2", m.OwnerThread)
	}
}

func TestMonitorExitByNonOwnerFails(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	b := s.NewThread(64)
	obj := heap.Ptr(30)

	s.MonitorEnter(a, obj)
	if err := s.MonitorExit(b, obj); err == nil {
		t.Error("expected IllegalMonitorState error when a non-owner exits")
	}
}

func TestWaitNotifyTransfersMonitorOwnership(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	b := s.NewThread(64)
	obj := heap.Ptr(40)
	now := time.Unix(0, 0)

	s.MonitorEnter(a, obj)
	if err := s.Wait(a, obj, 0, now); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if a.Status&StatusWaiting == 0 {
		t.Error("a should be Waiting after wait()")
	}
	m, _ := s.Monitors().Lookup(obj)
	if m.OwnerThread != nil {
		t.Error("monitor should be unowned immediately after wait()")
	}

	// b now takes the monitor uncontended.
	if blocked := s.MonitorEnter(b, obj); blocked {
		t.Fatal("b should acquire the now-free monitor immediately")
	}
	s.Notify(obj)
	if a.Status&StatusBlocked == 0 {
		t.Error("a should move to Blocked (re-acquiring) after notify, while b still owns it")
	}

	if err := s.MonitorExit(b, obj); err != nil {
		t.Fatalf("MonitorExit: %v", err)
	}
	m, _ = s.Monitors().Lookup(obj)
	if m.OwnerThread != a {
		t.Fatalf("owner after b exits = %v, want a (woken by notify)", m.OwnerThread)
	}
	if !a.IsRunnable() {
		t.Error("a should be Runnable once it re-acquires the monitor")
	}
}

func TestWaitRestoresEntryCountOnReacquire(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	obj := heap.Ptr(50)
	now := time.Unix(0, 0)

	s.MonitorEnter(a, obj)
	s.MonitorEnter(a, obj) // reentrant, EntryCount = 2
	if err := s.Wait(a, obj, 0, now); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	s.Notify(obj)

	m, _ := s.Monitors().Lookup(obj)
	if m.OwnerThread != a || m.EntryCount != 2 {
		t.Errorf("after re-acquire: owner=%v entryCount=%d, want a, 2", m.OwnerThread, m.EntryCount)
	}
}

func TestKillReleasesOwnedMonitorsAndWakesWaiters(t *testing.T) {
	s := NewScheduler()
	owner := s.NewThread(64)
	waiter := s.NewThread(64)
	obj := heap.Ptr(60)

	s.MonitorEnter(owner, obj)
	s.MonitorEnter(waiter, obj)

	s.Kill(owner)
	if !owner.IsDead() {
		t.Error("owner should be Dead after Kill")
	}
	m, _ := s.Monitors().Lookup(obj)
	if m.OwnerThread != waiter {
		t.Fatalf("owner after Kill = %v, want waiter", m.OwnerThread)
	}
	if !waiter.IsRunnable() {
		t.Error("waiter should become Runnable once the dead owner's monitor is released")
	}
}

func TestDbgSuspendResumeIsRefcounted(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)

	s.DbgSuspend(a)
	s.DbgSuspend(a)
	if a.Status&StatusDbgSuspended == 0 {
		t.Fatal("expected DbgSuspended after first suspend")
	}
	if got := s.DbgResume(a); got != nil {
		t.Error("one resume after two suspends should not yet clear the overlay")
	}
	if a.Status&StatusDbgSuspended == 0 {
		t.Error("thread should still be suspended after only one resume")
	}
	s.DbgResume(a)
	if a.Status&StatusDbgSuspended != 0 {
		t.Error("thread should be resumed after matching suspend/resume counts")
	}
}

func TestDbgSuspendOverlayMakesThreadIneligible(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	s.DbgSuspend(a)
	// eligible() only looks at the exact Runnable bit with nothing else set,
	// so a debugger-suspended but otherwise-runnable thread is not eligible.
	if eligible(a) {
		t.Error("a debugger-suspended thread must not be eligible for PickNext")
	}
}

func TestInterruptWakesSleepingThread(t *testing.T) {
	s := NewScheduler()
	a := s.NewThread(64)
	now := time.Unix(0, 0)
	s.Sleep(a, 10000, now)

	s.Interrupt(a)
	if !a.Interrupted {
		t.Error("Interrupted flag should be set")
	}
	if !a.IsRunnable() {
		t.Error("sleeping thread should become Runnable immediately on interrupt")
	}
	if ConsumeInterrupted(a) != true {
		t.Error("ConsumeInterrupted should report true once")
	}
	if ConsumeInterrupted(a) != false {
		t.Error("ConsumeInterrupted should clear the flag")
	}
}
