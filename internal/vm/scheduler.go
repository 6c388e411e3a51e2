package vm

import (
	"fmt"
	"time"

	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/vmerr"
)

// Scheduler implements spec §4.5: single-threaded, cooperative,
// round-robin over Runnable VmThreads, plus the monitor enter/exit/
// wait/notify machinery and sleep/interrupt cancellation. Every method
// here runs on the one real OS thread the VM owns; there is no locking
// because there is no parallelism to guard against (spec §5).
type Scheduler struct {
	threads    []*Thread
	currentIdx int
	monitors   *MonitorTable
	nextID     int64
}

func NewScheduler() *Scheduler {
	return &Scheduler{monitors: NewMonitorTable(), currentIdx: -1}
}

func (s *Scheduler) NewThread(stackSegHeight int) *Thread {
	s.nextID++
	t := NewThread(s.nextID, stackSegHeight)
	s.threads = append(s.threads, t)
	return t
}

func (s *Scheduler) Threads() []*Thread { return s.threads }

func (s *Scheduler) Current() *Thread {
	if s.currentIdx < 0 || s.currentIdx >= len(s.threads) {
		return nil
	}
	return s.threads[s.currentIdx]
}

// Kill marks a thread Dead (Thread.stop / falling off its bottom frame)
// and releases any monitors it still owned, so waiters make progress
// instead of deadlocking on a corpse.
func (s *Scheduler) Kill(t *Thread) {
	t.Status = StatusDead
	for _, m := range s.monitors.All() {
		if m.OwnerThread == t {
			m.OwnerThread = nil
			m.EntryCount = 0
			s.wakeOneWaiter(m)
		}
	}
}

func eligible(t *Thread) bool {
	return t.Status == StatusRunnable // exact: Runnable alone, no Dbg-suspend/Blocked/etc overlay
}

// PickNext advances round-robin and returns the next Runnable thread
// after the current one, wrapping. Returns nil if no thread is Runnable
// (every thread is blocked, waiting, sleeping, suspended, or dead).
func (s *Scheduler) PickNext() *Thread {
	n := len(s.threads)
	if n == 0 {
		return nil
	}
	start := s.currentIdx
	for i := 1; i <= n; i++ {
		idx := (start + i) % n
		if eligible(s.threads[idx]) {
			s.currentIdx = idx
			return s.threads[idx]
		}
	}
	return nil
}

// Tick advances deadline-based transitions: sleeping threads whose
// deadline has passed become Runnable, and waiting threads with a timed
// wait whose deadline has passed are moved to Blocked to re-acquire their
// monitor (spec §4.5 transition table).
func (s *Scheduler) Tick(nowNanos int64) {
	for _, t := range s.threads {
		if t.Status&StatusSleeping != 0 && t.SleepDeadlineNanos != 0 && nowNanos >= t.SleepDeadlineNanos {
			t.SleepDeadlineNanos = 0
			t.setBase(StatusRunnable)
		}
		if t.Status&StatusWaiting != 0 && t.WaitDeadlineNanos != 0 && nowNanos >= t.WaitDeadlineNanos {
			t.WaitDeadlineNanos = 0
			s.reacquireAfterWait(t)
		}
	}
}

// MonitorEnter attempts to acquire obj's monitor for t. It returns true
// if t became Blocked (the interpreter must suspend this thread's
// execution and let the scheduler run someone else); false means t now
// owns the monitor and may proceed immediately.
func (s *Scheduler) MonitorEnter(t *Thread, obj heap.Ptr) bool {
	m := s.monitors.get(obj)
	if m.OwnerThread == nil {
		m.OwnerThread = t
		m.EntryCount = 1
		return false
	}
	if m.OwnerThread == t {
		m.EntryCount++
		return false
	}
	m.lockQueue = append(m.lockQueue, t)
	t.LockMonitor = m
	t.WaitingOn = obj
	t.setBase(StatusBlocked)
	return true
}

// MonitorExit releases one level of obj's monitor for t. Exiting a
// monitor t does not own is IllegalMonitorStateException (spec §7).
func (s *Scheduler) MonitorExit(t *Thread, obj heap.Ptr) error {
	m, ok := s.monitors.Lookup(obj)
	if !ok || m.OwnerThread != t {
		return fmt.Errorf("%w: thread %d does not own monitor on %v", vmerr.ErrIllegalMonitorState, t.ID, obj)
	}
	m.EntryCount--
	if m.EntryCount > 0 {
		return nil
	}
	m.OwnerThread = nil
	s.wakeOneWaiter(m)
	s.monitors.release(m)
	return nil
}

// wakeOneWaiter hands ownership of a just-released monitor to the head of
// its FIFO lock queue (spec §4.5 "Monitors: ... FIFO for blocked
// enterers").
func (s *Scheduler) wakeOneWaiter(m *Monitor) {
	for len(m.lockQueue) > 0 {
		next := m.lockQueue[0]
		m.lockQueue = m.lockQueue[1:]
		if next.IsDead() {
			continue
		}
		m.OwnerThread = next
		m.EntryCount = 1
		if next.savedEntryCount > 0 { // re-acquiring after wait()
			m.EntryCount = next.savedEntryCount
			next.savedEntryCount = 0
		}
		next.LockMonitor = nil
		next.WaitingOn = 0
		next.setBase(StatusRunnable)
		return
	}
}

// Wait implements Object.wait(timeoutMillis): releases obj's monitor
// (recording the entry count to restore on re-acquire), parks t on the
// wait queue, and optionally arms a Sleeping-style deadline when
// timeoutMillis > 0 (spec §3 VmThread.status: "Waiting (+ optional
// Sleeping if t>0)").
func (s *Scheduler) Wait(t *Thread, obj heap.Ptr, timeoutMillis int64, now time.Time) error {
	m, ok := s.monitors.Lookup(obj)
	if !ok || m.OwnerThread != t {
		return fmt.Errorf("%w: wait() on unowned monitor", vmerr.ErrIllegalMonitorState)
	}

	savedEntryCount := m.EntryCount
	m.OwnerThread = nil
	m.EntryCount = 0
	s.wakeOneWaiter(m)

	m.waitQueue = append(m.waitQueue, t)
	t.WaitingOn = obj
	t.LockMonitor = m
	t.setBase(StatusWaiting)
	if timeoutMillis > 0 {
		t.Status |= StatusSleeping
		t.WaitDeadlineNanos = now.Add(time.Duration(timeoutMillis) * time.Millisecond).UnixNano()
	}
	t.savedEntryCount = savedEntryCount
	return nil
}

func (s *Scheduler) reacquireAfterWait(t *Thread) {
	m := t.LockMonitor
	if m == nil {
		t.setBase(StatusRunnable)
		return
	}
	removeThread(&m.waitQueue, t)
	if m.OwnerThread == nil {
		m.OwnerThread = t
		m.EntryCount = t.savedEntryCount
		t.savedEntryCount = 0
		t.LockMonitor = nil
		t.WaitingOn = 0
		t.setBase(StatusRunnable)
		return
	}
	m.lockQueue = append(m.lockQueue, t)
	t.setBase(StatusBlocked)
}

// Notify wakes the longest-waiting thread on obj's wait queue, moving it
// to the Blocked (re-acquiring) state (spec §4.5: "Waiting --notify-->
// Blocked (re-acquire monitor) -> Runnable").
func (s *Scheduler) Notify(obj heap.Ptr) {
	m, ok := s.monitors.Lookup(obj)
	if !ok || len(m.waitQueue) == 0 {
		return
	}
	t := m.waitQueue[0]
	m.waitQueue = m.waitQueue[1:]
	t.WaitDeadlineNanos = 0
	t.Status &^= StatusSleeping
	s.reacquireAfterWait(t)
}

// NotifyAll wakes every waiter.
func (s *Scheduler) NotifyAll(obj heap.Ptr) {
	m, ok := s.monitors.Lookup(obj)
	if !ok {
		return
	}
	waiters := m.waitQueue
	m.waitQueue = nil
	for _, t := range waiters {
		t.WaitDeadlineNanos = 0
		t.Status &^= StatusSleeping
		t.LockMonitor = m
		s.reacquireAfterWait(t)
	}
}

func removeThread(queue *[]*Thread, t *Thread) {
	q := *queue
	for i, x := range q {
		if x == t {
			*queue = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Sleep implements Thread.sleep(millis) (spec §4.5).
func (s *Scheduler) Sleep(t *Thread, millis int64, now time.Time) {
	t.setBase(StatusSleeping)
	t.SleepDeadlineNanos = now.Add(time.Duration(millis) * time.Millisecond).UnixNano()
}

// Interrupt delivers Thread.interrupt(): it sets the flag immediately and,
// if the target is blocked in wait/sleep, wakes it right away so the next
// suspension point observes InterruptedException within one scheduling
// quantum (spec §8 "Cancellation").
func (s *Scheduler) Interrupt(target *Thread) {
	target.Interrupted = true
	if target.Status&StatusSleeping != 0 && target.Status&StatusWaiting == 0 {
		target.SleepDeadlineNanos = 0
		target.setBase(StatusRunnable)
		return
	}
	if target.Status&StatusWaiting != 0 {
		target.WaitDeadlineNanos = 0
		target.Status &^= StatusSleeping
		m := target.LockMonitor
		if m != nil {
			removeThread(&m.waitQueue, target)
		}
		s.reacquireAfterWait(target)
		return
	}
	if target.Status&StatusBlocked != 0 {
		// Monitor-enter contention does not observe interrupt in this
		// core (matching standard JVM semantics: a blocked monitor
		// enter is not interruptible), only wait/sleep/join are.
		return
	}
}

// ConsumeInterrupted implements Thread.interrupted(): read-and-clear.
func ConsumeInterrupted(t *Thread) bool {
	v := t.Interrupted
	t.Interrupted = false
	return v
}

// Monitors exposes the monitor table for diagnostics and tests.
func (s *Scheduler) Monitors() *MonitorTable { return s.monitors }

// DbgSuspend increments t's suspend count (spec §4.9 "Thread suspend is
// refcounted: N suspends require N resumes"), marking it ineligible for
// PickNext regardless of its underlying Blocked/Waiting/Sleeping/Runnable
// state.
func (s *Scheduler) DbgSuspend(t *Thread) {
	t.DbgSuspendCount++
	t.Status |= StatusDbgSuspended
}

// DbgResume decrements t's suspend count, clearing the overlay bit and
// returning any events parked while it was suspended (in FIFO order) once
// the count reaches zero. Returns nil without effect if t was not
// suspended.
func (s *Scheduler) DbgResume(t *Thread) []ParkedEvent {
	if t.DbgSuspendCount == 0 {
		return nil
	}
	t.DbgSuspendCount--
	if t.DbgSuspendCount > 0 {
		return nil
	}
	t.Status &^= StatusDbgSuspended
	parked := t.DbgParkedEvents
	t.DbgParkedEvents = nil
	return parked
}

// DbgSuspendAll suspends every thread (spec §4.9 suspend policy ALL).
func (s *Scheduler) DbgSuspendAll() {
	for _, t := range s.threads {
		s.DbgSuspend(t)
	}
}

// DbgResumeAll resumes every thread, returning each thread's replayed
// parked events keyed by thread.
func (s *Scheduler) DbgResumeAll() map[*Thread][]ParkedEvent {
	out := make(map[*Thread][]ParkedEvent)
	for _, t := range s.threads {
		if p := s.DbgResume(t); p != nil {
			out[t] = p
		}
	}
	return out
}
