package vm

import "github.com/mabhi256/jovm/internal/heap"

// Monitor is the mutual-exclusion and wait/notify structure associated
// with one Java object (spec §3 "Monitor"), hash-pooled by the address of
// the owned object. EntryCount supports synchronized-method/block
// recursion: the owning thread may re-enter without blocking.
type Monitor struct {
	Object      heap.Ptr
	OwnerThread *Thread
	EntryCount  int

	lockQueue []*Thread // FIFO of threads blocked trying to enter
	waitQueue []*Thread // threads parked in Object.wait()

	InUse bool
}

// MonitorTable pools Monitors by the address of the object they guard,
// creating one lazily on the first MonitorEnter for that object and
// dropping it again once it is unowned with no waiters.
type MonitorTable struct {
	byObject map[heap.Ptr]*Monitor
}

func NewMonitorTable() *MonitorTable {
	return &MonitorTable{byObject: make(map[heap.Ptr]*Monitor)}
}

func (mt *MonitorTable) get(obj heap.Ptr) *Monitor {
	m, ok := mt.byObject[obj]
	if !ok {
		m = &Monitor{Object: obj, InUse: true}
		mt.byObject[obj] = m
	}
	return m
}

// Release drops a monitor from the table once it is unowned and has no
// waiters, keeping the table sized to contended objects only.
func (mt *MonitorTable) release(m *Monitor) {
	if m.OwnerThread == nil && len(m.lockQueue) == 0 && len(m.waitQueue) == 0 {
		delete(mt.byObject, m.Object)
	}
}

// Lookup returns the Monitor for obj if the table currently holds one
// (the object's monitor is owned or has waiters), without creating one.
func (mt *MonitorTable) Lookup(obj heap.Ptr) (*Monitor, bool) {
	m, ok := mt.byObject[obj]
	return m, ok
}

// All returns every currently pooled monitor, for diagnostics.
func (mt *MonitorTable) All() []*Monitor {
	out := make([]*Monitor, 0, len(mt.byObject))
	for _, m := range mt.byObject {
		out = append(out, m)
	}
	return out
}
