package debugger

import (
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
)

// Server ties the VM, interpreter, transport, and event engine together
// (spec §4.8-§4.10). A command-line debug session opens one of these,
// then polls it once between scheduler quanta so a stalled debugger
// connection never blocks VM progress beyond that one poll.
type Server struct {
	VM          *vm.VM
	Interpreter *vm.Interpreter
	Transport   Transport

	ids        *IDMap[heap.Ptr]
	refs       *IDMap[*types.Clazz]
	roots      *RootMap
	breakpoints *BreakpointTable
	events     *EventEngine
	dispatcher *Dispatcher
}

// Attach wires a freshly-handshaken Transport into v/in, installing the
// debugger hooks the interpreter and collector consult: BreakpointTable,
// SuspensionHook, and DebuggerRoots/ClassUnloadObserver.
func Attach(v *vm.VM, in *vm.Interpreter, t Transport) *Server {
	ids := NewIDMap[heap.Ptr]()
	refs := NewIDMap[*types.Clazz]()
	roots := NewRootMap()
	events := NewEventEngine(t, ids, refs, v.Sched)
	bps := NewBreakpointTable(events)

	in.Breakpoints = bps
	in.Steps = events
	v.DebuggerRoots = roots
	v.ClassUnloadObserver = events
	v.ExceptionObserver = events

	srv := &Server{
		VM: v, Interpreter: in, Transport: t,
		ids: ids, refs: refs, roots: roots, breakpoints: bps, events: events,
	}
	srv.dispatcher = &Dispatcher{VM: v, IDs: ids, Refs: refs, Roots: roots, Events: events, Breakpoints: bps}
	return srv
}

// Detach undoes Attach's wiring and closes the transport, leaving v/in
// runnable standalone again.
func (s *Server) Detach() {
	s.Interpreter.Breakpoints = nil
	s.Interpreter.Steps = nil
	s.VM.DebuggerRoots = nil
	s.VM.ClassUnloadObserver = nil
	s.VM.ExceptionObserver = nil
	if s.Transport != nil {
		s.Transport.Close()
	}
}

// Poll is called once between scheduler quanta (spec §5 "the transport
// is polled by the VM thread, never its own goroutine"): it drains every
// command packet currently buffered, replying to each, without ever
// blocking waiting for one to arrive.
func (s *Server) Poll() error {
	for {
		avail, err := s.Transport.IsDataAvailable(0)
		if err != nil {
			return err
		}
		if !avail {
			return nil
		}
		pkt, err := s.Transport.ReadPacket()
		if err != nil {
			return err
		}
		reply := s.dispatcher.Handle(pkt)
		if reply != nil {
			if err := s.Transport.WritePacket(reply); err != nil {
				return err
			}
		}
	}
}

// NotifyVMStart fires spec §4.9's VM_START event and suspends every
// thread, matching real JDWP's "the VM always starts suspended until the
// debugger issues a VirtualMachine.Resume".
func (s *Server) NotifyVMStart() {
	s.VM.Sched.DbgSuspendAll()
	s.events.fire(&EventContext{Kind: KindVMStart})
}

// NotifyVMDeath fires VM_DEATH just before the process exits.
func (s *Server) NotifyVMDeath() {
	s.events.fire(&EventContext{Kind: KindVMDeath})
}

// NotifyThreadStart/NotifyThreadDeath let the scheduler's thread
// lifecycle drive ThreadStart/ThreadDeath events without the scheduler
// itself knowing the debugger exists.
func (s *Server) NotifyThreadStart(t *vm.Thread) { s.events.FireThreadStart(t) }
func (s *Server) NotifyThreadDeath(t *vm.Thread) { s.events.FireThreadDeath(t) }

// NotifyClassPrepare lets class loading drive ClassPrepare events.
func (s *Server) NotifyClassPrepare(c *types.Clazz) { s.events.FireClassPrepare(c) }

// InstallBreakpoint/RemoveBreakpoint expose the same breakpoint table the
// command dispatcher's EventRequest.Set(BREAKPOINT) path installs into,
// keyed by the (method, pc) pair a LocationOnly modifier carries.
func (s *Server) InstallBreakpoint(m *types.Method, pc int) { s.breakpoints.Install(m, pc) }
func (s *Server) RemoveBreakpoint(m *types.Method, pc int)  { s.breakpoints.Remove(m, pc) }
