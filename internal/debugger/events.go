package debugger

import (
	"strings"

	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
)

// EventKind enumerates spec §4.9's supported event kinds. FieldAccess,
// FieldModification, MethodEntry, MethodExit, and the Monitor* kinds are
// part of the real JDWP wire protocol and are accepted by EventRequest.Set
// (so a conforming client never sees an "unknown event kind" error) but
// never fire, matching spec §4.9's "accepted but never fires" note.
type EventKind int

const (
	KindVMStart EventKind = iota + 1
	KindVMDeath
	KindThreadStart
	KindThreadDeath
	KindClassPrepare
	KindClassUnload
	KindBreakpoint
	KindSingleStep
	KindException
	KindFieldAccess
	KindFieldModification
	KindMethodEntry
	KindMethodExit
	KindMonitorContendedEnter
	KindMonitorContendedEntered
	KindMonitorWait
	KindMonitorWaited
)

// ModifierKind enumerates spec §4.9's 12 event-request modifier kinds.
type ModifierKind int

const (
	ModCount ModifierKind = iota + 1
	ModConditional
	ModThreadOnly
	ModClassOnly
	ModClassMatch
	ModClassExclude
	ModLocationOnly
	ModExceptionOnly
	ModFieldOnly
	ModStep
	ModInstanceOnly
	ModSourceNameMatch
)

// Modifier is a tagged union over the 12 modifier kinds; only the fields
// relevant to Kind are populated.
type Modifier struct {
	Kind ModifierKind

	Count int // ModCount: events remaining before this def fires once more

	Thread *vm.Thread // ModThreadOnly, ModStep

	Clazz        *types.Clazz // ModClassOnly, ModExceptionOnly (nil: any throwable)
	ClassPattern string       // ModClassMatch, ModClassExclude, ModSourceNameMatch ("*Foo" or "Foo*")

	Method *types.Method // ModLocationOnly
	PC     int           // ModLocationOnly

	Caught   bool // ModExceptionOnly
	Uncaught bool // ModExceptionOnly

	StepSize  string // ModStep: "MIN" or "LINE"
	StepDepth string // ModStep: "INTO", "OVER", or "OUT"

	Instance heap.Ptr // ModInstanceOnly
}

// EventDef is one installed event request (JDWP EventRequest.Set).
type EventDef struct {
	ID             int32
	Kind           EventKind
	SuspendPolicy  int
	Modifiers      []Modifier
	inUse          bool
}

// Suspend policy values, ordered exactly as spec §4.9's "max(NONE <
// EVENT_THREAD < ALL)" rule requires.
const (
	SuspendNone        = 0
	SuspendEventThread = 1
	SuspendAll         = 2
)

// EventContext carries everything a raw VM occurrence might need to match
// against an EventDef's modifiers.
type EventContext struct {
	Kind    EventKind
	Thread  *vm.Thread
	Clazz   *types.Clazz // location's declaring class, or the class (un)prepared/unloaded
	Method  *types.Method
	PC      int
	This    heap.Ptr // receiver, for ModInstanceOnly; 0 for static locations

	Exception       *types.Clazz // runtime class of a thrown exception
	ExceptionCaught bool
}

// stepState is the per-thread bookkeeping a Step modifier needs to decide
// whether a given instruction boundary is a step-completion point (spec
// §4.9 INTO/OVER/OUT).
type stepState struct {
	def       *EventDef
	startDepth int
	startLine  int
}

// EventEngine matches VM occurrences against installed EventDefs, applies
// suspend policy, parks events on already-suspended threads, and ships
// Composite event packets over the wire. It implements vm.BreakpointTable
// (via BreakpointTable, which holds a reference back to it),
// vm.SuspensionHook, and vm.ClassUnloadObserver.
type EventEngine struct {
	transport Transport
	ids       *IDMap[heap.Ptr]
	refs      *IDMap[*types.Clazz]
	nextReqID int32

	defs []*EventDef

	steps map[*vm.Thread]*stepState

	sched   *vm.Scheduler
	methods *IDMap[*types.Method]
}

func NewEventEngine(transport Transport, ids *IDMap[heap.Ptr], refs *IDMap[*types.Clazz], sched *vm.Scheduler) *EventEngine {
	return &EventEngine{
		transport: transport,
		ids:       ids,
		refs:      refs,
		sched:     sched,
		steps:     make(map[*vm.Thread]*stepState),
		methods:   NewIDMap[*types.Method](),
	}
}

// Set installs a new event request and returns its assigned ID (JDWP
// EventRequest.Set). Step modifiers additionally arm this.steps so
// AfterInstruction can recognize the thread's starting position.
func (e *EventEngine) Set(kind EventKind, suspendPolicy int, modifiers []Modifier) int32 {
	e.nextReqID++
	def := &EventDef{ID: e.nextReqID, Kind: kind, SuspendPolicy: suspendPolicy, Modifiers: modifiers, inUse: true}
	e.defs = append(e.defs, def)

	for i := range modifiers {
		m := &modifiers[i]
		if m.Kind == ModStep {
			f := m.Thread.Stack.Top()
			ss := &stepState{def: def, startDepth: m.Thread.Stack.Depth()}
			if f != nil {
				ss.startLine = lineForPC(f.Method, f.PC)
			}
			e.steps[m.Thread] = ss
		}
	}
	return def.ID
}

// Clear removes one event request (JDWP EventRequest.Clear).
func (e *EventEngine) Clear(kind EventKind, id int32) {
	for i, d := range e.defs {
		if d.ID == id && d.Kind == kind {
			e.defs = append(e.defs[:i], e.defs[i+1:]...)
			for th, ss := range e.steps {
				if ss.def == d {
					delete(e.steps, th)
				}
			}
			return
		}
	}
}

// ClearAllBreakpoints implements JDWP EventRequest.ClearAllBreakpoints.
func (e *EventEngine) ClearAllBreakpoints() {
	out := e.defs[:0]
	for _, d := range e.defs {
		if d.Kind != KindBreakpoint {
			out = append(out, d)
		}
	}
	e.defs = out
}

func classPatternMatch(pattern, name string) bool {
	switch {
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return pattern == name
	}
}

// matches reports whether def matches ctx, evaluating every modifier
// except Count, then applying Count last: a def whose non-Count modifiers
// all pass still may not fire yet if its Count hasn't reached zero (spec
// §4.9 Count semantics).
func (d *EventDef) matches(ctx *EventContext) bool {
	if !d.inUse || d.Kind != ctx.Kind {
		return false
	}
	for i := range d.Modifiers {
		m := &d.Modifiers[i]
		switch m.Kind {
		case ModThreadOnly:
			if ctx.Thread != m.Thread {
				return false
			}
		case ModClassOnly:
			if ctx.Clazz == nil || !types.IsAssignableFrom(ctx.Clazz, m.Clazz) {
				return false
			}
		case ModClassMatch:
			if ctx.Clazz == nil || !classPatternMatch(m.ClassPattern, ctx.Clazz.Name.String()) {
				return false
			}
		case ModClassExclude:
			if ctx.Clazz != nil && classPatternMatch(m.ClassPattern, ctx.Clazz.Name.String()) {
				return false
			}
		case ModLocationOnly:
			if ctx.Method != m.Method || ctx.PC != m.PC {
				return false
			}
		case ModExceptionOnly:
			if m.Clazz != nil && (ctx.Exception == nil || !types.IsAssignableFrom(ctx.Exception, m.Clazz)) {
				return false
			}
			if ctx.ExceptionCaught && !m.Caught {
				return false
			}
			if !ctx.ExceptionCaught && !m.Uncaught {
				return false
			}
		case ModInstanceOnly:
			if ctx.This != m.Instance {
				return false
			}
		case ModSourceNameMatch:
			src := ""
			if ctx.Clazz != nil {
				src = ctx.Clazz.SourceFile
			}
			if !classPatternMatch(m.ClassPattern, src) {
				return false
			}
		case ModStep:
			if ctx.Thread != m.Thread {
				return false
			}
		case ModCount, ModConditional, ModFieldOnly:
			// Count applied below; Conditional/FieldOnly are accepted
			// no-ops (spec §4.9 "never fires" kinds never reach here).
		}
	}
	for i := range d.Modifiers {
		if d.Modifiers[i].Kind == ModCount {
			d.Modifiers[i].Count--
			if d.Modifiers[i].Count > 0 {
				return false
			}
			d.inUse = false
		}
	}
	return true
}

// fire matches ctx against every installed def, and for each match either
// sends the event immediately or parks it on ctx.Thread if that thread is
// already suspended (spec §4.9 "Event parking").
func (e *EventEngine) fire(ctx *EventContext) {
	var matched []*EventDef
	for _, d := range e.defs {
		if d.matches(ctx) {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return
	}

	policy := SuspendNone
	for _, d := range matched {
		if d.SuspendPolicy > policy {
			policy = d.SuspendPolicy
		}
	}

	if ctx.Thread != nil && ctx.Thread.DbgSuspendCount > 0 {
		ctx.Thread.DbgParkedEvents = append(ctx.Thread.DbgParkedEvents, parkedEvent{ctx: *ctx, matched: matched, policy: policy})
		return
	}

	e.send(ctx, matched, policy)
}

type parkedEvent struct {
	ctx     EventContext
	matched []*EventDef
	policy  int
}

// ReplayParked sends every event parked while t was suspended, in FIFO
// order, called by the server's resume handling right after
// Scheduler.DbgResume drains t.DbgParkedEvents. If suspend policy ALL or
// EVENT_THREAD causes this thread to be re-suspended while draining,
// remaining entries stay queued for the next resume (spec §4.9).
func (e *EventEngine) ReplayParked(t *vm.Thread, parked []vm.ParkedEvent) {
	for _, raw := range parked {
		pe := raw.(parkedEvent)
		if t.DbgSuspendCount > 0 {
			t.DbgParkedEvents = append(t.DbgParkedEvents, raw)
			continue
		}
		e.send(&pe.ctx, pe.matched, pe.policy)
	}
}

// send assembles and writes one Composite event packet, then applies
// suspend policy.
func (e *EventEngine) send(ctx *EventContext, matched []*EventDef, policy int) {
	pkt := e.compositePacket(ctx, matched, policy)
	if e.transport != nil {
		e.transport.WritePacket(pkt)
	}

	switch policy {
	case SuspendAll:
		e.sched.DbgSuspendAll()
	case SuspendEventThread:
		if ctx.Thread != nil {
			e.sched.DbgSuspend(ctx.Thread)
		}
	}
}

func (e *EventEngine) compositePacket(ctx *EventContext, matched []*EventDef, policy int) []byte {
	s := NewPacketStream()
	s.WriteByte(byte(policy))
	s.WriteInt32(int32(len(matched)))
	for _, d := range matched {
		s.WriteByte(byte(d.Kind))
		s.WriteInt32(d.ID)
		if ctx.Thread != nil {
			s.WriteObjectID(e.ids.Put(ctx.Thread.ThreadObj))
		} else {
			s.WriteObjectID(0)
		}
		if ctx.Method != nil {
			s.WriteReferenceTypeID(e.refs.Put(ctx.Method.Owner))
			s.WriteMethodID(e.methods.Put(ctx.Method))
			s.WriteInt64(int64(ctx.PC))
		}
		if ctx.Kind == KindException && ctx.This != 0 {
			s.WriteObjectID(e.ids.Put(ctx.This))
		}
	}
	return EncodeCommand(0, 64, 100, s.Bytes())
}

func lineForPC(m *types.Method, pc int) int {
	if m == nil || m.Code == nil {
		return -1
	}
	line := -1
	for _, entry := range m.Code.LineNumbers {
		if int(entry.StartPC) <= pc {
			line = int(entry.Line)
		} else {
			break
		}
	}
	return line
}

// FireBreakpoint is called by BreakpointTable.OnBreakpointHit.
func (e *EventEngine) FireBreakpoint(t *vm.Thread, m *types.Method, pc int) {
	e.fire(&EventContext{Kind: KindBreakpoint, Thread: t, Clazz: m.Owner, Method: m, PC: pc, This: receiverOf(t)})
}

// OnException implements vm.ExceptionObserver, called from UnwindOne on
// every unwind step (both when a handler is found and when none is, so
// ExceptionOnly's caught/uncaught modifier can distinguish the two).
func (e *EventEngine) OnException(t *vm.Thread, m *types.Method, pc int, exc *types.Clazz, caught bool) {
	e.fire(&EventContext{Kind: KindException, Thread: t, Clazz: m.Owner, Method: m, PC: pc, This: receiverOf(t), Exception: exc, ExceptionCaught: caught})
}

// FireThreadStart/FireThreadDeath are called by the server around
// scheduler thread creation/death.
func (e *EventEngine) FireThreadStart(t *vm.Thread) {
	e.fire(&EventContext{Kind: KindThreadStart, Thread: t})
}

func (e *EventEngine) FireThreadDeath(t *vm.Thread) {
	e.fire(&EventContext{Kind: KindThreadDeath, Thread: t})
}

// FireClassPrepare is called once a class reaches StateLoaded.
func (e *EventEngine) FireClassPrepare(c *types.Clazz) {
	e.fire(&EventContext{Kind: KindClassPrepare, Clazz: c})
}

// OnClassUnloaded implements vm.ClassUnloadObserver.
func (e *EventEngine) OnClassUnloaded(c *types.Clazz) {
	e.fire(&EventContext{Kind: KindClassUnload, Clazz: c})
	e.refs.Remove(mustID(e.refs, c))
}

func mustID(refs *IDMap[*types.Clazz], c *types.Clazz) int64 {
	id, _ := refs.LookupValue(c)
	return id
}

// AfterInstruction implements vm.SuspensionHook: detects step-completion
// boundaries per spec §4.9's INTO/OVER/OUT rules and fires SingleStep
// events. INTO fires on any line (or instruction, for MIN) change at any
// depth. OVER additionally requires the new depth not be greater than the
// step's starting depth (a call the step stepped "over" does not itself
// stop it). OUT requires the new depth be strictly less than the starting
// depth (the step only stops once the current frame has returned).
func (e *EventEngine) AfterInstruction(t *vm.Thread, prevDepth, newDepth, prevLine, newLine int) {
	ss, ok := e.steps[t]
	if !ok {
		return
	}

	var positionChanged bool
	if ss.def.stepSize() == "MIN" {
		positionChanged = true // every executed instruction moves to a new bytecode offset
	} else {
		positionChanged = newLine != ss.startLine || newDepth != ss.startDepth
	}
	if !positionChanged {
		return
	}

	switch ss.def.stepDepth() {
	case "OVER":
		if newDepth > ss.startDepth {
			return
		}
	case "OUT":
		if newDepth >= ss.startDepth {
			return
		}
	}

	f := t.Stack.Top()
	var m *types.Method
	pc := 0
	if f != nil {
		m = f.Method
		pc = f.PC
	}
	delete(e.steps, t)
	e.fire(&EventContext{Kind: KindSingleStep, Thread: t, Clazz: ownerOf(m), Method: m, PC: pc, This: receiverOf(t)})
}

func (d *EventDef) stepSize() string {
	for _, m := range d.Modifiers {
		if m.Kind == ModStep {
			return m.StepSize
		}
	}
	return "LINE"
}

func (d *EventDef) stepDepth() string {
	for _, m := range d.Modifiers {
		if m.Kind == ModStep {
			return m.StepDepth
		}
	}
	return "INTO"
}

func ownerOf(m *types.Method) *types.Clazz {
	if m == nil {
		return nil
	}
	return m.Owner
}

func receiverOf(t *vm.Thread) heap.Ptr {
	f := t.Stack.Top()
	if f == nil || f.Method.IsStatic() {
		return 0
	}
	return f.GetLocal(0).Ptr()
}
