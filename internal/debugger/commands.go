package debugger

import (
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
)

// Error codes, a small subset of the real JDWP error table, enough for
// this core's command coverage.
const (
	errNone              = 0
	errInvalidThread     = 10
	errInvalidObject     = 20
	errInvalidClass      = 21
	errInvalidMethodID   = 23
	errAbsentInformation = 101
	errNotImplemented    = 99
)

// CommandSets, matching the real JDWP command_set numbering so a genuine
// JDWP client library never has to special-case this core.
const (
	csVirtualMachine  = 1
	csReferenceType   = 2
	csMethod          = 6
	csThreadReference = 11
	csStackFrame      = 16
	csClassType       = 3
	csObjectReference = 9
	csEventRequest    = 15
)

// Dispatcher decodes and services JDWP command packets against one VM
// session. It holds every piece server.go wires together: the VM itself,
// the ID maps, the root map, and the event engine.
type Dispatcher struct {
	VM          *vm.VM
	IDs         *IDMap[heap.Ptr]
	Refs        *IDMap[*types.Clazz]
	Roots       *RootMap
	Events      *EventEngine
	Breakpoints *BreakpointTable
}

// Handle decodes one command packet and returns the encoded reply.
func (d *Dispatcher) Handle(pkt []byte) []byte {
	hdr, data, err := DecodeCommand(pkt)
	if err != nil {
		return nil
	}
	r := NewPacketReader(data)
	s := NewPacketStream()

	code := errNone
	switch hdr.CmdSet {
	case csVirtualMachine:
		code = d.virtualMachine(hdr.Cmd, r, s)
	case csReferenceType:
		code = d.referenceType(hdr.Cmd, r, s)
	case csClassType:
		code = d.classType(hdr.Cmd, r, s)
	case csMethod:
		code = d.method(hdr.Cmd, r, s)
	case csObjectReference:
		code = d.objectReference(hdr.Cmd, r, s)
	case csThreadReference:
		code = d.threadReference(hdr.Cmd, r, s)
	case csStackFrame:
		code = d.stackFrame(hdr.Cmd, r, s)
	case csEventRequest:
		code = d.eventRequest(hdr.Cmd, r, s)
	default:
		code = errNotImplemented
	}

	return EncodeReply(hdr.ID, int16(code), s.Bytes())
}

// --- VirtualMachine (1) ---

func (d *Dispatcher) virtualMachine(cmd byte, r *PacketReader, s *PacketStream) int {
	switch cmd {
	case 1: // Version
		s.WriteString("jovm 1.0")
		s.WriteInt32(1)
		s.WriteInt32(8)
		s.WriteString("1.0")
		s.WriteString("jovm")
		return errNone
	case 3: // AllClasses
		classes := d.VM.Classes.Loaded()
		b := s.WriteInt32Bookmark()
		n := 0
		for _, c := range classes {
			s.WriteByte(byte(c.Kind))
			s.WriteReferenceTypeID(d.Refs.Put(c))
			s.WriteString(c.JniSignature.String())
			s.WriteInt32(int32(c.State))
			n++
		}
		s.PatchInt32(b, int32(n))
		return errNone
	case 4: // AllThreads
		threads := d.VM.Sched.Threads()
		s.WriteInt32(int32(len(threads)))
		for _, t := range threads {
			s.WriteObjectID(d.IDs.Put(t.ThreadObj))
		}
		return errNone
	case 6: // Dispose
		return errNone
	case 7: // IDSizes
		s.WriteInt32(8) // fieldID
		s.WriteInt32(8) // methodID
		s.WriteInt32(4) // objectID
		s.WriteInt32(4) // referenceTypeID
		s.WriteInt32(8) // frameID
		return errNone
	case 9: // Resume
		d.VM.Sched.DbgResumeAll()
		return errNone
	case 10: // Exit
		return errNone
	}
	return errNotImplemented
}

// --- ReferenceType (2) ---

func (d *Dispatcher) referenceType(cmd byte, r *PacketReader, s *PacketStream) int {
	id, _ := r.ReadReferenceTypeID()
	c, ok := d.Refs.Lookup(id)
	if !ok {
		return errInvalidClass
	}
	switch cmd {
	case 1: // Signature
		s.WriteString(c.JniSignature.String())
		return errNone
	case 2: // ClassLoader
		s.WriteObjectID(d.IDs.Put(c.ClassLoader))
		return errNone
	case 4: // Fields
		s.WriteInt32(int32(len(c.Fields)))
		for i, f := range c.Fields {
			s.WriteFieldID(int64(i))
			s.WriteString(f.Name.String())
			s.WriteString(f.Descriptor.String())
			s.WriteInt32(int32(f.AccessFlags))
		}
		return errNone
	case 5: // Methods
		s.WriteInt32(int32(len(c.Methods)))
		for _, m := range c.Methods {
			s.WriteMethodID(d.Events.methods.Put(m))
			s.WriteString(m.Name.String())
			s.WriteString(m.Descriptor.String())
			s.WriteInt32(int32(m.AccessFlags))
		}
		return errNone
	case 9: // SourceFile
		if c.SourceFile == "" {
			return errAbsentInformation
		}
		s.WriteString(c.SourceFile)
		return errNone
	}
	return errNotImplemented
}

// --- ClassType (3) ---

func (d *Dispatcher) classType(cmd byte, r *PacketReader, s *PacketStream) int {
	id, _ := r.ReadReferenceTypeID()
	c, ok := d.Refs.Lookup(id)
	if !ok {
		return errInvalidClass
	}
	switch cmd {
	case 9: // Superclass
		if c.Super == nil {
			s.WriteReferenceTypeID(0)
			return errNone
		}
		s.WriteReferenceTypeID(d.Refs.Put(c.Super))
		return errNone
	}
	return errNotImplemented
}

// --- Method (6) ---

func (d *Dispatcher) method(cmd byte, r *PacketReader, s *PacketStream) int {
	_, _ = r.ReadReferenceTypeID()
	midRaw, _ := r.ReadMethodID()
	m, ok := d.Events.methods.Lookup(midRaw)
	if !ok {
		return errInvalidMethodID
	}
	switch cmd {
	case 1: // LineTable
		if m.Code == nil {
			return errAbsentInformation
		}
		s.WriteInt64(0)
		s.WriteInt64(int64(len(m.Code.Bytecode) - 1))
		s.WriteInt32(int32(len(m.Code.LineNumbers)))
		for _, e := range m.Code.LineNumbers {
			s.WriteInt64(int64(e.StartPC))
			s.WriteInt32(int32(e.Line))
		}
		return errNone
	case 2: // VariableTable
		s.WriteInt32(int32(m.ArgCellCount()))
		s.WriteInt32(0)
		return errNone
	}
	return errNotImplemented
}

// --- ObjectReference (9) ---

func (d *Dispatcher) objectReference(cmd byte, r *PacketReader, s *PacketStream) int {
	oid, _ := r.ReadObjectID()
	p, ok := d.IDs.Lookup(oid)
	if !ok {
		return errInvalidObject
	}
	switch cmd {
	case 1: // ReferenceType
		c := d.VM.ClassOf(p)
		if c == nil {
			return errInvalidObject
		}
		s.WriteByte(byte(c.Kind))
		s.WriteReferenceTypeID(d.Refs.Put(c))
		return errNone
	case 8: // DisableCollection
		d.Roots.DisableCollection(p)
		return errNone
	case 9: // EnableCollection
		d.Roots.EnableCollection(p)
		return errNone
	}
	return errNotImplemented
}

// --- ThreadReference (11) ---

func (d *Dispatcher) threadReference(cmd byte, r *PacketReader, s *PacketStream) int {
	tid, _ := r.ReadObjectID()
	t := d.findThread(tid)
	if t == nil {
		return errInvalidThread
	}
	switch cmd {
	case 1: // Name
		s.WriteString(t.Name)
		return errNone
	case 2: // Suspend
		d.VM.Sched.DbgSuspend(t)
		return errNone
	case 3: // Resume
		parked := d.VM.Sched.DbgResume(t)
		if parked != nil {
			d.Events.ReplayParked(t, parked)
		}
		return errNone
	case 4: // Status
		s.WriteInt32(threadStatusCode(t))
		s.WriteInt32(int32(t.DbgSuspendCount))
		return errNone
	case 6: // Frames
		frames := t.Stack.Frames()
		start, _ := r.ReadInt32()
		length, _ := r.ReadInt32()
		if length < 0 || int(length) > len(frames) {
			length = int32(len(frames))
		}
		s.WriteInt32(length)
		for i := int(start); i < int(start)+int(length) && i < len(frames); i++ {
			f := frames[i]
			s.WriteFrameID(int64(i))
			s.WriteByte(1) // type tag: location present
			s.WriteReferenceTypeID(d.Refs.Put(f.Method.Owner))
			s.WriteMethodID(d.Events.methods.Put(f.Method))
			s.WriteInt64(int64(f.PC))
		}
		return errNone
	case 7: // FrameCount
		s.WriteInt32(int32(t.Stack.Depth()))
		return errNone
	}
	return errNotImplemented
}

func (d *Dispatcher) findThread(id int64) *vm.Thread {
	p, ok := d.IDs.Lookup(id)
	if !ok {
		return nil
	}
	for _, t := range d.VM.Sched.Threads() {
		if t.ThreadObj == p {
			return t
		}
	}
	return nil
}

func threadStatusCode(t *vm.Thread) int32 {
	switch {
	case t.IsDead():
		return 0
	case t.Status&vm.StatusSleeping != 0:
		return 2
	case t.Status&vm.StatusBlocked != 0:
		return 3
	case t.Status&vm.StatusWaiting != 0:
		return 4
	default:
		return 1 // running
	}
}

// --- StackFrame (16) ---

func (d *Dispatcher) stackFrame(cmd byte, r *PacketReader, s *PacketStream) int {
	tid, _ := r.ReadObjectID()
	t := d.findThread(tid)
	if t == nil {
		return errInvalidThread
	}
	fid, _ := r.ReadFrameID()
	frames := t.Stack.Frames()
	if fid < 0 || int(fid) >= len(frames) {
		return errNotImplemented
	}
	f := frames[fid]
	switch cmd {
	case 1: // GetValues
		count, _ := r.ReadInt32()
		s.WriteInt32(count)
		for i := int32(0); i < count; i++ {
			slot, _ := r.ReadInt32()
			_, _ = r.ReadByte() // tag hint
			s.WriteByte(byte(types.JInt))
			s.WriteInt64(int64(f.GetLocal(int(slot))))
		}
		return errNone
	}
	return errNotImplemented
}

// --- EventRequest (15) ---

func (d *Dispatcher) eventRequest(cmd byte, r *PacketReader, s *PacketStream) int {
	switch cmd {
	case 1: // Set
		kindByte, _ := r.ReadByte()
		policyByte, _ := r.ReadByte()
		modCount, _ := r.ReadInt32()
		mods := make([]Modifier, 0, modCount)
		for i := int32(0); i < modCount; i++ {
			mk, _ := r.ReadByte()
			m := Modifier{Kind: ModifierKind(mk)}
			switch ModifierKind(mk) {
			case ModCount:
				c, _ := r.ReadInt32()
				m.Count = int(c)
			case ModThreadOnly:
				tid, _ := r.ReadObjectID()
				m.Thread = d.findThread(tid)
			case ModLocationOnly:
				_, _ = r.ReadByte()
				rtID, _ := r.ReadReferenceTypeID()
				midRaw, _ := r.ReadMethodID()
				pc, _ := r.ReadInt64()
				if c, ok := d.Refs.Lookup(rtID); ok {
					m.Clazz = c
				}
				if mm, ok := d.Events.methods.Lookup(midRaw); ok {
					m.Method = mm
				}
				m.PC = int(pc)
			case ModClassOnly:
				rtID, _ := r.ReadReferenceTypeID()
				m.Clazz, _ = d.Refs.Lookup(rtID)
			case ModClassMatch, ModClassExclude, ModSourceNameMatch:
				m.ClassPattern, _ = r.ReadString()
			case ModExceptionOnly:
				rtID, _ := r.ReadReferenceTypeID()
				m.Clazz, _ = d.Refs.Lookup(rtID)
				m.Caught, _ = r.ReadBool()
				m.Uncaught, _ = r.ReadBool()
			case ModStep:
				tid, _ := r.ReadObjectID()
				m.Thread = d.findThread(tid)
				size, _ := r.ReadInt32()
				depth, _ := r.ReadInt32()
				m.StepSize = stepSizeName(size)
				m.StepDepth = stepDepthName(depth)
			case ModInstanceOnly:
				oid, _ := r.ReadObjectID()
				m.Instance, _ = d.IDs.Lookup(oid)
			}
			mods = append(mods, m)
		}
		id := d.Events.Set(EventKind(kindByte), int(policyByte), mods)
		if EventKind(kindByte) == KindBreakpoint {
			for _, m := range mods {
				if m.Kind == ModLocationOnly && m.Method != nil {
					d.Breakpoints.Install(m.Method, m.PC)
				}
			}
		}
		s.WriteInt32(id)
		return errNone
	case 2: // Clear
		kindByte, _ := r.ReadByte()
		id, _ := r.ReadInt32()
		if EventKind(kindByte) == KindBreakpoint {
			for _, def := range d.Events.defs {
				if def.ID == id && def.Kind == KindBreakpoint {
					for _, m := range def.Modifiers {
						if m.Kind == ModLocationOnly && m.Method != nil {
							d.Breakpoints.Remove(m.Method, m.PC)
						}
					}
				}
			}
		}
		d.Events.Clear(EventKind(kindByte), id)
		return errNone
	case 3: // ClearAllBreakpoints
		d.Events.ClearAllBreakpoints()
		return errNone
	}
	return errNotImplemented
}

func stepSizeName(v int32) string {
	if v == 0 {
		return "MIN"
	}
	return "LINE"
}

func stepDepthName(v int32) string {
	switch v {
	case 0:
		return "INTO"
	case 1:
		return "OVER"
	default:
		return "OUT"
	}
}
