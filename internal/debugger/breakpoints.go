package debugger

import (
	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
)

type breakpointKey struct {
	method *types.Method
	pc     int
}

// BreakpointTable implements vm.BreakpointTable (spec §4.9 "Breakpoints:
// install by overwriting the opcode ... interpreter, on encountering
// breakpoint, looks up the def by location, emits the event, then
// executes the original opcode"). This core's interpreter never mutates
// the decoded Bytecode array itself; it consults this table by (method,
// pc) on every fetch instead, which is functionally identical — the
// thing a debugger observes (a hit callback, then the real instruction
// runs) is unchanged, and it avoids aliasing hazards if a Method's
// decoded Code were ever shared across more than one loaded class.
type BreakpointTable struct {
	installed map[breakpointKey]struct{}
	engine    *EventEngine
}

func NewBreakpointTable(engine *EventEngine) *BreakpointTable {
	return &BreakpointTable{installed: make(map[breakpointKey]struct{}), engine: engine}
}

func (bt *BreakpointTable) Install(m *types.Method, pc int) {
	bt.installed[breakpointKey{m, pc}] = struct{}{}
}

func (bt *BreakpointTable) Remove(m *types.Method, pc int) {
	delete(bt.installed, breakpointKey{m, pc})
}

// OriginalOpcode reports whether a breakpoint is installed at (m, pc);
// since the bytecode is never overwritten, the "original" opcode is
// simply the one already at that location in the decoded Code.
func (bt *BreakpointTable) OriginalOpcode(m *types.Method, pc int) (byte, bool) {
	if _, ok := bt.installed[breakpointKey{m, pc}]; !ok {
		return 0, false
	}
	return m.Code.Bytecode[pc], true
}

// OnBreakpointHit notifies the event engine, which matches it against
// every active Breakpoint event def at that exact location.
func (bt *BreakpointTable) OnBreakpointHit(t *vm.Thread, m *types.Method, pc int) {
	bt.engine.FireBreakpoint(t, m, pc)
}
