package debugger

import (
	"testing"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/types"
)

func TestBreakpointTableInstallRemove(t *testing.T) {
	bt := NewBreakpointTable(nil)
	m := &types.Method{Code: &classfile.CodeAttribute{Bytecode: []byte{0x00, 0x2a, 0xb1}}}

	if _, ok := bt.OriginalOpcode(m, 1); ok {
		t.Fatal("no breakpoint installed yet")
	}

	bt.Install(m, 1)
	op, ok := bt.OriginalOpcode(m, 1)
	if !ok {
		t.Fatal("expected OriginalOpcode to report installed")
	}
	if op != 0x2a {
		t.Errorf("OriginalOpcode = %#x, want %#x", op, 0x2a)
	}

	bt.Remove(m, 1)
	if _, ok := bt.OriginalOpcode(m, 1); ok {
		t.Error("expected no breakpoint after Remove")
	}
}

func TestBreakpointTableIsKeyedByMethodAndPC(t *testing.T) {
	bt := NewBreakpointTable(nil)
	m1 := &types.Method{Code: &classfile.CodeAttribute{Bytecode: []byte{0x00, 0x01, 0x02}}}
	m2 := &types.Method{Code: &classfile.CodeAttribute{Bytecode: []byte{0x00, 0x01, 0x02}}}

	bt.Install(m1, 1)
	if _, ok := bt.OriginalOpcode(m2, 1); ok {
		t.Error("a breakpoint on m1 must not apply to an unrelated method m2 at the same pc")
	}
	if _, ok := bt.OriginalOpcode(m1, 2); ok {
		t.Error("a breakpoint at pc 1 must not apply to a different pc on the same method")
	}
}
