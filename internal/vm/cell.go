// Package vm implements the stack-based bytecode interpreter, the
// segmented per-thread stack/frame layout, the cooperative green-thread
// scheduler, and the native-method calling convention (spec §3 Stack
// segment/Frame/VmThread, §4.4, §4.5, §4.6).
package vm

import (
	"math"

	"github.com/mabhi256/jovm/internal/heap"
)

// Cell is an untyped machine-word stack/local/field slot (spec §3
// "Cell"). Interpretation is position-dependent: the same 8 bytes are a
// heap.Ptr, an int32, half of an int64, or a float64 bit pattern
// depending on what the verified bytecode says lives there.
type Cell uint64

func CellFromInt32(v int32) Cell      { return Cell(uint32(v)) }
func (c Cell) Int32() int32           { return int32(uint32(c)) }
func CellFromInt64(v int64) Cell      { return Cell(uint64(v)) }
func (c Cell) Int64() int64           { return int64(c) }
func CellFromFloat32(v float32) Cell  { return Cell(math.Float32bits(v)) }
func (c Cell) Float32() float32       { return math.Float32frombits(uint32(c)) }
func CellFromFloat64(v float64) Cell  { return Cell(math.Float64bits(v)) }
func (c Cell) Float64() float64       { return math.Float64frombits(uint64(c)) }
func CellFromPtr(p heap.Ptr) Cell     { return Cell(p) }
func (c Cell) Ptr() heap.Ptr          { return heap.Ptr(uint32(c)) }
func CellFromBool(b bool) Cell {
	if b {
		return 1
	}
	return 0
}
func (c Cell) Bool() bool { return c != 0 }

// IsLikelyHeapRef is the conservative allocator-range test the GC's
// generic stack scanner would use if this core fell back to conservative
// scanning. Neither the collector nor any command calls it, since spec §4.2 mandates precise scanning everywhere else — the
// interpreter's own frame descriptors are the real source of truth for
// which cells are references.
func IsLikelyHeapRef(c Cell, capacity int) bool {
	return uint32(c) != 0 && int(uint32(c)) < capacity
}
