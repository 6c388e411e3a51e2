package vm

import "testing"

func TestStackPushPopFrameLocalsAndOperands(t *testing.T) {
	s := NewStack(64)

	f := s.PushFrame(nil, 3, 4)
	if s.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", s.Depth())
	}
	f.SetLocal(0, CellFromInt32(42))
	f.SetLocal(1, CellFromInt32(7))
	if got := f.GetLocal(0).Int32(); got != 42 {
		t.Errorf("GetLocal(0) = %d, want 42", got)
	}

	f.Push(CellFromInt32(1))
	f.Push(CellFromInt32(2))
	if f.OperandDepth() != 2 {
		t.Fatalf("OperandDepth() = %d, want 2", f.OperandDepth())
	}
	if got := f.Peek(0).Int32(); got != 2 {
		t.Errorf("Peek(0) = %d, want 2 (top)", got)
	}
	if got := f.Pop().Int32(); got != 2 {
		t.Errorf("Pop() = %d, want 2", got)
	}
	if got := f.Pop().Int32(); got != 1 {
		t.Errorf("Pop() = %d, want 1", got)
	}

	popped := s.PopFrame()
	if popped != f {
		t.Error("PopFrame did not return the pushed frame")
	}
	if s.Depth() != 0 {
		t.Errorf("Depth() after pop = %d, want 0", s.Depth())
	}
}

func TestStackFramesOrderTopFirst(t *testing.T) {
	s := NewStack(64)
	f1 := s.PushFrame(nil, 0, 0)
	f2 := s.PushFrame(nil, 0, 0)
	f3 := s.PushFrame(nil, 0, 0)

	frames := s.Frames()
	if len(frames) != 3 || frames[0] != f3 || frames[1] != f2 || frames[2] != f1 {
		t.Errorf("Frames() order wrong: got %v", frames)
	}
	if f3.Caller != f2 || f2.Caller != f1 || f1.Caller != nil {
		t.Error("Caller linkage wrong")
	}
}

func TestStackAllocatesNewSegmentWhenFull(t *testing.T) {
	s := NewStack(4) // tiny segment height
	f1 := s.PushFrame(nil, 2, 2) // exactly fills the first segment
	seg1 := f1.seg

	f2 := s.PushFrame(nil, 2, 2) // must overflow into a new segment
	if f2.seg == seg1 {
		t.Error("expected a new segment once the first one is full")
	}
	if f2.seg.prev != seg1 {
		t.Error("new segment should link back to the previous one")
	}
}

func TestStackPopFrameReleasesEmptySegment(t *testing.T) {
	s := NewStack(4)
	s.PushFrame(nil, 2, 2)
	f2 := s.PushFrame(nil, 2, 2)
	seg1 := f2.seg.prev

	s.PopFrame() // pops f2, should release its segment back to seg1
	if s.head != seg1 {
		t.Error("expected stack head to revert to the earlier segment")
	}
}

func TestStackScanCellsCoversAllSegments(t *testing.T) {
	s := NewStack(4)
	f1 := s.PushFrame(nil, 2, 2)
	f1.SetLocal(0, CellFromInt32(11))
	f2 := s.PushFrame(nil, 2, 2)
	f2.SetLocal(0, CellFromInt32(22))

	var seen []int32
	s.ScanCells(func(c Cell) { seen = append(seen, c.Int32()) })

	found11, found22 := false, false
	for _, v := range seen {
		if v == 11 {
			found11 = true
		}
		if v == 22 {
			found22 = true
		}
	}
	if !found11 || !found22 {
		t.Errorf("ScanCells missed a live cell: saw %v", seen)
	}
}
