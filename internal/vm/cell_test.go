package vm

import (
	"testing"

	"github.com/mabhi256/jovm/internal/heap"
)

func TestCellInt32RoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2147483647, -2147483648} {
		if got := CellFromInt32(v).Int32(); got != v {
			t.Errorf("CellFromInt32(%d).Int32() = %d", v, got)
		}
	}
}

func TestCellInt64RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 9223372036854775807, -9223372036854775808} {
		if got := CellFromInt64(v).Int64(); got != v {
			t.Errorf("CellFromInt64(%d).Int64() = %d", v, got)
		}
	}
}

func TestCellFloat32RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1.5, -1.5, 3.14159} {
		if got := CellFromFloat32(v).Float32(); got != v {
			t.Errorf("CellFromFloat32(%v).Float32() = %v", v, got)
		}
	}
}

func TestCellFloat64RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1.5, -1.5, 2.718281828} {
		if got := CellFromFloat64(v).Float64(); got != v {
			t.Errorf("CellFromFloat64(%v).Float64() = %v", v, got)
		}
	}
}

func TestCellPtrRoundTrip(t *testing.T) {
	p := heap.Ptr(12345)
	if got := CellFromPtr(p).Ptr(); got != p {
		t.Errorf("CellFromPtr(%v).Ptr() = %v", p, got)
	}
}

func TestCellBoolRoundTrip(t *testing.T) {
	if !CellFromBool(true).Bool() {
		t.Error("CellFromBool(true).Bool() = false")
	}
	if CellFromBool(false).Bool() {
		t.Error("CellFromBool(false).Bool() = true")
	}
}

func TestIsLikelyHeapRef(t *testing.T) {
	if IsLikelyHeapRef(CellFromInt32(0), 1024) {
		t.Error("zero cell should never look like a heap ref")
	}
	if !IsLikelyHeapRef(CellFromPtr(heap.Ptr(100)), 1024) {
		t.Error("an in-range nonzero pointer should look like a heap ref")
	}
	if IsLikelyHeapRef(CellFromPtr(heap.Ptr(2000)), 1024) {
		t.Error("an out-of-range value should not look like a heap ref")
	}
}
