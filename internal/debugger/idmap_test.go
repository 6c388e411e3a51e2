package debugger

import "testing"

func TestIDMapPutIsIdempotentPerValue(t *testing.T) {
	m := NewIDMap[string]()
	id1 := m.Put("a")
	id2 := m.Put("b")
	id3 := m.Put("a")
	if id1 != id3 {
		t.Errorf("Put(\"a\") twice returned different ids: %d, %d", id1, id3)
	}
	if id1 == id2 {
		t.Error("distinct values must get distinct ids")
	}
}

func TestIDMapLookupRoundTrip(t *testing.T) {
	m := NewIDMap[string]()
	id := m.Put("x")

	v, ok := m.Lookup(id)
	if !ok || v != "x" {
		t.Errorf("Lookup(%d) = %q, %v, want x, true", id, v, ok)
	}
	gotID, ok := m.LookupValue("x")
	if !ok || gotID != id {
		t.Errorf("LookupValue(x) = %d, %v, want %d, true", gotID, ok, id)
	}
}

func TestIDMapRemoveFreesBothDirections(t *testing.T) {
	m := NewIDMap[string]()
	id := m.Put("x")
	m.Remove(id)

	if _, ok := m.Lookup(id); ok {
		t.Error("Lookup should fail after Remove")
	}
	if _, ok := m.LookupValue("x"); ok {
		t.Error("LookupValue should fail after Remove")
	}
}

func TestIDMapRemoveThenReputGetsFreshID(t *testing.T) {
	m := NewIDMap[string]()
	id1 := m.Put("x")
	m.Remove(id1)
	id2 := m.Put("x")
	if id2 == id1 {
		t.Error("a removed id must not be silently reused by coincidence of value equality alone")
	}
}

func TestIDMapStartsAtOne(t *testing.T) {
	m := NewIDMap[int]()
	if id := m.Put(100); id != 1 {
		t.Errorf("first Put id = %d, want 1", id)
	}
}
