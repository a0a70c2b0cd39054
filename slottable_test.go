package xv6fs

import "testing"

func TestTableGetReusesSlot(t *testing.T) {
	tb := newTable[int](2)
	zero := func(uint32) int { return 0 }
	always := func(*int) bool { return true }

	a, ok := tb.get(1, zero, always)
	if !ok {
		t.Fatalf("get(1) failed")
	}
	b, ok := tb.get(1, zero, always)
	if !ok || a != b {
		t.Fatalf("get(1) twice did not return the same slot")
	}
	tb.release(a)
	tb.release(b)
}

func TestTableEvictsUnreferenced(t *testing.T) {
	tb := newTable[int](1)
	zero := func(uint32) int { return 0 }
	always := func(*int) bool { return true }

	a, ok := tb.get(1, zero, always)
	if !ok {
		t.Fatalf("get(1) failed")
	}
	tb.release(a)

	b, ok := tb.get(2, zero, always)
	if !ok {
		t.Fatalf("get(2) failed to evict unreferenced slot 1")
	}
	tb.release(b)

	if tb.size() != 1 {
		t.Fatalf("table size = %d, want 1", tb.size())
	}
}

func TestTableFullWhenNothingEvictable(t *testing.T) {
	tb := newTable[int](1)
	zero := func(uint32) int { return 0 }
	never := func(*int) bool { return false }

	a, ok := tb.get(1, zero, never)
	if !ok {
		t.Fatalf("get(1) failed")
	}
	tb.release(a)

	_, ok = tb.get(2, zero, never)
	if ok {
		t.Fatalf("get(2) should have failed: no evictable slot")
	}
}

func TestTableNeverEvictsReferenced(t *testing.T) {
	tb := newTable[int](1)
	zero := func(uint32) int { return 0 }
	always := func(*int) bool { return true }

	a, ok := tb.get(1, zero, always)
	if !ok {
		t.Fatalf("get(1) failed")
	}

	_, ok = tb.get(2, zero, always)
	if ok {
		t.Fatalf("get(2) should have failed: slot 1 still externally referenced")
	}
	tb.release(a)
}
