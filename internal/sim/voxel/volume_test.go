package voxel

import (
	"reflect"
	"testing"
)

func TestVolume_GetSet(t *testing.T) {
	v := New()
	v.Set(3, 7, 15, true)
	if !v.Get(3, 7, 15) {
		t.Fatalf("expected cell set")
	}
	if v.Filled() != 1 {
		t.Fatalf("Filled=%d want 1", v.Filled())
	}
	v.Set(3, 7, 15, false)
	if v.Get(3, 7, 15) || v.Filled() != 0 {
		t.Fatalf("expected cell cleared")
	}

	// Out of range writes are ignored and reads are empty.
	v.Set(-1, 0, 0, true)
	v.Set(16, 0, 0, true)
	if v.Filled() != 0 || v.Get(16, 0, 0) {
		t.Fatalf("out of range access leaked into volume")
	}
}

func TestPos_IndexRoundTrip(t *testing.T) {
	for i := 0; i < Cells; i += 37 {
		p := PosFromIndex(i)
		if !p.InBounds() {
			t.Fatalf("PosFromIndex(%d)=%v out of bounds", i, p)
		}
		if p.Index() != i {
			t.Fatalf("Index(%v)=%d want %d", p, p.Index(), i)
		}
	}
}

func TestDiffLayer_IdempotentAndOrdered(t *testing.T) {
	cur, tgt := New(), New()
	tgt.Set(1, 2, 0, true)
	tgt.Set(0, 2, 5, true)
	cur.Set(4, 2, 4, true)
	cur.Set(9, 3, 9, true)

	a := DiffLayer(cur, tgt, 2)
	b := DiffLayer(cur, tgt, 2)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("diff not idempotent: %v vs %v", a, b)
	}
	want := []Mismatch{
		{Pos: Pos{X: 0, Y: 2, Z: 5}, Fill: true},
		{Pos: Pos{X: 1, Y: 2, Z: 0}, Fill: true},
		{Pos: Pos{X: 4, Y: 2, Z: 4}, Fill: false},
	}
	if !reflect.DeepEqual(a, want) {
		t.Fatalf("diff=%v want %v", a, want)
	}
}

func TestFirstUnfinishedLayer(t *testing.T) {
	cur, tgt := New(), New()
	if _, ok := FirstUnfinishedLayer(cur, tgt); ok {
		t.Fatalf("expected identical volumes to be finished")
	}
	tgt.Set(5, 9, 5, true)
	tgt.Set(0, 4, 0, true)
	y, ok := FirstUnfinishedLayer(cur, tgt)
	if !ok || y != 4 {
		t.Fatalf("FirstUnfinishedLayer=%d,%v want 4,true", y, ok)
	}
	if IsLayerComplete(cur, tgt, 4) || !IsLayerComplete(cur, tgt, 5) {
		t.Fatalf("layer completeness mismatch")
	}
	if Mismatches(cur, tgt) != 2 {
		t.Fatalf("Mismatches=%d want 2", Mismatches(cur, tgt))
	}
}
