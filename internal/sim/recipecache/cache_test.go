package recipecache

import (
	"reflect"
	"sync"
	"testing"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
)

func TestCache_RoundTripAndFirstWriterWins(t *testing.T) {
	c := New()
	seq := []action.Action{
		{Pos: voxel.Pos{X: 1, Y: 0, Z: 1}, Mode: action.ModeSmall, Polarity: action.Add,
			Covered: []voxel.Pos{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}}},
		{Pos: voxel.Pos{X: 5, Y: 3, Z: 5}, Mode: action.ModeSingle, Polarity: action.Remove},
	}
	if _, ok := c.TryGet("k"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if !c.Save("k", seq) {
		t.Fatalf("first Save should store")
	}
	got, ok := c.TryGet("k")
	if !ok || !reflect.DeepEqual(got, seq) {
		t.Fatalf("TryGet=%v,%v want %v", got, ok, seq)
	}

	// Mutating the caller's slices must not affect the stored entry.
	seq[0].Covered[0] = voxel.Pos{X: 9, Y: 9, Z: 9}
	got[1].Mode = action.ModeLarge
	again, _ := c.TryGet("k")
	if again[0].Covered[0] != (voxel.Pos{}) || again[1].Mode != action.ModeSingle {
		t.Fatalf("stored entry was aliased: %v", again)
	}

	if c.Save("k", []action.Action{{Mode: action.ModeLarge}}) {
		t.Fatalf("second Save for the same key should be rejected")
	}
	if c.Save("empty", nil) {
		t.Fatalf("empty sequences are not cached")
	}
	s := c.Stats()
	if s.Entries != 1 || s.Actions != 2 || s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestCache_ConcurrentSave(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	stored := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Save("shared", []action.Action{{Pos: voxel.Pos{X: i}}}) {
				stored <- i
			}
		}(i)
	}
	wg.Wait()
	close(stored)
	n := 0
	for range stored {
		n++
	}
	if n != 1 {
		t.Fatalf("stored %d times want 1", n)
	}
}

func TestKey_Deterministic(t *testing.T) {
	a, b := voxel.New(), voxel.New()
	a.Set(1, 2, 3, true)
	a.Set(4, 5, 6, true)
	b.Set(4, 5, 6, true)
	b.Set(1, 2, 3, true)
	if Key(a) != Key(b) {
		t.Fatalf("same shape produced different keys")
	}
	b.Set(0, 0, 0, true)
	if Key(a) == Key(b) {
		t.Fatalf("different shapes produced the same key")
	}
	if Key(nil) != "" {
		t.Fatalf("nil volume should have an empty key")
	}
}

func TestPolyHash(t *testing.T) {
	v := voxel.New()
	v.Set(0, 0, 1, true) // index 1
	v.Set(0, 1, 0, true) // index 256
	want := uint64(1)*31 + 256
	if got := PolyHash(v); got != want {
		t.Fatalf("PolyHash=%d want %d", got, want)
	}
}
