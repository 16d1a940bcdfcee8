package voxel

// Mismatch is a cell whose current state differs from the target.
// Fill reports the desired state: true means the cell must be added.
type Mismatch struct {
	Pos  Pos
	Fill bool
}

// DiffLayer lists every mismatched cell of layer y in row-major (x, then z) order.
func DiffLayer(cur, tgt *Volume, y int) []Mismatch {
	if y < 0 || y >= Size {
		return nil
	}
	var out []Mismatch
	for x := 0; x < Size; x++ {
		for z := 0; z < Size; z++ {
			want := tgt.Get(x, y, z)
			if cur.Get(x, y, z) != want {
				out = append(out, Mismatch{Pos: Pos{X: x, Y: y, Z: z}, Fill: want})
			}
		}
	}
	return out
}

// IsLayerComplete reports whether layer y matches the target.
func IsLayerComplete(cur, tgt *Volume, y int) bool {
	if y < 0 || y >= Size {
		return true
	}
	// A layer is four consecutive words.
	base := y << 2
	for i := base; i < base+4; i++ {
		if cur.bits[i] != tgt.bits[i] {
			return false
		}
	}
	return true
}

// FirstUnfinishedLayer returns the lowest layer that still differs.
func FirstUnfinishedLayer(cur, tgt *Volume) (int, bool) {
	for y := 0; y < Size; y++ {
		if !IsLayerComplete(cur, tgt, y) {
			return y, true
		}
	}
	return -1, false
}

// Mismatches counts differing cells across the whole volume.
func Mismatches(cur, tgt *Volume) int {
	n := 0
	for y := 0; y < Size; y++ {
		n += len(DiffLayer(cur, tgt, y))
	}
	return n
}
