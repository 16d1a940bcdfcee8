package shaping

import (
	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
)

// DefaultVerticalCopyMin is how many of the four cells must qualify.
const DefaultVerticalCopyMin = 3

// verticalCopies proposes copy-from-below actions for additions. Anchors are
// visited once in row-major order; cells consumed by an earlier copy are not
// revisited.
func (w *layerWork) verticalCopies(adds *cellSet, minCells int) []action.Action {
	if w.y == 0 || adds.empty() {
		return nil
	}
	if minCells <= 0 {
		minCells = DefaultVerticalCopyMin
	}
	var anchors []voxel.Pos
	for i, ok := range adds.in {
		if ok {
			anchors = append(anchors, voxel.Pos{X: i >> 4, Y: w.y, Z: i & 15})
		}
	}

	var out []action.Action
	for _, anchor := range anchors {
		if !adds.has(anchor) {
			continue
		}
		qualified, ok := w.copyCells(anchor, adds)
		if !ok || len(qualified) < minCells {
			continue
		}
		a := action.Action{Pos: anchor, Mode: action.ModeVerticalCopy, Polarity: action.Add, Covered: qualified}
		for _, c := range qualified {
			adds.remove(c)
		}
		w.apply(a)
		out = append(out, a)
	}
	return out
}

// copyCells returns the cells a copy at anchor would usefully fill. It fails
// when the copy cannot produce the target here: a wanted cell with nothing
// below it, or a filled cell below one that must stay empty.
func (w *layerWork) copyCells(anchor voxel.Pos, adds *cellSet) ([]voxel.Pos, bool) {
	var qualified []voxel.Pos
	for _, c := range action.Footprint(action.ModeVerticalCopy, anchor) {
		below := w.proj.Get(c.X, c.Y-1, c.Z)
		want := w.tgt.At(c)
		switch {
		case want && !below:
			return nil, false
		case !want && below:
			return nil, false
		case want && below && adds.has(c):
			qualified = append(qualified, c)
		}
	}
	return qualified, true
}
