package shaping

import (
	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
)

// CoverParams tunes the greedy coverage selection.
type CoverParams struct {
	// Threshold is the efficiency a multi-cell action must exceed.
	Threshold float64
	// Penalty weighs each unwanted cell against covered ones.
	Penalty float64
	// Strict vetoes additions with any unwanted cell (correction passes).
	Strict bool
}

func DefaultCoverParams() CoverParams {
	return CoverParams{Threshold: 0.3, Penalty: 2}
}

// cellSet is the set of cells still to change in one layer, indexed x<<4|z.
type cellSet struct {
	in [voxel.Size * voxel.Size]bool
	n  int
}

func cellIndex(x, z int) int { return x<<4 | z }

func (s *cellSet) add(p voxel.Pos) {
	i := cellIndex(p.X, p.Z)
	if !s.in[i] {
		s.in[i] = true
		s.n++
	}
}

func (s *cellSet) has(p voxel.Pos) bool { return s.in[cellIndex(p.X, p.Z)] }

func (s *cellSet) remove(p voxel.Pos) {
	i := cellIndex(p.X, p.Z)
	if s.in[i] {
		s.in[i] = false
		s.n--
	}
}

func (s *cellSet) empty() bool { return s.n == 0 }

// first returns the lowest remaining cell in row-major order.
func (s *cellSet) first(y int) (voxel.Pos, bool) {
	for i, ok := range s.in {
		if ok {
			return voxel.Pos{X: i >> 4, Y: y, Z: i & 15}, true
		}
	}
	return voxel.Pos{}, false
}

type candidate struct {
	pos        voxel.Pos
	mode       action.Mode
	covered    []voxel.Pos
	unwanted   int
	efficiency float64
}

// layerWork is the planner's view of one layer: the projected state after
// actions already planned, the target, and the cells left to change.
type layerWork struct {
	y    int
	proj *voxel.Volume
	tgt  *voxel.Volume
}

// unwanted reports whether applying pol at c would push it away from the target.
func (w *layerWork) unwanted(c voxel.Pos, pol action.Polarity) bool {
	filled, want := w.proj.At(c), w.tgt.At(c)
	if pol == action.Add {
		return !filled && !want
	}
	return filled && want
}

// apply records a planned action in the projection.
func (w *layerWork) apply(a action.Action) {
	switch a.Mode {
	case action.ModeVerticalCopy:
		for _, c := range a.Footprint() {
			if w.proj.Get(c.X, c.Y-1, c.Z) {
				w.proj.SetAt(c, true)
			}
		}
	default:
		for _, c := range a.Footprint() {
			w.proj.SetAt(c, a.Polarity == action.Add)
		}
	}
}

func (w *layerWork) evaluate(anchor voxel.Pos, mode action.Mode, pol action.Polarity, remaining *cellSet, p CoverParams) candidate {
	cand := candidate{pos: anchor, mode: mode}
	for _, c := range action.Footprint(mode, anchor) {
		switch {
		case remaining.has(c):
			cand.covered = append(cand.covered, c)
		case w.unwanted(c, pol):
			cand.unwanted++
		}
	}
	covered, unwanted := len(cand.covered), cand.unwanted
	switch {
	case pol == action.Remove && unwanted > 0:
		return cand
	case pol == action.Add && unwanted > covered:
		return cand
	case pol == action.Add && p.Strict && unwanted > 0:
		return cand
	}
	cand.efficiency = (float64(covered) - p.Penalty*float64(unwanted)) / float64(mode.Area())
	return cand
}

// cover greedily turns remaining into actions of polarity pol. Every
// iteration rescans all anchors since each pick changes the unwanted counts.
func (w *layerWork) cover(pol action.Polarity, remaining *cellSet, p CoverParams) []action.Action {
	var out []action.Action
	for !remaining.empty() {
		var best candidate
		found := false
		for i, ok := range remaining.in {
			if !ok {
				continue
			}
			anchor := voxel.Pos{X: i >> 4, Y: w.y, Z: i & 15}
			for _, mode := range [...]action.Mode{action.ModeLarge, action.ModeSmall} {
				c := w.evaluate(anchor, mode, pol, remaining, p)
				if !found || c.efficiency > best.efficiency {
					best, found = c, true
				}
			}
		}

		var a action.Action
		if found && best.efficiency > p.Threshold && len(best.covered) > 1 {
			a = action.Action{Pos: best.pos, Mode: best.mode, Polarity: pol, Covered: best.covered}
		} else {
			cell, _ := remaining.first(w.y)
			a = action.Action{Pos: cell, Mode: action.ModeSingle, Polarity: pol, Covered: []voxel.Pos{cell}}
		}
		for _, c := range a.Covered {
			remaining.remove(c)
		}
		w.apply(a)
		out = append(out, a)
	}
	return out
}
