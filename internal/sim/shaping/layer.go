package shaping

import (
	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
)

// PlanParams groups the planner knobs.
type PlanParams struct {
	Cover           CoverParams
	VerticalCopyMin int
}

func DefaultPlanParams() PlanParams {
	return PlanParams{Cover: DefaultCoverParams(), VerticalCopyMin: DefaultVerticalCopyMin}
}

// PlanLayer returns the actions that bring layer y of cur to tgt. Removals
// come first, then vertical copies, then the remaining additions; each stage
// sees the projected effect of the stages before it. cur is not modified.
func PlanLayer(cur, tgt *voxel.Volume, y int, p PlanParams) []action.Action {
	diff := voxel.DiffLayer(cur, tgt, y)
	if len(diff) == 0 {
		return nil
	}
	var adds, removes cellSet
	for _, m := range diff {
		if m.Fill {
			adds.add(m.Pos)
		} else {
			removes.add(m.Pos)
		}
	}

	// Copies only depend on the layer below, so pick them against the
	// untouched projection and emit them after the removals.
	copyWork := &layerWork{y: y, proj: cur.Clone(), tgt: tgt}
	copies := copyWork.verticalCopies(&adds, p.VerticalCopyMin)

	w := &layerWork{y: y, proj: cur.Clone(), tgt: tgt}
	out := w.cover(action.Remove, &removes, p.Cover)
	for _, a := range copies {
		w.apply(a)
	}
	out = append(out, copies...)
	out = append(out, w.cover(action.Add, &adds, p.Cover)...)
	return out
}

// PlanCorrection re-plans the residual of layer y without tolerating
// collateral additions.
func PlanCorrection(cur, tgt *voxel.Volume, y int, p PlanParams) []action.Action {
	p.Cover.Strict = true
	return PlanLayer(cur, tgt, y, p)
}
