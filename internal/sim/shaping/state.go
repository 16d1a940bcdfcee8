package shaping

import "clayformer.ai/internal/sim/voxel"

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseExecuting
	PhaseCorrecting
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlanning:
		return "planning"
	case PhaseExecuting:
		return "executing"
	case PhaseCorrecting:
		return "correcting"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// state is the engine's position in the layer walk. layer is -1 while a
// cached sequence replays or before the first plan.
type state struct {
	phase     Phase
	layer     int
	fromCache bool
}

// advance is the single transition function, called whenever the queue is
// empty. It either queues more work or completes the run.
func (e *Engine) advance(cur, tgt *voxel.Volume) {
	switch e.st.phase {
	case PhasePlanning:
		e.nextLayer(cur, tgt)
	case PhaseExecuting:
		if e.st.layer < 0 || voxel.IsLayerComplete(cur, tgt, e.st.layer) {
			e.nextLayer(cur, tgt)
			return
		}
		seq := PlanCorrection(cur, tgt, e.st.layer, e.cfg.Plan)
		e.plans++
		e.st.phase = PhaseCorrecting
		e.queue.Replace(seq)
		e.logf("layer=%d correcting=%d", e.st.layer, len(seq))
	case PhaseCorrecting:
		e.nextLayer(cur, tgt)
	}
}

// nextLayer plans the lowest unfinished layer or completes the run.
func (e *Engine) nextLayer(cur, tgt *voxel.Volume) {
	y, ok := voxel.FirstUnfinishedLayer(cur, tgt)
	if !ok {
		e.complete()
		return
	}
	e.st.phase = PhasePlanning
	e.st.layer = y
	seq := PlanLayer(cur, tgt, y, e.cfg.Plan)
	e.plans++
	e.queue.Replace(seq)
	e.st.phase = PhaseExecuting
	e.logf("layer=%d planned=%d", y, len(seq))
}

func (e *Engine) complete() {
	e.st.phase = PhaseComplete
	if !e.st.fromCache && e.cfg.Cache != nil {
		if e.cfg.Cache.Save(e.key, e.executed) {
			e.logf("cached %d actions key=%s", len(e.executed), shortKey(e.key))
		}
	}
	e.finish(false)
}

func shortKey(k string) string {
	if len(k) > 16 {
		return k[:16]
	}
	return k
}
