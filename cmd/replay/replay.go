package main

import (
	"fmt"
	"path/filepath"

	persistlog "clayformer.ai/internal/persistence/log"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/internal/sim/workbench"
)

type runLog struct {
	RunID    string
	Form     voxel.BlockPos
	RecipeID string
	Entries  []shaping.ActionLogEntry
}

// loadRuns groups every entry of the given action log files by run, keeping
// the order runs first appear in.
func loadRuns(files []string) ([]*runLog, error) {
	byID := map[string]*runLog{}
	var order []*runLog
	for _, p := range files {
		err := persistlog.ReadActions(p, func(e shaping.ActionLogEntry) error {
			r, ok := byID[e.RunID]
			if !ok {
				r = &runLog{RunID: e.RunID, Form: e.Form, RecipeID: e.RecipeID}
				byID[e.RunID] = r
				order = append(order, r)
			}
			r.Entries = append(r.Entries, e)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return order, nil
}

// pickRun returns the run with runID, or the last run on form when runID is
// empty.
func pickRun(runs []*runLog, runID string, form *voxel.BlockPos) (*runLog, error) {
	var found *runLog
	for _, r := range runs {
		switch {
		case runID != "":
			if r.RunID == runID {
				return r, nil
			}
		case form != nil:
			if r.Form == *form {
				found = r
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no matching run (run=%q form=%v)", runID, form)
	}
	return found, nil
}

// replay applies the run's actions to start in log order. A sequence number
// may restart at 1 when the run was rebound to a new target.
func replay(r *runLog, start *voxel.Volume) (*voxel.Volume, error) {
	v := start.Clone()
	prev := 0
	for _, e := range r.Entries {
		if e.Seq != prev+1 && e.Seq != 1 {
			return nil, fmt.Errorf("run %s: seq %d after %d", r.RunID, e.Seq, prev)
		}
		prev = e.Seq
		workbench.Apply(v, e.Action)
	}
	return v, nil
}
