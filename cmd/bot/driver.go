package main

import (
	"math/rand"

	"clayformer.ai/internal/protocol"
	"clayformer.ai/internal/sim/shaping"
)

// driver decides what the bot asks for next. It keeps one run going per
// form slot until the run budget is spent.
type driver struct {
	recipes []string
	slots   [][3]int
	budget  int
	rng     *rand.Rand

	started   int
	done      int
	pausedRun map[string]bool
}

type step struct {
	next   *protocol.FormRequest
	refill bool
}

func newDriver(recipes []string, forms, budget int, rng *rand.Rand) *driver {
	if forms <= 0 {
		forms = 1
	}
	d := &driver{recipes: recipes, budget: budget, rng: rng, pausedRun: map[string]bool{}}
	// Forms sit two blocks apart along X so their volumes never overlap.
	for i := 0; i < forms; i++ {
		d.slots = append(d.slots, [3]int{i * 2, 64, 0})
	}
	return d
}

func (d *driver) initial() []protocol.FormRequest {
	out := make([]protocol.FormRequest, 0, len(d.slots))
	for _, p := range d.slots {
		req, ok := d.request(p)
		if !ok {
			break
		}
		out = append(out, req)
	}
	return out
}

func (d *driver) request(pos [3]int) (protocol.FormRequest, bool) {
	if d.budget > 0 && d.started >= d.budget {
		return protocol.FormRequest{}, false
	}
	d.started++
	return protocol.FormRequest{Pos: pos, Recipe: d.recipes[d.rng.Intn(len(d.recipes))]}, true
}

func (d *driver) observe(ev protocol.EventMsg) step {
	switch ev.Kind {
	case string(shaping.EventPaused):
		if d.pausedRun[ev.RunID] {
			return step{}
		}
		d.pausedRun[ev.RunID] = true
		return step{refill: true}
	case string(shaping.EventSuccess):
		delete(d.pausedRun, ev.RunID)
		if !d.owns(ev.Form) {
			return step{}
		}
		d.done++
		if req, ok := d.request(ev.Form); ok {
			return step{next: &req}
		}
	}
	return step{}
}

func (d *driver) owns(p [3]int) bool {
	for _, s := range d.slots {
		if s == p {
			return true
		}
	}
	return false
}

func (d *driver) finished() bool {
	return d.budget > 0 && d.started >= d.budget && d.done >= d.started
}
