package shaping

import (
	"time"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
)

type EventKind string

const (
	EventStarted EventKind = "started"
	EventPaused  EventKind = "paused"
	EventSuccess EventKind = "success"
)

// Event is raised to the host. Status text is the host's business.
type Event struct {
	Kind      EventKind      `json:"kind"`
	RunID     string         `json:"run_id"`
	Form      voxel.BlockPos `json:"form"`
	RecipeID  string         `json:"recipe_id,omitempty"`
	Key       string         `json:"key,omitempty"`
	FromCache bool           `json:"from_cache,omitempty"`
	Layer     int            `json:"layer"`
	Applied   int            `json:"applied"`
	// Vanished is set on success when the form disappeared mid-run.
	Vanished bool      `json:"vanished,omitempty"`
	At       time.Time `json:"at"`
}

type EventSink interface {
	Emit(Event)
}

// ActionLogEntry is one applied action as written to the action log.
type ActionLogEntry struct {
	RunID    string         `json:"run_id"`
	Form     voxel.BlockPos `json:"form"`
	RecipeID string         `json:"recipe_id,omitempty"`
	Seq      int            `json:"seq"`
	Layer    int            `json:"layer"`
	Facing   action.Facing  `json:"facing"`
	Action   action.Action  `json:"action"`
}

type ActionLogger interface {
	WriteAction(ActionLogEntry) error
}

// MultiSink fans events out to several sinks, skipping nil ones.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// MultiActionLogger writes to every logger, returning the first error.
type MultiActionLogger []ActionLogger

func (m MultiActionLogger) WriteAction(e ActionLogEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteAction(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
