package protocol

import (
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
)

// SUBSCRIBE (observer -> server). Empty filters receive everything.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Forms           [][3]int `json:"forms,omitempty"`
	Kinds           []string `json:"kinds,omitempty"`
}

// Wants reports whether ev passes the subscription filters.
func (m SubscribeMsg) Wants(ev EventMsg) bool {
	if len(m.Kinds) > 0 {
		ok := false
		for _, k := range m.Kinds {
			if k == ev.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(m.Forms) == 0 {
		return true
	}
	for _, f := range m.Forms {
		if f == ev.Form {
			return true
		}
	}
	return false
}

// EVENT (server -> observer)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	RunID           string `json:"run_id"`
	Form            [3]int `json:"form"`
	RecipeID        string `json:"recipe_id,omitempty"`
	Key             string `json:"key,omitempty"`
	FromCache       bool   `json:"from_cache,omitempty"`
	Layer           int    `json:"layer"`
	Applied         int    `json:"applied"`
	Vanished        bool   `json:"vanished,omitempty"`
	Status          string `json:"status,omitempty"`
	TS              int64  `json:"ts"`
}

func BlockPos(p voxel.BlockPos) [3]int { return [3]int{p.X, p.Y, p.Z} }

func ToBlockPos(p [3]int) voxel.BlockPos { return voxel.BlockPos{X: p[0], Y: p[1], Z: p[2]} }

// StatusText is the operator-facing line for an event.
func StatusText(ev shaping.Event) string {
	switch ev.Kind {
	case shaping.EventStarted:
		if ev.FromCache {
			return "Shaping (replaying known recipe)"
		}
		return "Shaping"
	case shaping.EventPaused:
		return "Paused: hold clay to continue"
	case shaping.EventSuccess:
		if ev.Vanished {
			return "Done (form removed)"
		}
		return "Done"
	default:
		return ""
	}
}

func FromEvent(ev shaping.Event) EventMsg {
	var ts int64
	if !ev.At.IsZero() {
		ts = ev.At.UnixMilli()
	}
	return EventMsg{
		Type:            TypeEvent,
		ProtocolVersion: Version,
		Kind:            string(ev.Kind),
		RunID:           ev.RunID,
		Form:            BlockPos(ev.Form),
		RecipeID:        ev.RecipeID,
		Key:             ev.Key,
		FromCache:       ev.FromCache,
		Layer:           ev.Layer,
		Applied:         ev.Applied,
		Vanished:        ev.Vanished,
		Status:          StatusText(ev),
		TS:              ts,
	}
}

// STATUS (server -> client)
type StatusMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Cache           *CacheStats    `json:"cache,omitempty"`
	Engines         []EngineStatus `json:"engines"`
}

type CacheStats struct {
	Entries int    `json:"entries"`
	Actions int    `json:"actions"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type EngineStatus struct {
	Form      [3]int `json:"form"`
	RunID     string `json:"run_id"`
	RecipeID  string `json:"recipe_id,omitempty"`
	Phase     string `json:"phase"`
	Layer     int    `json:"layer"`
	FromCache bool   `json:"from_cache,omitempty"`
	Pending   int    `json:"pending"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Plans     int    `json:"plans"`
}

func NewStatus(engines []shaping.Status, cache *recipecache.Stats) StatusMsg {
	m := StatusMsg{Type: TypeStatus, ProtocolVersion: Version, Engines: make([]EngineStatus, 0, len(engines))}
	for _, st := range engines {
		m.Engines = append(m.Engines, EngineStatus{
			Form:      BlockPos(st.Form),
			RunID:     st.RunID,
			RecipeID:  st.RecipeID,
			Phase:     st.Phase,
			Layer:     st.Layer,
			FromCache: st.FromCache,
			Pending:   st.Pending,
			Applied:   st.Applied,
			Skipped:   st.Skipped,
			Plans:     st.Plans,
		})
	}
	if cache != nil {
		m.Cache = &CacheStats{Entries: cache.Entries, Actions: cache.Actions, Hits: cache.Hits, Misses: cache.Misses}
	}
	return m
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

// FormRequest creates or replaces a form and starts shaping it.
type FormRequest struct {
	Pos    [3]int `json:"pos"`
	Recipe string `json:"recipe"`
	// Initial is an RLE encoded starting volume; empty starts from nothing.
	Initial string `json:"initial,omitempty"`
	// Keep reuses the current volume of an existing form.
	Keep bool `json:"keep,omitempty"`
}

type StopRequest struct {
	Pos [3]int `json:"pos"`
}

type OperatorRequest struct {
	Held string `json:"held"`
}
