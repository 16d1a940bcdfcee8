package workbench

import (
	"strings"
	"sync"

	"clayformer.ai/internal/sim/action"
)

// DefaultMaterialKeyword is matched against the held item code.
const DefaultMaterialKeyword = "clay"

// Operator is the player holding the tool. The held item may be changed from
// other goroutines (admin endpoints), so it is guarded.
type Operator struct {
	id      string
	keyword string

	mu       sync.Mutex
	held     string
	toolMode action.Mode
}

func NewOperator(id, held, keyword string) *Operator {
	if keyword == "" {
		keyword = DefaultMaterialKeyword
	}
	return &Operator{id: id, held: held, keyword: keyword, toolMode: action.ModeUnset}
}

func (o *Operator) ID() string { return o.id }

// Hold replaces the item in the active slot. An empty code empties the slot.
func (o *Operator) Hold(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if code != o.held {
		o.toolMode = action.ModeUnset
	}
	o.held = code
}

func (o *Operator) Held() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held
}

func (o *Operator) SlotEmpty() bool { return o.Held() == "" }

// HasMaterial reports whether the held item is the shaping material.
func (o *Operator) HasMaterial() bool {
	held := o.Held()
	return held != "" && strings.Contains(held, o.keyword)
}

func (o *Operator) ToolMode() action.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.toolMode
}

func (o *Operator) setToolMode(m action.Mode) {
	o.mu.Lock()
	o.toolMode = m
	o.mu.Unlock()
}
