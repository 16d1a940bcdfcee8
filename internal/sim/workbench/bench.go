// Package workbench hosts clay forms in-process. It implements the host side
// of the shaping engine: form lookup, the action mutator, the held tool and
// the operator.
//
// A Bench is not safe for concurrent use; the server drives it from the tick
// goroutine only.
package workbench

import (
	"errors"
	"sort"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
)

var ErrNoForm = errors.New("workbench: no form at position")

// ToolModePacketID is the client packet id for tool mode changes.
const ToolModePacketID = 27

type ToolModePacket struct {
	ID   int         `json:"id"`
	Mode action.Mode `json:"mode"`
	X    int         `json:"x"`
	Y    int         `json:"y"`
	Z    int         `json:"z"`
}

// Form is one clay form on the bench.
type Form struct {
	Pos      voxel.BlockPos
	recipeID string
	current  *voxel.Volume
	target   *voxel.Volume
	uses     int
}

func (f *Form) Current() *voxel.Volume { return f.current }
func (f *Form) Target() *voxel.Volume  { return f.target }
func (f *Form) RecipeID() string       { return f.recipeID }

// Uses is the number of tool applications the form received.
func (f *Form) Uses() int { return f.uses }

func (f *Form) Done() bool { return f.target != nil && f.current.Equal(f.target) }

type Options struct {
	// ConsumeOnComplete removes a form once it matches its recipe, the way a
	// finished clay form turns into an item.
	ConsumeOnComplete bool
	OnFinished        func(f *Form)
	OnToolMode        func(p ToolModePacket)
}

type Bench struct {
	opts     Options
	forms    map[voxel.BlockPos]*Form
	operator *Operator
	packets  int
}

var (
	_ shaping.Host         = (*Bench)(nil)
	_ shaping.Mutator      = (*Bench)(nil)
	_ shaping.Tool         = (*Bench)(nil)
	_ shaping.ModeReporter = (*Bench)(nil)
)

func New(op *Operator, opts Options) *Bench {
	if op == nil {
		op = NewOperator("operator", "", "")
	}
	return &Bench{opts: opts, forms: map[voxel.BlockPos]*Form{}, operator: op}
}

func (b *Bench) Operator() *Operator { return b.operator }

// Place puts a form at pos, replacing any form there. A nil volume starts
// empty.
func (b *Bench) Place(pos voxel.BlockPos, current *voxel.Volume) *Form {
	if current == nil {
		current = voxel.New()
	}
	f := &Form{Pos: pos, current: current}
	b.forms[pos] = f
	return f
}

// SelectRecipe sets the target of the form at pos. A nil target clears the
// selection.
func (b *Bench) SelectRecipe(pos voxel.BlockPos, recipeID string, target *voxel.Volume) (*Form, error) {
	f, ok := b.forms[pos]
	if !ok {
		return nil, ErrNoForm
	}
	f.recipeID = recipeID
	f.target = target
	return f, nil
}

func (b *Bench) Remove(pos voxel.BlockPos) bool {
	if _, ok := b.forms[pos]; !ok {
		return false
	}
	delete(b.forms, pos)
	return true
}

func (b *Bench) Get(pos voxel.BlockPos) (*Form, bool) {
	f, ok := b.forms[pos]
	return f, ok
}

// FormAt implements shaping.Host.
func (b *Bench) FormAt(pos voxel.BlockPos) (shaping.Form, bool) {
	f, ok := b.forms[pos]
	if !ok {
		return nil, false
	}
	return f, true
}

// Forms lists forms ordered by position.
func (b *Bench) Forms() []*Form {
	out := make([]*Form, 0, len(b.forms))
	for _, f := range b.forms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Pos, out[j].Pos
		if a.X != c.X {
			return a.X < c.X
		}
		if a.Y != c.Y {
			return a.Y < c.Y
		}
		return a.Z < c.Z
	})
	return out
}

// ApplyAction implements shaping.Mutator.
func (b *Bench) ApplyAction(pos voxel.BlockPos, actor string, a action.Action, facing action.Facing) {
	f, ok := b.forms[pos]
	if !ok {
		return
	}
	Apply(f.current, a)
	f.uses++
	if b.opts.ConsumeOnComplete && f.Done() {
		delete(b.forms, pos)
		if b.opts.OnFinished != nil {
			b.opts.OnFinished(f)
		}
	}
}

// SetToolMode implements shaping.Tool: the held item remembers the mode and a
// mode packet goes out.
func (b *Bench) SetToolMode(pos voxel.BlockPos, mode action.Mode) {
	if b.operator.SlotEmpty() {
		return
	}
	b.operator.setToolMode(mode)
	b.packets++
	if b.opts.OnToolMode != nil {
		b.opts.OnToolMode(ToolModePacket{ID: ToolModePacketID, Mode: mode, X: pos.X, Y: pos.Y, Z: pos.Z})
	}
}

// ToolMode implements shaping.ModeReporter.
func (b *Bench) ToolMode() action.Mode {
	if b.operator == nil {
		return action.ModeUnset
	}
	return b.operator.ToolMode()
}

// ToolModePackets counts mode packets sent so far.
func (b *Bench) ToolModePackets() int { return b.packets }

// Apply mutates v the way the tool would. Adding and removing tools set every
// footprint cell; the vertical copy fills cells whose cell below is filled.
func Apply(v *voxel.Volume, a action.Action) {
	for _, c := range a.Footprint() {
		switch {
		case a.Mode == action.ModeVerticalCopy:
			if v.Get(c.X, c.Y-1, c.Z) {
				v.SetAt(c, true)
			}
		case a.Polarity == action.Remove:
			v.SetAt(c, false)
		default:
			v.SetAt(c, true)
		}
	}
}
