// Package action defines the tool actions the shaping engine emits and the
// footprint each tool mode covers.
package action

import (
	"fmt"

	"clayformer.ai/internal/sim/voxel"
)

// Mode is the tool mode value sent to the held tool.
type Mode int

const (
	ModeSingle Mode = iota
	ModeSmall
	ModeLarge
	ModeVerticalCopy
)

// ModeUnset forces the first tool mode switch of a run.
const ModeUnset Mode = -1

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeSmall:
		return "small"
	case ModeLarge:
		return "large"
	case ModeVerticalCopy:
		return "vertical_copy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Area is the nominal footprint size used for efficiency scoring.
func (m Mode) Area() int {
	switch m {
	case ModeSmall, ModeVerticalCopy:
		return 4
	case ModeLarge:
		return 9
	default:
		return 1
	}
}

type Polarity int

const (
	Add Polarity = iota
	Remove
)

func (p Polarity) String() string {
	if p == Remove {
		return "remove"
	}
	return "add"
}

// Action is one tool application. Covered lists the cells it was planned to
// change; the tool itself affects Footprint().
type Action struct {
	Pos      voxel.Pos   `json:"pos"`
	Mode     Mode        `json:"mode"`
	Polarity Polarity    `json:"polarity"`
	Covered  []voxel.Pos `json:"covered,omitempty"`
}

func (a Action) Removing() bool { return a.Polarity == Remove }

// Footprint returns the in-bounds cells the tool touches.
func (a Action) Footprint() []voxel.Pos {
	return Footprint(a.Mode, a.Pos)
}

// Pending reports whether applying a would still change something the target
// asks for. Stale actions are skipped by the executor.
func (a Action) Pending(cur, tgt *voxel.Volume) bool {
	cells := a.Covered
	if len(cells) == 0 {
		cells = []voxel.Pos{a.Pos}
	}
	for _, c := range cells {
		if cur.At(c) != tgt.At(c) {
			return true
		}
	}
	return false
}

// Clone deep-copies Covered.
func (a Action) Clone() Action {
	if a.Covered != nil {
		a.Covered = append([]voxel.Pos(nil), a.Covered...)
	}
	return a
}

func CloneAll(in []Action) []Action {
	if in == nil {
		return nil
	}
	out := make([]Action, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// Footprint returns the cells a tool in mode m anchored at p touches, clipped
// to the volume. The 2x2 shapes use p as the high corner.
func Footprint(m Mode, p voxel.Pos) []voxel.Pos {
	var x0, x1, z0, z1 int
	switch m {
	case ModeSmall, ModeVerticalCopy:
		x0, x1, z0, z1 = p.X-1, p.X, p.Z-1, p.Z
	case ModeLarge:
		x0, x1, z0, z1 = p.X-1, p.X+1, p.Z-1, p.Z+1
	default:
		if !p.InBounds() {
			return nil
		}
		return []voxel.Pos{p}
	}
	out := make([]voxel.Pos, 0, (x1-x0+1)*(z1-z0+1))
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			c := voxel.Pos{X: x, Y: p.Y, Z: z}
			if c.InBounds() {
				out = append(out, c)
			}
		}
	}
	return out
}
