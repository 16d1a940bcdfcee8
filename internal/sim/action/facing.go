package action

import "clayformer.ai/internal/sim/voxel"

// Facing is the block face a single-cell action is applied from.
type Facing int

const (
	North Facing = iota // -Z
	East                // +X
	South               // +Z
	West                // -X
	Up                  // +Y
	Down                // -Y
)

func (f Facing) String() string {
	return [...]string{"north", "east", "south", "west", "up", "down"}[f]
}

// FacingFor picks the face whose grid boundary is closest to p.
// Ties resolve in declaration order.
func FacingFor(p voxel.Pos) Facing {
	dist := [...]int{
		North: p.Z,
		East:  voxel.Size - 1 - p.X,
		South: voxel.Size - 1 - p.Z,
		West:  p.X,
		Up:    voxel.Size - 1 - p.Y,
		Down:  p.Y,
	}
	best := North
	for f := East; f <= Down; f++ {
		if dist[f] < dist[best] {
			best = f
		}
	}
	return best
}

// FacingOf returns the facing the executor uses for a.
func FacingOf(a Action) Facing {
	if a.Mode != ModeSingle {
		return North
	}
	return FacingFor(a.Pos)
}
