package voxel

import "math/bits"

// Size is the edge length of a form volume.
const Size = 16

// Cells is the number of cells in a volume.
const Cells = Size * Size * Size

// Pos is a cell coordinate inside a volume. Y is the layer.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) InBounds() bool {
	return p.X >= 0 && p.X < Size && p.Y >= 0 && p.Y < Size && p.Z >= 0 && p.Z < Size
}

// Index is the linear cell index in layer, row, column order.
func (p Pos) Index() int {
	return p.Y<<8 | p.X<<4 | p.Z
}

func PosFromIndex(i int) Pos {
	return Pos{X: (i >> 4) & 15, Y: (i >> 8) & 15, Z: i & 15}
}

// BlockPos is the world position of a form.
type BlockPos struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Volume is a 16x16x16 bitset. The zero value is an empty volume.
type Volume struct {
	bits [Cells / 64]uint64
}

func New() *Volume { return &Volume{} }

func (v *Volume) Get(x, y, z int) bool {
	if uint(x) >= Size || uint(y) >= Size || uint(z) >= Size {
		return false
	}
	i := y<<8 | x<<4 | z
	return v.bits[i>>6]&(1<<(uint(i)&63)) != 0
}

func (v *Volume) At(p Pos) bool { return v.Get(p.X, p.Y, p.Z) }

// Set is a no-op outside the grid.
func (v *Volume) Set(x, y, z int, filled bool) {
	if uint(x) >= Size || uint(y) >= Size || uint(z) >= Size {
		return
	}
	i := y<<8 | x<<4 | z
	if filled {
		v.bits[i>>6] |= 1 << (uint(i) & 63)
	} else {
		v.bits[i>>6] &^= 1 << (uint(i) & 63)
	}
}

func (v *Volume) SetAt(p Pos, filled bool) { v.Set(p.X, p.Y, p.Z, filled) }

func (v *Volume) Clone() *Volume {
	c := *v
	return &c
}

func (v *Volume) Equal(o *Volume) bool {
	if v == nil || o == nil {
		return v == o
	}
	return v.bits == o.bits
}

// Filled returns the number of filled cells.
func (v *Volume) Filled() int {
	n := 0
	for _, w := range v.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Words exposes the packed representation (index order, little-endian bits).
func (v *Volume) Words() [Cells / 64]uint64 { return v.bits }

func FromWords(w [Cells / 64]uint64) *Volume { return &Volume{bits: w} }

// Fill sets every cell of the axis-aligned box [min,max] (inclusive, clipped).
func (v *Volume) Fill(min, max Pos, filled bool) {
	for y := min.Y; y <= max.Y; y++ {
		for x := min.X; x <= max.X; x++ {
			for z := min.Z; z <= max.Z; z++ {
				v.Set(x, y, z, filled)
			}
		}
	}
}
