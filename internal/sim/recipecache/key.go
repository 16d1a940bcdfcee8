package recipecache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"clayformer.ai/internal/sim/voxel"
)

// PolyHash folds the index of every filled cell, in layer/row/column order,
// into h = h*31 + index.
func PolyHash(v *voxel.Volume) uint64 {
	var h uint64
	for i := 0; i < voxel.Cells; i++ {
		if v.At(voxel.PosFromIndex(i)) {
			h = h*31 + uint64(i)
		}
	}
	return h
}

// Digest is the SHA-256 of the packed bitset.
func Digest(v *voxel.Volume) [sha256.Size]byte {
	words := v.Words()
	var buf [len(words) * 8]byte
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return sha256.Sum256(buf[:])
}

// Key identifies a target shape. The polynomial part is kept for log
// readability; the digest suffix makes distinct shapes distinct keys.
func Key(v *voxel.Volume) string {
	if v == nil {
		return ""
	}
	d := Digest(v)
	return fmt.Sprintf("%016x-%s", PolyHash(v), hex.EncodeToString(d[:]))
}
