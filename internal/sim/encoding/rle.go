package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"clayformer.ai/internal/sim/voxel"
)

// EncodeVolume encodes v as base64(varint runs). Runs alternate between empty
// and filled cells in index order, starting with empty; a volume whose first
// cell is filled begins with a zero-length run.
func EncodeVolume(v *voxel.Volume) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	state := false
	run := 0
	for i := 0; i < voxel.Cells; i++ {
		if v.At(voxel.PosFromIndex(i)) == state {
			run++
			continue
		}
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		state = !state
		run = 1
	}
	n := binary.PutUvarint(tmp[:], uint64(run))
	buf.Write(tmp[:n])

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeVolume(b64 string) (*voxel.Volume, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	v := voxel.New()
	state := false
	idx := 0
	for i := 0; i < len(raw); {
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run > uint64(voxel.Cells-idx) {
			return nil, fmt.Errorf("run of %d overflows volume at cell %d", run, idx)
		}
		if state {
			for k := 0; k < int(run); k++ {
				v.SetAt(voxel.PosFromIndex(idx+k), true)
			}
		}
		idx += int(run)
		state = !state
	}
	if idx != voxel.Cells {
		return nil, fmt.Errorf("volume has %d cells want %d", idx, voxel.Cells)
	}
	return v, nil
}
