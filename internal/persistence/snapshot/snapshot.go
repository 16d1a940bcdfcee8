package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"clayformer.ai/internal/sim/encoding"
	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/internal/sim/workbench"
)

const Version = 1

const fileSuffix = ".form.zst"

type Header struct {
	Version int    `json:"version"`
	Form    [3]int `json:"form"`
	SavedAt int64  `json:"saved_at"`
}

// FormV1 is one clay form at rest. Volumes are RLE encoded.
type FormV1 struct {
	Header Header `json:"header"`

	RecipeID string `json:"recipe_id,omitempty"`
	Current  string `json:"current"`
	Target   string `json:"target,omitempty"`
	Uses     int    `json:"uses"`
}

func Capture(f *workbench.Form, now time.Time) FormV1 {
	s := FormV1{
		Header: Header{
			Version: Version,
			Form:    [3]int{f.Pos.X, f.Pos.Y, f.Pos.Z},
			SavedAt: now.Unix(),
		},
		RecipeID: f.RecipeID(),
		Current:  encoding.EncodeVolume(f.Current()),
		Uses:     f.Uses(),
	}
	if tgt := f.Target(); tgt != nil {
		s.Target = encoding.EncodeVolume(tgt)
	}
	return s
}

func (s FormV1) Pos() voxel.BlockPos {
	return voxel.BlockPos{X: s.Header.Form[0], Y: s.Header.Form[1], Z: s.Header.Form[2]}
}

// Restore places the form on b, replacing whatever is at its position.
func Restore(b *workbench.Bench, s FormV1) (*workbench.Form, error) {
	if s.Header.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	cur, err := encoding.DecodeVolume(s.Current)
	if err != nil {
		return nil, fmt.Errorf("current: %w", err)
	}
	var tgt *voxel.Volume
	if s.Target != "" {
		if tgt, err = encoding.DecodeVolume(s.Target); err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
	}
	pos := s.Pos()
	b.Place(pos, cur)
	if tgt == nil {
		f, _ := b.Get(pos)
		return f, nil
	}
	return b.SelectRecipe(pos, s.RecipeID, tgt)
}

func Path(dataDir string, pos voxel.BlockPos) string {
	return filepath.Join(dataDir, "forms", fmt.Sprintf("%d_%d_%d%s", pos.X, pos.Y, pos.Z, fileSuffix))
}

// List returns every form snapshot under dataDir, sorted by name.
func List(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, "forms")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// WriteForm writes snap atomically: a temp file is renamed into place.
func WriteForm(path string, snap FormV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap FormV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 32*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadForm(path string) (FormV1, error) {
	var snap FormV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 32*1024)

	// The header line is for tooling; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
