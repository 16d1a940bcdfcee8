package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/internal/sim/workbench"
)

func TestForm_WriteReadRestore(t *testing.T) {
	dir := t.TempDir()
	b := workbench.New(nil, workbench.Options{})
	pos := voxel.BlockPos{X: -4, Y: 70, Z: 12}
	cur := voxel.New()
	cur.Fill(voxel.Pos{}, voxel.Pos{X: 3, Y: 1, Z: 3}, true)
	b.Place(pos, cur)
	tgt := voxel.New()
	tgt.Fill(voxel.Pos{}, voxel.Pos{X: 5, Y: 2, Z: 5}, true)
	if _, err := b.SelectRecipe(pos, "crock", tgt); err != nil {
		t.Fatalf("SelectRecipe: %v", err)
	}
	b.ApplyAction(pos, "op", action.Action{Pos: voxel.Pos{X: 5, Y: 0, Z: 5}, Mode: action.ModeSingle}, action.North)
	f, _ := b.Get(pos)

	path := Path(dir, pos)
	if err := WriteForm(path, Capture(f, time.Unix(1700000000, 0))); err != nil {
		t.Fatalf("WriteForm: %v", err)
	}
	files, err := List(dir)
	if err != nil || len(files) != 1 || files[0] != path {
		t.Fatalf("List=%v err=%v", files, err)
	}

	snap, err := ReadForm(path)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	if snap.Header.Version != Version || snap.Pos() != pos || snap.Uses != 1 || snap.Header.SavedAt != 1700000000 {
		t.Fatalf("snap=%+v", snap)
	}

	b2 := workbench.New(nil, workbench.Options{})
	got, err := Restore(b2, snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !got.Current().Equal(f.Current()) || !got.Target().Equal(tgt) || got.RecipeID() != "crock" {
		t.Fatalf("restored form differs")
	}
}

func TestForm_NoTarget(t *testing.T) {
	b := workbench.New(nil, workbench.Options{})
	pos := voxel.BlockPos{X: 1}
	f := b.Place(pos, nil)
	snap := Capture(f, time.Now())
	if snap.Target != "" {
		t.Fatalf("target encoded for a form without recipe")
	}
	got, err := Restore(workbench.New(nil, workbench.Options{}), snap)
	if err != nil || got.Target() != nil {
		t.Fatalf("Restore: form=%v err=%v", got, err)
	}

	snap.Header.Version = 9
	if _, err := Restore(b, snap); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestList_MissingDir(t *testing.T) {
	files, err := List(filepath.Join(t.TempDir(), "none"))
	if err != nil || len(files) != 0 {
		t.Fatalf("List=%v err=%v", files, err)
	}
}
