// Package archive keeps a copy of every finished form, grouped by recipe.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"clayformer.ai/internal/persistence/snapshot"
)

type Meta struct {
	RecipeID   string `json:"recipe_id"`
	RunID      string `json:"run_id"`
	Form       [3]int `json:"form"`
	Uses       int    `json:"uses"`
	Snapshot   string `json:"snapshot"`
	ArchivedAt string `json:"archived_at"`
}

var safeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ArchiveFinished copies a form snapshot into dataDir/archive/<recipe>/ when
// the form matches its target. It reports the archived path and whether the
// snapshot was archived.
func ArchiveFinished(dataDir, snapshotPath, runID string, snap snapshot.FormV1, now time.Time) (string, bool, error) {
	if snap.Target == "" || snap.Current != snap.Target {
		return "", false, nil
	}
	if runID == "" {
		return "", false, fmt.Errorf("archive: empty run id")
	}
	recipe := snap.RecipeID
	if recipe == "" {
		recipe = "_unnamed"
	}
	dir := filepath.Join(dataDir, "archive", safeName.ReplaceAllString(recipe, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	base := safeName.ReplaceAllString(runID, "_")
	dst := filepath.Join(dir, base+".form.zst")
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		RecipeID:   snap.RecipeID,
		RunID:      runID,
		Form:       snap.Header.Form,
		Uses:       snap.Uses,
		Snapshot:   filepath.Base(dst),
		ArchivedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, base+".json"), b, 0o644)
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
