package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/schemas"
)

func TestLoad_RepoRecipes(t *testing.T) {
	cat, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"bowl", "brick", "crock"} {
		r, err := cat.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if r.Cells() == 0 {
			t.Fatalf("%s: empty target", id)
		}
	}
	if cat.Digest == "" {
		t.Fatalf("missing digest")
	}
	if _, err := cat.Get("vase"); !errors.Is(err, ErrUnknownRecipe) {
		t.Fatalf("Get(vase) err=%v want ErrUnknownRecipe", err)
	}
}

func TestRecipe_TargetIsACopy(t *testing.T) {
	v := voxel.New()
	v.Fill(voxel.Pos{X: 1, Y: 0, Z: 1}, voxel.Pos{X: 2, Y: 1, Z: 2}, true)
	raw := []byte(`{"id":"tiny","layers":` + layersJSON(v) + `}`)
	r, err := ParseRecipe(raw, nil)
	if err != nil {
		t.Fatalf("ParseRecipe: %v", err)
	}
	got := r.Target()
	if !got.Equal(v) {
		t.Fatalf("target mismatch")
	}
	got.Set(0, 0, 0, true)
	if r.Target().Get(0, 0, 0) {
		t.Fatalf("mutating a target leaked into the catalog")
	}
}

func TestParseRecipe_SchemaRejects(t *testing.T) {
	s, err := schemas.Compile("recipe.schema.json")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	row := strings.Repeat(".", 16)
	layer := `["` + strings.Repeat(row+`","`, 15) + row + `"]`
	cases := map[string]string{
		"missing_id":  `{"layers":[` + layer + `]}`,
		"bad_char":    `{"id":"x","layers":[["` + strings.Repeat("x", 16) + `"]]}`,
		"short_layer": `{"id":"x","layers":[["` + row + `"]]}`,
		"extra_field": `{"id":"x","layers":[` + layer + `],"glaze":"red"}`,
	}
	for name, raw := range cases {
		if _, err := ParseRecipe([]byte(raw), s); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ParseRecipe([]byte(`{"id":"ok","layers":[`+layer+`]}`), s); err != nil {
		t.Fatalf("valid recipe rejected: %v", err)
	}
}

func TestLoad_MissingDirAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	cat, err := Load(dir)
	if err != nil || len(cat.ByID) != 0 {
		t.Fatalf("missing dir: cat=%v err=%v", cat, err)
	}

	rdir := filepath.Join(dir, "recipes")
	if err := os.MkdirAll(rdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	v := voxel.New()
	v.Set(3, 0, 3, true)
	body := []byte(`{"id":"dot","layers":` + layersJSON(v) + `}`)
	for _, name := range []string{"a.json", "b.json"} {
		if err := os.WriteFile(filepath.Join(rdir, name), body, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err=%v want duplicate id", err)
	}
}

func layersJSON(v *voxel.Volume) string {
	var b strings.Builder
	b.WriteByte('[')
	for y, rows := range Layers(v) {
		if y > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`["` + strings.Join(rows, `","`) + `"]`)
	}
	b.WriteByte(']')
	return b.String()
}
