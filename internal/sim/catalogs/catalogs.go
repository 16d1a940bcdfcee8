package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/schemas"
)

var ErrUnknownRecipe = errors.New("catalogs: unknown recipe")

const (
	cellFilled = '#'
	cellEmpty  = '.'
)

// RecipeDef is a recipe file as stored on disk. Layers run bottom-up; each
// layer has one string per x row with one character per z column.
type RecipeDef struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Output string     `json:"output,omitempty"`
	Layers [][]string `json:"layers"`
}

// Recipe is a parsed recipe with its target volume.
type Recipe struct {
	Def    RecipeDef
	Digest string
	target *voxel.Volume
}

func (r *Recipe) ID() string { return r.Def.ID }

// Target returns a copy of the recipe volume.
func (r *Recipe) Target() *voxel.Volume { return r.target.Clone() }

func (r *Recipe) Cells() int { return r.target.Filled() }

type RecipeCatalog struct {
	ByID   map[string]*Recipe
	Digest string
}

func (c *RecipeCatalog) Get(id string) (*Recipe, error) {
	r, ok := c.ByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipe, id)
	}
	return r, nil
}

func (c *RecipeCatalog) IDs() []string {
	ids := make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads every recipes/*.json file under configDir, validating each
// against the recipe schema. A missing recipes directory yields an empty
// catalog.
func Load(configDir string) (*RecipeCatalog, error) {
	schema, err := schemas.Compile("recipe.schema.json")
	if err != nil {
		return nil, err
	}
	return loadRecipes(filepath.Join(configDir, "recipes"), schema)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadRecipes(dir string, schema *jsonschema.Schema) (*RecipeCatalog, error) {
	out := &RecipeCatalog{ByID: map[string]*Recipe{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return out, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		r, err := ParseRecipe(b, schema)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", filepath.Base(p), err)
		}
		if _, dup := out.ByID[r.ID()]; dup {
			return nil, fmt.Errorf("recipe %s: duplicate id %q", filepath.Base(p), r.ID())
		}
		out.ByID[r.ID()] = r
	}
	out.Digest = sha256Hex(concat.Bytes())
	return out, nil
}

// ParseRecipe validates raw against schema (when non-nil) and builds the
// target volume.
func ParseRecipe(raw []byte, schema *jsonschema.Schema) (*Recipe, error) {
	if schema != nil {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if err := schema.Validate(doc); err != nil {
			return nil, err
		}
	}
	var def RecipeDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	if def.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	v, err := volumeFromLayers(def.Layers)
	if err != nil {
		return nil, err
	}
	return &Recipe{Def: def, Digest: sha256Hex(raw), target: v}, nil
}

func volumeFromLayers(layers [][]string) (*voxel.Volume, error) {
	if len(layers) > voxel.Size {
		return nil, fmt.Errorf("%d layers, max %d", len(layers), voxel.Size)
	}
	v := voxel.New()
	for y, rows := range layers {
		if len(rows) != voxel.Size {
			return nil, fmt.Errorf("layer %d: %d rows want %d", y, len(rows), voxel.Size)
		}
		for x, row := range rows {
			if len(row) != voxel.Size {
				return nil, fmt.Errorf("layer %d row %d: %d columns want %d", y, x, len(row), voxel.Size)
			}
			for z := 0; z < voxel.Size; z++ {
				switch row[z] {
				case cellFilled:
					v.Set(x, y, z, true)
				case cellEmpty:
				default:
					return nil, fmt.Errorf("layer %d row %d: bad cell %q", y, x, row[z])
				}
			}
		}
	}
	return v, nil
}

// Layers renders v in recipe form, dropping empty top layers.
func Layers(v *voxel.Volume) [][]string {
	top := -1
	for y := 0; y < voxel.Size; y++ {
		for x := 0; x < voxel.Size && top < y; x++ {
			for z := 0; z < voxel.Size; z++ {
				if v.Get(x, y, z) {
					top = y
					break
				}
			}
		}
	}
	out := make([][]string, top+1)
	for y := 0; y <= top; y++ {
		rows := make([]string, voxel.Size)
		for x := 0; x < voxel.Size; x++ {
			var b strings.Builder
			for z := 0; z < voxel.Size; z++ {
				if v.Get(x, y, z) {
					b.WriteByte(cellFilled)
				} else {
					b.WriteByte(cellEmpty)
				}
			}
			rows[x] = b.String()
		}
		out[y] = rows
	}
	return out
}
