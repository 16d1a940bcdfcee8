package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	persistlog "clayformer.ai/internal/persistence/log"
	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/encoding"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/internal/sim/workbench"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rebuild":
			rebuildCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "stop":
			stopCmd(os.Args[2:])
			return
		case "hold":
			holdCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type formRow struct {
	Path     string `json:"path"`
	Form     [3]int `json:"form"`
	RecipeID string `json:"recipe_id,omitempty"`
	Uses     int    `json:"uses"`
	Cells    int    `json:"cells"`
	Left     int    `json:"left"`
	SavedAt  string `json:"saved_at"`
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		row, err := describeForm(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		printJSON(row)
	}
}

func describeForm(path string) (formRow, error) {
	snap, err := snapshot.ReadForm(path)
	if err != nil {
		return formRow{}, err
	}
	cur, err := encoding.DecodeVolume(snap.Current)
	if err != nil {
		return formRow{}, err
	}
	row := formRow{
		Path:     path,
		Form:     snap.Header.Form,
		RecipeID: snap.RecipeID,
		Uses:     snap.Uses,
		Cells:    cur.Filled(),
		SavedAt:  time.Unix(snap.Header.SavedAt, 0).UTC().Format(time.RFC3339),
	}
	if snap.Target != "" {
		tgt, err := encoding.DecodeVolume(snap.Target)
		if err != nil {
			return formRow{}, err
		}
		row.Left = voxel.Mismatches(cur, tgt)
	}
	return row, nil
}

// rebuildCmd recovers a form snapshot by replaying a whole run from its
// action log. The server must not be running.
func rebuildCmd(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	formFlag := fs.String("form", "", "form position x,y,z (required)")
	runID := fs.String("run", "", "run id (required)")
	recipeID := fs.String("recipe", "", "recipe id when the snapshot is missing")
	initial := fs.String("initial", "", "RLE encoded volume the run started from (default: empty)")
	outPath := fs.String("out", "", "output snapshot path (default: the form's snapshot)")
	_ = fs.Parse(args)

	pos, err := parseVec3(*formFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -form:", err)
		os.Exit(2)
	}
	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	form := voxel.BlockPos{X: pos[0], Y: pos[1], Z: pos[2]}

	snapPath := snapshot.Path(*dataDir, form)
	snap, err := snapshot.ReadForm(snapPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		snap = snapshot.FormV1{Header: snapshot.Header{Version: snapshot.Version, Form: pos}, RecipeID: *recipeID}
	}

	start := voxel.New()
	if *initial != "" {
		if start, err = encoding.DecodeVolume(*initial); err != nil {
			fmt.Fprintln(os.Stderr, "bad -initial:", err)
			os.Exit(2)
		}
	}
	files, err := persistlog.ListFiles(filepath.Join(*dataDir, "actions"), "actions")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list action logs:", err)
		os.Exit(1)
	}
	vol, applied, err := rebuild(files, *runID, form, start)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rebuild:", err)
		os.Exit(1)
	}
	if applied == 0 {
		fmt.Println("no matching actions; snapshot left untouched")
		return
	}

	snap.Current = encoding.EncodeVolume(vol)
	snap.Uses = applied
	snap.Header.SavedAt = time.Now().Unix()
	if strings.TrimSpace(*outPath) == "" {
		*outPath = snapPath
	}
	if err := snapshot.WriteForm(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("rebuild ok: form=%s run=%s applied=%d cells=%d out=%s\n",
		*formFlag, *runID, applied, vol.Filled(), *outPath)
}

// rebuild applies every logged action of the run on form to a copy of start.
func rebuild(files []string, runID string, form voxel.BlockPos, start *voxel.Volume) (*voxel.Volume, int, error) {
	v := start.Clone()
	applied := 0
	for _, p := range files {
		err := persistlog.ReadActions(p, func(e shaping.ActionLogEntry) error {
			if e.RunID != runID || e.Form != form {
				return nil
			}
			workbench.Apply(v, e.Action)
			applied++
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return v, applied, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
