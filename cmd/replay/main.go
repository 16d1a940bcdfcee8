package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "clayformer.ai/internal/persistence/log"
	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/encoding"
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/voxel"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		configDir = flag.String("configs", "./configs", "config directory")
		runID     = flag.String("run", "", "run id to replay")
		formFlag  = flag.String("form", "", "form position x,y,z; replays its last run when -run is empty")
		initial   = flag.String("initial", "", "RLE encoded starting volume (default: empty)")
		snapPath  = flag.String("snapshot", "", "form snapshot taken when the run finished (optional)")
		list      = flag.Bool("list", false, "list runs and exit")
	)
	flag.Parse()

	files, err := persistlog.ListFiles(filepath.Join(*dataDir, "actions"), "actions")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list action logs:", err)
		os.Exit(1)
	}
	runs, err := loadRuns(files)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read action logs:", err)
		os.Exit(1)
	}
	if *list {
		for _, r := range runs {
			fmt.Printf("%s form=%d,%d,%d recipe=%s actions=%d\n", r.RunID, r.Form.X, r.Form.Y, r.Form.Z, r.RecipeID, len(r.Entries))
		}
		return
	}

	var form *voxel.BlockPos
	if *formFlag != "" {
		var p voxel.BlockPos
		if _, err := fmt.Sscanf(strings.TrimSpace(*formFlag), "%d,%d,%d", &p.X, &p.Y, &p.Z); err != nil {
			fmt.Fprintln(os.Stderr, "bad -form:", err)
			os.Exit(2)
		}
		form = &p
	}
	if *runID == "" && form == nil {
		fmt.Fprintln(os.Stderr, "missing -run or -form")
		os.Exit(2)
	}
	run, err := pickRun(runs, *runID, form)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	start := voxel.New()
	if *initial != "" {
		if start, err = encoding.DecodeVolume(*initial); err != nil {
			fmt.Fprintln(os.Stderr, "bad -initial:", err)
			os.Exit(2)
		}
	}
	final, err := replay(run, start)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("run=%s form=%d,%d,%d recipe=%s actions=%d cells=%d key=%s\n",
		run.RunID, run.Form.X, run.Form.Y, run.Form.Z, run.RecipeID, len(run.Entries), final.Filled(), recipecache.Key(final))

	var target *voxel.Volume
	if *snapPath != "" {
		snap, err := snapshot.ReadForm(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		cur, err := encoding.DecodeVolume(snap.Current)
		if err != nil {
			fmt.Fprintln(os.Stderr, "snapshot current:", err)
			os.Exit(1)
		}
		if !final.Equal(cur) {
			fmt.Fprintf(os.Stderr, "replay mismatch: snapshot has %d cells, replay has %d\n", cur.Filled(), final.Filled())
			os.Exit(1)
		}
		fmt.Println("snapshot matches")
	}
	if run.RecipeID != "" {
		cats, err := catalogs.Load(*configDir)
		if err == nil {
			if rec, err := cats.Get(run.RecipeID); err == nil {
				target = rec.Target()
			}
		}
	}
	if target == nil {
		return
	}
	if d := voxel.Mismatches(final, target); d != 0 {
		fmt.Printf("recipe %s: %d cells differ\n", run.RecipeID, d)
		os.Exit(1)
	}
	fmt.Printf("recipe %s: complete\n", run.RecipeID)
}
