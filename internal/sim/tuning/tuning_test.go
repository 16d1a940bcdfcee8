package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_RepoConfig(t *testing.T) {
	tun, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tun != Defaults() {
		t.Fatalf("repo config drifted from defaults: %+v", tun)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	p := writeFile(t, "shaping:\n  max_actions_per_tick: 4\n  material_keyword: porcelain\n")
	tun, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tun.Shaping.MaxActionsPerTick != 4 || tun.Shaping.MaterialKeyword != "porcelain" {
		t.Fatalf("overrides lost: %+v", tun.Shaping)
	}
	if tun.Shaping.CoverThreshold != 0.3 || tun.Shaping.UnwantedPenalty != 2 || tun.TickRateHz != 20 {
		t.Fatalf("defaults lost: %+v", tun)
	}
	pp := tun.Shaping.PlanParams()
	if pp.Cover.Threshold != 0.3 || pp.VerticalCopyMin != 3 || pp.Cover.Strict {
		t.Fatalf("plan params=%+v", pp)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"threshold": "shaping:\n  cover_threshold: 1.5\n",
		"copy_min":  "shaping:\n  vertical_copy_min: 5\n",
		"syntax":    "shaping: [\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOrDefault_Missing(t *testing.T) {
	tun, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if tun != Defaults() {
		t.Fatalf("got %+v want defaults", tun)
	}
	if got := tun.TickInterval().Milliseconds(); got != 50 {
		t.Fatalf("tick interval=%dms want 50", got)
	}
}
