package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestMetrics_CountsEventsAndActions(t *testing.T) {
	m := New()
	cache := recipecache.New()
	m.WatchCache(cache)
	m.WatchGauge("engines_active", "Running engines.", func() float64 { return 3 })

	m.Emit(shaping.Event{Kind: shaping.EventStarted})
	m.Emit(shaping.Event{Kind: shaping.EventStarted})
	m.Emit(shaping.Event{Kind: shaping.EventSuccess})
	m.Emit(shaping.Event{Kind: shaping.EventSuccess, FromCache: true})
	m.Emit(shaping.Event{Kind: shaping.EventSuccess, Vanished: true})
	_ = m.WriteAction(shaping.ActionLogEntry{Action: action.Action{
		Mode: action.ModeLarge, Covered: make([]voxel.Pos, 7),
	}})
	_ = m.WriteAction(shaping.ActionLogEntry{Action: action.Action{
		Mode: action.ModeSingle, Polarity: action.Remove, Covered: make([]voxel.Pos, 1),
	}})
	m.ToolModeSwitched(action.ModeLarge)
	m.ToolModeSwitched(action.ModeLarge)
	cache.Save("k", []action.Action{{Mode: action.ModeSingle}})
	cache.TryGet("k")
	cache.TryGet("missing")

	body := scrape(t, m)
	for _, want := range []string{
		`clayformer_events_total{kind="started"} 2`,
		`clayformer_events_total{kind="success"} 3`,
		`clayformer_runs_finished_total{source="planned"} 1`,
		`clayformer_runs_finished_total{source="cache"} 1`,
		`clayformer_runs_finished_total{source="vanished"} 1`,
		`clayformer_actions_applied_total{mode="large",polarity="add"} 1`,
		`clayformer_actions_applied_total{mode="single",polarity="remove"} 1`,
		`clayformer_cells_covered_total 8`,
		`clayformer_cache_entries 1`,
		`clayformer_cache_hits_total 1`,
		`clayformer_cache_misses_total 1`,
		`clayformer_engines_active 3`,
		`clayformer_tool_mode_switches_total{mode="large"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
