package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clayformer.ai/internal/persistence/indexdb"
	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/protocol"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/tuning"
	"clayformer.ai/internal/sim/voxel"
	"clayformer.ai/internal/sim/workbench"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

type testServer struct {
	app  *app
	http *httptest.Server
	data string
	stop func()
}

func newTestServer(t *testing.T, bench workbench.BenchFile, withIndex bool) *testServer {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	data := t.TempDir()
	var idx runtimeIndex
	if withIndex {
		sq, err := indexdb.OpenSQLite(filepath.Join(data, "index", "bench.sqlite"), 1024)
		if err != nil {
			t.Fatalf("open index: %v", err)
		}
		idx = sq
	}
	tune := tuning.Defaults()
	tune.TickRateHz = 200

	a := newApp(appConfig{DataDir: data, Tune: tune, Cats: cats, Bench: bench, Index: idx})
	if _, err := a.restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.run(ctx)
	}()
	srv := httptest.NewServer(a.routes())

	ts := &testServer{app: a, http: srv, data: data}
	var once bool
	ts.stop = func() {
		if once {
			return
		}
		once = true
		srv.Close()
		cancel()
		<-done
		a.shutdown()
	}
	t.Cleanup(ts.stop)
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.http.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var st protocol.StatusMsg
		if code := s.do(t, http.MethodGet, "/v1/forms", nil, &st); code != http.StatusOK {
			t.Fatalf("GET /v1/forms status=%d", code)
		}
		if len(st.Engines) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engines still running")
}

func holding(held string) workbench.BenchFile {
	var b workbench.BenchFile
	b.Operator.ID = "potter"
	b.Operator.Held = held
	return b
}

func TestServer_ShapesFormAndPersists(t *testing.T) {
	s := newTestServer(t, holding("clay_ball"), true)

	var resp formResponse
	code := s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Pos: [3]int{0, 64, 0}, Recipe: "bowl"}, &resp)
	if code != http.StatusOK || !resp.Started || resp.Engine.RunID == "" {
		t.Fatalf("start: code=%d resp=%+v", code, resp)
	}
	s.waitIdle(t)

	var view formView
	if code := s.do(t, http.MethodGet, "/v1/form?x=0&y=64&z=0", nil, &view); code != http.StatusOK {
		t.Fatalf("GET /v1/form status=%d", code)
	}
	if !view.Done || view.RecipeID != "bowl" || view.Current != view.Target || view.Uses == 0 {
		t.Fatalf("form not finished: %+v", view)
	}

	s.stop()
	snap, err := snapshot.ReadForm(snapshot.Path(s.data, voxel.BlockPos{X: 0, Y: 64, Z: 0}))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.RecipeID != "bowl" || snap.Current != snap.Target {
		t.Fatalf("snapshot=%+v", snap)
	}
	archived, _ := filepath.Glob(filepath.Join(s.data, "archive", "bowl", "*.form.zst"))
	if len(archived) != 1 {
		t.Fatalf("archived=%v want one copy", archived)
	}
	actions, _ := filepath.Glob(filepath.Join(s.data, "actions", "actions-*.jsonl.zst"))
	if len(actions) == 0 {
		t.Fatalf("no action log written")
	}
}

func TestServer_SecondRunReplaysCache(t *testing.T) {
	s := newTestServer(t, holding("clay_ball"), false)
	for _, x := range []int{0, 2} {
		var resp formResponse
		if code := s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Pos: [3]int{x, 64, 0}, Recipe: "brick"}, &resp); code != http.StatusOK {
			t.Fatalf("start x=%d: code=%d", x, code)
		}
		s.waitIdle(t)
	}
	var st protocol.StatusMsg
	s.do(t, http.MethodGet, "/v1/forms", nil, &st)
	if st.Cache == nil || st.Cache.Entries != 1 || st.Cache.Hits != 1 {
		t.Fatalf("cache=%+v want one entry hit once", st.Cache)
	}
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t, holding("clay_ball"), false)

	var e protocol.ErrorMsg
	if code := s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Recipe: "teapot"}, &e); code != http.StatusNotFound || e.Code != protocol.ErrUnknownRecipe {
		t.Fatalf("unknown recipe: code=%d err=%+v", code, e)
	}
	if code := s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Recipe: "bowl", Initial: "%%"}, &e); code != http.StatusBadRequest || e.Code != protocol.ErrBadRequest {
		t.Fatalf("bad initial: code=%d err=%+v", code, e)
	}
	if code := s.do(t, http.MethodPost, "/v1/forms", map[string]any{"recipe": "bowl", "color": "red"}, &e); code != http.StatusBadRequest {
		t.Fatalf("unknown field: code=%d", code)
	}
	if code := s.do(t, http.MethodPost, "/v1/forms/stop", protocol.StopRequest{Pos: [3]int{9, 9, 9}}, &e); code != http.StatusNotFound || e.Code != protocol.ErrNotRunning {
		t.Fatalf("stop: code=%d err=%+v", code, e)
	}
	if code := s.do(t, http.MethodGet, "/v1/form?x=1&y=1&z=1", nil, &e); code != http.StatusNotFound || e.Code != protocol.ErrNoForm {
		t.Fatalf("form: code=%d err=%+v", code, e)
	}
	if code := s.do(t, http.MethodGet, "/v1/runs", nil, &e); code != http.StatusNotFound {
		t.Fatalf("runs without index: code=%d", code)
	}
}

func TestServer_PausesWithoutMaterial(t *testing.T) {
	s := newTestServer(t, holding(""), false)

	var resp formResponse
	s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Pos: [3]int{1, 1, 1}, Recipe: "brick"}, &resp)

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := http.Get(s.http.URL + "/metrics")
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if strings.Contains(string(body), `clayformer_events_total{kind="paused"}`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no paused event in:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var op map[string]any
	if code := s.do(t, http.MethodPost, "/v1/operator", protocol.OperatorRequest{Held: "clay_ball"}, &op); code != http.StatusOK || op["has_material"] != true {
		t.Fatalf("operator: code=%d body=%v", code, op)
	}
	s.waitIdle(t)
}

func TestServer_RestoreSkipsSeededSnapshots(t *testing.T) {
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	data := t.TempDir()
	bowl, _ := cats.Get("bowl")

	bench := workbench.New(nil, workbench.Options{})
	pos := voxel.BlockPos{X: 0, Y: 64, Z: 0}
	bench.Place(pos, nil)
	f, _ := bench.SelectRecipe(pos, "bowl", bowl.Target())
	if err := snapshot.WriteForm(snapshot.Path(data, pos), snapshot.Capture(f, time.Now())); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	seeds := holding("clay_ball")
	seeds.Forms = []workbench.FormSeed{
		{Pos: pos, Recipe: "brick"},
		{Pos: voxel.BlockPos{X: 2, Y: 64, Z: 0}, Recipe: "crock"},
	}
	a := newApp(appConfig{DataDir: data, Tune: tuning.Defaults(), Cats: cats, Bench: seeds})
	started, err := a.restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if started != 2 || a.sup.Len() != 2 {
		t.Fatalf("started=%d engines=%d want 2", started, a.sup.Len())
	}
	got, _ := a.bench.Get(pos)
	if got.RecipeID() != "bowl" {
		t.Fatalf("snapshot form recipe=%q want bowl", got.RecipeID())
	}
	a.shutdown()
}

func TestServer_RunsFromIndex(t *testing.T) {
	s := newTestServer(t, holding("clay_ball"), true)
	var resp formResponse
	s.do(t, http.MethodPost, "/v1/forms", protocol.FormRequest{Pos: [3]int{4, 64, 0}, Recipe: "brick"}, &resp)
	s.waitIdle(t)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var runs []indexdb.RunRow
		if code := s.do(t, http.MethodGet, "/v1/runs?limit=5", nil, &runs); code != http.StatusOK {
			t.Fatalf("runs status=%d", code)
		}
		if len(runs) == 1 && runs[0].Status == "success" {
			if runs[0].RunID != resp.Engine.RunID || runs[0].RecipeID != "brick" {
				t.Fatalf("run=%+v", runs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("runs=%+v", runs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
