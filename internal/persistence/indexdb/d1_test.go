package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/tuning"
	"clayformer.ai/internal/sim/voxel"
)

func TestD1Index_PostsBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []string
		token string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			Records []struct {
				Kind    string `json:"kind"`
				BenchID string `json:"bench_id"`
			} `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		token = r.Header.Get("x-clayformer-index-token")
		for _, rec := range body.Records {
			if rec.BenchID != "bench-1" {
				kinds = append(kinds, "bad_bench:"+rec.BenchID)
				continue
			}
			kinds = append(kinds, rec.Kind)
		}
		mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := OpenD1(D1Config{Endpoint: srv.URL, Token: "tok", BenchID: "bench-1", BatchSize: 2, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	d.Emit(shaping.Event{Kind: shaping.EventStarted, RunID: "r1", Form: voxel.BlockPos{X: 1}})
	d.RecordSnapshot("forms/1_0_0.form.zst", snapshot.FormV1{RecipeID: "bowl"})
	if err := d.UpsertCatalogs(nil, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	_ = d.Close()
	d.Emit(shaping.Event{Kind: shaping.EventSuccess})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"event", "snapshot", "catalog"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds=%v want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds=%v want %v", kinds, want)
		}
	}
	if token != "tok" {
		t.Fatalf("token=%q", token)
	}
}

func TestOpenD1_RequiresEndpointAndBench(t *testing.T) {
	if _, err := OpenD1(D1Config{BenchID: "b"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := OpenD1(D1Config{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected bench id error")
	}
}
