package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"clayformer.ai/internal/persistence/indexdb"
	"clayformer.ai/internal/protocol"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/encoding"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/supervisor"
	"clayformer.ai/internal/sim/voxel"
)

const commandTimeout = 5 * time.Second

type formResponse struct {
	Started bool                  `json:"started"`
	Engine  protocol.EngineStatus `json:"engine"`
}

type formView struct {
	Pos      [3]int     `json:"pos"`
	RecipeID string     `json:"recipe_id,omitempty"`
	Current  string     `json:"current"`
	Target   string     `json:"target,omitempty"`
	Uses     int        `json:"uses"`
	Done     bool       `json:"done"`
	Layers   [][]string `json:"layers"`
}

type recipeView struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Output string `json:"output,omitempty"`
	Cells  int    `json:"cells"`
	Digest string `json:"digest"`
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/v1/recipes", a.handleRecipes)
	mux.HandleFunc("/v1/forms", a.handleForms)
	mux.HandleFunc("/v1/forms/stop", a.handleStop)
	mux.HandleFunc("/v1/form", a.handleForm)
	mux.HandleFunc("/v1/operator", a.handleOperator)
	mux.HandleFunc("/v1/runs", a.handleRuns)
	mux.HandleFunc("/v1/observe", a.obs.WSHandler())
	return mux
}

func (a *app) handleRecipes(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := make([]recipeView, 0, len(a.cfg.Cats.ByID))
	for _, id := range a.cfg.Cats.IDs() {
		rec := a.cfg.Cats.ByID[id]
		out = append(out, recipeView{ID: id, Name: rec.Def.Name, Output: rec.Def.Output, Cells: rec.Cells(), Digest: rec.Digest})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (a *app) handleForms(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		var st protocol.StatusMsg
		err := a.call(ctx, func() {
			cs := a.cache.Stats()
			st = protocol.NewStatus(a.sup.Active(), &cs)
		})
		if err != nil {
			writeBusy(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	case http.MethodPost:
		a.startForm(rw, r)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) startForm(rw http.ResponseWriter, r *http.Request) {
	var req protocol.FormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	recipe, err := a.cfg.Cats.Get(req.Recipe)
	if err != nil {
		writeError(rw, http.StatusNotFound, protocol.ErrUnknownRecipe, err.Error())
		return
	}
	var initial *voxel.Volume
	if req.Initial != "" {
		if initial, err = encoding.DecodeVolume(req.Initial); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, fmt.Sprintf("initial: %v", err))
			return
		}
	}
	pos := protocol.ToBlockPos(req.Pos)

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	var (
		resp     formResponse
		startErr error
	)
	err = a.call(ctx, func() {
		if _, ok := a.bench.Get(pos); !ok || !req.Keep {
			// A fresh volume invalidates whatever the old engine planned.
			_ = a.sup.Stop(pos)
			a.bench.Place(pos, initial)
		}
		if _, startErr = a.bench.SelectRecipe(pos, recipe.ID(), recipe.Target()); startErr != nil {
			return
		}
		var eng *shaping.Engine
		eng, resp.Started, startErr = a.sup.Start(pos, recipe.ID())
		if startErr == nil {
			resp.Engine = protocol.NewStatus([]shaping.Status{eng.Status()}, nil).Engines[0]
		}
	})
	if err != nil {
		writeBusy(rw, err)
		return
	}
	if startErr != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, startErr.Error())
		return
	}
	a.log.Printf("form %v: recipe=%s started=%v run=%s", req.Pos, recipe.ID(), resp.Started, resp.Engine.RunID)
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) handleStop(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req protocol.StopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	var stopErr error
	if err := a.call(ctx, func() { stopErr = a.sup.Stop(protocol.ToBlockPos(req.Pos)) }); err != nil {
		writeBusy(rw, err)
		return
	}
	if errors.Is(stopErr, supervisor.ErrNotRunning) {
		writeError(rw, http.StatusNotFound, protocol.ErrNotRunning, stopErr.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (a *app) handleForm(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var p [3]int
	for i, k := range []string{"x", "y", "z"} {
		n, err := strconv.Atoi(r.URL.Query().Get(k))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad "+k)
			return
		}
		p[i] = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	var (
		view  formView
		found bool
	)
	err := a.call(ctx, func() {
		f, ok := a.bench.Get(protocol.ToBlockPos(p))
		if !ok {
			return
		}
		found = true
		view = formView{
			Pos:      p,
			RecipeID: f.RecipeID(),
			Current:  encoding.EncodeVolume(f.Current()),
			Uses:     f.Uses(),
			Done:     f.Done(),
			Layers:   catalogs.Layers(f.Current()),
		}
		if tgt := f.Target(); tgt != nil {
			view.Target = encoding.EncodeVolume(tgt)
		}
	})
	if err != nil {
		writeBusy(rw, err)
		return
	}
	if !found {
		writeError(rw, http.StatusNotFound, protocol.ErrNoForm, fmt.Sprintf("no form at %v", p))
		return
	}
	writeJSON(rw, http.StatusOK, view)
}

func (a *app) handleOperator(rw http.ResponseWriter, r *http.Request) {
	op := a.bench.Operator()
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req protocol.OperatorRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		if err := a.call(ctx, func() { op.Hold(req.Held) }); err != nil {
			writeBusy(rw, err)
			return
		}
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"id":           op.ID(),
		"held":         op.Held(),
		"has_material": op.HasMaterial(),
		"tool_mode":    op.ToolMode().String(),
	})
}

func (a *app) handleRuns(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idx, ok := a.cfg.Index.(*indexdb.SQLiteIndex)
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrBadRequest, "run index is not queryable")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := idx.Runs(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if runs == nil {
		runs = []indexdb.RunRow{}
	}
	writeJSON(rw, http.StatusOK, runs)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64*1024))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.NewError(code, msg))
}

func writeBusy(rw http.ResponseWriter, err error) {
	writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
}
