// Package shaping drives a clay form towards its recipe: it diffs the form
// against the target one layer at a time, plans greedy tool actions, and
// applies a bounded number of them per tick.
//
// An Engine never blocks and never spawns goroutines. All of its state
// changes inside OnTick, which the host scheduler calls sequentially.
package shaping

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/ticker"
	"clayformer.ai/internal/sim/voxel"
)

// Form is the live handle of a clay form. Target is nil while no recipe is
// selected.
type Form interface {
	Current() *voxel.Volume
	Target() *voxel.Volume
	RecipeID() string
}

type Host interface {
	FormAt(pos voxel.BlockPos) (Form, bool)
}

// Mutator is the only write path into a form.
type Mutator interface {
	ApplyAction(form voxel.BlockPos, actor string, a action.Action, facing action.Facing)
}

// Tool sets the mode of the held tool and notifies the server.
type Tool interface {
	SetToolMode(form voxel.BlockPos, mode action.Mode)
}

// ModeReporter is implemented by tools that know the mode of the held item.
// Swapping items resets that mode, which the engine's own memory cannot see.
type ModeReporter interface {
	ToolMode() action.Mode
}

// Operator is whoever holds the tool.
type Operator interface {
	ID() string
	HasMaterial() bool
}

type Scheduler interface {
	Register(fn func(dt float64), every time.Duration) ticker.Handle
	Unregister(h ticker.Handle)
}

type ActionCache interface {
	TryGet(key string) ([]action.Action, bool)
	Save(key string, seq []action.Action) bool
}

const (
	DefaultMaxActionsPerTick  = 16
	DefaultPauseNoticeSeconds = 10
)

type Config struct {
	Form voxel.BlockPos

	Host      Host
	Scheduler Scheduler
	Mutator   Mutator
	Tool      Tool
	Operator  Operator
	Cache     ActionCache
	Events    EventSink
	ActionLog ActionLogger
	Logger    *log.Logger

	TickInterval       time.Duration
	MaxActionsPerTick  int
	PauseNoticeSeconds float64
	Plan               PlanParams

	// OnDone runs after the engine stopped itself on completion.
	OnDone func(*Engine)
	Now    func() time.Time
}

type Engine struct {
	cfg Config
	log *log.Logger

	active bool
	handle ticker.Handle
	st     state
	queue  actionQueue

	runID    string
	recipeID string
	target   *voxel.Volume
	key      string

	executed  []action.Action
	lastMode  action.Mode
	pausedFor float64
	skipped   int
	plans     int
}

func New(cfg Config) (*Engine, error) {
	if cfg.Host == nil {
		return nil, errors.New("shaping: nil host")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("shaping: nil scheduler")
	}
	if cfg.Mutator == nil {
		return nil, errors.New("shaping: nil mutator")
	}
	if cfg.MaxActionsPerTick <= 0 {
		cfg.MaxActionsPerTick = DefaultMaxActionsPerTick
	}
	if cfg.PauseNoticeSeconds <= 0 {
		cfg.PauseNoticeSeconds = DefaultPauseNoticeSeconds
	}
	if cfg.Plan == (PlanParams{}) {
		cfg.Plan = DefaultPlanParams()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{cfg: cfg, log: logger, lastMode: action.ModeUnset}, nil
}

// Start resets the run and registers with the scheduler. It is a no-op on
// an active engine.
func (e *Engine) Start() {
	if e.active {
		return
	}
	e.active = true
	e.st = state{phase: PhasePlanning, layer: -1}
	e.queue.Clear()
	e.executed = nil
	e.lastMode = action.ModeUnset
	// Above the threshold so the first pause is reported at once.
	e.pausedFor = e.cfg.PauseNoticeSeconds + 1
	e.skipped = 0
	e.plans = 0
	e.runID = uuid.NewString()
	e.target = nil
	e.key = ""

	if f, ok := e.cfg.Host.FormAt(e.cfg.Form); ok && f != nil {
		if tgt := f.Target(); tgt != nil {
			e.bind(f, tgt)
		}
	}
	e.handle = e.cfg.Scheduler.Register(e.OnTick, e.cfg.TickInterval)
	e.emit(EventStarted, false)
}

// Stop unregisters the engine and drops pending and executed actions.
// Calling it again is harmless.
func (e *Engine) Stop() {
	if !e.active {
		return
	}
	e.active = false
	e.cfg.Scheduler.Unregister(e.handle)
	e.queue.Clear()
	e.executed = nil
	if e.st.phase != PhaseComplete {
		e.st.phase = PhaseIdle
	}
}

// OnTick performs one bounded step of work.
func (e *Engine) OnTick(dt float64) {
	if !e.active {
		return
	}
	f, ok := e.cfg.Host.FormAt(e.cfg.Form)
	if !ok || f == nil || f.Current() == nil {
		e.logf("form gone, treating as done")
		e.finish(true)
		return
	}
	tgt := f.Target()
	if tgt == nil {
		return
	}
	cur := f.Current()
	if tgt != e.target {
		rebind := e.target != nil
		e.bind(f, tgt)
		if rebind {
			e.emit(EventStarted, false)
		}
	}

	e.pausedFor += dt
	if e.cfg.Operator != nil && !e.cfg.Operator.HasMaterial() {
		if e.pausedFor > e.cfg.PauseNoticeSeconds {
			e.emit(EventPaused, false)
			e.pausedFor = 0
		}
		return
	}

	e.drain(cur, tgt)
	if e.active && e.queue.Len() > 0 && cur.Equal(tgt) {
		// The rest of the queue is stale. Completing now commits the run
		// before a host that consumes finished forms makes it vanish.
		e.queue.Clear()
	}
	if e.active && e.queue.Len() == 0 {
		e.advance(cur, tgt)
	}
}

// bind attaches the engine to a target shape, loading a cached sequence when
// one exists.
func (e *Engine) bind(f Form, tgt *voxel.Volume) {
	e.target = tgt
	e.recipeID = f.RecipeID()
	e.key = recipecache.Key(tgt)
	e.queue.Clear()
	e.executed = nil
	e.st = state{phase: PhasePlanning, layer: -1}
	if e.cfg.Cache == nil {
		return
	}
	if seq, ok := e.cfg.Cache.TryGet(e.key); ok && len(seq) > 0 {
		e.queue.Replace(seq)
		e.st = state{phase: PhaseExecuting, layer: -1, fromCache: true}
		e.logf("replaying %d cached actions key=%s", len(seq), shortKey(e.key))
	}
}

func (e *Engine) drain(cur, tgt *voxel.Volume) {
	actor := ""
	if e.cfg.Operator != nil {
		actor = e.cfg.Operator.ID()
	}
	for n := 0; n < e.cfg.MaxActionsPerTick; n++ {
		a, ok := e.queue.Pop()
		if !ok {
			return
		}
		if !a.Pending(cur, tgt) {
			e.skipped++
			continue
		}
		if a.Mode != e.toolMode() {
			if e.cfg.Tool != nil {
				e.cfg.Tool.SetToolMode(e.cfg.Form, a.Mode)
			}
			e.lastMode = a.Mode
		}
		facing := action.FacingOf(a)
		e.cfg.Mutator.ApplyAction(e.cfg.Form, actor, a, facing)
		e.executed = append(e.executed, a)
		if e.cfg.ActionLog != nil {
			entry := ActionLogEntry{
				RunID:    e.runID,
				Form:     e.cfg.Form,
				RecipeID: e.recipeID,
				Seq:      len(e.executed),
				Layer:    a.Pos.Y,
				Facing:   facing,
				Action:   a,
			}
			if err := e.cfg.ActionLog.WriteAction(entry); err != nil {
				e.logf("action log: %v", err)
			}
		}
	}
}

// toolMode is the mode the held tool is in, as far as the engine can tell.
func (e *Engine) toolMode() action.Mode {
	if r, ok := e.cfg.Tool.(ModeReporter); ok {
		return r.ToolMode()
	}
	return e.lastMode
}

// finish raises success and stops. Disappearance counts as success.
func (e *Engine) finish(vanished bool) {
	e.emit(EventSuccess, vanished)
	e.Stop()
	if e.cfg.OnDone != nil {
		e.cfg.OnDone(e)
	}
}

func (e *Engine) emit(kind EventKind, vanished bool) {
	if e.cfg.Events == nil {
		return
	}
	e.cfg.Events.Emit(Event{
		Kind:      kind,
		RunID:     e.runID,
		Form:      e.cfg.Form,
		RecipeID:  e.recipeID,
		Key:       e.key,
		FromCache: e.st.fromCache,
		Layer:     e.st.layer,
		Applied:   len(e.executed),
		Vanished:  vanished,
		At:        e.cfg.Now(),
	})
}

func (e *Engine) logf(format string, args ...any) {
	e.log.Printf("form %d,%d,%d: "+format, append([]any{e.cfg.Form.X, e.cfg.Form.Y, e.cfg.Form.Z}, args...)...)
}

func (e *Engine) Form() voxel.BlockPos { return e.cfg.Form }
func (e *Engine) Active() bool         { return e.active }
func (e *Engine) Phase() Phase         { return e.st.phase }
func (e *Engine) Layer() int           { return e.st.layer }
func (e *Engine) FromCache() bool      { return e.st.fromCache }
func (e *Engine) Pending() int         { return e.queue.Len() }
func (e *Engine) Applied() int         { return len(e.executed) }
func (e *Engine) Skipped() int         { return e.skipped }
func (e *Engine) Plans() int           { return e.plans }
func (e *Engine) RunID() string        { return e.runID }
func (e *Engine) RecipeID() string     { return e.recipeID }
func (e *Engine) Key() string          { return e.key }

// Status is a read-only summary for admin endpoints.
type Status struct {
	Form      voxel.BlockPos `json:"form"`
	RunID     string         `json:"run_id"`
	RecipeID  string         `json:"recipe_id,omitempty"`
	Phase     string         `json:"phase"`
	Layer     int            `json:"layer"`
	FromCache bool           `json:"from_cache"`
	Pending   int            `json:"pending"`
	Applied   int            `json:"applied"`
	Skipped   int            `json:"skipped"`
	Plans     int            `json:"plans"`
}

func (e *Engine) Status() Status {
	return Status{
		Form:      e.cfg.Form,
		RunID:     e.runID,
		RecipeID:  e.recipeID,
		Phase:     e.st.phase.String(),
		Layer:     e.st.layer,
		FromCache: e.st.fromCache,
		Pending:   e.queue.Len(),
		Applied:   len(e.executed),
		Skipped:   e.skipped,
		Plans:     e.plans,
	}
}
