package main

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"clayformer.ai/internal/metrics"
	"clayformer.ai/internal/persistence/archive"
	persistlog "clayformer.ai/internal/persistence/log"
	"clayformer.ai/internal/persistence/r2s3"
	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/supervisor"
	"clayformer.ai/internal/sim/ticker"
	"clayformer.ai/internal/sim/tuning"
	"clayformer.ai/internal/sim/workbench"
	"clayformer.ai/internal/transport/notify"
	"clayformer.ai/internal/transport/observer"
)

type appConfig struct {
	DataDir string
	Tune    tuning.Tuning
	Cats    *catalogs.RecipeCatalog
	Bench   workbench.BenchFile
	Index   runtimeIndex
	Mirror  *r2s3.Mirror
	Notify  *notify.Publisher
	Logger  *log.Logger
	Now     func() time.Time
}

type snapJob struct {
	snap  snapshot.FormV1
	runID string
	// consumed forms left the bench; only the archive copy is kept.
	consumed bool
}

// app owns the bench. The bench and the engines are touched only from the
// tick goroutine; HTTP handlers post closures to inbox.
type app struct {
	cfg appConfig
	log *log.Logger

	bench   *workbench.Bench
	sched   *ticker.Scheduler
	cache   *recipecache.Cache
	sup     *supervisor.Supervisor
	obs     *observer.Server
	metrics *metrics.Metrics
	actions *persistlog.ActionLogger
	events  *persistlog.EventLogger

	inbox chan func()
	snaps chan snapJob
	wg    sync.WaitGroup
}

func newApp(cfg appConfig) *app {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &app{
		cfg:     cfg,
		log:     logger,
		sched:   ticker.New(),
		cache:   recipecache.New(),
		obs:     observer.NewServer(logger),
		metrics: metrics.New(),
		inbox:   make(chan func(), 64),
		snaps:   make(chan snapJob, 256),
	}

	opID := cfg.Bench.Operator.ID
	if opID == "" {
		opID = "operator"
	}
	op := workbench.NewOperator(opID, cfg.Bench.Operator.Held, cfg.Tune.Shaping.MaterialKeyword)
	a.bench = workbench.New(op, workbench.Options{
		ConsumeOnComplete: cfg.Tune.Shaping.ConsumeOnComplete,
		OnFinished:        a.formConsumed,
		OnToolMode: func(p workbench.ToolModePacket) {
			a.metrics.ToolModeSwitched(p.Mode)
		},
	})

	rotate := cfg.Tune.ActionLogRotate()
	a.actions = persistlog.NewActionLogger(cfg.DataDir, rotate)
	a.events = persistlog.NewEventLogger(cfg.DataDir, rotate, func(err error) {
		logger.Printf("event log: %v", err)
	})
	if cfg.Mirror != nil {
		a.actions.SetOnClose(cfg.Mirror.Enqueue)
		a.events.SetOnClose(cfg.Mirror.Enqueue)
	}

	sinks := shaping.MultiSink{a.obs, a.events, a.metrics}
	if cfg.Index != nil {
		sinks = append(sinks, cfg.Index)
	}
	if cfg.Notify != nil {
		sinks = append(sinks, cfg.Notify)
	}
	a.sup = supervisor.New(shaping.Config{
		Host:               a.bench,
		Scheduler:          a.sched,
		Mutator:            a.bench,
		Tool:               a.bench,
		Operator:           op,
		Cache:              a.cache,
		Events:             sinks,
		ActionLog:          shaping.MultiActionLogger{a.actions, a.metrics},
		Logger:             logger,
		TickInterval:       cfg.Tune.Shaping.EngineTickInterval(),
		MaxActionsPerTick:  cfg.Tune.Shaping.MaxActionsPerTick,
		PauseNoticeSeconds: cfg.Tune.Shaping.PauseNoticeSeconds,
		Plan:               cfg.Tune.Shaping.PlanParams(),
		Now:                cfg.Now,
	}, logger, a.engineDone)

	a.metrics.WatchCache(a.cache)
	a.metrics.WatchGauge("engines_active", "Running shaping engines.", func() float64 { return float64(a.sup.Len()) })
	a.metrics.WatchGauge("observers", "Connected observer sockets.", func() float64 { return float64(a.obs.Clients()) })
	if cfg.Index != nil {
		a.metrics.WatchGauge("index_queue_depth", "Index writer backlog.", func() float64 { return float64(cfg.Index.Stats().QueueDepth) })
	}
	if cfg.Notify != nil {
		a.metrics.WatchGauge("notify_dropped", "Events dropped by the redis publisher.", func() float64 { return float64(cfg.Notify.Stats().Dropped) })
	}
	if cfg.Mirror != nil {
		a.metrics.WatchGauge("mirror_queue_depth", "Mirror upload backlog.", func() float64 { return float64(cfg.Mirror.Stats().QueueDepth) })
	}

	// Registered first so commands land before engines tick in the same step.
	a.sched.Register(a.drain, 0)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.writeSnapshots()
	}()
	return a
}

func (a *app) drain(float64) {
	for i := 0; i < cap(a.inbox); i++ {
		select {
		case fn := <-a.inbox:
			fn()
		default:
			return
		}
	}
}

// call runs fn on the tick goroutine and waits for it.
func (a *app) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.inbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run steps the scheduler until ctx is done.
func (a *app) run(ctx context.Context) error {
	return a.sched.Run(ctx, a.cfg.Tune.TickInterval())
}

// restore places the persisted forms, then seeds the bench file forms that
// have no snapshot. Unfinished forms get an engine. It must run before the
// tick loop.
func (a *app) restore() (int, error) {
	paths, err := snapshot.List(a.cfg.DataDir)
	if err != nil {
		return 0, err
	}
	restored := map[[3]int]bool{}
	started := 0
	for _, p := range paths {
		snap, err := snapshot.ReadForm(p)
		if err != nil {
			a.log.Printf("skip snapshot %s: %v", p, err)
			continue
		}
		f, err := snapshot.Restore(a.bench, snap)
		if err != nil {
			a.log.Printf("skip snapshot %s: %v", p, err)
			continue
		}
		restored[snap.Header.Form] = true
		if f.Target() == nil || f.Done() {
			continue
		}
		if _, _, err := a.sup.Start(f.Pos, f.RecipeID()); err != nil {
			return started, err
		}
		started++
	}

	for _, seed := range a.cfg.Bench.Forms {
		if restored[[3]int{seed.Pos.X, seed.Pos.Y, seed.Pos.Z}] {
			continue
		}
		recipe, err := a.cfg.Cats.Get(seed.Recipe)
		if err != nil {
			return started, err
		}
		a.bench.Place(seed.Pos, seed.InitialVolume())
		if _, err := a.bench.SelectRecipe(seed.Pos, recipe.ID(), recipe.Target()); err != nil {
			return started, err
		}
		if _, _, err := a.sup.Start(seed.Pos, recipe.ID()); err != nil {
			return started, err
		}
		started++
	}
	return started, nil
}

// engineDone runs on the tick goroutine after an engine finished.
func (a *app) engineDone(eng *shaping.Engine) {
	if !a.cfg.Tune.Persistence.SnapshotOnComplete {
		return
	}
	if f, ok := a.bench.Get(eng.Form()); ok {
		a.queueSnapshot(f, eng.RunID())
	}
}

// formConsumed captures a form the bench removed on completion.
func (a *app) formConsumed(f *workbench.Form) {
	runID := ""
	if eng, ok := a.sup.Get(f.Pos); ok {
		runID = eng.RunID()
	}
	a.enqueueSnapshot(snapJob{snap: snapshot.Capture(f, a.cfg.Now()), runID: runID, consumed: true})
}

func (a *app) queueSnapshot(f *workbench.Form, runID string) {
	a.enqueueSnapshot(snapJob{snap: snapshot.Capture(f, a.cfg.Now()), runID: runID})
}

func (a *app) enqueueSnapshot(job snapJob) {
	select {
	case a.snaps <- job:
	default:
		a.log.Printf("snapshot queue full; drop form %v", job.snap.Pos())
	}
}

func (a *app) writeSnapshots() {
	for job := range a.snaps {
		path := snapshot.Path(a.cfg.DataDir, job.snap.Pos())
		if err := snapshot.WriteForm(path, job.snap); err != nil {
			a.log.Printf("snapshot write: %v", err)
			continue
		}
		if job.runID != "" {
			archived, ok, err := archive.ArchiveFinished(a.cfg.DataDir, path, job.runID, job.snap, a.cfg.Now())
			if err != nil {
				a.log.Printf("archive form: %v", err)
			} else if ok && a.cfg.Mirror != nil {
				a.cfg.Mirror.Enqueue(archived)
			}
		}
		if job.consumed {
			if err := os.Remove(path); err != nil {
				a.log.Printf("remove consumed form: %v", err)
			}
			continue
		}
		if a.cfg.Index != nil {
			a.cfg.Index.RecordSnapshot(path, job.snap)
		}
		if a.cfg.Mirror != nil {
			a.cfg.Mirror.Enqueue(path)
		}
	}
}

// shutdown stops every engine, persists every form and closes the sinks. The
// tick loop must have returned.
func (a *app) shutdown() {
	n := a.sup.StopAll()
	forms := a.bench.Forms()
	for _, f := range forms {
		a.snaps <- snapJob{snap: snapshot.Capture(f, a.cfg.Now())}
	}
	close(a.snaps)
	a.wg.Wait()
	a.log.Printf("shutdown: stopped %d engines, saved %d forms", n, len(forms))

	if err := a.actions.Close(); err != nil {
		a.log.Printf("close action log: %v", err)
	}
	if err := a.events.Close(); err != nil {
		a.log.Printf("close event log: %v", err)
	}
	if a.cfg.Index != nil {
		_ = a.cfg.Index.Close()
	}
	if a.cfg.Notify != nil {
		_ = a.cfg.Notify.Close()
	}
	if a.cfg.Mirror != nil {
		a.cfg.Mirror.Close()
	}
}
