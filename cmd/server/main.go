package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/tuning"
	"clayformer.ai/internal/sim/workbench"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		benchID    = flag.String("bench_id", "bench_1", "bench id reported to remote indexes")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		benchPath  = flag.String("bench", "", "path to bench.yaml (default: <configs>/bench.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the run index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.LoadOrDefault(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	logger.Printf("recipes=%d digest=%s", len(cats.ByID), cats.Digest)

	bp := strings.TrimSpace(*benchPath)
	if bp == "" {
		bp = filepath.Join(*configDir, "bench.yaml")
	}
	benchFile, err := workbench.LoadBenchFile(bp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load bench: %v", err)
		}
		logger.Printf("bench file not found (%s); starting empty", bp)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	// Optional: read-model index (does not affect shaping).
	idx, err := openRuntimeIndex(*dataDir, *benchID, *disableDB, tune, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}

	a := newApp(appConfig{
		DataDir: *dataDir,
		Tune:    tune,
		Cats:    cats,
		Bench:   benchFile,
		Index:   idx,
		Mirror:  mirror,
		Notify:  buildNotifier(logger),
		Logger:  logger,
	})
	started, err := a.restore()
	if err != nil {
		logger.Fatalf("restore bench: %v", err)
	}
	logger.Printf("bench ready: forms=%d engines=%d", len(a.bench.Forms()), started)

	ctx, cancel := signalContext()
	defer cancel()

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		if err := a.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("tick loop stopped: %v", err)
		}
	}()

	mux := a.routes()
	if envBool("CF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tick_rate_hz=%d", *addr, tune.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	<-tickDone
	a.shutdown()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
