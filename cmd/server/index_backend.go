package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clayformer.ai/internal/persistence/indexdb"
	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	shaping.EventSink
	Close() error
	UpsertCatalogs(cat *catalogs.RecipeCatalog, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.FormV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir, benchID string, disableDB bool, tune tuning.Tuning, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CF_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "bench.sqlite"), tune.Persistence.IndexQueueSize)
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("CF_INDEX_D1_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("CF_INDEX_BACKEND=d1 but CF_INDEX_D1_INGEST_URL is empty")
		}
		return indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("CF_INDEX_D1_TOKEN")),
			BenchID:       benchID,
			BatchSize:     envInt("CF_INDEX_D1_BATCH_SIZE", 128),
			QueueSize:     tune.Persistence.IndexQueueSize,
			FlushInterval: time.Duration(envInt("CF_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported CF_INDEX_BACKEND: %s", backend)
	}
}
