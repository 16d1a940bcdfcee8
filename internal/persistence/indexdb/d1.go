package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/tuning"
)

// D1Config points the index at a Cloudflare D1 ingest worker. Records are
// posted as JSON batches; the worker owns the table layout.
type D1Config struct {
	Endpoint      string
	Token         string
	BenchID       string
	BatchSize     int
	QueueSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg  D1Config
	http *http.Client

	ch   chan d1Record
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ shaping.EventSink = (*D1Index)(nil)

type d1Record struct {
	Kind    string `json:"kind"`
	BenchID string `json:"bench_id"`
	Payload any    `json:"payload"`
}

type d1SnapshotPayload struct {
	Path     string `json:"path"`
	Form     [3]int `json:"form"`
	RecipeID string `json:"recipe_id,omitempty"`
	Uses     int    `json:"uses"`
	SavedAt  int64  `json:"saved_at"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.BenchID = strings.TrimSpace(cfg.BenchID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.BenchID == "" {
		return nil, fmt.Errorf("empty bench id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8192
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	d := &D1Index{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:   make(chan d1Record, cfg.QueueSize),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

// Close flushes queued records and stops the sender.
func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

// Emit implements shaping.EventSink.
func (d *D1Index) Emit(ev shaping.Event) {
	d.enqueue(d1Record{Kind: "event", Payload: ev})
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.FormV1) {
	d.enqueue(d1Record{Kind: "snapshot", Payload: d1SnapshotPayload{
		Path:     path,
		Form:     snap.Header.Form,
		RecipeID: snap.RecipeID,
		Uses:     snap.Uses,
		SavedAt:  snap.Header.SavedAt,
	}})
}

func (d *D1Index) UpsertCatalogs(cat *catalogs.RecipeCatalog, tune tuning.Tuning) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if cat != nil {
		defs := make([]catalogs.RecipeDef, 0, len(cat.ByID))
		for _, id := range cat.IDs() {
			defs = append(defs, cat.ByID[id].Def)
		}
		b, err := json.Marshal(defs)
		if err != nil {
			return err
		}
		d.enqueue(d1Record{Kind: "catalog", Payload: d1CatalogPayload{Name: "recipes", Digest: cat.Digest, JSON: string(b), UpdatedAt: now}})
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(d1Record{Kind: "catalog", Payload: d1CatalogPayload{Name: "tuning", Digest: hex.EncodeToString(sum[:]), JSON: string(b), UpdatedAt: now}})
	return nil
}

func (d *D1Index) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(d.ch),
		QueueCapacity:  cap(d.ch),
		DropEventTotal: d.dropped.Load(),
	}
}

func (d *D1Index) enqueue(r d1Record) {
	if d == nil || d.closed.Load() {
		return
	}
	r.BenchID = d.cfg.BenchID
	select {
	case d.ch <- r:
	default:
		n := d.dropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s dropped_total=%d", r.Kind, n)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Record, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.send(batch); err != nil {
			d.failed.Add(uint64(len(batch)))
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
		}
		batch = batch[:0]
	}
	for {
		select {
		case r, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) send(records []d1Record) error {
	buf, err := json.Marshal(struct {
		Records []d1Record `json:"records"`
	}{Records: records})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-clayformer-index-token", d.cfg.Token)
		}
		resp, err := d.http.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
