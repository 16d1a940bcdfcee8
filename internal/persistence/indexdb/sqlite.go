package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"clayformer.ai/internal/persistence/snapshot"
	"clayformer.ai/internal/sim/catalogs"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/tuning"
)

// SQLiteIndex is a read model of shaping runs. Writes are queued and applied
// by one goroutine; when the queue is full they are dropped and counted. The
// action and event logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents    atomic.Uint64
	dropSnapshots atomic.Uint64
}

var _ shaping.EventSink = (*SQLiteIndex)(nil)

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	event    shaping.Event
	snapshot snapshotRow
}

type snapshotRow struct {
	Path     string
	Form     [3]int
	RecipeID string
	Uses     int
	SavedAt  int64
}

func OpenSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			recipe_id TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			from_cache INTEGER NOT NULL,
			status TEXT NOT NULL,
			applied INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pos ON runs(x, z, y, started_at);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			layer INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			recipe_id TEXT NOT NULL,
			uses INTEGER NOT NULL,
			saved_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Emit implements shaping.EventSink.
func (s *SQLiteIndex) Emit(ev shaping.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvents.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.FormV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Path:     path,
		Form:     snap.Header.Form,
		RecipeID: snap.RecipeID,
		Uses:     snap.Uses,
		SavedAt:  snap.Header.SavedAt,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshots.Add(1)
	}
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropEventTotal    uint64
	DropSnapshotTotal uint64
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvents.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

// UpsertCatalogs stores the recipe catalog and the effective tuning.
func (s *SQLiteIndex) UpsertCatalogs(cat *catalogs.RecipeCatalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cat != nil {
		defs := make([]catalogs.RecipeDef, 0, len(cat.ByID))
		for _, id := range cat.IDs() {
			defs = append(defs, cat.ByID[id].Def)
		}
		if b, _ := json.Marshal(defs); len(b) > 0 {
			rows = append(rows, kv{name: "recipes", digest: cat.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func runStatus(ev shaping.Event) string {
	switch {
	case ev.Kind == shaping.EventSuccess && ev.Vanished:
		return "vanished"
	case ev.Kind == shaping.EventSuccess:
		return "success"
	case ev.Kind == shaping.EventPaused:
		return "paused"
	default:
		return "running"
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(run_id,kind,layer,applied,at,raw_json) VALUES(?,?,?,?,?,?)`)
	startRun, _ := s.db.Prepare(`INSERT INTO runs(run_id,x,y,z,recipe_id,cache_key,from_cache,status,applied,started_at) VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET recipe_id=excluded.recipe_id, cache_key=excluded.cache_key, from_cache=excluded.from_cache, status=excluded.status`)
	updateRun, _ := s.db.Prepare(`UPDATE runs SET status=?, applied=?, finished_at=? WHERE run_id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,x,y,z,recipe_id,uses,saved_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, startRun, updateRun, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			at := ev.At.UTC().Format(time.RFC3339Nano)
			raw, _ := json.Marshal(ev)
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(ev.RunID, string(ev.Kind), ev.Layer, ev.Applied, at, string(raw)); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			switch ev.Kind {
			case shaping.EventStarted:
				fromCache := 0
				if ev.FromCache {
					fromCache = 1
				}
				if startRun != nil {
					if _, err := tx.Stmt(startRun).Exec(ev.RunID, ev.Form.X, ev.Form.Y, ev.Form.Z, ev.RecipeID, ev.Key, fromCache, runStatus(ev), ev.Applied, at); err != nil {
						rollback()
						continue
					}
					opCount++
				}
			default:
				var finished any
				if ev.Kind == shaping.EventSuccess {
					finished = at
				}
				if updateRun != nil {
					if _, err := tx.Stmt(updateRun).Exec(runStatus(ev), ev.Applied, finished, ev.RunID); err != nil {
						rollback()
						continue
					}
					opCount++
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Path, sn.Form[0], sn.Form[1], sn.Form[2], sn.RecipeID, sn.Uses, sn.SavedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

// RunRow is one row of the runs table.
type RunRow struct {
	RunID      string `json:"run_id"`
	Form       [3]int `json:"form"`
	RecipeID   string `json:"recipe_id"`
	Key        string `json:"key"`
	FromCache  bool   `json:"from_cache"`
	Status     string `json:"status"`
	Applied    int    `json:"applied"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// Runs returns the most recent runs, newest first. Rows still queued are not
// visible until the writer commits.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,x,y,z,recipe_id,cache_key,from_cache,status,applied,started_at,COALESCE(finished_at,'')
		FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Form[0], &r.Form[1], &r.Form[2], &r.RecipeID, &r.Key, &r.FromCache, &r.Status, &r.Applied, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventCount returns how many events were indexed for runID.
func (s *SQLiteIndex) EventCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id=?`, runID).Scan(&n)
	return n, err
}
