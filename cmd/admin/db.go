package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/bench.sqlite)")
	runID := fs.String("run", "", "run_id filter (events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "bench.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var qerr error
	switch q {
	case "runs":
		qerr = queryRuns(db, *limit)
	case "events":
		qerr = queryEvents(db, *runID, *limit)
	case "snapshots":
		qerr = querySnapshots(db, *limit)
	case "catalogs":
		qerr = queryCatalogs(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want runs|events|snapshots|catalogs)")
		os.Exit(2)
	}
	if qerr != nil {
		fmt.Fprintln(os.Stderr, "query:", qerr)
		os.Exit(1)
	}
}

type runRow struct {
	RunID      string `json:"run_id"`
	Form       [3]int `json:"form"`
	RecipeID   string `json:"recipe_id"`
	CacheKey   string `json:"cache_key"`
	FromCache  bool   `json:"from_cache"`
	Status     string `json:"status"`
	Applied    int    `json:"applied"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func queryRuns(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT run_id,x,y,z,recipe_id,cache_key,from_cache,status,applied,started_at,COALESCE(finished_at,'') FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r runRow
		var fromCache int
		if err := rows.Scan(&r.RunID, &r.Form[0], &r.Form[1], &r.Form[2], &r.RecipeID, &r.CacheKey, &fromCache, &r.Status, &r.Applied, &r.StartedAt, &r.FinishedAt); err != nil {
			return err
		}
		r.FromCache = fromCache != 0
		printJSON(r)
	}
	return rows.Err()
}

func queryEvents(db *sql.DB, runID string, limit int) error {
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(runID) != "" {
		rows, err = db.Query(`SELECT raw_json FROM events WHERE run_id=? ORDER BY id ASC LIMIT ?`, runID, limit)
	} else {
		rows, err = db.Query(`SELECT raw_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		fmt.Println(raw)
	}
	return rows.Err()
}

func querySnapshots(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT path,x,y,z,recipe_id,uses,saved_at FROM snapshots ORDER BY saved_at DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Path     string `json:"path"`
			Form     [3]int `json:"form"`
			RecipeID string `json:"recipe_id"`
			Uses     int    `json:"uses"`
			SavedAt  int64  `json:"saved_at"`
		}
		if err := rows.Scan(&r.Path, &r.Form[0], &r.Form[1], &r.Form[2], &r.RecipeID, &r.Uses, &r.SavedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryCatalogs(db *sql.DB) error {
	rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}
