// Package rundb indexes harness runs and their checks in SQLite.
package rundb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Check struct {
	Name     string
	Expected string
	Actual   string
	OK       bool
}

type Run struct {
	ID         string
	URL        string
	Scenario   string
	Transcript string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	Error      string
	Checks     []Check
}

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
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
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			scenario TEXT NOT NULL,
			transcript TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			ok INTEGER NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS checks (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			expected TEXT NOT NULL,
			actual TEXT NOT NULL,
			ok INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores r and its checks, replacing any earlier record with
// the same id.
func (d *DB) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run without id")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM checks WHERE run_id = ?`, `DELETE FROM runs WHERE id = ?`} {
		if _, err := tx.ExecContext(ctx, q, r.ID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, url, scenario, transcript, started_at, finished_at, ok, error) VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.URL, r.Scenario, r.Transcript, fmtTime(r.StartedAt), fmtTime(r.FinishedAt), boolInt(r.OK), r.Error,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	for i, c := range r.Checks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checks(run_id, seq, name, expected, actual, ok) VALUES(?,?,?,?,?,?)`,
			r.ID, i, c.Name, c.Expected, c.Actual, boolInt(c.OK),
		); err != nil {
			return fmt.Errorf("insert check %s/%d: %w", r.ID, i, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first, without their checks.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, url, scenario, transcript, started_at, finished_at, ok, error FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r              Run
			started, ended string
			ok             int
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Scenario, &r.Transcript, &started, &ended, &ok, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, ended)
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) Checks(ctx context.Context, runID string) ([]Check, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, expected, actual, ok FROM checks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var (
			c  Check
			ok int
		)
		if err := rows.Scan(&c.Name, &c.Expected, &c.Actual, &ok); err != nil {
			return nil, err
		}
		c.OK = ok != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
