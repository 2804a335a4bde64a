// Package history records pipeline runs in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one pipeline invocation.
type Run struct {
	ID          string    `json:"id" yaml:"id"`
	Args        []string  `json:"args" yaml:"args"`
	Workdir     string    `json:"workdir" yaml:"workdir"`
	Destination string    `json:"destination,omitempty" yaml:"destination,omitempty"`
	BaseName    string    `json:"baseName,omitempty" yaml:"baseName,omitempty"`
	Status      string    `json:"status" yaml:"status"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	ExitCode    int       `json:"exitCode" yaml:"exitCode"`
	StartedAt   time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	Stages      []Stage   `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Stage is one pipeline stage within a run.
type Stage struct {
	Name      string        `json:"name" yaml:"name"`
	Status    string        `json:"status" yaml:"status"`
	Detail    string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Finish holds the final state of a run.
type Finish struct {
	Status   string
	BaseName string
	Error    string
	ExitCode int
}

// Store is the history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the database at path and ensures the
// tables exist.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases coherent and writes serialized.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  args        JSON NOT NULL DEFAULT '[]',
  workdir     TEXT NOT NULL,
  destination TEXT,
  base_name   TEXT,
  status      TEXT NOT NULL,
  error       TEXT,
  exit_code   INTEGER NOT NULL DEFAULT 0,
  started_at  TEXT NOT NULL,
  finished_at TEXT
);`,
		`CREATE TABLE IF NOT EXISTS stages (
  run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  name        TEXT NOT NULL,
  status      TEXT NOT NULL,
  detail      TEXT,
  error       TEXT,
  started_at  TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin inserts a running record and returns its new ID.
func (s *Store) Begin(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	args, err := json.Marshal(nonNil(r.Args))
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, args, workdir, destination, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, string(args), r.Workdir, r.Destination, StatusRunning, formatTime(r.StartedAt))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

// RecordStage appends a stage to a run.
func (s *Store) RecordStage(ctx context.Context, runID string, st Stage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stages (run_id, seq, name, status, detail, error, started_at, duration_ms)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM stages WHERE run_id = ?), ?, ?, ?, ?, ?, ?)`,
		runID, runID, st.Name, st.Status, st.Detail, st.Error, formatTime(st.StartedAt), st.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert stage %s: %w", st.Name, err)
	}
	return nil
}

// Finish marks a run done.
func (s *Store) Finish(ctx context.Context, runID string, f Finish) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, base_name = ?, error = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		f.Status, f.BaseName, f.Error, f.ExitCode, formatTime(s.now()), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// List returns the most recent runs first, without stages.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, args, workdir, destination, base_name, status, error, exit_code, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run with its stages.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, args, workdir, destination, base_name, status, error, exit_code, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, detail, error, started_at, duration_ms FROM stages WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return Run{}, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st            Stage
			detail, errs  sql.NullString
			started       string
			durationMilli int64
		)
		if err := rows.Scan(&st.Name, &st.Status, &detail, &errs, &started, &durationMilli); err != nil {
			return Run{}, fmt.Errorf("scan stage: %w", err)
		}
		st.Detail = detail.String
		st.Error = errs.String
		st.StartedAt = parseTime(started)
		st.Duration = time.Duration(durationMilli) * time.Millisecond
		r.Stages = append(r.Stages, st)
	}
	return r, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                            Run
		args                         string
		dest, base, errMsg, finished sql.NullString
		started                      string
	)
	if err := sc.Scan(&r.ID, &args, &r.Workdir, &dest, &base, &r.Status, &errMsg, &r.ExitCode, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
		return Run{}, fmt.Errorf("decode args of %s: %w", r.ID, err)
	}
	r.Destination = dest.String
	r.BaseName = base.String
	r.Error = errMsg.String
	r.StartedAt = parseTime(started)
	if finished.Valid {
		r.FinishedAt = parseTime(finished.String)
	}
	return r, nil
}

// timeLayout is fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
