// Package store keeps the run ledger: one row per pipeline invocation and one
// row per tool execution inside it, in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meanie3d/internal/logging"
)

// Run and step statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         string
	Command    string
	ConfigFile string
	SourceDir  string
	OutputDir  string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
}

// Step is one unit of work inside a run: a detection, tracking, conversion,
// rendering batch or movie.
type Step struct {
	ID         int64
	RunID      string
	Scale      string
	Stage      string
	Input      string
	Output     string
	ExitCode   int
	DurationMs int64
	Status     string
	Message    string
	CreatedAt  time.Time
}

// Counts aggregates the steps of a run by status.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Ledger is a SQLite backed run ledger. It is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; sqlite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, dbPath: path}
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Opened ledger %s", path)
	return l, nil
}

// Path returns the database file.
func (l *Ledger) Path() string { return l.dbPath }

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		config_file TEXT,
		source_dir TEXT,
		output_dir TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		scale TEXT,
		stage TEXT NOT NULL,
		input TEXT,
		output TEXT,
		exit_code INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// BeginRun records the start of a run and returns it with a fresh id.
func (l *Ledger) BeginRun(ctx context.Context, r Run) (Run, error) {
	r.ID = uuid.NewString()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	r.Status = StatusRunning

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, config_file, source_dir, output_dir, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Command, r.ConfigFile, r.SourceDir, r.OutputDir, r.StartedAt, r.Status)
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run: %w", err)
	}
	return r, nil
}

// RecordStep appends a step to a run.
func (l *Ledger) RecordStep(ctx context.Context, s Step) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, scale, stage, input, output, exit_code, duration_ms, status, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Scale, s.Stage, s.Input, s.Output, s.ExitCode, s.DurationMs, s.Status, s.Message, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, command, config_file, source_dir, output_dir, started_at, finished_at, status
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                          Run
			configFile, source, output sql.NullString
			finished                   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Command, &configFile, &source, &output, &r.StartedAt, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.ConfigFile = configFile.String
		r.SourceDir = source.String
		r.OutputDir = output.String
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the steps of a run in the order they were recorded.
func (l *Ledger) Steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, scale, stage, input, output, exit_code, duration_ms, status, message, created_at
		 FROM steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			s                             Step
			scale, input, output, message sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.RunID, &scale, &s.Stage, &input, &output, &s.ExitCode, &s.DurationMs, &s.Status, &message, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Scale = scale.String
		s.Input = input.String
		s.Output = output.String
		s.Message = message.String
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Counts returns the step totals of a run.
func (l *Ledger) Counts(ctx context.Context, runID string) (Counts, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM steps WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count steps: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		c.Total += n
		switch status {
		case StatusSucceeded:
			c.Succeeded = n
		case StatusFailed:
			c.Failed = n
		case StatusSkipped:
			c.Skipped = n
		}
	}
	return c, rows.Err()
}
