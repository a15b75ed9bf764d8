// Package history persists execution results to SQLite for the /history API
// and the watch view.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/chatexec/internal/dispatch"
)

// Entry is one recorded execution.
type Entry struct {
	ExecutionID string    `json:"execution_id"`
	Command     string    `json:"command"`
	Args        []string  `json:"args,omitempty"`
	Outcome     string    `json:"outcome"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Stdout      string    `json:"stdout,omitempty"`
	Stderr      string    `json:"stderr,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Store records dispatch results in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path and
// ensures the execution_log table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_log (
  execution_id TEXT PRIMARY KEY,
  command      TEXT NOT NULL,
  args         JSON,
  outcome      TEXT NOT NULL,
  exit_code    INTEGER,
  reason       TEXT,
  stdout       TEXT,
  stderr       TEXT,
  started_at   TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS execution_log_started_at_idx ON execution_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS execution_log_command_idx ON execution_log(command, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Record inserts one result. Stored output is already bounded by the
// dispatcher's capture limit.
func (s *Store) Record(ctx context.Context, res *dispatch.Result) error {
	args, err := json.Marshal(res.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	var exitCode sql.NullInt64
	if res.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*res.ExitCode), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO execution_log (execution_id, command, args, outcome, exit_code, reason, stdout, stderr, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ExecutionID,
		res.Command,
		string(args),
		string(res.Outcome),
		exitCode,
		res.Reason,
		res.Stdout,
		res.Stderr,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record execution %s: %w", res.ExecutionID, err)
	}
	return nil
}

// Recent returns the latest executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT execution_id, command, args, outcome, exit_code, reason, stdout, stderr, started_at, duration_ms
FROM execution_log
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			argsJSON       sql.NullString
			exitCode       sql.NullInt64
			reason         sql.NullString
			stdout, stderr sql.NullString
			startedAt      string
		)
		if err := rows.Scan(&e.ExecutionID, &e.Command, &argsJSON, &e.Outcome, &exitCode, &reason, &stdout, &stderr, &startedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if argsJSON.Valid && argsJSON.String != "" && argsJSON.String != "null" {
			if err := json.Unmarshal([]byte(argsJSON.String), &e.Args); err != nil {
				return nil, fmt.Errorf("decode args for %s: %w", e.ExecutionID, err)
			}
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		e.Reason = reason.String
		e.Stdout = stdout.String
		e.Stderr = stderr.String
		ts, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", e.ExecutionID, err)
		}
		e.StartedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
