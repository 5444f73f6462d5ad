// Package ledger records every batch run and its per-document results in
// SQLite so past runs can be listed and inspected.
package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/litdigest/internal/store"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
	StateFailed    = "failed"
)

// Run is one recorded batch run.
type Run struct {
	ID         string          `json:"id"`
	Folder     string          `json:"folder"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	State      string          `json:"state"`
	Total      int             `json:"total"`
	Tally      summarize.Tally `json:"tally"`
	ReportPath string          `json:"report_path,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Result is one recorded document outcome.
type Result struct {
	Seq         int           `json:"seq"`
	SourcePath  string        `json:"source_path"`
	Status      string        `json:"status"`
	OutputPath  string        `json:"output_path,omitempty"`
	SummaryHash string        `json:"summary_hash,omitempty"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Outcome is what a finished run reports back to the ledger.
type Outcome struct {
	State      string
	Results    []summarize.JobResult
	ReportPath string
	Err        error
}

// Ledger provides run history operations.
type Ledger struct {
	db  *store.SQLiteStore
	now func() time.Time
}

// Open opens (or creates) the ledger database at path, refuses databases
// written by a newer binary, and applies pending migrations.
func Open(ctx context.Context, path, appVersion string) (*Ledger, error) {
	db, err := store.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.CheckVersion(ctx, appVersion); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx, component, migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Ping verifies the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.DB().PingContext(ctx)
}

// StartRun records a new running run and returns its ID. IDs sort by start
// time.
func (l *Ledger) StartRun(ctx context.Context, folder string, total int) (string, error) {
	now := l.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	_, err := l.db.DB().ExecContext(ctx, `
		INSERT INTO ledger_runs (id, folder, started_at, state, total)
		VALUES (?, ?, ?, ?, ?)`,
		id, folder, now, StateRunning, total,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of run id and all of its results in one
// transaction.
func (l *Ledger) FinishRun(ctx context.Context, id string, out Outcome) error {
	tally := summarize.Count(out.Results)
	var errMsg string
	if out.Err != nil {
		errMsg = out.Err.Error()
	}

	return l.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_runs SET
				ended_at = ?, state = ?, succeeded = ?, skipped = ?, failed = ?,
				report_path = ?, error_msg = ?
			WHERE id = ?`,
			l.now().UTC(), out.State, tally.Success, tally.Skipped, tally.Failed,
			out.ReportPath, errMsg, id,
		)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ledger_results (
				run_id, seq, source_path, status, output_path, summary_hash, error_msg, elapsed_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare result insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range out.Results {
			var hash string
			if s, ok := r.Summary.Get(); ok {
				hash = Hash(s)
			}
			_, err := stmt.ExecContext(ctx,
				id, i, r.SourcePath, string(r.Status), r.OutputPath.OrEmpty(),
				hash, r.ErrorText(), r.Elapsed.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("insert result %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListRuns returns the newest runs first, at most limit (all when limit <= 0).
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT id, folder, started_at, ended_at, state, total, succeeded, skipped, failed, report_path, error_msg
		FROM ledger_runs ORDER BY id DESC LIMIT ?`, limit)
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
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns run id with its results in input order.
func (l *Ledger) GetRun(ctx context.Context, id string) (*Run, []Result, error) {
	run, err := scanRun(l.db.DB().QueryRowContext(ctx, `
		SELECT id, folder, started_at, ended_at, state, total, succeeded, skipped, failed, report_path, error_msg
		FROM ledger_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT seq, source_path, status, output_path, summary_hash, error_msg, elapsed_ms
		FROM ledger_results WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var ms int64
		if err := rows.Scan(&r.Seq, &r.SourcePath, &r.Status, &r.OutputPath, &r.SummaryHash, &r.Error, &ms); err != nil {
			return nil, nil, fmt.Errorf("scan result: %w", err)
		}
		r.Elapsed = time.Duration(ms) * time.Millisecond
		results = append(results, r)
	}
	return run, results, rows.Err()
}

// Hash is the hex BLAKE3-256 digest of a summary body.
func Hash(summary string) string {
	sum := blake3.Sum256([]byte(summary))
	return hex.EncodeToString(sum[:])
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var ended sql.NullTime
	err := row.Scan(&r.ID, &r.Folder, &r.StartedAt, &ended, &r.State, &r.Total,
		&r.Tally.Success, &r.Tally.Skipped, &r.Tally.Failed, &r.ReportPath, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return &r, nil
}
