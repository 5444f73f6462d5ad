package ledger

import (
	"database/sql"

	"github.com/HerbHall/litdigest/internal/store"
)

// component names the ledger's migration track.
const component = "ledger"

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create ledger tables (runs, results)",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE ledger_runs (
						id          TEXT PRIMARY KEY,
						folder      TEXT NOT NULL,
						started_at  DATETIME NOT NULL,
						ended_at    DATETIME,
						state       TEXT NOT NULL DEFAULT 'running',
						total       INTEGER NOT NULL DEFAULT 0,
						succeeded   INTEGER NOT NULL DEFAULT 0,
						skipped     INTEGER NOT NULL DEFAULT 0,
						failed      INTEGER NOT NULL DEFAULT 0,
						report_path TEXT NOT NULL DEFAULT '',
						error_msg   TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX idx_ledger_runs_started ON ledger_runs(started_at)`,
					`CREATE TABLE ledger_results (
						run_id       TEXT NOT NULL REFERENCES ledger_runs(id) ON DELETE CASCADE,
						seq          INTEGER NOT NULL,
						source_path  TEXT NOT NULL,
						status       TEXT NOT NULL,
						output_path  TEXT NOT NULL DEFAULT '',
						summary_hash TEXT NOT NULL DEFAULT '',
						error_msg    TEXT NOT NULL DEFAULT '',
						elapsed_ms   INTEGER NOT NULL DEFAULT 0,
						PRIMARY KEY (run_id, seq)
					)`,
					`CREATE INDEX idx_ledger_results_source ON ledger_results(source_path)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
