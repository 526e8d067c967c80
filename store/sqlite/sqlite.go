/*
Package sqlite provides a SQLite-backed ledger and check-run history.

PURPOSE:
  Implements ledger.Store and ledger.RunLog on a single SQLite file. Used as
  the ledger backend when storage.backend is "sqlite", and as the run
  history for every backend.

INTERFACES IMPLEMENTED:
  ledger.Store:  Daily rows (read-all, upsert by date)
  ledger.RunLog: Check runs (upsert by id, list newest first)

KEY TABLES:
  ledger:     One row per calendar date. Amounts are stored as TEXT so the
              two-decimal values round-trip exactly.
  check_runs: One row per daily check, updated in place when it finishes.

DATES:
  Dates are keyed on ISO YYYY-MM-DD so ORDER BY date is chronological.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/desco.db")
  if err != nil {
      return err
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/mhrishan/desco-monitor/ledger"
)

const backend = "sqlite"

// Store implements ledger.Store and ledger.RunLog using SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Daily ledger, one row per date
	CREATE TABLE IF NOT EXISTS ledger (
		date TEXT PRIMARY KEY,
		consumption TEXT,
		balance TEXT,
		updated_at TEXT NOT NULL
	);

	-- Check runs (for scheduled and manual checks)
	CREATE TABLE IF NOT EXISTS check_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		target_date TEXT NOT NULL,
		state TEXT NOT NULL,
		skipped BOOLEAN DEFAULT FALSE,
		balance TEXT,
		consumption TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_check_runs_started
		ON check_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_check_runs_target
		ON check_runs(target_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER
// =============================================================================

// ReadAll returns every ledger row ordered by date.
func (s *Store) ReadAll(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT date, consumption, balance FROM ledger ORDER BY date`)
	if err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var date string
		var consumption, balance sql.NullString
		if err := rows.Scan(&date, &consumption, &balance); err != nil {
			return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
		}
		e := ledger.ParseRow([]string{date, consumption.String, balance.String})
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	return entries, nil
}

// Upsert inserts the row for e.Date or replaces it.
func (s *Store) Upsert(ctx context.Context, e ledger.Entry) error {
	if err := ledger.ValidateEntry(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ledger (date, consumption, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			consumption = excluded.consumption,
			balance = excluded.balance,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		e.Date.ISO(),
		nullAmount(e.Consumption), nullAmount(e.Balance),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return &ledger.BackendError{Backend: backend, Op: "write", Err: err}
	}
	return nil
}

// Reference returns the database path.
func (s *Store) Reference() string { return s.path }

// =============================================================================
// RUN LOG
// =============================================================================

// SaveRun inserts a run or updates it in place.
func (s *Store) SaveRun(ctx context.Context, r ledger.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO check_runs (id, trigger_source, target_date, state, skipped,
			balance, consumption, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			skipped = excluded.skipped,
			balance = excluded.balance,
			consumption = excluded.consumption,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if !r.CompletedAt.IsZero() {
		c := r.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, string(r.Trigger), r.TargetDate.ISO(), r.State, r.Skipped,
		nullAmount(r.Balance), nullAmount(r.Consumption), nullString(r.Error),
		r.StartedAt.UTC().Format(time.RFC3339Nano), completedAt,
	)
	if err != nil {
		return &ledger.BackendError{Backend: backend, Op: "save run", Err: err}
	}
	return nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger_source, target_date, state, skipped, balance, consumption,
			error, started_at, completed_at
		FROM check_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "list runs", Err: err}
	}
	defer rows.Close()

	var runs []ledger.Run
	for rows.Next() {
		var r ledger.Run
		var trigger, targetDate, startedAt string
		var balance, consumption, errText, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &trigger, &targetDate, &r.State, &r.Skipped,
			&balance, &consumption, &errText, &startedAt, &completedAt,
		); err != nil {
			return nil, &ledger.BackendError{Backend: backend, Op: "list runs", Err: err}
		}

		r.Trigger = ledger.Trigger(trigger)
		r.TargetDate, _ = ledger.ParseDate(targetDate)
		r.Balance = ledger.ParseAmount(balance.String)
		r.Consumption = ledger.ParseAmount(consumption.String)
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt.Valid {
			r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset removes all ledger rows and runs.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"ledger", "check_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullAmount(v decimal.NullDecimal) sql.NullString {
	return nullString(ledger.FormatAmount(v))
}
