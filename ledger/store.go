/*
store.go - Persistence interfaces for the ledger and check-run history

PURPOSE:
  Defines the contract between the reconciliation engine and the storage
  backend. The engine only needs to read the whole ledger and upsert one row.

KEY INTERFACES:
  Store:  Ledger rows (read-all, upsert by date)
  RunLog: History of check runs (append/update, list)

UPSERT CONTRACT:
  - Inserts if the date is absent, replaces the row in place if present
  - Rows are sorted by date after every mutation
  - The first write to an empty backend establishes the header/schema
  - Malformed rows already present are preserved, never rejected on read

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite (ledger + run history)
  - store/csvfile/csvfile.go: CSV flat file
  - store/xlsx/xlsx.go: Spreadsheet workbook

SEE ALSO:
  - ledger.go: Helpers the engine applies to ReadAll results
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Ledger rows
// =============================================================================

// Store persists ledger entries.
type Store interface {
	// ReadAll returns every row ordered by date. Malformed rows are returned
	// as entries with invalid fields rather than as an error.
	ReadAll(ctx context.Context) ([]Entry, error)

	// Upsert inserts the entry or replaces the row with the same date.
	Upsert(ctx context.Context, e Entry) error

	// Reference is where a person can look at the ledger (path or URL).
	Reference() string
}

// =============================================================================
// RUN LOG - Check-run history
// =============================================================================

// Trigger identifies what started a check run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerCLI      Trigger = "cli"
)

// Run records one daily check for audit and UI display.
type Run struct {
	ID          string
	Trigger     Trigger
	TargetDate  Date
	State       string
	Skipped     bool
	Balance     decimal.NullDecimal
	Consumption decimal.NullDecimal
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunLog stores check runs. SaveRun upserts by ID.
type RunLog interface {
	SaveRun(ctx context.Context, r Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
