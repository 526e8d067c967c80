package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhrishan/desco-monitor/ledger"
)

// State is the outcome label shown to users.
type State string

const (
	StateNotStarted     State = "Not started"
	StateSuccess        State = "Success"
	StatePartialFailure State = "Partial failure"
	StateFetchFailed    State = "Failed to fetch balance"
	StateConfigError    State = "Invalid configuration"
)

// RunStatus describes the most recent check. Zero times mean "never".
type RunStatus struct {
	State           State
	Trigger         ledger.Trigger
	TargetDate      ledger.Date
	LastRun         time.Time
	NextRun         time.Time
	LastBalance     decimal.NullDecimal
	LastConsumption decimal.NullDecimal
	Skipped         bool
	Errors          []string
}

// Err joins the collected error messages, or returns "".
func (s RunStatus) Err() string {
	return strings.Join(s.Errors, "; ")
}

// Tracker holds the RunStatus shown on the control surface. It is rebuilt
// from the ledger on startup and updated after every check.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
	store  ledger.Store
}

func NewTracker(store ledger.Store) *Tracker {
	return &Tracker{
		status: RunStatus{State: StateNotStarted},
		store:  store,
	}
}

// Rebuild seeds last balance and consumption from the newest ledger row.
// The state stays Not started.
func (t *Tracker) Rebuild(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	entries, err := t.store.ReadAll(ctx)
	if err != nil {
		return &StoreError{Op: "read", Err: err}
	}
	last, ok := ledger.Latest(entries)
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TargetDate = last.Date
	t.status.LastBalance = last.Balance
	t.status.LastConsumption = last.Consumption
	return nil
}

// Record merges the result of a check. A run that never reached the
// balance keeps the previously known balance and consumption as a pair. A
// run that fetched a balance but could not derive consumption reports the
// consumption as unknown.
func (t *Tracker) Record(s RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.status.NextRun
	prevBalance, prevConsumption := t.status.LastBalance, t.status.LastConsumption

	t.status = s
	t.status.Errors = append([]string(nil), s.Errors...)
	t.status.NextRun = next
	if !s.LastBalance.Valid {
		t.status.LastBalance = prevBalance
		t.status.LastConsumption = prevConsumption
	}
}

func (t *Tracker) SetNextRun(next time.Time) {
	t.mu.Lock()
	t.status.NextRun = next
	t.mu.Unlock()
}

// Snapshot returns a copy safe to hand to callers.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	s.Errors = append([]string(nil), t.status.Errors...)
	return s
}

// Consumption returns the cached consumption, falling back to the newest
// ledger row when nothing is cached yet.
func (t *Tracker) Consumption(ctx context.Context) (decimal.NullDecimal, error) {
	t.mu.RLock()
	cached := t.status.LastConsumption
	t.mu.RUnlock()
	if cached.Valid || t.store == nil {
		return cached, nil
	}

	entries, err := t.store.ReadAll(ctx)
	if err != nil {
		return decimal.NullDecimal{}, &StoreError{Op: "read", Err: err}
	}
	last, ok := ledger.Latest(entries)
	if !ok || !last.Consumption.Valid {
		return decimal.NullDecimal{}, nil
	}

	t.mu.Lock()
	if !t.status.LastConsumption.Valid {
		t.status.LastConsumption = last.Consumption
	}
	t.mu.Unlock()
	return last.Consumption, nil
}
