// Package store provides an in-memory ledger.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mhrishan/desco-monitor/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries []ledger.Entry
	runs    map[string]ledger.Run

	// ReadErr and WriteErr, when set, are returned by the next calls to
	// ReadAll and Upsert. Tests use them to simulate backend failures.
	ReadErr  error
	WriteErr error

	reference string
}

func NewMemory(entries ...ledger.Entry) *Memory {
	m := &Memory{
		runs:      make(map[string]ledger.Run),
		reference: "memory://ledger",
	}
	m.entries = append(m.entries, entries...)
	ledger.Sort(m.entries)
	return m
}

// ReadAll returns a copy of all rows in date order.
func (m *Memory) ReadAll(_ context.Context) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadErr != nil {
		return nil, &ledger.BackendError{Backend: "memory", Op: "read", Err: m.ReadErr}
	}
	result := make([]ledger.Entry, len(m.entries))
	copy(result, m.entries)
	return result, nil
}

// Upsert inserts or replaces the row for e.Date.
func (m *Memory) Upsert(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return &ledger.BackendError{Backend: "memory", Op: "write", Err: m.WriteErr}
	}
	if err := ledger.ValidateEntry(e); err != nil {
		return err
	}
	m.entries = ledger.Upsert(m.entries, e)
	return nil
}

func (m *Memory) Reference() string { return m.reference }

// Len returns the number of rows, malformed ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, r ledger.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

// ListRuns returns runs newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]ledger.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]ledger.Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
