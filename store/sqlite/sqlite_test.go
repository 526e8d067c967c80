package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "desco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(day int, consumption, balance string) ledger.Entry {
	return ledger.NewEntry(
		ledger.NewDate(2025, time.January, day),
		decimal.RequireFromString(consumption),
		decimal.RequireFromString(balance),
	)
}

func TestStore_UpsertAndReadAllInDateOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN: rows written out of order
	require.NoError(t, s.Upsert(ctx, entry(10, "17.50", "70.20")))
	require.NoError(t, s.Upsert(ctx, entry(9, "12.30", "87.70")))

	// WHEN
	entries, err := s.ReadAll(ctx)

	// THEN
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"09-01-2025", "12.30", "87.70"}, entries[0].Row())
	assert.Equal(t, []string{"10-01-2025", "17.50", "70.20"}, entries[1].Row())
}

func TestStore_UpsertReplacesSameDate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Upsert(ctx, entry(10, "17.50", "70.20")))
	require.NoError(t, s.Upsert(ctx, entry(10, "1.00", "69.00")))

	entries, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "69.00", ledger.FormatAmount(entries[0].Balance))
}

func TestStore_RejectsUndatedEntry(t *testing.T) {
	err := newStore(t).Upsert(context.Background(), ledger.Entry{})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestStore_MemoryDatabase(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, entry(1, "0", "100")))
	entries, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, ":memory:", s.Reference())
}

func TestStore_RunsUpsertByIDNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2025, time.January, 11, 11, 50, 0, 0, time.UTC)

	run := ledger.Run{
		ID:         "run-1",
		Trigger:    ledger.TriggerSchedule,
		TargetDate: ledger.NewDate(2025, time.January, 10),
		State:      "Running",
		StartedAt:  base,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	run.State = "Success"
	run.Balance = decimal.NewNullDecimal(decimal.RequireFromString("70.2"))
	run.Consumption = decimal.NewNullDecimal(decimal.RequireFromString("17.5"))
	run.CompletedAt = base.Add(3 * time.Second)
	require.NoError(t, s.SaveRun(ctx, run))

	require.NoError(t, s.SaveRun(ctx, ledger.Run{
		ID:         "run-2",
		Trigger:    ledger.TriggerManual,
		TargetDate: ledger.NewDate(2025, time.January, 11),
		State:      "Failed to fetch balance",
		Error:      "fetch balance: unexpected status 503",
		StartedAt:  base.Add(24 * time.Hour),
	}))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, ledger.TriggerManual, runs[0].Trigger)
	assert.False(t, runs[0].Balance.Valid)
	assert.True(t, runs[0].CompletedAt.IsZero())
	assert.Contains(t, runs[0].Error, "503")

	assert.Equal(t, "Success", runs[1].State)
	assert.Equal(t, "70.20", ledger.FormatAmount(runs[1].Balance))
	assert.Equal(t, "17.50", ledger.FormatAmount(runs[1].Consumption))
	assert.Equal(t, ledger.NewDate(2025, time.January, 10), runs[1].TargetDate)
	assert.True(t, base.Add(3*time.Second).Equal(runs[1].CompletedAt))

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Upsert(ctx, entry(1, "0", "100")))
	require.NoError(t, s.SaveRun(ctx, ledger.Run{ID: "r", StartedAt: time.Now()}))

	require.NoError(t, s.Reset(ctx))

	entries, _ := s.ReadAll(ctx)
	runs, _ := s.ListRuns(ctx, 0)
	assert.Empty(t, entries)
	assert.Empty(t, runs)
}
