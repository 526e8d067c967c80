package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/ledger/store"
)

func day(d int) ledger.Date { return ledger.NewDate(2025, time.March, d) }

func TestMemory_UpsertKeepsOneRowPerDate(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.Upsert(ctx, ledger.NewEntry(day(2), decimal.Zero, decimal.NewFromInt(50))))
	require.NoError(t, m.Upsert(ctx, ledger.NewEntry(day(1), decimal.Zero, decimal.NewFromInt(60))))
	require.NoError(t, m.Upsert(ctx, ledger.NewEntry(day(2), decimal.NewFromInt(10), decimal.NewFromInt(50))))

	entries, err := m.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, day(1), entries[0].Date)
	assert.Equal(t, "10.00", ledger.FormatAmount(entries[1].Consumption))
}

func TestMemory_RejectsUndatedEntry(t *testing.T) {
	err := store.NewMemory().Upsert(context.Background(), ledger.Entry{})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestMemory_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	boom := errors.New("disk full")

	m.WriteErr = boom
	err := m.Upsert(ctx, ledger.NewEntry(day(1), decimal.Zero, decimal.NewFromInt(1)))
	assert.ErrorIs(t, err, boom)
	var be *ledger.BackendError
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, "write", be.Op)

	m.ReadErr = boom
	_, err = m.ReadAll(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestMemory_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	base := time.Date(2025, time.March, 1, 17, 50, 0, 0, time.UTC)

	require.NoError(t, m.SaveRun(ctx, ledger.Run{ID: "a", StartedAt: base}))
	require.NoError(t, m.SaveRun(ctx, ledger.Run{ID: "b", StartedAt: base.Add(24 * time.Hour)}))
	require.NoError(t, m.SaveRun(ctx, ledger.Run{ID: "a", StartedAt: base, State: "Success"}))

	runs, err := m.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "Success", runs[1].State)

	limited, err := m.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
