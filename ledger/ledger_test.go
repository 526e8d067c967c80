package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhrishan/desco-monitor/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func entry(day int, consumption, balance string) ledger.Entry {
	return ledger.NewEntry(ledger.NewDate(2025, time.January, day), dec(consumption), dec(balance))
}

// =============================================================================
// DATES
// =============================================================================

func TestParseDate_BothLayouts(t *testing.T) {
	d, err := ledger.ParseDate("09-01-2025")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewDate(2025, time.January, 9), d)

	d, err = ledger.ParseDate("2025-01-09")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewDate(2025, time.January, 9), d)

	_, err = ledger.ParseDate("yesterday")
	assert.ErrorIs(t, err, ledger.ErrInvalidDate)
}

func TestDate_AddDaysCrossesMonthAndYear(t *testing.T) {
	d := ledger.NewDate(2025, time.January, 1).AddDays(-1)
	assert.Equal(t, ledger.NewDate(2024, time.December, 31), d)
	assert.Equal(t, "31-12-2024", d.String())
	assert.Equal(t, "2024-12-31", d.ISO())
}

func TestDateOf_UsesLocation(t *testing.T) {
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	// 20:30 UTC on the 9th is 02:30 on the 10th in Dhaka (UTC+6).
	instant := time.Date(2025, time.January, 9, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, ledger.NewDate(2025, time.January, 10), ledger.DateOf(instant.In(dhaka)))
}

// =============================================================================
// ROWS
// =============================================================================

func TestParseRow_MalformedCellsAreInvalidNotErrors(t *testing.T) {
	e := ledger.ParseRow([]string{"10-01-2025", "n/a", "#REF!"})
	assert.Equal(t, ledger.NewDate(2025, time.January, 10), e.Date)
	assert.False(t, e.Consumption.Valid)
	assert.False(t, e.Balance.Valid)
	assert.False(t, e.Valid())

	short := ledger.ParseRow([]string{"garbage"})
	assert.True(t, short.Date.IsZero())
	assert.Equal(t, "garbage", short.RawDate)
	assert.Equal(t, []string{"garbage", "", ""}, short.Row())
}

func TestEntryRow_TwoDecimalStrings(t *testing.T) {
	e := entry(10, "17.5", "70.2")
	assert.Equal(t, []string{"10-01-2025", "17.50", "70.20"}, e.Row())
}

func TestIsHeader(t *testing.T) {
	assert.True(t, ledger.IsHeader(ledger.Header))
	assert.True(t, ledger.IsHeader([]string{"date", "x"}))
	assert.False(t, ledger.IsHeader([]string{"10-01-2025"}))
	assert.False(t, ledger.IsHeader(nil))
}

// =============================================================================
// RECONCILIATION HELPERS
// =============================================================================

func TestConsumption_DeltaFromLastValidBalance(t *testing.T) {
	entries := []ledger.Entry{entry(1, "0", "100.00"), entry(2, "20", "80.00")}
	assert.True(t, dec("15.00").Equal(ledger.Consumption(entries, dec("65.00"))))
}

func TestConsumption_EmptyLedgerIsZero(t *testing.T) {
	assert.True(t, ledger.Consumption(nil, dec("512.34")).IsZero())
}

func TestConsumption_SkipsMalformedTail(t *testing.T) {
	entries := []ledger.Entry{
		entry(1, "0", "100.00"),
		ledger.ParseRow([]string{"02-01-2025", "", "oops"}),
		ledger.ParseRow([]string{"03-01-2025"}),
	}
	assert.True(t, dec("25.00").Equal(ledger.Consumption(entries, dec("75.00"))))
}

func TestConsumption_AllMalformedIsZero(t *testing.T) {
	entries := []ledger.Entry{ledger.ParseRow([]string{"01-01-2025", "x", "y"})}
	assert.True(t, ledger.Consumption(entries, dec("10")).IsZero())
}

func TestConsumption_RoundsToCents(t *testing.T) {
	entries := []ledger.Entry{entry(1, "0", "100.005")}
	// NewEntry rounds stored balances; a raw row keeps full precision.
	raw := []ledger.Entry{ledger.ParseRow([]string{"01-01-2025", "0", "100.005"})}
	assert.Equal(t, "0.01", ledger.Consumption(entries, dec("99.999")).StringFixed(2))
	assert.Equal(t, "0.01", ledger.Consumption(raw, dec("99.999")).StringFixed(2))
}

func TestUpsert_InsertsSortedAndReplacesInPlace(t *testing.T) {
	entries := []ledger.Entry{entry(1, "0", "100"), entry(3, "10", "90")}

	inserted := ledger.Upsert(entries, entry(2, "5", "95"))
	require.Len(t, inserted, 3)
	assert.Equal(t, 2, inserted[1].Date.Day)
	assert.Len(t, entries, 2, "input must not be modified")

	replaced := ledger.Upsert(inserted, entry(2, "7", "93"))
	require.Len(t, replaced, 3)
	assert.Equal(t, "93.00", ledger.FormatAmount(replaced[1].Balance))
}

func TestSort_UndatedRowsKeepTheirPosition(t *testing.T) {
	// GIVEN: dated rows out of order around a row whose date cell is garbled
	garbled := ledger.ParseRow([]string{"1O-01-2025", "5.00", "80.00"})
	entries := []ledger.Entry{entry(3, "10", "90"), garbled, entry(1, "0", "100")}

	// WHEN
	ledger.Sort(entries)

	// THEN: dated rows are ordered in their own slots, the garbled one stays put
	assert.Equal(t, 1, entries[0].Date.Day)
	assert.Equal(t, "1O-01-2025", entries[1].RawDate)
	assert.Equal(t, 3, entries[2].Date.Day)
}

func TestConsumption_GarbledTrailingDateStillMostRecent(t *testing.T) {
	entries := []ledger.Entry{
		entry(1, "0", "100.00"),
		ledger.ParseRow([]string{"??", "20.00", "80.00"}),
	}
	ledger.Sort(entries)

	assert.Equal(t, "5.00", ledger.Consumption(entries, dec("75.00")).StringFixed(2))
}

func TestFindAndLatest(t *testing.T) {
	entries := []ledger.Entry{entry(1, "0", "100"), entry(2, "5", "95")}

	found, ok := ledger.Find(entries, ledger.NewDate(2025, time.January, 2))
	require.True(t, ok)
	assert.Equal(t, "95.00", ledger.FormatAmount(found.Balance))

	_, ok = ledger.Find(entries, ledger.Date{})
	assert.False(t, ok)

	last, ok := ledger.Latest(entries)
	require.True(t, ok)
	assert.Equal(t, 2, last.Date.Day)

	_, ok = ledger.Latest(nil)
	assert.False(t, ok)
}
