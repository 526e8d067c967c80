/*
Package ledger provides the daily consumption ledger model.

PURPOSE:
  A ledger is an ordered sequence of one row per calendar date recording the
  prepaid balance observed for that date and the consumption derived from the
  previous row. Backends (SQLite, CSV, spreadsheet) all speak this model.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: one ledger row (date, consumption, balance)
  - Amounts: decimal.NullDecimal so malformed cells survive a read as
    "present but invalid" instead of failing the whole read
  - Header: the column titles written on first write

INVARIANTS:
  1. At most one entry per date (upsert by date, never duplicate)
  2. Entries ordered by date ascending after every mutation
  3. Amounts are written as two-decimal fixed strings

SEE ALSO:
  - ledger.go: Lookup and reconciliation helpers over []Entry
  - store.go: Store and RunLog interfaces
  - date.go: Date type and text layouts
*/
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Header is the first row of every file-backed ledger.
var Header = []string{"Date", "DailyConsumption(BDT)", "Balance(BDT)"}

// Entry is one ledger row.
type Entry struct {
	Date        Date
	RawDate     string // original cell text when Date could not be parsed
	Consumption decimal.NullDecimal
	Balance     decimal.NullDecimal
}

// NewEntry builds a valid entry with both amounts rounded to two places.
func NewEntry(date Date, consumption, balance decimal.Decimal) Entry {
	return Entry{
		Date:        date,
		Consumption: decimal.NewNullDecimal(consumption.Round(2)),
		Balance:     decimal.NewNullDecimal(balance.Round(2)),
	}
}

// Valid reports whether the row has a usable date and balance.
func (e Entry) Valid() bool {
	return !e.Date.IsZero() && e.Balance.Valid
}

// DateText returns the date cell as it should be written back.
func (e Entry) DateText() string {
	if e.Date.IsZero() {
		return e.RawDate
	}
	return e.Date.String()
}

// Row renders the entry as the three text cells of a file-backed ledger.
func (e Entry) Row() []string {
	return []string{e.DateText(), FormatAmount(e.Consumption), FormatAmount(e.Balance)}
}

// ParseRow reads three text cells. It never fails: unparseable cells become
// invalid fields and short rows get empty cells.
func ParseRow(cells []string) Entry {
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	var e Entry
	if d, err := ParseDate(get(0)); err == nil {
		e.Date = d
	} else {
		e.RawDate = get(0)
	}
	e.Consumption = ParseAmount(get(1))
	e.Balance = ParseAmount(get(2))
	return e
}

// IsHeader reports whether a row is the header row (matched on the first cell).
func IsHeader(cells []string) bool {
	return len(cells) > 0 && strings.EqualFold(strings.TrimSpace(cells[0]), Header[0])
}

// ParseAmount parses a decimal cell; anything else yields an invalid value.
func ParseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FormatAmount renders a two-decimal fixed string, empty when invalid.
func FormatAmount(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}
