package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER HELPERS - Pure functions over the rows returned by Store.ReadAll
// =============================================================================

// Sort orders the dated entries by date ascending. Rows without a parsed
// date stay at their index, so a garbled trailing row is still the most
// recent one.
func Sort(entries []Entry) {
	var slots []int
	var dated []Entry
	for i, e := range entries {
		if !e.Date.IsZero() {
			slots = append(slots, i)
			dated = append(dated, e)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Date.Before(dated[j].Date)
	})
	for k, i := range slots {
		entries[i] = dated[k]
	}
}

// Find returns the entry for date, if any.
func Find(entries []Entry, date Date) (Entry, bool) {
	if date.IsZero() {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.Date.Equal(date) {
			return e, true
		}
	}
	return Entry{}, false
}

// Latest returns the last row in ledger order, valid or not.
func Latest(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// LastValidBalance scans backward from the most recent row and returns the
// first balance that parsed as a number.
func LastValidBalance(entries []Entry) (decimal.Decimal, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Balance.Valid {
			return entries[i].Balance.Decimal, true
		}
	}
	return decimal.Zero, false
}

// Consumption is the amount spent since the previous valid balance, rounded
// to two places. The first-ever entry always consumes 0.00.
func Consumption(entries []Entry, current decimal.Decimal) decimal.Decimal {
	prev, ok := LastValidBalance(entries)
	if !ok {
		return decimal.Zero
	}
	return prev.Sub(current).Round(2)
}

// Upsert returns a new slice with e inserted or replacing the row of the same
// date, sorted by date. The input slice is not modified.
func Upsert(entries []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	replaced := false
	for _, existing := range entries {
		if !replaced && existing.Date.Equal(e.Date) {
			out = append(out, e)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, e)
	}
	Sort(out)
	return out
}
