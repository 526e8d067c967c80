package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/ledger/store"
)

type engineFixture struct {
	engine   *Engine
	store    *store.Memory
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	tracker  *Tracker
	observer *recordingObserver
	clock    *fakeClock
}

// newEngineFixture builds an engine whose clock reads 17:50 on 11-01-2025
// in Asia/Dhaka, so the target date is 10-01-2025.
func newEngineFixture(t *testing.T, entries ...ledger.Entry) *engineFixture {
	t.Helper()
	loc := dhaka(t)
	f := &engineFixture{
		store:    store.NewMemory(entries...),
		fetcher:  &fakeFetcher{balance: dec("70.20")},
		notifier: &fakeNotifier{},
		observer: &recordingObserver{},
		clock:    &fakeClock{now: time.Date(2025, time.January, 11, 17, 50, 0, 0, loc)},
	}
	f.tracker = NewTracker(f.store)

	var err error
	f.engine, err = NewEngine(f.fetcher, f.store, f.notifier,
		WithClock(f.clock),
		WithLocation(loc),
		WithTracker(f.tracker),
		WithRunLog(f.store),
		WithObserver(f.observer),
	)
	require.NoError(t, err)
	return f
}

func (f *engineFixture) check() RunStatus {
	return f.engine.PerformDailyCheck(context.Background(), CheckConfig{Account: testAccount()})
}

var (
	jan9  = ledger.NewDate(2025, time.January, 9)
	jan10 = ledger.NewDate(2025, time.January, 10)
)

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestPerformDailyCheck_AppendsRowAndNotifies(t *testing.T) {
	// GIVEN: ledger ends (09-01-2025, 12.30, 87.70), API returns 70.20
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))

	// WHEN
	status := f.check()

	// THEN: row (10-01-2025, 17.50, 70.20) and one notification
	assert.Equal(t, StateSuccess, status.State)
	assert.False(t, status.Skipped)
	assert.Equal(t, jan10, status.TargetDate)

	entries, err := f.store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"10-01-2025", "17.50", "70.20"}, entries[1].Row())

	require.Equal(t, 1, f.notifier.count())
	sent := f.notifier.sent[0]
	assert.Equal(t, "70.20", sent.Balance.StringFixed(2))
	assert.Equal(t, "17.50", ledger.FormatAmount(sent.Consumption))
	assert.Equal(t, jan10, sent.Date)
	assert.Equal(t, "memory://ledger", sent.Reference)
	assert.Empty(t, sent.Attachment)
}

func TestPerformDailyCheck_EmptyLedgerBootstrapsZero(t *testing.T) {
	f := newEngineFixture(t)

	status := f.check()

	assert.Equal(t, StateSuccess, status.State)
	entries, _ := f.store.ReadAll(context.Background())
	require.Len(t, entries, 1)
	assert.Equal(t, "0.00", ledger.FormatAmount(entries[0].Consumption))
	assert.Equal(t, "70.20", ledger.FormatAmount(entries[0].Balance))
}

func TestPerformDailyCheck_MalformedTailIsIgnored(t *testing.T) {
	f := newEngineFixture(t,
		row(ledger.NewDate(2025, time.January, 8), "0", "100.00"),
		ledger.ParseRow([]string{"09-01-2025", "x", "#N/A"}),
	)

	f.check()

	entries, _ := f.store.ReadAll(context.Background())
	last, ok := ledger.Latest(entries)
	require.True(t, ok)
	assert.Equal(t, "29.80", ledger.FormatAmount(last.Consumption))
}

func TestPerformDailyCheck_ExplicitReferenceWins(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.PerformDailyCheck(context.Background(), CheckConfig{
		Account:   testAccount(),
		Reference: "https://docs.google.com/spreadsheets/d/abc",
	})

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/abc", f.notifier.sent[0].Reference)
}

// =============================================================================
// IDEMPOTENCE
// =============================================================================

func TestPerformDailyCheck_SecondRunSameDaySkipsWriteAndNotify(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))

	first := f.check()
	f.fetcher.balance = dec("60.00")
	second := f.check()

	assert.False(t, first.Skipped)
	assert.True(t, second.Skipped)
	assert.Equal(t, StateSuccess, second.State)
	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, 1, f.notifier.count())

	entries, _ := f.store.ReadAll(context.Background())
	assert.Equal(t, "70.20", ledger.FormatAmount(entries[1].Balance), "existing row must not be overwritten")
	assert.Equal(t, "17.50", ledger.FormatAmount(second.LastConsumption))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestPerformDailyCheck_FetchFailureHasNoSideEffects(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	require.NoError(t, f.tracker.Rebuild(context.Background()))
	f.fetcher.err = &FetchError{Kind: FetchStatus, Op: "balance", StatusCode: 503}

	status := f.check()

	assert.Equal(t, StateFetchFailed, status.State)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "503")
	assert.Equal(t, 1, f.store.Len())
	assert.Zero(t, f.notifier.count())

	snap := f.tracker.Snapshot()
	assert.Equal(t, StateFetchFailed, snap.State)
	assert.Equal(t, "87.70", ledger.FormatAmount(snap.LastBalance))
	assert.Equal(t, "12.30", ledger.FormatAmount(snap.LastConsumption))
}

func TestPerformDailyCheck_PlainFetchErrorIsClassifiedAsNetwork(t *testing.T) {
	f := newEngineFixture(t)
	f.fetcher.err = errors.New("dial tcp: i/o timeout")

	_, err := f.engine.fetch(context.Background(), testAccount())

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FetchNetwork, fe.Kind)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestPerformDailyCheck_WriteFailureStillNotifies(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	f.store.WriteErr = errors.New("quota exceeded")

	status := f.check()

	assert.Equal(t, StatePartialFailure, status.State)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "17.50", ledger.FormatAmount(status.LastConsumption))
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "quota exceeded")
}

func TestPerformDailyCheck_ReadFailureSkipsWriteButNotifies(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	f.store.ReadErr = errors.New("sheet locked")

	status := f.check()

	assert.Equal(t, StatePartialFailure, status.State)
	assert.Equal(t, 1, f.store.Len())
	require.Equal(t, 1, f.notifier.count())
	assert.False(t, f.notifier.sent[0].Consumption.Valid)
}

func TestPerformDailyCheck_NotifyFailureKeepsLedgerWrite(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	f.notifier.err = errors.New("535 authentication failed")

	status := f.check()

	assert.Equal(t, StatePartialFailure, status.State)
	assert.Equal(t, 2, f.store.Len())
}

func TestPerformDailyCheck_InvalidConfig(t *testing.T) {
	f := newEngineFixture(t)

	status := f.engine.PerformDailyCheck(context.Background(), CheckConfig{
		Account: Account{AccountNo: "1", SystemType: "tkdes"},
	})

	assert.Equal(t, StateConfigError, status.State)
	assert.Contains(t, status.Err(), "account.meter_no")
	assert.Zero(t, f.fetcher.calls)
	assert.Zero(t, f.store.Len())
}

func TestPerformDailyCheck_CheckLocationOverridesDefault(t *testing.T) {
	// GIVEN: 10:00 on 11-01-2025 in Dhaka
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	f.clock.Set(time.Date(2025, time.January, 11, 10, 0, 0, 0, dhaka(t)))

	// WHEN: the check carries Los Angeles, where it is still 10-01 20:00
	status := f.engine.PerformDailyCheck(context.Background(), CheckConfig{
		Account:  testAccount(),
		Location: la,
	})

	// THEN: the target is the day before in Los Angeles, already recorded
	assert.Equal(t, jan9, status.TargetDate)
	assert.True(t, status.Skipped)
	assert.Equal(t, la, f.engine.Location(CheckConfig{Location: la}))
	assert.Equal(t, dhaka(t).String(), f.engine.Location(CheckConfig{}).String())
}

func TestSetNotifier(t *testing.T) {
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))
	replacement := &fakeNotifier{}

	require.NoError(t, f.engine.SetNotifier(replacement))
	assert.Error(t, f.engine.SetNotifier(nil))
	f.check()

	assert.Zero(t, f.notifier.count())
	assert.Equal(t, 1, replacement.count())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPerformDailyCheck_ConcurrentChecksWriteOnce(t *testing.T) {
	// GIVEN: a ledger ending 09-01-2025
	f := newEngineFixture(t, row(jan9, "12.30", "87.70"))

	// WHEN: manual and scheduled checks race for the same target date
	const n = 16
	statuses := make([]RunStatus, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trigger := ledger.TriggerManual
			if i%2 == 1 {
				trigger = ledger.TriggerSchedule
			}
			statuses[i] = f.engine.PerformDailyCheck(context.Background(), CheckConfig{
				Account: testAccount(),
				Trigger: trigger,
			})
		}(i)
	}
	wg.Wait()

	// THEN: exactly one row is appended and one notification sent
	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, 1, f.notifier.count())

	written := 0
	for _, s := range statuses {
		assert.Equal(t, StateSuccess, s.State)
		assert.Equal(t, "17.50", ledger.FormatAmount(s.LastConsumption))
		if !s.Skipped {
			written++
		}
	}
	assert.Equal(t, 1, written)
}

// =============================================================================
// RECORDING
// =============================================================================

func TestPerformDailyCheck_RecordsRunHistoryAndObserver(t *testing.T) {
	f := newEngineFixture(t)

	f.check()
	f.engine.PerformDailyCheck(context.Background(), CheckConfig{
		Account: testAccount(),
		Trigger: ledger.TriggerSchedule,
	})

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, string(StateSuccess), r.State)
		assert.Equal(t, jan10, r.TargetDate)
		assert.False(t, r.CompletedAt.IsZero())
	}

	require.Len(t, f.observer.runs, 2)
	assert.Equal(t, ledger.TriggerManual, f.observer.runs[0].Trigger)
	assert.Equal(t, ledger.TriggerSchedule, f.observer.runs[1].Trigger)
	assert.True(t, f.observer.runs[1].Skipped)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(nil, store.NewMemory(), &fakeNotifier{})
	assert.Error(t, err)
	_, err = NewEngine(&fakeFetcher{}, nil, &fakeNotifier{})
	assert.Error(t, err)
	_, err = NewEngine(&fakeFetcher{}, store.NewMemory(), nil)
	assert.Error(t, err)
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	cause := errors.New("boom")
	assert.ErrorIs(t, &StoreError{Op: "write", Err: cause}, ErrStore)
	assert.ErrorIs(t, &StoreError{Op: "write", Err: cause}, cause)
	assert.ErrorIs(t, &NotifyError{Err: cause}, ErrNotify)
	assert.ErrorIs(t, &ConfigError{Field: "x", Reason: "y"}, ErrConfig)
	assert.ErrorIs(t, &FetchError{Kind: FetchShape, Op: "balance"}, ErrFetch)
}
