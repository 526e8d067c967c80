package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mhrishan/desco-monitor/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeFetcher struct {
	mu      sync.Mutex
	balance decimal.Decimal
	err     error
	calls   int
}

func (f *fakeFetcher) FetchBalance(_ context.Context, _ Account) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balance, f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingObserver struct {
	mu     sync.Mutex
	runs   []RunStatus
	active []bool
}

func (o *recordingObserver) ObserveRun(s RunStatus, _ time.Duration) {
	o.mu.Lock()
	o.runs = append(o.runs, s)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveScheduler(active bool) {
	o.mu.Lock()
	o.active = append(o.active, active)
	o.mu.Unlock()
}

func dhaka(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)
	return loc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAccount() Account {
	return Account{AccountNo: "12345678", MeterNo: "661100000000", SystemType: "tkdes"}
}

func row(d ledger.Date, consumption, balance string) ledger.Entry {
	return ledger.NewEntry(d, dec(consumption), dec(balance))
}
