/*
engine.go - Daily balance reconciliation

PURPOSE:
  Runs one daily check: fetch the current balance, derive yesterday's
  consumption from the ledger, persist one row, notify the recipient.

FLOW:
  1. Validate config             -> Invalid configuration, no side effects
  2. Fetch balance               -> Failed to fetch balance, no side effects
  3. Target date = yesterday in the configured zone
  4. Read ledger; row for target date already present
                                 -> Success (skipped), no write, no notification
  5. consumption = round(last valid balance - current, 2), 0.00 if none
  6. Upsert (target, consumption, current)   failure -> StoreError, continue
  7. Notify                                  failure -> NotifyError
  8. Success, or Partial failure when 6 or 7 failed

  A failed ledger read skips the write (the duplicate check cannot be made)
  but still notifies.

CONCURRENCY:
  PerformDailyCheck holds the engine mutex for the whole check, so a manual
  run and a scheduled run never interleave.

SEE ALSO:
  - scheduler.go: Fires PerformDailyCheck once per day
  - status.go: Tracker receiving every RunStatus
  - ledger/ledger.go: Find, Consumption
*/
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/ledger"
)

// Default per-call timeouts.
const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultStoreTimeout  = 30 * time.Second
	DefaultNotifyTimeout = 60 * time.Second
)

// BalanceFetcher returns the current prepaid balance for an account.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, account Account) (decimal.Decimal, error)
}

// Notifier delivers the outcome of a check.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// fileBacked is implemented by stores that live in a local file which can
// be attached to a notification.
type fileBacked interface {
	Path() string
}

// Engine performs daily checks.
type Engine struct {
	mu sync.Mutex

	fetcher  BalanceFetcher
	store    ledger.Store
	notifier Notifier

	tracker  *Tracker
	runs     ledger.RunLog
	observer Observer
	clock    Clock
	loc      *time.Location
	logger   *zap.Logger

	fetchTimeout  time.Duration
	storeTimeout  time.Duration
	notifyTimeout time.Duration

	seq atomic.Uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithTracker(t *Tracker) EngineOption { return func(e *Engine) { e.tracker = t } }

func WithRunLog(r ledger.RunLog) EngineOption { return func(e *Engine) { e.runs = r } }

func WithObserver(o Observer) EngineOption { return func(e *Engine) { e.observer = o } }

func WithClock(c Clock) EngineOption { return func(e *Engine) { e.clock = c } }

// WithLocation sets the zone used when a CheckConfig carries none.
func WithLocation(loc *time.Location) EngineOption { return func(e *Engine) { e.loc = loc } }

func WithLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

// WithTimeouts overrides the per-call timeouts. Zero keeps the default.
func WithTimeouts(fetch, store, notify time.Duration) EngineOption {
	return func(e *Engine) {
		if fetch > 0 {
			e.fetchTimeout = fetch
		}
		if store > 0 {
			e.storeTimeout = store
		}
		if notify > 0 {
			e.notifyTimeout = notify
		}
	}
}

func NewEngine(fetcher BalanceFetcher, store ledger.Store, notifier Notifier, opts ...EngineOption) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("monitor: nil balance fetcher")
	}
	if store == nil {
		return nil, errors.New("monitor: nil ledger store")
	}
	if notifier == nil {
		return nil, errors.New("monitor: nil notifier")
	}

	e := &Engine{
		fetcher:       fetcher,
		store:         store,
		notifier:      notifier,
		clock:         SystemClock{},
		loc:           time.Local,
		logger:        zap.NewNop(),
		fetchTimeout:  DefaultFetchTimeout,
		storeTimeout:  DefaultStoreTimeout,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetNotifier replaces the notifier. It waits for an in-flight check, so a
// check never mixes two notifiers.
func (e *Engine) SetNotifier(n Notifier) error {
	if n == nil {
		return errors.New("monitor: nil notifier")
	}
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
	return nil
}

// Tracker returns the tracker results are recorded to, or nil.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Store returns the ledger the engine writes to.
func (e *Engine) Store() ledger.Store { return e.store }

// Location returns the zone cfg's target date is computed in.
func (e *Engine) Location(cfg CheckConfig) *time.Location {
	if cfg.Location != nil {
		return cfg.Location
	}
	return e.loc
}

// PerformDailyCheck runs one reconciliation. It never returns an error:
// every failure is folded into the returned RunStatus.
func (e *Engine) PerformDailyCheck(ctx context.Context, cfg CheckConfig) RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.clock.Now()
	trigger := cfg.Trigger
	if trigger == "" {
		trigger = ledger.TriggerManual
	}

	run := ledger.Run{
		ID:         e.nextRunID(started),
		Trigger:    trigger,
		TargetDate: TargetDate(started, e.Location(cfg)),
		State:      "Running",
		StartedAt:  started,
	}
	e.saveRun(ctx, run)

	status := e.check(ctx, cfg, started)
	status.Trigger = trigger

	run.State = string(status.State)
	run.Skipped = status.Skipped
	run.Balance = status.LastBalance
	run.Consumption = status.LastConsumption
	run.Error = status.Err()
	run.CompletedAt = e.clock.Now()
	e.saveRun(ctx, run)

	if e.tracker != nil {
		e.tracker.Record(status)
	}
	if e.observer != nil {
		e.observer.ObserveRun(status, run.CompletedAt.Sub(started))
	}
	return status
}

func (e *Engine) check(ctx context.Context, cfg CheckConfig, now time.Time) RunStatus {
	target := TargetDate(now, e.Location(cfg))
	status := RunStatus{LastRun: now, TargetDate: target}
	log := e.logger.With(
		zap.String("target_date", target.String()),
		zap.String("account", cfg.Account.AccountNo),
	)

	if err := cfg.Validate(); err != nil {
		status.State = StateConfigError
		status.Errors = append(status.Errors, err.Error())
		log.Error("daily check rejected", zap.Error(err))
		return status
	}

	balance, err := e.fetch(ctx, cfg.Account)
	if err != nil {
		status.State = StateFetchFailed
		status.Errors = append(status.Errors, err.Error())
		log.Warn("balance fetch failed", zap.Error(err))
		return status
	}
	status.LastBalance = decimal.NewNullDecimal(balance)
	log = log.With(zap.String("balance", balance.StringFixed(2)))

	var failed bool
	entries, err := e.readLedger(ctx)
	switch {
	case err != nil:
		failed = true
		status.Errors = append(status.Errors, err.Error())
		log.Error("ledger read failed, skipping write", zap.Error(err))

	default:
		if existing, ok := ledger.Find(entries, target); ok {
			status.State = StateSuccess
			status.Skipped = true
			status.LastConsumption = existing.Consumption
			log.Info("target date already recorded, skipping write and notification")
			return status
		}

		consumption := ledger.Consumption(entries, balance)
		status.LastConsumption = decimal.NewNullDecimal(consumption)
		if err := e.writeLedger(ctx, ledger.NewEntry(target, consumption, balance)); err != nil {
			failed = true
			status.Errors = append(status.Errors, err.Error())
			log.Error("ledger write failed", zap.Error(err))
		} else {
			log.Info("ledger updated", zap.String("consumption", consumption.StringFixed(2)))
		}
	}

	n := Notification{
		Account:     cfg.Account,
		Date:        target,
		Balance:     balance,
		Consumption: status.LastConsumption,
		Reference:   cfg.Reference,
	}
	if n.Reference == "" {
		n.Reference = e.store.Reference()
	}
	if fb, ok := e.store.(fileBacked); ok {
		n.Attachment = fb.Path()
	}
	if err := e.notify(ctx, n); err != nil {
		failed = true
		status.Errors = append(status.Errors, err.Error())
		log.Error("notification failed", zap.Error(err))
	}

	status.State = StateSuccess
	if failed {
		status.State = StatePartialFailure
	}
	log.Info("daily check finished", zap.String("state", string(status.State)))
	return status
}

// Reconciled reports whether the ledger already holds a row for day.
func (e *Engine) Reconciled(ctx context.Context, day ledger.Date) (bool, error) {
	entries, err := e.readLedger(ctx)
	if err != nil {
		return false, err
	}
	_, ok := ledger.Find(entries, day)
	return ok, nil
}

// =============================================================================
// BOUNDED COLLABORATOR CALLS
// =============================================================================

func (e *Engine) fetch(ctx context.Context, account Account) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	balance, err := e.fetcher.FetchBalance(ctx, account)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return decimal.Zero, err
		}
		return decimal.Zero, &FetchError{Kind: FetchNetwork, Op: "balance", Err: err}
	}
	return balance, nil
}

func (e *Engine) readLedger(ctx context.Context) ([]ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	entries, err := e.store.ReadAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}
	return entries, nil
}

func (e *Engine) writeLedger(ctx context.Context, entry ledger.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if err := e.store.Upsert(ctx, entry); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(ctx, n); err != nil {
		return &NotifyError{Err: err}
	}
	return nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (e *Engine) nextRunID(now time.Time) string {
	return fmt.Sprintf("run-%d-%d", now.UnixNano(), e.seq.Add(1))
}

func (e *Engine) saveRun(ctx context.Context, run ledger.Run) {
	if e.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		e.logger.Warn("failed to save run record", zap.String("run_id", run.ID), zap.Error(err))
	}
}
