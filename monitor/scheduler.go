/*
scheduler.go - Once-a-day trigger for the daily check

PURPOSE:
  Wakes every PollInterval, compares the local wall clock with the
  configured HH:MM and fires the engine at most once per calendar day.

STATES:
  Idle              - not started, or stopped
  WaitingForTrigger - loop running, trigger minute not reached
  Running           - a check is in progress

DESIGN:
  - One goroutine per Start; Stop cancels its context and waits for it
  - The fired marker records the calendar day of the last fire. On Start it
    is seeded from the ledger so a restart inside the trigger minute does
    not write twice
  - A fire is followed by a cooldown (>= 60s) so the minute cannot match again
  - An in-flight check runs on a context detached from cancellation
  - Panics inside a check are recovered and logged; the loop keeps running

USAGE:
  sched := monitor.NewScheduler(engine, monitor.WithSchedulerLogger(log))
  if err := sched.Start(scheduleCfg, checkCfg); err != nil { ... }
  defer sched.Stop()

SEE ALSO:
  - engine.go: PerformDailyCheck
  - api/handlers.go: start/stop/run endpoints
*/
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/ledger"
)

// DefaultCooldown is the sleep after a fire.
const DefaultCooldown = 60 * time.Second

// SchedulerState is the loop's current phase.
type SchedulerState string

const (
	SchedulerIdle    SchedulerState = "Idle"
	SchedulerWaiting SchedulerState = "WaitingForTrigger"
	SchedulerRunning SchedulerState = "Running"
)

// Checker is the part of Engine the scheduler drives.
type Checker interface {
	PerformDailyCheck(ctx context.Context, cfg CheckConfig) RunStatus
	Reconciled(ctx context.Context, day ledger.Date) (bool, error)
}

type Scheduler struct {
	engine   Checker
	tracker  *Tracker
	observer Observer
	clock    Clock
	logger   *zap.Logger
	cooldown time.Duration

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	state     SchedulerState
	schedule  ScheduleConfig
	check     CheckConfig
	lastFired ledger.Date
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerTracker publishes the next trigger time to t.
func WithSchedulerTracker(t *Tracker) SchedulerOption {
	return func(s *Scheduler) { s.tracker = t }
}

func WithSchedulerObserver(o Observer) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithCooldown overrides the post-fire sleep. Values under 60s are raised
// to 60s.
func WithCooldown(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > DefaultCooldown {
			s.cooldown = d
		}
	}
}

func NewScheduler(engine Checker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		clock:    SystemClock{},
		logger:   zap.NewNop(),
		cooldown: DefaultCooldown,
		state:    SchedulerIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop.
func (s *Scheduler) Start(sc ScheduleConfig, cc CheckConfig) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := cc.Validate(); err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	cc.Trigger = ledger.TriggerSchedule
	if cc.Location == nil {
		cc.Location = sc.Location
	}

	s.mu.Lock()
	s.schedule, s.check = sc, cc
	s.lastFired = s.seedLastFired(ctx, sc)
	s.state = SchedulerWaiting
	s.mu.Unlock()

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	if s.tracker != nil {
		s.tracker.SetNextRun(NextRun(s.clock.Now(), sc))
	}
	if s.observer != nil {
		s.observer.ObserveScheduler(true)
	}
	s.logger.Info("scheduler started",
		zap.String("trigger", fmt.Sprintf("%02d:%02d", sc.Hour, sc.Minute)),
		zap.String("timezone", sc.Location.String()),
		zap.Duration("poll_interval", sc.PollInterval),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight check to finish.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel == nil {
		return ErrSchedulerStopped
	}

	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil

	s.mu.Lock()
	s.state = SchedulerIdle
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.SetNextRun(time.Time{})
	}
	if s.observer != nil {
		s.observer.ObserveScheduler(false)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != SchedulerIdle
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextRun returns the next trigger instant, or zero when idle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedulerIdle {
		return time.Time{}
	}
	return NextRun(s.clock.Now(), s.schedule)
}

// RunNow performs a manual check. It does not mark the day as fired.
func (s *Scheduler) RunNow(ctx context.Context, cc CheckConfig) RunStatus {
	if cc.Trigger == "" {
		cc.Trigger = ledger.TriggerManual
	}
	return s.engine.PerformDailyCheck(ctx, cc)
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := s.tick(ctx)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick performs one wake and returns how long to sleep before the next.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	s.mu.Lock()
	sc, cc := s.schedule, s.check
	now := s.clock.Now().In(sc.Location)
	today := ledger.DateOf(now)
	due := now.Hour() == sc.Hour && now.Minute() == sc.Minute && !s.lastFired.Equal(today)
	if due {
		s.state = SchedulerRunning
	}
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.SetNextRun(NextRun(now, sc))
	}
	if !due {
		return sc.PollInterval
	}

	s.logger.Info("trigger reached, running daily check", zap.String("date", today.String()))
	s.fire(context.WithoutCancel(ctx), cc)

	s.mu.Lock()
	s.lastFired = today
	s.state = SchedulerWaiting
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.SetNextRun(NextRun(s.clock.Now(), sc))
	}
	return s.cooldown
}

func (s *Scheduler) fire(ctx context.Context, cc CheckConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("daily check panicked", zap.Any("panic", r))
		}
	}()

	status := s.engine.PerformDailyCheck(ctx, cc)
	s.logger.Info("scheduled check completed",
		zap.String("state", string(status.State)),
		zap.Bool("skipped", status.Skipped),
		zap.Strings("errors", status.Errors),
	)
}

// seedLastFired returns today when the ledger already holds today's target
// date, so a restart does not fire again.
func (s *Scheduler) seedLastFired(ctx context.Context, sc ScheduleConfig) ledger.Date {
	now := s.clock.Now().In(sc.Location)
	done, err := s.engine.Reconciled(ctx, TargetDate(now, sc.Location))
	if err != nil {
		s.logger.Warn("could not read ledger to seed fired marker", zap.Error(err))
		return ledger.Date{}
	}
	if done {
		return ledger.DateOf(now)
	}
	return ledger.Date{}
}
