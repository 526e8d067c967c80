package monitor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhrishan/desco-monitor/ledger"
)

// MaxPollInterval bounds how long the scheduler sleeps between wakes.
const MaxPollInterval = 60 * time.Second

// DefaultPollInterval is used when ScheduleConfig.PollInterval is unset.
const DefaultPollInterval = 20 * time.Second

// Account identifies the prepaid meter being watched.
type Account struct {
	AccountNo  string `json:"account_no" yaml:"account_no"`
	MeterNo    string `json:"meter_no" yaml:"meter_no"`
	SystemType string `json:"system_type" yaml:"system_type"`
}

// Validate requires every identifier to be present.
func (a Account) Validate() error {
	switch {
	case strings.TrimSpace(a.AccountNo) == "":
		return &ConfigError{Field: "account.account_no", Reason: "is required"}
	case strings.TrimSpace(a.MeterNo) == "":
		return &ConfigError{Field: "account.meter_no", Reason: "is required"}
	case strings.TrimSpace(a.SystemType) == "":
		return &ConfigError{Field: "account.system_type", Reason: "is required"}
	}
	return nil
}

// CheckConfig is the bundle a single daily check runs with.
type CheckConfig struct {
	Account Account
	// Reference is the link sent with the notification. Empty means the
	// store's own reference (file path or URL).
	Reference string
	// Trigger is recorded in the run history. Empty means manual.
	Trigger ledger.Trigger
	// Location is the zone the target date is computed in. Nil means the
	// engine's default zone.
	Location *time.Location
}

func (c CheckConfig) Validate() error {
	return c.Account.Validate()
}

// ScheduleConfig is immutable for the lifetime of one scheduler run.
type ScheduleConfig struct {
	Hour         int
	Minute       int
	Location     *time.Location
	PollInterval time.Duration
}

// NewScheduleConfig resolves the IANA zone and applies the poll default.
func NewScheduleConfig(hour, minute int, timezone string, poll time.Duration) (ScheduleConfig, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return ScheduleConfig{}, &ConfigError{Field: "schedule.timezone", Reason: err.Error()}
	}
	sc := ScheduleConfig{Hour: hour, Minute: minute, Location: loc, PollInterval: poll}
	if sc.PollInterval <= 0 {
		sc.PollInterval = DefaultPollInterval
	}
	return sc, sc.Validate()
}

func (s ScheduleConfig) Validate() error {
	switch {
	case s.Hour < 0 || s.Hour > 23:
		return &ConfigError{Field: "schedule.hour", Reason: "must be between 0 and 23"}
	case s.Minute < 0 || s.Minute > 59:
		return &ConfigError{Field: "schedule.minute", Reason: "must be between 0 and 59"}
	case s.Location == nil:
		return &ConfigError{Field: "schedule.timezone", Reason: "is required"}
	case s.PollInterval <= 0 || s.PollInterval > MaxPollInterval:
		return &ConfigError{Field: "schedule.poll_interval_sec", Reason: "must be between 1 and 60 seconds"}
	}
	return nil
}

// NextRun returns today's trigger instant if it has not passed yet, else
// tomorrow's.
func NextRun(now time.Time, sc ScheduleConfig) time.Time {
	local := now.In(sc.Location)
	today := ledger.DateOf(local)
	next := today.In(sc.Location, sc.Hour, sc.Minute)
	if local.After(next) {
		next = today.AddDays(1).In(sc.Location, sc.Hour, sc.Minute)
	}
	return next
}

// TargetDate is the calendar day a check at now reconciles: the day before
// now in loc. The upstream API reports balance as of yesterday.
func TargetDate(now time.Time, loc *time.Location) ledger.Date {
	if loc == nil {
		loc = time.Local
	}
	return ledger.DateOf(now.In(loc)).AddDays(-1)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Notification is what the notifier is asked to deliver after a check.
type Notification struct {
	Account     Account
	Date        ledger.Date
	Balance     decimal.Decimal
	Consumption decimal.NullDecimal
	Reference   string
	Attachment  string // local ledger file, when the store is file-backed
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Observer receives run outcomes for metrics.
type Observer interface {
	ObserveRun(status RunStatus, elapsed time.Duration)
	ObserveScheduler(active bool)
}
