/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for the control surface. Amounts travel as
  two-decimal strings ("70.20") so clients never see float rounding.
  Missing values are null.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Status:      StatusDTO
  Ledger:      EntryDTO
  History:     RunDTO
  Config:      ConfigDTO and its sections
  Meter:       ConsumptionDTO

SEE ALSO:
  - handlers.go: Uses these types
  - monitor/status.go: RunStatus
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhrishan/desco-monitor/config"
	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

// redactedPassword is echoed back by GET /api/config and ignored on PUT.
const redactedPassword = "********"

// =============================================================================
// STATUS
// =============================================================================

// StatusDTO is the run-status snapshot plus scheduler state.
type StatusDTO struct {
	MonitoringActive bool     `json:"monitoring_active"`
	SchedulerState   string   `json:"scheduler_state"`
	State            string   `json:"state"`
	Trigger          string   `json:"trigger,omitempty"`
	TargetDate       string   `json:"target_date,omitempty"`
	LastRun          *string  `json:"last_run"`
	NextRun          *string  `json:"next_run"`
	LastBalance      *string  `json:"last_balance"`
	LastConsumption  *string  `json:"last_consumption"`
	Skipped          bool     `json:"skipped"`
	Errors           []string `json:"errors"`
	Error            string   `json:"error,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO is one ledger row. Malformed cells are null.
type EntryDTO struct {
	Date        string  `json:"date"`
	Consumption *string `json:"consumption"`
	Balance     *string `json:"balance"`
}

// LedgerDTO wraps the ledger rows with the store reference.
type LedgerDTO struct {
	Reference string     `json:"reference"`
	Entries   []EntryDTO `json:"entries"`
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// RunDTO is one persisted check run.
type RunDTO struct {
	ID          string  `json:"id"`
	Trigger     string  `json:"trigger"`
	TargetDate  string  `json:"target_date"`
	State       string  `json:"state"`
	Skipped     bool    `json:"skipped"`
	Balance     *string `json:"balance"`
	Consumption *string `json:"consumption"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// =============================================================================
// METER
// =============================================================================

// ConsumptionDTO is the upstream daily consumption for one day.
type ConsumptionDTO struct {
	Date        string `json:"date"`
	Consumption string `json:"consumption"`
}

// =============================================================================
// CONFIG
// =============================================================================

// ConfigDTO is the editable part of the configuration. The same shape is
// returned by GET and accepted by PUT; omitted sections are left unchanged.
type ConfigDTO struct {
	Account  *monitor.Account    `json:"account,omitempty"`
	Schedule *ScheduleSectionDTO `json:"schedule,omitempty"`
	Storage  *StorageSectionDTO  `json:"storage,omitempty"`
	Email    *EmailSectionDTO    `json:"email,omitempty"`
	Webhook  *WebhookSectionDTO  `json:"webhook,omitempty"`
}

type ScheduleSectionDTO struct {
	Time            string `json:"time"`
	Timezone        string `json:"timezone"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

// StorageSectionDTO exposes the backend read-only; only ReferenceURL is
// applied on PUT since switching backends needs a restart.
type StorageSectionDTO struct {
	Backend      string `json:"backend"`
	Path         string `json:"path"`
	ReferenceURL string `json:"reference_url"`
}

type EmailSectionDTO struct {
	Enabled  bool     `json:"enabled"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Password string   `json:"password,omitempty"`
}

type WebhookSectionDTO struct {
	URL string `json:"url"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func amountPtr(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.StringFixed(2)
	return &s
}

func timePtr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toStatusDTO(s monitor.RunStatus, sched monitor.SchedulerState, active bool) StatusDTO {
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	return StatusDTO{
		MonitoringActive: active,
		SchedulerState:   string(sched),
		State:            string(s.State),
		Trigger:          string(s.Trigger),
		TargetDate:       s.TargetDate.String(),
		LastRun:          timePtr(s.LastRun),
		NextRun:          timePtr(s.NextRun),
		LastBalance:      amountPtr(s.LastBalance),
		LastConsumption:  amountPtr(s.LastConsumption),
		Skipped:          s.Skipped,
		Errors:           errs,
		Error:            s.Err(),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		Date:        e.DateText(),
		Consumption: amountPtr(e.Consumption),
		Balance:     amountPtr(e.Balance),
	}
}

func toRunDTO(r ledger.Run) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Trigger:     string(r.Trigger),
		TargetDate:  r.TargetDate.String(),
		State:       r.State,
		Skipped:     r.Skipped,
		Balance:     amountPtr(r.Balance),
		Consumption: amountPtr(r.Consumption),
		Error:       r.Error,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		CompletedAt: timePtr(r.CompletedAt),
	}
}

func toConfigDTO(c config.Config) ConfigDTO {
	account := c.Account
	password := ""
	if c.Email.Password != "" {
		password = redactedPassword
	}
	return ConfigDTO{
		Account: &account,
		Schedule: &ScheduleSectionDTO{
			Time:            c.Schedule.Time,
			Timezone:        c.Schedule.Timezone,
			PollIntervalSec: c.Schedule.PollIntervalSec,
		},
		Storage: &StorageSectionDTO{
			Backend:      c.Storage.Backend,
			Path:         c.Storage.Path,
			ReferenceURL: c.Storage.ReferenceURL,
		},
		Email: &EmailSectionDTO{
			Enabled:  c.Email.Enabled,
			From:     c.Email.From,
			To:       append([]string{}, c.Email.To...),
			Subject:  c.Email.Subject,
			Password: password,
		},
		Webhook: &WebhookSectionDTO{URL: c.Webhook.URL},
	}
}

// apply merges the present sections of d into c.
func (d ConfigDTO) apply(c config.Config) config.Config {
	if d.Account != nil {
		c.Account = *d.Account
	}
	if s := d.Schedule; s != nil {
		c.Schedule.Time = s.Time
		c.Schedule.Timezone = s.Timezone
		if s.PollIntervalSec != 0 {
			c.Schedule.PollIntervalSec = s.PollIntervalSec
		}
	}
	if d.Storage != nil {
		c.Storage.ReferenceURL = d.Storage.ReferenceURL
	}
	if e := d.Email; e != nil {
		c.Email.Enabled = e.Enabled
		if c.Email.Username == "" || c.Email.Username == c.Email.From {
			c.Email.Username = e.From
		}
		c.Email.From = e.From
		c.Email.To = append([]string(nil), e.To...)
		if e.Subject != "" {
			c.Email.Subject = e.Subject
		}
		if e.Password != "" && e.Password != redactedPassword {
			c.Email.Password = e.Password
		}
	}
	if d.Webhook != nil {
		c.Webhook.URL = d.Webhook.URL
	}
	return c
}
