/*
errors.go - Error taxonomy for the daily check

PURPOSE:
  Every collaborator failure is classified here and folded into a RunStatus
  at the engine boundary. Nothing below propagates out of the scheduler loop.

ERROR CATEGORIES:
  1. FetchError  - balance lookup failed (network, status, response shape).
                   Recoverable: retried next cycle, no state mutation.
  2. StoreError  - ledger read/write failed. Does not block notification.
  3. NotifyError - delivery failed. Does not affect ledger correctness.
  4. ConfigError - missing or malformed configuration. Fatal to the run,
                   surfaced immediately, never crashes the loop.

USAGE:
  if errors.Is(err, monitor.ErrFetch) {
      // try again tomorrow
  }
  var fe *monitor.FetchError
  if errors.As(err, &fe) && fe.Kind == monitor.FetchStatus { ... }
*/
package monitor

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrFetch  = errors.New("balance fetch failed")
	ErrStore  = errors.New("ledger store failed")
	ErrNotify = errors.New("notification failed")
	ErrConfig = errors.New("invalid configuration")

	// ErrSchedulerRunning is returned by Start when the loop is already active.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerStopped is returned by Stop when no loop is active.
	ErrSchedulerStopped = errors.New("scheduler not running")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FetchKind classifies a fetch failure.
type FetchKind string

const (
	FetchNetwork FetchKind = "network"  // transport error or timeout
	FetchStatus  FetchKind = "status"   // non-200 response
	FetchShape   FetchKind = "response" // body did not match the declared schema
)

// FetchError describes a failed balance or consumption lookup.
type FetchError struct {
	Kind       FetchKind
	Op         string // "balance", "daily consumption"
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.Op, e.Kind)
	}
}

func (e *FetchError) Unwrap() []error { return wrapped(ErrFetch, e.Err) }

// StoreError describes a failed ledger read or write.
type StoreError struct {
	Op  string // "read", "write"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return wrapped(ErrStore, e.Err) }

// NotifyError describes a failed notification.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify: %v", e.Err)
}

func (e *NotifyError) Unwrap() []error { return wrapped(ErrNotify, e.Err) }

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func wrapped(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
