package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a date cell or parameter cannot be parsed.
	ErrInvalidDate = errors.New("invalid ledger date")

	// ErrInvalidEntry is returned when an upsert carries no usable date.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// BackendError wraps a failure of the underlying storage medium
// (file system, workbook, database) with the operation that failed.
type BackendError struct {
	Backend string // "sqlite", "csv", "xlsx", "memory"
	Op      string // "read", "write", "migrate"
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s ledger %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ValidateEntry checks an entry before it is written.
func ValidateEntry(e Entry) error {
	if e.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidEntry)
	}
	return nil
}
