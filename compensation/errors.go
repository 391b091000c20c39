/*
errors.go - Error types for the compensation engine

ERROR CATEGORIES:
  1. Fetch errors - A collaborator read failed; the whole recompute aborts
  2. Client errors - Bad month, unknown staff or field, unparsable value
  3. Lifecycle errors - Superseded recompute, no active period

Persist failures are not returned to callers. They are logged by the engine
and the in-memory value is kept.
*/
package compensation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCollaboratorFetch is returned when any input fetch of a recompute fails.
	// The previously installed rows are left untouched.
	ErrCollaboratorFetch = errors.New("collaborator fetch failed")

	// ErrSuperseded is returned when a newer recompute started before this one
	// finished. Its result was discarded.
	ErrSuperseded = errors.New("recompute superseded by a newer request")

	// ErrNoActivePeriod is returned by UpdateField before any recompute succeeded.
	ErrNoActivePeriod = errors.New("no payroll period computed yet")

	// ErrPeriodMismatch is returned when an edit targets a period other than
	// the one currently held by the engine.
	ErrPeriodMismatch = errors.New("payroll period does not match the active period")

	// ErrClosed is returned by UpdateField after Close.
	ErrClosed = errors.New("engine closed")

	ErrStaffNotFound = errors.New("staff member not found")
	ErrUnknownField  = errors.New("unknown override field")
	ErrInvalidValue  = errors.New("invalid override value")
	ErrInvalidMonth  = errors.New("invalid month, expected YYYY-MM")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FetchError names the collaborator that failed during a recompute.
type FetchError struct {
	Source string
	Period Period
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s: %v", e.Source, e.Period, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrCollaboratorFetch, e.Err}
}

// PersistError describes a failed asynchronous override write.
type PersistError struct {
	Period  Period
	StaffID StaffID
	Field   OverrideField
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s for %s/%s: %v", e.Field, e.Period, e.StaffID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidMonth)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStaffNotFound)
}

// IsConflict returns true if the request raced another recompute or targets
// a period the engine does not hold.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrPeriodMismatch) ||
		errors.Is(err, ErrNoActivePeriod)
}
