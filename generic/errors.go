/*
errors.go - Centralized error types for the leave ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The timeoff package returns these (often wrapped with %w) and the API
  layer maps them to HTTP statuses through the helpers at the bottom.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any mutation
  2. State errors - the request or month is no longer in the state the caller assumed
  3. Concurrency errors - optimistic write lost a race; retried transparently
  4. Lookup errors - missing employee, request or snapshot

  Insufficient balance is deliberately NOT an error: a debit always succeeds
  and overflows into negative casual leave.

USAGE:
  if errors.Is(err, generic.ErrStageNotPending) {
      // someone else already acted on this stage
  }

SEE ALSO:
  - retry.go: consumes IsRetryable
  - api/handlers.go: maps errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = fmt.Errorf("%w: end date before start date", ErrValidation)

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrEmployeeExists is returned when provisioning an id that is taken.
	ErrEmployeeExists = errors.New("employee already exists")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrNotApprover is returned when the actor may not decide the stage.
	ErrNotApprover = errors.New("actor is not the designated approver for this stage")

	// ErrStageNotPending is returned when the stage was already decided.
	// This is what a double-click on "approve" hits.
	ErrStageNotPending = errors.New("approval stage is no longer pending")

	// ErrStageOutOfOrder is returned when the manager stage is decided before the senior stage.
	ErrStageOutOfOrder = errors.New("previous approval stage has not been approved")

	// ErrRequestFinalized is returned for any transition out of approved/rejected.
	ErrRequestFinalized = errors.New("request is already finalized")

	// ErrAccrualAlreadyRun is returned when accrual already ran this month.
	ErrAccrualAlreadyRun = errors.New("accrual already ran this month")

	// ErrSnapshotExists is returned by the store when a month label is already taken.
	ErrSnapshotExists = errors.New("opening balance snapshot already exists")

	// ErrSnapshotNotFound is returned when no snapshot exists for a label.
	ErrSnapshotNotFound = errors.New("opening balance snapshot not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRetriesExhausted is returned when conflicts persist past the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError reports a lost compare-and-set on a versioned record.
type ConflictError struct {
	Kind    string // "employee", "leave_request", "compoff_request", "accrual_mark"
	ID      string
	Version int64 // version the writer expected
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s (expected version %d)", e.Kind, e.ID, e.Version)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrRetriesExhausted)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}

// IsConflict returns true if the caller's view of state is stale.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStageNotPending) ||
		errors.Is(err, ErrStageOutOfOrder) ||
		errors.Is(err, ErrRequestFinalized) ||
		errors.Is(err, ErrAccrualAlreadyRun) ||
		errors.Is(err, ErrSnapshotExists) ||
		errors.Is(err, ErrEmployeeExists) ||
		errors.Is(err, ErrConcurrentModification)
}
