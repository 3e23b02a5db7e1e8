/*
store.go - Persistence interface for employees, requests, snapshots and the accrual mark

PURPOSE:
  Defines the boundary between the ledger/workflow logic and the database.
  Implementations live in store/memory (tests, demos) and store/sqlite.

OPTIMISTIC CONCURRENCY:
  Every mutable record carries a Version. Update* methods are
  compare-and-set: the write succeeds only if the stored version equals the
  version on the value passed in, and then bumps it. On mismatch they
  return a *generic.ConflictError, which generic.Retry treats as retryable.

TRANSACTIONS:
  WithTx runs fn against a transactional view. If fn returns an error
  nothing it wrote is kept. A stage transition and its balance write are
  always made inside one WithTx so they cannot be split.

WRITE-ONCE:
  CreateOpeningSnapshot returns generic.ErrSnapshotExists for a label that
  is already stored. Snapshots are never updated.

CASCADE:
  DeleteEmployee removes the employee's leave and comp-off requests.
*/
package timeoff

import (
	"context"
	"time"
)

// RequestFilter narrows request listings. Zero fields match everything.
type RequestFilter struct {
	EmployeeID EmployeeID
	Status     Status
}

// Matches applies the filter in memory.
func (f RequestFilter) Matches(employeeID EmployeeID, status Status) bool {
	if f.EmployeeID != "" && f.EmployeeID != employeeID {
		return false
	}
	if f.Status != "" && f.Status != status {
		return false
	}
	return true
}

// AccrualMark is the single process-wide record of the last accrual run.
// Version 0 means accrual has never run.
type AccrualMark struct {
	MonthKey string // YYYY-MM of the last run
	RanAt    time.Time
	Version  int64
}

// Store persists everything the ledger needs.
type Store interface {
	CreateEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	// ListEmployees returns every employee ordered by name, then id.
	ListEmployees(ctx context.Context) ([]Employee, error)
	// UpdateEmployee is a compare-and-set on e.Version; on success e.Version is bumped.
	UpdateEmployee(ctx context.Context, e *Employee) error
	DeleteEmployee(ctx context.Context, id EmployeeID) error

	CreateLeaveRequest(ctx context.Context, r LeaveRequest) error
	GetLeaveRequest(ctx context.Context, id string) (LeaveRequest, error)
	UpdateLeaveRequest(ctx context.Context, r *LeaveRequest) error
	// ListLeaveRequests returns matches newest first.
	ListLeaveRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)

	CreateCompOffRequest(ctx context.Context, r CompOffRequest) error
	GetCompOffRequest(ctx context.Context, id string) (CompOffRequest, error)
	UpdateCompOffRequest(ctx context.Context, r *CompOffRequest) error
	ListCompOffRequests(ctx context.Context, filter RequestFilter) ([]CompOffRequest, error)

	CreateOpeningSnapshot(ctx context.Context, s OpeningSnapshot) error
	GetOpeningSnapshot(ctx context.Context, label string) (OpeningSnapshot, error)

	GetAccrualMark(ctx context.Context) (AccrualMark, error)
	// SetAccrualMark is a compare-and-set on m.Version.
	SetAccrualMark(ctx context.Context, m *AccrualMark) error

	// WithTx executes fn within a transaction.
	// If fn returns error, everything it wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
