/*
Package timeoff implements the leave / comp-off ledger and its approval workflow.

PURPOSE:
  Employees hold three balance pools (casual leave, sick leave, comp-off).
  Leave requests debit them, comp-off requests credit them, a monthly
  accrual run tops casual (and sick) leave up, and a period report
  reconciles what was taken against frozen opening balances.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: identity, role, category and current Balances
  - Category / Role: explicit enums that drive accrual and approval rules
  - Pool / LeaveType: where days come from and what the employee asked for

BALANCE INVARIANTS:
  - CompOffs and SickLeaves never drop below zero through the ledger
  - CasualLeaves may go negative; it is the pool of last resort
  - Every balance write is a compare-and-set on Employee.Version

SEE ALSO:
  - ledger.go: debit/credit arithmetic
  - request.go: request model and the approval state machine
  - workflow.go: submission and decisions, transactional
  - accrual.go, snapshot.go, report.go
*/
package timeoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type EmployeeID string

// Role decides which approval stages an employee may act on.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR:
		return true
	}
	return false
}

// CanDecideManagerStage reports whether the role may act on the second stage.
func (r Role) CanDecideManagerStage() bool {
	return r == RoleManager || r == RoleHR
}

// Category selects the accrual rate.
type Category string

const (
	// CategoryStandard accrues a flat rate every month.
	CategoryStandard Category = "standard"
	// CategoryRegularOffice accrues the regular rate, with a higher increment
	// every third month of the year.
	CategoryRegularOffice Category = "regular_office"
)

func (c Category) Valid() bool {
	return c == CategoryStandard || c == CategoryRegularOffice
}

// Balances are the three pools of one employee.
type Balances struct {
	CasualLeaves decimal.Decimal `json:"casual_leaves"`
	SickLeaves   decimal.Decimal `json:"sick_leaves"`
	CompOffs     decimal.Decimal `json:"comp_offs"`
}

// Validate rejects balances that a ledger operation could never produce.
func (b Balances) Validate() error {
	if b.SickLeaves.IsNegative() {
		return &generic.ValidationError{Field: "sick_leaves", Message: "cannot be negative"}
	}
	if b.CompOffs.IsNegative() {
		return &generic.ValidationError{Field: "comp_offs", Message: "cannot be negative"}
	}
	return nil
}

func (b Balances) Equal(other Balances) bool {
	return b.CasualLeaves.Equal(other.CasualLeaves) &&
		b.SickLeaves.Equal(other.SickLeaves) &&
		b.CompOffs.Equal(other.CompOffs)
}

func (b Balances) String() string {
	return fmt.Sprintf("casual=%s sick=%s compoff=%s", b.CasualLeaves, b.SickLeaves, b.CompOffs)
}

// Employee is the balance record plus the profile the workflow needs.
type Employee struct {
	ID                EmployeeID `json:"id"`
	Name              string     `json:"name"`
	EmpCode           string     `json:"emp_code"`
	Email             string     `json:"email"`
	SlackID           string     `json:"slack_id"`
	Role              Role       `json:"role"`
	Category          Category   `json:"category"`
	SickLeaveEligible bool       `json:"sick_leave_eligible"`
	ApproverID        EmployeeID `json:"approver_id,omitempty"` // default senior approver for this employee's requests
	Balances          Balances   `json:"balances"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Validate checks the profile fields required at provisioning.
func (e Employee) Validate() error {
	if e.ID == "" {
		return &generic.ValidationError{Field: "id", Message: "is required"}
	}
	if e.Name == "" {
		return &generic.ValidationError{Field: "name", Message: "is required"}
	}
	if !e.Role.Valid() {
		return &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", e.Role)}
	}
	if !e.Category.Valid() {
		return &generic.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", e.Category)}
	}
	if e.ApproverID == e.ID {
		return &generic.ValidationError{Field: "approver_id", Message: "employee cannot approve their own requests"}
	}
	return e.Balances.Validate()
}

// =============================================================================
// POOLS AND LEAVE TYPES
// =============================================================================

// Pool names a balance counter.
type Pool string

const (
	PoolCasual  Pool = "casual"
	PoolSick    Pool = "sick"
	PoolCompOff Pool = "compoff"
)

func (p Pool) Valid() bool {
	return p == PoolCasual || p == PoolSick || p == PoolCompOff
}

// LeaveType is what the employee asked for. It only matters for sick leave:
// every other type follows the comp-off then casual precedence.
type LeaveType string

const (
	LeaveCasual LeaveType = "casual"
	LeaveSick   LeaveType = "sick"
)

func (t LeaveType) Valid() bool {
	return t == LeaveCasual || t == LeaveSick
}

// Label is the human-readable form used in notifications.
func (t LeaveType) Label() string {
	if t == LeaveSick {
		return "Sick Leave"
	}
	return "Leave"
}
