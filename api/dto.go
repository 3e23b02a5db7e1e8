package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// EMPLOYEE DTOs
// =============================================================================

// CreateEmployeeRequest provisions an employee. An empty id is generated.
type CreateEmployeeRequest struct {
	ID                string          `json:"id" validate:"omitempty,max=64"`
	Name              string          `json:"name" validate:"required,max=200"`
	EmpCode           string          `json:"emp_code" validate:"max=64"`
	Email             string          `json:"email" validate:"omitempty,email"`
	SlackID           string          `json:"slack_id" validate:"max=64"`
	Role              string          `json:"role" validate:"omitempty,oneof=employee manager hr"`
	Category          string          `json:"category" validate:"omitempty,oneof=standard regular_office"`
	SickLeaveEligible bool            `json:"sick_leave_eligible"`
	ApproverID        string          `json:"approver_id" validate:"max=64"`
	CasualLeaves      decimal.Decimal `json:"casual_leaves"`
	SickLeaves        decimal.Decimal `json:"sick_leaves"`
	CompOffs          decimal.Decimal `json:"comp_offs"`
}

// UpdateEmployeeRequest changes profile fields. Omitted fields are kept.
type UpdateEmployeeRequest struct {
	Name              *string `json:"name" validate:"omitempty,min=1,max=200"`
	EmpCode           *string `json:"emp_code" validate:"omitempty,max=64"`
	Email             *string `json:"email" validate:"omitempty,email"`
	SlackID           *string `json:"slack_id" validate:"omitempty,max=64"`
	Role              *string `json:"role" validate:"omitempty,oneof=employee manager hr"`
	Category          *string `json:"category" validate:"omitempty,oneof=standard regular_office"`
	SickLeaveEligible *bool   `json:"sick_leave_eligible"`
	ApproverID        *string `json:"approver_id" validate:"omitempty,max=64"`
}

// SetBalancesRequest is an HR correction. ExpectedVersion must match the
// stored record.
type SetBalancesRequest struct {
	CasualLeaves    decimal.Decimal `json:"casual_leaves"`
	SickLeaves      decimal.Decimal `json:"sick_leaves"`
	CompOffs        decimal.Decimal `json:"comp_offs"`
	ExpectedVersion int64           `json:"expected_version" validate:"required,min=1"`
}

// =============================================================================
// REQUEST DTOs
// =============================================================================

type SubmitLeaveRequest struct {
	EmployeeID string `json:"employee_id" validate:"required,max=64"`
	ApproverID string `json:"approver_id" validate:"max=64"`
	LeaveType  string `json:"leave_type" validate:"omitempty,oneof=casual sick"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	HalfDay    bool   `json:"half_day"`
	Reason     string `json:"reason" validate:"required,max=1000"`
}

type SubmitCompOffRequest struct {
	EmployeeID string `json:"employee_id" validate:"required,max=64"`
	ApproverID string `json:"approver_id" validate:"max=64"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	HalfDay    bool   `json:"half_day"`
	Reason     string `json:"reason" validate:"required,max=1000"`
}

// DecisionRequest approves or rejects one stage. An empty stage means
// whichever stage is awaiting a decision.
type DecisionRequest struct {
	ActorID  string `json:"actor_id" validate:"required,max=64"`
	Stage    string `json:"stage" validate:"omitempty,oneof=senior manager"`
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
}

type LeaveResponse struct {
	Request           timeoff.LeaveRequest `json:"request"`
	Balances          timeoff.Balances     `json:"balances"`
	NotificationError string               `json:"notification_error,omitempty"`
}

type CompOffResponse struct {
	Request           timeoff.CompOffRequest `json:"request"`
	Balances          timeoff.Balances       `json:"balances"`
	NotificationError string                 `json:"notification_error,omitempty"`
}

type PendingResponse struct {
	Leaves   []timeoff.LeaveRequest   `json:"leaves"`
	CompOffs []timeoff.CompOffRequest `json:"comp_offs"`
}

// =============================================================================
// ACCRUAL / SNAPSHOT DTOs
// =============================================================================

type AccrualStatusDTO struct {
	CurrentMonth string     `json:"current_month"`
	LastMonth    string     `json:"last_month,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	CanRun       bool       `json:"can_run"`
}

type AccrualResultDTO struct {
	MonthKey          string    `json:"month_key"`
	Updated           int       `json:"updated"`
	RanAt             time.Time `json:"ran_at"`
	NotificationError string    `json:"notification_error,omitempty"`
}

type CaptureSnapshotRequest struct {
	Label string `json:"label" validate:"omitempty,len=8"`
}

type SnapshotResponse struct {
	Snapshot timeoff.OpeningSnapshot `json:"snapshot"`
	Created  bool                    `json:"created"`
}

// =============================================================================
// SCENARIO / COMMON DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAccrualStatusDTO(s timeoff.AccrualStatus) AccrualStatusDTO {
	dto := AccrualStatusDTO{
		CurrentMonth: s.CurrentMonth,
		LastMonth:    s.LastMonth,
		CanRun:       s.CanRun,
	}
	if !s.LastRunAt.IsZero() {
		ranAt := s.LastRunAt
		dto.LastRunAt = &ranAt
	}
	return dto
}
