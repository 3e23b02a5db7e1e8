/*
request.go - Leave and comp-off requests and the approval state machine

LIFECYCLE:
  Two variants, chosen per request kind by configuration (Mode):

  AutoApprove:  created -> approved            (ledger applied at submission)

  Staged:       pending
                  senior:  pending -> approved | rejected
                  manager: pending -> approved | rejected   (only after senior approved)
                approved once every required stage is approved
                rejected as soon as any stage is rejected

  The manager stage may be configured away, in which case it is recorded
  as skipped and the senior decision finalizes the request.

TERMINAL STATES:
  approved and rejected. Nothing transitions out of them. Rejection never
  touches balances and leaves no receipt.

DAY COUNTING:
  Both endpoints count: 2024-01-01..2024-01-03 is 3 days.
  A half-day is exactly 0.5 and only its start date matters.
*/
package timeoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// STATUS, STAGES, DECISIONS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	// StatusSkipped marks a stage that the request's workflow does not require.
	StatusSkipped Status = "skipped"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Stage string

const (
	StageSenior  Stage = "senior"
	StageManager Stage = "manager"
)

func (s Stage) Valid() bool {
	return s == StageSenior || s == StageManager
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Mode selects the lifecycle variant.
type Mode string

const (
	ModeStaged      Mode = "staged"
	ModeAutoApprove Mode = "auto"
)

func (m Mode) Valid() bool {
	return m == ModeStaged || m == ModeAutoApprove
}

// ParseMode accepts the configuration spelling of a mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", &generic.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown workflow mode %q (use staged or auto)", s)}
	}
	return m, nil
}

// =============================================================================
// APPROVAL STATE MACHINE
// =============================================================================

// StageState is one approval stage. DecidedBy and DecidedAt are set once.
type StageState struct {
	Status    Status     `json:"status"`
	DecidedBy EmployeeID `json:"decided_by,omitempty"`
	DecidedAt time.Time  `json:"decided_at,omitempty"`
}

// Approval holds both stages of a request.
type Approval struct {
	Mode    Mode       `json:"mode"`
	Senior  StageState `json:"senior"`
	Manager StageState `json:"manager"`
}

// NewApproval returns the initial stages for a freshly submitted request.
func NewApproval(mode Mode, requireManager bool) Approval {
	if mode == ModeAutoApprove {
		return Approval{
			Mode:    mode,
			Senior:  StageState{Status: StatusSkipped},
			Manager: StageState{Status: StatusSkipped},
		}
	}
	a := Approval{
		Mode:    ModeStaged,
		Senior:  StageState{Status: StatusPending},
		Manager: StageState{Status: StatusPending},
	}
	if !requireManager {
		a.Manager.Status = StatusSkipped
	}
	return a
}

// InitialStatus is pending for staged requests and approved otherwise.
func (a Approval) InitialStatus() Status {
	if a.Mode == ModeAutoApprove {
		return StatusApproved
	}
	return StatusPending
}

// AwaitingStage returns the stage that is next to be decided.
func (a Approval) AwaitingStage() (Stage, bool) {
	switch {
	case a.Senior.Status == StatusPending:
		return StageSenior, true
	case a.Senior.Status == StatusApproved && a.Manager.Status == StatusPending:
		return StageManager, true
	}
	return "", false
}

func (a *Approval) stage(s Stage) *StageState {
	if s == StageManager {
		return &a.Manager
	}
	return &a.Senior
}

// Decide records a decision on one stage and returns the request's new
// overall status. It checks order and pending-ness only; who may decide is
// the workflow's concern.
func (a *Approval) Decide(current Status, stage Stage, decision Decision, actor EmployeeID, at time.Time) (Status, error) {
	if current.Terminal() {
		return current, fmt.Errorf("%w: status is %s", generic.ErrRequestFinalized, current)
	}
	if !stage.Valid() {
		return current, &generic.ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", stage)}
	}
	if !decision.Valid() {
		return current, &generic.ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", decision)}
	}

	st := a.stage(stage)
	if st.Status != StatusPending {
		return current, fmt.Errorf("%w: %s stage is %s", generic.ErrStageNotPending, stage, st.Status)
	}
	if stage == StageManager && a.Senior.Status != StatusApproved {
		return current, fmt.Errorf("%w: senior stage is %s", generic.ErrStageOutOfOrder, a.Senior.Status)
	}

	st.DecidedBy = actor
	st.DecidedAt = at
	if decision == DecisionReject {
		st.Status = StatusRejected
		return StatusRejected, nil
	}
	st.Status = StatusApproved
	if _, waiting := a.AwaitingStage(); waiting {
		return StatusPending, nil
	}
	return StatusApproved, nil
}

// =============================================================================
// DAY COUNTING
// =============================================================================

// CountDays returns the days a request covers.
func CountDays(start, end generic.Date, halfDay bool) (decimal.Decimal, error) {
	if start.IsZero() {
		return decimal.Zero, &generic.ValidationError{Field: "start_date", Message: "is required"}
	}
	if halfDay {
		return generic.HalfDay, nil
	}
	if end.IsZero() {
		return decimal.Zero, &generic.ValidationError{Field: "end_date", Message: "is required"}
	}
	p := generic.Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return decimal.Zero, err
	}
	return generic.Days(int64(p.Days())), nil
}

// =============================================================================
// REQUESTS
// =============================================================================

// LeaveRequest debits the employee when it is finally approved.
type LeaveRequest struct {
	ID          string            `json:"id"`
	EmployeeID  EmployeeID        `json:"employee_id"`
	ApproverID  EmployeeID        `json:"approver_id"` // decides the senior stage
	Type        LeaveType         `json:"leave_type"`
	StartDate   generic.Date      `json:"start_date"`
	EndDate     generic.Date      `json:"end_date"` // equals StartDate for half-days
	HalfDay     bool              `json:"half_day"`
	Reason      string            `json:"reason"`
	Days        decimal.Decimal   `json:"days"`
	Status      Status            `json:"status"`
	Approval    Approval          `json:"approval"`
	Receipt     *DeductionReceipt `json:"receipt,omitempty"` // set exactly when Status is approved
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Version     int64             `json:"version"`
}

// Period is the calendar span the request covers.
func (r LeaveRequest) Period() generic.Period {
	if r.HalfDay {
		return generic.Period{Start: r.StartDate, End: r.StartDate}
	}
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// CompOffRequest credits the employee when it is finally approved.
type CompOffRequest struct {
	ID          string          `json:"id"`
	EmployeeID  EmployeeID      `json:"employee_id"`
	ApproverID  EmployeeID      `json:"approver_id"`
	Date        generic.Date    `json:"date"` // the day worked
	HalfDay     bool            `json:"half_day"`
	Reason      string          `json:"reason"`
	Days        decimal.Decimal `json:"days"`
	Status      Status          `json:"status"`
	Approval    Approval        `json:"approval"`
	Credit      *CreditReceipt  `json:"credit,omitempty"` // set exactly when Status is approved
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}
