/*
workflow.go - Submission and approval of leave and comp-off requests

PURPOSE:
  Drives requests through the state machine in request.go and applies the
  ledger exactly once, at the transition that finalizes approval.

ATOMICITY:
  Each submission or decision is one Store.WithTx:
    1. read the request (and employee) at their current versions
    2. check the stage is still pending and the actor may decide it
    3. on final approval, debit or credit the employee (CAS on version)
    4. write the request (CAS on version)
  A concurrent writer makes step 3 or 4 fail with a ConflictError. The
  whole transaction is then retried against fresh state, where the loser
  sees the stage is no longer pending. Double approval cannot double-debit.

AUTHORIZATION:
  - senior stage: only the request's ApproverID
  - manager stage: any manager or HR employee
  - nobody decides their own request

NOTIFICATIONS:
  Sent after commit. A failure is logged and returned in the outcome's
  NotificationError; it never rolls anything back.
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-ledger/generic"
)

// WorkflowConfig selects the lifecycle variant per request kind.
type WorkflowConfig struct {
	LeaveMode      Mode
	CompOffMode    Mode
	RequireManager bool
	NotifyTimeout  time.Duration
}

// DefaultWorkflowConfig auto-approves leave and stages comp-off through
// senior and manager review.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		LeaveMode:      ModeAutoApprove,
		CompOffMode:    ModeStaged,
		RequireManager: true,
		NotifyTimeout:  5 * time.Second,
	}
}

func (c WorkflowConfig) Validate() error {
	if !c.LeaveMode.Valid() {
		return &generic.ValidationError{Field: "leave_mode", Message: fmt.Sprintf("unknown mode %q", c.LeaveMode)}
	}
	if !c.CompOffMode.Valid() {
		return &generic.ValidationError{Field: "compoff_mode", Message: fmt.Sprintf("unknown mode %q", c.CompOffMode)}
	}
	return nil
}

type Workflow struct {
	store    Store
	notifier Notifier
	cfg      WorkflowConfig
	opts     Options
}

func NewWorkflow(store Store, notifier Notifier, cfg WorkflowConfig, opts Options) *Workflow {
	return &Workflow{store: store, notifier: notifier, cfg: cfg, opts: opts.withDefaults()}
}

func (w *Workflow) Config() WorkflowConfig { return w.cfg }

// =============================================================================
// INPUTS AND OUTCOMES
// =============================================================================

type LeaveSubmission struct {
	EmployeeID EmployeeID
	ApproverID EmployeeID // optional; defaults to the employee's configured approver
	Type       LeaveType  // optional; defaults to casual
	StartDate  generic.Date
	EndDate    generic.Date // ignored for half-days
	HalfDay    bool
	Reason     string
}

type CompOffSubmission struct {
	EmployeeID EmployeeID
	ApproverID EmployeeID
	Date       generic.Date
	HalfDay    bool
	Reason     string
}

// DecisionInput is one approver action. Stage may be empty to mean
// "whichever stage is awaiting a decision".
type DecisionInput struct {
	RequestID string
	ActorID   EmployeeID
	Stage     Stage
	Decision  Decision
}

type LeaveOutcome struct {
	Request           LeaveRequest
	Employee          Employee
	NotificationError string
}

type CompOffOutcome struct {
	Request           CompOffRequest
	Employee          Employee
	NotificationError string
}

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitLeave records a leave request. In auto-approve mode the debit is
// applied in the same transaction and the request is approved immediately.
func (w *Workflow) SubmitLeave(ctx context.Context, sub LeaveSubmission) (LeaveOutcome, error) {
	if sub.Type == "" {
		sub.Type = LeaveCasual
	}
	if !sub.Type.Valid() {
		return LeaveOutcome{}, &generic.ValidationError{Field: "leave_type", Message: fmt.Sprintf("unknown leave type %q", sub.Type)}
	}
	if strings.TrimSpace(sub.Reason) == "" {
		return LeaveOutcome{}, &generic.ValidationError{Field: "reason", Message: "is required"}
	}
	if sub.HalfDay {
		sub.EndDate = sub.StartDate
	}
	days, err := CountDays(sub.StartDate, sub.EndDate, sub.HalfDay)
	if err != nil {
		return LeaveOutcome{}, err
	}

	id := uuid.NewString()
	var out LeaveOutcome
	var approver Employee
	err = generic.Retry(ctx, w.opts.Retries, func() error {
		return w.store.WithTx(ctx, func(tx Store) error {
			emp, err := tx.GetEmployee(ctx, sub.EmployeeID)
			if err != nil {
				return err
			}
			approver, err = w.resolveApprover(ctx, tx, emp, sub.ApproverID, w.cfg.LeaveMode)
			if err != nil {
				return err
			}

			now := w.opts.now()
			approval := NewApproval(w.cfg.LeaveMode, w.cfg.RequireManager)
			req := LeaveRequest{
				ID:          id,
				EmployeeID:  emp.ID,
				ApproverID:  approver.ID,
				Type:        sub.Type,
				StartDate:   sub.StartDate,
				EndDate:     sub.EndDate,
				HalfDay:     sub.HalfDay,
				Reason:      sub.Reason,
				Days:        days,
				Status:      approval.InitialStatus(),
				Approval:    approval,
				SubmittedAt: now,
				UpdatedAt:   now,
			}
			if req.Status == StatusApproved {
				receipt, err := debitIn(ctx, tx, emp.ID, req.Type, days, now)
				if err != nil {
					return err
				}
				req.Receipt = &receipt
			}
			if err := tx.CreateLeaveRequest(ctx, req); err != nil {
				return err
			}
			if emp, err = tx.GetEmployee(ctx, emp.ID); err != nil {
				return err
			}
			out = LeaveOutcome{Request: req, Employee: emp}
			return nil
		})
	})
	if err != nil {
		return LeaveOutcome{}, err
	}

	w.opts.Logger.Info("leave submitted", "request", id, "employee", sub.EmployeeID,
		"days", days.String(), "status", out.Request.Status)

	kind := EventLeaveSubmitted
	if out.Request.Status == StatusApproved {
		kind = EventLeaveAutoApproved
	}
	req := out.Request
	out.NotificationError = deliver(ctx, w.notifier, w.cfg.NotifyTimeout, w.opts, Event{
		Kind:        kind,
		RequestKind: KindLeave,
		Employee:    partyOf(out.Employee),
		Actor:       partyOf(approver),
		Status:      req.Status,
		Leave:       &req,
		At:          req.SubmittedAt,
	})
	return out, nil
}

// SubmitCompOff records a comp-off request. Credit happens on final approval,
// or immediately in auto-approve mode.
func (w *Workflow) SubmitCompOff(ctx context.Context, sub CompOffSubmission) (CompOffOutcome, error) {
	if strings.TrimSpace(sub.Reason) == "" {
		return CompOffOutcome{}, &generic.ValidationError{Field: "reason", Message: "is required"}
	}
	days, err := CountDays(sub.Date, sub.Date, sub.HalfDay)
	if err != nil {
		return CompOffOutcome{}, err
	}

	id := uuid.NewString()
	var out CompOffOutcome
	var approver Employee
	err = generic.Retry(ctx, w.opts.Retries, func() error {
		return w.store.WithTx(ctx, func(tx Store) error {
			emp, err := tx.GetEmployee(ctx, sub.EmployeeID)
			if err != nil {
				return err
			}
			approver, err = w.resolveApprover(ctx, tx, emp, sub.ApproverID, w.cfg.CompOffMode)
			if err != nil {
				return err
			}

			now := w.opts.now()
			approval := NewApproval(w.cfg.CompOffMode, w.cfg.RequireManager)
			req := CompOffRequest{
				ID:          id,
				EmployeeID:  emp.ID,
				ApproverID:  approver.ID,
				Date:        sub.Date,
				HalfDay:     sub.HalfDay,
				Reason:      sub.Reason,
				Days:        days,
				Status:      approval.InitialStatus(),
				Approval:    approval,
				SubmittedAt: now,
				UpdatedAt:   now,
			}
			if req.Status == StatusApproved {
				receipt, err := creditIn(ctx, tx, emp.ID, PoolCompOff, days, now)
				if err != nil {
					return err
				}
				req.Credit = &receipt
			}
			if err := tx.CreateCompOffRequest(ctx, req); err != nil {
				return err
			}
			if emp, err = tx.GetEmployee(ctx, emp.ID); err != nil {
				return err
			}
			out = CompOffOutcome{Request: req, Employee: emp}
			return nil
		})
	})
	if err != nil {
		return CompOffOutcome{}, err
	}

	w.opts.Logger.Info("comp-off submitted", "request", id, "employee", sub.EmployeeID,
		"days", days.String(), "status", out.Request.Status)

	req := out.Request
	out.NotificationError = deliver(ctx, w.notifier, w.cfg.NotifyTimeout, w.opts, Event{
		Kind:        EventCompOffSubmitted,
		RequestKind: KindCompOff,
		Employee:    partyOf(out.Employee),
		Actor:       partyOf(approver),
		Status:      req.Status,
		CompOff:     &req,
		At:          req.SubmittedAt,
	})
	return out, nil
}

// resolveApprover picks the senior approver. Staged requests need one.
func (w *Workflow) resolveApprover(ctx context.Context, tx Store, emp Employee, requested EmployeeID, mode Mode) (Employee, error) {
	id := requested
	if id == "" {
		id = emp.ApproverID
	}
	if id == "" {
		if mode == ModeStaged {
			return Employee{}, &generic.ValidationError{Field: "approver_id", Message: "is required"}
		}
		return Employee{}, nil
	}
	if id == emp.ID {
		return Employee{}, &generic.ValidationError{Field: "approver_id", Message: "cannot approve your own request"}
	}
	approver, err := tx.GetEmployee(ctx, id)
	if errors.Is(err, generic.ErrEmployeeNotFound) {
		// A stale default only matters when someone has to act on it.
		if mode != ModeStaged && requested == "" {
			return Employee{}, nil
		}
		return Employee{}, &generic.ValidationError{Field: "approver_id", Message: fmt.Sprintf("unknown approver %q", id)}
	}
	return approver, err
}

// =============================================================================
// DECISIONS
// =============================================================================

// DecideLeave applies an approver's decision. The debit happens here when
// the decision finalizes approval.
func (w *Workflow) DecideLeave(ctx context.Context, in DecisionInput) (LeaveOutcome, error) {
	var out LeaveOutcome
	var actor Employee
	var stage Stage
	err := generic.Retry(ctx, w.opts.Retries, func() error {
		return w.store.WithTx(ctx, func(tx Store) error {
			req, err := tx.GetLeaveRequest(ctx, in.RequestID)
			if err != nil {
				return err
			}
			actor, err = tx.GetEmployee(ctx, in.ActorID)
			if err != nil {
				return err
			}
			stage = pickStage(in.Stage, req.Approval)
			gone, err := approverGone(ctx, tx, stage, req.ApproverID)
			if err != nil {
				return err
			}
			if err := authorize(stage, actor, req.EmployeeID, req.ApproverID, gone); err != nil {
				return err
			}

			now := w.opts.now()
			status, err := req.Approval.Decide(req.Status, stage, in.Decision, actor.ID, now)
			if err != nil {
				return err
			}
			if status == StatusApproved {
				receipt, err := debitIn(ctx, tx, req.EmployeeID, req.Type, req.Days, now)
				if err != nil {
					return err
				}
				req.Receipt = &receipt
			}
			req.Status = status
			req.UpdatedAt = now
			if err := tx.UpdateLeaveRequest(ctx, &req); err != nil {
				return err
			}
			emp, err := tx.GetEmployee(ctx, req.EmployeeID)
			if err != nil {
				return err
			}
			out = LeaveOutcome{Request: req, Employee: emp}
			return nil
		})
	})
	if err != nil {
		return LeaveOutcome{}, err
	}

	w.opts.Logger.Info("leave decided", "request", in.RequestID, "stage", stage,
		"decision", in.Decision, "actor", actor.ID, "status", out.Request.Status)

	req := out.Request
	out.NotificationError = deliver(ctx, w.notifier, w.cfg.NotifyTimeout, w.opts, Event{
		Kind:        EventStageDecided,
		RequestKind: KindLeave,
		Employee:    partyOf(out.Employee),
		Actor:       partyOf(actor),
		Stage:       stage,
		Decision:    in.Decision,
		Status:      req.Status,
		Leave:       &req,
		At:          req.UpdatedAt,
	})
	return out, nil
}

// DecideCompOff applies an approver's decision. The credit happens here when
// the decision finalizes approval.
func (w *Workflow) DecideCompOff(ctx context.Context, in DecisionInput) (CompOffOutcome, error) {
	var out CompOffOutcome
	var actor Employee
	var stage Stage
	err := generic.Retry(ctx, w.opts.Retries, func() error {
		return w.store.WithTx(ctx, func(tx Store) error {
			req, err := tx.GetCompOffRequest(ctx, in.RequestID)
			if err != nil {
				return err
			}
			actor, err = tx.GetEmployee(ctx, in.ActorID)
			if err != nil {
				return err
			}
			stage = pickStage(in.Stage, req.Approval)
			gone, err := approverGone(ctx, tx, stage, req.ApproverID)
			if err != nil {
				return err
			}
			if err := authorize(stage, actor, req.EmployeeID, req.ApproverID, gone); err != nil {
				return err
			}

			now := w.opts.now()
			status, err := req.Approval.Decide(req.Status, stage, in.Decision, actor.ID, now)
			if err != nil {
				return err
			}
			if status == StatusApproved {
				receipt, err := creditIn(ctx, tx, req.EmployeeID, PoolCompOff, req.Days, now)
				if err != nil {
					return err
				}
				req.Credit = &receipt
			}
			req.Status = status
			req.UpdatedAt = now
			if err := tx.UpdateCompOffRequest(ctx, &req); err != nil {
				return err
			}
			emp, err := tx.GetEmployee(ctx, req.EmployeeID)
			if err != nil {
				return err
			}
			out = CompOffOutcome{Request: req, Employee: emp}
			return nil
		})
	})
	if err != nil {
		return CompOffOutcome{}, err
	}

	w.opts.Logger.Info("comp-off decided", "request", in.RequestID, "stage", stage,
		"decision", in.Decision, "actor", actor.ID, "status", out.Request.Status)

	req := out.Request
	out.NotificationError = deliver(ctx, w.notifier, w.cfg.NotifyTimeout, w.opts, Event{
		Kind:        EventStageDecided,
		RequestKind: KindCompOff,
		Employee:    partyOf(out.Employee),
		Actor:       partyOf(actor),
		Stage:       stage,
		Decision:    in.Decision,
		Status:      req.Status,
		CompOff:     &req,
		At:          req.UpdatedAt,
	})
	return out, nil
}

func pickStage(requested Stage, a Approval) Stage {
	if requested != "" {
		return requested
	}
	if s, ok := a.AwaitingStage(); ok {
		return s
	}
	return StageSenior
}

func authorize(stage Stage, actor Employee, requester, approver EmployeeID, orphaned bool) error {
	if actor.ID == requester {
		return fmt.Errorf("%w: cannot decide your own request", generic.ErrNotApprover)
	}
	switch stage {
	case StageSenior:
		if orphaned {
			if !actor.Role.CanDecideManagerStage() {
				return fmt.Errorf("%w: approver %s no longer exists, senior stage requires a manager or hr role", generic.ErrNotApprover, approver)
			}
			return nil
		}
		if actor.ID != approver {
			return fmt.Errorf("%w: senior stage belongs to %s", generic.ErrNotApprover, approver)
		}
	case StageManager:
		if !actor.Role.CanDecideManagerStage() {
			return fmt.Errorf("%w: manager stage requires a manager or hr role, %s is %s", generic.ErrNotApprover, actor.ID, actor.Role)
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (w *Workflow) GetLeaveRequest(ctx context.Context, id string) (LeaveRequest, error) {
	return w.store.GetLeaveRequest(ctx, id)
}

func (w *Workflow) GetCompOffRequest(ctx context.Context, id string) (CompOffRequest, error) {
	return w.store.GetCompOffRequest(ctx, id)
}

func (w *Workflow) ListLeaveRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error) {
	return w.store.ListLeaveRequests(ctx, filter)
}

func (w *Workflow) ListCompOffRequests(ctx context.Context, filter RequestFilter) ([]CompOffRequest, error) {
	return w.store.ListCompOffRequests(ctx, filter)
}

// PendingQueue is what an approver still has to act on.
type PendingQueue struct {
	Leaves   []LeaveRequest
	CompOffs []CompOffRequest
}

// PendingFor lists requests whose awaiting stage the actor may decide.
func (w *Workflow) PendingFor(ctx context.Context, actorID EmployeeID) (PendingQueue, error) {
	actor, err := w.store.GetEmployee(ctx, actorID)
	if err != nil {
		return PendingQueue{}, err
	}
	leaves, err := w.store.ListLeaveRequests(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return PendingQueue{}, err
	}
	compOffs, err := w.store.ListCompOffRequests(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return PendingQueue{}, err
	}

	employees, err := w.store.ListEmployees(ctx)
	if err != nil {
		return PendingQueue{}, err
	}
	known := make(map[EmployeeID]bool, len(employees))
	for _, e := range employees {
		known[e.ID] = true
	}

	queue := PendingQueue{Leaves: []LeaveRequest{}, CompOffs: []CompOffRequest{}}
	for _, r := range leaves {
		if canAct(actor, r.EmployeeID, r.ApproverID, r.Approval, known) {
			queue.Leaves = append(queue.Leaves, r)
		}
	}
	for _, r := range compOffs {
		if canAct(actor, r.EmployeeID, r.ApproverID, r.Approval, known) {
			queue.CompOffs = append(queue.CompOffs, r)
		}
	}
	return queue, nil
}

func canAct(actor Employee, requester, approver EmployeeID, a Approval, known map[EmployeeID]bool) bool {
	stage, ok := a.AwaitingStage()
	if !ok {
		return false
	}
	return authorize(stage, actor, requester, approver, !known[approver]) == nil
}

// approverGone reports whether the senior stage's designated approver has
// since been deleted.
func approverGone(ctx context.Context, tx Store, stage Stage, approver EmployeeID) (bool, error) {
	if stage != StageSenior || approver == "" {
		return false, nil
	}
	_, err := tx.GetEmployee(ctx, approver)
	if errors.Is(err, generic.ErrEmployeeNotFound) {
		return true, nil
	}
	return false, err
}
