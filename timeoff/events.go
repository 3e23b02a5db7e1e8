package timeoff

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Emitted after a mutation commits
// =============================================================================

type EventKind string

const (
	EventLeaveSubmitted    EventKind = "leave_submitted"
	EventLeaveAutoApproved EventKind = "leave_auto_approved"
	EventCompOffSubmitted  EventKind = "compoff_submitted"
	EventStageDecided      EventKind = "stage_decided"
	EventAccrualRun        EventKind = "accrual_run"
)

type RequestKind string

const (
	KindLeave   RequestKind = "leave"
	KindCompOff RequestKind = "compoff"
)

// Party identifies a person in a notification.
type Party struct {
	ID      EmployeeID `json:"id"`
	Name    string     `json:"name"`
	SlackID string     `json:"slack_id,omitempty"`
}

func partyOf(e Employee) Party {
	return Party{ID: e.ID, Name: e.Name, SlackID: e.SlackID}
}

// Event describes something a notification sink may want to announce.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind       `json:"kind"`
	RequestKind RequestKind     `json:"request_kind,omitempty"`
	Employee    Party           `json:"employee"`
	Actor       Party           `json:"actor"` // approver addressed, or who decided
	Stage       Stage           `json:"stage,omitempty"`
	Decision    Decision        `json:"decision,omitempty"`
	Status      Status          `json:"status,omitempty"` // request status after the event
	Leave       *LeaveRequest   `json:"leave,omitempty"`
	CompOff     *CompOffRequest `json:"comp_off,omitempty"`
	MonthKey    string          `json:"month_key,omitempty"`
	Updated     int             `json:"updated,omitempty"`
	At          time.Time       `json:"at"`
}

// AwaitingManager is true when a senior approval left the manager stage open.
func (e Event) AwaitingManager() bool {
	return e.Kind == EventStageDecided && e.Stage == StageSenior &&
		e.Decision == DecisionApprove && e.Status == StatusPending
}

// Notifier delivers events. Delivery is best-effort: errors are reported to
// the caller of the triggering operation but never undo it.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// deliver runs the notifier detached from the caller's cancellation and
// bounded by timeout. It returns the failure text, or "" on success.
func deliver(ctx context.Context, n Notifier, timeout time.Duration, opts Options, ev Event) string {
	if n == nil {
		return ""
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := n.Notify(nctx, ev); err != nil {
		opts.Logger.Warn("notification failed", "kind", ev.Kind, "employee", ev.Employee.ID, "error", err)
		return err.Error()
	}
	return ""
}
