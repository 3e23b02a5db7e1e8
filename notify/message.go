/*
message.go - Slack text for timeoff events

PURPOSE:
  Turns a timeoff.Event into the Slack messages announcing it. Rendering is
  pure so the webhook client and the queue share it.

MESSAGES:
  leave_submitted       -> "Leave Request Notification" addressed to the approver
  leave_auto_approved   -> "Leave Approved" addressed to the employee
  compoff_submitted     -> "CompOff Request Notification" addressed to the approver
  stage_decided senior  -> result to the employee; when the manager stage is
                           still open, a second message on the HR channel
  stage_decided manager -> "HR Approved/Rejected" result to the employee
  accrual_run           -> one summary line

  People are mentioned as <@slackId>, or by name when no Slack id is known.
*/
package notify

import (
	"fmt"
	"strings"

	"github.com/warp/leave-ledger/timeoff"
)

// HRChannel routes messages that need HR attention.
const HRChannel = "hr-approvals"

const dateLayout = "02-Jan-2006"

// Message is the Slack incoming-webhook payload.
type Message struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// Render returns the messages for ev. appURL, when set, is linked at the end.
func Render(ev timeoff.Event, appURL string) []Message {
	var msgs []Message
	switch ev.Kind {
	case timeoff.EventLeaveSubmitted:
		msgs = leaveSubmitted(ev)
	case timeoff.EventLeaveAutoApproved:
		msgs = leaveAutoApproved(ev)
	case timeoff.EventCompOffSubmitted:
		msgs = compOffSubmitted(ev)
	case timeoff.EventStageDecided:
		msgs = stageDecided(ev)
	case timeoff.EventAccrualRun:
		msgs = []Message{{Text: fmt.Sprintf("*Monthly Leave Accrual*\n\nLeaves for %s were credited to %d employees.", ev.MonthKey, ev.Updated)}}
	}
	if appURL != "" && ev.Kind != timeoff.EventAccrualRun {
		link := fmt.Sprintf("\n\n<%s | Click here to check the request in Leave Management System>", appURL)
		for i := range msgs {
			msgs[i].Text += link
		}
	}
	return msgs
}

func leaveSubmitted(ev timeoff.Event) []Message {
	r := ev.Leave
	if r == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString("*Leave Request Notification*\n\n")
	fmt.Fprintf(&b, "%s has applied for %s %s.\n\n", mention(ev.Employee), r.Type.Label(), leaveDates(r))
	if ev.Actor.ID != "" {
		fmt.Fprintf(&b, "%s, they have asked for an approval from you.\n\n", mention(ev.Actor))
	}
	b.WriteString("*Details:*\n")
	fmt.Fprintf(&b, "• *Date(s):* %s\n", leaveDates(r))
	fmt.Fprintf(&b, "• *Reason:* %s", r.Reason)
	return []Message{{Text: b.String()}}
}

func leaveAutoApproved(ev timeoff.Event) []Message {
	r := ev.Leave
	if r == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString("*Leave Approved ✅*\n\n")
	fmt.Fprintf(&b, "%s has applied for %s %s. It was approved automatically.\n\n", mention(ev.Employee), r.Type.Label(), leaveDates(r))
	b.WriteString("*Details:*\n")
	fmt.Fprintf(&b, "• *Date(s):* %s\n", leaveDates(r))
	fmt.Fprintf(&b, "• *Days:* %s\n", r.Days.String())
	fmt.Fprintf(&b, "• *Reason:* %s", r.Reason)
	return []Message{{Text: b.String()}}
}

func compOffSubmitted(ev timeoff.Event) []Message {
	r := ev.CompOff
	if r == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString("*CompOff Request Notification*\n\n")
	fmt.Fprintf(&b, "%s has raised a CompOff request.", mention(ev.Employee))
	if ev.Actor.ID != "" {
		fmt.Fprintf(&b, " %s, they have asked for an approval from you.", mention(ev.Actor))
	}
	b.WriteString("\n\n*Details:*\n")
	fmt.Fprintf(&b, "• *Date:* %s\n", r.Date.Time().Format(dateLayout))
	fmt.Fprintf(&b, "• *Type:* %s\n", dayType(r.HalfDay))
	fmt.Fprintf(&b, "• *Reason:* %s\n", r.Reason)
	fmt.Fprintf(&b, "• *Status:* %s", r.Status)
	return []Message{{Text: b.String()}}
}

func stageDecided(ev timeoff.Event) []Message {
	approved := ev.Decision == timeoff.DecisionApprove
	if ev.Stage == timeoff.StageManager {
		return []Message{{Text: managerResult(ev, approved)}}
	}
	msgs := []Message{{Text: seniorResult(ev, approved)}}
	if ev.AwaitingManager() {
		msgs = append(msgs, Message{Text: pendingHR(ev), Channel: HRChannel})
	}
	return msgs
}

func seniorResult(ev timeoff.Event, approved bool) string {
	subject, what, details := describe(ev)
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Request %s*\n\n", subject, verdict(approved))
	fmt.Fprintf(&b, "%s, your %s has been %s by %s.", mention(ev.Employee), what, pastTense(approved), mention(ev.Actor))
	if ev.AwaitingManager() {
		b.WriteString("\n*Note:* Approval from HR is required")
	}
	b.WriteString("\n\n*Request Details:*\n")
	b.WriteString(details)
	return b.String()
}

func managerResult(ev timeoff.Event, approved bool) string {
	subject, what, details := describe(ev)
	var b strings.Builder
	fmt.Fprintf(&b, "*HR %s %s Request*\n\n", verdict(approved), subject)
	fmt.Fprintf(&b, "%s, your %s has been %s by HR (%s).", mention(ev.Employee), what, pastTense(approved), mention(ev.Actor))
	b.WriteString("\n\n*Request Details:*\n")
	b.WriteString(details)
	return b.String()
}

func pendingHR(ev timeoff.Event) string {
	subject, what, details := describe(ev)
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Request Pending HR Approval*\n\n", subject)
	fmt.Fprintf(&b, "%s's %s has been approved by %s and needs HR approval.", mention(ev.Employee), what, mention(ev.Actor))
	b.WriteString("\n\n*Request Details:*\n")
	b.WriteString(details)
	return b.String()
}

// describe returns the subject word, the request phrase and the detail bullets.
func describe(ev timeoff.Event) (string, string, string) {
	if r := ev.Leave; r != nil {
		dates := leaveDates(r)
		details := fmt.Sprintf("• *Date(s):* %s\n• *Type:* %s\n• *Reason:* %s", dates, r.Type.Label(), r.Reason)
		return "Leave", fmt.Sprintf("%s request for %s", r.Type.Label(), dates), details
	}
	if r := ev.CompOff; r != nil {
		date := r.Date.Time().Format(dateLayout)
		details := fmt.Sprintf("• *Date:* %s\n• *Type:* %s\n• *Reason:* %s", date, dayType(r.HalfDay), r.Reason)
		return "CompOff", fmt.Sprintf("CompOff request (%s) for %s", dayType(r.HalfDay), date), details
	}
	return "Unknown", "request", ""
}

func leaveDates(r *timeoff.LeaveRequest) string {
	start := r.StartDate.Time().Format(dateLayout)
	switch {
	case r.HalfDay:
		return "a half day on " + start
	case r.StartDate.Equal(r.EndDate):
		return "on " + start
	default:
		return fmt.Sprintf("from %s to %s", start, r.EndDate.Time().Format(dateLayout))
	}
}

func mention(p timeoff.Party) string {
	if p.SlackID != "" {
		return "<@" + p.SlackID + ">"
	}
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}

func dayType(halfDay bool) string {
	if halfDay {
		return "half day"
	}
	return "full day"
}

func verdict(approved bool) string {
	if approved {
		return "Approved ✅"
	}
	return "Rejected ❌"
}

func pastTense(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}
