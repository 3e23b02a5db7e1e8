package timeoff_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

func stagedConfig() timeoff.WorkflowConfig {
	cfg := timeoff.DefaultWorkflowConfig()
	cfg.LeaveMode = timeoff.ModeStaged
	return cfg
}

func newWorkflow(f *fixture, cfg timeoff.WorkflowConfig, n timeoff.Notifier) *timeoff.Workflow {
	return timeoff.NewWorkflow(f.store, n, cfg, opts("2024-03-10"))
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_LeaveOverdraw_DrivesCasualNegative(t *testing.T) {
	// GIVEN: leaves=2, compOffs=0
	// WHEN: 3 days casual leave requested and approved
	// THEN: compOffs=0, leaves=-1
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("2", "0", "0")})
	wf := newWorkflow(f, timeoff.DefaultWorkflowConfig(), nil)

	out, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp",
		StartDate:  date("2024-03-11"),
		EndDate:    date("2024-03-13"),
		Reason:     "family trip",
	})
	require.NoError(t, err)

	assert.Equal(t, timeoff.StatusApproved, out.Request.Status)
	require.NotNil(t, out.Request.Receipt)
	assertDec(t, "0", out.Request.Receipt.CompOffDeducted, "compoff deducted")
	assertDec(t, "3", out.Request.Receipt.CasualLeavesDeducted, "casual deducted")
	assertBalances(t, balances("-1", "0", "0"), out.Employee.Balances)
	assertBalances(t, balances("-1", "0", "0"), f.employee(t, "emp").Balances)
}

func TestScenario_HalfDayCompOff_RepaysDebt(t *testing.T) {
	// GIVEN: leaves=-2, compOffs=0
	// WHEN: half-day comp-off approved through both stages
	// THEN: leaves=-1.5, compOffs=0
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("-2", "0", "0")})
	wf := newWorkflow(f, timeoff.DefaultWorkflowConfig(), nil)

	sub, err := wf.SubmitCompOff(ctx, timeoff.CompOffSubmission{
		EmployeeID: "emp",
		Date:       date("2024-03-09"),
		HalfDay:    true,
		Reason:     "weekend release",
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, sub.Request.Status)
	assertBalances(t, balances("-2", "0", "0"), sub.Employee.Balances)

	mid, err := wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, mid.Request.Status)
	assert.Nil(t, mid.Request.Credit)
	assertBalances(t, balances("-2", "0", "0"), f.employee(t, "emp").Balances)

	final, err := wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, final.Request.Status)
	require.NotNil(t, final.Request.Credit)
	assertDec(t, "0.5", final.Request.Credit.DebtRepaid, "debt repaid")
	assertBalances(t, balances("-1.5", "0", "0"), f.employee(t, "emp").Balances)
}

// =============================================================================
// STAGED LEAVE
// =============================================================================

func TestStagedLeave_DebitsOnlyOnFinalApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "1")})
	wf := newWorkflow(f, stagedConfig(), nil)

	sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-21"), Reason: "wedding",
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, sub.Request.Status)
	assert.Nil(t, sub.Request.Receipt)

	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Stage: timeoff.StageSenior, Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assertBalances(t, balances("5", "0", "1"), f.employee(t, "emp").Balances)

	final, err := wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Stage: timeoff.StageManager, Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, final.Request.Status)
	assertDec(t, "1", final.Request.Receipt.CompOffDeducted, "compoff deducted")
	assertDec(t, "1", final.Request.Receipt.CasualLeavesDeducted, "casual deducted")
	assertBalances(t, balances("4", "0", "0"), f.employee(t, "emp").Balances)

	stored, err := wf.GetLeaveRequest(ctx, sub.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, stored.Approval.Senior.Status)
	assert.Equal(t, timeoff.StatusApproved, stored.Approval.Manager.Status)
	assert.Equal(t, timeoff.EmployeeID("hr"), stored.Approval.Manager.DecidedBy)
}

func TestStagedLeave_RejectionLeavesBalancesAlone(t *testing.T) {
	for _, stage := range []timeoff.Stage{timeoff.StageSenior, timeoff.StageManager} {
		t.Run(string(stage), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, "2024-03-10")
			f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "0")})
			wf := newWorkflow(f, stagedConfig(), nil)

			sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
				EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-22"), Reason: "trip",
			})
			require.NoError(t, err)

			if stage == timeoff.StageManager {
				_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})
				require.NoError(t, err)
			}
			actor := timeoff.EmployeeID("senior")
			if stage == timeoff.StageManager {
				actor = "hr"
			}
			out, err := wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: actor, Decision: timeoff.DecisionReject})
			require.NoError(t, err)

			assert.Equal(t, timeoff.StatusRejected, out.Request.Status)
			assert.Nil(t, out.Request.Receipt)
			assertBalances(t, balances("5", "0", "0"), f.employee(t, "emp").Balances)

			_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Stage: timeoff.StageManager, Decision: timeoff.DecisionApprove})
			assert.True(t, generic.IsConflict(err))
		})
	}
}

func TestStagedLeave_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "0")})
	f.add(t, timeoff.Employee{ID: "peer", Name: "Pat", Balances: balances("5", "0", "0")})
	wf := newWorkflow(f, stagedConfig(), nil)

	sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-20"), Reason: "dentist",
	})
	require.NoError(t, err)
	id := sub.Request.ID

	// Not the designated senior
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: id, ActorID: "peer", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrNotApprover)

	// Own request
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: id, ActorID: "emp", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrNotApprover)

	// Manager stage by a plain employee
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: id, ActorID: "senior", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: id, ActorID: "peer", Stage: timeoff.StageManager, Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrNotApprover)

	// Unknown request / actor
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: "nope", ActorID: "hr", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: id, ActorID: "ghost", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}

func TestDoubleApproval_DebitsOnce(t *testing.T) {
	// GIVEN: a staged leave awaiting its final (senior-only) approval
	// WHEN: the approver fires the approval 8 times concurrently
	// THEN: exactly one succeeds and the balance is debited once
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "0")})
	cfg := stagedConfig()
	cfg.RequireManager = false
	wf := timeoff.NewWorkflow(f.store, nil, cfg, timeoff.Options{Retries: 10, Clock: clockAt("2024-03-10")})

	sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-21"), Reason: "trip",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, notPending := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case generic.IsConflict(err):
				notPending++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, notPending)
	assertBalances(t, balances("3", "0", "0"), f.employee(t, "emp").Balances)
}

// =============================================================================
// SUBMISSION VALIDATION
// =============================================================================

func TestSubmitLeave_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", Balances: balances("5", "0", "0")})
	wf := newWorkflow(f, stagedConfig(), nil)

	tests := []struct {
		name string
		sub  timeoff.LeaveSubmission
	}{
		{"end before start", timeoff.LeaveSubmission{EmployeeID: "emp", ApproverID: "senior", StartDate: date("2024-03-05"), EndDate: date("2024-03-01"), Reason: "x"}},
		{"missing reason", timeoff.LeaveSubmission{EmployeeID: "emp", ApproverID: "senior", StartDate: date("2024-03-05"), EndDate: date("2024-03-05")}},
		{"unknown type", timeoff.LeaveSubmission{EmployeeID: "emp", ApproverID: "senior", Type: "bereavement", StartDate: date("2024-03-05"), EndDate: date("2024-03-05"), Reason: "x"}},
		{"no approver in staged mode", timeoff.LeaveSubmission{EmployeeID: "emp", StartDate: date("2024-03-05"), EndDate: date("2024-03-05"), Reason: "x"}},
		{"self approver", timeoff.LeaveSubmission{EmployeeID: "emp", ApproverID: "emp", StartDate: date("2024-03-05"), EndDate: date("2024-03-05"), Reason: "x"}},
		{"unknown approver", timeoff.LeaveSubmission{EmployeeID: "emp", ApproverID: "ghost", StartDate: date("2024-03-05"), EndDate: date("2024-03-05"), Reason: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wf.SubmitLeave(ctx, tt.sub)
			assert.True(t, generic.IsClientError(err), "got %v", err)
		})
	}

	requests, err := wf.ListLeaveRequests(ctx, timeoff.RequestFilter{EmployeeID: "emp"})
	require.NoError(t, err)
	assert.Empty(t, requests, "no request is stored on validation failure")
}

func TestSubmitLeave_HalfDaySick_UsesSickPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", SickLeaveEligible: true, Balances: balances("5", "1", "2")})
	wf := newWorkflow(f, timeoff.DefaultWorkflowConfig(), nil)

	out, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", Type: timeoff.LeaveSick, StartDate: date("2024-03-11"), EndDate: date("2024-03-15"),
		HalfDay: true, Reason: "fever",
	})
	require.NoError(t, err)

	assertDec(t, "0.5", out.Request.Days, "days")
	assert.True(t, out.Request.EndDate.Equal(out.Request.StartDate))
	assertDec(t, "0.5", out.Request.Receipt.SickLeavesDeducted, "sick deducted")
	assertBalances(t, balances("5", "0.5", "2"), f.employee(t, "emp").Balances)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotificationFailure_DoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", SlackID: "U_EVE", ApproverID: "senior", Balances: balances("2", "0", "0")})
	n := &recorder{fail: errSlackDown}
	wf := newWorkflow(f, timeoff.DefaultWorkflowConfig(), n)

	out, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-11"), EndDate: date("2024-03-11"), Reason: "errand",
	})
	require.NoError(t, err)

	assert.Contains(t, out.NotificationError, "slack is down")
	assert.Equal(t, []timeoff.EventKind{timeoff.EventLeaveAutoApproved}, n.kinds())
	assertBalances(t, balances("1", "0", "0"), f.employee(t, "emp").Balances)
}

func TestNotifications_FollowTheStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", SlackID: "U_EVE", ApproverID: "senior"})
	n := &recorder{}
	wf := newWorkflow(f, timeoff.DefaultWorkflowConfig(), n)

	sub, err := wf.SubmitCompOff(ctx, timeoff.CompOffSubmission{EmployeeID: "emp", Date: date("2024-03-09"), Reason: "release"})
	require.NoError(t, err)
	assert.Empty(t, sub.NotificationError)
	_, err = wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	_, err = wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)

	require.Len(t, n.events, 3)
	assert.Equal(t, timeoff.EventCompOffSubmitted, n.events[0].Kind)
	assert.Equal(t, "U_SENIOR", n.events[0].Actor.SlackID)
	assert.True(t, n.events[1].AwaitingManager())
	assert.Equal(t, timeoff.StatusApproved, n.events[2].Status)
	assert.Equal(t, timeoff.StageManager, n.events[2].Stage)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestPendingFor_RoutesByStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior"})
	wf := newWorkflow(f, stagedConfig(), nil)

	leave, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-20"), Reason: "x"})
	require.NoError(t, err)
	_, err = wf.SubmitCompOff(ctx, timeoff.CompOffSubmission{EmployeeID: "emp", Date: date("2024-03-09"), Reason: "y"})
	require.NoError(t, err)

	seniorQueue, err := wf.PendingFor(ctx, "senior")
	require.NoError(t, err)
	assert.Len(t, seniorQueue.Leaves, 1)
	assert.Len(t, seniorQueue.CompOffs, 1)

	hrQueue, err := wf.PendingFor(ctx, "hr")
	require.NoError(t, err)
	assert.Empty(t, hrQueue.Leaves, "manager stage not reached yet")

	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: leave.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)

	hrQueue, err = wf.PendingFor(ctx, "hr")
	require.NoError(t, err)
	assert.Len(t, hrQueue.Leaves, 1)
	seniorQueue, err = wf.PendingFor(ctx, "senior")
	require.NoError(t, err)
	assert.Empty(t, seniorQueue.Leaves)
}

// =============================================================================
// APPROVER REMOVAL
// =============================================================================

func TestSubmit_StaleDefaultApprover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "0")})
	// Removed behind the directory's back, so emp still names senior.
	require.NoError(t, f.store.DeleteEmployee(ctx, "senior"))

	// Auto-approval never consults the approver.
	auto, err := newWorkflow(f, timeoff.DefaultWorkflowConfig(), nil).SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-20"), Reason: "errand",
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, auto.Request.Status)
	assert.Empty(t, auto.Request.ApproverID)

	// An explicit approver is still checked.
	_, err = newWorkflow(f, timeoff.DefaultWorkflowConfig(), nil).SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", ApproverID: "senior", StartDate: date("2024-03-21"), EndDate: date("2024-03-21"), Reason: "errand",
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Staged requests need someone to act on the senior stage.
	_, err = newWorkflow(f, stagedConfig(), nil).SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-22"), EndDate: date("2024-03-22"), Reason: "errand",
	})
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "approver_id", verr.Field)
}

func TestDirectoryDelete_OrphanedSeniorStageFallsToHR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "0")})
	f.add(t, timeoff.Employee{ID: "peer", Name: "Pat Peer"})
	wf := newWorkflow(f, stagedConfig(), nil)

	sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-21"), Reason: "trip",
	})
	require.NoError(t, err)

	// WHEN
	require.NoError(t, f.dir.Delete(ctx, "senior"))

	// THEN: emp has no default approver any more
	assert.Empty(t, f.employee(t, "emp").ApproverID)

	// AND: a plain employee cannot take over the senior stage
	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "peer", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrNotApprover)

	// AND: HR sees it and can decide both stages
	queue, err := wf.PendingFor(ctx, "hr")
	require.NoError(t, err)
	require.Len(t, queue.Leaves, 1)

	_, err = wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Stage: timeoff.StageSenior, Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	final, err := wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "hr", Stage: timeoff.StageManager, Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, final.Request.Status)
	assertBalances(t, balances("3", "0", "0"), f.employee(t, "emp").Balances)
}

// =============================================================================
// OPTIMISTIC RETRY
// =============================================================================

// conflictOnce fails the first request update with a lost compare-and-set,
// as a concurrent writer on a real database would.
type conflictOnce struct {
	timeoff.Store
	state *conflictState
}

type conflictState struct {
	fired bool
	reads int
}

func (c conflictOnce) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	return c.Store.WithTx(ctx, func(tx timeoff.Store) error {
		return fn(conflictOnce{Store: tx, state: c.state})
	})
}

func (c conflictOnce) GetLeaveRequest(ctx context.Context, id string) (timeoff.LeaveRequest, error) {
	c.state.reads++
	return c.Store.GetLeaveRequest(ctx, id)
}

func (c conflictOnce) UpdateLeaveRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	if !c.state.fired {
		c.state.fired = true
		return &generic.ConflictError{Kind: "leave_request", ID: r.ID, Version: r.Version}
	}
	return c.Store.UpdateLeaveRequest(ctx, r)
}

func (c conflictOnce) GetCompOffRequest(ctx context.Context, id string) (timeoff.CompOffRequest, error) {
	c.state.reads++
	return c.Store.GetCompOffRequest(ctx, id)
}

func (c conflictOnce) UpdateCompOffRequest(ctx context.Context, r *timeoff.CompOffRequest) error {
	if !c.state.fired {
		c.state.fired = true
		return &generic.ConflictError{Kind: "comp_off_request", ID: r.ID, Version: r.Version}
	}
	return c.Store.UpdateCompOffRequest(ctx, r)
}

func TestDecideLeave_RetriesLostUpdate_DebitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("5", "0", "1")})
	cfg := stagedConfig()
	cfg.RequireManager = false

	sub, err := newWorkflow(f, cfg, nil).SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: date("2024-03-20"), EndDate: date("2024-03-21"), Reason: "trip",
	})
	require.NoError(t, err)

	// GIVEN: the final approval's first write loses the race
	state := &conflictState{}
	wf := timeoff.NewWorkflow(conflictOnce{Store: f.store, state: state}, nil, cfg, opts("2024-03-10"))

	// WHEN
	out, err := wf.DecideLeave(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})

	// THEN: the retry re-read the request and the debit landed once
	require.NoError(t, err)
	assert.True(t, state.fired)
	assert.Equal(t, 2, state.reads)
	assert.Equal(t, timeoff.StatusApproved, out.Request.Status)
	emp := f.employee(t, "emp")
	assertBalances(t, balances("4", "0", "0"), emp.Balances)
	assert.Equal(t, int64(2), emp.Version, "one balance write")
}

func TestDecideCompOff_RetriesLostUpdate_CreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2024-03-10")
	f.add(t, timeoff.Employee{ID: "emp", Name: "Eve", ApproverID: "senior", Balances: balances("-1", "0", "0")})
	cfg := timeoff.DefaultWorkflowConfig()
	cfg.RequireManager = false

	sub, err := newWorkflow(f, cfg, nil).SubmitCompOff(ctx, timeoff.CompOffSubmission{EmployeeID: "emp", Date: date("2024-03-09"), Reason: "release"})
	require.NoError(t, err)

	state := &conflictState{}
	wf := timeoff.NewWorkflow(conflictOnce{Store: f.store, state: state}, nil, cfg, opts("2024-03-10"))

	out, err := wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: sub.Request.ID, ActorID: "senior", Decision: timeoff.DecisionApprove})

	require.NoError(t, err)
	assert.Equal(t, 2, state.reads)
	assert.Equal(t, timeoff.StatusApproved, out.Request.Status)
	assertBalances(t, balances("0", "0", "0"), f.employee(t, "emp").Balances)
}
