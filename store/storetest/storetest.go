// Package storetest is the behavioural suite every timeoff.Store must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// Run executes the suite, calling newStore for a fresh empty store per case.
func Run(t *testing.T, newStore func(t *testing.T) timeoff.Store) {
	t.Run("Employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("EmployeeCAS", func(t *testing.T) { testEmployeeCAS(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("DeleteReleasesReports", func(t *testing.T) { testDeleteReleasesReports(t, newStore(t)) })
	t.Run("LeaveRequests", func(t *testing.T) { testLeaveRequests(t, newStore(t)) })
	t.Run("CompOffRequests", func(t *testing.T) { testCompOffRequests(t, newStore(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
	t.Run("AccrualMark", func(t *testing.T) { testAccrualMark(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

var at = time.Date(2024, time.February, 10, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func employee(id timeoff.EmployeeID, name string) timeoff.Employee {
	return timeoff.Employee{
		ID:        id,
		Name:      name,
		EmpCode:   "E-" + string(id),
		Role:      timeoff.RoleEmployee,
		Category:  timeoff.CategoryStandard,
		Balances:  timeoff.Balances{CasualLeaves: dec("4.5"), SickLeaves: dec("2"), CompOffs: dec("1")},
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func leave(id string, emp timeoff.EmployeeID, submitted time.Time) timeoff.LeaveRequest {
	return timeoff.LeaveRequest{
		ID:          id,
		EmployeeID:  emp,
		ApproverID:  "boss",
		Type:        timeoff.LeaveCasual,
		StartDate:   generic.MustParseDate("2024-02-12"),
		EndDate:     generic.MustParseDate("2024-02-14"),
		Reason:      "family trip",
		Days:        dec("3"),
		Status:      timeoff.StatusPending,
		Approval:    timeoff.NewApproval(timeoff.ModeStaged, true),
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}
}

func compOff(id string, emp timeoff.EmployeeID, submitted time.Time) timeoff.CompOffRequest {
	return timeoff.CompOffRequest{
		ID:          id,
		EmployeeID:  emp,
		ApproverID:  "boss",
		Date:        generic.MustParseDate("2024-02-03"),
		HalfDay:     true,
		Reason:      "release weekend",
		Days:        generic.HalfDay,
		Status:      timeoff.StatusPending,
		Approval:    timeoff.NewApproval(timeoff.ModeStaged, true),
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}
}

func testEmployees(t *testing.T, s timeoff.Store) {
	ctx := context.Background()

	// GIVEN: three employees, two sharing a name
	require.NoError(t, s.CreateEmployee(ctx, employee("b", "Zoe")))
	require.NoError(t, s.CreateEmployee(ctx, employee("c", "Adam")))
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Zoe")))

	// WHEN/THEN: a duplicate id is refused
	err := s.CreateEmployee(ctx, employee("a", "Other"))
	assert.ErrorIs(t, err, generic.ErrEmployeeExists)

	// THEN: listing is ordered by name, then id
	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []timeoff.EmployeeID{"c", "a", "b"}, []timeoff.EmployeeID{list[0].ID, list[1].ID, list[2].ID})

	// THEN: the record round-trips
	got, err := s.GetEmployee(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Zoe", got.Name)
	assert.Equal(t, "E-a", got.EmpCode)
	assert.True(t, got.Balances.CasualLeaves.Equal(dec("4.5")))
	assert.True(t, got.Balances.SickLeaves.Equal(dec("2")))
	assert.True(t, got.Balances.CompOffs.Equal(dec("1")))
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(at))

	_, err = s.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}

func testEmployeeCAS(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Ann")))

	// GIVEN: two readers of the same version
	first, err := s.GetEmployee(ctx, "a")
	require.NoError(t, err)
	second := first

	// WHEN: the first writes
	first.Balances.CasualLeaves = dec("-1.5")
	require.NoError(t, s.UpdateEmployee(ctx, &first))
	assert.Equal(t, int64(2), first.Version)

	// THEN: the second write is a conflict and changes nothing
	second.Balances.CasualLeaves = dec("9")
	err = s.UpdateEmployee(ctx, &second)
	var conflict *generic.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.True(t, generic.IsRetryable(err))
	assert.Equal(t, int64(1), second.Version)

	got, err := s.GetEmployee(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balances.CasualLeaves.Equal(dec("-1.5")), "negative casual balance persists")
	assert.Equal(t, int64(2), got.Version)

	missing := employee("ghost", "Ghost")
	assert.ErrorIs(t, s.UpdateEmployee(ctx, &missing), generic.ErrEmployeeNotFound)
}

func testDeleteCascades(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Ann")))
	require.NoError(t, s.CreateEmployee(ctx, employee("b", "Ben")))
	require.NoError(t, s.CreateLeaveRequest(ctx, leave("L1", "a", at)))
	require.NoError(t, s.CreateLeaveRequest(ctx, leave("L2", "b", at)))
	require.NoError(t, s.CreateCompOffRequest(ctx, compOff("C1", "a", at)))

	// WHEN
	require.NoError(t, s.DeleteEmployee(ctx, "a"))

	// THEN: only Ann's requests are gone
	_, err := s.GetLeaveRequest(ctx, "L1")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
	_, err = s.GetCompOffRequest(ctx, "C1")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
	_, err = s.GetLeaveRequest(ctx, "L2")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteEmployee(ctx, "a"), generic.ErrEmployeeNotFound)
}

// testDeleteReleasesReports drives Directory and Workflow over the store:
// removing an approver must not strand the people who report to them.
func testDeleteReleasesReports(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	opts := timeoff.Options{Clock: func() time.Time { return at }}
	dir := timeoff.NewDirectory(s, opts)
	wf := timeoff.NewWorkflow(s, nil, timeoff.DefaultWorkflowConfig(), opts)

	// GIVEN: emp reports to boss and has a comp-off waiting on boss
	hr := employee("hr", "Hana HR")
	hr.Role = timeoff.RoleHR
	emp := employee("emp", "Eve")
	emp.ApproverID = "boss"
	for _, e := range []timeoff.Employee{employee("boss", "Bo Boss"), hr, emp, employee("peer", "Pat Peer")} {
		_, err := dir.Create(ctx, e)
		require.NoError(t, err)
	}
	pending, err := wf.SubmitCompOff(ctx, timeoff.CompOffSubmission{
		EmployeeID: "emp", Date: generic.MustParseDate("2024-02-03"), Reason: "release weekend",
	})
	require.NoError(t, err)
	require.Equal(t, timeoff.StatusPending, pending.Request.Status)

	// WHEN
	require.NoError(t, dir.Delete(ctx, "boss"))

	// THEN: emp no longer points at boss
	got, err := s.GetEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Empty(t, got.ApproverID)
	assert.Equal(t, int64(2), got.Version)

	// AND: auto-approved leave still goes through
	leaveOut, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "emp", StartDate: generic.MustParseDate("2024-02-12"), EndDate: generic.MustParseDate("2024-02-12"), Reason: "errand",
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, leaveOut.Request.Status)

	// AND: the orphaned senior stage is in HR's queue, not a peer's
	queue, err := wf.PendingFor(ctx, "hr")
	require.NoError(t, err)
	require.Len(t, queue.CompOffs, 1)
	assert.Equal(t, pending.Request.ID, queue.CompOffs[0].ID)

	queue, err = wf.PendingFor(ctx, "peer")
	require.NoError(t, err)
	assert.Empty(t, queue.CompOffs)

	_, err = wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: pending.Request.ID, ActorID: "peer", Decision: timeoff.DecisionApprove})
	assert.ErrorIs(t, err, generic.ErrNotApprover)

	// AND: HR can carry it through both stages
	_, err = wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: pending.Request.ID, ActorID: "hr", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	done, err := wf.DecideCompOff(ctx, timeoff.DecisionInput{RequestID: pending.Request.ID, ActorID: "hr", Decision: timeoff.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, done.Request.Status)
	assert.True(t, dec("1").Equal(done.Employee.Balances.CompOffs), "comp-offs: %s", done.Employee.Balances.CompOffs)

	assert.ErrorIs(t, dir.Delete(ctx, "boss"), generic.ErrEmployeeNotFound)
}

func testLeaveRequests(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Ann")))
	require.NoError(t, s.CreateEmployee(ctx, employee("b", "Ben")))

	// GIVEN: requests submitted at different times
	require.NoError(t, s.CreateLeaveRequest(ctx, leave("L1", "a", at)))
	require.NoError(t, s.CreateLeaveRequest(ctx, leave("L2", "a", at.Add(time.Hour))))
	require.NoError(t, s.CreateLeaveRequest(ctx, leave("L3", "b", at.Add(2*time.Hour))))

	err := s.CreateLeaveRequest(ctx, leave("L4", "ghost", at))
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)

	// WHEN: L1 is approved with a receipt
	r, err := s.GetLeaveRequest(ctx, "L1")
	require.NoError(t, err)
	decided := at.Add(30 * time.Minute)
	_, err = r.Approval.Decide(r.Status, timeoff.StageSenior, timeoff.DecisionApprove, "boss", decided)
	require.NoError(t, err)
	status, err := r.Approval.Decide(timeoff.StatusPending, timeoff.StageManager, timeoff.DecisionApprove, "hr", decided)
	require.NoError(t, err)
	r.Status = status
	r.Receipt = &timeoff.DeductionReceipt{CompOffDeducted: dec("1"), CasualLeavesDeducted: dec("2"), SickLeavesDeducted: decimal.Zero}
	r.UpdatedAt = decided
	stale := r
	require.NoError(t, s.UpdateLeaveRequest(ctx, &r))

	// THEN: the stage record and receipt round-trip
	got, err := s.GetLeaveRequest(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, got.Status)
	assert.Equal(t, timeoff.ModeStaged, got.Approval.Mode)
	assert.Equal(t, timeoff.StatusApproved, got.Approval.Senior.Status)
	assert.Equal(t, timeoff.EmployeeID("boss"), got.Approval.Senior.DecidedBy)
	assert.True(t, got.Approval.Senior.DecidedAt.Equal(decided))
	assert.Equal(t, timeoff.EmployeeID("hr"), got.Approval.Manager.DecidedBy)
	require.NotNil(t, got.Receipt)
	assert.True(t, got.Receipt.Total().Equal(dec("3")))
	assert.Equal(t, "2024-02-12", got.StartDate.String())
	assert.Equal(t, "2024-02-14", got.EndDate.String())
	assert.True(t, got.Days.Equal(dec("3")))
	assert.Equal(t, "family trip", got.Reason)

	// THEN: a stale write conflicts
	err = s.UpdateLeaveRequest(ctx, &stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	// THEN: listings filter and come newest first
	all, err := s.ListLeaveRequests(ctx, timeoff.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "L3", all[0].ID)
	assert.Equal(t, "L1", all[2].ID)

	annPending, err := s.ListLeaveRequests(ctx, timeoff.RequestFilter{EmployeeID: "a", Status: timeoff.StatusPending})
	require.NoError(t, err)
	require.Len(t, annPending, 1)
	assert.Equal(t, "L2", annPending[0].ID)
	assert.Nil(t, annPending[0].Receipt)

	_, err = s.GetLeaveRequest(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
}

func testCompOffRequests(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Ann")))
	require.NoError(t, s.CreateCompOffRequest(ctx, compOff("C1", "a", at)))
	require.NoError(t, s.CreateCompOffRequest(ctx, compOff("C2", "a", at.Add(time.Minute))))

	r, err := s.GetCompOffRequest(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, r.HalfDay)
	assert.True(t, r.Days.Equal(dec("0.5")))
	assert.Equal(t, "2024-02-03", r.Date.String())
	assert.Nil(t, r.Credit)

	// WHEN: rejected at the senior stage
	status, err := r.Approval.Decide(r.Status, timeoff.StageSenior, timeoff.DecisionReject, "boss", at)
	require.NoError(t, err)
	r.Status = status
	require.NoError(t, s.UpdateCompOffRequest(ctx, &r))

	// THEN
	rejected, err := s.ListCompOffRequests(ctx, timeoff.RequestFilter{Status: timeoff.StatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "C1", rejected[0].ID)
	assert.Equal(t, timeoff.StatusRejected, rejected[0].Approval.Senior.Status)
	assert.Equal(t, timeoff.StatusPending, rejected[0].Approval.Manager.Status)
	assert.Nil(t, rejected[0].Credit)

	// WHEN: C2 is approved with a credit receipt
	c2, err := s.GetCompOffRequest(ctx, "C2")
	require.NoError(t, err)
	c2.Status = timeoff.StatusApproved
	c2.Credit = &timeoff.CreditReceipt{Pool: timeoff.PoolCompOff, DebtRepaid: dec("0.5"), PoolCredited: decimal.Zero}
	require.NoError(t, s.UpdateCompOffRequest(ctx, &c2))

	got, err := s.GetCompOffRequest(ctx, "C2")
	require.NoError(t, err)
	require.NotNil(t, got.Credit)
	assert.Equal(t, timeoff.PoolCompOff, got.Credit.Pool)
	assert.True(t, got.Credit.DebtRepaid.Equal(dec("0.5")))
}

func testSnapshots(t *testing.T, s timeoff.Store) {
	ctx := context.Background()

	_, err := s.GetOpeningSnapshot(ctx, "Feb-2024")
	assert.ErrorIs(t, err, generic.ErrSnapshotNotFound)

	snap := timeoff.OpeningSnapshot{
		Label:      "Feb-2024",
		CapturedAt: at,
		Balances: map[timeoff.EmployeeID]timeoff.OpeningBalance{
			"a": {Leaves: dec("-2"), CompOffs: dec("1.5")},
			"b": {Leaves: dec("10"), CompOffs: decimal.Zero},
		},
	}
	require.NoError(t, s.CreateOpeningSnapshot(ctx, snap))

	// WHEN: a second capture for the label
	again := snap
	again.Balances = map[timeoff.EmployeeID]timeoff.OpeningBalance{"a": {Leaves: dec("99"), CompOffs: dec("99")}}
	err = s.CreateOpeningSnapshot(ctx, again)

	// THEN: refused, original intact
	assert.ErrorIs(t, err, generic.ErrSnapshotExists)
	got, err := s.GetOpeningSnapshot(ctx, "Feb-2024")
	require.NoError(t, err)
	require.Len(t, got.Balances, 2)
	assert.True(t, got.Balances["a"].Leaves.Equal(dec("-2")))
	assert.True(t, got.Balances["a"].CompOffs.Equal(dec("1.5")))
	assert.True(t, got.CapturedAt.Equal(at))
}

func testAccrualMark(t *testing.T, s timeoff.Store) {
	ctx := context.Background()

	// GIVEN: never run
	mark, err := s.GetAccrualMark(ctx)
	require.NoError(t, err)
	assert.Empty(t, mark.MonthKey)
	assert.Equal(t, int64(0), mark.Version)

	// WHEN: two runs race from the same read
	racer := mark
	mark.MonthKey, mark.RanAt = "2024-02", at
	require.NoError(t, s.SetAccrualMark(ctx, &mark))
	assert.Equal(t, int64(1), mark.Version)

	racer.MonthKey, racer.RanAt = "2024-02", at
	err = s.SetAccrualMark(ctx, &racer)

	// THEN: only one wins
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	mark.MonthKey = "2024-03"
	require.NoError(t, s.SetAccrualMark(ctx, &mark))
	got, err := s.GetAccrualMark(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03", got.MonthKey)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.RanAt.Equal(at))
}

func testTxRollback(t *testing.T, s timeoff.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateEmployee(ctx, employee("a", "Ann")))
	boom := errors.New("boom")

	// WHEN: a transaction writes then fails
	err := s.WithTx(ctx, func(tx timeoff.Store) error {
		e, err := tx.GetEmployee(ctx, "a")
		if err != nil {
			return err
		}
		e.Balances.CompOffs = dec("7")
		if err := tx.UpdateEmployee(ctx, &e); err != nil {
			return err
		}
		if err := tx.CreateLeaveRequest(ctx, leave("L1", "a", at)); err != nil {
			return err
		}
		return boom
	})

	// THEN: nothing it wrote is visible
	assert.ErrorIs(t, err, boom)
	e, err := s.GetEmployee(ctx, "a")
	require.NoError(t, err)
	assert.True(t, e.Balances.CompOffs.Equal(dec("1")))
	assert.Equal(t, int64(1), e.Version)
	_, err = s.GetLeaveRequest(ctx, "L1")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)

	// AND: a successful transaction commits
	require.NoError(t, s.WithTx(ctx, func(tx timeoff.Store) error {
		return tx.CreateLeaveRequest(ctx, leave("L1", "a", at))
	}))
	_, err = s.GetLeaveRequest(ctx, "L1")
	assert.NoError(t, err)
}
