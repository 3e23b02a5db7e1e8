package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/store/storetest"
	"github.com/warp/leave-ledger/timeoff"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) timeoff.Store {
		return newStore(t)
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leave.db")

	// GIVEN: an employee written to a file database
	s, err := sqlite.New(path)
	require.NoError(t, err)
	now := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateEmployee(ctx, timeoff.Employee{
		ID: "a", Name: "Ann", Role: timeoff.RoleEmployee, Category: timeoff.CategoryRegularOffice,
		Balances: timeoff.Balances{CasualLeaves: decimal.RequireFromString("1.3")},
		Version:  1, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.Close())

	// WHEN: reopened, migrations are a no-op
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN
	e, err := s.GetEmployee(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, timeoff.CategoryRegularOffice, e.Category)
	assert.True(t, e.Balances.CasualLeaves.Equal(decimal.RequireFromString("1.3")))
}

// =============================================================================
// SQLMOCK - Error mapping without a real database
// =============================================================================

func TestUpdateEmployee_VersionMismatchIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	// GIVEN: the CAS update touches no row but the row exists
	mock.ExpectExec(`UPDATE employees SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM employees WHERE id = \?`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	// WHEN
	e := timeoff.Employee{ID: "a", Name: "Ann", Version: 3}
	err = s.UpdateEmployee(context.Background(), &e)

	// THEN
	var conflict *generic.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(3), conflict.Version)
	assert.Equal(t, int64(3), e.Version, "version unchanged on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_ReportsUnreachableDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("disk I/O error"))

	assert.NoError(t, s.Ping(context.Background()))
	assert.Error(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEmployee_MissingRowIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectExec(`UPDATE employees SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM employees WHERE id = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	e := timeoff.Employee{ID: "ghost", Name: "Ghost", Version: 1}
	err = s.UpdateEmployee(context.Background(), &e)

	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	// GIVEN: the insert inside the transaction fails
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO leave_requests`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	// WHEN
	err = s.WithTx(context.Background(), func(tx timeoff.Store) error {
		return tx.CreateLeaveRequest(context.Background(), timeoff.LeaveRequest{
			ID: "L1", EmployeeID: "a", Type: timeoff.LeaveCasual,
			StartDate: generic.MustParseDate("2024-02-01"), EndDate: generic.MustParseDate("2024-02-01"),
			Days: decimal.NewFromInt(1), Status: timeoff.StatusPending,
			Approval: timeoff.NewApproval(timeoff.ModeStaged, true),
		})
	})

	// THEN
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAccrualMark_LostFirstRunIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	// GIVEN: another run inserted the mark first
	mock.ExpectExec(`INSERT INTO accrual_mark`).
		WithArgs("2024-02", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := timeoff.AccrualMark{MonthKey: "2024-02", RanAt: time.Now()}
	err = s.SetAccrualMark(context.Background(), &m)

	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// WORKFLOW OVER SQLITE
// =============================================================================

func TestStagedLeaveOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	clock := func() time.Time { return time.Date(2024, time.February, 5, 10, 0, 0, 0, time.UTC) }
	opts := timeoff.Options{Clock: clock}
	dir := timeoff.NewDirectory(s, opts)

	_, err := dir.Create(ctx, timeoff.Employee{ID: "senior", Name: "Sam Senior"})
	require.NoError(t, err)
	_, err = dir.Create(ctx, timeoff.Employee{ID: "hr", Name: "Hana HR", Role: timeoff.RoleHR})
	require.NoError(t, err)
	_, err = dir.Create(ctx, timeoff.Employee{
		ID: "ann", Name: "Ann", ApproverID: "senior",
		Balances: timeoff.Balances{CasualLeaves: decimal.NewFromInt(2), CompOffs: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)

	cfg := timeoff.DefaultWorkflowConfig()
	cfg.LeaveMode = timeoff.ModeStaged
	wf := timeoff.NewWorkflow(s, nil, cfg, opts)

	// GIVEN: a three-day staged leave
	sub, err := wf.SubmitLeave(ctx, timeoff.LeaveSubmission{
		EmployeeID: "ann",
		StartDate:  generic.MustParseDate("2024-02-12"),
		EndDate:    generic.MustParseDate("2024-02-14"),
		Reason:     "wedding",
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, sub.Request.Status)

	// WHEN: the senior stage is approved twice concurrently
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = wf.DecideLeave(ctx, timeoff.DecisionInput{
				RequestID: sub.Request.ID, ActorID: "senior", Stage: timeoff.StageSenior, Decision: timeoff.DecisionApprove,
			})
		}(i)
	}
	wg.Wait()

	// THEN: exactly one succeeds
	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, generic.ErrStageNotPending)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	// WHEN: HR approves the manager stage
	out, err := wf.DecideLeave(ctx, timeoff.DecisionInput{
		RequestID: sub.Request.ID, ActorID: "hr", Stage: timeoff.StageManager, Decision: timeoff.DecisionApprove,
	})
	require.NoError(t, err)

	// THEN: comp-off is drawn first, then casual
	assert.Equal(t, timeoff.StatusApproved, out.Request.Status)
	assert.True(t, out.Employee.Balances.CompOffs.IsZero())
	assert.True(t, out.Employee.Balances.CasualLeaves.IsZero())

	stored, err := wf.GetLeaveRequest(ctx, sub.Request.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Receipt)
	assert.True(t, stored.Receipt.CompOffDeducted.Equal(decimal.NewFromInt(1)))
	assert.True(t, stored.Receipt.CasualLeavesDeducted.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, timeoff.EmployeeID("hr"), stored.Approval.Manager.DecidedBy)
}
