/*
Package sqlite provides a SQLite-backed implementation of timeoff.Store.

PURPOSE:
  Persists employees, leave and comp-off requests, opening balance
  snapshots and the accrual mark. The in-memory store in store/memory has
  identical semantics; this one survives restarts.

SCHEMA:
  Versioned migrations are embedded from migrations/*.sql and applied with
  golang-migrate on New(). Already-applied migrations are a no-op.

  employees:          one row per employee, balances as decimal text
  leave_requests:     approval stages flattened into columns
  compoff_requests:   same shape as leave_requests
  opening_snapshots:  write-once header, primary key on the Mon-YYYY label
  opening_balances:   per-employee rows of a snapshot
  accrual_mark:       single row (id = 1)

  Requests reference employees with ON DELETE CASCADE, so deleting an
  employee removes their requests.

OPTIMISTIC CONCURRENCY:
  Updates run as

    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?

  Zero affected rows means either the row is gone (not-found) or the
  version moved (*generic.ConflictError).

CONCURRENCY:
  One connection, guarded by sync.RWMutex. WithTx holds the write lock for
  the whole transaction.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  wf := timeoff.NewWorkflow(store, notifier, cfg, opts)
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Timestamps are stored fixed-width in UTC so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite timeoff.Store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ timeoff.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies every pending migration. The database is left open.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// STORE - Locked entry points; the SQL lives on queries
// =============================================================================

func (s *Store) q() queries { return queries{db: s.db} }

// write runs fn in its own transaction under the write lock.
func (s *Store) write(ctx context.Context, fn func(queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, fn)
}

func (s *Store) inTx(ctx context.Context, fn func(queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateEmployee(ctx context.Context, e timeoff.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().CreateEmployee(ctx, e)
}

func (s *Store) GetEmployee(ctx context.Context, id timeoff.EmployeeID) (timeoff.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]timeoff.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListEmployees(ctx)
}

func (s *Store) UpdateEmployee(ctx context.Context, e *timeoff.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().UpdateEmployee(ctx, e)
}

func (s *Store) DeleteEmployee(ctx context.Context, id timeoff.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().DeleteEmployee(ctx, id)
}

func (s *Store) CreateLeaveRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().CreateLeaveRequest(ctx, r)
}

func (s *Store) GetLeaveRequest(ctx context.Context, id string) (timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetLeaveRequest(ctx, id)
}

func (s *Store) UpdateLeaveRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().UpdateLeaveRequest(ctx, r)
}

func (s *Store) ListLeaveRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListLeaveRequests(ctx, f)
}

func (s *Store) CreateCompOffRequest(ctx context.Context, r timeoff.CompOffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().CreateCompOffRequest(ctx, r)
}

func (s *Store) GetCompOffRequest(ctx context.Context, id string) (timeoff.CompOffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetCompOffRequest(ctx, id)
}

func (s *Store) UpdateCompOffRequest(ctx context.Context, r *timeoff.CompOffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().UpdateCompOffRequest(ctx, r)
}

func (s *Store) ListCompOffRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.CompOffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListCompOffRequests(ctx, f)
}

// CreateOpeningSnapshot writes the header and its rows atomically.
func (s *Store) CreateOpeningSnapshot(ctx context.Context, snap timeoff.OpeningSnapshot) error {
	return s.write(ctx, func(q queries) error {
		return q.CreateOpeningSnapshot(ctx, snap)
	})
}

func (s *Store) GetOpeningSnapshot(ctx context.Context, label string) (timeoff.OpeningSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetOpeningSnapshot(ctx, label)
}

func (s *Store) GetAccrualMark(ctx context.Context) (timeoff.AccrualMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetAccrualMark(ctx)
}

func (s *Store) SetAccrualMark(ctx context.Context, m *timeoff.AccrualMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SetAccrualMark(ctx, m)
}

// WithTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	return s.write(ctx, func(q queries) error {
		return fn(&txStore{queries: q})
	})
}

// txStore is the Store handed to WithTx callbacks. It never locks; the
// enclosing WithTx already holds the write lock.
type txStore struct {
	queries
}

// WithTx joins the enclosing transaction.
func (t *txStore) WithTx(_ context.Context, fn func(timeoff.Store) error) error {
	return fn(t)
}

// =============================================================================
// QUERIES - SQL shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	db querier
}

// ---------------------------------------------------------------------------
// Employees
// ---------------------------------------------------------------------------

const employeeColumns = `id, name, emp_code, email, slack_id, role, category, sick_leave_eligible,
	approver_id, casual_leaves, sick_leaves, comp_offs, version, created_at, updated_at`

func (q queries) CreateEmployee(ctx context.Context, e timeoff.Employee) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Name, e.EmpCode, e.Email, e.SlackID, e.Role, e.Category, e.SickLeaveEligible,
		e.ApproverID, e.Balances.CasualLeaves, e.Balances.SickLeaves, e.Balances.CompOffs,
		e.Version, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeExists, e.ID)
	}
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

func (q queries) GetEmployee(ctx context.Context, id timeoff.EmployeeID) (timeoff.Employee, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.Employee{}, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	return e, err
}

func (q queries) ListEmployees(ctx context.Context) ([]timeoff.Employee, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	out := []timeoff.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) UpdateEmployee(ctx context.Context, e *timeoff.Employee) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE employees SET
			name = ?, emp_code = ?, email = ?, slack_id = ?, role = ?, category = ?,
			sick_leave_eligible = ?, approver_id = ?,
			casual_leaves = ?, sick_leaves = ?, comp_offs = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		e.Name, e.EmpCode, e.Email, e.SlackID, e.Role, e.Category,
		e.SickLeaveEligible, e.ApproverID,
		e.Balances.CasualLeaves, e.Balances.SickLeaves, e.Balances.CompOffs,
		formatTime(e.UpdatedAt), e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("update employee: %w", err)
	}
	if err := q.checkCAS(ctx, res, "employees", string(e.ID), "employee", e.Version, generic.ErrEmployeeNotFound); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (q queries) DeleteEmployee(ctx context.Context, id timeoff.EmployeeID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	return nil
}

func scanEmployee(sc scanner) (timeoff.Employee, error) {
	var (
		e                timeoff.Employee
		created, updated string
	)
	err := sc.Scan(
		&e.ID, &e.Name, &e.EmpCode, &e.Email, &e.SlackID, &e.Role, &e.Category, &e.SickLeaveEligible,
		&e.ApproverID, &e.Balances.CasualLeaves, &e.Balances.SickLeaves, &e.Balances.CompOffs,
		&e.Version, &created, &updated,
	)
	if err != nil {
		return timeoff.Employee{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return timeoff.Employee{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return timeoff.Employee{}, err
	}
	return e, nil
}

// ---------------------------------------------------------------------------
// Leave requests
// ---------------------------------------------------------------------------

const leaveColumns = `id, employee_id, approver_id, leave_type, start_date, end_date, half_day, reason, days, status,
	mode, senior_status, senior_by, senior_at, manager_status, manager_by, manager_at,
	receipt_json, submitted_at, updated_at, version`

func (q queries) CreateLeaveRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	receipt, err := marshalNullable(r.Receipt)
	if err != nil {
		return err
	}
	args := []any{r.ID, r.EmployeeID, r.ApproverID, r.Type, r.StartDate.String(), r.EndDate.String(), r.HalfDay, r.Reason, r.Days, r.Status}
	args = append(args, approvalArgs(r.Approval)...)
	args = append(args, receipt, formatTime(r.SubmittedAt), formatTime(r.UpdatedAt), r.Version)

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, r.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("insert leave request: %w", err)
	}
	return nil
}

func (q queries) GetLeaveRequest(ctx context.Context, id string) (timeoff.LeaveRequest, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leave_requests WHERE id = ?`, id)
	r, err := scanLeave(row)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.LeaveRequest{}, fmt.Errorf("%w: leave %s", generic.ErrRequestNotFound, id)
	}
	return r, err
}

func (q queries) UpdateLeaveRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	receipt, err := marshalNullable(r.Receipt)
	if err != nil {
		return err
	}
	args := []any{r.Status}
	args = append(args, approvalArgs(r.Approval)...)
	args = append(args, receipt, formatTime(r.UpdatedAt), r.ID, r.Version)

	res, err := q.db.ExecContext(ctx, `
		UPDATE leave_requests SET
			status = ?,
			mode = ?, senior_status = ?, senior_by = ?, senior_at = ?,
			manager_status = ?, manager_by = ?, manager_at = ?,
			receipt_json = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update leave request: %w", err)
	}
	if err := q.checkCAS(ctx, res, "leave_requests", r.ID, "leave_request", r.Version, generic.ErrRequestNotFound); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (q queries) ListLeaveRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	where, args := filterClause(f)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+leaveColumns+` FROM leave_requests`+where+` ORDER BY submitted_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list leave requests: %w", err)
	}
	defer rows.Close()

	out := []timeoff.LeaveRequest{}
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanLeave(sc scanner) (timeoff.LeaveRequest, error) {
	var (
		r                  timeoff.LeaveRequest
		start, end         string
		receipt            sql.NullString
		submitted, updated string
		a                  approvalRow
	)
	dest := []any{&r.ID, &r.EmployeeID, &r.ApproverID, &r.Type, &start, &end, &r.HalfDay, &r.Reason, &r.Days, &r.Status}
	dest = append(dest, a.dest()...)
	dest = append(dest, &receipt, &submitted, &updated, &r.Version)
	if err := sc.Scan(dest...); err != nil {
		return timeoff.LeaveRequest{}, err
	}

	var err error
	if r.StartDate, err = generic.ParseDate(start); err != nil {
		return timeoff.LeaveRequest{}, err
	}
	if r.EndDate, err = generic.ParseDate(end); err != nil {
		return timeoff.LeaveRequest{}, err
	}
	if r.Approval, err = a.approval(); err != nil {
		return timeoff.LeaveRequest{}, err
	}
	if receipt.Valid {
		r.Receipt = &timeoff.DeductionReceipt{}
		if err := json.Unmarshal([]byte(receipt.String), r.Receipt); err != nil {
			return timeoff.LeaveRequest{}, fmt.Errorf("decode receipt for %s: %w", r.ID, err)
		}
	}
	if r.SubmittedAt, err = parseTime(submitted); err != nil {
		return timeoff.LeaveRequest{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return timeoff.LeaveRequest{}, err
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Comp-off requests
// ---------------------------------------------------------------------------

const compOffColumns = `id, employee_id, approver_id, work_date, half_day, reason, days, status,
	mode, senior_status, senior_by, senior_at, manager_status, manager_by, manager_at,
	credit_json, submitted_at, updated_at, version`

func (q queries) CreateCompOffRequest(ctx context.Context, r timeoff.CompOffRequest) error {
	credit, err := marshalNullable(r.Credit)
	if err != nil {
		return err
	}
	args := []any{r.ID, r.EmployeeID, r.ApproverID, r.Date.String(), r.HalfDay, r.Reason, r.Days, r.Status}
	args = append(args, approvalArgs(r.Approval)...)
	args = append(args, credit, formatTime(r.SubmittedAt), formatTime(r.UpdatedAt), r.Version)

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO compoff_requests (`+compOffColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, r.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("insert comp-off request: %w", err)
	}
	return nil
}

func (q queries) GetCompOffRequest(ctx context.Context, id string) (timeoff.CompOffRequest, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+compOffColumns+` FROM compoff_requests WHERE id = ?`, id)
	r, err := scanCompOff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.CompOffRequest{}, fmt.Errorf("%w: comp-off %s", generic.ErrRequestNotFound, id)
	}
	return r, err
}

func (q queries) UpdateCompOffRequest(ctx context.Context, r *timeoff.CompOffRequest) error {
	credit, err := marshalNullable(r.Credit)
	if err != nil {
		return err
	}
	args := []any{r.Status}
	args = append(args, approvalArgs(r.Approval)...)
	args = append(args, credit, formatTime(r.UpdatedAt), r.ID, r.Version)

	res, err := q.db.ExecContext(ctx, `
		UPDATE compoff_requests SET
			status = ?,
			mode = ?, senior_status = ?, senior_by = ?, senior_at = ?,
			manager_status = ?, manager_by = ?, manager_at = ?,
			credit_json = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update comp-off request: %w", err)
	}
	if err := q.checkCAS(ctx, res, "compoff_requests", r.ID, "compoff_request", r.Version, generic.ErrRequestNotFound); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (q queries) ListCompOffRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.CompOffRequest, error) {
	where, args := filterClause(f)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+compOffColumns+` FROM compoff_requests`+where+` ORDER BY submitted_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list comp-off requests: %w", err)
	}
	defer rows.Close()

	out := []timeoff.CompOffRequest{}
	for rows.Next() {
		r, err := scanCompOff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCompOff(sc scanner) (timeoff.CompOffRequest, error) {
	var (
		r                  timeoff.CompOffRequest
		date               string
		credit             sql.NullString
		submitted, updated string
		a                  approvalRow
	)
	dest := []any{&r.ID, &r.EmployeeID, &r.ApproverID, &date, &r.HalfDay, &r.Reason, &r.Days, &r.Status}
	dest = append(dest, a.dest()...)
	dest = append(dest, &credit, &submitted, &updated, &r.Version)
	if err := sc.Scan(dest...); err != nil {
		return timeoff.CompOffRequest{}, err
	}

	var err error
	if r.Date, err = generic.ParseDate(date); err != nil {
		return timeoff.CompOffRequest{}, err
	}
	if r.Approval, err = a.approval(); err != nil {
		return timeoff.CompOffRequest{}, err
	}
	if credit.Valid {
		r.Credit = &timeoff.CreditReceipt{}
		if err := json.Unmarshal([]byte(credit.String), r.Credit); err != nil {
			return timeoff.CompOffRequest{}, fmt.Errorf("decode credit for %s: %w", r.ID, err)
		}
	}
	if r.SubmittedAt, err = parseTime(submitted); err != nil {
		return timeoff.CompOffRequest{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return timeoff.CompOffRequest{}, err
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Approval stages, flattened to seven columns
// ---------------------------------------------------------------------------

func approvalArgs(a timeoff.Approval) []any {
	return []any{
		a.Mode,
		a.Senior.Status, nullString(string(a.Senior.DecidedBy)), nullTime(a.Senior.DecidedAt),
		a.Manager.Status, nullString(string(a.Manager.DecidedBy)), nullTime(a.Manager.DecidedAt),
	}
}

type approvalRow struct {
	mode                 timeoff.Mode
	seniorStatus         timeoff.Status
	seniorBy, seniorAt   sql.NullString
	managerStatus        timeoff.Status
	managerBy, managerAt sql.NullString
}

func (a *approvalRow) dest() []any {
	return []any{&a.mode, &a.seniorStatus, &a.seniorBy, &a.seniorAt, &a.managerStatus, &a.managerBy, &a.managerAt}
}

func (a *approvalRow) approval() (timeoff.Approval, error) {
	senior, err := stageState(a.seniorStatus, a.seniorBy, a.seniorAt)
	if err != nil {
		return timeoff.Approval{}, err
	}
	manager, err := stageState(a.managerStatus, a.managerBy, a.managerAt)
	if err != nil {
		return timeoff.Approval{}, err
	}
	return timeoff.Approval{Mode: a.mode, Senior: senior, Manager: manager}, nil
}

func stageState(status timeoff.Status, by, at sql.NullString) (timeoff.StageState, error) {
	st := timeoff.StageState{Status: status, DecidedBy: timeoff.EmployeeID(by.String)}
	if at.Valid {
		t, err := parseTime(at.String)
		if err != nil {
			return timeoff.StageState{}, err
		}
		st.DecidedAt = t
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Opening snapshots
// ---------------------------------------------------------------------------

func (q queries) CreateOpeningSnapshot(ctx context.Context, snap timeoff.OpeningSnapshot) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO opening_snapshots (label, captured_at) VALUES (?, ?)`,
		snap.Label, formatTime(snap.CapturedAt))
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", generic.ErrSnapshotExists, snap.Label)
	}
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for id, b := range snap.Balances {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO opening_balances (label, employee_id, leaves, comp_offs)
			VALUES (?, ?, ?, ?)
		`, snap.Label, id, b.Leaves, b.CompOffs)
		if err != nil {
			return fmt.Errorf("insert snapshot balance %s: %w", id, err)
		}
	}
	return nil
}

func (q queries) GetOpeningSnapshot(ctx context.Context, label string) (timeoff.OpeningSnapshot, error) {
	var captured string
	err := q.db.QueryRowContext(ctx,
		`SELECT captured_at FROM opening_snapshots WHERE label = ?`, label).Scan(&captured)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.OpeningSnapshot{}, fmt.Errorf("%w: %s", generic.ErrSnapshotNotFound, label)
	}
	if err != nil {
		return timeoff.OpeningSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	capturedAt, err := parseTime(captured)
	if err != nil {
		return timeoff.OpeningSnapshot{}, err
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT employee_id, leaves, comp_offs FROM opening_balances WHERE label = ?`, label)
	if err != nil {
		return timeoff.OpeningSnapshot{}, fmt.Errorf("get snapshot balances: %w", err)
	}
	defer rows.Close()

	snap := timeoff.OpeningSnapshot{
		Label:      label,
		CapturedAt: capturedAt,
		Balances:   make(map[timeoff.EmployeeID]timeoff.OpeningBalance),
	}
	for rows.Next() {
		var (
			id timeoff.EmployeeID
			b  timeoff.OpeningBalance
		)
		if err := rows.Scan(&id, &b.Leaves, &b.CompOffs); err != nil {
			return timeoff.OpeningSnapshot{}, err
		}
		snap.Balances[id] = b
	}
	return snap, rows.Err()
}

// ---------------------------------------------------------------------------
// Accrual mark
// ---------------------------------------------------------------------------

func (q queries) GetAccrualMark(ctx context.Context) (timeoff.AccrualMark, error) {
	var (
		m     timeoff.AccrualMark
		ranAt string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT month_key, ran_at, version FROM accrual_mark WHERE id = 1`).Scan(&m.MonthKey, &ranAt, &m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.AccrualMark{}, nil
	}
	if err != nil {
		return timeoff.AccrualMark{}, fmt.Errorf("get accrual mark: %w", err)
	}
	if m.RanAt, err = parseTime(ranAt); err != nil {
		return timeoff.AccrualMark{}, err
	}
	return m, nil
}

func (q queries) SetAccrualMark(ctx context.Context, m *timeoff.AccrualMark) error {
	var (
		res sql.Result
		err error
	)
	if m.Version == 0 {
		res, err = q.db.ExecContext(ctx, `
			INSERT INTO accrual_mark (id, month_key, ran_at, version) VALUES (1, ?, ?, 1)
			ON CONFLICT(id) DO NOTHING
		`, m.MonthKey, formatTime(m.RanAt))
	} else {
		res, err = q.db.ExecContext(ctx, `
			UPDATE accrual_mark SET month_key = ?, ran_at = ?, version = version + 1
			WHERE id = 1 AND version = ?
		`, m.MonthKey, formatTime(m.RanAt), m.Version)
	}
	if err != nil {
		return fmt.Errorf("set accrual mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.ConflictError{Kind: "accrual_mark", ID: "global", Version: m.Version}
	}
	m.Version++
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkCAS turns zero affected rows into not-found or a version conflict.
func (q queries) checkCAS(ctx context.Context, res sql.Result, table, id, kind string, version int64, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = q.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	if err != nil {
		return err
	}
	return &generic.ConflictError{Kind: kind, ID: id, Version: version}
}

func filterClause(f timeoff.RequestFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.EmployeeID != "" {
		conds = append(conds, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	if err == nil || !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return false
	}
	for _, c := range codes {
		if se.ExtendedCode == c {
			return true
		}
	}
	return false
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case *timeoff.DeductionReceipt:
		if x == nil {
			return nil, nil
		}
	case *timeoff.CreditReceipt:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
