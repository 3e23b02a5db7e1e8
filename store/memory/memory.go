// Package memory provides an in-memory timeoff.Store (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps everything in maps behind one RWMutex. Transactions are
// simulated with a snapshot + rollback on error.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

type data struct {
	employees map[timeoff.EmployeeID]timeoff.Employee
	leaves    map[string]timeoff.LeaveRequest
	compOffs  map[string]timeoff.CompOffRequest
	snapshots map[string]timeoff.OpeningSnapshot
	mark      timeoff.AccrualMark
}

func New() *Memory {
	return &Memory{d: &data{
		employees: make(map[timeoff.EmployeeID]timeoff.Employee),
		leaves:    make(map[string]timeoff.LeaveRequest),
		compOffs:  make(map[string]timeoff.CompOffRequest),
		snapshots: make(map[string]timeoff.OpeningSnapshot),
	}}
}

var _ timeoff.Store = (*Memory)(nil)

func (m *Memory) read() *view {
	return &view{d: m.d}
}

func (m *Memory) CreateEmployee(ctx context.Context, e timeoff.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id timeoff.EmployeeID) (timeoff.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]timeoff.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListEmployees(ctx)
}

func (m *Memory) UpdateEmployee(ctx context.Context, e *timeoff.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateEmployee(ctx, e)
}

func (m *Memory) DeleteEmployee(ctx context.Context, id timeoff.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteEmployee(ctx, id)
}

func (m *Memory) CreateLeaveRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateLeaveRequest(ctx, r)
}

func (m *Memory) GetLeaveRequest(ctx context.Context, id string) (timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLeaveRequest(ctx, id)
}

func (m *Memory) UpdateLeaveRequest(ctx context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateLeaveRequest(ctx, r)
}

func (m *Memory) ListLeaveRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListLeaveRequests(ctx, f)
}

func (m *Memory) CreateCompOffRequest(ctx context.Context, r timeoff.CompOffRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateCompOffRequest(ctx, r)
}

func (m *Memory) GetCompOffRequest(ctx context.Context, id string) (timeoff.CompOffRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetCompOffRequest(ctx, id)
}

func (m *Memory) UpdateCompOffRequest(ctx context.Context, r *timeoff.CompOffRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateCompOffRequest(ctx, r)
}

func (m *Memory) ListCompOffRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.CompOffRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListCompOffRequests(ctx, f)
}

func (m *Memory) CreateOpeningSnapshot(ctx context.Context, s timeoff.OpeningSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateOpeningSnapshot(ctx, s)
}

func (m *Memory) GetOpeningSnapshot(ctx context.Context, label string) (timeoff.OpeningSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetOpeningSnapshot(ctx, label)
}

func (m *Memory) GetAccrualMark(ctx context.Context) (timeoff.AccrualMark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetAccrualMark(ctx)
}

func (m *Memory) SetAccrualMark(ctx context.Context, mark *timeoff.AccrualMark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SetAccrualMark(ctx, mark)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. The view passed to fn
// does not lock; on error the pre-transaction state is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.d.clone()
	if err := fn(&view{d: m.d}); err != nil {
		*m.d = *saved
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := &data{
		employees: make(map[timeoff.EmployeeID]timeoff.Employee, len(d.employees)),
		leaves:    make(map[string]timeoff.LeaveRequest, len(d.leaves)),
		compOffs:  make(map[string]timeoff.CompOffRequest, len(d.compOffs)),
		snapshots: make(map[string]timeoff.OpeningSnapshot, len(d.snapshots)),
		mark:      d.mark,
	}
	for k, v := range d.employees {
		c.employees[k] = v
	}
	for k, v := range d.leaves {
		c.leaves[k] = v
	}
	for k, v := range d.compOffs {
		c.compOffs[k] = v
	}
	for k, v := range d.snapshots {
		c.snapshots[k] = v
	}
	return c
}

// =============================================================================
// VIEW - Unlocked operations shared by Memory and its transactions
// =============================================================================

type view struct {
	d *data
}

func (v *view) WithTx(_ context.Context, fn func(timeoff.Store) error) error {
	return fn(v)
}

func (v *view) CreateEmployee(_ context.Context, e timeoff.Employee) error {
	if _, ok := v.d.employees[e.ID]; ok {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeExists, e.ID)
	}
	v.d.employees[e.ID] = e
	return nil
}

func (v *view) GetEmployee(_ context.Context, id timeoff.EmployeeID) (timeoff.Employee, error) {
	e, ok := v.d.employees[id]
	if !ok {
		return timeoff.Employee{}, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	return e, nil
}

func (v *view) ListEmployees(_ context.Context) ([]timeoff.Employee, error) {
	out := make([]timeoff.Employee, 0, len(v.d.employees))
	for _, e := range v.d.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) UpdateEmployee(_ context.Context, e *timeoff.Employee) error {
	stored, ok := v.d.employees[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, e.ID)
	}
	if stored.Version != e.Version {
		return &generic.ConflictError{Kind: "employee", ID: string(e.ID), Version: e.Version}
	}
	e.Version++
	e.CreatedAt = stored.CreatedAt
	v.d.employees[e.ID] = *e
	return nil
}

func (v *view) DeleteEmployee(_ context.Context, id timeoff.EmployeeID) error {
	if _, ok := v.d.employees[id]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	delete(v.d.employees, id)
	for k, r := range v.d.leaves {
		if r.EmployeeID == id {
			delete(v.d.leaves, k)
		}
	}
	for k, r := range v.d.compOffs {
		if r.EmployeeID == id {
			delete(v.d.compOffs, k)
		}
	}
	return nil
}

func (v *view) CreateLeaveRequest(_ context.Context, r timeoff.LeaveRequest) error {
	if _, ok := v.d.employees[r.EmployeeID]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, r.EmployeeID)
	}
	if _, ok := v.d.leaves[r.ID]; ok {
		return fmt.Errorf("leave request %s already exists", r.ID)
	}
	v.d.leaves[r.ID] = copyLeave(r)
	return nil
}

func (v *view) GetLeaveRequest(_ context.Context, id string) (timeoff.LeaveRequest, error) {
	r, ok := v.d.leaves[id]
	if !ok {
		return timeoff.LeaveRequest{}, fmt.Errorf("%w: leave %s", generic.ErrRequestNotFound, id)
	}
	return copyLeave(r), nil
}

func (v *view) UpdateLeaveRequest(_ context.Context, r *timeoff.LeaveRequest) error {
	stored, ok := v.d.leaves[r.ID]
	if !ok {
		return fmt.Errorf("%w: leave %s", generic.ErrRequestNotFound, r.ID)
	}
	if stored.Version != r.Version {
		return &generic.ConflictError{Kind: "leave_request", ID: r.ID, Version: r.Version}
	}
	r.Version++
	v.d.leaves[r.ID] = copyLeave(*r)
	return nil
}

func (v *view) ListLeaveRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	out := []timeoff.LeaveRequest{}
	for _, r := range v.d.leaves {
		if f.Matches(r.EmployeeID, r.Status) {
			out = append(out, copyLeave(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (v *view) CreateCompOffRequest(_ context.Context, r timeoff.CompOffRequest) error {
	if _, ok := v.d.employees[r.EmployeeID]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, r.EmployeeID)
	}
	if _, ok := v.d.compOffs[r.ID]; ok {
		return fmt.Errorf("comp-off request %s already exists", r.ID)
	}
	v.d.compOffs[r.ID] = copyCompOff(r)
	return nil
}

func (v *view) GetCompOffRequest(_ context.Context, id string) (timeoff.CompOffRequest, error) {
	r, ok := v.d.compOffs[id]
	if !ok {
		return timeoff.CompOffRequest{}, fmt.Errorf("%w: comp-off %s", generic.ErrRequestNotFound, id)
	}
	return copyCompOff(r), nil
}

func (v *view) UpdateCompOffRequest(_ context.Context, r *timeoff.CompOffRequest) error {
	stored, ok := v.d.compOffs[r.ID]
	if !ok {
		return fmt.Errorf("%w: comp-off %s", generic.ErrRequestNotFound, r.ID)
	}
	if stored.Version != r.Version {
		return &generic.ConflictError{Kind: "compoff_request", ID: r.ID, Version: r.Version}
	}
	r.Version++
	v.d.compOffs[r.ID] = copyCompOff(*r)
	return nil
}

func (v *view) ListCompOffRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.CompOffRequest, error) {
	out := []timeoff.CompOffRequest{}
	for _, r := range v.d.compOffs {
		if f.Matches(r.EmployeeID, r.Status) {
			out = append(out, copyCompOff(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (v *view) CreateOpeningSnapshot(_ context.Context, s timeoff.OpeningSnapshot) error {
	if _, ok := v.d.snapshots[s.Label]; ok {
		return fmt.Errorf("%w: %s", generic.ErrSnapshotExists, s.Label)
	}
	v.d.snapshots[s.Label] = copySnapshot(s)
	return nil
}

func (v *view) GetOpeningSnapshot(_ context.Context, label string) (timeoff.OpeningSnapshot, error) {
	s, ok := v.d.snapshots[label]
	if !ok {
		return timeoff.OpeningSnapshot{}, fmt.Errorf("%w: %s", generic.ErrSnapshotNotFound, label)
	}
	return copySnapshot(s), nil
}

func (v *view) GetAccrualMark(_ context.Context) (timeoff.AccrualMark, error) {
	return v.d.mark, nil
}

func (v *view) SetAccrualMark(_ context.Context, m *timeoff.AccrualMark) error {
	if v.d.mark.Version != m.Version {
		return &generic.ConflictError{Kind: "accrual_mark", ID: "global", Version: m.Version}
	}
	m.Version++
	v.d.mark = *m
	return nil
}

// =============================================================================
// COPIES - Stored values never alias caller memory
// =============================================================================

func copyLeave(r timeoff.LeaveRequest) timeoff.LeaveRequest {
	if r.Receipt != nil {
		receipt := *r.Receipt
		r.Receipt = &receipt
	}
	return r
}

func copyCompOff(r timeoff.CompOffRequest) timeoff.CompOffRequest {
	if r.Credit != nil {
		credit := *r.Credit
		r.Credit = &credit
	}
	return r
}

func copySnapshot(s timeoff.OpeningSnapshot) timeoff.OpeningSnapshot {
	balances := make(map[timeoff.EmployeeID]timeoff.OpeningBalance, len(s.Balances))
	for k, v := range s.Balances {
		balances[k] = v
	}
	s.Balances = balances
	return s
}
