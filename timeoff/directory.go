package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-ledger/generic"
)

// Directory provisions and maintains employee records.
type Directory struct {
	store Store
	opts  Options
}

func NewDirectory(store Store, opts Options) *Directory {
	return &Directory{store: store, opts: opts.withDefaults()}
}

// Create provisions an employee with its initial balances.
func (d *Directory) Create(ctx context.Context, e Employee) (Employee, error) {
	if e.Role == "" {
		e.Role = RoleEmployee
	}
	if e.Category == "" {
		e.Category = CategoryStandard
	}
	if err := e.Validate(); err != nil {
		return Employee{}, err
	}

	now := d.opts.now()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Version = 1
	err := d.store.WithTx(ctx, func(tx Store) error {
		if e.ApproverID != "" {
			if _, err := tx.GetEmployee(ctx, e.ApproverID); err != nil {
				if generic.IsNotFound(err) {
					return &generic.ValidationError{Field: "approver_id", Message: fmt.Sprintf("unknown approver %q", e.ApproverID)}
				}
				return err
			}
		}
		return tx.CreateEmployee(ctx, e)
	})
	if err != nil {
		return Employee{}, err
	}
	d.opts.Logger.Info("employee created", "employee", e.ID, "role", e.Role, "category", e.Category)
	return e, nil
}

func (d *Directory) Get(ctx context.Context, id EmployeeID) (Employee, error) {
	return d.store.GetEmployee(ctx, id)
}

func (d *Directory) List(ctx context.Context) ([]Employee, error) {
	return d.store.ListEmployees(ctx)
}

// ProfileUpdate changes profile fields. Nil fields are left alone.
// Balances are not part of a profile; see Ledger.SetBalances.
type ProfileUpdate struct {
	Name              *string
	EmpCode           *string
	Email             *string
	SlackID           *string
	Role              *Role
	Category          *Category
	SickLeaveEligible *bool
	ApproverID        *EmployeeID
}

// UpdateProfile merges the update into the stored record, retrying on conflict.
func (d *Directory) UpdateProfile(ctx context.Context, id EmployeeID, u ProfileUpdate) (Employee, error) {
	var updated Employee
	err := generic.Retry(ctx, d.opts.Retries, func() error {
		return d.store.WithTx(ctx, func(tx Store) error {
			e, err := tx.GetEmployee(ctx, id)
			if err != nil {
				return err
			}
			u.apply(&e)
			if err := e.Validate(); err != nil {
				return err
			}
			if u.ApproverID != nil && *u.ApproverID != "" {
				if _, err := tx.GetEmployee(ctx, *u.ApproverID); err != nil {
					if generic.IsNotFound(err) {
						return &generic.ValidationError{Field: "approver_id", Message: fmt.Sprintf("unknown approver %q", *u.ApproverID)}
					}
					return err
				}
			}
			e.UpdatedAt = d.opts.now()
			if err := tx.UpdateEmployee(ctx, &e); err != nil {
				return err
			}
			updated = e
			return nil
		})
	})
	return updated, err
}

func (u ProfileUpdate) apply(e *Employee) {
	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.EmpCode != nil {
		e.EmpCode = *u.EmpCode
	}
	if u.Email != nil {
		e.Email = *u.Email
	}
	if u.SlackID != nil {
		e.SlackID = *u.SlackID
	}
	if u.Role != nil {
		e.Role = *u.Role
	}
	if u.Category != nil {
		e.Category = *u.Category
	}
	if u.SickLeaveEligible != nil {
		e.SickLeaveEligible = *u.SickLeaveEligible
	}
	if u.ApproverID != nil {
		e.ApproverID = *u.ApproverID
	}
}

// Delete removes the employee and, by cascade, all of their requests.
// Employees who named them as default approver are left without one.
// Pending senior stages that were assigned to them fall to managers and HR.
func (d *Directory) Delete(ctx context.Context, id EmployeeID) error {
	var released []EmployeeID
	err := generic.Retry(ctx, d.opts.Retries, func() error {
		released = released[:0]
		return d.store.WithTx(ctx, func(tx Store) error {
			if _, err := tx.GetEmployee(ctx, id); err != nil {
				return err
			}
			all, err := tx.ListEmployees(ctx)
			if err != nil {
				return err
			}
			now := d.opts.now()
			for _, e := range all {
				if e.ID == id || e.ApproverID != id {
					continue
				}
				e.ApproverID = ""
				e.UpdatedAt = now
				if err := tx.UpdateEmployee(ctx, &e); err != nil {
					return err
				}
				released = append(released, e.ID)
			}
			return tx.DeleteEmployee(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	d.opts.Logger.Info("employee deleted", "employee", id, "released_reports", len(released))
	return nil
}
