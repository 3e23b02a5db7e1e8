/*
ledger.go - Balance ledger: debit and credit rules

PURPOSE:
  Applies day quantities to an employee's three pools with a fixed
  precedence, and records exactly where the days came from.

DEBIT PRECEDENCE:
  1. Sick leave, only when the request is typed sick AND the employee is
     sick-leave eligible. Never driven below zero.
  2. Comp-offs. Never driven below zero.
  3. Casual leave takes whatever remains and MAY go negative.

  A debit never fails for lack of balance. The receipt shows the split:

    casual=2 compoff=0, debit 3  =>  casual=-1 compoff=0
                                     receipt {compoff 0, casual 3}

CREDIT TO COMP-OFF:
  A negative casual balance is a debt. Comp-off credit pays it back first
  and only the remainder lands in the comp-off pool:

    casual=-2 compoff=0, credit 0.5  =>  casual=-1.5 compoff=0

TRANSACTIONS:
  The pure functions (Debit, Credit) do the arithmetic. The Ledger service
  wraps them in a read / compute / compare-and-set write on the employee
  record, inside Store.WithTx, retried on version conflicts.
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// RECEIPTS
// =============================================================================

// DeductionReceipt records how a debit was split across pools.
type DeductionReceipt struct {
	CompOffDeducted      decimal.Decimal `json:"compoff_deducted"`
	CasualLeavesDeducted decimal.Decimal `json:"casual_leaves_deducted"`
	SickLeavesDeducted   decimal.Decimal `json:"sick_leaves_deducted"`
}

func (r DeductionReceipt) Total() decimal.Decimal {
	return generic.SumDecimal(r.CompOffDeducted, r.CasualLeavesDeducted, r.SickLeavesDeducted)
}

// CreditReceipt records how a credit was split.
type CreditReceipt struct {
	Pool         Pool            `json:"pool"`
	DebtRepaid   decimal.Decimal `json:"debt_repaid"` // applied to a negative casual balance
	PoolCredited decimal.Decimal `json:"pool_credited"`
}

func (r CreditReceipt) Total() decimal.Decimal {
	return r.DebtRepaid.Add(r.PoolCredited)
}

// =============================================================================
// PURE ARITHMETIC
// =============================================================================

// Debit takes amount from b following the precedence above.
func Debit(b Balances, amount decimal.Decimal, leaveType LeaveType, sickEligible bool) (Balances, DeductionReceipt) {
	receipt := DeductionReceipt{
		CompOffDeducted:      decimal.Zero,
		CasualLeavesDeducted: decimal.Zero,
		SickLeavesDeducted:   decimal.Zero,
	}
	remaining := amount

	if leaveType == LeaveSick && sickEligible {
		taken := generic.MinDecimal(generic.MaxDecimal(b.SickLeaves, decimal.Zero), remaining)
		b.SickLeaves = b.SickLeaves.Sub(taken)
		receipt.SickLeavesDeducted = taken
		remaining = remaining.Sub(taken)
	}

	if remaining.IsPositive() {
		taken := generic.MinDecimal(generic.MaxDecimal(b.CompOffs, decimal.Zero), remaining)
		b.CompOffs = b.CompOffs.Sub(taken)
		receipt.CompOffDeducted = taken
		remaining = remaining.Sub(taken)
	}

	if remaining.IsPositive() {
		b.CasualLeaves = b.CasualLeaves.Sub(remaining)
		receipt.CasualLeavesDeducted = remaining
	}

	return b, receipt
}

// Credit adds amount to pool. Comp-off credit first repays negative casual leave.
func Credit(b Balances, pool Pool, amount decimal.Decimal) (Balances, CreditReceipt) {
	receipt := CreditReceipt{Pool: pool, DebtRepaid: decimal.Zero, PoolCredited: decimal.Zero}

	switch pool {
	case PoolCompOff:
		remaining := amount
		if b.CasualLeaves.IsNegative() {
			repaid := generic.MinDecimal(remaining, b.CasualLeaves.Neg())
			b.CasualLeaves = b.CasualLeaves.Add(repaid)
			receipt.DebtRepaid = repaid
			remaining = remaining.Sub(repaid)
		}
		b.CompOffs = b.CompOffs.Add(remaining)
		receipt.PoolCredited = remaining
	case PoolSick:
		b.SickLeaves = b.SickLeaves.Add(amount)
		receipt.PoolCredited = amount
	default:
		b.CasualLeaves = b.CasualLeaves.Add(amount)
		receipt.PoolCredited = amount
	}

	return b, receipt
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &generic.ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger applies debits, credits and HR corrections to stored employees.
type Ledger struct {
	store Store
	opts  Options
}

func NewLedger(store Store, opts Options) *Ledger {
	return &Ledger{store: store, opts: opts.withDefaults()}
}

// Debit takes amount from the employee in its own transaction.
func (l *Ledger) Debit(ctx context.Context, id EmployeeID, leaveType LeaveType, amount decimal.Decimal) (DeductionReceipt, error) {
	if err := validateAmount(amount); err != nil {
		return DeductionReceipt{}, err
	}
	if !leaveType.Valid() {
		return DeductionReceipt{}, &generic.ValidationError{Field: "leave_type", Message: fmt.Sprintf("unknown leave type %q", leaveType)}
	}

	var receipt DeductionReceipt
	err := generic.Retry(ctx, l.opts.Retries, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			var err error
			receipt, err = debitIn(ctx, tx, id, leaveType, amount, l.opts.now())
			return err
		})
	})
	if err != nil {
		return DeductionReceipt{}, err
	}
	l.opts.Logger.Info("ledger debit", "employee", id, "amount", amount.String(),
		"compoff", receipt.CompOffDeducted.String(), "casual", receipt.CasualLeavesDeducted.String(),
		"sick", receipt.SickLeavesDeducted.String())
	return receipt, nil
}

// Credit adds amount to the pool in its own transaction.
func (l *Ledger) Credit(ctx context.Context, id EmployeeID, pool Pool, amount decimal.Decimal) (CreditReceipt, error) {
	if err := validateAmount(amount); err != nil {
		return CreditReceipt{}, err
	}
	if !pool.Valid() {
		return CreditReceipt{}, &generic.ValidationError{Field: "pool", Message: fmt.Sprintf("unknown pool %q", pool)}
	}

	var receipt CreditReceipt
	err := generic.Retry(ctx, l.opts.Retries, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			var err error
			receipt, err = creditIn(ctx, tx, id, pool, amount, l.opts.now())
			return err
		})
	})
	if err != nil {
		return CreditReceipt{}, err
	}
	l.opts.Logger.Info("ledger credit", "employee", id, "pool", pool, "amount", amount.String(),
		"debt_repaid", receipt.DebtRepaid.String())
	return receipt, nil
}

// SetBalances is the HR manual correction. expectedVersion must match the
// stored record; a stale version is reported as a conflict and not retried,
// since the caller decided on values it read earlier.
func (l *Ledger) SetBalances(ctx context.Context, id EmployeeID, balances Balances, expectedVersion int64) (Employee, error) {
	if err := balances.Validate(); err != nil {
		return Employee{}, err
	}

	var updated Employee
	err := l.store.WithTx(ctx, func(tx Store) error {
		e, err := tx.GetEmployee(ctx, id)
		if err != nil {
			return err
		}
		if e.Version != expectedVersion {
			return &generic.ConflictError{Kind: "employee", ID: string(id), Version: expectedVersion}
		}
		before := e.Balances
		e.Balances = balances
		e.UpdatedAt = l.opts.now()
		if err := tx.UpdateEmployee(ctx, &e); err != nil {
			return err
		}
		l.opts.Logger.Info("balances corrected", "employee", id, "before", before.String(), "after", balances.String())
		updated = e
		return nil
	})
	return updated, err
}

// debitIn is the read-compute-write step, run inside the caller's transaction.
func debitIn(ctx context.Context, tx Store, id EmployeeID, leaveType LeaveType, amount decimal.Decimal, now time.Time) (DeductionReceipt, error) {
	e, err := tx.GetEmployee(ctx, id)
	if err != nil {
		return DeductionReceipt{}, err
	}
	var receipt DeductionReceipt
	e.Balances, receipt = Debit(e.Balances, amount, leaveType, e.SickLeaveEligible)
	e.UpdatedAt = now
	if err := tx.UpdateEmployee(ctx, &e); err != nil {
		return DeductionReceipt{}, err
	}
	return receipt, nil
}

func creditIn(ctx context.Context, tx Store, id EmployeeID, pool Pool, amount decimal.Decimal, now time.Time) (CreditReceipt, error) {
	e, err := tx.GetEmployee(ctx, id)
	if err != nil {
		return CreditReceipt{}, err
	}
	var receipt CreditReceipt
	e.Balances, receipt = Credit(e.Balances, pool, amount)
	e.UpdatedAt = now
	if err := tx.UpdateEmployee(ctx, &e); err != nil {
		return CreditReceipt{}, err
	}
	return receipt, nil
}
