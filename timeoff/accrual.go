/*
accrual.go - Monthly leave accrual

PURPOSE:
  Once per calendar month every employee is credited casual leave, and
  sick-leave eligible employees also get sick leave.

RATES (defaults):
  regular_office: 1.3 per month, 1.4 in months 3, 6, 9 and 12
  standard:       1
  sick:           1 for sick-leave eligible employees, 0 disables

GATE:
  The AccrualMark stores the YYYY-MM of the last run. A run in the same
  month is refused with generic.ErrAccrualAlreadyRun and changes nothing.
  The mark and every employee update are written in one transaction; the
  mark itself is a compare-and-set, so two concurrent runs cannot both
  pass the gate.
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
// RATES
// =============================================================================

// AccrualRule maps an employee and month to the amounts credited.
type AccrualRule struct {
	RegularRate  decimal.Decimal // regular_office, ordinary months
	QuarterRate  decimal.Decimal // regular_office, every third month
	StandardRate decimal.Decimal // every other category
	SickRate     decimal.Decimal // sick-leave eligible employees; zero disables
}

func DefaultAccrualRule() AccrualRule {
	return AccrualRule{
		RegularRate:  decimal.RequireFromString("1.3"),
		QuarterRate:  decimal.RequireFromString("1.4"),
		StandardRate: decimal.NewFromInt(1),
		SickRate:     decimal.NewFromInt(1),
	}
}

func (r AccrualRule) Validate() error {
	for field, v := range map[string]decimal.Decimal{
		"regular_rate":  r.RegularRate,
		"quarter_rate":  r.QuarterRate,
		"standard_rate": r.StandardRate,
		"sick_rate":     r.SickRate,
	} {
		if v.IsNegative() {
			return &generic.ValidationError{Field: field, Message: "cannot be negative"}
		}
	}
	return nil
}

// CasualFor returns the casual leave credited to e in month.
func (r AccrualRule) CasualFor(e Employee, month time.Month) decimal.Decimal {
	if e.Category == CategoryRegularOffice {
		if int(month)%3 == 0 {
			return r.QuarterRate
		}
		return r.RegularRate
	}
	return r.StandardRate
}

// SickFor returns the sick leave credited to e.
func (r AccrualRule) SickFor(e Employee) decimal.Decimal {
	if !e.SickLeaveEligible {
		return decimal.Zero
	}
	return r.SickRate
}

// =============================================================================
// ENGINE
// =============================================================================

type AccrualEngine struct {
	store    Store
	rule     AccrualRule
	notifier Notifier
	timeout  time.Duration
	opts     Options
}

func NewAccrualEngine(store Store, rule AccrualRule, notifier Notifier, notifyTimeout time.Duration, opts Options) *AccrualEngine {
	return &AccrualEngine{store: store, rule: rule, notifier: notifier, timeout: notifyTimeout, opts: opts.withDefaults()}
}

// AccrualResult reports a completed run.
type AccrualResult struct {
	MonthKey          string
	Updated           int
	RanAt             time.Time
	NotificationError string
}

// AccrualStatus says whether a run is allowed now.
type AccrualStatus struct {
	CurrentMonth string
	LastMonth    string // empty if accrual never ran
	LastRunAt    time.Time
	CanRun       bool
}

func (a *AccrualEngine) Status(ctx context.Context) (AccrualStatus, error) {
	mark, err := a.store.GetAccrualMark(ctx)
	if err != nil {
		return AccrualStatus{}, err
	}
	current := generic.MonthKeyOf(a.opts.now())
	return AccrualStatus{
		CurrentMonth: current,
		LastMonth:    mark.MonthKey,
		LastRunAt:    mark.RanAt,
		CanRun:       mark.MonthKey != current,
	}, nil
}

// Run credits every employee for the current month.
func (a *AccrualEngine) Run(ctx context.Context) (AccrualResult, error) {
	now := a.opts.now()
	monthKey := generic.MonthKeyOf(now)

	var result AccrualResult
	err := generic.Retry(ctx, a.opts.Retries, func() error {
		return a.store.WithTx(ctx, func(tx Store) error {
			mark, err := tx.GetAccrualMark(ctx)
			if err != nil {
				return err
			}
			if mark.MonthKey == monthKey {
				return fmt.Errorf("%w: last run %s", generic.ErrAccrualAlreadyRun, mark.RanAt.Format(time.DateOnly))
			}

			employees, err := tx.ListEmployees(ctx)
			if err != nil {
				return err
			}
			for i := range employees {
				e := employees[i]
				e.Balances.CasualLeaves = e.Balances.CasualLeaves.Add(a.rule.CasualFor(e, now.Month()))
				e.Balances.SickLeaves = e.Balances.SickLeaves.Add(a.rule.SickFor(e))
				e.UpdatedAt = now
				if err := tx.UpdateEmployee(ctx, &e); err != nil {
					return err
				}
			}

			mark.MonthKey = monthKey
			mark.RanAt = now
			if err := tx.SetAccrualMark(ctx, &mark); err != nil {
				return err
			}
			result = AccrualResult{MonthKey: monthKey, Updated: len(employees), RanAt: now}
			return nil
		})
	})
	if err != nil {
		return AccrualResult{}, err
	}

	a.opts.Logger.Info("accrual run", "month", monthKey, "updated", result.Updated)
	result.NotificationError = deliver(ctx, a.notifier, a.timeout, a.opts, Event{
		Kind:     EventAccrualRun,
		MonthKey: monthKey,
		Updated:  result.Updated,
		At:       now,
	})
	return result, nil
}
