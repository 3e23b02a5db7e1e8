/*
Package generic provides the domain-agnostic building blocks of the leave ledger.

PURPOSE:
  Everything in here is independent of leave policy: day quantities on
  decimal arithmetic, calendar dates, inclusive periods and pay cycles,
  sentinel errors and the bounded optimistic-retry helper. The timeoff
  package composes these into balances, requests and reports.

KEY CONCEPTS IN THIS FILE (types.go):
  - Day quantities are decimal.Decimal, never float64
  - HalfDay / Days constructors
  - Min / Max / Sum helpers used by the ledger arithmetic

DESIGN PRINCIPLES:
  1. Precision: 1.3 + 1.4 must be exactly 2.7, so no floats in balances
  2. Value types: helpers return new values, nothing is mutated in place

SEE ALSO:
  - time.go: Date
  - period.go: Period and PayCycle
  - errors.go: error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY QUANTITIES
// =============================================================================

// HalfDay is the unit of a half-day request.
var HalfDay = decimal.New(5, -1)

// Days returns n whole days.
func Days(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// SumDecimal adds all values; the sum of nothing is zero.
func SumDecimal(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
