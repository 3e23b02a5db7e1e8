package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive window of calendar days
// =============================================================================

// Period is the closed window [Start, End]. Both endpoints count.
//
// Examples:
//   - A leave request from Jan 20 to Feb 5
//   - A pay period from Jan 25 to Feb 24
type Period struct {
	Start Date
	End   Date
}

// Validate rejects a period that ends before it starts.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "period", Message: "start and end are required"}
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the inclusive day count of the period.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysInclusive(p.Start, p.End)
}

// Clip returns the part of p that falls inside window.
// The second result is false when they do not overlap.
func (p Period) Clip(window Period) (Period, bool) {
	start := p.Start
	if window.Start.After(start) {
		start = window.Start
	}
	end := p.End
	if window.End.Before(end) {
		end = window.End
	}
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// PAY CYCLE - Payroll cut-off periods (not calendar months)
// =============================================================================

// PayCycle describes a monthly payroll window that runs from CutoffDay of
// one month to the day before CutoffDay of the next (or CutoffDay itself
// when InclusiveEnd is set).
//
// With the default cut-off of 25:
//
//	exclusive: Jan 25 .. Feb 24 (labelled Feb)
//	inclusive: Jan 25 .. Feb 25 (labelled Feb)
//
// A period is labelled by the month in which it ends.
type PayCycle struct {
	CutoffDay    int
	InclusiveEnd bool
}

// DefaultPayCycle is the 25th cut-off with non-overlapping periods.
var DefaultPayCycle = PayCycle{CutoffDay: 25}

func (c PayCycle) Validate() error {
	if c.CutoffDay < 1 || c.CutoffDay > 28 {
		return &ValidationError{Field: "cutoff_day", Message: fmt.Sprintf("must be between 1 and 28, got %d", c.CutoffDay)}
	}
	return nil
}

// PeriodEnding returns the pay period that ends in the given month.
func (c PayCycle) PeriodEnding(year int, month time.Month) Period {
	start := NewDate(year, month-1, c.CutoffDay)
	end := NewDate(year, month, c.CutoffDay)
	if !c.InclusiveEnd {
		end = end.AddDays(-1)
	}
	return Period{Start: start, End: end}
}

// PeriodFor returns the pay period containing the day. When periods
// overlap on the cut-off day (InclusiveEnd), the period starting on it wins.
func (c PayCycle) PeriodFor(d Date) Period {
	if d.Day() >= c.CutoffDay {
		next := NewDate(d.Year(), d.Month()+1, 1)
		return c.PeriodEnding(next.Year(), next.Month())
	}
	return c.PeriodEnding(d.Year(), d.Month())
}

// LabelFor returns the Mon-YYYY label of the pay period containing the day.
func (c PayCycle) LabelFor(d Date) string {
	return c.PeriodFor(d).End.MonthLabel()
}
