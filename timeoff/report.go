/*
report.go - Pay-period reconciliation report

PURPOSE:
  Aggregates approved requests inside a pay-period window into one row per
  employee, reconciled against the opening balance snapshot.

CLIPPING:
  A leave request contributes only its days inside the window:

    request 2024-01-20..2024-02-05, window 2024-01-25..2024-02-24
    => 2024-01-25..2024-02-05 = 12 days

  A half-day inside the window always contributes exactly 0.5.
  A comp-off contributes its days when its date is inside the window.

RECONCILIATION:
  compOffAdjusted       = min(leavesAvailed, openingCompOffs)
  closingCompOffs       = compOffsCredited + openingCompOffs - compOffAdjusted
  adjustedAvailedLeaves = leavesAvailed - compOffAdjusted
  closingLeaves         = openingLeaves - adjustedAvailedLeaves

  BuildPeriodReport does no I/O and no formatting. Reporter loads the data.
*/
package timeoff

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// ReportColumns is the fixed header of an exported report.
var ReportColumns = []string{
	"Emp Code",
	"Name",
	"Opening Leaves",
	"Opening Comp-offs",
	"Leaves Availed",
	"Comp-offs Credited",
	"Comp-off Adjusted",
	"Closing Comp-offs",
	"Adjusted Availed Leaves",
	"Closing Leaves",
}

// LeaveSpan is the clipped part of one approved leave request.
type LeaveSpan struct {
	RequestID string          `json:"request_id"`
	Start     generic.Date    `json:"start"`
	End       generic.Date    `json:"end"`
	HalfDay   bool            `json:"half_day"`
	Days      decimal.Decimal `json:"days"`
}

type ReportRow struct {
	EmployeeID            EmployeeID      `json:"employee_id"`
	EmpCode               string          `json:"emp_code"`
	Name                  string          `json:"name"`
	OpeningLeaves         decimal.Decimal `json:"opening_leaves"`
	OpeningCompOffs       decimal.Decimal `json:"opening_comp_offs"`
	LeavesAvailed         decimal.Decimal `json:"leaves_availed"`
	CompOffsCredited      decimal.Decimal `json:"comp_offs_credited"`
	CompOffAdjusted       decimal.Decimal `json:"comp_off_adjusted"`
	ClosingCompOffs       decimal.Decimal `json:"closing_comp_offs"`
	AdjustedAvailedLeaves decimal.Decimal `json:"adjusted_availed_leaves"`
	ClosingLeaves         decimal.Decimal `json:"closing_leaves"`
	MissingOpening        bool            `json:"missing_opening"` // not in the snapshot; opening treated as zero
	Leaves                []LeaveSpan     `json:"leaves"`
}

// Cells renders the row in ReportColumns order.
func (r ReportRow) Cells() []string {
	return []string{
		r.EmpCode,
		r.Name,
		r.OpeningLeaves.String(),
		r.OpeningCompOffs.String(),
		r.LeavesAvailed.String(),
		r.CompOffsCredited.String(),
		r.CompOffAdjusted.String(),
		r.ClosingCompOffs.String(),
		r.AdjustedAvailedLeaves.String(),
		r.ClosingLeaves.String(),
	}
}

// ReportInput is everything the aggregator needs.
type ReportInput struct {
	Window    generic.Period
	Employees []Employee
	Leaves    []LeaveRequest   // non-approved entries are ignored
	CompOffs  []CompOffRequest // non-approved entries are ignored
	Opening   map[EmployeeID]OpeningBalance
}

// BuildPeriodReport returns one row per employee ordered by name, then id.
func BuildPeriodReport(in ReportInput) ([]ReportRow, error) {
	if err := in.Window.Validate(); err != nil {
		return nil, err
	}

	rows := make([]ReportRow, 0, len(in.Employees))
	index := make(map[EmployeeID]int, len(in.Employees))
	for _, e := range in.Employees {
		row := ReportRow{
			EmployeeID:       e.ID,
			EmpCode:          e.EmpCode,
			Name:             e.Name,
			OpeningLeaves:    decimal.Zero,
			OpeningCompOffs:  decimal.Zero,
			LeavesAvailed:    decimal.Zero,
			CompOffsCredited: decimal.Zero,
			Leaves:           []LeaveSpan{},
		}
		if ob, ok := in.Opening[e.ID]; ok {
			row.OpeningLeaves = ob.Leaves
			row.OpeningCompOffs = ob.CompOffs
		} else {
			row.MissingOpening = true
		}
		index[e.ID] = len(rows)
		rows = append(rows, row)
	}

	for _, r := range in.Leaves {
		i, ok := index[r.EmployeeID]
		if !ok || r.Status != StatusApproved {
			continue
		}
		clipped, overlaps := r.Period().Clip(in.Window)
		if !overlaps {
			continue
		}
		days := generic.HalfDay
		if !r.HalfDay {
			days = generic.Days(int64(clipped.Days()))
		}
		rows[i].LeavesAvailed = rows[i].LeavesAvailed.Add(days)
		rows[i].Leaves = append(rows[i].Leaves, LeaveSpan{
			RequestID: r.ID,
			Start:     clipped.Start,
			End:       clipped.End,
			HalfDay:   r.HalfDay,
			Days:      days,
		})
	}

	for _, r := range in.CompOffs {
		i, ok := index[r.EmployeeID]
		if !ok || r.Status != StatusApproved || !in.Window.Contains(r.Date) {
			continue
		}
		rows[i].CompOffsCredited = rows[i].CompOffsCredited.Add(r.Days)
	}

	for i := range rows {
		reconcile(&rows[i])
		sort.Slice(rows[i].Leaves, func(a, b int) bool {
			return rows[i].Leaves[a].Start.Before(rows[i].Leaves[b].Start)
		})
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Name != rows[b].Name {
			return rows[a].Name < rows[b].Name
		}
		return rows[a].EmployeeID < rows[b].EmployeeID
	})
	return rows, nil
}

func reconcile(r *ReportRow) {
	r.CompOffAdjusted = generic.MaxDecimal(generic.MinDecimal(r.LeavesAvailed, r.OpeningCompOffs), decimal.Zero)
	r.ClosingCompOffs = r.CompOffsCredited.Add(r.OpeningCompOffs).Sub(r.CompOffAdjusted)
	r.AdjustedAvailedLeaves = r.LeavesAvailed.Sub(r.CompOffAdjusted)
	r.ClosingLeaves = r.OpeningLeaves.Sub(r.AdjustedAvailedLeaves)
}

// =============================================================================
// REPORTER - Loads data for a pay period and runs the aggregator
// =============================================================================

type Report struct {
	Label       string         `json:"label"`
	Window      generic.Period `json:"-"`
	Start       generic.Date   `json:"start"`
	End         generic.Date   `json:"end"`
	HasOpening  bool           `json:"has_opening"`
	GeneratedAt time.Time      `json:"generated_at"`
	Rows        []ReportRow    `json:"rows"`
}

type Reporter struct {
	store Store
	cycle generic.PayCycle
	opts  Options
}

func NewReporter(store Store, cycle generic.PayCycle, opts Options) *Reporter {
	return &Reporter{store: store, cycle: cycle, opts: opts.withDefaults()}
}

// Build reports the pay period ending in the given month, reconciled
// against the snapshot labelled with that month.
func (r *Reporter) Build(ctx context.Context, year int, month time.Month) (Report, error) {
	if month < time.January || month > time.December {
		return Report{}, &generic.ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	window := r.cycle.PeriodEnding(year, month)
	label := generic.MonthLabel(year, month)

	employees, err := r.store.ListEmployees(ctx)
	if err != nil {
		return Report{}, err
	}
	leaves, err := r.store.ListLeaveRequests(ctx, RequestFilter{Status: StatusApproved})
	if err != nil {
		return Report{}, err
	}
	compOffs, err := r.store.ListCompOffRequests(ctx, RequestFilter{Status: StatusApproved})
	if err != nil {
		return Report{}, err
	}

	var opening map[EmployeeID]OpeningBalance
	snap, err := r.store.GetOpeningSnapshot(ctx, label)
	switch {
	case err == nil:
		opening = snap.Balances
	case errors.Is(err, generic.ErrSnapshotNotFound):
		r.opts.Logger.Warn("no opening balance snapshot for report", "label", label)
	default:
		return Report{}, err
	}

	rows, err := BuildPeriodReport(ReportInput{
		Window:    window,
		Employees: employees,
		Leaves:    leaves,
		CompOffs:  compOffs,
		Opening:   opening,
	})
	if err != nil {
		return Report{}, err
	}
	return Report{
		Label:       label,
		Window:      window,
		Start:       window.Start,
		End:         window.End,
		HasOpening:  opening != nil,
		GeneratedAt: r.opts.now(),
		Rows:        rows,
	}, nil
}
