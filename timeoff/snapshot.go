package timeoff

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// OPENING BALANCE SNAPSHOTS - Frozen baselines for period reports
// =============================================================================

// OpeningBalance is one employee's frozen balances.
type OpeningBalance struct {
	Leaves   decimal.Decimal `json:"leaves"`
	CompOffs decimal.Decimal `json:"comp_offs"`
}

// OpeningSnapshot is keyed by a Mon-YYYY label and written at most once.
type OpeningSnapshot struct {
	Label      string                        `json:"label"`
	CapturedAt time.Time                     `json:"captured_at"`
	Balances   map[EmployeeID]OpeningBalance `json:"balances"`
}

type Snapshotter struct {
	store Store
	cycle generic.PayCycle
	opts  Options
}

func NewSnapshotter(store Store, cycle generic.PayCycle, opts Options) *Snapshotter {
	return &Snapshotter{store: store, cycle: cycle, opts: opts.withDefaults()}
}

// CurrentLabel is the label of the pay period containing today.
func (s *Snapshotter) CurrentLabel() string {
	return s.cycle.LabelFor(s.opts.today())
}

// Capture freezes every employee's balances under label. A second capture
// for the same label is a no-op that returns the stored snapshot and false.
func (s *Snapshotter) Capture(ctx context.Context, label string) (OpeningSnapshot, bool, error) {
	if _, _, err := generic.ParseMonthLabel(label); err != nil {
		return OpeningSnapshot{}, false, &generic.ValidationError{Field: "label", Message: err.Error()}
	}

	var snap OpeningSnapshot
	err := s.store.WithTx(ctx, func(tx Store) error {
		employees, err := tx.ListEmployees(ctx)
		if err != nil {
			return err
		}
		snap = OpeningSnapshot{
			Label:      label,
			CapturedAt: s.opts.now(),
			Balances:   make(map[EmployeeID]OpeningBalance, len(employees)),
		}
		for _, e := range employees {
			snap.Balances[e.ID] = OpeningBalance{Leaves: e.Balances.CasualLeaves, CompOffs: e.Balances.CompOffs}
		}
		return tx.CreateOpeningSnapshot(ctx, snap)
	})
	if errors.Is(err, generic.ErrSnapshotExists) {
		existing, getErr := s.store.GetOpeningSnapshot(ctx, label)
		return existing, false, getErr
	}
	if err != nil {
		return OpeningSnapshot{}, false, err
	}
	s.opts.Logger.Info("opening balances captured", "label", label, "employees", len(snap.Balances))
	return snap, true, nil
}

// CaptureCurrent captures the snapshot for the pay period containing today.
func (s *Snapshotter) CaptureCurrent(ctx context.Context) (OpeningSnapshot, bool, error) {
	return s.Capture(ctx, s.CurrentLabel())
}

func (s *Snapshotter) Get(ctx context.Context, label string) (OpeningSnapshot, error) {
	return s.store.GetOpeningSnapshot(ctx, label)
}
