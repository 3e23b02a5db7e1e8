package timeoff_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) generic.Date {
	return generic.MustParseDate(s)
}

func clockAt(s string) func() time.Time {
	t := generic.MustParseDate(s).Time().Add(10 * time.Hour)
	return func() time.Time { return t }
}

func opts(day string) timeoff.Options {
	return timeoff.Options{Clock: clockAt(day)}
}

func balances(casual, sick, compOff string) timeoff.Balances {
	return timeoff.Balances{CasualLeaves: dec(casual), SickLeaves: dec(sick), CompOffs: dec(compOff)}
}

// assertBalances compares by value; decimals with equal value but different
// exponents are not == equal.
func assertBalances(t *testing.T, want, got timeoff.Balances) {
	t.Helper()
	require.Truef(t, want.Equal(got), "balances: want %s, got %s", want, got)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

// fixture provisions a small org: a senior, an HR person and employees.
type fixture struct {
	store *memory.Memory
	dir   *timeoff.Directory
}

func newFixture(t *testing.T, day string) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{store: store, dir: timeoff.NewDirectory(store, opts(day))}
	f.add(t, timeoff.Employee{ID: "senior", Name: "Sam Senior", SlackID: "U_SENIOR", Role: timeoff.RoleEmployee})
	f.add(t, timeoff.Employee{ID: "hr", Name: "Hana HR", SlackID: "U_HR", Role: timeoff.RoleHR})
	return f
}

func (f *fixture) add(t *testing.T, e timeoff.Employee) timeoff.Employee {
	t.Helper()
	created, err := f.dir.Create(context.Background(), e)
	require.NoError(t, err)
	return created
}

func (f *fixture) employee(t *testing.T, id timeoff.EmployeeID) timeoff.Employee {
	t.Helper()
	e, err := f.store.GetEmployee(context.Background(), id)
	require.NoError(t, err)
	return e
}

// recorder is a Notifier that remembers events and can be told to fail.
type recorder struct {
	mu     sync.Mutex
	events []timeoff.Event
	fail   error
}

func (r *recorder) Notify(_ context.Context, ev timeoff.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.fail
}

func (r *recorder) kinds() []timeoff.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]timeoff.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

var errSlackDown = errors.New("slack is down")
