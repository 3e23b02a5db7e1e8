package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (leave is always booked in whole or half days)
// =============================================================================

const (
	dateLayout       = "2006-01-02"
	monthKeyLayout   = "2006-01"
	monthLabelLayout = "Jan-2006"
)

// Date is a calendar day normalized to UTC midnight.
// The zero value means "no date".
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and seed data.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Time() time.Time    { return d.t }
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) MonthKey() string   { return d.t.Format(monthKeyLayout) }
func (d Date) MonthLabel() string { return d.t.Format(monthLabelLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// MONTH LABELS
// =============================================================================

// MonthKeyOf returns the YYYY-MM key used to gate once-a-month runs.
func MonthKeyOf(t time.Time) string { return DateOf(t).MonthKey() }

// MonthLabel returns the Mon-YYYY label used to key opening balance snapshots.
func MonthLabel(year int, month time.Month) string {
	return NewDate(year, month, 1).MonthLabel()
}

// ParseMonthLabel parses a Mon-YYYY label back into its year and month.
func ParseMonthLabel(label string) (int, time.Month, error) {
	t, err := time.Parse(monthLabelLayout, label)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month label %q (use Mon-YYYY): %w", label, err)
	}
	return t.Year(), t.Month(), nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the whole days from one date to another (negative if to is earlier).
func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

// DaysInclusive counts both endpoints: 2024-01-01..2024-01-03 is 3 days.
func DaysInclusive(from, to Date) int { return DaysBetween(from, to) + 1 }
