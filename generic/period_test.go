package generic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func period(start, end string) Period {
	return Period{Start: MustParseDate(start), End: MustParseDate(end)}
}

func TestPeriod_DaysIsInclusive(t *testing.T) {
	assert.Equal(t, 3, period("2024-01-01", "2024-01-03").Days())
	assert.Equal(t, 1, period("2024-01-01", "2024-01-01").Days())
	assert.Equal(t, 0, period("2024-01-03", "2024-01-01").Days())
	// leap day
	assert.Equal(t, 2, period("2024-02-28", "2024-02-29").Days())
}

func TestPeriod_Validate(t *testing.T) {
	assert.NoError(t, period("2024-01-01", "2024-01-01").Validate())
	assert.ErrorIs(t, period("2024-01-03", "2024-01-01").Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{Start: MustParseDate("2024-01-01")}.Validate(), ErrValidation)
}

func TestPeriod_Clip(t *testing.T) {
	window := period("2024-01-25", "2024-02-25")

	tests := []struct {
		name     string
		req      Period
		want     Period
		overlaps bool
	}{
		{"straddles start", period("2024-01-20", "2024-02-05"), period("2024-01-25", "2024-02-05"), true},
		{"inside", period("2024-02-01", "2024-02-03"), period("2024-02-01", "2024-02-03"), true},
		{"straddles end", period("2024-02-24", "2024-03-02"), period("2024-02-24", "2024-02-25"), true},
		{"covers window", period("2024-01-01", "2024-03-31"), window, true},
		{"touches start", period("2024-01-20", "2024-01-25"), period("2024-01-25", "2024-01-25"), true},
		{"before", period("2024-01-01", "2024-01-24"), Period{}, false},
		{"after", period("2024-02-26", "2024-02-28"), Period{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.req.Clip(window)
			assert.Equal(t, tt.overlaps, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	clipped, _ := period("2024-01-20", "2024-02-05").Clip(window)
	assert.Equal(t, 12, clipped.Days(), "17-day request contributes 12 days")
}

func TestPayCycle_PeriodEnding(t *testing.T) {
	// GIVEN: the default cut-off
	c := DefaultPayCycle

	// THEN: the period ending in February runs Jan 25 .. Feb 24
	assert.Equal(t, period("2024-01-25", "2024-02-24"), c.PeriodEnding(2024, time.February))

	// AND: January's period starts in the previous year
	assert.Equal(t, period("2023-12-25", "2024-01-24"), c.PeriodEnding(2024, time.January))

	// AND: the inclusive variant ends on the cut-off
	c.InclusiveEnd = true
	assert.Equal(t, period("2024-01-25", "2024-02-25"), c.PeriodEnding(2024, time.February))
}

func TestPayCycle_PeriodForAndLabel(t *testing.T) {
	c := DefaultPayCycle

	tests := []struct {
		day   string
		label string
	}{
		{"2024-02-10", "Feb-2024"},
		{"2024-02-24", "Feb-2024"},
		{"2024-02-25", "Mar-2024"},
		{"2024-12-25", "Jan-2025"},
		{"2024-01-01", "Jan-2024"},
	}
	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			d := MustParseDate(tt.day)
			assert.Equal(t, tt.label, c.LabelFor(d))
			assert.True(t, c.PeriodFor(d).Contains(d))
		})
	}
}

func TestPayCycle_Validate(t *testing.T) {
	assert.NoError(t, DefaultPayCycle.Validate())
	assert.ErrorIs(t, PayCycle{CutoffDay: 0}.Validate(), ErrValidation)
	assert.ErrorIs(t, PayCycle{CutoffDay: 31}.Validate(), ErrValidation)
}

func TestMonthLabels(t *testing.T) {
	assert.Equal(t, "Mar-2024", MonthLabel(2024, time.March))

	year, month, err := ParseMonthLabel("Dec-2023")
	require.NoError(t, err)
	assert.Equal(t, 2023, year)
	assert.Equal(t, time.December, month)

	_, _, err = ParseMonthLabel("2023-12")
	assert.Error(t, err)

	assert.Equal(t, "2024-03", MonthKeyOf(time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC)))
}
