package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// QUARTER CALCULATOR TESTS
// =============================================================================

func TestQuarterRange_Boundaries(t *testing.T) {
	cases := []struct {
		quarter    int
		start, end string
	}{
		{1, "2025-01-01T00:00:00.000", "2025-03-31T23:59:59.999"},
		{2, "2025-04-01T00:00:00.000", "2025-06-30T23:59:59.999"},
		{3, "2025-07-01T00:00:00.000", "2025-09-30T23:59:59.999"},
		{4, "2025-10-01T00:00:00.000", "2025-12-31T23:59:59.999"},
	}
	const layout = "2006-01-02T15:04:05.000"
	for _, tc := range cases {
		p, err := generic.QuarterRangeIn(tc.quarter, 2025, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, tc.start, p.Start.Format(layout), "Q%d start", tc.quarter)
		assert.Equal(t, tc.end, p.End.Format(layout), "Q%d end", tc.quarter)
	}
}

func TestQuarterRange_LeapYearFebruary(t *testing.T) {
	p, err := generic.QuarterRangeIn(1, 2024, time.UTC)
	require.NoError(t, err)
	assert.True(t, p.Contains(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)))
}

func TestQuarterRange_RejectsOutOfRange(t *testing.T) {
	for _, q := range []int{0, 5, -1} {
		_, err := generic.QuarterRange(q, 2025)
		assert.ErrorIs(t, err, generic.ErrInvalidQuarter)
		assert.ErrorIs(t, err, generic.ErrInvalidInput)
	}
}

func TestQuarterRange_UsesLocation(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*60*60)
	p, err := generic.QuarterRangeIn(2, 2025, riyadh)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 31, 21, 0, 0, 0, time.UTC), p.Start.UTC())
}

func TestPeriodContains_Inclusive(t *testing.T) {
	p, _ := generic.QuarterRangeIn(1, 2025, time.UTC)
	assert.True(t, p.Contains(p.Start))
	assert.True(t, p.Contains(p.End))
	assert.False(t, p.Contains(p.Start.Add(-time.Nanosecond)))
	assert.False(t, p.Contains(p.End.Add(time.Millisecond)))
}

func TestQuarterNavigation(t *testing.T) {
	assert.Equal(t, generic.Quarter{Quarter: 4, Year: 2024}, generic.PreviousQuarter(1, 2025))
	assert.Equal(t, generic.Quarter{Quarter: 2, Year: 2025}, generic.PreviousQuarter(3, 2025))
	assert.Equal(t, generic.Quarter{Quarter: 1, Year: 2026}, generic.NextQuarter(4, 2025))
	assert.Equal(t, generic.Quarter{Quarter: 3, Year: 2025}, generic.NextQuarter(2, 2025))

	assert.Equal(t, generic.Quarter{Quarter: 3, Year: 2025},
		generic.CurrentQuarter(time.Date(2025, 9, 30, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, generic.Quarter{Quarter: 4, Year: 2025},
		generic.CurrentQuarter(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
}

func TestIsInQuarter(t *testing.T) {
	assert.True(t, generic.IsInQuarter(time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC), 1, 2025))
	assert.False(t, generic.IsInQuarter(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 1, 2025))
	assert.False(t, generic.IsInQuarter(time.Now(), 9, 2025))
}

// =============================================================================
// LABELS
// =============================================================================

func TestQuarterLabel(t *testing.T) {
	q := generic.Quarter{Quarter: 1, Year: 2025}
	assert.Equal(t, "Q1 2025", q.Label(language.English))
	assert.Equal(t, "الربع الأول 2025", q.Label(language.Arabic))
	assert.Equal(t, "Q1/2025", q.Reference())
	assert.Equal(t, "Q1 2025", q.String())
}

func TestMatchLanguage(t *testing.T) {
	assert.Equal(t, language.Arabic, generic.MatchLanguage("ar-SA,ar;q=0.9,en;q=0.5"))
	assert.Equal(t, language.English, generic.MatchLanguage("en-US"))
	assert.Equal(t, language.English, generic.MatchLanguage(""))
	assert.Equal(t, language.English, generic.MatchLanguage("fr"))
}

// =============================================================================
// MONEY
// =============================================================================

func TestMinorUnitsRoundTrip(t *testing.T) {
	d := generic.MustParseDecimal("123.4567")
	assert.Equal(t, int64(1234567), generic.ToMinorUnits(d))
	assert.True(t, generic.FromMinorUnits(1234567).Equal(d))
	assert.Equal(t, int64(-500000), generic.ToMinorUnits(generic.MustParseDecimal("-50")))
}

func TestRewardRecalculateFinal(t *testing.T) {
	r := generic.Reward{
		CalculatedReward: generic.MustParseDecimal("150"),
		ManualAdjustment: generic.MustParseDecimal("-50"),
	}
	r.RecalculateFinal()
	assert.True(t, r.FinalReward.Equal(generic.MustParseDecimal("100")))
}
