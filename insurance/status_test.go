package insurance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/insurance-tracker/insurance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// noon keeps the clock away from day boundaries.
func noon(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func policyEnding(start, end insurance.Date, status insurance.Status) insurance.Policy {
	return insurance.Policy{
		ID:        "pol-1",
		AssetID:   "asset-1",
		StartDate: start,
		EndDate:   end,
		Status:    status,
	}
}

// =============================================================================
// STATUS
// =============================================================================

func TestComputeStatus_StickyStatesAreNotOverridden(t *testing.T) {
	// GIVEN: Policies long expired but explicitly archived or under renewal
	// THEN: Date math does not replace the explicit state
	now := noon(2025, time.June, 1)
	past := insurance.NewDate(2020, time.January, 1)

	for _, st := range []insurance.Status{insurance.StatusArchived, insurance.StatusRenewalInProgress} {
		p := policyEnding(past.AddDays(-365), past, st)
		assert.Equal(t, st, insurance.ComputeStatus(p, now), st.String())
	}
}

func TestComputeStatus_ByDistanceToEnd(t *testing.T) {
	now := noon(2025, time.June, 1)
	start := insurance.NewDate(2024, time.June, 1)

	tests := []struct {
		name string
		end  insurance.Date
		want insurance.Status
	}{
		{"ended yesterday", insurance.NewDate(2025, time.May, 31), insurance.StatusExpired},
		{"ended this morning", insurance.NewDate(2025, time.June, 1), insurance.StatusExpiring},
		{"ends tomorrow", insurance.NewDate(2025, time.June, 2), insurance.StatusExpiring},
		{"ends in 30 days", insurance.NewDate(2025, time.July, 1), insurance.StatusExpiring},
		{"ends in 31 days", insurance.NewDate(2025, time.July, 2), insurance.StatusActive},
		{"ends in 45 days", insurance.NewDate(2025, time.July, 16), insurance.StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policyEnding(start, tt.end, insurance.StatusActive)
			assert.Equal(t, tt.want, insurance.ComputeStatus(p, now))
		})
	}
}

func TestComputeStatus_ExactDayBoundary(t *testing.T) {
	// GIVEN: now is exactly midnight of the end date
	// THEN: daysToEnd is 0, which is EXPIRING rather than EXPIRED
	end := insurance.NewDate(2025, time.June, 1)
	p := policyEnding(end.AddDays(-100), end, insurance.StatusActive)

	assert.Equal(t, 0, insurance.DaysToEnd(p, end.Time))
	assert.Equal(t, insurance.StatusExpiring, insurance.ComputeStatus(p, end.Time))
}

func TestComputeStatus_StoredExpiredRecoversWhenDatesSayActive(t *testing.T) {
	now := noon(2025, time.June, 1)
	p := policyEnding(insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1), insurance.StatusExpired)

	assert.Equal(t, insurance.StatusActive, insurance.ComputeStatus(p, now))
}

func TestComputeStatus_IsStableForSameNow(t *testing.T) {
	now := noon(2025, time.June, 1)
	p := policyEnding(insurance.NewDate(2025, time.January, 1), insurance.NewDate(2025, time.June, 20), insurance.StatusActive)

	first := insurance.ComputeStatus(p, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, insurance.ComputeStatus(p, now))
	}
}

func TestComputeStatus_ZeroEndDateIsExpired(t *testing.T) {
	assert.Equal(t, insurance.StatusExpired, insurance.ComputeStatus(insurance.Policy{}, noon(2025, time.June, 1)))
}

func TestComputeStatus_FortyFiveDaysOutMidpoint(t *testing.T) {
	// GIVEN: A 90 day policy ending 45 days from now, no override
	// THEN: ACTIVE, and progress at the midpoint is about 50
	now := noon(2025, time.June, 1)
	start := insurance.DateOf(now).AddDays(-45)
	end := insurance.DateOf(now).AddDays(45)
	p := policyEnding(start, end, insurance.StatusActive)

	assert.Equal(t, insurance.StatusActive, insurance.ComputeStatus(p, now))
	assert.InDelta(t, 50, insurance.ComputeProgress(p, now), 1)
}

// =============================================================================
// PROGRESS
// =============================================================================

func TestComputeProgress_ZeroLengthTermIsZero(t *testing.T) {
	d := insurance.NewDate(2025, time.March, 1)
	p := policyEnding(d, d, insurance.StatusActive)

	assert.Equal(t, 0, insurance.ComputeProgress(p, noon(2025, time.April, 1)))
}

func TestComputeProgress_InvertedTermIsZero(t *testing.T) {
	p := policyEnding(insurance.NewDate(2025, time.March, 1), insurance.NewDate(2025, time.January, 1), insurance.StatusActive)

	assert.Equal(t, 0, insurance.ComputeProgress(p, noon(2025, time.February, 1)))
}

func TestComputeProgress_ClampedToBounds(t *testing.T) {
	p := policyEnding(insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1), insurance.StatusActive)

	assert.Equal(t, 0, insurance.ComputeProgress(p, noon(2024, time.June, 1)))
	assert.Equal(t, 100, insurance.ComputeProgress(p, noon(2026, time.January, 1)))
	assert.Equal(t, 100, insurance.ComputeProgress(p, noon(2030, time.January, 1)))
}

func TestComputeProgress_MonotonicAsTimeAdvances(t *testing.T) {
	p := policyEnding(insurance.NewDate(2025, time.January, 1), insurance.NewDate(2025, time.December, 31), insurance.StatusActive)

	prev := -1
	for now := noon(2024, time.December, 1); now.Before(noon(2026, time.February, 1)); now = now.Add(36 * time.Hour) {
		got := insurance.ComputeProgress(p, now)
		assert.GreaterOrEqual(t, got, prev, "progress went backwards at %s", now)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 100)
		prev = got
	}
}

// =============================================================================
// CALENDAR DAYS
// =============================================================================

func TestCalendarDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	end := insurance.NewDate(2025, time.June, 11)

	assert.Equal(t, 10, insurance.CalendarDaysBetween(end, time.Date(2025, time.June, 1, 0, 0, 1, 0, time.UTC)))
	assert.Equal(t, 10, insurance.CalendarDaysBetween(end, time.Date(2025, time.June, 1, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, -1, insurance.CalendarDaysBetween(end, noon(2025, time.June, 12)))
}
