package insurance

import (
	"math"
	"time"
)

// ExpiringWindowDays is how close to its end date a policy is reported EXPIRING.
const ExpiringWindowDays = 30

const millisPerDay = 24 * 60 * 60 * 1000

// DaysToEnd returns ceil((EndDate - now) / 1 day) measured in milliseconds.
func DaysToEnd(p Policy, now time.Time) int {
	diff := p.EndDate.Time.Sub(now).Milliseconds()
	return int(math.Ceil(float64(diff) / millisPerDay))
}

// ComputeStatus derives the status of a policy at now.
//
// Sticky states are returned unchanged. Otherwise the status follows the
// distance to the end date: negative is EXPIRED, up to ExpiringWindowDays is
// EXPIRING, beyond is ACTIVE. A zero end date yields EXPIRED.
func ComputeStatus(p Policy, now time.Time) Status {
	if p.Status.IsSticky() {
		return p.Status
	}

	days := DaysToEnd(p, now)
	switch {
	case days < 0:
		return StatusExpired
	case days <= ExpiringWindowDays:
		return StatusExpiring
	default:
		return StatusActive
	}
}

// ComputeProgress returns the elapsed share of the policy term at now as an
// integer percentage in [0, 100]. Zero-length or inverted terms yield 0.
func ComputeProgress(p Policy, now time.Time) int {
	total := p.EndDate.Time.Sub(p.StartDate.Time).Milliseconds()
	if total <= 0 {
		return 0
	}
	passed := now.Sub(p.StartDate.Time).Milliseconds()

	pct := float64(passed) / float64(total) * 100
	pct = math.Min(100, math.Max(0, pct))
	return int(math.Round(pct))
}
