// Package billing holds the pure arithmetic shared by every aggregation:
// normalising cycle amounts to a monthly figure and projecting renewal dates.
package billing

import (
	"errors"
	"math"
	"time"

	"subtracker/internal/models"
)

// WeeksPerMonth is the multiplier applied to weekly amounts.
const WeeksPerMonth = 4.33

// MaxIterations bounds the renewal projection loop.
const MaxIterations = 100_000

// ErrRenewalOverflow is returned when a renewal projection does not reach
// the reference date within MaxIterations cycles.
var ErrRenewalOverflow = errors.New("renewal projection exceeded iteration limit")

// NormalizeToMonthly converts an amount billed every cycle into its monthly
// equivalent. Unknown cycles are treated as monthly.
func NormalizeToMonthly(amount float64, cycle models.BillingCycle) float64 {
	switch cycle {
	case models.CycleWeekly:
		return amount * WeeksPerMonth
	case models.CycleQuarterly:
		return amount / 3
	case models.CycleSemiAnnual:
		return amount / 6
	case models.CycleYearly:
		return amount / 12
	default:
		return amount
	}
}

// MonthlyCost is the normalised monthly cost of a subscription to its owner.
func MonthlyCost(sub models.Subscription) float64 {
	return NormalizeToMonthly(sub.Share(), sub.BillingCycle)
}

// CycleMonths returns the length of a cycle in months, so that
// NormalizeToMonthly(x, c) * CycleMonths(c) == x.
func CycleMonths(cycle models.BillingCycle) float64 {
	switch cycle {
	case models.CycleWeekly:
		return 1 / WeeksPerMonth
	case models.CycleQuarterly:
		return 3
	case models.CycleSemiAnnual:
		return 6
	case models.CycleYearly:
		return 12
	default:
		return 1
	}
}

// CycleDays returns the approximate length of a cycle in days.
func CycleDays(cycle models.BillingCycle) int {
	switch cycle {
	case models.CycleWeekly:
		return 7
	case models.CycleQuarterly:
		return 90
	case models.CycleSemiAnnual:
		return 180
	case models.CycleYearly:
		return 365
	default:
		return 30
	}
}

// step returns the calendar increment of one cycle.
func step(cycle models.BillingCycle) (months, days int) {
	switch cycle {
	case models.CycleWeekly:
		return 0, 7
	case models.CycleQuarterly:
		return 3, 0
	case models.CycleSemiAnnual:
		return 6, 0
	case models.CycleYearly:
		return 12, 0
	default:
		return 1, 0
	}
}

// NextRenewal returns the first renewal of a subscription started on start
// that falls strictly after the calendar day of now. Each occurrence is
// computed from start, and month-end overflow is clamped to the last day of
// the target month, so a subscription started on 31 January renews on the
// last day of February and on 31 March. A nil start yields a nil date.
func NextRenewal(start *time.Time, cycle models.BillingCycle, now time.Time) (*time.Time, error) {
	if start == nil {
		return nil, nil
	}
	today := Midnight(now)
	anchor := DateIn(*start, now.Location())
	months, days := step(cycle)
	if months == 0 && days == 0 {
		return nil, ErrRenewalOverflow
	}

	for k := 0; k <= MaxIterations; k++ {
		next := addMonthsClamped(anchor, k*months).AddDate(0, 0, k*days)
		if next.After(today) {
			return &next, nil
		}
	}
	return nil, ErrRenewalOverflow
}

// EffectiveRenewal returns the cached renewal date of sub, rolled forward
// when the cached value has fallen behind now.
func EffectiveRenewal(sub models.Subscription, now time.Time) *time.Time {
	cached := sub.NextRenewalDate
	if cached != nil && !DateIn(*cached, now.Location()).Before(Midnight(now)) {
		return cached
	}
	if sub.StartDate == nil {
		return cached
	}
	next, err := NextRenewal(sub.StartDate, sub.BillingCycle, now)
	if err != nil {
		return cached
	}
	return next
}

func addMonthsClamped(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Midnight truncates t to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateIn places the calendar day of t at midnight in loc.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysRemaining returns the number of calendar days from now until target,
// or -1 when target is nil. Past dates yield negative values.
func DaysRemaining(target *time.Time, now time.Time) int {
	if target == nil {
		return -1
	}
	diff := DateIn(*target, now.Location()).Sub(Midnight(now))
	return int(math.Ceil(diff.Hours() / 24))
}

// CountdownTarget is the date a subscription counts down to: the trial end
// for trials, the renewal date otherwise.
func CountdownTarget(sub models.Subscription) *time.Time {
	if sub.State.Trial != nil {
		return sub.State.TrialEnd()
	}
	return sub.NextRenewalDate
}

// ProgressPercent reports how far, from 0 to 100, sub has advanced through
// its current cycle or trial.
func ProgressPercent(sub models.Subscription, now time.Time) int {
	days := DaysRemaining(CountdownTarget(sub), now)
	if days < 0 {
		return 100
	}
	total := CycleDays(sub.BillingCycle)
	if end := sub.State.TrialEnd(); end != nil && sub.StartDate != nil {
		total = int(math.Ceil(end.Sub(*sub.StartDate).Hours() / 24))
	}
	if total <= 0 {
		return 100
	}
	elapsed := float64(total - days)
	pct := int(math.Round(elapsed / float64(total) * 100))
	return max(0, min(100, pct))
}

// ProgressColor buckets the days remaining into red, yellow or green.
func ProgressColor(daysRemaining int) string {
	switch {
	case daysRemaining <= 3:
		return "red"
	case daysRemaining <= 7:
		return "yellow"
	default:
		return "green"
	}
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
