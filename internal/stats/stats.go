// Package stats computes dashboard statistics from a subscription snapshot.
package stats

import (
	"math"
	"slices"
	"time"

	"subtracker/internal/billing"
	"subtracker/internal/models"
)

// UpcomingWindowDays is how far ahead renewals count as upcoming.
const UpcomingWindowDays = 7

// CategoryTotal aggregates the active subscriptions of one category.
type CategoryTotal struct {
	Count      int      `json:"count"`
	Total      float64  `json:"total"`
	Percentage int      `json:"percentage"`
	Names      []string `json:"subs"`
}

// Upcoming is an active subscription renewing within the upcoming window.
type Upcoming struct {
	Subscription  models.Subscription `json:"subscription"`
	RenewalDate   time.Time           `json:"renewalDate"`
	DaysRemaining int                 `json:"daysRemaining"`
}

// Result is the dashboard summary of a snapshot.
type Result struct {
	ActiveCount   int                               `json:"activeCount"`
	TrialCount    int                               `json:"trialCount"`
	PausedCount   int                               `json:"pausedCount"`
	TotalCount    int                               `json:"totalCount"`
	MonthlyTotal  float64                           `json:"monthlyTotal"`
	YearlyTotal   float64                           `json:"yearlyTotal"`
	MostExpensive *models.Subscription              `json:"mostExpensive"`
	Upcoming      []Upcoming                        `json:"upcoming"`
	Categories    map[models.Category]CategoryTotal `json:"categories"`
}

// Partition splits subs by lifecycle state, keeping snapshot order.
func Partition(subs []models.Subscription) (active, trials, paused []models.Subscription) {
	for _, sub := range subs {
		switch sub.State.Kind {
		case models.StatusActive:
			active = append(active, sub)
		case models.StatusTrial:
			trials = append(trials, sub)
		case models.StatusPaused:
			paused = append(paused, sub)
		}
	}
	return active, trials, paused
}

// Categorize groups subs by category. Totals are normalised monthly costs
// rounded once per category, and percentages are taken against the sum of
// the unrounded category totals.
func Categorize(subs []models.Subscription) map[models.Category]CategoryTotal {
	raw := make(map[models.Category]float64)
	out := make(map[models.Category]CategoryTotal)
	var sum float64
	for _, sub := range subs {
		cat := sub.Category
		if cat == "" {
			cat = models.CategoryOther
		}
		monthly := billing.MonthlyCost(sub)
		raw[cat] += monthly
		sum += monthly

		ct := out[cat]
		ct.Count++
		ct.Names = append(ct.Names, sub.Name)
		out[cat] = ct
	}

	for cat, ct := range out {
		ct.Total = billing.Round2(raw[cat])
		if sum > 0 {
			ct.Percentage = int(math.Round(raw[cat] / sum * 100))
		}
		out[cat] = ct
	}
	return out
}

// MonthlyTotal sums the normalised monthly cost of subs without rounding.
func MonthlyTotal(subs []models.Subscription) float64 {
	var total float64
	for _, sub := range subs {
		total += billing.MonthlyCost(sub)
	}
	return total
}

// Compute summarises subs as of now. Only active subscriptions contribute
// to totals, categories and upcoming renewals.
func Compute(subs []models.Subscription, now time.Time) Result {
	active, trials, paused := Partition(subs)

	monthly := MonthlyTotal(active)

	var mostExpensive *models.Subscription
	var highest float64
	for i := range active {
		if cost := billing.MonthlyCost(active[i]); cost > highest {
			highest = cost
			sub := active[i]
			mostExpensive = &sub
		}
	}

	return Result{
		ActiveCount:   len(active),
		TrialCount:    len(trials),
		PausedCount:   len(paused),
		TotalCount:    len(subs),
		MonthlyTotal:  billing.Round2(monthly),
		YearlyTotal:   billing.Round2(monthly * 12),
		MostExpensive: mostExpensive,
		Upcoming:      upcoming(active, now),
		Categories:    Categorize(active),
	}
}

func upcoming(active []models.Subscription, now time.Time) []Upcoming {
	out := []Upcoming{}
	for _, sub := range active {
		renewal := billing.EffectiveRenewal(sub, now)
		if renewal == nil {
			continue
		}
		days := billing.DaysRemaining(renewal, now)
		if days < 0 || days > UpcomingWindowDays {
			continue
		}
		out = append(out, Upcoming{
			Subscription:  sub,
			RenewalDate:   *renewal,
			DaysRemaining: days,
		})
	}
	slices.SortStableFunc(out, func(a, b Upcoming) int {
		return a.RenewalDate.Compare(b.RenewalDate)
	})
	return out
}
