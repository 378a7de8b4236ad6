// Package insights derives spending analysis from a subscription snapshot:
// lifetime costs, spending velocity, category trends, forecasts and
// recurring patterns.
package insights

import (
	"math"
	"slices"
	"time"

	"subtracker/internal/billing"
	"subtracker/internal/models"
	"subtracker/internal/stats"
)

const (
	// VelocityThreshold is the percentage change beyond which spending is
	// classified as increasing or decreasing.
	VelocityThreshold = 5.0
	// RecentMonths is the look-back used to find recently added subscriptions.
	RecentMonths = 3
	// PatternThreshold is the minimum bucket size reported as a pattern.
	PatternThreshold = 3

	daysPerMonth = 30
	day          = 24 * time.Hour
)

// Direction classifies spending velocity.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// PatternType names a detected pattern.
type PatternType string

const (
	// Seasonal means many subscriptions started in the same month of the year.
	Seasonal PatternType = "seasonal"
	// Clustering means many renewals fall on the same day of the month.
	Clustering PatternType = "clustering"
)

type LifetimeCost struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Icon   string  `json:"icon"`
	Cost   float64 `json:"cost"`
	Months int     `json:"months"`
}

type Velocity struct {
	Percentage      int       `json:"percentage"`
	Direction       Direction `json:"direction"`
	RecentAdditions int       `json:"recentAdditions"`
}

type Forecast struct {
	Monthly   float64 `json:"monthly"`
	Quarterly float64 `json:"quarterly"`
	Yearly    float64 `json:"yearly"`
	TwoYear   float64 `json:"twoYear"`
}

// Pattern is a single detected pattern. Month is set for seasonal patterns
// and Day for clustering patterns.
type Pattern struct {
	Type  PatternType `json:"type"`
	Month time.Month  `json:"month,omitempty"`
	Day   int         `json:"day,omitempty"`
	Count int         `json:"count"`
}

// Result is the full analysis of a snapshot.
type Result struct {
	LifetimeCosts      []LifetimeCost                          `json:"lifetimeCosts"`
	TotalLifetime      float64                                 `json:"totalLifetime"`
	SpendingVelocity   Velocity                                `json:"spendingVelocity"`
	CategoryTrends     map[models.Category]stats.CategoryTotal `json:"categoryTrends"`
	CostForecast       Forecast                                `json:"costForecast"`
	Patterns           []Pattern                               `json:"patterns"`
	CostPerDay         float64                                 `json:"costPerDay"`
	AvgSubscriptionAge int                                     `json:"avgSubscriptionAge"`
}

// Analyze runs every analysis over subs as of now. Lifetime costs and
// patterns cover the whole snapshot; everything else covers active
// subscriptions only.
func Analyze(subs []models.Subscription, now time.Time) Result {
	active, _, _ := stats.Partition(subs)
	monthly := stats.MonthlyTotal(active)

	costs, total := lifetimeCosts(subs, now)

	return Result{
		LifetimeCosts:      costs,
		TotalLifetime:      total,
		SpendingVelocity:   velocity(active, monthly, now),
		CategoryTrends:     stats.Categorize(active),
		CostForecast:       forecast(monthly),
		Patterns:           patterns(subs, now),
		CostPerDay:         billing.Round2(monthly / daysPerMonth),
		AvgSubscriptionAge: averageAge(active, now),
	}
}

// lifetimeCosts returns per-subscription lifetime costs, highest first, and
// their total.
func lifetimeCosts(subs []models.Subscription, now time.Time) ([]LifetimeCost, float64) {
	out := make([]LifetimeCost, 0, len(subs))
	var total float64
	for _, sub := range subs {
		lc := LifetimeCost{ID: sub.ID, Name: sub.Name, Icon: sub.Icon}
		if sub.StartDate != nil {
			elapsed := now.Sub(*sub.StartDate)
			lc.Months = max(1, int(math.Round(float64(elapsed)/float64(daysPerMonth*day))))
			cost := billing.MonthlyCost(sub) * float64(lc.Months)
			total += cost
			lc.Cost = billing.Round2(cost)
		}
		out = append(out, lc)
	}
	slices.SortStableFunc(out, func(a, b LifetimeCost) int {
		switch {
		case a.Cost > b.Cost:
			return -1
		case a.Cost < b.Cost:
			return 1
		}
		return 0
	})
	return out, billing.Round2(total)
}

// RecentSince is the earliest start date counted as a recent addition: the
// first day of the month RecentMonths before now.
func RecentSince(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()-RecentMonths, 1, 0, 0, 0, 0, now.Location())
}

func velocity(active []models.Subscription, monthly float64, now time.Time) Velocity {
	since := RecentSince(now)
	var recent float64
	count := 0
	for _, sub := range active {
		if sub.StartDate == nil || sub.StartDate.Before(since) {
			continue
		}
		recent += billing.MonthlyCost(sub)
		count++
	}

	var pct float64
	if older := monthly - recent; older > 0 {
		pct = recent / older * 100
	}

	dir := Stable
	switch {
	case pct > VelocityThreshold:
		dir = Increasing
	case pct < -VelocityThreshold:
		dir = Decreasing
	}
	return Velocity{
		Percentage:      int(math.Round(pct)),
		Direction:       dir,
		RecentAdditions: count,
	}
}

func forecast(monthly float64) Forecast {
	return Forecast{
		Monthly:   billing.Round2(monthly),
		Quarterly: billing.Round2(monthly * 3),
		Yearly:    billing.Round2(monthly * 12),
		TwoYear:   billing.Round2(monthly * 24),
	}
}

func patterns(subs []models.Subscription, now time.Time) []Pattern {
	out := []Pattern{}

	months := make(map[int]int)
	days := make(map[int]int)
	for _, sub := range subs {
		if sub.StartDate != nil {
			months[int(sub.StartDate.In(now.Location()).Month())]++
		}
		if sub.NextRenewalDate != nil {
			days[sub.NextRenewalDate.In(now.Location()).Day()]++
		}
	}

	if month, count := mode(months); count >= PatternThreshold {
		out = append(out, Pattern{Type: Seasonal, Month: time.Month(month), Count: count})
	}
	if d, count := mode(days); count >= PatternThreshold {
		out = append(out, Pattern{Type: Clustering, Day: d, Count: count})
	}
	return out
}

// mode returns the most frequent key, preferring the lowest key on ties.
func mode(counts map[int]int) (key, count int) {
	for k, c := range counts {
		if c > count || (c == count && k < key) {
			key, count = k, c
		}
	}
	return key, count
}

func averageAge(active []models.Subscription, now time.Time) int {
	var totalDays float64
	n := 0
	for _, sub := range active {
		if sub.StartDate == nil {
			continue
		}
		totalDays += float64(now.Sub(*sub.StartDate)) / float64(day)
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(totalDays / float64(n)))
}
