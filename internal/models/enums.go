package models

import "strings"

// BillingCycle is the period a subscription is charged for.
type BillingCycle string

const (
	CycleWeekly     BillingCycle = "weekly"
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleSemiAnnual BillingCycle = "semi-annual"
	CycleYearly     BillingCycle = "yearly"
)

// Valid reports whether c is one of the known cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleSemiAnnual, CycleYearly:
		return true
	}
	return false
}

// ParseBillingCycle maps free-form input such as "Annual" or "every 6 months"
// to a cycle. Anything unrecognised is monthly.
func ParseBillingCycle(s string) BillingCycle {
	v := strings.ToLower(strings.TrimSpace(s))
	if c := BillingCycle(v); c.Valid() {
		return c
	}
	switch {
	case strings.Contains(v, "week"):
		return CycleWeekly
	case strings.Contains(v, "quarter"):
		return CycleQuarterly
	case strings.Contains(v, "semi"), strings.Contains(v, "6"):
		return CycleSemiAnnual
	case strings.Contains(v, "year"), strings.Contains(v, "annual"):
		return CycleYearly
	}
	return CycleMonthly
}

// Category groups subscriptions for breakdowns and alerts.
type Category string

const (
	CategoryEntertainment Category = "entertainment"
	CategoryWork          Category = "work"
	CategoryEducation     Category = "education"
	CategorySocial        Category = "social"
	CategoryOther         Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryEntertainment,
	CategoryWork,
	CategoryEducation,
	CategorySocial,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory returns the first known category contained in s, or other.
func ParseCategory(s string) Category {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.Contains(v, string(c)) {
			return c
		}
	}
	return CategoryOther
}

// SubscriptionType tells whether the cost is carried alone or split.
type SubscriptionType string

const (
	TypeIndividual SubscriptionType = "individual"
	TypeFamily     SubscriptionType = "family"
	TypeShared     SubscriptionType = "shared"
)

// Valid reports whether t is a known subscription type.
func (t SubscriptionType) Valid() bool {
	switch t {
	case TypeIndividual, TypeFamily, TypeShared:
		return true
	}
	return false
}

// StatusKind is the lifecycle state of a subscription.
type StatusKind string

const (
	StatusActive StatusKind = "active"
	StatusTrial  StatusKind = "trial"
	StatusPaused StatusKind = "paused"
)
