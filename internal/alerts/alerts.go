// Package alerts scans a subscription snapshot for conditions worth the
// owner's attention. The engine holds no state: dismissals are supplied by
// the caller on every scan.
package alerts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"subtracker/internal/billing"
	"subtracker/internal/models"
	"subtracker/internal/stats"
)

// Type identifies the detector that produced an alert.
type Type string

const (
	TypeDuplicate Type = "duplicate"
	TypeSavings   Type = "savings"
	TypeUnused    Type = "unused"
	TypeTrial     Type = "trial"
	TypeSpending  Type = "spending"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Alert IDs are stable across scans so dismissals keep applying.
const (
	SavingsID      = "savings-annual"
	HighSpendingID = "high-spending"
)

// Alert is a single finding.
type Alert struct {
	ID        string   `json:"id"`
	Type      Type     `json:"type"`
	Severity  Severity `json:"severity"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	SubjectID string   `json:"subId,omitempty"`
}

// Config holds the detector thresholds.
type Config struct {
	// DuplicateThreshold is the number of active subscriptions in one
	// category that triggers a duplicate alert.
	DuplicateThreshold int
	// SavingsRate is the share of the annualised cost assumed saved by
	// switching monthly plans to annual billing.
	SavingsRate float64
	// UnusedAfterMonths is the age after which a subscription without notes
	// or URL is reported as possibly unused.
	UnusedAfterMonths int
	UnusedLimit       int
	// TrialWindowDays is how many days before a trial ends it is reported.
	TrialWindowDays int
	// HighSpendThreshold is the monthly total above which spending is
	// reported. It is compared in the snapshot's own currency.
	HighSpendThreshold float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 3,
		SavingsRate:        0.15,
		UnusedAfterMonths:  6,
		UnusedLimit:        3,
		TrialWindowDays:    3,
		HighSpendThreshold: 500,
	}
}

// Engine runs the detectors.
type Engine struct {
	cfg Config
}

// New creates an Engine with cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Scan runs every detector over subs and drops alerts whose ID is in
// dismissed. Detector output order is duplicates, savings, unused, trials
// and high spending.
func (e *Engine) Scan(subs []models.Subscription, now time.Time, dismissed map[string]bool) []Alert {
	active, _, _ := stats.Partition(subs)

	var all []Alert
	all = append(all, e.duplicates(active)...)
	all = append(all, e.savings(active)...)
	all = append(all, e.unused(active, now)...)
	all = append(all, e.trials(subs, now)...)
	all = append(all, e.highSpending(active)...)

	out := make([]Alert, 0, len(all))
	for _, a := range all {
		if !dismissed[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// DuplicateID returns the alert ID for duplicates in category.
func DuplicateID(category models.Category) string { return "dup-" + string(category) }

// UnusedID returns the alert ID for an unused subscription.
func UnusedID(subID string) string { return "unused-" + subID }

// TrialID returns the alert ID for an expiring trial.
func TrialID(subID string) string { return "trial-" + subID }

func (e *Engine) duplicates(active []models.Subscription) []Alert {
	names := make(map[models.Category][]string)
	for _, sub := range active {
		cat := sub.Category
		if cat == "" {
			cat = models.CategoryOther
		}
		names[cat] = append(names[cat], sub.Name)
	}

	var out []Alert
	for _, cat := range models.Categories {
		if len(names[cat]) < e.cfg.DuplicateThreshold {
			continue
		}
		out = append(out, Alert{
			ID:       DuplicateID(cat),
			Type:     TypeDuplicate,
			Severity: SeverityWarning,
			Title:    "Possible duplicate subscriptions",
			Message: fmt.Sprintf("You have %d %s subscriptions: %s",
				len(names[cat]), cat, strings.Join(names[cat], ", ")),
		})
	}
	return out
}

func (e *Engine) savings(active []models.Subscription) []Alert {
	var total float64
	count := 0
	for _, sub := range active {
		if sub.BillingCycle != models.CycleMonthly {
			continue
		}
		total += sub.Share()
		count++
	}
	if count < 2 {
		return nil
	}

	saving := math.Round(total * 12 * e.cfg.SavingsRate)
	if saving <= 0 {
		return nil
	}
	return []Alert{{
		ID:       SavingsID,
		Type:     TypeSavings,
		Severity: SeverityInfo,
		Title:    "Savings opportunity",
		Message: fmt.Sprintf("Switching %d monthly subscriptions to annual billing could save about %.0f per year",
			count, saving),
	}}
}

func (e *Engine) unused(active []models.Subscription, now time.Time) []Alert {
	cutoff := now.AddDate(0, -e.cfg.UnusedAfterMonths, 0)

	var out []Alert
	for _, sub := range active {
		if len(out) == e.cfg.UnusedLimit {
			break
		}
		if sub.StartDate == nil || !sub.StartDate.Before(cutoff) {
			continue
		}
		if sub.Notes != "" || sub.URL != "" {
			continue
		}
		out = append(out, Alert{
			ID:        UnusedID(sub.ID),
			Type:      TypeUnused,
			Severity:  SeverityInfo,
			Title:     "Still using this?",
			Message:   fmt.Sprintf("%s has been running for over %d months. Check whether you still need it.", sub.Name, e.cfg.UnusedAfterMonths),
			SubjectID: sub.ID,
		})
	}
	return out
}

func (e *Engine) trials(subs []models.Subscription, now time.Time) []Alert {
	var out []Alert
	for _, sub := range subs {
		if !sub.IsTrial() {
			continue
		}
		days := billing.DaysRemaining(sub.State.TrialEnd(), now)
		if days < 0 || days > e.cfg.TrialWindowDays {
			continue
		}
		out = append(out, Alert{
			ID:        TrialID(sub.ID),
			Type:      TypeTrial,
			Severity:  SeverityWarning,
			Title:     "Trial ending soon",
			Message:   fmt.Sprintf("The %s trial ends in %d days", sub.Name, days),
			SubjectID: sub.ID,
		})
	}
	return out
}

func (e *Engine) highSpending(active []models.Subscription) []Alert {
	monthly := billing.Round2(stats.MonthlyTotal(active))
	if monthly <= e.cfg.HighSpendThreshold {
		return nil
	}
	return []Alert{{
		ID:       HighSpendingID,
		Type:     TypeSpending,
		Severity: SeverityInfo,
		Title:    "High monthly spending",
		Message:  fmt.Sprintf("Your subscriptions cost %.0f per month", monthly),
	}}
}
