package stats

import (
	"fmt"
	"testing"
	"time"

	"subtracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

func day(offset int) *time.Time {
	t := time.Date(2025, 6, 1+offset, 0, 0, 0, 0, time.UTC)
	return &t
}

func sub(id string, amount float64, cycle models.BillingCycle, cat models.Category) models.Subscription {
	return models.Subscription{
		ID:               id,
		Name:             id,
		Amount:           amount,
		BillingCycle:     cycle,
		Category:         cat,
		State:            models.ActiveState(),
		SubscriptionType: models.TypeIndividual,
	}
}

func TestComputeEmpty(t *testing.T) {
	res := Compute(nil, now)

	assert.Zero(t, res.ActiveCount)
	assert.Zero(t, res.TrialCount)
	assert.Zero(t, res.PausedCount)
	assert.Zero(t, res.TotalCount)
	assert.Zero(t, res.MonthlyTotal)
	assert.Zero(t, res.YearlyTotal)
	assert.Nil(t, res.MostExpensive)
	assert.NotNil(t, res.Upcoming)
	assert.Empty(t, res.Upcoming)
	assert.Empty(t, res.Categories)
}

func TestComputeTotals(t *testing.T) {
	share := 15.0
	family := sub("family", 60, models.CycleMonthly, models.CategoryEntertainment)
	family.SubscriptionType = models.TypeFamily
	family.YourShare = &share

	subs := []models.Subscription{
		sub("adobe", 120, models.CycleYearly, models.CategoryWork),
		sub("gym", 10, models.CycleWeekly, models.CategoryOther),
		family,
	}

	res := Compute(subs, now)
	assert.Equal(t, 3, res.ActiveCount)
	assert.Equal(t, 3, res.TotalCount)
	// 10 + 43.3 + 15
	assert.Equal(t, 68.3, res.MonthlyTotal)
	assert.Equal(t, 819.6, res.YearlyTotal)
	require.NotNil(t, res.MostExpensive)
	assert.Equal(t, "gym", res.MostExpensive.ID)
}

func TestComputeExcludesPausedAndTrials(t *testing.T) {
	paused := sub("paused", 500, models.CycleMonthly, models.CategoryWork)
	paused.State = models.ActiveState().Pause()
	paused.NextRenewalDate = day(1)

	trial := sub("trial", 300, models.CycleMonthly, models.CategoryWork)
	trial.State = models.TrialState(day(2))
	trial.NextRenewalDate = day(2)

	active := sub("active", 20, models.CycleMonthly, models.CategorySocial)

	res := Compute([]models.Subscription{paused, trial, active}, now)
	assert.Equal(t, 1, res.ActiveCount)
	assert.Equal(t, 1, res.TrialCount)
	assert.Equal(t, 1, res.PausedCount)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 20.0, res.MonthlyTotal)
	assert.Empty(t, res.Upcoming)
	assert.NotContains(t, res.Categories, models.CategoryWork)
	assert.Equal(t, "active", res.MostExpensive.ID)
}

func TestMostExpensiveTieKeepsFirst(t *testing.T) {
	subs := []models.Subscription{
		sub("first", 12, models.CycleMonthly, models.CategoryOther),
		sub("second", 144, models.CycleYearly, models.CategoryOther),
	}
	res := Compute(subs, now)
	require.NotNil(t, res.MostExpensive)
	assert.Equal(t, "first", res.MostExpensive.ID)
}

func TestMostExpensiveIgnoresFreeSubscriptions(t *testing.T) {
	res := Compute([]models.Subscription{sub("free", 0, models.CycleMonthly, models.CategoryOther)}, now)
	assert.Nil(t, res.MostExpensive)
}

func TestUpcomingWindow(t *testing.T) {
	var subs []models.Subscription
	for _, offset := range []int{7, 0, 8, 3, -1} {
		s := sub(fmt.Sprintf("in-%d-days", offset), 5, models.CycleMonthly, models.CategoryOther)
		s.NextRenewalDate = day(offset)
		subs = append(subs, s)
	}
	noDate := sub("nodate", 5, models.CycleMonthly, models.CategoryOther)
	subs = append(subs, noDate)

	res := Compute(subs, now)
	require.Len(t, res.Upcoming, 3)
	assert.Equal(t, 0, res.Upcoming[0].DaysRemaining)
	assert.Equal(t, 3, res.Upcoming[1].DaysRemaining)
	assert.Equal(t, 7, res.Upcoming[2].DaysRemaining)
	assert.Equal(t, *day(7), res.Upcoming[2].RenewalDate)
}

func TestUpcomingRollsStaleRenewalForward(t *testing.T) {
	s := sub("stale", 5, models.CycleMonthly, models.CategoryOther)
	s.StartDate = day(-28)
	s.NextRenewalDate = day(-28)

	res := Compute([]models.Subscription{s}, now)
	require.Len(t, res.Upcoming, 1)
	assert.Equal(t, *day(3), res.Upcoming[0].RenewalDate)
}

func TestCategorize(t *testing.T) {
	subs := []models.Subscription{
		sub("netflix", 30, models.CycleMonthly, models.CategoryEntertainment),
		sub("spotify", 10, models.CycleMonthly, models.CategoryEntertainment),
		sub("course", 120, models.CycleYearly, models.CategoryEducation),
		sub("misc", 0, models.CycleMonthly, ""),
	}

	cats := Categorize(subs)
	require.Len(t, cats, 3)

	ent := cats[models.CategoryEntertainment]
	assert.Equal(t, 2, ent.Count)
	assert.Equal(t, 40.0, ent.Total)
	assert.Equal(t, 80, ent.Percentage)
	assert.Equal(t, []string{"netflix", "spotify"}, ent.Names)

	assert.Equal(t, 20, cats[models.CategoryEducation].Percentage)
	assert.Equal(t, 1, cats[models.CategoryOther].Count)
	assert.Equal(t, 0, cats[models.CategoryOther].Percentage)
}

func TestCategoryTotalsMatchMonthlyTotal(t *testing.T) {
	subs := []models.Subscription{
		sub("a", 9.99, models.CycleMonthly, models.CategoryWork),
		sub("b", 100, models.CycleYearly, models.CategoryWork),
		sub("c", 3.5, models.CycleWeekly, models.CategorySocial),
	}
	res := Compute(subs, now)

	var sum float64
	for _, ct := range res.Categories {
		sum += ct.Total
	}
	assert.InDelta(t, res.MonthlyTotal, sum, 0.011)
}

func TestComputeIsIdempotent(t *testing.T) {
	s := sub("x", 100, models.CycleYearly, models.CategoryWork)
	s.NextRenewalDate = day(2)
	subs := []models.Subscription{s, sub("y", 20, models.CycleMonthly, models.CategorySocial)}

	assert.Equal(t, Compute(subs, now), Compute(subs, now))
}
