// Package gamification scores how well a user keeps their subscriptions in
// order and tracks the XP, level and login streak earned for doing so.
package gamification

import (
	"context"
	"fmt"
	"math"
	"time"

	"subtracker/internal/models"
)

// Action is something a user can be awarded XP for.
type Action string

const (
	ActionAddSub     Action = "add_sub"
	ActionDailyLogin Action = "daily_login"
	ActionExport     Action = "export"
	ActionReviewAll  Action = "review_all"
	ActionCancelSub  Action = "cancel_sub"
	ActionSetBudget  Action = "set_budget"
)

var actionXP = map[Action]int{
	ActionAddSub:     20,
	ActionDailyLogin: 10,
	ActionExport:     15,
	ActionReviewAll:  25,
	ActionCancelSub:  30,
	ActionSetBudget:  25,
}

// XPFor returns the XP awarded for action and whether the action is known.
func XPFor(action Action) (int, bool) {
	xp, ok := actionXP[action]
	return xp, ok
}

// Level is one rung of the level ladder.
type Level struct {
	Level      int    `json:"level"`
	Name       string `json:"name"`
	Icon       string `json:"icon"`
	XPRequired int    `json:"xpRequired"`
}

// Levels is the level ladder in ascending order.
var Levels = []Level{
	{Level: 1, Name: "beginner", Icon: "🌱", XPRequired: 0},
	{Level: 2, Name: "tracker", Icon: "📋", XPRequired: 100},
	{Level: 3, Name: "manager", Icon: "⭐", XPRequired: 300},
	{Level: 4, Name: "expert", Icon: "💎", XPRequired: 700},
	{Level: 5, Name: "master", Icon: "👑", XPRequired: 1500},
}

// LevelInfo is a level together with the progress towards the next one.
type LevelInfo struct {
	Level
	XP          int `json:"xp"`
	NextLevelXP int `json:"nextLevelXp"`
	Progress    int `json:"progress"`
}

// LevelFor returns the level reached with xp.
func LevelFor(xp int) LevelInfo {
	current := Levels[0]
	for i := len(Levels) - 1; i >= 0; i-- {
		if xp >= Levels[i].XPRequired {
			current = Levels[i]
			break
		}
	}
	next := Levels[min(current.Level, len(Levels)-1)]

	progress := 100.0
	if next.XPRequired > current.XPRequired {
		progress = float64(xp-current.XPRequired) / float64(next.XPRequired-current.XPRequired) * 100
	}
	return LevelInfo{
		Level:       current,
		XP:          xp,
		NextLevelXP: next.XPRequired,
		Progress:    min(100, int(math.Round(progress))),
	}
}

// Achievement is a badge earned from the shape of the snapshot.
type Achievement struct {
	ID   string `json:"id"`
	Icon string `json:"icon"`
}

type achievementRule struct {
	Achievement
	earned func([]models.Subscription) bool
}

var achievements = []achievementRule{
	{Achievement{"first_sub", "🏆"}, func(s []models.Subscription) bool { return len(s) >= 1 }},
	{Achievement{"five_subs", "⭐"}, func(s []models.Subscription) bool { return len(s) >= 5 }},
	{Achievement{"ten_subs", "🌟"}, func(s []models.Subscription) bool { return len(s) >= 10 }},
	{Achievement{"organizer", "📁"}, func(s []models.Subscription) bool {
		if len(s) == 0 {
			return false
		}
		for _, sub := range s {
			if sub.Category == "" || sub.Category == models.CategoryOther {
				return false
			}
		}
		return true
	}},
	{Achievement{"saver", "💰"}, func(s []models.Subscription) bool {
		return count(s, models.Subscription.IsPaused) >= 1
	}},
	{Achievement{"guardian", "🔒"}, func(s []models.Subscription) bool {
		return count(s, hasCredentials) >= 3
	}},
	{Achievement{"multi_currency", "🌍"}, func(s []models.Subscription) bool {
		seen := make(map[string]bool)
		for _, sub := range s {
			seen[sub.Currency] = true
		}
		return len(seen) >= 2
	}},
	{Achievement{"family_plan", "👨‍👩‍👧‍👦"}, func(s []models.Subscription) bool {
		return count(s, func(sub models.Subscription) bool {
			return sub.SubscriptionType == models.TypeFamily || sub.SubscriptionType == models.TypeShared
		}) > 0
	}},
}

// Achievements returns the badges earned by subs, in ladder order.
func Achievements(subs []models.Subscription) []Achievement {
	out := []Achievement{}
	for _, rule := range achievements {
		if rule.earned(subs) {
			out = append(out, rule.Achievement)
		}
	}
	return out
}

// Score rates a snapshot from 0 to 100 in four equally weighted areas.
type Score struct {
	Total          int `json:"total"`
	Organization   int `json:"organization"`
	CostEfficiency int `json:"costEfficiency"`
	Security       int `json:"security"`
	Awareness      int `json:"awareness"`
}

// ScoreOf computes the subscription score of subs.
func ScoreOf(subs []models.Subscription) Score {
	if len(subs) == 0 {
		return Score{}
	}
	var active []models.Subscription
	for _, sub := range subs {
		if sub.IsActive() {
			active = append(active, sub)
		}
	}

	categorized := count(subs, func(s models.Subscription) bool {
		return s.Category != "" && s.Category != models.CategoryOther
	})
	organization := percentOf(categorized, len(subs))

	efficient := count(active, func(s models.Subscription) bool {
		return s.BillingCycle == models.CycleYearly || s.BillingCycle == models.CycleQuarterly
	}) + count(active, func(s models.Subscription) bool {
		return s.SubscriptionType != models.TypeIndividual
	})
	costEfficiency := percentOf(efficient, len(active))

	security := 50.0
	if withCreds := count(subs, hasCredentials); withCreds > 0 {
		encrypted := count(subs, func(s models.Subscription) bool { return s.CredentialsEncrypted })
		security = float64(encrypted) / float64(withCreds) * 100
	}

	detailed := count(subs, func(s models.Subscription) bool { return s.Notes != "" || s.URL != "" })
	awareness := percentOf(detailed, len(subs))

	return Score{
		Total:          int(math.Round(organization*0.25 + costEfficiency*0.25 + security*0.25 + awareness*0.25)),
		Organization:   int(math.Round(organization)),
		CostEfficiency: int(math.Round(costEfficiency)),
		Security:       int(math.Round(security)),
		Awareness:      int(math.Round(awareness)),
	}
}

func percentOf(n, total int) float64 {
	return min(100, float64(n)/float64(max(1, total))*100)
}

func count(subs []models.Subscription, keep func(models.Subscription) bool) int {
	n := 0
	for _, sub := range subs {
		if keep(sub) {
			n++
		}
	}
	return n
}

func hasCredentials(s models.Subscription) bool {
	return s.Credentials != nil && s.Credentials.Username != ""
}

// ProfileStore persists profiles. UpdateProfile must apply mutate to the
// stored profile and save the result atomically.
type ProfileStore interface {
	LoadProfile(ctx context.Context, userID string) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, mutate func(models.Profile) (models.Profile, error)) (models.Profile, error)
}

// Tracker awards XP and keeps login streaks.
type Tracker struct {
	profiles ProfileStore
	now      func() time.Time
}

// NewTracker creates a Tracker. A nil now uses time.Now.
func NewTracker(profiles ProfileStore, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{profiles: profiles, now: now}
}

// Profile returns the stored profile of userID.
func (t *Tracker) Profile(ctx context.Context, userID string) (models.Profile, error) {
	return t.profiles.LoadProfile(ctx, userID)
}

// AddXP awards the XP of action to userID.
func (t *Tracker) AddXP(ctx context.Context, userID string, action Action) (models.Profile, error) {
	xp, ok := XPFor(action)
	if !ok {
		return models.Profile{}, fmt.Errorf("unknown action %q", action)
	}
	p, err := t.profiles.UpdateProfile(ctx, userID, func(p models.Profile) (models.Profile, error) {
		p.XP += xp
		p.Level = LevelFor(p.XP).Level.Level
		return p, nil
	})
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// CheckDailyLogin records a login for today. The first login of a day earns
// the daily login XP and extends the streak when the previous login was
// yesterday; otherwise the streak restarts at 1.
func (t *Tracker) CheckDailyLogin(ctx context.Context, userID string) (models.Profile, error) {
	now := t.now()
	today := now.Format(time.DateOnly)
	yesterday := now.AddDate(0, 0, -1).Format(time.DateOnly)

	p, err := t.profiles.UpdateProfile(ctx, userID, func(p models.Profile) (models.Profile, error) {
		if p.LastLogin == today {
			return p, nil
		}
		if p.LastLogin == yesterday {
			p.Streak++
		} else {
			p.Streak = 1
		}
		p.LastLogin = today
		p.XP += actionXP[ActionDailyLogin]
		p.Level = LevelFor(p.XP).Level.Level
		return p, nil
	})
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}
