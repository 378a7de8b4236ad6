package gamification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subtracker/internal/models"
	"subtracker/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		xp       int
		level    int
		name     string
		next     int
		progress int
	}{
		{0, 1, "beginner", 100, 0},
		{50, 1, "beginner", 100, 50},
		{100, 2, "tracker", 300, 0},
		{299, 2, "tracker", 300, 100},
		{1000, 4, "expert", 1500, 38},
		{1500, 5, "master", 1500, 100},
		{9999, 5, "master", 1500, 100},
	}

	for _, tt := range tests {
		info := LevelFor(tt.xp)
		assert.Equal(t, tt.level, info.Level.Level, "xp=%d", tt.xp)
		assert.Equal(t, tt.name, info.Name, "xp=%d", tt.xp)
		assert.Equal(t, tt.next, info.NextLevelXP, "xp=%d", tt.xp)
		assert.Equal(t, tt.progress, info.Progress, "xp=%d", tt.xp)
	}
}

func achievementIDs(subs []models.Subscription) []string {
	var ids []string
	for _, a := range Achievements(subs) {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestAchievements(t *testing.T) {
	assert.Empty(t, Achievements(nil))

	creds := &models.Credentials{Username: "me@example.com"}
	subs := []models.Subscription{
		{Name: "a", Category: models.CategoryWork, Currency: "SAR", Credentials: creds, State: models.ActiveState()},
		{Name: "b", Category: models.CategorySocial, Currency: "USD", Credentials: creds, State: models.ActiveState().Pause()},
		{Name: "c", Category: models.CategoryWork, Currency: "SAR", Credentials: creds, SubscriptionType: models.TypeFamily, State: models.ActiveState()},
	}
	assert.Equal(t, []string{"first_sub", "organizer", "saver", "guardian", "multi_currency", "family_plan"}, achievementIDs(subs))

	subs[0].Category = models.CategoryOther
	assert.NotContains(t, achievementIDs(subs), "organizer")
}

func TestScoreOf(t *testing.T) {
	assert.Equal(t, Score{}, ScoreOf(nil))

	subs := []models.Subscription{
		{Category: models.CategoryWork, BillingCycle: models.CycleYearly, SubscriptionType: models.TypeIndividual,
			State: models.ActiveState(), URL: "https://a", Credentials: &models.Credentials{Username: "u"}, CredentialsEncrypted: true},
		{Category: models.CategoryOther, BillingCycle: models.CycleMonthly, SubscriptionType: models.TypeIndividual,
			State: models.ActiveState(), Credentials: &models.Credentials{Username: "u"}},
	}

	score := ScoreOf(subs)
	assert.Equal(t, 50, score.Organization)
	assert.Equal(t, 50, score.CostEfficiency)
	assert.Equal(t, 50, score.Security)
	assert.Equal(t, 50, score.Awareness)
	assert.Equal(t, 50, score.Total)
}

func TestScoreSecurityDefaultsWithoutCredentials(t *testing.T) {
	subs := []models.Subscription{{Category: models.CategoryWork, State: models.ActiveState(), SubscriptionType: models.TypeFamily}}
	score := ScoreOf(subs)
	assert.Equal(t, 50, score.Security)
	assert.Equal(t, 100, score.CostEfficiency)
}

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	saveErr  error
}

func (m *memProfiles) LoadProfile(_ context.Context, userID string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return models.Profile{Level: 1}, nil
}

func (m *memProfiles) UpdateProfile(_ context.Context, userID string, mutate func(models.Profile) (models.Profile, error)) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = models.Profile{Level: 1}
	}
	p, err := mutate(p)
	if err != nil {
		return models.Profile{}, err
	}
	if m.saveErr != nil {
		return models.Profile{}, m.saveErr
	}
	m.profiles[userID] = p
	return p, nil
}

func TestAddXP(t *testing.T) {
	store := &memProfiles{profiles: map[string]models.Profile{"u1": {XP: 90, Level: 1}}}
	tracker := NewTracker(store, nil)
	ctx := context.Background()

	p, err := tracker.AddXP(ctx, "u1", ActionAddSub)
	require.NoError(t, err)
	assert.Equal(t, 110, p.XP)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, p, store.profiles["u1"])

	_, err = tracker.AddXP(ctx, "u1", Action("hack"))
	assert.Error(t, err)

	store.saveErr = errors.New("disk full")
	_, err = tracker.AddXP(ctx, "u1", ActionExport)
	assert.ErrorContains(t, err, "disk full")
}

func TestCheckDailyLogin(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := &memProfiles{profiles: map[string]models.Profile{
		"streaking": {XP: 95, Level: 1, Streak: 4, LastLogin: "2025-05-31"},
		"lapsed":    {XP: 10, Level: 1, Streak: 9, LastLogin: "2025-05-20"},
		"today":     {XP: 10, Level: 1, Streak: 2, LastLogin: "2025-06-01"},
	}}
	tracker := NewTracker(store, func() time.Time { return now })
	ctx := context.Background()

	p, err := tracker.CheckDailyLogin(ctx, "streaking")
	require.NoError(t, err)
	assert.Equal(t, models.Profile{XP: 105, Level: 2, Streak: 5, LastLogin: "2025-06-01"}, p)

	p, err = tracker.CheckDailyLogin(ctx, "lapsed")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Streak)
	assert.Equal(t, 20, p.XP)

	p, err = tracker.CheckDailyLogin(ctx, "today")
	require.NoError(t, err)
	assert.Equal(t, 10, p.XP, "second login on the same day earns nothing")

	p, err = tracker.CheckDailyLogin(ctx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, models.Profile{XP: 10, Level: 1, Streak: 1, LastLogin: "2025-06-01"}, p)
}

func TestTrackerOverSQLite(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	tracker := NewTracker(db, func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	_, err = tracker.CheckDailyLogin(ctx, "u1")
	require.NoError(t, err)
	_, err = tracker.AddXP(ctx, "u1", ActionReviewAll)
	require.NoError(t, err)

	p, err := tracker.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 35, p.XP)
	assert.Equal(t, 1, p.Streak)
}

func TestConcurrentAwardsAreNotLost(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	tracker := NewTracker(db, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.AddXP(ctx, "u1", ActionAddSub)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := tracker.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, p.XP)
	assert.Equal(t, LevelFor(200).Level.Level, p.Level)
}
