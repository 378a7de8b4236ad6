package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subtracker/internal/auth"
	"subtracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// DBTestSuite provides a test suite for database operations
type DBTestSuite struct {
	suite.Suite
	db  *DB
	ctx context.Context
}

// SetupTest runs before each test
func (suite *DBTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()
}

// TearDownTest runs after each test
func (suite *DBTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *DBTestSuite) addRecord(userID, name string) string {
	id, err := suite.db.Subscriptions().Add(suite.ctx, userID, models.Record{
		Name:         name,
		Amount:       10,
		BillingCycle: models.CycleMonthly,
		Category:     models.CategoryOther,
		Status:       models.StatusActive,
	})
	require.NoError(suite.T(), err, "failed to add %s", name)
	return id
}

func (suite *DBTestSuite) TestAddAssignsIDAndTimestamps() {
	id := suite.addRecord("u1", "Netflix")
	assert.NotEmpty(suite.T(), id)

	records, err := suite.db.Subscriptions().List(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), records, 1)
	assert.Equal(suite.T(), id, records[0].ID)
	assert.Equal(suite.T(), "Netflix", records[0].Name)
	assert.False(suite.T(), records[0].CreatedAt.IsZero())
}

func (suite *DBTestSuite) TestListNewestFirstAndScopedToUser() {
	names := []string{"First", "Second", "Third"}
	for _, name := range names {
		suite.addRecord("u1", name)
		time.Sleep(time.Millisecond)
	}
	suite.addRecord("u2", "Other user")

	records, err := suite.db.Subscriptions().List(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), records, 3, "expected only u1 documents")
	assert.Equal(suite.T(), "Third", records[0].Name)
	assert.Equal(suite.T(), "First", records[2].Name)

	empty, err := suite.db.Subscriptions().List(suite.ctx, "nobody")
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), empty)
	assert.Empty(suite.T(), empty)
}

func (suite *DBTestSuite) TestUpdateKeepsCreatedAt() {
	id := suite.addRecord("u1", "Spotify")
	before, err := suite.db.Subscriptions().List(suite.ctx, "u1")
	require.NoError(suite.T(), err)

	err = suite.db.Subscriptions().Update(suite.ctx, "u1", id, func(rec models.Record) (models.Record, error) {
		rec.Name = "Spotify Family"
		rec.CreatedAt = time.Time{}
		return rec, nil
	})
	require.NoError(suite.T(), err)

	after, err := suite.db.Subscriptions().List(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Spotify Family", after[0].Name)
	assert.True(suite.T(), before[0].CreatedAt.Equal(after[0].CreatedAt))
}

func (suite *DBTestSuite) TestUpdateMergesIntoStoredDocument() {
	id := suite.addRecord("u1", "Netflix")
	subs := suite.db.Subscriptions()

	require.NoError(suite.T(), subs.Update(suite.ctx, "u1", id, func(rec models.Record) (models.Record, error) {
		rec.Name = "Netflix Premium"
		return rec, nil
	}))
	require.NoError(suite.T(), subs.Update(suite.ctx, "u1", id, func(rec models.Record) (models.Record, error) {
		assert.Equal(suite.T(), "Netflix Premium", rec.Name, "mutate sees the latest stored version")
		rec.Notes = "family"
		return rec, nil
	}))

	records, err := subs.List(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), records, 1)
	assert.Equal(suite.T(), "Netflix Premium", records[0].Name)
	assert.Equal(suite.T(), "family", records[0].Notes)
}

func (suite *DBTestSuite) TestUpdatedAtAdvancesOnFrozenClock() {
	frozen := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	suite.db.now = func() time.Time { return frozen }
	id := suite.addRecord("u1", "Notion")
	subs := suite.db.Subscriptions()
	touch := func(rec models.Record) (models.Record, error) { return rec, nil }

	var stamps []time.Time
	for n := 0; n < 3; n++ {
		require.NoError(suite.T(), subs.Update(suite.ctx, "u1", id, touch))
		records, err := subs.List(suite.ctx, "u1")
		require.NoError(suite.T(), err)
		stamps = append(stamps, records[0].UpdatedAt)
	}

	assert.True(suite.T(), stamps[0].After(frozen))
	assert.True(suite.T(), stamps[1].After(stamps[0]))
	assert.True(suite.T(), stamps[2].After(stamps[1]))
}

func (suite *DBTestSuite) TestUpdateMutateErrorAbortsWrite() {
	id := suite.addRecord("u1", "Figma")
	boom := errors.New("rejected")

	err := suite.db.Subscriptions().Update(suite.ctx, "u1", id, func(rec models.Record) (models.Record, error) {
		rec.Name = "changed"
		return rec, boom
	})
	assert.ErrorIs(suite.T(), err, boom)

	records, err := suite.db.Subscriptions().List(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Figma", records[0].Name)
}

func (suite *DBTestSuite) TestUpdateAndDeleteMissing() {
	id := suite.addRecord("u1", "Figma")
	keep := func(rec models.Record) (models.Record, error) { return rec, nil }

	err := suite.db.Subscriptions().Update(suite.ctx, "u1", "missing", keep)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	err = suite.db.Subscriptions().Update(suite.ctx, "u2", id, keep)
	assert.ErrorIs(suite.T(), err, ErrNotFound, "documents are scoped to their owner")

	require.NoError(suite.T(), suite.db.Subscriptions().Delete(suite.ctx, "u1", id))
	assert.ErrorIs(suite.T(), suite.db.Subscriptions().Delete(suite.ctx, "u1", id), ErrNotFound)
}

func (suite *DBTestSuite) TestWatchDeliversSnapshots() {
	var mu sync.Mutex
	var latest []models.Record
	deliveries := 0

	cancel := suite.db.Subscriptions().Watch("u1", func(records []models.Record) {
		mu.Lock()
		defer mu.Unlock()
		latest = records
		deliveries++
	}, nil)
	defer cancel()

	require.Eventually(suite.T(), func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries >= 1
	}, time.Second, 5*time.Millisecond, "expected initial snapshot")

	suite.addRecord("u1", "Notion")
	suite.addRecord("u2", "Not mine")

	require.Eventually(suite.T(), func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].Name == "Notion"
	}, time.Second, 5*time.Millisecond)
}

func (suite *DBTestSuite) TestWatchCancelStopsDelivery() {
	var mu sync.Mutex
	deliveries := 0
	cancel := suite.db.Subscriptions().Watch("u1", func([]models.Record) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}, nil)

	require.Eventually(suite.T(), func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	suite.addRecord("u1", "After cancel")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(suite.T(), 1, deliveries)
}

func (suite *DBTestSuite) TestUserIDs() {
	suite.addRecord("b", "x")
	suite.addRecord("a", "y")
	suite.addRecord("a", "z")

	ids, err := suite.db.Subscriptions().UserIDs(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"a", "b"}, ids)
}

func (suite *DBTestSuite) TestDismissedAlerts() {
	require.NoError(suite.T(), suite.db.DismissAlert(suite.ctx, "u1", "dup-work"))
	require.NoError(suite.T(), suite.db.DismissAlert(suite.ctx, "u1", "dup-work"))
	require.NoError(suite.T(), suite.db.DismissAlert(suite.ctx, "u2", "high-spending"))

	dismissed, err := suite.db.DismissedAlerts(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), map[string]bool{"dup-work": true}, dismissed)
}

func (suite *DBTestSuite) TestReminderLog() {
	sent, err := suite.db.ReminderSent(suite.ctx, "u1", "abc-2025-06-01")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), sent)

	require.NoError(suite.T(), suite.db.MarkReminderSent(suite.ctx, "u1", "abc-2025-06-01", time.Now()))

	sent, err = suite.db.ReminderSent(suite.ctx, "u1", "abc-2025-06-01")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), sent)
}

func (suite *DBTestSuite) TestProfiles() {
	p, err := suite.db.LoadProfile(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.Profile{Level: 1}, p)

	want := models.Profile{XP: 130, Level: 2, Streak: 4, LastLogin: "2025-06-01"}
	got, err := suite.db.UpdateProfile(suite.ctx, "u1", func(p models.Profile) (models.Profile, error) {
		assert.Equal(suite.T(), models.Profile{Level: 1}, p)
		return want, nil
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), want, got)

	want.XP = 140
	_, err = suite.db.UpdateProfile(suite.ctx, "u1", func(p models.Profile) (models.Profile, error) {
		p.XP += 10
		return p, nil
	})
	require.NoError(suite.T(), err)

	_, err = suite.db.UpdateProfile(suite.ctx, "u1", func(p models.Profile) (models.Profile, error) {
		p.XP = 0
		return p, errors.New("rejected")
	})
	require.Error(suite.T(), err)

	got, err = suite.db.LoadProfile(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), want, got)
}

func (suite *DBTestSuite) TestConcurrentProfileUpdates() {
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.db.UpdateProfile(suite.ctx, "u1", func(p models.Profile) (models.Profile, error) {
				p.XP += 5
				return p, nil
			})
			assert.NoError(suite.T(), err)
		}()
	}
	wg.Wait()

	p, err := suite.db.LoadProfile(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 100, p.XP)
}

func (suite *DBTestSuite) TestVaultMaster() {
	_, _, ok, err := suite.db.VaultMaster(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)

	require.NoError(suite.T(), suite.db.SetVaultMaster(suite.ctx, "u1", "h1", "s1"))
	require.NoError(suite.T(), suite.db.SetVaultMaster(suite.ctx, "u1", "h2", "s2"))

	hash, salt, ok, err := suite.db.VaultMaster(suite.ctx, "u1")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), "h2", hash)
	assert.Equal(suite.T(), "s2", salt)
}

func (suite *DBTestSuite) TestCreateUser() {
	hash, err := auth.HashPassword("password123")
	require.NoError(suite.T(), err)

	user, err := suite.db.CreateUser("testuser", hash)
	require.NoError(suite.T(), err)
	assert.NotZero(suite.T(), user.ID)
	assert.Equal(suite.T(), "testuser", user.Username)
	assert.Equal(suite.T(), hash, user.PasswordHash)
}

func (suite *DBTestSuite) TestCreateDuplicateUser() {
	hash, err := auth.HashPassword("password123")
	require.NoError(suite.T(), err)

	_, err = suite.db.CreateUser("testuser", hash)
	require.NoError(suite.T(), err)

	_, err = suite.db.CreateUser("testuser", hash)
	assert.Error(suite.T(), err, "expected error for duplicate username")
}

func (suite *DBTestSuite) TestGetUserByUsername() {
	hash, err := auth.HashPassword("password123")
	require.NoError(suite.T(), err)

	created, err := suite.db.CreateUser("findme", hash)
	require.NoError(suite.T(), err)

	user, err := suite.db.GetUserByUsername("findme")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), created.ID, user.ID)

	_, err = suite.db.GetUserByUsername("nonexistent")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestListUsersAndCount() {
	for _, name := range []string{"alice", "bob"} {
		_, err := suite.db.CreateUser(name, "hash")
		require.NoError(suite.T(), err)
	}

	users, err := suite.db.ListUsers()
	require.NoError(suite.T(), err)
	require.Len(suite.T(), users, 2)
	assert.Equal(suite.T(), "alice", users[0].Username)

	count, err := suite.db.UserCount()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, count)
}

// TestDBTestSuite runs the test suite
func TestDBTestSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}
