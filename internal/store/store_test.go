package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscout/pkg/logger"
	"eventscout/pkg/models"
)

// newTestStore connects to the database named by EVENTSCOUT_TEST_DATABASE_URL
// and skips the test when it is not set
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("EVENTSCOUT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EVENTSCOUT_TEST_DATABASE_URL not set")
	}

	s, err := New(context.Background(), url, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(context.Background()))

	_, err = s.pool.Exec(context.Background(), `TRUNCATE accounts, posts, settings CASCADE`)
	require.NoError(t, err)
	return s
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, "venue_a", "Venue A", models.ClassificationAuto)
	require.NoError(t, err)
	assert.True(t, account.Active)
	assert.Equal(t, models.ClassificationAuto, account.ClassificationMode)

	active := false
	updated, err := s.UpdateAccount(ctx, account.ID, nil, &active, nil)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	accounts, err := s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, s.DeleteAccount(ctx, account.ID))
	_, err = s.GetAccount(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertPostIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, "venue_a", "", "")
	require.NoError(t, err)

	post := &models.Post{
		AccountID:   account.ID,
		ExternalID:  "p1",
		Caption:     "live show",
		PublishedAt: time.Now().UTC(),
	}

	stored, created, err := s.InsertPostIfAbsent(ctx, post)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, stored.ID)

	// Same external id is swallowed by the uniqueness constraint
	again, created, err := s.InsertPostIfAbsent(ctx, post)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	exists, err := s.PostExists(ctx, account.ID, "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := s.RecentPostIDs(ctx, account.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestSettingsDefaultsAndSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.MonitoringEnabled)
	assert.Equal(t, 45, settings.MonitorIntervalMins)
	assert.Equal(t, "auto", settings.FetchMode)

	settings.FetchMode = "remote"
	settings.RemoteAPIToken = "tok"
	require.NoError(t, s.SaveSettings(ctx, settings))

	reloaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote", reloaded.FetchMode)
	assert.Equal(t, "tok", reloaded.RemoteAPIToken)
}
