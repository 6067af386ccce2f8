package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
	"eventscout/pkg/models"
)

type testEnv struct {
	svc    *Service
	db     *fakeDB
	direct *fakeAdapter
	remote *fakeJobClient
	images *fakeImages
	sleeps int
}

func newTestEnv() *testEnv {
	env := &testEnv{
		db:     newFakeDB(),
		direct: &fakeAdapter{},
		remote: &fakeJobClient{},
		images: &fakeImages{},
	}

	cfg := config.DefaultConfig()
	env.svc = NewService(cfg, env.db, env.direct, fakeClassifier{}, env.images, logger.NewNop())
	env.svc.sleep = func(ctx context.Context, d time.Duration) { env.sleeps++ }
	env.svc.jitter = func() float64 { return 1.0 }
	env.svc.remoteFactory = func(token, actorID string) (RemoteJobClient, error) {
		return env.remote, nil
	}

	return env
}

func somePosts(ids ...string) []models.CandidatePost {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]models.CandidatePost, len(ids))
	for i, id := range ids {
		out[i] = models.CandidatePost{
			ExternalID:  id,
			Caption:     "live show " + id,
			ImageURL:    "https://img/" + id + ".jpg",
			PublishedAt: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSweepLatestCreatesPosts(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return somePosts("p1", "p2", "p3"), nil
	}

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AccountsProcessed)
	assert.Equal(t, 3, stats.PostsCreated)
	assert.Equal(t, 0, stats.PostsClassified)
	assert.Equal(t, 3, env.db.postCount(1))
	assert.NotZero(t, env.db.lastChecked[1])
}

func TestSweepLatestAutoClassifies(t *testing.T) {
	env := newTestEnv()
	env.db.settings.ClassificationMode = models.ClassificationAuto
	env.db.addAccount(1, "venue_a", models.ClassificationAuto)
	env.db.addAccount(2, "venue_b", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return somePosts(account.Username + "-p1"), nil
	}

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)

	// Classification needs both the global and the account mode set to auto
	assert.Equal(t, 2, stats.PostsCreated)
	assert.Equal(t, 1, stats.PostsClassified)

	classified := env.db.storedPost(1, "venue_a-p1")
	require.NotNil(t, classified.IsEventPoster)
	assert.True(t, *classified.IsEventPoster)
	assert.True(t, classified.Processed)

	manual := env.db.storedPost(2, "venue_b-p1")
	assert.Nil(t, manual.IsEventPoster)
	assert.False(t, manual.Processed)
}

func TestSweepLatestDeduplicates(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.db.seedPost(1, "p2", time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC))
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		assert.True(t, known.Has("p2"))
		return somePosts("p1", "p2"), nil
	}

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)
	assert.Equal(t, 2, env.db.postCount(1))
}

func TestSweepRateLimitSchedulesBackoff(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return nil, errors.New(errors.KindRateLimited, "Please wait a few minutes")
	}

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
	assert.True(t, env.svc.Backoff().Active())

	status := env.svc.Status()
	assert.True(t, status.BackoffActive)
	assert.NotEmpty(t, status.LastError)
}

func TestSweepSkippedWhileBackingOff(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.svc.Backoff().Schedule(15 * time.Minute)

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, models.SweepStats{}, stats)

	latest, _ := env.direct.calls()
	assert.Equal(t, 0, latest)
	assert.Equal(t, 0, env.remote.runCount())
}

func TestSweepAutoFallsBackToRemote(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "auto"
	env.db.settings.RemoteEnabled = true
	env.db.settings.RemoteAPIToken = "tok"
	env.db.settings.RemoteActorID = "actor"
	env.db.settings.RemoteResultsLimit = 5
	env.db.addAccount(1, "venue_a", models.ClassificationManual)

	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return nil, errors.New(errors.KindRateLimited, "Too many requests")
	}
	env.remote.serveOnePostPerAccount(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)
	assert.False(t, env.svc.Backoff().Active())
	assert.Equal(t, 1, env.remote.runCount())
}

func TestSweepRemoteModeUnconfigured(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "remote"
	env.db.addAccount(1, "venue_a", models.ClassificationManual)

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestSweepRemoteModeBulkFetch(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "remote"
	env.db.settings.RemoteAPIToken = "tok"
	env.db.settings.RemoteActorID = "actor"
	env.db.settings.RemoteResultsLimit = 5
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.db.addAccount(2, "venue_b", models.ClassificationManual)

	env.remote.serveOnePostPerAccount(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.AccountsProcessed)
	assert.Equal(t, 2, stats.PostsCreated)
	// One bulk run covers both accounts
	assert.Equal(t, 1, env.remote.runCount())

	latest, _ := env.direct.calls()
	assert.Equal(t, 0, latest)
}

func TestSweepRemoteModeClearsBackoff(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "remote"
	env.db.settings.RemoteAPIToken = "tok"
	env.db.settings.RemoteActorID = "actor"
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.svc.Backoff().Schedule(15 * time.Minute)

	env.remote.serveOnePostPerAccount(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)
	assert.False(t, env.svc.Backoff().Active())
}

func TestSweepSinceRespectsMonitoringDisabled(t *testing.T) {
	env := newTestEnv()
	env.db.settings.MonitoringEnabled = false
	env.db.addAccount(1, "venue_a", models.ClassificationManual)

	stats, err := env.svc.SweepSince(context.Background(), SweepScheduled)
	require.NoError(t, err)
	assert.Equal(t, models.SweepStats{}, stats)

	_, since := env.direct.calls()
	assert.Equal(t, 0, since)
}

func TestSweepSinceUsesLookback(t *testing.T) {
	env := newTestEnv()
	lastChecked := time.Now().Add(-2 * time.Hour)
	env.db.accounts = append(env.db.accounts, models.Account{
		ID:          1,
		Username:    "venue_a",
		Active:      true,
		LastChecked: &lastChecked,
	})

	var gotSince time.Time
	env.direct.sinceFn = func(account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error) {
		gotSince = since
		return somePosts("p1"), nil
	}

	stats, err := env.svc.SweepSince(context.Background(), SweepScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)

	// Lookback widens the last check by the configured slack
	assert.Equal(t, lastChecked.Add(-5*time.Minute), gotSince)
}

func TestSweepRemoteModeSkipsAccountDelay(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "remote"
	env.db.settings.RemoteAPIToken = "tok"
	env.db.settings.RemoteActorID = "actor"
	env.db.settings.AccountDelaySeconds = 2
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.db.addAccount(2, "venue_b", models.ClassificationManual)

	env.remote.serveOnePostPerAccount(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	// No per-account requests were made, so no pacing either
	assert.Equal(t, 0, env.sleeps)
}

func TestSweepDirectModeAppliesAccountDelay(t *testing.T) {
	env := newTestEnv()
	env.db.settings.AccountDelaySeconds = 2
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.db.addAccount(2, "venue_b", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return somePosts(account.Username + "-p1"), nil
	}

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, env.sleeps)
}

func TestSweepFailsWithoutAnySource(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "auto"
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.svc.SetDirectSource(nil)

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, env.svc.Status().LastError, "no fetch source")
}

func TestSweepAutoPrefersRemoteDuringBackoff(t *testing.T) {
	env := newTestEnv()
	env.db.settings.FetchMode = "auto"
	env.db.settings.RemoteEnabled = true
	env.db.settings.RemoteAPIToken = "tok"
	env.db.settings.RemoteActorID = "actor"
	env.db.settings.RemoteResultsLimit = 5
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.svc.Backoff().Schedule(15 * time.Minute)

	env.remote.serveOnePostPerAccount(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)
	assert.Equal(t, 1, env.remote.runCount())

	// The throttled direct source was never touched
	latest, _ := env.direct.calls()
	assert.Equal(t, 0, latest)
	assert.False(t, env.svc.Backoff().Active())
}

func TestSetDirectSourceSwapsAtRuntime(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return somePosts("p1"), nil
	}

	env.svc.SetDirectSource(nil)
	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	env.svc.SetDirectSource(env.direct)
	stats, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsCreated)
}

func TestSweepGuardRejectsSameLabel(t *testing.T) {
	env := newTestEnv()
	release, ok := env.svc.Guard().TryAcquire(SweepManual, false)
	require.True(t, ok)
	defer release()

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	assert.ErrorIs(t, err, ErrSweepInProgress)
}

func TestSweepSuccessClearsBackoffAndError(t *testing.T) {
	env := newTestEnv()
	env.db.addAccount(1, "venue_a", models.ClassificationManual)
	env.direct.latestFn = func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
		return somePosts("p1"), nil
	}
	env.svc.setLastError("previous failure")

	_, err := env.svc.SweepLatest(context.Background(), SweepManual, 3)
	require.NoError(t, err)

	status := env.svc.Status()
	assert.Empty(t, status.LastError)
	assert.False(t, status.BackoffActive)
	assert.NotNil(t, status.LastRun)
}
