package monitor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
	"eventscout/pkg/metrics"
	"eventscout/pkg/models"
	"eventscout/pkg/remote"
)

// Sweep labels used with the run guard
const (
	SweepManual    = "manual"
	SweepScheduled = "scheduled"
)

// ErrSweepInProgress is returned when a sweep with the same label is
// already running
var ErrSweepInProgress = errors.New(errors.KindUnknown, "a sweep is already in progress")

// Service orchestrates monitoring sweeps. It owns the source selection
// policy, the rate-limit backoff circuit and the remote client cache, and
// funnels every acquired post through the ingestion writer.
type Service struct {
	cfg    *config.Config
	db     Persistence
	direct SourceAdapter
	writer *Writer
	guard  *RunGuard
	logger logger.Logger

	backoff *BackoffState
	metrics *metrics.Metrics

	// remoteFactory builds a job client for the given credentials; swapped
	// out in tests
	remoteFactory func(token, actorID string) (RemoteJobClient, error)
	sleep         func(ctx context.Context, d time.Duration)
	now           func() time.Time
	jitter        func() float64

	mu           sync.Mutex
	remoteClient RemoteJobClient
	remoteSig    string
	lastRun      *time.Time
	lastError    string
	nextETA      time.Duration
}

// NewService creates the sweep orchestrator. classifier and images may be
// nil to disable auto-classification and image caching.
func NewService(cfg *config.Config, db Persistence, direct SourceAdapter, classifier Classifier, images ImageCache, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Service{
		cfg:     cfg,
		db:      db,
		direct:  direct,
		writer:  NewWriter(db, classifier, images, log),
		guard:   NewRunGuard(),
		logger:  log,
		backoff: NewBackoffState(),
		now:     time.Now,
		jitter: func() float64 {
			return 0.85 + rand.Float64()*0.40
		},
	}
	s.sleep = func(ctx context.Context, d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	s.remoteFactory = func(token, actorID string) (RemoteJobClient, error) {
		remoteCfg := cfg.Remote
		remoteCfg.APIToken = token
		remoteCfg.ActorID = actorID
		return remote.NewClient(&remoteCfg, log)
	}
	return s
}

// SetMetrics attaches Prometheus collectors to the pipeline. Must be called
// before the first sweep.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.writer.SetMetrics(m)
	if m != nil {
		m.RegisterBackoffGauge(func() float64 {
			return s.backoff.Remaining().Seconds()
		})
	}
}

// SetDirectSource installs or removes the direct source at runtime, e.g.
// after an operator uploads or deletes a session. A nil adapter restricts
// sweeps to the remote source.
func (s *Service) SetDirectSource(direct SourceAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = direct
}

func (s *Service) directSource() SourceAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct
}

// Backoff exposes the throttle circuit state
func (s *Service) Backoff() *BackoffState {
	return s.backoff
}

// Guard exposes the sweep run guard
func (s *Service) Guard() *RunGuard {
	return s.guard
}

// StatusSnapshot describes the orchestrator state for the status surface
type StatusSnapshot struct {
	LastRun           *time.Time          `json:"last_run"`
	LastError         string              `json:"last_error,omitempty"`
	NextRunETASeconds int                 `json:"next_run_eta_seconds"`
	BackoffActive     bool                `json:"backoff_active"`
	BackoffUntil      *time.Time          `json:"backoff_until,omitempty"`
	SweepRunning      bool                `json:"sweep_running"`
	Remote            *remote.RuntimeInfo `json:"remote,omitempty"`
}

// Status returns a snapshot of the orchestrator state
func (s *Service) Status() StatusSnapshot {
	s.mu.Lock()
	lastRun := s.lastRun
	lastError := s.lastError
	eta := s.nextETA
	client := s.remoteClient
	s.mu.Unlock()

	snap := StatusSnapshot{
		LastRun:           lastRun,
		LastError:         lastError,
		NextRunETASeconds: int(eta.Seconds()),
		BackoffActive:     s.backoff.Active(),
		SweepRunning:      s.guard.HasActive(),
	}
	if until := s.backoff.Until(); !until.IsZero() {
		snap.BackoffUntil = &until
	}
	if client != nil {
		info := client.RuntimeInfo()
		snap.Remote = &info
	}
	return snap
}

// SetNextETA records the periodic loop's next wakeup distance
func (s *Service) SetNextETA(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextETA = d
}

func (s *Service) setLastError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

func (s *Service) clearLastError() {
	s.setLastError("")
}

func (s *Service) markRun() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &now
}

// shouldUseRemote reports whether the remote source may serve fetches under
// the current settings
func (s *Service) shouldUseRemote(settings *models.Settings) bool {
	switch settings.Mode() {
	case models.FetchModeRemote:
		return settings.RemoteReady()
	case models.FetchModeAuto:
		return settings.RemoteEnabled && settings.RemoteReady()
	default:
		return false
	}
}

// directAvailable reports whether the direct source may serve fetches
func (s *Service) directAvailable(settings *models.Settings) bool {
	return settings.Mode() != models.FetchModeRemote && s.directSource() != nil
}

// remoteAdapterFor returns a remote adapter for the settings, reusing the
// cached client while the credentials are unchanged. Returns nil when the
// remote source should not be used.
func (s *Service) remoteAdapterFor(settings *models.Settings) *RemoteAdapter {
	if !s.shouldUseRemote(settings) {
		return nil
	}

	sig := settings.RemoteAPIToken + ":" + settings.RemoteActorID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteClient == nil || s.remoteSig != sig {
		client, err := s.remoteFactory(settings.RemoteAPIToken, settings.RemoteActorID)
		if err != nil {
			s.lastError = err.Error()
			s.remoteClient = nil
			s.remoteSig = ""
			return nil
		}
		s.remoteClient = client
		s.remoteSig = sig
	}

	limit := settings.RemoteResultsLimit
	adapter := NewRemoteAdapter(s.remoteClient, s.cfg.Remote.BatchSize, s.cfg.Fetch.KnownBreakThreshold, limit, s.logger)
	adapter.SetMetrics(s.metrics)
	return adapter
}

// gateBackoff applies the throttle circuit before a sweep starts. It
// returns false when the sweep must be skipped entirely. A remote-only
// configuration acts as the release valve and clears the circuit.
func (s *Service) gateBackoff(settings *models.Settings) bool {
	if !s.backoff.Active() {
		return true
	}
	if settings.Mode() == models.FetchModeRemote && s.shouldUseRemote(settings) {
		s.backoff.Clear()
		return true
	}
	if !s.shouldUseRemote(settings) {
		s.logger.InfoWithFields("skipping sweep, direct source is backing off", map[string]interface{}{
			"remaining": s.backoff.Remaining().String(),
		})
		return false
	}
	return true
}

// scheduleBackoff opens the throttle circuit for the configured window
func (s *Service) scheduleBackoff() {
	minutes := s.cfg.Fetch.BackoffMinutes
	if minutes < 1 {
		minutes = 1
	}
	d := time.Duration(minutes) * time.Minute
	s.backoff.Schedule(d)
	if s.metrics != nil {
		s.metrics.BackoffEngagements.Inc()
	}
	s.mu.Lock()
	s.nextETA = d
	s.mu.Unlock()
	s.logger.WarnWithFields("rate limited, backing off direct fetches", map[string]interface{}{
		"backoff": d.String(),
	})
}

// applyDelay sleeps the configured per-account pause with jitter applied.
// Skipped when the delay is unset.
func (s *Service) applyDelay(ctx context.Context, delaySeconds int) {
	if delaySeconds <= 0 {
		return
	}
	d := time.Duration(float64(delaySeconds) * s.jitter() * float64(time.Second))
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	s.sleep(ctx, d)
}

func (s *Service) knownIDs(ctx context.Context, accountID int64) (models.KnownIDSet, error) {
	window := s.cfg.Fetch.KnownIDWindow
	if window <= 0 {
		window = 20
	}
	ids, err := s.db.RecentPostIDs(ctx, accountID, window)
	if err != nil {
		return nil, err
	}
	return models.NewKnownIDSet(ids), nil
}

// SweepLatest fetches the newest postCount posts of every active account,
// regardless of when they were last checked
func (s *Service) SweepLatest(ctx context.Context, label string, postCount int) (models.SweepStats, error) {
	release, ok := s.guard.TryAcquire(label, false)
	if !ok {
		return models.SweepStats{}, ErrSweepInProgress
	}
	defer release()

	if postCount < 1 {
		postCount = 3
	}
	return s.timedSweep(ctx, label, sweepRequest{latestCount: postCount, ignoreEnabled: true})
}

// SweepSince fetches posts published since each account's last check, with
// the lookback slack applied. Skipped when monitoring is disabled.
func (s *Service) SweepSince(ctx context.Context, label string) (models.SweepStats, error) {
	release, ok := s.guard.TryAcquire(label, false)
	if !ok {
		return models.SweepStats{}, ErrSweepInProgress
	}
	defer release()

	return s.timedSweep(ctx, label, sweepRequest{})
}

// timedSweep runs the sweep under a run id and reports its outcome to the
// collectors
func (s *Service) timedSweep(ctx context.Context, label string, req sweepRequest) (models.SweepStats, error) {
	runID := uuid.NewString()
	s.logger.DebugWithFields("sweep starting", map[string]interface{}{
		"run_id":  runID,
		"trigger": label,
	})

	start := time.Now()
	stats, err := s.sweep(ctx, req)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveSweep(label, err, elapsed.Seconds())
	}

	fields := map[string]interface{}{
		"run_id":        runID,
		"trigger":       label,
		"duration":      elapsed,
		"accounts":      stats.AccountsProcessed,
		"posts_created": stats.PostsCreated,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.WarnWithFields("sweep failed", fields)
	} else {
		s.logger.InfoWithFields("sweep finished", fields)
	}
	return stats, err
}

type sweepRequest struct {
	// latestCount > 0 selects the latest-N sweep, otherwise the since sweep
	latestCount int
	// ignoreEnabled runs the sweep even when monitoring is disabled
	ignoreEnabled bool
}

func (s *Service) sweep(ctx context.Context, req sweepRequest) (models.SweepStats, error) {
	var stats models.SweepStats

	settings, err := s.db.LoadSettings(ctx)
	if err != nil {
		return stats, err
	}
	if !req.ignoreEnabled && !settings.MonitoringEnabled {
		return stats, nil
	}
	if !s.gateBackoff(settings) {
		return stats, nil
	}

	s.markRun()

	globalAuto := settings.ClassificationMode == models.ClassificationAuto

	accounts, err := s.db.ListActiveAccounts(ctx)
	if err != nil {
		return stats, err
	}

	mode := settings.Mode()

	// Remote-only mode scrapes all accounts in shared bulk runs up front
	var bulkCache map[string][]models.CandidatePost
	knownByID := make(map[int64]models.KnownIDSet, len(accounts))
	if mode == models.FetchModeRemote {
		remoteAdapter := s.remoteAdapterFor(settings)
		if remoteAdapter == nil {
			return stats, errors.New(errors.KindConfiguration, "remote integration is not configured")
		}
		for i := range accounts {
			known, err := s.knownIDs(ctx, accounts[i].ID)
			if err != nil {
				return stats, err
			}
			knownByID[accounts[i].ID] = known
		}
		perAccount := settings.RemoteResultsLimit
		if perAccount <= 0 {
			perAccount = req.latestCount
		}
		if perAccount <= 0 {
			perAccount = s.cfg.Fetch.ResultsLimit
		}
		bulkCache, err = remoteAdapter.FetchManyLatest(ctx, accounts, knownByID, perAccount)
		if err != nil {
			s.setLastError(err.Error())
			return stats, err
		}
	}

	for i := range accounts {
		account := &accounts[i]
		stats.AccountsProcessed++

		known, ok := knownByID[account.ID]
		if !ok {
			known, err = s.knownIDs(ctx, account.ID)
			if err != nil {
				return stats, err
			}
		}

		var posts []models.CandidatePost
		if mode == models.FetchModeRemote {
			posts = bulkCache[account.Username]
			if req.latestCount == 0 {
				posts = filterSince(posts, s.lookbackStart(account))
			}
		} else if req.latestCount > 0 {
			posts, err = s.fetchLatestForAccount(ctx, settings, account, req.latestCount, known)
		} else {
			posts, err = s.fetchSinceForAccount(ctx, settings, account, s.lookbackStart(account), known)
		}
		if err != nil {
			s.setLastError(err.Error())
			return stats, err
		}

		autoClassify := globalAuto && account.ClassificationMode == models.ClassificationAuto
		for j := range posts {
			created, classified, err := s.writer.CreateIfNew(ctx, account, &posts[j], autoClassify)
			if err != nil {
				s.setLastError(err.Error())
				return stats, err
			}
			if created {
				stats.PostsCreated++
				if classified {
					stats.PostsClassified++
				}
			}
		}

		if err := s.db.UpdateLastChecked(ctx, account.ID, s.now()); err != nil {
			s.setLastError(err.Error())
			return stats, err
		}
		// The delay spaces out per-account requests; a bulk remote sweep
		// made no per-account call, so there is nothing to pace
		if mode != models.FetchModeRemote {
			s.applyDelay(ctx, settings.AccountDelaySeconds)
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	s.clearLastError()
	s.backoff.Clear()
	return stats, nil
}

// lookbackStart computes the cutoff for a since sweep: the account's last
// check (or 24h ago for never-checked accounts), widened by the slack to
// absorb clock skew and slow posts
func (s *Service) lookbackStart(account *models.Account) time.Time {
	start := s.now().Add(-24 * time.Hour)
	if account.LastChecked != nil {
		start = *account.LastChecked
	}
	slack := s.cfg.Fetch.LookbackSlack
	if slack <= 0 {
		slack = 5 * time.Minute
	}
	return start.Add(-slack)
}

func filterSince(posts []models.CandidatePost, since time.Time) []models.CandidatePost {
	var out []models.CandidatePost
	for i := range posts {
		if !posts[i].PublishedAt.Before(since) {
			out = append(out, posts[i])
		}
	}
	return out
}

// fetchLatestForAccount applies the source policy for one account's
// latest-N fetch: remote when directed, direct otherwise, with remote as
// fallback when the direct source is throttled in auto mode
func (s *Service) fetchLatestForAccount(ctx context.Context, settings *models.Settings, account *models.Account, count int, known models.KnownIDSet) ([]models.CandidatePost, error) {
	fetchRemote := func(adapter *RemoteAdapter) ([]models.CandidatePost, error) {
		limit := settings.RemoteResultsLimit
		if limit <= 0 {
			limit = count
		}
		return adapter.FetchLatest(ctx, account, known, limit)
	}
	fetchDirect := func() ([]models.CandidatePost, error) {
		return s.directSource().FetchLatest(ctx, account, known, count)
	}
	return s.fetchWithPolicy(ctx, settings, fetchDirect, fetchRemote)
}

// fetchSinceForAccount is the since-sweep twin of fetchLatestForAccount
func (s *Service) fetchSinceForAccount(ctx context.Context, settings *models.Settings, account *models.Account, since time.Time, known models.KnownIDSet) ([]models.CandidatePost, error) {
	fetchRemote := func(adapter *RemoteAdapter) ([]models.CandidatePost, error) {
		posts, err := adapter.FetchSince(ctx, account, known, since)
		if err != nil {
			return nil, err
		}
		return filterSince(posts, since), nil
	}
	fetchDirect := func() ([]models.CandidatePost, error) {
		return s.directSource().FetchSince(ctx, account, known, since)
	}
	return s.fetchWithPolicy(ctx, settings, fetchDirect, fetchRemote)
}

// fetchWithPolicy runs the per-account mode table shared by both sweep
// shapes
func (s *Service) fetchWithPolicy(ctx context.Context, settings *models.Settings, fetchDirect func() ([]models.CandidatePost, error), fetchRemote func(*RemoteAdapter) ([]models.CandidatePost, error)) ([]models.CandidatePost, error) {
	mode := settings.Mode()
	directReady := s.directAvailable(settings)

	// Remote serves exclusively in remote mode, and in auto mode whenever
	// the direct source is missing or inside a backoff window
	remoteOnly := mode == models.FetchModeRemote ||
		(mode == models.FetchModeAuto && (!directReady || s.backoff.Active()))
	if remoteOnly {
		adapter := s.remoteAdapterFor(settings)
		if adapter != nil {
			posts, err := fetchRemote(adapter)
			if err != nil {
				s.setLastError(err.Error())
				return nil, err
			}
			return posts, nil
		}
		if mode == models.FetchModeRemote {
			s.setLastError("remote integration is not configured")
			return nil, errors.New(errors.KindConfiguration, "remote integration is not configured")
		}
	}

	if !directReady {
		s.setLastError("no fetch source is available")
		return nil, errors.New(errors.KindConfiguration, "no fetch source is available")
	}

	posts, err := fetchDirect()
	if err == nil {
		return posts, nil
	}
	if !errors.IsRateLimited(err) {
		return nil, err
	}

	// Throttled: fall back to remote when permitted, otherwise open the
	// circuit and surface the rate limit
	if mode == models.FetchModeDirect || !s.shouldUseRemote(settings) {
		s.scheduleBackoff()
		return nil, err
	}
	adapter := s.remoteAdapterFor(settings)
	if adapter == nil {
		s.setLastError(err.Error())
		s.scheduleBackoff()
		return nil, err
	}
	posts, remoteErr := fetchRemote(adapter)
	if remoteErr != nil {
		s.setLastError(remoteErr.Error())
		s.scheduleBackoff()
		return nil, remoteErr
	}
	s.backoff.Clear()
	return posts, nil
}
