package monitor

import (
	"context"
	"sort"
	"strings"
	"time"

	"eventscout/pkg/logger"
	"eventscout/pkg/metrics"
	"eventscout/pkg/models"
	"eventscout/pkg/remote"
)

// RemoteAdapter acquires posts through the managed scraping actor. It
// supports per-account fetches and a bulk mode that scrapes many accounts in
// one run, splitting failed batches until the offending account is isolated.
type RemoteAdapter struct {
	client       RemoteJobClient
	batchSize    int
	threshold    int
	resultsLimit int
	now          func() time.Time
	logger       logger.Logger
	metrics      *metrics.Metrics
}

// SetMetrics attaches Prometheus collectors. A nil value disables reporting.
func (a *RemoteAdapter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// runAndCollect delegates to the job client and counts the run by transport
func (a *RemoteAdapter) runAndCollect(ctx context.Context, input remote.JobInput, limit int) ([]remote.Item, error) {
	items, err := a.client.RunAndCollect(ctx, input, limit)
	if a.metrics != nil {
		a.metrics.RemoteRuns.WithLabelValues(a.client.RuntimeInfo().LastTransport).Inc()
	}
	return items, err
}

// NewRemoteAdapter creates a remote adapter. batchSize bounds how many
// accounts one bulk run covers; threshold mirrors the direct adapter's
// consecutive-known cutoff; resultsLimit is the per-account window used
// when no explicit count applies.
func NewRemoteAdapter(client RemoteJobClient, batchSize, threshold, resultsLimit int, log logger.Logger) *RemoteAdapter {
	if batchSize < 1 {
		batchSize = 1
	}
	if threshold < 1 {
		threshold = 1
	}
	if resultsLimit < 1 {
		resultsLimit = 30
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &RemoteAdapter{
		client:       client,
		batchSize:    batchSize,
		threshold:    threshold,
		resultsLimit: resultsLimit,
		now:          time.Now,
		logger:       log,
	}
}

func candidateFromItem(it *remote.Item, now time.Time) models.CandidatePost {
	return models.CandidatePost{
		ExternalID:  it.ExternalID(),
		Caption:     it.Caption,
		ImageURL:    it.ImageURL(),
		PublishedAt: it.PublishedAt(now),
		IsVideo:     it.IsVideo(),
	}
}

// selectNew orders candidates newest first and keeps the unknown ones,
// stopping once the consecutive-known cutoff is hit
func (a *RemoteAdapter) selectNew(candidates []models.CandidatePost, known models.KnownIDSet, count int) []models.CandidatePost {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
	})

	var out []models.CandidatePost
	consecutiveKnown := 0
	for i := range candidates {
		c := candidates[i]
		if c.ExternalID == "" {
			continue
		}
		if known.Has(c.ExternalID) {
			consecutiveKnown++
			if consecutiveKnown >= a.threshold {
				break
			}
			continue
		}
		consecutiveKnown = 0
		out = append(out, c)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out
}

// FetchLatest fetches up to count new posts for one account via a dedicated
// remote run
func (a *RemoteAdapter) FetchLatest(ctx context.Context, account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
	items, err := a.runAndCollect(ctx, remote.NewPostsInput([]string{account.Username}, count), count)
	if err != nil {
		return nil, err
	}

	now := a.now()
	candidates := make([]models.CandidatePost, 0, len(items))
	for i := range items {
		candidates = append(candidates, candidateFromItem(&items[i], now))
	}
	return a.selectNew(candidates, known, count), nil
}

// FetchSince fetches new posts published at or after since for one account
func (a *RemoteAdapter) FetchSince(ctx context.Context, account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error) {
	// The actor cannot filter by time, fetch a window and trim locally
	limit := a.resultsLimit
	items, err := a.runAndCollect(ctx, remote.NewPostsInput([]string{account.Username}, limit), limit)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var candidates []models.CandidatePost
	for i := range items {
		c := candidateFromItem(&items[i], now)
		if c.PublishedAt.Before(since) {
			continue
		}
		candidates = append(candidates, c)
	}
	return a.selectNew(candidates, known, 0), nil
}

// FetchManyLatest fetches up to perAccount new posts for each account,
// batching accounts into shared remote runs. A failed batch is split in half
// and retried; a failure that survives down to a single account aborts the
// bulk fetch.
func (a *RemoteAdapter) FetchManyLatest(ctx context.Context, accounts []models.Account, knownByID map[int64]models.KnownIDSet, perAccount int) (map[string][]models.CandidatePost, error) {
	byUsername := make(map[string]*models.Account, len(accounts))
	for i := range accounts {
		byUsername[strings.ToLower(accounts[i].Username)] = &accounts[i]
	}

	results := make(map[string][]models.CandidatePost)
	for start := 0; start < len(accounts); start += a.batchSize {
		end := start + a.batchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		if err := a.fetchBatch(ctx, accounts[start:end], byUsername, knownByID, perAccount, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// fetchBatch runs one bulk job and bisects on failure until the offending
// account is isolated, at which point the error propagates
func (a *RemoteAdapter) fetchBatch(ctx context.Context, batch []models.Account, byUsername map[string]*models.Account, knownByID map[int64]models.KnownIDSet, perAccount int, results map[string][]models.CandidatePost) error {
	if len(batch) == 0 {
		return nil
	}

	usernames := make([]string, len(batch))
	for i := range batch {
		usernames[i] = batch[i].Username
	}
	limit := perAccount * len(batch)

	items, err := a.runAndCollect(ctx, remote.NewPostsInput(usernames, limit), limit)
	if err != nil {
		if ctx.Err() != nil || len(batch) == 1 {
			return err
		}
		a.logger.WarnWithFields("remote batch failed, splitting", map[string]interface{}{
			"batch_size": len(batch),
			"error":      err.Error(),
		})
		if a.metrics != nil {
			a.metrics.BatchSplits.Inc()
		}
		mid := len(batch) / 2
		if err := a.fetchBatch(ctx, batch[:mid], byUsername, knownByID, perAccount, results); err != nil {
			return err
		}
		return a.fetchBatch(ctx, batch[mid:], byUsername, knownByID, perAccount, results)
	}

	now := a.now()
	grouped := make(map[string][]models.CandidatePost)
	for i := range items {
		owner := strings.ToLower(items[i].Owner())
		if owner == "" {
			continue
		}
		grouped[owner] = append(grouped[owner], candidateFromItem(&items[i], now))
	}

	for owner, candidates := range grouped {
		account, ok := byUsername[owner]
		if !ok {
			a.logger.DebugWithFields("dropping items for unrequested owner", map[string]interface{}{
				"owner": owner,
				"count": len(candidates),
			})
			continue
		}
		results[account.Username] = a.selectNew(candidates, knownByID[account.ID], perAccount)
	}
	return nil
}
