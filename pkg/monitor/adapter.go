package monitor

import (
	"context"
	"time"

	"eventscout/pkg/errors"
	"eventscout/pkg/instagram"
	"eventscout/pkg/logger"
	"eventscout/pkg/models"
)

// DirectAdapter acquires posts by scraping the Instagram web API with the
// operator's own session
type DirectAdapter struct {
	client    *instagram.Client
	threshold int
	logger    logger.Logger
}

// NewDirectAdapter creates a direct-scrape adapter. threshold is the number
// of consecutive already-known posts that ends a scan early.
func NewDirectAdapter(client *instagram.Client, threshold int, log logger.Logger) *DirectAdapter {
	if threshold < 1 {
		threshold = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &DirectAdapter{client: client, threshold: threshold, logger: log}
}

// fetchProfile loads the profile page, translating the soft failures that
// should not abort a sweep into an empty result. Rate limits propagate so
// the orchestrator can open the backoff circuit.
func (a *DirectAdapter) fetchProfile(ctx context.Context, username string) (*instagram.ProfileResponse, bool, error) {
	resp, err := a.client.FetchUserProfile(ctx, instagram.SanitizeUsername(username))
	if err != nil {
		kind := errors.KindOf(err)
		if kind == errors.KindNotFound || kind == errors.KindAuth {
			a.logger.WarnWithFields("profile unavailable, skipping account", map[string]interface{}{
				"username": username,
				"reason":   string(kind),
			})
			return nil, false, nil
		}
		return nil, false, err
	}
	if resp.Data.User.ID == "" {
		a.logger.WarnWithFields("profile response had no user", map[string]interface{}{
			"username": username,
		})
		return nil, false, nil
	}
	return resp, true, nil
}

func candidateFromNode(node *instagram.Node) models.CandidatePost {
	return models.CandidatePost{
		ExternalID:  node.Shortcode,
		Caption:     node.Caption(),
		ImageURL:    node.DisplayURL,
		PublishedAt: time.Unix(node.TakenAtTimestamp, 0).UTC(),
		IsVideo:     node.IsVideo,
	}
}

// FetchLatest returns up to count new posts for the account, newest first.
// The scan ends early once the configured number of consecutive known posts
// has been seen, on the assumption that everything older is known too.
func (a *DirectAdapter) FetchLatest(ctx context.Context, account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
	resp, ok, err := a.fetchProfile(ctx, account.Username)
	if err != nil || !ok {
		return nil, err
	}

	var out []models.CandidatePost
	consecutiveKnown := 0
	userID := resp.Data.User.ID
	media := resp.Data.User.EdgeOwnerToTimelineMedia

	for {
		for i := range media.Edges {
			node := &media.Edges[i].Node
			if node.Shortcode == "" {
				continue
			}
			if known.Has(node.Shortcode) {
				consecutiveKnown++
				if consecutiveKnown >= a.threshold {
					return out, nil
				}
				continue
			}
			consecutiveKnown = 0
			out = append(out, candidateFromNode(node))
			if len(out) >= count {
				return out, nil
			}
		}

		if !media.PageInfo.HasNextPage || media.PageInfo.EndCursor == "" {
			return out, nil
		}
		next, err := a.client.FetchUserMedia(ctx, userID, media.PageInfo.EndCursor)
		if err != nil {
			return nil, err
		}
		media = next.Data.User.EdgeOwnerToTimelineMedia
		if len(media.Edges) == 0 {
			return out, nil
		}
	}
}

// FetchSince returns new posts published at or after since, newest first.
// The timeline is chronological, so the scan stops at the first post older
// than the cutoff.
func (a *DirectAdapter) FetchSince(ctx context.Context, account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error) {
	resp, ok, err := a.fetchProfile(ctx, account.Username)
	if err != nil || !ok {
		return nil, err
	}

	var out []models.CandidatePost
	userID := resp.Data.User.ID
	media := resp.Data.User.EdgeOwnerToTimelineMedia

	for {
		for i := range media.Edges {
			node := &media.Edges[i].Node
			if node.Shortcode == "" {
				continue
			}
			published := time.Unix(node.TakenAtTimestamp, 0).UTC()
			if published.Before(since) {
				return out, nil
			}
			if known.Has(node.Shortcode) {
				continue
			}
			out = append(out, candidateFromNode(node))
		}

		if !media.PageInfo.HasNextPage || media.PageInfo.EndCursor == "" {
			return out, nil
		}
		next, err := a.client.FetchUserMedia(ctx, userID, media.PageInfo.EndCursor)
		if err != nil {
			return nil, err
		}
		media = next.Data.User.EdgeOwnerToTimelineMedia
		if len(media.Edges) == 0 {
			return out, nil
		}
	}
}
