package monitor

import (
	"context"

	"eventscout/pkg/logger"
	"eventscout/pkg/metrics"
	"eventscout/pkg/models"
)

// Writer turns candidate posts into stored rows. Deduplication has two
// layers: a cheap existence check up front and the storage uniqueness
// constraint as the correctness boundary under concurrent sweeps.
type Writer struct {
	db         Persistence
	classifier Classifier
	images     ImageCache
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// SetMetrics attaches Prometheus collectors. A nil value disables reporting.
func (w *Writer) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// NewWriter creates an ingestion writer. classifier and images may be nil.
func NewWriter(db Persistence, classifier Classifier, images ImageCache, log logger.Logger) *Writer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Writer{db: db, classifier: classifier, images: images, logger: log}
}

// CreateIfNew stores the candidate for the account unless it is already
// known. It reports whether a row was created and whether the post was
// auto-classified. Image caching is best effort and never fails ingestion.
func (w *Writer) CreateIfNew(ctx context.Context, account *models.Account, candidate *models.CandidatePost, autoClassify bool) (created bool, classified bool, err error) {
	exists, err := w.db.PostExists(ctx, account.ID, candidate.ExternalID)
	if err != nil {
		return false, false, err
	}
	if exists {
		return false, false, nil
	}

	post := &models.Post{
		AccountID:   account.ID,
		ExternalID:  candidate.ExternalID,
		Caption:     candidate.Caption,
		ImageURL:    candidate.ImageURL,
		PublishedAt: candidate.PublishedAt,
		IsVideo:     candidate.IsVideo,
	}

	if autoClassify && w.classifier != nil {
		isEvent, confidence := w.classifier.Classify(candidate.Caption)
		post.IsEventPoster = &isEvent
		post.ClassificationConfidence = &confidence
		post.Processed = true
		classified = true
	}

	if w.images != nil && candidate.ImageURL != "" {
		localPath, imgErr := w.images.Store(ctx, candidate.ExternalID, candidate.ImageURL)
		if imgErr != nil {
			w.logger.WarnWithFields("failed to cache poster image", map[string]interface{}{
				"external_id": candidate.ExternalID,
				"error":       imgErr.Error(),
			})
		} else {
			post.LocalImagePath = localPath
			if w.metrics != nil {
				w.metrics.ImagesCached.Inc()
			}
		}
	}

	_, inserted, err := w.db.InsertPostIfAbsent(ctx, post)
	if err != nil {
		return false, false, err
	}
	if !inserted {
		// Lost the race to a concurrent sweep, the row already exists
		return false, false, nil
	}
	if w.metrics != nil {
		w.metrics.PostsCreated.Inc()
		if classified {
			w.metrics.PostsClassified.Inc()
		}
	}
	return true, classified, nil
}
