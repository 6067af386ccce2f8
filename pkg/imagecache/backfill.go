package imagecache

import (
	"context"

	"eventscout/pkg/logger"
	"eventscout/pkg/models"
)

// BackfillSource is the storage surface the backfill needs: posts whose
// image was never cached, and a way to record the cached path.
type BackfillSource interface {
	PostsMissingImages(ctx context.Context, limit int) ([]models.Post, error)
	SetLocalImagePath(ctx context.Context, postID int64, path string) error
}

// Backfill caches images for up to limit posts that have a source URL but no
// local copy, downloading with numWorkers concurrent workers. It returns the
// number of images cached. Individual download failures are logged and
// skipped so one dead URL cannot stall the rest.
func Backfill(ctx context.Context, src BackfillSource, cache *Cache, numWorkers, limit int, log logger.Logger) (int, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	posts, err := src.PostsMissingImages(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	idByExternal := make(map[string]int64, len(posts))
	for i := range posts {
		idByExternal[posts[i].ExternalID] = posts[i].ID
	}

	pool := NewPrefetchPool(cache, numWorkers, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for i := range posts {
			if ctx.Err() != nil {
				return
			}
			job := PrefetchJob{ExternalID: posts[i].ExternalID, ImageURL: posts[i].ImageURL}
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	cached := 0
	for result := range pool.Results() {
		if result.Err != nil {
			continue
		}
		postID, ok := idByExternal[result.Job.ExternalID]
		if !ok {
			continue
		}
		if err := src.SetLocalImagePath(ctx, postID, result.LocalPath); err != nil {
			log.WarnWithFields("failed to record cached image path", map[string]interface{}{
				"post_id": postID,
				"error":   err.Error(),
			})
			continue
		}
		cached++
	}

	log.InfoWithFields("image backfill finished", map[string]interface{}{
		"candidates": len(posts),
		"cached":     cached,
	})
	return cached, nil
}
