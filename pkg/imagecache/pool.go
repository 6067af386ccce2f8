package imagecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eventscout/pkg/logger"
)

// PrefetchJob asks the pool to cache one post image
type PrefetchJob struct {
	ExternalID string
	ImageURL   string
}

// PrefetchResult reports the outcome of one prefetch job
type PrefetchResult struct {
	Job       PrefetchJob
	LocalPath string
	Err       error
	Duration  time.Duration
}

// PrefetchPool caches images concurrently. It is used to backfill local
// copies for posts ingested before the cache existed.
type PrefetchPool struct {
	cache       *Cache
	numWorkers  int
	jobQueue    chan PrefetchJob
	resultQueue chan PrefetchResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger
}

// NewPrefetchPool creates a worker pool over the cache
func NewPrefetchPool(cache *Cache, numWorkers int, log logger.Logger) *PrefetchPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PrefetchPool{
		cache:       cache,
		numWorkers:  numWorkers,
		jobQueue:    make(chan PrefetchJob, numWorkers*2),
		resultQueue: make(chan PrefetchResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log,
	}
}

// Start launches the workers
func (p *PrefetchPool) Start() {
	p.logger.InfoWithFields("starting image prefetch pool", map[string]interface{}{
		"workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue and shuts the pool down
func (p *PrefetchPool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.resultQueue)
	p.cancel()
	p.logger.Info("image prefetch pool stopped")
}

// Submit queues a prefetch job
func (p *PrefetchPool) Submit(job PrefetchJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("prefetch pool is shutting down")
	}
}

// Results returns the channel of completed jobs
func (p *PrefetchPool) Results() <-chan PrefetchResult {
	return p.resultQueue
}

func (p *PrefetchPool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		start := time.Now()
		localPath, err := p.cache.Store(p.ctx, job.ExternalID, job.ImageURL)
		result := PrefetchResult{
			Job:       job,
			LocalPath: localPath,
			Err:       err,
			Duration:  time.Since(start),
		}
		if err != nil {
			p.logger.WarnWithFields("prefetch failed", map[string]interface{}{
				"worker_id":   id,
				"external_id": job.ExternalID,
				"error":       err.Error(),
			})
		}

		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			return
		}
	}
}
