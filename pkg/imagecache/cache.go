// Package imagecache stores poster images on local disk so the review UI
// does not depend on Instagram's short-lived CDN URLs.
package imagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
	"eventscout/pkg/retry"
)

// Cache downloads images into a flat directory. Filenames combine the post
// identifier with a hash of the source URL so a re-posted image under a new
// URL gets its own file.
type Cache struct {
	dir        string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates an image cache rooted at dir, creating it if needed
func New(dir string, timeout time.Duration, log logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Cache{
		dir:        dir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}, nil
}

// Dir returns the cache root directory
func (c *Cache) Dir() string {
	return c.dir
}

// Filename returns the cache filename for a post image URL
func Filename(externalID, imageURL string) string {
	sum := md5.Sum([]byte(imageURL))
	return fmt.Sprintf("%s_%s.jpg", externalID, hex.EncodeToString(sum[:])[:12])
}

// Store downloads the image and returns its cache filename. A file that is
// already present is reused without a network call. Transient download
// failures are retried with exponential backoff.
func (c *Cache) Store(ctx context.Context, externalID, imageURL string) (string, error) {
	if imageURL == "" {
		return "", fmt.Errorf("image URL is empty")
	}

	filename := Filename(externalID, imageURL)
	path := filepath.Join(c.dir, filename)
	if _, err := os.Stat(path); err == nil {
		return filename, nil
	}

	err := retry.Do(func() error {
		return c.download(ctx, imageURL, path, filename)
	}, &retry.Config{
		MaxAttempts: 3,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
	if err != nil {
		return "", err
	}

	c.logger.DebugWithFields("cached poster image", map[string]interface{}{
		"external_id": externalID,
		"file":        filename,
	})
	return filename, nil
}

// download performs one fetch attempt and classifies failures so the retry
// predicate can tell transient errors from permanent ones
func (c *Cache) download(ctx context.Context, imageURL, path, filename string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindNetwork, err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := errors.KindUnknown
		if errors.IsRetryableStatusCode(resp.StatusCode) {
			kind = errors.KindNetwork
		}
		return errors.Newf(kind, "download failed with status %d", resp.StatusCode)
	}

	// Write through a temp file so readers never see a partial image
	tmp, err := os.CreateTemp(c.dir, filename+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize image file: %w", err)
	}
	return nil
}
