package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscout/pkg/logger"
)

func TestStoreDownloadsAndReuses(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	cache, err := New(dir, 5*time.Second, logger.NewNop())
	require.NoError(t, err)

	name, err := cache.Store(context.Background(), "p1", server.URL+"/img.jpg")
	require.NoError(t, err)
	assert.Equal(t, Filename("p1", server.URL+"/img.jpg"), name)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	// Second store finds the file and skips the download
	again, err := cache.Store(context.Background(), "p1", server.URL+"/img.jpg")
	require.NoError(t, err)
	assert.Equal(t, name, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestStoreFailsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	cache, err := New(t.TempDir(), 5*time.Second, logger.NewNop())
	require.NoError(t, err)

	_, err = cache.Store(context.Background(), "p1", server.URL+"/img.jpg")
	require.Error(t, err)
}

func TestStoreRejectsEmptyURL(t *testing.T) {
	cache, err := New(t.TempDir(), 5*time.Second, logger.NewNop())
	require.NoError(t, err)

	_, err = cache.Store(context.Background(), "p1", "")
	require.Error(t, err)
}

func TestFilenameDistinguishesURLs(t *testing.T) {
	a := Filename("p1", "https://cdn/img-a.jpg")
	b := Filename("p1", "https://cdn/img-b.jpg")
	assert.NotEqual(t, a, b)
}

func TestPrefetchPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	cache, err := New(t.TempDir(), 5*time.Second, logger.NewNop())
	require.NoError(t, err)

	pool := NewPrefetchPool(cache, 2, logger.NewNop())
	pool.Start()

	jobs := []PrefetchJob{
		{ExternalID: "p1", ImageURL: server.URL + "/a.jpg"},
		{ExternalID: "p2", ImageURL: server.URL + "/b.jpg"},
		{ExternalID: "p3", ImageURL: ""},
	}
	for _, job := range jobs {
		require.NoError(t, pool.Submit(job))
	}

	done := make(chan struct{})
	var succeeded, failed int
	go func() {
		defer close(done)
		for result := range pool.Results() {
			if result.Err != nil {
				failed++
			} else {
				succeeded++
			}
		}
	}()

	pool.Stop()
	<-done

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
}
