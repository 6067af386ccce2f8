package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
)

func testRemoteConfig(baseURL string) *config.RemoteConfig {
	return &config.RemoteConfig{
		APIToken:       "tok",
		ActorID:        "actor1",
		BaseURL:        baseURL,
		JobTimeout:     2 * time.Second,
		PollInterval:   time.Second,
		RequestTimeout: 5 * time.Second,
		Bridge:         "off",
	}
}

func TestRunAndCollect(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/acts/actor1/runs":
			assert.Equal(t, "tok", r.URL.Query().Get("token"))
			var input JobInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
			assert.Equal(t, "posts", input.ResultsType)
			fmt.Fprint(w, `{"data": {"id": "run1", "status": "RUNNING"}}`)
		case r.URL.Path == "/actor-runs/run1":
			status := "RUNNING"
			if atomic.AddInt32(&polls, 1) >= 2 {
				status = "SUCCEEDED"
			}
			fmt.Fprintf(w, `{"data": {"id": "run1", "status": %q, "defaultDatasetId": "ds1"}}`, status)
		case r.URL.Path == "/datasets/ds1/items":
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `[
				{"shortCode": "abc", "caption": "live music friday", "displayUrl": "https://img/a.jpg",
					"timestamp": "2024-06-01T20:00:00.000Z", "ownerUsername": "venue_a"},
				{"shortcode": "def", "display_url": "https://img/b.jpg", "type": "Video",
					"inputUrl": "https://www.instagram.com/venue_b/"}
			]`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(testRemoteConfig(server.URL), logger.NewNop())
	require.NoError(t, err)
	client.pollInterval = 10 * time.Millisecond

	items, err := client.RunAndCollect(context.Background(), NewPostsInput([]string{"venue_a", "venue_b"}, 3), 3)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "abc", items[0].ExternalID())
	assert.Equal(t, "https://img/a.jpg", items[0].ImageURL())
	assert.Equal(t, "venue_a", items[0].Owner())
	assert.False(t, items[0].IsVideo())

	assert.Equal(t, "def", items[1].ExternalID())
	assert.Equal(t, "https://img/b.jpg", items[1].ImageURL())
	assert.Equal(t, "venue_b", items[1].Owner())
	assert.True(t, items[1].IsVideo())

	info := client.RuntimeInfo()
	assert.Equal(t, transportREST, info.LastTransport)
	assert.False(t, info.UsingBridge)
}

func TestRunAndCollectTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"data": {"id": "run1", "status": "RUNNING"}}`)
			return
		}
		fmt.Fprint(w, `{"data": {"id": "run1", "status": "RUNNING"}}`)
	}))
	defer server.Close()

	cfg := testRemoteConfig(server.URL)
	cfg.JobTimeout = 50 * time.Millisecond
	client, err := NewClient(cfg, logger.NewNop())
	require.NoError(t, err)
	client.pollInterval = 10 * time.Millisecond

	_, err = client.RunAndCollect(context.Background(), NewPostsInput([]string{"venue_a"}, 5), 5)
	require.Error(t, err)
	assert.Equal(t, errors.KindRemoteTimeout, errors.KindOf(err))
}

func TestRunAndCollectFailedRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"id": "run1", "status": "FAILED"}}`)
	}))
	defer server.Close()

	client, err := NewClient(testRemoteConfig(server.URL), logger.NewNop())
	require.NoError(t, err)

	_, err = client.RunAndCollect(context.Background(), NewPostsInput([]string{"venue_a"}, 5), 5)
	require.Error(t, err)
	assert.Equal(t, errors.KindRemoteIntegration, errors.KindOf(err))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(&config.RemoteConfig{ActorID: "a"}, logger.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewClient(&config.RemoteConfig{APIToken: "t"}, logger.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestSignature(t *testing.T) {
	client, err := NewClient(testRemoteConfig("http://example.invalid"), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "tok:actor1", client.Signature())
}

func TestItemOwnerFromInputURL(t *testing.T) {
	it := Item{InputURL: "https://www.instagram.com/venue_c/"}
	assert.Equal(t, "venue_c", it.Owner())

	it = Item{InputURL: "https://elsewhere.example/venue_c/"}
	assert.Equal(t, "", it.Owner())
}

func TestItemPublishedAtFallback(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	it := Item{Timestamp: "2024-05-30T18:30:00Z"}
	assert.Equal(t, time.Date(2024, 5, 30, 18, 30, 0, 0, time.UTC), it.PublishedAt(now))

	it = Item{Timestamp: "not-a-time"}
	assert.Equal(t, now, it.PublishedAt(now))

	it = Item{}
	assert.Equal(t, now, it.PublishedAt(now))
}
