package instagram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
)

func testClient(serverURL string) *Client {
	c := NewClient(&config.InstagramConfig{
		SessionID:         "sess",
		CSRFToken:         "csrf",
		UserAgent:         "test-agent",
		RequestTimeout:    5 * time.Second,
		RequestsPerMinute: 6000,
	}, logger.NewNop())
	c.SetBaseURL(serverURL)
	return c
}

func TestFetchUserProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ProfileEndpoint, r.URL.Path)
		assert.Equal(t, "venue_a", r.URL.Query().Get("username"))
		assert.Contains(t, r.Header.Get("Cookie"), "sessionid=sess")
		assert.Equal(t, "csrf", r.Header.Get("x-csrftoken"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {"user": {"id": "123", "username": "venue_a",
				"edge_owner_to_timeline_media": {"count": 2, "edges": [
					{"node": {"shortcode": "p1", "display_url": "https://img/1.jpg",
						"taken_at_timestamp": 1700000000,
						"edge_media_to_caption": {"edges": [{"node": {"text": "show tonight"}}]}}}
				]}}},
			"status": "ok"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	resp, err := client.FetchUserProfile(context.Background(), "venue_a")
	require.NoError(t, err)

	assert.Equal(t, "123", resp.Data.User.ID)
	require.Len(t, resp.Data.User.EdgeOwnerToTimelineMedia.Edges, 1)
	node := resp.Data.User.EdgeOwnerToTimelineMedia.Edges[0].Node
	assert.Equal(t, "p1", node.Shortcode)
	assert.Equal(t, "show tonight", node.Caption())
}

func TestFetchUserProfileLoginRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"requires_to_login": true}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchUserProfile(context.Background(), "venue_a")
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   errors.Kind
	}{
		{http.StatusTooManyRequests, errors.KindRateLimited},
		{http.StatusUnauthorized, errors.KindAuth},
		{http.StatusNotFound, errors.KindNotFound},
		{http.StatusBadGateway, errors.KindNetwork},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := testClient(server.URL)
		var out ProfileResponse
		err := client.GetJSON(context.Background(), server.URL+"/x", &out)
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, errors.KindOf(err), "status %d", tc.status)
		server.Close()
	}
}

func TestThrottleBodyDetection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "Please wait a few minutes before you try again."}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	var out ProfileResponse
	err := client.GetJSON(context.Background(), server.URL+"/x", &out)
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
}

func TestHasSession(t *testing.T) {
	withSession := NewClient(&config.InstagramConfig{SessionID: "s", RequestTimeout: time.Second}, logger.NewNop())
	assert.True(t, withSession.HasSession())

	without := NewClient(&config.InstagramConfig{RequestTimeout: time.Second}, logger.NewNop())
	assert.False(t, without.HasSession())
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "venue_a", SanitizeUsername("@venue_a"))
	assert.Equal(t, "venue_a", SanitizeUsername("venue_a/ "))
	assert.Equal(t, "", SanitizeUsername(""))
}
