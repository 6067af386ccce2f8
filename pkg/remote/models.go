package remote

import (
	"fmt"
	"strings"
	"time"
)

// Run statuses reported by the actor platform
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED_OUT"
)

// IsTerminalStatus reports whether a run status is final
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// JobInput is the actor run input describing a posts-scrape job
type JobInput struct {
	DirectURLs                        []string `json:"directUrls"`
	ResultsType                       string   `json:"resultsType"`
	ResultsLimit                      int      `json:"resultsLimit"`
	MaxItems                          int      `json:"maxItems"`
	AddParentData                     bool     `json:"addParentData"`
	EnhanceUserSearchWithFacebookPage bool     `json:"enhanceUserSearchWithFacebookPage"`
	IsUserReelFeedURL                 bool     `json:"isUserReelFeedURL"`
	IsUserTaggedFeedURL               bool     `json:"isUserTaggedFeedURL"`
	SearchType                        string   `json:"searchType"`
	SearchLimit                       int      `json:"searchLimit"`
}

// NewPostsInput builds the run input for fetching recent posts of the given
// profiles, capped at limit items overall
func NewPostsInput(usernames []string, limit int) JobInput {
	if limit < 1 {
		limit = 1
	}
	urls := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u != "" {
			urls = append(urls, fmt.Sprintf("https://www.instagram.com/%s/", u))
		}
	}
	return JobInput{
		DirectURLs:   urls,
		ResultsType:  "posts",
		ResultsLimit: limit,
		MaxItems:     limit,
		SearchType:   "hashtag",
		SearchLimit:  1,
	}
}

// Run describes an actor run
type Run struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

// Item is one raw dataset item. The actor emits several historical shapes,
// so every aliased field is declared and resolved through accessors.
type Item struct {
	ShortCode          string      `json:"shortCode"`
	ShortcodeSnake     string      `json:"shortcode"`
	ID                 string      `json:"id"`
	Caption            string      `json:"caption"`
	DisplayURL         string      `json:"displayUrl"`
	DisplayURLSnake    string      `json:"display_url"`
	Images             []ItemImage `json:"images"`
	Timestamp          string      `json:"timestamp"`
	Type               string      `json:"type"`
	OwnerUsername      string      `json:"ownerUsername"`
	OwnerUsernameSnake string      `json:"owner_username"`
	InputURL           string      `json:"inputUrl"`
	InputURLSnake      string      `json:"input_url"`
}

// ItemImage is one entry of an item's images list
type ItemImage struct {
	URL        string `json:"url"`
	DisplayURL string `json:"displayUrl"`
}

// ExternalID returns the post identifier, preferring the shortcode aliases
func (it *Item) ExternalID() string {
	switch {
	case it.ShortCode != "":
		return it.ShortCode
	case it.ShortcodeSnake != "":
		return it.ShortcodeSnake
	default:
		return it.ID
	}
}

// ImageURL returns the best available image URL for the item
func (it *Item) ImageURL() string {
	if it.DisplayURL != "" {
		return it.DisplayURL
	}
	if it.DisplayURLSnake != "" {
		return it.DisplayURLSnake
	}
	if len(it.Images) > 0 {
		first := it.Images[0]
		if first.URL != "" {
			return first.URL
		}
		return first.DisplayURL
	}
	return ""
}

// Owner returns the username the item belongs to, falling back to the last
// path segment of the job's input URL
func (it *Item) Owner() string {
	if it.OwnerUsername != "" {
		return it.OwnerUsername
	}
	if it.OwnerUsernameSnake != "" {
		return it.OwnerUsernameSnake
	}
	inputURL := it.InputURL
	if inputURL == "" {
		inputURL = it.InputURLSnake
	}
	if inputURL == "" || !strings.Contains(inputURL, "instagram.com") {
		return ""
	}
	parts := strings.Split(strings.Trim(inputURL, "/"), "/")
	return parts[len(parts)-1]
}

// PublishedAt parses the item timestamp, falling back to now for missing or
// malformed values so ordering still has something to work with
func (it *Item) PublishedAt(now time.Time) time.Time {
	if it.Timestamp == "" {
		return now
	}
	ts, err := time.Parse(time.RFC3339, it.Timestamp)
	if err != nil {
		return now
	}
	return ts.UTC()
}

// IsVideo reports whether the item is a video post
func (it *Item) IsVideo() bool {
	return it.Type == "Video"
}

// RuntimeInfo describes which transport the client is using
type RuntimeInfo struct {
	PreferBridge    bool   `json:"prefer_bridge"`
	BridgeAvailable bool   `json:"bridge_available"`
	BridgeFailed    bool   `json:"bridge_failed"`
	UsingBridge     bool   `json:"using_bridge"`
	LastTransport   string `json:"last_transport"`
}
