package models

import "time"

// FetchMode selects which source the orchestrator may use
type FetchMode string

const (
	FetchModeDirect FetchMode = "direct"
	FetchModeRemote FetchMode = "remote"
	FetchModeAuto   FetchMode = "auto"
)

// ParseFetchMode normalizes a stored mode string, defaulting to auto
func ParseFetchMode(s string) FetchMode {
	switch FetchMode(s) {
	case FetchModeDirect, FetchModeRemote:
		return FetchMode(s)
	default:
		return FetchModeAuto
	}
}

// Classification modes for accounts and the global setting
const (
	ClassificationManual = "manual"
	ClassificationAuto   = "auto"
)

// Account is a monitored Instagram profile
type Account struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Name               string     `json:"name"`
	Active             bool       `json:"active"`
	ClassificationMode string     `json:"classification_mode"`
	LastChecked        *time.Time `json:"last_checked"`
	CreatedAt          time.Time  `json:"created_at"`
}

// CandidatePost is a normalized, source-agnostic post record produced by a
// source adapter. It exists only for the duration of one sweep.
type CandidatePost struct {
	ExternalID  string    `json:"external_id"`
	Caption     string    `json:"caption"`
	ImageURL    string    `json:"image_url"`
	PublishedAt time.Time `json:"published_at"`
	IsVideo     bool      `json:"is_video"`
}

// Post is a persisted Instagram post
type Post struct {
	ID                       int64     `json:"id"`
	AccountID                int64     `json:"account_id"`
	ExternalID               string    `json:"external_id"`
	Caption                  string    `json:"caption"`
	ImageURL                 string    `json:"image_url"`
	LocalImagePath           string    `json:"local_image_path"`
	PublishedAt              time.Time `json:"published_at"`
	IsVideo                  bool      `json:"is_video"`
	IsEventPoster            *bool     `json:"is_event_poster"`
	ClassificationConfidence *float64  `json:"classification_confidence"`
	Processed                bool      `json:"processed"`
	CreatedAt                time.Time `json:"created_at"`
}

// Settings is the mutable runtime configuration row, re-read each sweep
type Settings struct {
	MonitoringEnabled    bool   `json:"monitoring_enabled"`
	MonitorIntervalMins  int    `json:"monitor_interval_minutes"`
	ClassificationMode   string `json:"classification_mode"`
	AccountDelaySeconds  int    `json:"account_delay_seconds"`
	FetchMode            string `json:"fetch_mode"`
	RemoteEnabled        bool   `json:"remote_enabled"`
	RemoteResultsLimit   int    `json:"remote_results_limit"`
	RemoteAPIToken       string `json:"-"`
	RemoteActorID        string `json:"remote_actor_id"`
	SessionUsername      string `json:"session_username"`
}

// Mode returns the normalized fetch mode
func (s *Settings) Mode() FetchMode {
	return ParseFetchMode(s.FetchMode)
}

// RemoteReady reports whether the remote integration is fully configured
func (s *Settings) RemoteReady() bool {
	return s.RemoteAPIToken != "" && s.RemoteActorID != ""
}

// SweepStats aggregates the outcome of one monitoring sweep
type SweepStats struct {
	AccountsProcessed int `json:"accounts_processed"`
	PostsCreated      int `json:"posts_created"`
	PostsClassified   int `json:"posts_classified"`
}

// KnownIDSet is the set of recently persisted external post identifiers for
// one account. It is a read-only snapshot for the duration of a sweep.
type KnownIDSet map[string]struct{}

// NewKnownIDSet builds a set from a slice of identifiers
func NewKnownIDSet(ids []string) KnownIDSet {
	set := make(KnownIDSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has reports whether id is in the set
func (k KnownIDSet) Has(id string) bool {
	_, ok := k[id]
	return ok
}
