package monitor

import (
	"context"
	"time"

	"eventscout/pkg/models"
	"eventscout/pkg/remote"
)

// Persistence is the storage surface the sweep engine depends on
type Persistence interface {
	// ListActiveAccounts returns the accounts enrolled for monitoring
	ListActiveAccounts(ctx context.Context) ([]models.Account, error)

	// RecentPostIDs returns the newest external post IDs stored for the
	// account, newest first, capped at limit
	RecentPostIDs(ctx context.Context, accountID int64, limit int) ([]string, error)

	// PostExists reports whether the account already has the external ID
	PostExists(ctx context.Context, accountID int64, externalID string) (bool, error)

	// InsertPostIfAbsent stores the post unless the account already has its
	// external ID. It returns the stored post and whether a row was created.
	InsertPostIfAbsent(ctx context.Context, post *models.Post) (*models.Post, bool, error)

	// UpdateLastChecked records the completion time of an account's fetch
	UpdateLastChecked(ctx context.Context, accountID int64, t time.Time) error

	// LoadSettings returns the runtime settings row, creating defaults when
	// none exists yet
	LoadSettings(ctx context.Context) (*models.Settings, error)
}

// Classifier decides whether a caption describes an event poster
type Classifier interface {
	Classify(caption string) (isEvent bool, confidence float64)
}

// ImageCache stores poster images locally. Failures are reported but never
// block ingestion.
type ImageCache interface {
	Store(ctx context.Context, externalID, imageURL string) (localPath string, err error)
}

// SourceAdapter acquires posts for a single account
type SourceAdapter interface {
	// FetchLatest returns up to count posts not already in known, newest
	// first, stopping early once consecutive known posts reach the
	// configured threshold
	FetchLatest(ctx context.Context, account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error)

	// FetchSince returns posts published at or after since that are not in
	// known, newest first
	FetchSince(ctx context.Context, account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error)
}

// RemoteJobClient is the slice of the remote client the adapter needs
type RemoteJobClient interface {
	RunAndCollect(ctx context.Context, input remote.JobInput, limit int) ([]remote.Item, error)
	Signature() string
	RuntimeInfo() remote.RuntimeInfo
}
