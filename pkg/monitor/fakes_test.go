package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventscout/pkg/models"
	"eventscout/pkg/remote"
)

// fakeDB is an in-memory Persistence implementation for orchestrator tests
type fakeDB struct {
	mu          sync.Mutex
	accounts    []models.Account
	settings    models.Settings
	posts       map[int64]map[string]*models.Post
	lastChecked map[int64]time.Time
	nextPostID  int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		settings: models.Settings{
			MonitoringEnabled:   true,
			MonitorIntervalMins: 45,
			ClassificationMode:  models.ClassificationManual,
			FetchMode:           "direct",
			RemoteResultsLimit:  30,
		},
		posts:       make(map[int64]map[string]*models.Post),
		lastChecked: make(map[int64]time.Time),
	}
}

func (f *fakeDB) addAccount(id int64, username string, classificationMode string) {
	f.accounts = append(f.accounts, models.Account{
		ID:                 id,
		Username:           username,
		Active:             true,
		ClassificationMode: classificationMode,
	})
}

func (f *fakeDB) seedPost(accountID int64, externalID string, publishedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts[accountID] == nil {
		f.posts[accountID] = make(map[string]*models.Post)
	}
	f.nextPostID++
	f.posts[accountID][externalID] = &models.Post{
		ID:          f.nextPostID,
		AccountID:   accountID,
		ExternalID:  externalID,
		PublishedAt: publishedAt,
	}
}

func (f *fakeDB) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Account, len(f.accounts))
	copy(out, f.accounts)
	return out, nil
}

func (f *fakeDB) RecentPostIDs(ctx context.Context, accountID int64, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	posts := make([]*models.Post, 0, len(f.posts[accountID]))
	for _, p := range f.posts[accountID] {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
	var ids []string
	for _, p := range posts {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, p.ExternalID)
	}
	return ids, nil
}

func (f *fakeDB) PostExists(ctx context.Context, accountID int64, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.posts[accountID][externalID]
	return ok, nil
}

func (f *fakeDB) InsertPostIfAbsent(ctx context.Context, post *models.Post) (*models.Post, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts[post.AccountID] == nil {
		f.posts[post.AccountID] = make(map[string]*models.Post)
	}
	if existing, ok := f.posts[post.AccountID][post.ExternalID]; ok {
		return existing, false, nil
	}
	f.nextPostID++
	stored := *post
	stored.ID = f.nextPostID
	f.posts[post.AccountID][post.ExternalID] = &stored
	return &stored, true, nil
}

func (f *fakeDB) UpdateLastChecked(ctx context.Context, accountID int64, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastChecked[accountID] = t
	return nil
}

func (f *fakeDB) LoadSettings(ctx context.Context) (*models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	return &s, nil
}

func (f *fakeDB) postCount(accountID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts[accountID])
}

func (f *fakeDB) storedPost(accountID int64, externalID string) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[accountID][externalID]
}

// fakeAdapter is a scripted SourceAdapter
type fakeAdapter struct {
	mu          sync.Mutex
	latestFn    func(account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error)
	sinceFn     func(account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error)
	latestCalls int
	sinceCalls  int
}

func (f *fakeAdapter) FetchLatest(ctx context.Context, account *models.Account, known models.KnownIDSet, count int) ([]models.CandidatePost, error) {
	f.mu.Lock()
	f.latestCalls++
	f.mu.Unlock()
	if f.latestFn == nil {
		return nil, nil
	}
	return f.latestFn(account, known, count)
}

func (f *fakeAdapter) FetchSince(ctx context.Context, account *models.Account, known models.KnownIDSet, since time.Time) ([]models.CandidatePost, error) {
	f.mu.Lock()
	f.sinceCalls++
	f.mu.Unlock()
	if f.sinceFn == nil {
		return nil, nil
	}
	return f.sinceFn(account, known, since)
}

func (f *fakeAdapter) calls() (latest, since int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestCalls, f.sinceCalls
}

// fakeJobClient is a scripted RemoteJobClient
type fakeJobClient struct {
	mu    sync.Mutex
	runFn func(input remote.JobInput, limit int) ([]remote.Item, error)
	runs  []remote.JobInput
}

func (f *fakeJobClient) RunAndCollect(ctx context.Context, input remote.JobInput, limit int) ([]remote.Item, error) {
	f.mu.Lock()
	f.runs = append(f.runs, input)
	f.mu.Unlock()
	if f.runFn == nil {
		return nil, nil
	}
	return f.runFn(input, limit)
}

func (f *fakeJobClient) Signature() string { return "fake:actor" }

func (f *fakeJobClient) RuntimeInfo() remote.RuntimeInfo {
	return remote.RuntimeInfo{LastTransport: "rest"}
}

func (f *fakeJobClient) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

// serveOnePostPerAccount scripts the client to return one fresh item for
// every requested profile URL
func (f *fakeJobClient) serveOnePostPerAccount(base time.Time) {
	f.runFn = func(input remote.JobInput, limit int) ([]remote.Item, error) {
		var items []remote.Item
		for i, u := range input.DirectURLs {
			owner := u[len("https://www.instagram.com/") : len(u)-1]
			items = append(items, remote.Item{
				ShortCode:     owner + "-r1",
				Caption:       "upcoming event at " + owner,
				DisplayURL:    "https://img/" + owner + ".jpg",
				Timestamp:     base.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
				OwnerUsername: owner,
			})
		}
		return items, nil
	}
}

// fakeClassifier flags captions containing "event"
type fakeClassifier struct{}

func (fakeClassifier) Classify(caption string) (bool, float64) {
	if caption == "" {
		return false, 0.0
	}
	return true, 0.9
}

// fakeImages records stores and can be scripted to fail
type fakeImages struct {
	mu     sync.Mutex
	fail   bool
	stored []string
}

func (f *fakeImages) Store(ctx context.Context, externalID, imageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("download failed")
	}
	f.stored = append(f.stored, externalID)
	return externalID + ".jpg", nil
}

func (f *fakeImages) storeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}
