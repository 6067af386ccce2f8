// Package store implements Postgres persistence for accounts, posts and
// runtime settings.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventscout/pkg/logger"
	"eventscout/pkg/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Store wraps a pgx connection pool
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects to the database and verifies the connection
func New(ctx context.Context, databaseURL string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{pool: pool, logger: log}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema when it does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  BIGSERIAL PRIMARY KEY,
	username            TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL DEFAULT '',
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	classification_mode TEXT NOT NULL DEFAULT 'manual',
	last_checked        TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posts (
	id                        BIGSERIAL PRIMARY KEY,
	account_id                BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	external_id               TEXT NOT NULL,
	caption                   TEXT NOT NULL DEFAULT '',
	image_url                 TEXT NOT NULL DEFAULT '',
	local_image_path          TEXT NOT NULL DEFAULT '',
	published_at              TIMESTAMPTZ NOT NULL,
	is_video                  BOOLEAN NOT NULL DEFAULT FALSE,
	is_event_poster           BOOLEAN,
	classification_confidence DOUBLE PRECISION,
	processed                 BOOLEAN NOT NULL DEFAULT FALSE,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_id, external_id)
);

CREATE INDEX IF NOT EXISTS posts_account_published_idx
	ON posts (account_id, published_at DESC);

CREATE TABLE IF NOT EXISTS settings (
	id                       SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	monitoring_enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	monitor_interval_minutes INTEGER NOT NULL DEFAULT 45,
	classification_mode      TEXT NOT NULL DEFAULT 'manual',
	account_delay_seconds    INTEGER NOT NULL DEFAULT 2,
	fetch_mode               TEXT NOT NULL DEFAULT 'auto',
	remote_enabled           BOOLEAN NOT NULL DEFAULT FALSE,
	remote_results_limit     INTEGER NOT NULL DEFAULT 30,
	remote_api_token         TEXT NOT NULL DEFAULT '',
	remote_actor_id          TEXT NOT NULL DEFAULT '',
	session_username         TEXT NOT NULL DEFAULT ''
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateAccount inserts a new monitored account
func (s *Store) CreateAccount(ctx context.Context, username, name string, classificationMode string) (*models.Account, error) {
	if classificationMode == "" {
		classificationMode = models.ClassificationManual
	}
	var account models.Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (username, name, classification_mode)
		VALUES ($1, $2, $3)
		RETURNING id, username, name, active, classification_mode, last_checked, created_at`,
		username, name, classificationMode,
	).Scan(&account.ID, &account.Username, &account.Name, &account.Active,
		&account.ClassificationMode, &account.LastChecked, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

// GetAccount returns one account by id
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, name, active, classification_mode, last_checked, created_at
		FROM accounts WHERE id = $1`, id,
	).Scan(&account.ID, &account.Username, &account.Name, &account.Active,
		&account.ClassificationMode, &account.LastChecked, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccounts returns all accounts, newest first
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return s.queryAccounts(ctx, `
		SELECT id, username, name, active, classification_mode, last_checked, created_at
		FROM accounts ORDER BY created_at DESC`)
}

// ListActiveAccounts returns the accounts enrolled for monitoring
func (s *Store) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	return s.queryAccounts(ctx, `
		SELECT id, username, name, active, classification_mode, last_checked, created_at
		FROM accounts WHERE active ORDER BY id`)
}

func (s *Store) queryAccounts(ctx context.Context, sql string, args ...interface{}) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.Username, &account.Name, &account.Active,
			&account.ClassificationMode, &account.LastChecked, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateAccount mutates the editable account fields
func (s *Store) UpdateAccount(ctx context.Context, id int64, name *string, active *bool, classificationMode *string) (*models.Account, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET
			name = COALESCE($2, name),
			active = COALESCE($3, active),
			classification_mode = COALESCE($4, classification_mode)
		WHERE id = $1`, id, name, active, classificationMode)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetAccount(ctx, id)
}

// DeleteAccount removes an account and its posts
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastChecked records the completion time of an account fetch
func (s *Store) UpdateLastChecked(ctx context.Context, accountID int64, t time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET last_checked = $2 WHERE id = $1`, accountID, t)
	if err != nil {
		return fmt.Errorf("failed to update last_checked: %w", err)
	}
	return nil
}

// RecentPostIDs returns the newest external post IDs for an account
func (s *Store) RecentPostIDs(ctx context.Context, accountID int64, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_id FROM posts
		WHERE account_id = $1
		ORDER BY published_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent post ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostExists reports whether the account already has the external ID
func (s *Store) PostExists(ctx context.Context, accountID int64, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM posts WHERE account_id = $1 AND external_id = $2)`,
		accountID, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check post existence: %w", err)
	}
	return exists, nil
}

// InsertPostIfAbsent stores the post unless the uniqueness constraint says
// it already exists. The constraint is what makes concurrent sweeps safe.
func (s *Store) InsertPostIfAbsent(ctx context.Context, post *models.Post) (*models.Post, bool, error) {
	stored := *post
	err := s.pool.QueryRow(ctx, `
		INSERT INTO posts (account_id, external_id, caption, image_url, local_image_path,
			published_at, is_video, is_event_poster, classification_confidence, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, external_id) DO NOTHING
		RETURNING id, created_at`,
		post.AccountID, post.ExternalID, post.Caption, post.ImageURL, post.LocalImagePath,
		post.PublishedAt, post.IsVideo, post.IsEventPoster, post.ClassificationConfidence, post.Processed,
	).Scan(&stored.ID, &stored.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.getPostByExternalID(ctx, post.AccountID, post.ExternalID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert post: %w", err)
	}
	return &stored, true, nil
}

const postColumns = `id, account_id, external_id, caption, image_url, local_image_path,
	published_at, is_video, is_event_poster, classification_confidence, processed, created_at`

func scanPost(row pgx.Row) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.AccountID, &post.ExternalID, &post.Caption, &post.ImageURL,
		&post.LocalImagePath, &post.PublishedAt, &post.IsVideo, &post.IsEventPoster,
		&post.ClassificationConfidence, &post.Processed, &post.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	return &post, nil
}

func (s *Store) getPostByExternalID(ctx context.Context, accountID int64, externalID string) (*models.Post, error) {
	return scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE account_id = $1 AND external_id = $2`,
		accountID, externalID))
}

// GetPost returns one post by id
func (s *Store) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	return scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
}

// PostFilter narrows ListPosts
type PostFilter struct {
	AccountID     *int64
	IsEventPoster *bool
	Processed     *bool
	Limit         int
	Offset        int
}

// ListPosts returns posts matching the filter, newest first
func (s *Store) ListPosts(ctx context.Context, filter PostFilter) ([]models.Post, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE ($1::BIGINT IS NULL OR account_id = $1)
		  AND ($2::BOOLEAN IS NULL OR is_event_poster = $2)
		  AND ($3::BOOLEAN IS NULL OR processed = $3)
		ORDER BY published_at DESC
		LIMIT $4 OFFSET $5`,
		filter.AccountID, filter.IsEventPoster, filter.Processed, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// PostsMissingImages returns posts that have a source image URL but no local
// copy yet, newest first, capped at limit
func (s *Store) PostsMissingImages(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE image_url <> '' AND local_image_path = ''
		ORDER BY published_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts missing images: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// SetLocalImagePath records where a post's image was cached
func (s *Store) SetLocalImagePath(ctx context.Context, postID int64, path string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts SET local_image_path = $2 WHERE id = $1`, postID, path)
	if err != nil {
		return fmt.Errorf("failed to set local image path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClassifyPost records a manual or automatic classification verdict
func (s *Store) ClassifyPost(ctx context.Context, id int64, isEventPoster bool, confidence *float64) (*models.Post, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts SET is_event_poster = $2, classification_confidence = $3, processed = TRUE
		WHERE id = $1`, id, isEventPoster, confidence)
	if err != nil {
		return nil, fmt.Errorf("failed to classify post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetPost(ctx, id)
}

// LoadSettings returns the settings row, inserting defaults on first use
func (s *Store) LoadSettings(ctx context.Context) (*models.Settings, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return nil, fmt.Errorf("failed to ensure settings row: %w", err)
	}

	var settings models.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT monitoring_enabled, monitor_interval_minutes, classification_mode,
			account_delay_seconds, fetch_mode, remote_enabled, remote_results_limit,
			remote_api_token, remote_actor_id, session_username
		FROM settings WHERE id = 1`,
	).Scan(&settings.MonitoringEnabled, &settings.MonitorIntervalMins, &settings.ClassificationMode,
		&settings.AccountDelaySeconds, &settings.FetchMode, &settings.RemoteEnabled,
		&settings.RemoteResultsLimit, &settings.RemoteAPIToken, &settings.RemoteActorID,
		&settings.SessionUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings overwrites the settings row
func (s *Store) SaveSettings(ctx context.Context, settings *models.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, monitoring_enabled, monitor_interval_minutes, classification_mode,
			account_delay_seconds, fetch_mode, remote_enabled, remote_results_limit,
			remote_api_token, remote_actor_id, session_username)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			monitoring_enabled = EXCLUDED.monitoring_enabled,
			monitor_interval_minutes = EXCLUDED.monitor_interval_minutes,
			classification_mode = EXCLUDED.classification_mode,
			account_delay_seconds = EXCLUDED.account_delay_seconds,
			fetch_mode = EXCLUDED.fetch_mode,
			remote_enabled = EXCLUDED.remote_enabled,
			remote_results_limit = EXCLUDED.remote_results_limit,
			remote_api_token = EXCLUDED.remote_api_token,
			remote_actor_id = EXCLUDED.remote_actor_id,
			session_username = EXCLUDED.session_username`,
		settings.MonitoringEnabled, settings.MonitorIntervalMins, settings.ClassificationMode,
		settings.AccountDelaySeconds, settings.FetchMode, settings.RemoteEnabled,
		settings.RemoteResultsLimit, settings.RemoteAPIToken, settings.RemoteActorID,
		settings.SessionUsername)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
