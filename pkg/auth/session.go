// Package auth manages Instagram session credentials across layered
// storage backends: the system keychain, an encrypted file and environment
// variables.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Session holds the Instagram web session cookies used by the direct
// scraping client
type Session struct {
	Username     string    `json:"username"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
	DSUserID     string    `json:"ds_user_id,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// SessionStore persists sessions under a username key
type SessionStore interface {
	Store(session *Session) error
	Retrieve(username string) (*Session, error)
	List() ([]*Session, error)
	Delete(username string) error
	Exists(username string) bool
}

// Errors shared by the stores
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSession   = errors.New("invalid session")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// allowedCookieKeys is the subset of Instagram cookies worth keeping
var allowedCookieKeys = map[string]bool{
	"sessionid":  true,
	"ds_user_id": true,
	"csrftoken":  true,
	"mid":        true,
	"ig_did":     true,
	"shbid":      true,
	"shbts":      true,
	"rur":        true,
	"urlgen":     true,
}

// ParseCookieInput accepts the formats operators paste: a JSON object, a
// browser cookie string ("k=v; k2=v2", newlines tolerated), or a bare
// sessionid value.
func ParseCookieInput(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		cookies := make(map[string]string, len(parsed))
		for k, v := range parsed {
			cookies[k] = fmt.Sprintf("%v", v)
		}
		return cookies
	}

	cookies := make(map[string]string)
	cleaned := strings.ReplaceAll(raw, "\n", ";")
	for _, segment := range strings.Split(cleaned, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" || !strings.Contains(segment, "=") {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		cookies[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(cookies) == 0 {
		cookies["sessionid"] = raw
	}
	return cookies
}

// NewSessionFromCookies builds a session from parsed cookies, keeping only
// the recognized keys. The sessionid cookie is mandatory.
func NewSessionFromCookies(username string, cookies map[string]string) (*Session, error) {
	if cookies["sessionid"] == "" {
		return nil, fmt.Errorf("%w: cookies must include sessionid", ErrInvalidSession)
	}
	session := &Session{
		Username:     username,
		LastModified: time.Now(),
	}
	for key, value := range cookies {
		if !allowedCookieKeys[key] || value == "" {
			continue
		}
		switch key {
		case "sessionid":
			session.SessionID = value
		case "csrftoken":
			session.CSRFToken = value
		case "ds_user_id":
			session.DSUserID = value
		}
	}
	return session, nil
}

// Manager layers session stores with fallback on store failure
type Manager struct {
	stores []SessionStore
}

// NewManager builds a manager over the available backends: keychain when
// usable, then the encrypted file, then environment variables.
func NewManager() (*Manager, error) {
	var stores []SessionStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "sessions.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over explicit stores (used in tests)
func NewManagerWithStores(stores ...SessionStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the session to the first backend that accepts it
func (m *Manager) Store(session *Session) error {
	if session.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidSession)
	}
	if session.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", ErrInvalidSession)
	}
	session.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(session); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store session: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve returns the session from the first backend that has it
func (m *Manager) Retrieve(username string) (*Session, error) {
	for _, store := range m.stores {
		if session, err := store.Retrieve(username); err == nil && session != nil {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, username)
}

// RetrieveDefault returns the environment session if present, otherwise the
// first stored one
func (m *Manager) RetrieveDefault() (*Session, error) {
	if len(m.stores) > 0 {
		if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
			if session, err := envStore.Retrieve(""); err == nil && session != nil {
				return session, nil
			}
		}
	}
	sessions, err := m.List()
	if err == nil && len(sessions) > 0 {
		return sessions[0], nil
	}
	return nil, ErrSessionNotFound
}

// List merges sessions from all backends, newest modification wins
func (m *Manager) List() ([]*Session, error) {
	byUser := make(map[string]*Session)
	for _, store := range m.stores {
		sessions, err := store.List()
		if err != nil {
			continue
		}
		for _, session := range sessions {
			existing, ok := byUser[session.Username]
			if !ok || session.LastModified.After(existing.LastModified) {
				byUser[session.Username] = session
			}
		}
	}

	var result []*Session
	for _, session := range byUser {
		result = append(result, session)
	}
	return result, nil
}

// Delete removes the session from every backend that has it
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete session: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrSessionNotFound, username)
}

// Masked returns a copy safe to log or display
func (s *Session) Masked() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		Username:     s.Username,
		SessionID:    maskString(s.SessionID),
		CSRFToken:    maskString(s.CSRFToken),
		DSUserID:     s.DSUserID,
		UserAgent:    s.UserAgent,
		LastModified: s.LastModified,
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// configDir resolves the per-user configuration directory
func configDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "eventscout")
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), "eventscout")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "eventscout")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "eventscout")
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
