package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads a session from environment variables. It is
// read-only and mostly serves containerized deployments.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(username string) (*Session, error) {
	sessionID := os.Getenv("EVENTSCOUT_SESSION_ID")
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	if username == "" {
		username = "default"
	}
	return &Session{
		Username:     username,
		SessionID:    sessionID,
		CSRFToken:    os.Getenv("EVENTSCOUT_CSRF_TOKEN"),
		DSUserID:     os.Getenv("EVENTSCOUT_DS_USER_ID"),
		UserAgent:    os.Getenv("EVENTSCOUT_USER_AGENT"),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Session, error) {
	session, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	return []*Session{session}, nil
}

func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(username string) bool {
	return os.Getenv("EVENTSCOUT_SESSION_ID") != ""
}
