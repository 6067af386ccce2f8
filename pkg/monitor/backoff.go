package monitor

import (
	"sync"
	"time"
)

// BackoffState tracks the throttle circuit for the direct source. After a
// rate-limit strike the direct path stays closed until the deadline passes;
// expiry is lazy, checked on the next read.
type BackoffState struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewBackoffState creates an idle backoff state
func NewBackoffState() *BackoffState {
	return &BackoffState{now: time.Now}
}

// Schedule closes the direct path for the given duration
func (b *BackoffState) Schedule(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until = b.now().Add(d)
}

// Clear reopens the direct path immediately
func (b *BackoffState) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until = time.Time{}
}

// Active reports whether the backoff window is still open, clearing the
// state when the deadline has passed
func (b *BackoffState) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return false
	}
	if !b.now().Before(b.until) {
		b.until = time.Time{}
		return false
	}
	return true
}

// Remaining returns the time left in the window, zero when idle
func (b *BackoffState) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return 0
	}
	d := b.until.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}

// Until returns the deadline, zero time when idle
func (b *BackoffState) Until() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.until
}
