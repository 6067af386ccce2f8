package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffStateLifecycle(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBackoffState()
	b.now = func() time.Time { return current }

	assert.False(t, b.Active())
	assert.Equal(t, time.Duration(0), b.Remaining())

	b.Schedule(15 * time.Minute)
	assert.True(t, b.Active())
	assert.Equal(t, 15*time.Minute, b.Remaining())
	assert.Equal(t, current.Add(15*time.Minute), b.Until())

	current = current.Add(10 * time.Minute)
	assert.True(t, b.Active())
	assert.Equal(t, 5*time.Minute, b.Remaining())
}

func TestBackoffStateLazyExpiry(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBackoffState()
	b.now = func() time.Time { return current }

	b.Schedule(time.Minute)
	current = current.Add(2 * time.Minute)

	assert.False(t, b.Active())
	// Expiry resets the deadline, subsequent reads see an idle state
	assert.True(t, b.Until().IsZero())
	assert.Equal(t, time.Duration(0), b.Remaining())
}

func TestBackoffStateClear(t *testing.T) {
	b := NewBackoffState()
	b.Schedule(time.Hour)
	assert.True(t, b.Active())

	b.Clear()
	assert.False(t, b.Active())
	assert.True(t, b.Until().IsZero())
}
