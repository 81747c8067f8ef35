package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "U123/C456", Key("U123", "C456"))
}

func TestNewSessionDefaults(t *testing.T) {
	now := time.Now().UTC()
	sess := New("U123", "C456", "C06CF1", "main", now)

	assert.Equal(t, "U123/C456", sess.ID)
	assert.Equal(t, StatusPending, sess.Status)
	assert.Equal(t, StateUnknown, sess.LastState)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, now, sess.CreatedAt)
	assert.Zero(t, sess.ConsecutiveFailures)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusStopped.Terminal())
	assert.True(t, StatusErrored.Terminal())
}

func TestCloneIsIndependent(t *testing.T) {
	sess := New("U123", "C456", "C06CF1", "", time.Now().UTC())
	clone := sess.Clone()

	clone.Status = StatusActive
	clone.Version = 7

	assert.Equal(t, StatusPending, sess.Status)
	assert.Equal(t, int64(1), sess.Version)
}
