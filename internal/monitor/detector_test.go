package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skydz/dropwatch/internal/session"
)

func newTestSession() *session.Session {
	return session.New("U123", "C456", "C06CF1", "main", time.Now().UTC())
}

func TestDetectInitialStateCommitsImmediately(t *testing.T) {
	d := &Detector{Confirmations: 2}
	sess := newTestSession()
	now := time.Now().UTC()

	// First real observation after UNKNOWN has nothing to flap against
	event := d.Detect(sess, session.StateAirborne, now, nil)
	require.NotNil(t, event)
	assert.Equal(t, session.StateUnknown, event.From)
	assert.Equal(t, session.StateAirborne, event.To)
	assert.Equal(t, session.StateAirborne, sess.LastState)
	assert.Equal(t, now, sess.LastTransitionAt)
	assert.NotEmpty(t, event.ID)
}

func TestDetectDebounceRequiresConsecutiveObservations(t *testing.T) {
	d := &Detector{Confirmations: 2}
	sess := newTestSession()
	now := time.Now().UTC()

	// Establish AIRBORNE, then observe LANDED twice: exactly one
	// transition event, after the second observation
	require.NotNil(t, d.Detect(sess, session.StateAirborne, now, nil))

	event := d.Detect(sess, session.StateLanded, now.Add(30*time.Second), nil)
	assert.Nil(t, event)
	assert.Equal(t, session.StateAirborne, sess.LastState)
	assert.Equal(t, session.StateLanded, sess.PendingState)
	assert.Equal(t, 1, sess.PendingCount)

	event = d.Detect(sess, session.StateLanded, now.Add(60*time.Second), nil)
	require.NotNil(t, event)
	assert.Equal(t, session.StateAirborne, event.From)
	assert.Equal(t, session.StateLanded, event.To)
	assert.Equal(t, session.StateLanded, sess.LastState)
	assert.Empty(t, sess.PendingState)
	assert.Zero(t, sess.PendingCount)
}

func TestDetectFlappingSuppressed(t *testing.T) {
	d := &Detector{Confirmations: 2}
	sess := newTestSession()
	now := time.Now().UTC()

	require.NotNil(t, d.Detect(sess, session.StateInZone, now, nil))

	// A single OUT_OF_ZONE blip followed by a return to IN_ZONE must not
	// produce an event, and must clear the pending counter
	assert.Nil(t, d.Detect(sess, session.StateOutOfZone, now, nil))
	assert.Nil(t, d.Detect(sess, session.StateInZone, now, nil))
	assert.Equal(t, session.StateInZone, sess.LastState)
	assert.Empty(t, sess.PendingState)
	assert.Zero(t, sess.PendingCount)

	// The next excursion starts its count from scratch
	assert.Nil(t, d.Detect(sess, session.StateOutOfZone, now, nil))
	assert.Equal(t, 1, sess.PendingCount)
}

func TestDetectUnknownDoesNotDisturbPending(t *testing.T) {
	d := &Detector{Confirmations: 2}
	sess := newTestSession()
	now := time.Now().UTC()

	require.NotNil(t, d.Detect(sess, session.StateAirborne, now, nil))
	assert.Nil(t, d.Detect(sess, session.StateLanded, now, nil))

	// A lost snapshot mid-confirmation neither commits nor resets
	assert.Nil(t, d.Detect(sess, session.StateUnknown, now, nil))
	assert.Equal(t, session.StateLanded, sess.PendingState)
	assert.Equal(t, 1, sess.PendingCount)

	// The confirmation then completes as if uninterrupted
	event := d.Detect(sess, session.StateLanded, now, nil)
	require.NotNil(t, event)
	assert.Equal(t, session.StateLanded, event.To)
}

func TestDetectPendingStateSwitchRestartsCount(t *testing.T) {
	d := &Detector{Confirmations: 3}
	sess := newTestSession()
	now := time.Now().UTC()

	require.NotNil(t, d.Detect(sess, session.StateInZone, now, nil))

	assert.Nil(t, d.Detect(sess, session.StateOutOfZone, now, nil))
	assert.Nil(t, d.Detect(sess, session.StateOutOfZone, now, nil))

	// A different candidate replaces the pending change and restarts
	assert.Nil(t, d.Detect(sess, session.StateLanded, now, nil))
	assert.Equal(t, session.StateLanded, sess.PendingState)
	assert.Equal(t, 1, sess.PendingCount)
}

func TestDetectZeroConfirmationsCommitsImmediately(t *testing.T) {
	d := &Detector{}
	sess := newTestSession()
	now := time.Now().UTC()

	require.NotNil(t, d.Detect(sess, session.StateAirborne, now, nil))
	event := d.Detect(sess, session.StateLanded, now, nil)
	require.NotNil(t, event)
	assert.Equal(t, session.StateLanded, event.To)
}
