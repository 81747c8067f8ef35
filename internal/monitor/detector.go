package monitor

import (
	"time"

	"github.com/google/uuid"
	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/session"
)

// TransitionEvent is a detected, debounced change in classified aircraft
// state, the unit that triggers notification.
type TransitionEvent struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	AircraftID string               `json:"aircraft_id"`
	From       session.State        `json:"from"`
	To         session.State        `json:"to"`
	At         time.Time            `json:"at"`
	Snapshot   *flightdata.Snapshot `json:"snapshot,omitempty"`
}

// Detector applies debounce/hysteresis to candidate state changes.
// A candidate state must be observed on Confirmations consecutive polls
// before it commits, which suppresses alert storms from noisy position
// data flapping between two states.
type Detector struct {
	// Confirmations is the number of consecutive observations required
	// to commit a state change. Minimum 1 (commit immediately).
	Confirmations int
}

// Detect evaluates a candidate classified state against the session's last
// committed state, updating the session's pending-state counters in place.
// It returns a TransitionEvent only when a change commits; the session's
// LastState and LastTransitionAt are updated as part of the commit.
//
// Rules:
//   - candidate equal to the committed state clears any pending change;
//   - UNKNOWN never commits and never touches the pending counters, so a
//     lost snapshot mid-confirmation does not restart the count;
//   - a change from the initial UNKNOWN state commits immediately, since
//     there is no prior observation to flap against.
func (d *Detector) Detect(sess *session.Session, candidate session.State, now time.Time, snap *flightdata.Snapshot) *TransitionEvent {
	if candidate == session.StateUnknown {
		return nil
	}

	if candidate == sess.LastState {
		sess.PendingState = ""
		sess.PendingCount = 0
		return nil
	}

	required := d.Confirmations
	if required < 1 {
		required = 1
	}
	if sess.LastState == session.StateUnknown {
		required = 1
	}

	if candidate == sess.PendingState {
		sess.PendingCount++
	} else {
		sess.PendingState = candidate
		sess.PendingCount = 1
	}

	if sess.PendingCount < required {
		return nil
	}

	event := &TransitionEvent{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		AircraftID: sess.AircraftID,
		From:       sess.LastState,
		To:         candidate,
		At:         now,
		Snapshot:   snap,
	}

	sess.LastState = candidate
	sess.LastTransitionAt = now
	sess.PendingState = ""
	sess.PendingCount = 0

	return event
}
