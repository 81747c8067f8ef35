package session

import (
	"errors"
	"fmt"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when no session exists for the given ID
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyActive is returned when the requester already owns a live session
	ErrAlreadyActive = errors.New("session already active for requester")

	// ErrConflict is returned when a conditional update carries a stale version.
	// The caller must re-read the session and retry.
	ErrConflict = errors.New("session version conflict")
)

// Status represents the lifecycle status of a monitoring session
type Status string

const (
	StatusPending Status = "PENDING" // created, no successful poll yet
	StatusActive  Status = "ACTIVE"  // polling normally
	StatusStopped Status = "STOPPED" // terminated by a stop command
	StatusErrored Status = "ERRORED" // terminated after sustained poll failures
)

// Terminal reports whether the status permits no further polling
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusErrored
}

// State represents the classified state of the tracked aircraft
type State string

const (
	StateUnknown   State = "UNKNOWN"
	StateAirborne  State = "AIRBORNE"
	StateLanded    State = "LANDED"
	StateInZone    State = "IN_ZONE"
	StateOutOfZone State = "OUT_OF_ZONE"
)

// Session is one active monitoring request for a single aircraft,
// owned by one requester. All mutation goes through the store's
// conditional Update; Version is bumped on every persisted write.
type Session struct {
	ID         string `json:"id"`
	Requester  string `json:"requester"`
	Channel    string `json:"channel"`
	AircraftID string `json:"aircraft_id"`
	ZoneID     string `json:"zone_id,omitempty"`

	Status    Status `json:"status"`
	LastState State  `json:"last_state"`

	// Debounce bookkeeping: a candidate state must be observed on
	// consecutive polls before it is committed. Persisted so a restart
	// does not forget an in-progress confirmation.
	PendingState State `json:"pending_state,omitempty"`
	PendingCount int   `json:"pending_count"`

	LastTransitionAt    time.Time `json:"last_transition_at,omitempty"`
	LastPollAt          time.Time `json:"last_poll_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key derives the session ID from requester and channel
func Key(requester, channel string) string {
	return fmt.Sprintf("%s/%s", requester, channel)
}

// New creates a PENDING session for the given requester and channel
func New(requester, channel, aircraftID, zoneID string, now time.Time) *Session {
	return &Session{
		ID:         Key(requester, channel),
		Requester:  requester,
		Channel:    channel,
		AircraftID: aircraftID,
		ZoneID:     zoneID,
		Status:     StatusPending,
		LastState:  StateUnknown,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Store is the durable mapping from session ID to session record.
// Update is conditional on the expected version; implementations must
// reject stale writes with ErrConflict rather than overwrite.
type Store interface {
	Create(sess *Session) error
	Get(id string) (*Session, error)
	Update(sess *Session, expectedVersion int64) error
	Delete(id string) error
	ListActive() ([]*Session, error)
	ListResumable() ([]*Session, error)
}
