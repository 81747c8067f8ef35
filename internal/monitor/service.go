package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/pkg/logger"
)

// errSuperseded reports that a terminal write from another goroutine landed
// first, so the caller's transition was discarded rather than persisted
var errSuperseded = errors.New("session superseded by terminal state")

// FlightClient fetches a position snapshot for one aircraft
type FlightClient interface {
	Fetch(ctx context.Context, hex string) (*flightdata.Snapshot, error)
}

// Notifier delivers transition and terminal notices. Delivery failures are
// best-effort: the loop logs them and moves on.
type Notifier interface {
	NotifyTransition(ctx context.Context, sess *session.Session, event *TransitionEvent) error
	NotifyTerminal(ctx context.Context, sess *session.Session, reason string) error
}

// Broadcaster pushes live events to connected dashboard clients
type Broadcaster interface {
	BroadcastEvent(eventType string, data map[string]any)
}

// Config holds the monitor loop parameters
type Config struct {
	PollInterval         time.Duration
	Thresholds           Thresholds
	DebounceObservations int
	FailureThreshold     int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
}

// Service owns one polling goroutine per live session. All shared state
// flows through the session store; runners never share mutable memory.
type Service struct {
	client      FlightClient
	store       session.Store
	notifier    Notifier
	broadcaster Broadcaster
	zones       map[string]*geo.Zone
	cfg         Config
	detector    *Detector
	logger      *logger.Logger

	mu      sync.Mutex
	baseCtx context.Context
	runners map[string]*runner
	wg      sync.WaitGroup
}

// runner tracks one session's polling goroutine
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// finish closes the done channel exactly once; the errored path tears the
// runner down before its goroutine exits, so the loop's own teardown must
// tolerate a second call.
func (r *runner) finish() {
	r.once.Do(func() { close(r.done) })
}

// NewService creates a new monitor service
func NewService(
	client FlightClient,
	store session.Store,
	notifier Notifier,
	broadcaster Broadcaster,
	zones []geo.Zone,
	cfg Config,
	log *logger.Logger,
) *Service {
	zoneMap := make(map[string]*geo.Zone, len(zones))
	for i := range zones {
		z := zones[i]
		zoneMap[z.ID] = &z
	}

	return &Service{
		client:      client,
		store:       store,
		notifier:    notifier,
		broadcaster: broadcaster,
		zones:       zoneMap,
		cfg:         cfg,
		detector:    &Detector{Confirmations: cfg.DebounceObservations},
		logger:      log.Named("monitor"),
	}
}

// Start resumes polling for every session that was live before the last
// shutdown (PENDING and ACTIVE).
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		logger.Duration("poll_interval", s.cfg.PollInterval),
		logger.Int("failure_threshold", s.cfg.FailureThreshold))

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	resumable, err := s.store.ListResumable()
	if err != nil {
		return fmt.Errorf("failed to list resumable sessions: %w", err)
	}

	for _, sess := range resumable {
		s.logger.Info("Resuming session",
			logger.String("session_id", sess.ID),
			logger.String("aircraft_id", sess.AircraftID),
			logger.String("status", string(sess.Status)))
		if err := s.spawn(sess.ID); err != nil {
			s.logger.Error("Failed to resume session",
				logger.Error(err),
				logger.String("session_id", sess.ID))
		}
	}

	return nil
}

// Stop cancels all runners and waits for them to exit. Sessions keep their
// persisted status, so live ones resume on the next start.
func (s *Service) Stop() {
	s.logger.Info("Stopping monitor service")

	s.mu.Lock()
	for _, r := range s.runners {
		r.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Monitor service stopped")
}

// StartSession validates the request, performs one synchronous fetch so an
// unknown aircraft is rejected up front, creates the session, and spawns
// its polling loop. The created session is PENDING until its first
// successful poll inside the loop.
func (s *Service) StartSession(ctx context.Context, requester, channel, aircraftID, zoneID string) (*session.Session, error) {
	if aircraftID == "" {
		return nil, fmt.Errorf("aircraft id must not be empty")
	}
	if zoneID != "" {
		if _, ok := s.zones[zoneID]; !ok {
			return nil, fmt.Errorf("unknown drop zone: %s", zoneID)
		}
	}

	// Validation fetch: an unknown aircraft rejects the start outright.
	// Transient source trouble is not a reason to refuse; the loop retries.
	if _, err := s.client.Fetch(ctx, aircraftID); err != nil {
		if errors.Is(err, flightdata.ErrNotFound) {
			return nil, fmt.Errorf("aircraft %s: %w", aircraftID, err)
		}
		s.logger.Warn("Validation fetch failed, starting session anyway",
			logger.String("aircraft_id", aircraftID),
			logger.Error(err))
	}

	sess := session.New(requester, channel, aircraftID, zoneID, time.Now().UTC())
	if err := s.store.Create(sess); err != nil {
		return nil, err
	}

	if err := s.spawn(sess.ID); err != nil {
		return nil, err
	}

	s.broadcast("session_started", map[string]any{"session": sess})

	return sess, nil
}

// StopSession cancels the session's polling loop, waits for any in-flight
// cycle to finish persisting, and marks the session STOPPED.
func (s *Service) StopSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	s.mu.Lock()
	r, running := s.runners[id]
	s.mu.Unlock()

	if running {
		r.cancel()
		<-r.done
	}

	// The runner has exited; re-read so the final cycle's write is visible
	sess, err = s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		// The final cycle errored the session on its own; it already
		// announced itself, so return what is on disk
		return sess, nil
	}

	sess.Status = session.StatusStopped
	if err := s.persist(sess); err != nil {
		if errors.Is(err, errSuperseded) {
			return s.store.Get(id)
		}
		return nil, fmt.Errorf("failed to mark session stopped: %w", err)
	}

	if err := s.notifier.NotifyTerminal(ctx, sess, "monitoring stopped"); err != nil {
		s.logger.Warn("Failed to deliver stop notification",
			logger.Error(err),
			logger.String("session_id", sess.ID))
	}

	s.broadcast("session_stopped", map[string]any{"session": sess})

	s.logger.Info("Session stopped",
		logger.String("session_id", sess.ID),
		logger.String("last_state", string(sess.LastState)))

	return sess, nil
}

// GetSession returns the current session record
func (s *Service) GetSession(id string) (*session.Session, error) {
	return s.store.Get(id)
}

// ListActiveSessions returns all ACTIVE sessions
func (s *Service) ListActiveSessions() ([]*session.Session, error) {
	return s.store.ListActive()
}

// spawn starts the polling goroutine for a session. At most one runner
// exists per session ID. Runners derive from the service lifecycle
// context set in Start, never from a request-scoped one.
func (s *Service) spawn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runners[id]; exists {
		return fmt.Errorf("polling loop already running for session %s", id)
	}

	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	runnerCtx, cancel := context.WithCancel(base)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	if s.runners == nil {
		s.runners = make(map[string]*runner)
	}
	s.runners[id] = r

	s.wg.Add(1)
	go s.runLoop(runnerCtx, id, r)

	return nil
}

// removeRunner deregisters a runner and releases anyone waiting on its done
// channel. The map check guards against unmapping a newer runner spawned
// under the same ID after this one was already torn down.
func (s *Service) removeRunner(id string, r *runner) {
	s.mu.Lock()
	if s.runners[id] == r {
		delete(s.runners, id)
	}
	s.mu.Unlock()
	r.finish()
}

// runLoop is one session's polling task. Cycles are strictly sequential:
// the next tick is not armed until the previous cycle's persistence is done.
func (s *Service) runLoop(ctx context.Context, id string, r *runner) {
	defer func() {
		s.removeRunner(id, r)
		s.wg.Done()
	}()

	log := s.logger.With(logger.String("session_id", id))
	log.Debug("Polling loop started")

	// Immediate first poll so a fresh session activates without waiting
	// a full interval
	cont, delay := s.pollOnce(ctx, id, r)
	if !cont {
		log.Debug("Polling loop exiting after first cycle")
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Polling loop cancelled")
			return
		case <-timer.C:
		}

		cont, delay = s.pollOnce(ctx, id, r)
		if !cont {
			log.Debug("Polling loop exiting")
			return
		}
		timer.Reset(delay)
	}
}

// pollOnce runs a single fetch → classify → detect → persist → notify
// cycle. It returns whether the loop should continue and the delay before
// the next cycle (the poll interval, or a capped exponential backoff while
// the source is failing).
func (s *Service) pollOnce(ctx context.Context, id string, r *runner) (bool, time.Duration) {
	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("Session deleted, stopping loop",
				logger.String("session_id", id))
			return false, 0
		}
		// Storage hiccups must not silently halt an ACTIVE session
		s.logger.Error("Failed to load session, retrying next cycle",
			logger.Error(err),
			logger.String("session_id", id))
		return true, s.cfg.PollInterval
	}
	if sess.Status.Terminal() {
		return false, 0
	}

	now := time.Now().UTC()
	snap, fetchErr := s.client.Fetch(ctx, sess.AircraftID)

	if fetchErr != nil {
		if ctx.Err() != nil {
			// Cancelled mid-fetch; nothing was classified, nothing to write
			return false, 0
		}
		return s.handleFetchFailure(ctx, sess, now, fetchErr, r)
	}

	sess.ConsecutiveFailures = 0
	sess.LastPollAt = now

	if sess.Status == session.StatusPending {
		sess.Status = session.StatusActive
		s.logger.Info("Session activated on first successful poll",
			logger.String("session_id", sess.ID),
			logger.String("aircraft_id", sess.AircraftID))
	}

	var zone *geo.Zone
	if sess.ZoneID != "" {
		zone = s.zones[sess.ZoneID]
	}

	candidate := Classify(snap, zone, s.cfg.Thresholds, now)
	event := s.detector.Detect(sess, candidate, now, snap)

	if err := s.persist(sess); err != nil {
		if errors.Is(err, errSuperseded) {
			// A concurrent stop committed first; this cycle's transition
			// was never persisted, so it must not be announced
			return false, 0
		}
		s.logger.Error("Failed to persist poll cycle",
			logger.Error(err),
			logger.String("session_id", sess.ID))
		return true, s.cfg.PollInterval
	}

	if event != nil {
		s.logger.Info("State transition committed",
			logger.String("session_id", sess.ID),
			logger.String("aircraft_id", sess.AircraftID),
			logger.String("from", string(event.From)),
			logger.String("to", string(event.To)))

		// Notification is best-effort; the persisted transition is the
		// source of truth
		if err := s.notifier.NotifyTransition(ctx, sess, event); err != nil {
			s.logger.Warn("Failed to deliver transition notification",
				logger.Error(err),
				logger.String("session_id", sess.ID))
		}

		s.broadcast("transition", map[string]any{
			"event":   event,
			"session": sess,
		})
	}

	return true, s.cfg.PollInterval
}

// handleFetchFailure books a transient failure, escalating to ERRORED once
// the consecutive-failure threshold is reached. This is the only fatal
// path; everything short of the threshold is retried with capped
// exponential backoff.
func (s *Service) handleFetchFailure(ctx context.Context, sess *session.Session, now time.Time, fetchErr error, r *runner) (bool, time.Duration) {
	sess.ConsecutiveFailures++
	sess.LastPollAt = now

	s.logger.Warn("Poll failed",
		logger.Error(fetchErr),
		logger.String("session_id", sess.ID),
		logger.Int("consecutive_failures", sess.ConsecutiveFailures),
		logger.Int("failure_threshold", s.cfg.FailureThreshold))

	if sess.ConsecutiveFailures >= s.cfg.FailureThreshold {
		sess.Status = session.StatusErrored
		if err := s.persist(sess); err != nil {
			if errors.Is(err, errSuperseded) {
				return false, 0
			}
			s.logger.Error("Failed to persist errored session",
				logger.Error(err),
				logger.String("session_id", sess.ID))
		}

		// Deregister before the outbound notification: the session is
		// already terminal in storage, and a fresh start for this
		// requester must not collide with a runner that is merely
		// waiting on a slow webhook
		s.removeRunner(sess.ID, r)

		reason := fmt.Sprintf("monitoring aborted after %d consecutive poll failures (last error: %v)",
			sess.ConsecutiveFailures, fetchErr)
		if err := s.notifier.NotifyTerminal(ctx, sess, reason); err != nil {
			s.logger.Warn("Failed to deliver terminal notification",
				logger.Error(err),
				logger.String("session_id", sess.ID))
		}

		s.broadcast("session_errored", map[string]any{"session": sess})

		return false, 0
	}

	if err := s.persist(sess); err != nil {
		if errors.Is(err, errSuperseded) {
			return false, 0
		}
		s.logger.Error("Failed to persist failure bookkeeping",
			logger.Error(err),
			logger.String("session_id", sess.ID))
	}

	return true, s.backoff(sess.ConsecutiveFailures)
}

// backoff returns the delay before the next attempt: initial * 2^(n-1),
// capped at the configured maximum.
func (s *Service) backoff(failures int) time.Duration {
	delay := s.cfg.BackoffInitial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if delay > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return delay
}

// persist writes the session back with optimistic concurrency. On a version
// conflict the latest record is re-read and the mutation re-applied once;
// the loop is the sole writer for a live session, so conflicts only arise
// around stop/restart races.
func (s *Service) persist(sess *session.Session) error {
	err := s.store.Update(sess, sess.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrConflict) {
		return err
	}

	latest, getErr := s.store.Get(sess.ID)
	if getErr != nil {
		return getErr
	}
	if latest.Status.Terminal() {
		// A stop won the race; do not resurrect the session, and tell
		// the caller its transition was never written
		return errSuperseded
	}

	sess.Version = latest.Version
	return s.store.Update(sess, sess.Version)
}

func (s *Service) broadcast(eventType string, data map[string]any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastEvent(eventType, data)
}
