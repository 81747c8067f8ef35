package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skydz/dropwatch/internal/config"
	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/monitor"
	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/internal/websocket"
	"github.com/skydz/dropwatch/pkg/logger"
)

type stubClient struct {
	err error
}

func (c *stubClient) Fetch(ctx context.Context, hex string) (*flightdata.Snapshot, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &flightdata.Snapshot{
		Hex:            hex,
		Lat:            43.9,
		Lon:            -79.1,
		AltGeomFt:      8000,
		GroundSpeedKts: 110,
		Timestamp:      time.Now().UTC(),
	}, nil
}

type stubStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newStubStore() *stubStore {
	return &stubStore{sessions: make(map[string]*session.Session)}
}

func (s *stubStore) Create(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.Requester == sess.Requester && !existing.Status.Terminal() {
			return session.ErrAlreadyActive
		}
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *stubStore) Get(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *stubStore) Update(sess *session.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sess.ID]
	if !ok {
		return session.ErrNotFound
	}
	if current.Version != expectedVersion {
		return session.ErrConflict
	}
	sess.Version = expectedVersion + 1
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *stubStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubStore) ListActive() ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.Status == session.StatusActive {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

func (s *stubStore) ListResumable() ([]*session.Session, error) {
	return nil, nil
}

type silentNotifier struct{}

func (silentNotifier) NotifyTransition(ctx context.Context, sess *session.Session, event *monitor.TransitionEvent) error {
	return nil
}

func (silentNotifier) NotifyTerminal(ctx context.Context, sess *session.Session, reason string) error {
	return nil
}

type recordingResponder struct {
	mu    sync.Mutex
	posts []string
}

func (r *recordingResponder) Post(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, text)
	return nil
}

func (r *recordingResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

func (r *recordingResponder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.posts) == 0 {
		return ""
	}
	return r.posts[len(r.posts)-1]
}

func newTestRouter(t *testing.T, responder Responder) (http.Handler, *monitor.Service) {
	t.Helper()

	log := logger.NewNop()
	cfg := &config.Config{
		Zones: []config.ZoneConfig{
			{ID: "main", Name: "Main Drop Zone", Lat: 43.8565, Lon: -79.0497, RadiusNM: 3, FieldElevationFt: 325},
		},
		Aircraft: []config.AircraftAlias{
			{ID: "caravan", Hex: "c06cf1", Name: "Cessna 208 Caravan"},
		},
	}

	svc := monitor.NewService(&stubClient{}, newStubStore(), silentNotifier{}, nil,
		[]geo.Zone{{ID: "main", Lat: 43.8565, Lon: -79.0497, RadiusNM: 3, FieldElevationFt: 325}},
		monitor.Config{
			PollInterval: 50 * time.Millisecond,
			Thresholds: monitor.Thresholds{
				GroundThresholdFt: 300,
				SpeedThresholdKts: 40,
				FreshnessWindow:   2 * time.Minute,
			},
			DebounceObservations: 2,
			FailureThreshold:     5,
			BackoffInitial:       time.Millisecond,
			BackoffMax:           4 * time.Millisecond,
		}, log)
	t.Cleanup(svc.Stop)

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	handler := NewHandler(svc, cfg, responder, log)
	return NewRouter(handler, wsServer, log), svc
}

func TestSlackURLVerification(t *testing.T) {
	router, _ := newTestRouter(t, &recordingResponder{})

	body := `{"type": "url_verification", "challenge": "abc123"}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc123", resp["challenge"])
}

func TestSlackIgnoresBotAndSubtypeMessages(t *testing.T) {
	responder := &recordingResponder{}
	router, _ := newTestRouter(t, responder)

	bodies := []string{
		`{"type": "event_callback", "event": {"type": "message", "bot_id": "B123", "text": "status", "channel": "C456"}}`,
		`{"type": "event_callback", "event": {"type": "message", "subtype": "message_changed", "user": "U123", "text": "status", "channel": "C456"}}`,
		`{"type": "event_callback", "event": {"type": "reaction_added", "user": "U123", "channel": "C456"}}`,
	}

	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, responder.count())
}

func TestSlackStatusCommandReplies(t *testing.T) {
	responder := &recordingResponder{}
	router, _ := newTestRouter(t, responder)

	body := `{"type": "event_callback", "event": {"type": "message", "user": "U123", "text": "status", "channel": "C456"}}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return responder.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, responder.last(), "No session found")
}

func TestSlackStartCommandReplies(t *testing.T) {
	responder := &recordingResponder{}
	router, _ := newTestRouter(t, responder)

	body := `{"type": "event_callback", "event": {"type": "message", "user": "U123", "text": "start plane=caravan dz=main", "channel": "C456"}}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return responder.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, responder.last(), "Tracking Cessna 208 Caravan")
}

func TestRESTStartSessionValidation(t *testing.T) {
	router, _ := newTestRouter(t, &recordingResponder{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `nope`, http.StatusBadRequest},
		{"missing fields", `{"requester": "U123"}`, http.StatusBadRequest},
		{"unknown alias", `{"requester": "U123", "channel": "C456", "plane": "mystery"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRESTSessionLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, &recordingResponder{})

	// Create
	body := `{"requester": "U123", "channel": "C456", "plane": "caravan", "dz": "main"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "U123/C456", created.ID)
	assert.Equal(t, "c06cf1", created.AircraftID)
	assert.Equal(t, "main", created.ZoneID)

	// A second start for the same requester conflicts
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Read
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/U123/C456", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Stop
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/U123/C456", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stopped session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, session.StatusStopped, stopped.Status)

	// Stopping a missing session is a 404
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/nobody/nowhere", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &recordingResponder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
