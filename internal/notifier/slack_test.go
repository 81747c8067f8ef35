package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/monitor"
	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/pkg/logger"
)

func testZones() []geo.Zone {
	return []geo.Zone{{
		ID:               "main",
		Name:             "Main Drop Zone",
		Lat:              43.8565,
		Lon:              -79.0497,
		RadiusNM:         3,
		FieldElevationFt: 325,
	}}
}

func newNotifier(webhookURL string) *SlackNotifier {
	return NewSlackNotifier(webhookURL, 5*time.Second,
		map[string]string{"C06CF1": "Cessna 208 Caravan"},
		testZones(), logger.NewNop())
}

func TestNotifyTransitionPostsToWebhook(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer server.Close()

	n := newNotifier(server.URL)
	sess := session.New("U123", "C456", "C06CF1", "main", time.Now().UTC())
	event := &monitor.TransitionEvent{
		ID:         "evt-1",
		SessionID:  sess.ID,
		AircraftID: "C06CF1",
		From:       session.StateOutOfZone,
		To:         session.StateInZone,
		At:         time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC),
		Snapshot: &flightdata.Snapshot{
			Hex:            "C06CF1",
			Lat:            43.87,
			Lon:            -79.05,
			AltGeomFt:      8000,
			GroundSpeedKts: 110,
			TrackDeg:       272,
			Timestamp:      time.Now().UTC(),
		},
	}

	require.NoError(t, n.NotifyTransition(context.Background(), sess, event))

	text := payload["text"]
	assert.Contains(t, text, "Cessna 208 Caravan")
	assert.Contains(t, text, "airborne, outside the drop zone → over the drop zone")
	assert.Contains(t, text, "Main Drop Zone")
	assert.Contains(t, text, "110 kts")
}

func TestNotifyTransitionWithoutPosition(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
	}))
	defer server.Close()

	n := newNotifier(server.URL)
	sess := session.New("U123", "C456", "C06CF1", "main", time.Now().UTC())
	event := &monitor.TransitionEvent{
		From: session.StateAirborne,
		To:   session.StateLanded,
		At:   time.Now().UTC(),
	}

	require.NoError(t, n.NotifyTransition(context.Background(), sess, event))
	assert.NotContains(t, payload["text"], "NM")
	assert.NotContains(t, payload["text"], "kts")
}

func TestNotifyTerminal(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
	}))
	defer server.Close()

	n := newNotifier(server.URL)
	sess := session.New("U123", "C456", "C06CF1", "", time.Now().UTC())
	sess.Status = session.StatusErrored
	sess.LastState = session.StateAirborne

	require.NoError(t, n.NotifyTerminal(context.Background(), sess, "monitoring aborted after 5 consecutive poll failures"))
	assert.Contains(t, payload["text"], "Cessna 208 Caravan")
	assert.Contains(t, payload["text"], "5 consecutive poll failures")
	assert.Contains(t, payload["text"], "airborne")
}

func TestPostWebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := newNotifier(server.URL)
	err := n.Post(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestPostWithoutWebhookLogsOnly(t *testing.T) {
	n := newNotifier("")
	assert.NoError(t, n.Post(context.Background(), "hello"))
}

func TestUnknownAircraftFallsBackToHex(t *testing.T) {
	n := newNotifier("")
	assert.Equal(t, "ABCDEF", n.displayName("ABCDEF"))
	assert.Equal(t, "Cessna 208 Caravan", n.displayName("C06CF1"))
}
