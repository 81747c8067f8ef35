package flightdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skydz/dropwatch/pkg/logger"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL+"/v2/hex/%s/", "test-host", "test-key", 5*time.Second, logger.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	var gotPath, gotHost, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHost = r.Header.Get("x-rapidapi-host")
		gotKey = r.Header.Get("x-rapidapi-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hex": "c06cf1",
			"flight": "SKYDIVE1",
			"alt_geom": 8000.0,
			"gs": 110.5,
			"track": 272.0,
			"baro_rate": -1200.0,
			"lat": 43.8565,
			"lon": -79.0497,
			"seen_pos": 2.0
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	snap, err := client.Fetch(context.Background(), "c06cf1")
	require.NoError(t, err)

	assert.Equal(t, "/v2/hex/C06CF1/", gotPath)
	assert.Equal(t, "test-host", gotHost)
	assert.Equal(t, "test-key", gotKey)

	assert.Equal(t, "C06CF1", snap.Hex)
	assert.Equal(t, 43.8565, snap.Lat)
	assert.Equal(t, -79.0497, snap.Lon)
	assert.Equal(t, 8000.0, snap.AltGeomFt)
	assert.Equal(t, 110.5, snap.GroundSpeedKts)
	assert.Equal(t, 272.0, snap.TrackDeg)
	assert.Equal(t, -1200.0, snap.VerticalRateFPM)
	assert.True(t, snap.HasPosition())
	// Timestamp is the local clock minus the 2 second position age
	assert.WithinDuration(t, time.Now().UTC().Add(-2*time.Second), snap.Timestamp, time.Second)
}

func TestFetchStatusCodeMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Fetch(context.Background(), "c06cf1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchEmptyHexMeansNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(context.Background(), "c06cf1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(context.Background(), "c06cf1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := newTestClient(server.URL).Fetch(context.Background(), "c06cf1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchEmptyHexArgument(t *testing.T) {
	_, err := newTestClient("http://unused").Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchUsesSourceClock(t *testing.T) {
	// When the API supplies its own epoch, the snapshot timestamp derives
	// from it rather than the local clock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hex": "c06cf1", "now": 1700000010.0, "seen_pos": 10.0}`))
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).Fetch(context.Background(), "c06cf1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), snap.Timestamp)
}
