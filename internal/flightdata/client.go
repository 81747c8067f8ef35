package flightdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skydz/dropwatch/pkg/logger"
)

// Client fetches per-aircraft position data from an ADS-B Exchange style API
type Client struct {
	httpClient *http.Client
	sourceURL  string // URL template with a %s placeholder for the hex code
	apiHost    string
	apiKey     string
	logger     *logger.Logger
}

// NewClient creates a new flight data client
func NewClient(sourceURL, apiHost, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sourceURL: sourceURL,
		apiHost:   apiHost,
		apiKey:    apiKey,
		logger:    log.Named("flightdata"),
	}
}

// Fetch returns the current snapshot for the given aircraft hex code.
// Failures map onto the package error taxonomy: ErrNotFound when the API
// reports no such aircraft, ErrRateLimited on quota exhaustion, and
// ErrUnavailable on network or server errors.
func (c *Client) Fetch(ctx context.Context, hex string) (*Snapshot, error) {
	if hex == "" {
		return nil, fmt.Errorf("aircraft hex code must not be empty")
	}

	urlStr := fmt.Sprintf(c.sourceURL, strings.ToUpper(hex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rapidapi-host", c.apiHost)
	req.Header.Set("x-rapidapi-key", c.apiKey)

	c.logger.Debug("Fetching aircraft data",
		logger.String("hex", hex),
		logger.String("url", urlStr))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Flight data request failed",
			logger.String("hex", hex),
			logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("Unexpected status code from flight data API",
			logger.String("hex", hex),
			logger.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	var target rawTarget
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrUnavailable, err)
	}

	// An empty hex means the transponder is off or the aircraft is unknown
	if target.Hex == "" {
		return nil, ErrNotFound
	}

	snapshot := c.normalize(&target)

	c.logger.Debug("Fetched aircraft snapshot",
		logger.String("hex", snapshot.Hex),
		logger.Float64("alt_geom_ft", snapshot.AltGeomFt),
		logger.Float64("ground_speed_kts", snapshot.GroundSpeedKts),
		logger.Time("timestamp", snapshot.Timestamp))

	return snapshot, nil
}

// normalize converts the raw API payload into a Snapshot. The source
// timestamp is derived from the API's own clock minus its position age
// when supplied, otherwise from the local clock.
func (c *Client) normalize(target *rawTarget) *Snapshot {
	snap := &Snapshot{
		Hex: strings.ToUpper(target.Hex),
	}

	if target.Lat != nil {
		snap.Lat = *target.Lat
	}
	if target.Lon != nil {
		snap.Lon = *target.Lon
	}
	if target.AltGeom != nil {
		snap.AltGeomFt = *target.AltGeom
	}
	if target.GS != nil {
		snap.GroundSpeedKts = *target.GS
	}
	if target.Track != nil {
		snap.TrackDeg = *target.Track
	}
	if target.BaroRate != nil {
		snap.VerticalRateFPM = *target.BaroRate
	}

	now := time.Now().UTC()
	if target.Now != nil && *target.Now > 0 {
		now = time.Unix(int64(*target.Now), 0).UTC()
	}

	age := 0.0
	if target.SeenPos != nil {
		age = *target.SeenPos
	} else if target.Seen != nil {
		age = *target.Seen
	}
	snap.Timestamp = now.Add(-time.Duration(age * float64(time.Second)))

	return snap
}
