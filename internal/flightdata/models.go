package flightdata

import (
	"errors"
	"time"
)

// Fetch failure taxonomy. The client never retries; retry policy belongs
// to the monitor loop.
var (
	// ErrNotFound means the API reports no such aircraft
	ErrNotFound = errors.New("aircraft not found")

	// ErrRateLimited means the API quota is exhausted
	ErrRateLimited = errors.New("flight data API rate limited")

	// ErrUnavailable covers network and server errors
	ErrUnavailable = errors.New("flight data source unavailable")
)

// Snapshot is a single normalized position/status reading for one aircraft
type Snapshot struct {
	Hex             string    `json:"hex"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	AltGeomFt       float64   `json:"alt_geom_ft"`
	GroundSpeedKts  float64   `json:"ground_speed_kts"`
	TrackDeg        float64   `json:"track_deg"`
	VerticalRateFPM float64   `json:"vertical_rate_fpm"`
	Timestamp       time.Time `json:"timestamp"`
}

// HasPosition reports whether the snapshot carries usable coordinates
func (s *Snapshot) HasPosition() bool {
	return s.Lat != 0 || s.Lon != 0
}

// rawTarget mirrors the relevant fields of an ADS-B Exchange style
// single-aircraft response.
type rawTarget struct {
	Hex      string   `json:"hex"`
	Flight   string   `json:"flight"`
	Type     string   `json:"t"`
	AltGeom  *float64 `json:"alt_geom"`
	GS       *float64 `json:"gs"`
	Track    *float64 `json:"track"`
	BaroRate *float64 `json:"baro_rate"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Seen     *float64 `json:"seen"`     // seconds since last message
	SeenPos  *float64 `json:"seen_pos"` // seconds since last position
	Now      *float64 `json:"now"`      // source epoch seconds, when present
}
