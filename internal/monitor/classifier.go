package monitor

import (
	"time"

	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/session"
)

// Thresholds are the classification parameters, all externally configured
type Thresholds struct {
	GroundThresholdFt float64       // Max altitude above field elevation to be considered on the ground
	SpeedThresholdKts float64       // Max ground speed to be considered on the ground
	FreshnessWindow   time.Duration // Snapshots older than this classify as UNKNOWN
}

// Classify maps a position snapshot onto a classified aircraft state.
// Pure function: identical input always yields identical output.
//
// A stale snapshot classifies as UNKNOWN regardless of its contents. The
// ground check compares altitude against the zone's field elevation when a
// zone is supplied, so a parked aircraft at a high-elevation field still
// reads as landed. Airborne aircraft are placed relative to the zone
// geofence when one is set.
func Classify(snap *flightdata.Snapshot, zone *geo.Zone, th Thresholds, now time.Time) session.State {
	if snap == nil {
		return session.StateUnknown
	}

	if now.Sub(snap.Timestamp) > th.FreshnessWindow {
		return session.StateUnknown
	}

	fieldElevation := 0.0
	if zone != nil {
		fieldElevation = zone.FieldElevationFt
	}
	altAGL := snap.AltGeomFt - fieldElevation

	if altAGL <= th.GroundThresholdFt && snap.GroundSpeedKts <= th.SpeedThresholdKts {
		return session.StateLanded
	}

	if zone != nil {
		if !snap.HasPosition() {
			// Airborne but unplottable; zone membership is undecidable
			return session.StateUnknown
		}
		if zone.Contains(snap.Lat, snap.Lon) {
			return session.StateInZone
		}
		return session.StateOutOfZone
	}

	return session.StateAirborne
}
