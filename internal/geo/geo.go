package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const (
	earthRadiusM = 6371000.0
	metersPerNM  = 1852.0
	feetPerMeter = 3.28084
)

// Haversine returns the great-circle distance in meters between two points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0

	lat1Rad := lat1 * rad
	lat2Rad := lat2 * rad
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Bearing returns the initial bearing in degrees from point 1 to point 2
// (0 = North, 90 = East)
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0

	lat1Rad := lat1 * rad
	lon1Rad := lon1 * rad
	lat2Rad := lat2 * rad
	lon2Rad := lon2 * rad

	y := math.Sin(lon2Rad-lon1Rad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lon2Rad-lon1Rad)
	bearing := math.Atan2(y, x) * 180.0 / math.Pi

	return math.Mod(bearing+360.0, 360.0)
}

// MetersToNM converts meters to nautical miles
func MetersToNM(meters float64) float64 {
	return meters / metersPerNM
}

// NMToMeters converts nautical miles to meters
func NMToMeters(nm float64) float64 {
	return nm * metersPerNM
}

// FeetToMeters converts feet to meters
func FeetToMeters(feet float64) float64 {
	return feet / feetPerMeter
}

// MagneticVariation returns the magnetic declination in degrees for the given
// position and time (+East, -West), from the World Magnetic Model.
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := FeetToMeters(altFt)

	loc := egm96.NewLocationGeodetic(lat, lon, altM)
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Return 0 for safety if calculation fails
		return 0.0
	}

	return mag.D()
}

// TrueToMagnetic converts a true track to a magnetic track at the given
// position, normalized to [0, 360).
func TrueToMagnetic(trueTrack, lat, lon, altFt float64, date time.Time) float64 {
	magTrack := trueTrack - MagneticVariation(lat, lon, altFt, date)
	return math.Mod(magTrack+360.0, 360.0)
}

// Zone is a circular geofence centered on a point, with the field elevation
// used to judge ground proximity inside the zone.
type Zone struct {
	ID               string
	Name             string
	Lat              float64
	Lon              float64
	RadiusNM         float64
	FieldElevationFt float64
}

// Contains reports whether the given position lies inside the zone radius
func (z *Zone) Contains(lat, lon float64) bool {
	return MetersToNM(Haversine(lat, lon, z.Lat, z.Lon)) <= z.RadiusNM
}

// DistanceNM returns the distance in nautical miles from the zone center
func (z *Zone) DistanceNM(lat, lon float64) float64 {
	return MetersToNM(Haversine(lat, lon, z.Lat, z.Lon))
}

// BearingFrom returns the bearing in degrees from the zone center to the
// given position.
func (z *Zone) BearingFrom(lat, lon float64) float64 {
	return Bearing(z.Lat, z.Lon, lat, lon)
}
