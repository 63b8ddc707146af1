// Package proximity matches claimed coordinates against registered venues
// and records deduplicated check-ins.
package proximity

import (
	"math"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// Reason codes for proximity claims.
const (
	ReasonInvalidCoordinates = "invalid_coordinates"
	ReasonNotCrewMember      = "not_crew_member"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate rejects non-finite or out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return trust.Malformed(ReasonInvalidCoordinates, "coordinates must be finite numbers")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return trust.Malformed(ReasonInvalidCoordinates, "latitude must be within [-90, 90]")
	}
	if p.Lon < -180 || p.Lon > 180 {
		return trust.Malformed(ReasonInvalidCoordinates, "longitude must be within [-180, 180]")
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push s a hair past 1 for antipodal points.
	s = math.Min(1, math.Max(0, s))
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(s))
}
