package proximity

import (
	"sort"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// DefaultRadiusM applies to locations without a positive radius.
const DefaultRadiusM = 100.0

// Match is a location within reach of the claimed point.
type Match struct {
	Location  store.Location `json:"location"`
	DistanceM float64        `json:"distance_m"`
}

// MatchLocations returns the locations whose radius covers p, nearest first.
// A location radius <= 0 falls back to defaultRadius, and a defaultRadius
// <= 0 to DefaultRadiusM.
func MatchLocations(p Point, locations []*store.Location, defaultRadius float64) []Match {
	if defaultRadius <= 0 {
		defaultRadius = DefaultRadiusM
	}
	var out []Match
	for _, loc := range locations {
		if loc == nil {
			continue
		}
		radius := loc.RadiusM
		if radius <= 0 {
			radius = defaultRadius
		}
		d := Haversine(p, Point{Lat: loc.Latitude, Lon: loc.Longitude})
		if d <= radius {
			out = append(out, Match{Location: *loc, DistanceM: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	return out
}
