package proximity

import (
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

var venue = Point{Lat: 25.7907, Lon: -80.1300}

func loc(id string, p Point, radius float64) *store.Location {
	return &store.Location{ID: id, Name: "Venue " + id, Latitude: p.Lat, Longitude: p.Lon, RadiusM: radius, Active: true}
}

func TestMatch_Radius(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		matched  bool
	}{
		{"150m outside 100m radius", 150, false},
		{"80m inside 100m radius", 80, true},
		{"on the boundary", 99.999, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchLocations(north(venue, tt.distance), []*store.Location{loc("a", venue, 100)}, 0)
			if (len(got) == 1) != tt.matched {
				t.Fatalf("matched=%v, want %v", len(got) == 1, tt.matched)
			}
			if tt.matched && (got[0].DistanceM < tt.distance-0.01 || got[0].DistanceM > tt.distance+0.01) {
				t.Errorf("distance = %v, want ~%v", got[0].DistanceM, tt.distance)
			}
		})
	}
}

func TestMatch_DefaultRadius(t *testing.T) {
	locations := []*store.Location{loc("a", venue, 0)}
	if got := MatchLocations(north(venue, 80), locations, 0); len(got) != 1 {
		t.Errorf("zero radius should fall back to %vm", DefaultRadiusM)
	}
	if got := MatchLocations(north(venue, 80), locations, 50); len(got) != 0 {
		t.Errorf("configured default radius 50m should not match at 80m")
	}
}

func TestMatch_SortedNearestFirst(t *testing.T) {
	p := north(venue, 10)
	locations := []*store.Location{
		loc("far", north(venue, 300), 500),
		nil,
		loc("near", venue, 100),
		loc("mid", north(venue, 120), 200),
	}
	got := MatchLocations(p, locations, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if got[i].Location.ID != id {
			t.Errorf("match[%d] = %s, want %s", i, got[i].Location.ID, id)
		}
	}
}
