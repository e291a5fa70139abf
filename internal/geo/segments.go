// Package geo provides the geospatial primitives for trip enrichment:
// great-circle distance, segment statistics over coordinate traces, and
// city-boundary containment checks.
package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/fleetops/tripsync/internal/model"
)

// EarthRadiusKm is Earth's mean radius in kilometers.
const EarthRadiusKm = 6371.0

// Segment category thresholds in kilometers. A segment shorter than
// ShortMaxKm is short, one longer than MediumMaxKm is long, everything in
// between is medium.
const (
	ShortMaxKm  = 1.0
	MediumMaxKm = 5.0
)

// HaversineKm calculates the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b model.Coordinate) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// AnalyzeSegments computes segment statistics over an ordered coordinate
// trace. Fewer than two points yields all-zero stats. The function has no
// side effects and is safe for concurrent use.
func AnalyzeSegments(coords []model.Coordinate) model.SegmentStats {
	var stats model.SegmentStats
	if len(coords) < 2 {
		return stats
	}

	var total float64
	for i := 1; i < len(coords); i++ {
		d := HaversineKm(coords[i-1], coords[i])
		switch {
		case d < ShortMaxKm:
			stats.ShortCount++
			stats.ShortDistance += d
		case d <= MediumMaxKm:
			stats.MediumCount++
			stats.MediumDistance += d
		default:
			stats.LongCount++
			stats.LongDistance += d
		}
		if d > stats.MaxDistance {
			stats.MaxDistance = d
		}
		total += d
	}

	stats.AvgDistance = total / float64(len(coords)-1)

	stats.ShortDistance = Round2(stats.ShortDistance)
	stats.MediumDistance = Round2(stats.MediumDistance)
	stats.LongDistance = Round2(stats.LongDistance)
	stats.MaxDistance = Round2(stats.MaxDistance)
	stats.AvgDistance = Round2(stats.AvgDistance)

	return stats
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
