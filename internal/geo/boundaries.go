package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fleetops/tripsync/internal/model"
)

// BoundaryIndex holds city-boundary polygons keyed by canonical area name,
// plus an alias table mapping raw upstream area names onto canonical ones.
// The index is built once at startup and is read-only afterwards, so it is
// safe for concurrent lookups.
type BoundaryIndex struct {
	polygons map[string][][]model.Coordinate
	aliases  map[string]string
}

// NewBoundaryIndex creates an empty index.
func NewBoundaryIndex() *BoundaryIndex {
	return &BoundaryIndex{
		polygons: make(map[string][][]model.Coordinate),
		aliases:  make(map[string]string),
	}
}

// geojson wire types. Only the fields the index needs are decoded; ring
// coordinates arrive as GeoJSON [lng, lat] pairs.
type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// LoadBoundaries reads a GeoJSON FeatureCollection of Polygon/MultiPolygon
// features into an index. Each feature's name property becomes its canonical
// area name.
func LoadBoundaries(path string) (*BoundaryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundaries file: %w", err)
	}

	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse boundaries file: %w", err)
	}

	idx := NewBoundaryIndex()
	for _, f := range fc.Features {
		name := featureName(f.Properties)
		if name == "" {
			continue
		}

		switch f.Geometry.Type {
		case "Polygon":
			var rings [][][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
				return nil, fmt.Errorf("failed to parse polygon %q: %w", name, err)
			}
			idx.AddPolygon(name, outerRing(rings))
		case "MultiPolygon":
			var polys [][][][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &polys); err != nil {
				return nil, fmt.Errorf("failed to parse multipolygon %q: %w", name, err)
			}
			for _, rings := range polys {
				idx.AddPolygon(name, outerRing(rings))
			}
		}
	}

	return idx, nil
}

func featureName(props map[string]any) string {
	for _, key := range []string{"name", "NAME", "city", "area"} {
		if v, ok := props[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func outerRing(rings [][][2]float64) []model.Coordinate {
	if len(rings) == 0 {
		return nil
	}
	ring := make([]model.Coordinate, 0, len(rings[0]))
	for _, c := range rings[0] {
		ring = append(ring, model.Coordinate{Lat: c[1], Lng: c[0]})
	}
	return ring
}

// AddPolygon registers one outer ring under a canonical area name. An area
// may hold several rings (multipolygon geometries).
func (x *BoundaryIndex) AddPolygon(name string, ring []model.Coordinate) {
	if len(ring) < 3 {
		return
	}
	key := normalizeName(name)
	x.polygons[key] = append(x.polygons[key], ring)
}

// AddAlias maps a raw upstream area name onto a canonical boundary name.
func (x *BoundaryIndex) AddAlias(raw, canonical string) {
	x.aliases[normalizeName(raw)] = normalizeName(canonical)
}

// Resolve returns the canonical area name for a raw upstream name.
func (x *BoundaryIndex) Resolve(raw string) string {
	key := normalizeName(raw)
	if canonical, ok := x.aliases[key]; ok {
		return canonical
	}
	return key
}

// Contains reports whether the point lies inside any polygon registered for
// the given raw area name. The second return is false when no boundary is
// registered for the area at all.
func (x *BoundaryIndex) Contains(areaName string, pt model.Coordinate) (inside, known bool) {
	rings, ok := x.polygons[x.Resolve(areaName)]
	if !ok {
		return false, false
	}
	for _, ring := range rings {
		if PointInPolygon(pt, ring) {
			return true, true
		}
	}
	return false, true
}

// PointInPolygon checks if a point is inside a polygon ring using ray casting.
func PointInPolygon(pt model.Coordinate, ring []model.Coordinate) bool {
	if len(ring) < 3 {
		return false
	}

	inside := false
	j := len(ring) - 1

	for i := 0; i < len(ring); i++ {
		if ((ring[i].Lat > pt.Lat) != (ring[j].Lat > pt.Lat)) &&
			(pt.Lng < (ring[j].Lng-ring[i].Lng)*(pt.Lat-ring[i].Lat)/(ring[j].Lat-ring[i].Lat)+ring[i].Lng) {
			inside = !inside
		}
		j = i
	}

	return inside
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
