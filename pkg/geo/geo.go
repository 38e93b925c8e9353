// Package geo provides point-in-region containment and distance
// computation for circular and polygonal geofence regions.
package geo

import (
	"errors"
	"math"

	"github.com/rs/zerolog"
)

const earthRadiusMeters = 6371000.0

// RegionKind discriminates the two supported region geometries.
type RegionKind string

const (
	RegionCircle  RegionKind = "circle"
	RegionPolygon RegionKind = "polygon"
)

// Point is a WGS 84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Region is the geometry of a geofence: either a circle (center plus
// radius) or a simple closed polygon of at least three vertices.
type Region struct {
	Kind         RegionKind `json:"kind"`
	Center       Point      `json:"center,omitempty"`
	RadiusMeters float64    `json:"radius_meters,omitempty"`
	Vertices     []Point    `json:"vertices,omitempty"`
}

var (
	ErrMalformedRegion = errors.New("malformed region")
)

// Validate reports whether the region geometry is evaluable.
func (r Region) Validate() error {
	switch r.Kind {
	case RegionCircle:
		if math.IsNaN(r.Center.Lat) || math.IsNaN(r.Center.Lng) || r.RadiusMeters < 0 {
			return ErrMalformedRegion
		}
	case RegionPolygon:
		if len(r.Vertices) < 3 {
			return ErrMalformedRegion
		}
		for _, v := range r.Vertices {
			if math.IsNaN(v.Lat) || math.IsNaN(v.Lng) ||
				math.IsInf(v.Lat, 0) || math.IsInf(v.Lng, 0) {
				return ErrMalformedRegion
			}
		}
	default:
		return ErrMalformedRegion
	}
	return nil
}

// Result is the aggregate outcome of evaluating a point against a set of
// regions. DistanceMeters is only meaningful when IsInside is false: it is
// the smallest distance from the point to any region boundary, rounded to
// two decimal places.
type Result struct {
	IsInside       bool    `json:"is_inside"`
	DistanceMeters float64 `json:"distance_meters"`
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Evaluator performs containment checks against geofence regions.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates a new Evaluator instance.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// EvaluateRegion checks a single region. It returns whether the point is
// inside and, when outside, the distance in meters from the point to the
// region boundary. Malformed regions return ErrMalformedRegion.
func (e *Evaluator) EvaluateRegion(p Point, r Region) (bool, float64, error) {
	if err := r.Validate(); err != nil {
		return false, 0, err
	}

	switch r.Kind {
	case RegionCircle:
		d := HaversineMeters(p, r.Center)
		if d <= r.RadiusMeters {
			return true, 0, nil
		}
		return false, d - r.RadiusMeters, nil

	case RegionPolygon:
		ring := closeRing(r.Vertices)
		if pointInRing(p, ring) {
			return true, 0, nil
		}
		return false, distanceToRing(p, ring), nil
	}

	return false, 0, ErrMalformedRegion
}

// Evaluate checks the point against every region, returning as soon as one
// contains it. Malformed regions are logged and skipped without aborting
// evaluation of the rest. When no region contains the point, the smallest
// per-region boundary distance is reported, rounded to two decimals.
func (e *Evaluator) Evaluate(p Point, regions []Region) Result {
	minDistance := math.Inf(1)

	for _, r := range regions {
		inside, distance, err := e.EvaluateRegion(p, r)
		if err != nil {
			e.logger.Warn().
				Str("region_kind", string(r.Kind)).
				Int("vertices", len(r.Vertices)).
				Msg("Skipping malformed geofence region")
			continue
		}
		if inside {
			return Result{IsInside: true}
		}
		if distance < minDistance {
			minDistance = distance
		}
	}

	if math.IsInf(minDistance, 1) {
		return Result{}
	}
	return Result{DistanceMeters: round2(minDistance)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// closeRing re-appends the first vertex so the boundary forms a closed ring.
func closeRing(vertices []Point) []Point {
	ring := make([]Point, 0, len(vertices)+1)
	ring = append(ring, vertices...)
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// pointInRing is a standard ray-casting test. Winding order of the stored
// vertices does not matter.
func pointInRing(p Point, ring []Point) bool {
	inside := false
	for i := 0; i < len(ring)-1; i++ {
		a, b := ring[i], ring[i+1]
		if (a.Lng > p.Lng) != (b.Lng > p.Lng) {
			lat := a.Lat + (p.Lng-a.Lng)/(b.Lng-a.Lng)*(b.Lat-a.Lat)
			if p.Lat < lat {
				inside = !inside
			}
		}
	}
	return inside
}

// distanceToRing returns the minimum distance in meters from the point to
// any edge of the ring, using a local equirectangular projection around
// the point. Geofences are small relative to the Earth, so the projection
// error is negligible at the distances reported here.
func distanceToRing(p Point, ring []Point) float64 {
	min := math.Inf(1)
	for i := 0; i < len(ring)-1; i++ {
		d := pointToSegmentMeters(p, ring[i], ring[i+1])
		if d < min {
			min = d
		}
	}
	return min
}

func pointToSegmentMeters(p, a, b Point) float64 {
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	toXY := func(q Point) (float64, float64) {
		x := (q.Lng - p.Lng) * cosLat * math.Pi / 180 * earthRadiusMeters
		y := (q.Lat - p.Lat) * math.Pi / 180 * earthRadiusMeters
		return x, y
	}

	ax, ay := toXY(a)
	bx, by := toXY(b)

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}

	// Project the origin (the point) onto the segment, clamped to its ends.
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(ax+t*dx, ay+t*dy)
}
