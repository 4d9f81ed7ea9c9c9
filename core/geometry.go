package core

import (
	"github.com/paulmach/orb"

	"github.com/signalsfoundry/geofence/model"
)

// All geometry here is planar: latitude and longitude are treated as plain
// Y/X values. That is accurate enough for building- and block-sized areas
// and keeps every predicate cheap enough to run on each position sample.

// ValidBoundary reports whether boundary can be used as a polygon: at least
// three vertices, every one of them finite.
func ValidBoundary(boundary []model.Coordinate) bool {
	if len(boundary) < model.MinBoundaryVertices {
		return false
	}
	for _, c := range boundary {
		if !c.Valid() {
			return false
		}
	}
	return true
}

// PointInPolygon reports whether p lies inside boundary using the
// crossing-number rule. The ring may be open or closed.
//
// For every edge (i, j=i-1) whose latitude span straddles p, the edge's
// longitude at p.Lat is interpolated and the parity flips when p lies to
// its west. Invalid points or boundaries yield false; the function never
// panics, since it runs inside the tracking loop.
//
// Self-intersecting rings follow the even-odd rule: regions covered an even
// number of times count as outside.
func PointInPolygon(p model.Coordinate, boundary []model.Coordinate) bool {
	if !p.Valid() || !ValidBoundary(boundary) {
		return false
	}

	inside := false
	n := len(boundary)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := boundary[i], boundary[j]
		if (a.Lat > p.Lat) == (b.Lat > p.Lat) {
			continue
		}
		lngAtLat := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
		if p.Lng < lngAtLat {
			inside = !inside
		}
	}
	return inside
}

// Ring converts a boundary to an orb ring (X = longitude, Y = latitude).
func Ring(boundary []model.Coordinate) orb.Ring {
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, c := range boundary {
		ring = append(ring, orb.Point{c.Lng, c.Lat})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// Bounds returns the bounding box covering every valid boundary. The second
// result is false when none of the boundaries is valid.
func Bounds(boundaries ...[]model.Coordinate) (orb.Bound, bool) {
	var (
		out   orb.Bound
		found bool
	)
	for _, b := range boundaries {
		if !ValidBoundary(b) {
			continue
		}
		rb := Ring(b).Bound()
		if !found {
			out, found = rb, true
			continue
		}
		out = out.Union(rb)
	}
	return out, found
}

// SelfIntersects reports whether any two non-adjacent edges of boundary
// touch or cross. Invalid boundaries report false; check ValidBoundary first.
func SelfIntersects(boundary []model.Coordinate) bool {
	if !ValidBoundary(boundary) {
		return false
	}
	pts := boundary
	if n := len(pts); n > 3 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	n := len(pts)
	if n < 4 {
		return false
	}

	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip the edge itself and its two neighbours.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 model.Coordinate) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// orientation is the cross product of (b-a) x (c-a).
func orientation(a, b, c model.Coordinate) float64 {
	return (b.Lng-a.Lng)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lng-a.Lng)
}

func onSegment(a, b, p model.Coordinate) bool {
	return min(a.Lng, b.Lng) <= p.Lng && p.Lng <= max(a.Lng, b.Lng) &&
		min(a.Lat, b.Lat) <= p.Lat && p.Lat <= max(a.Lat, b.Lat)
}
