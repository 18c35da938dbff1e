// Package geo provides the planar geometry used by navigation: containment,
// corridor clearance and path length computations.
//
// Points are gonum r3 vectors in the local field frame (metres, X east,
// Y north, Z up). Boundary and corridor tests operate on the XY plane;
// Z is carried through untouched.
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a position in the local field frame.
type Point = r3.Vec

// Dist2D returns the XY-plane distance between a and b.
func Dist2D(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Dist returns the full 3D distance between a and b.
func Dist(a, b Point) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// PathLength returns the sum of segment lengths along pts.
func PathLength(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += Dist(pts[i-1], pts[i])
	}
	return total
}

// PointInPolygon reports whether p lies inside the polygon by ray casting in
// the XY plane. Polygons with fewer than three vertices contain nothing.
// Points exactly on an edge may report either side; callers must not rely on
// boundary-exact behaviour.
func PointInPolygon(p Point, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Clearance describes where a point sits relative to a directed segment.
type Clearance struct {
	// T is the normalised projection onto the segment: 0 at the start,
	// 1 at the end. Values outside [0,1] are ahead of or behind the segment.
	T float64
	// Distance is the perpendicular XY distance from the point to the
	// infinite line through the segment.
	Distance float64
	// Side is the sign of the cross product: positive when the point lies
	// to the left of travel, negative to the right, zero on the line.
	Side float64
}

// SegmentClearance computes the corridor-test quantities for point p against
// the directed segment from a to b, in the XY plane. A degenerate segment
// (a == b) yields T=0 and the plain distance to a.
func SegmentClearance(p, a, b Point) Clearance {
	dx, dy := b.X-a.X, b.Y-a.Y
	len2 := dx*dx + dy*dy
	if len2 == 0 {
		return Clearance{T: 0, Distance: Dist2D(p, a)}
	}
	px, py := p.X-a.X, p.Y-a.Y
	t := (px*dx + py*dy) / len2
	cross := dx*py - dy*px
	length := math.Sqrt(len2)
	return Clearance{
		T:        t,
		Distance: math.Abs(cross) / length,
		Side:     sign(cross),
	}
}

// OffsetPerpendicular returns the point at parameter t along segment a→b,
// displaced by offset perpendicular to the segment in the XY plane. Positive
// offset displaces to the left of travel. Z is interpolated linearly.
func OffsetPerpendicular(a, b Point, t, offset float64) Point {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return a
	}
	// Unit normal pointing left of travel.
	nx, ny := -dy/length, dx/length
	return Point{
		X: a.X + dx*t + nx*offset,
		Y: a.Y + dy*t + ny*offset,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Centroid returns the mean of pts. Empty input returns the origin.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var sum Point
	for _, p := range pts {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(pts)), sum)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
