package models

import (
	"math"
)

// Polygon is a closed cyclic sequence of points; the last point connects
// back to the first and is not repeated.
type Polygon []Vec2

// SignedArea returns the shoelace area, positive for counter-clockwise order.
func (p Polygon) SignedArea() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var a float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return a / 2
}

// Area returns the absolute enclosed area.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// Contains reports whether pt lies inside the polygon using the crossing
// rule. Points exactly on an edge may land on either side.
func (p Polygon) Contains(pt Vec2) bool {
	inside := false
	n := len(p)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			x := a.X + (pt.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if pt.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (p Polygon) Bounds() (min, max Vec2) {
	if len(p) == 0 {
		return Vec2{}, Vec2{}
	}
	min, max = p[0], p[0]
	for _, v := range p[1:] {
		min.X = math.Min(min.X, v.X)
		min.Y = math.Min(min.Y, v.Y)
		max.X = math.Max(max.X, v.X)
		max.Y = math.Max(max.Y, v.Y)
	}
	return min, max
}

// Centroid returns the area centroid, falling back to the vertex mean for
// polygons with (near) zero area.
func (p Polygon) Centroid() Vec2 {
	a := p.SignedArea()
	if math.Abs(a) < 1e-18 {
		var c Vec2
		for _, v := range p {
			c = c.Add(v)
		}
		if len(p) > 0 {
			c = c.Scale(1 / float64(len(p)))
		}
		return c
	}
	var cx, cy float64
	n := len(p)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		f := p[i].X*p[j].Y - p[j].X*p[i].Y
		cx += (p[i].X + p[j].X) * f
		cy += (p[i].Y + p[j].Y) * f
	}
	return Vec2{cx / (6 * a), cy / (6 * a)}
}

// Perimeter returns the length of the closed boundary.
func (p Polygon) Perimeter() float64 {
	var l float64
	for i := range p {
		l += p[i].Dist(p[(i+1)%len(p)])
	}
	return l
}

// Reversed returns a copy with the opposite winding.
func (p Polygon) Reversed() Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[len(p)-1-i] = v
	}
	return out
}

// Clone returns an independent copy.
func (p Polygon) Clone() Polygon {
	return append(Polygon(nil), p...)
}

// Contour is one closed boundary of a layer cross-section
type Contour struct {
	// Polygon holds the boundary; outer contours wind counter-clockwise,
	// holes clockwise
	Polygon Polygon

	// Hole marks a boundary that encloses void inside an outer contour
	Hole bool
}

// Layer is the cross-section of the solid at one writing height
type Layer struct {
	// Index is the zero-based position of the layer in the stack
	Index int

	// Z is the writing plane height in µm
	Z float64

	// Thickness is the slab height this layer stands for
	Thickness float64

	// Contours holds outer boundaries and holes in no particular order
	Contours []Contour
}

// Empty reports whether the layer has no material.
func (l Layer) Empty() bool {
	return len(l.Contours) == 0
}

// Region is one outer contour together with the holes it directly encloses
type Region struct {
	Outer Polygon
	Holes []Polygon
}

// Contours returns the region boundaries as contours.
func (r Region) Contours() []Contour {
	out := make([]Contour, 0, 1+len(r.Holes))
	out = append(out, Contour{Polygon: r.Outer})
	for _, h := range r.Holes {
		out = append(out, Contour{Polygon: h, Hole: true})
	}
	return out
}

// Contains reports whether p lies in the outer boundary and outside every hole.
func (r Region) Contains(p Vec2) bool {
	if !r.Outer.Contains(p) {
		return false
	}
	for _, h := range r.Holes {
		if h.Contains(p) {
			return false
		}
	}
	return true
}

// Area returns the outer area minus the hole areas.
func (r Region) Area() float64 {
	a := r.Outer.Area()
	for _, h := range r.Holes {
		a -= h.Area()
	}
	return a
}

// Regions groups the layer's contours into outer-minus-hole regions. Each
// hole is attached to the smallest outer contour that contains it.
func (l Layer) Regions() []Region {
	var regions []Region
	for _, c := range l.Contours {
		if !c.Hole {
			regions = append(regions, Region{Outer: c.Polygon})
		}
	}
	for _, c := range l.Contours {
		if !c.Hole || len(c.Polygon) == 0 {
			continue
		}
		best := -1
		bestArea := math.Inf(1)
		sample := c.Polygon[0]
		for i, r := range regions {
			if a := r.Outer.Area(); a < bestArea && r.Outer.Contains(sample) {
				best, bestArea = i, a
			}
		}
		if best >= 0 {
			regions[best].Holes = append(regions[best].Holes, c.Polygon)
		}
	}
	return regions
}
