// Package mesh holds the immutable triangulated solid consumed by the slicer
// and the dose model, together with the spatial queries they need.
package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
)

// Mesh is a closed, watertight triangle set. It is never modified after New
// returns; every transformation produces a new Mesh.
type Mesh struct {
	tris []models.Triangle
	min  models.Vec3
	max  models.Vec3
	diag float64
}

// New copies tris into a Mesh and caches its bounding box. Watertightness
// is a precondition checked upstream.
func New(tris []models.Triangle) (*Mesh, error) {
	if len(tris) == 0 {
		return nil, &fault.GeometryError{Layer: -1, Reason: "mesh has no triangles"}
	}
	m := &Mesh{tris: append([]models.Triangle(nil), tris...)}
	m.min = tris[0].A
	m.max = tris[0].A
	for _, t := range m.tris {
		for _, v := range [3]models.Vec3{t.A, t.B, t.C} {
			if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) {
				return nil, &fault.GeometryError{Layer: -1, Reason: "mesh vertex is NaN"}
			}
			m.min = m.min.Min(v)
			m.max = m.max.Max(v)
		}
	}
	m.diag = m.max.Sub(m.min).Len()
	return m, nil
}

// Len returns the number of triangles.
func (m *Mesh) Len() int { return len(m.tris) }

// Triangles returns a copy of the facets.
func (m *Mesh) Triangles() []models.Triangle {
	return append([]models.Triangle(nil), m.tris...)
}

// Bounds returns the axis-aligned bounding box.
func (m *Mesh) Bounds() (min, max models.Vec3) { return m.min, m.max }

// Diagonal returns the length of the bounding-box diagonal.
func (m *Mesh) Diagonal() float64 { return m.diag }

// Volume returns the enclosed volume using the divergence theorem.
func (m *Mesh) Volume() float64 {
	var v float64
	for _, t := range m.tris {
		v += t.A.Dot(t.B.Cross(t.C))
	}
	return v / 6
}

// IntersectPlane cuts every facet with the plane at height z. A vertex
// lying exactly on the plane counts as above it, so each crossing edge is
// reported once and no zero-length pieces are emitted.
func (m *Mesh) IntersectPlane(z float64) []models.Segment2 {
	var segs []models.Segment2
	for _, t := range m.tris {
		if s, ok := cutTriangle(t, z); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

func cutTriangle(t models.Triangle, z float64) (models.Segment2, bool) {
	v := [3]models.Vec3{t.A, t.B, t.C}
	var pts [2]models.Vec2
	n := 0
	for i := 0; i < 3; i++ {
		a, b := v[i], v[(i+1)%3]
		if (a.Z >= z) == (b.Z >= z) {
			continue
		}
		if n == 2 {
			break
		}
		pts[n] = edgeCrossing(a, b, z)
		n++
	}
	if n != 2 || pts[0] == pts[1] {
		return models.Segment2{}, false
	}
	return models.Segment2{A: pts[0], B: pts[1]}, true
}

// edgeCrossing interpolates along the edge in a canonical vertex order so
// the two facets sharing the edge produce bit-identical points.
func edgeCrossing(a, b models.Vec3, z float64) models.Vec2 {
	if b.Z < a.Z || (b.Z == a.Z && (b.X < a.X || (b.X == a.X && b.Y < a.Y))) {
		a, b = b, a
	}
	t := (z - a.Z) / (b.Z - a.Z)
	return models.Vec2{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// Crossings returns the sorted x positions where the line {y, z} parallel
// to the x axis pierces the surface. Consecutive pairs bound the inside.
func (m *Mesh) Crossings(y, z float64) []float64 {
	var xs []float64
	for _, t := range m.tris {
		if x, ok := rayHit(t, y, z); ok {
			xs = append(xs, x)
		}
	}
	sort.Float64s(xs)
	return xs
}

// rayHit projects the facet onto the yz plane and reports where the line
// through (y, z) enters it. Edges follow a half-open rule so a line passing
// through a shared edge is counted once.
func rayHit(t models.Triangle, y, z float64) (float64, bool) {
	p := [3]models.Vec3{t.A, t.B, t.C}
	var w [3]float64
	for i := 0; i < 3; i++ {
		a, b := p[(i+1)%3], p[(i+2)%3]
		w[i] = (b.Y-a.Y)*(z-a.Z) - (b.Z-a.Z)*(y-a.Y)
	}
	pos := w[0] >= 0 && w[1] >= 0 && w[2] >= 0
	neg := w[0] <= 0 && w[1] <= 0 && w[2] <= 0
	if !pos && !neg {
		return 0, false
	}
	sum := w[0] + w[1] + w[2]
	if sum == 0 {
		return 0, false
	}
	for i := 0; i < 3; i++ {
		if w[i] == 0 && !topLeft(p[(i+1)%3], p[(i+2)%3], sum > 0) {
			return 0, false
		}
	}
	return (w[0]*p[0].X + w[1]*p[1].X + w[2]*p[2].X) / sum, true
}

// topLeft decides edge ownership for points lying exactly on an edge.
func topLeft(a, b models.Vec3, ccw bool) bool {
	dy, dz := b.Y-a.Y, b.Z-a.Z
	if !ccw {
		dy, dz = -dy, -dz
	}
	return dz < 0 || (dz == 0 && dy > 0)
}

// Contains reports whether p lies inside the solid.
func (m *Mesh) Contains(p models.Vec3) bool {
	if p.X < m.min.X || p.X > m.max.X || p.Y < m.min.Y || p.Y > m.max.Y || p.Z < m.min.Z || p.Z > m.max.Z {
		return false
	}
	return InsideCrossings(m.Crossings(p.Y, p.Z), p.X)
}

// InsideCrossings reports whether x lies inside the intervals described by
// sorted crossings as returned from Crossings.
func InsideCrossings(xs []float64, x float64) bool {
	return sort.SearchFloat64s(xs, x)%2 == 1
}

// Transform applies a 4x4 homogeneous matrix to every vertex. Mirroring
// matrices flip facet order so normals keep pointing outward.
func (m *Mesh) Transform(t *mat.Dense) (*Mesh, error) {
	r, c := t.Dims()
	if r != 4 || c != 4 {
		return nil, fmt.Errorf("transform must be 4x4, got %dx%d", r, c)
	}
	flip := mat.Det(t.Slice(0, 3, 0, 3)) < 0
	apply := func(v models.Vec3) models.Vec3 {
		in := mat.NewVecDense(4, []float64{v.X, v.Y, v.Z, 1})
		var out mat.VecDense
		out.MulVec(t, in)
		w := out.AtVec(3)
		if w == 0 {
			w = 1
		}
		return models.Vec3{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w}
	}
	tris := make([]models.Triangle, len(m.tris))
	for i, tri := range m.tris {
		nt := models.Triangle{A: apply(tri.A), B: apply(tri.B), C: apply(tri.C)}
		if flip {
			nt.B, nt.C = nt.C, nt.B
		}
		tris[i] = nt
	}
	return New(tris)
}

// Translate returns the mesh moved by d.
func (m *Mesh) Translate(d models.Vec3) *Mesh {
	out, _ := m.Transform(mat.NewDense(4, 4, []float64{
		1, 0, 0, d.X,
		0, 1, 0, d.Y,
		0, 0, 1, d.Z,
		0, 0, 0, 1,
	}))
	return out
}

// Scale returns the mesh scaled about the origin.
func (m *Mesh) Scale(sx, sy, sz float64) (*Mesh, error) {
	if sx == 0 || sy == 0 || sz == 0 {
		return nil, fmt.Errorf("scale factors must be non-zero")
	}
	return m.Transform(mat.NewDense(4, 4, []float64{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, sz, 0,
		0, 0, 0, 1,
	}))
}

// Merge combines several meshes into one. The pieces must not overlap.
func Merge(parts ...*Mesh) (*Mesh, error) {
	var tris []models.Triangle
	for _, p := range parts {
		tris = append(tris, p.tris...)
	}
	return New(tris)
}
