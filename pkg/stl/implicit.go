package stl

import (
	"fmt"
	"math"

	"tplpath/internal/models"
	"tplpath/pkg/mesh"
)

// MaxImplicitPoints bounds the sampling grid of Implicit
const MaxImplicitPoints = 50_000_000

// Implicit builds the solid where f is negative, sampling f on a grid of
// the given resolution over [lo, hi]. Grid points on the border count as
// outside, so a solid reaching the bounds is cut flat there and the result
// is always closed.
func Implicit(f func(models.Vec3) float64, lo, hi models.Vec3, resolution float64) (*mesh.Mesh, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %g", resolution)
	}
	size := hi.Sub(lo)
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("empty bounds %+v – %+v", lo, hi)
	}
	nx := int(math.Ceil(size.X/resolution)) + 1
	ny := int(math.Ceil(size.Y/resolution)) + 1
	nz := int(math.Ceil(size.Z/resolution)) + 1
	if total := float64(nx) * float64(ny) * float64(nz); total > MaxImplicitPoints {
		return nil, fmt.Errorf("implicit grid of %dx%dx%d points exceeds the %d point limit", nx, ny, nz, MaxImplicitPoints)
	}

	vol := models.NewVolume(nx, ny, nz, lo, models.Vec3{X: resolution, Y: resolution, Z: resolution})
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				v := -f(vol.Point(i, j, k))
				if i == 0 || j == 0 || k == 0 || i == nx-1 || j == ny-1 || k == nz-1 {
					v = math.Min(v, -resolution)
				}
				vol.Data[vol.Index(i, j, k)] = v
			}
		}
	}

	facets := FromVolume(vol, 0).GenerateTriangles()
	if len(facets) == 0 {
		return nil, fmt.Errorf("no surface found inside the bounds")
	}
	tris := make([]models.Triangle, len(facets))
	f64 := func(v [3]float32) models.Vec3 { return models.Vec3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])} }
	for i, t := range facets {
		tris[i] = models.Triangle{A: f64(t.Vertex1), B: f64(t.Vertex2), C: f64(t.Vertex3)}
	}
	return mesh.New(tris)
}

// Capsules is the signed distance to the union of round-ended rods of the
// given width around segments, for use with Implicit.
func Capsules(segments [][2]models.Vec3, width float64) func(models.Vec3) float64 {
	r := width / 2
	return func(p models.Vec3) float64 {
		best := math.Inf(1)
		for _, s := range segments {
			ab := s[1].Sub(s[0])
			t := 0.0
			if l2 := ab.Dot(ab); l2 > 0 {
				t = math.Max(0, math.Min(1, p.Sub(s[0]).Dot(ab)/l2))
			}
			best = math.Min(best, p.Dist(s[0].Add(ab.Scale(t))))
		}
		return best - r
	}
}
