package mesh

import (
	"fmt"
	"math"

	"tplpath/internal/models"
)

// Cube returns an axis-aligned box with the given edge lengths centred at
// center.
func Cube(size, center models.Vec3) (*Mesh, error) {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("all size dimensions must be positive, got %+v", size)
	}
	h := size.Scale(0.5)
	lo := center.Sub(h)
	hi := center.Add(h)
	c := [8]models.Vec3{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z}, {X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z}, {X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	quads := [6][4]int{
		{0, 3, 2, 1}, // bottom
		{4, 5, 6, 7}, // top
		{0, 1, 5, 4}, // front
		{1, 2, 6, 5}, // right
		{2, 3, 7, 6}, // back
		{3, 0, 4, 7}, // left
	}
	tris := make([]models.Triangle, 0, 12)
	for _, q := range quads {
		tris = append(tris,
			models.Triangle{A: c[q[0]], B: c[q[1]], C: c[q[2]]},
			models.Triangle{A: c[q[0]], B: c[q[2]], C: c[q[3]]},
		)
	}
	return New(tris)
}

// Sphere returns a UV sphere with the given number of segments around the
// equator. Resolution must be at least 4.
func Sphere(radius float64, center models.Vec3, segments int) (*Mesh, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %g", radius)
	}
	if segments < 4 {
		return nil, fmt.Errorf("resolution must be at least 4, got %d", segments)
	}
	rings := segments / 2
	point := func(ring, seg int) models.Vec3 {
		theta := math.Pi * float64(ring) / float64(rings)
		phi := 2 * math.Pi * float64(seg%segments) / float64(segments)
		return models.Vec3{
			X: center.X + radius*math.Sin(theta)*math.Cos(phi),
			Y: center.Y + radius*math.Sin(theta)*math.Sin(phi),
			Z: center.Z - radius*math.Cos(theta),
		}
	}
	var tris []models.Triangle
	for r := 0; r < rings; r++ {
		for s := 0; s < segments; s++ {
			a, b := point(r, s), point(r, s+1)
			c, d := point(r+1, s), point(r+1, s+1)
			if r > 0 {
				tris = append(tris, models.Triangle{A: a, B: b, C: d})
			}
			if r < rings-1 {
				tris = append(tris, models.Triangle{A: a, B: d, C: c})
			}
		}
	}
	return New(tris)
}

// Cylinder returns a closed cylinder with its axis along z.
func Cylinder(radius, height float64, center models.Vec3, segments int) (*Mesh, error) {
	return Cone(radius, radius, height, center, segments)
}

// Cone returns a closed frustum with bottom radius r1 and top radius r2.
// Either radius may be zero for a pointed cone, not both.
func Cone(r1, r2, height float64, center models.Vec3, segments int) (*Mesh, error) {
	if r1 < 0 || r2 < 0 || (r1 == 0 && r2 == 0) {
		return nil, fmt.Errorf("cone radii must be non-negative and not both zero, got %g and %g", r1, r2)
	}
	if height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %g", height)
	}
	if segments < 3 {
		return nil, fmt.Errorf("resolution must be at least 3, got %d", segments)
	}
	z0 := center.Z - height/2
	z1 := center.Z + height/2
	ring := func(r, z float64, i int) models.Vec3 {
		a := 2 * math.Pi * float64(i%segments) / float64(segments)
		return models.Vec3{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a), Z: z}
	}
	bc := models.Vec3{X: center.X, Y: center.Y, Z: z0}
	tc := models.Vec3{X: center.X, Y: center.Y, Z: z1}
	var tris []models.Triangle
	for i := 0; i < segments; i++ {
		b0, b1 := ring(r1, z0, i), ring(r1, z0, i+1)
		t0, t1 := ring(r2, z1, i), ring(r2, z1, i+1)
		if r1 > 0 {
			tris = append(tris, models.Triangle{A: bc, B: b1, C: b0})
			tris = append(tris, models.Triangle{A: b0, B: b1, C: t1})
		}
		if r2 > 0 {
			tris = append(tris, models.Triangle{A: tc, B: t0, C: t1})
			tris = append(tris, models.Triangle{A: b0, B: t1, C: t0})
		}
	}
	return New(tris)
}

// Torus returns a ring torus lying in the xy plane.
func Torus(major, minor float64, center models.Vec3, segments int) (*Mesh, error) {
	if major <= 0 || minor <= 0 {
		return nil, fmt.Errorf("torus radii must be positive, got %g and %g", major, minor)
	}
	if minor >= major {
		return nil, fmt.Errorf("minor radius %g must be smaller than major radius %g", minor, major)
	}
	if segments < 3 {
		return nil, fmt.Errorf("resolution must be at least 3, got %d", segments)
	}
	tube := segments / 2
	if tube < 3 {
		tube = 3
	}
	point := func(i, j int) models.Vec3 {
		u := 2 * math.Pi * float64(i%segments) / float64(segments)
		v := 2 * math.Pi * float64(j%tube) / float64(tube)
		r := major + minor*math.Cos(v)
		return models.Vec3{
			X: center.X + r*math.Cos(u),
			Y: center.Y + r*math.Sin(u),
			Z: center.Z + minor*math.Sin(v),
		}
	}
	var tris []models.Triangle
	for i := 0; i < segments; i++ {
		for j := 0; j < tube; j++ {
			a, b := point(i, j), point(i+1, j)
			c, d := point(i+1, j+1), point(i, j+1)
			tris = append(tris,
				models.Triangle{A: a, B: b, C: c},
				models.Triangle{A: a, B: c, C: d},
			)
		}
	}
	return New(tris)
}
