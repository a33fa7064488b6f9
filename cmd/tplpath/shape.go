package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"tplpath/internal/models"
	"tplpath/pkg/mesh"
	"tplpath/pkg/stl"
)

func addShapeFlags(fs *pflag.FlagSet) {
	fs.String("shape", "cube", "part: cube, sphere, cylinder, cone, torus, grating or woodpile")
	fs.Float64("size", 10, "characteristic size of the part in µm")
	fs.Int("segments", 32, "facets around curved primitives")
}

// buildShape makes the requested primitive sitting on the substrate
// (z = 0) and centred on the origin in x and y. size is the edge length,
// the diameter or the outer diameter. Line structures use rods of a tenth
// of size.
func buildShape(fs *pflag.FlagSet) (*mesh.Mesh, error) {
	name, _ := fs.GetString("shape")
	size, _ := fs.GetFloat64("size")
	segments, _ := fs.GetInt("segments")
	if size <= 0 {
		return nil, fmt.Errorf("--size must be positive, got %g", size)
	}
	r := size / 2
	switch strings.ToLower(name) {
	case "cube":
		return mesh.Cube(models.Vec3{X: size, Y: size, Z: size}, models.Vec3{Z: r})
	case "sphere":
		return mesh.Sphere(r, models.Vec3{Z: r}, segments)
	case "cylinder":
		return mesh.Cylinder(r, size, models.Vec3{Z: r}, segments)
	case "cone":
		return mesh.Cone(r, 0, size, models.Vec3{Z: r}, segments)
	case "torus":
		minor := size / 8
		return mesh.Torus(r-minor, minor, models.Vec3{Z: minor}, segments)
	case "grating":
		m, err := mesh.FromSegments(rods(size, 0, false), size/10, segments)
		if err != nil {
			return nil, err
		}
		return settle(m), nil
	case "woodpile":
		w := size / 10
		var segs [][2]models.Vec3
		for k := 0; w/2+float64(k)*0.8*w+w/2 <= size; k++ {
			segs = append(segs, rods(size, w/2+float64(k)*0.8*w, k%2 == 1)...)
		}
		lo := models.Vec3{X: -r - w, Y: -r - w, Z: -w}
		hi := models.Vec3{X: r + w, Y: r + w, Z: size + w}
		m, err := stl.Implicit(stl.Capsules(segs, w), lo, hi, w/4)
		if err != nil {
			return nil, err
		}
		return settle(m), nil
	default:
		return nil, fmt.Errorf("unknown shape %q", name)
	}
}

// rods lays five parallel rods of width size/10 at pitch twice their width,
// spanning size along x (along y when crossed) at height z.
func rods(size, z float64, crossed bool) [][2]models.Vec3 {
	w := size / 10
	end := size/2 - w/2
	const n = 5
	out := make([][2]models.Vec3, n)
	for i := range out {
		c := (float64(i) - float64(n-1)/2) * 2 * w
		a, b := models.Vec3{X: -end, Y: c, Z: z}, models.Vec3{X: end, Y: c, Z: z}
		if crossed {
			a.X, a.Y, b.X, b.Y = c, -end, c, end
		}
		out[i] = [2]models.Vec3{a, b}
	}
	return out
}

// settle centres m on the origin in x and y and puts it on z = 0.
func settle(m *mesh.Mesh) *mesh.Mesh {
	lo, hi := m.Bounds()
	return m.Translate(models.Vec3{X: -(lo.X + hi.X) / 2, Y: -(lo.Y + hi.Y) / 2, Z: -lo.Z})
}
