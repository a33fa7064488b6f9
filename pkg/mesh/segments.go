package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"tplpath/internal/models"
)

// FromSegments builds a solid line structure: a closed cylinder of the given
// width around every segment, merged into one mesh. Segments shorter than
// 1e-6 are skipped. Cylinders are not unioned, so segments must not cross
// or touch.
func FromSegments(segments [][2]models.Vec3, width float64, sections int) (*Mesh, error) {
	if width <= 0 {
		return nil, fmt.Errorf("line width must be positive, got %g", width)
	}
	var parts []*Mesh
	for i, s := range segments {
		d := s[1].Sub(s[0])
		length := d.Len()
		if length < 1e-6 {
			continue
		}
		rod, err := Cylinder(width/2, length, models.Vec3{}, sections)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		placed, err := rod.Transform(alignZ(d.Scale(1/length), s[0].Add(d.Scale(0.5))))
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		parts = append(parts, placed)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no segment longer than 1e-6 among %d", len(segments))
	}
	return Merge(parts...)
}

// alignZ returns the rigid transform turning the z axis onto the unit
// direction d and moving the origin to at.
func alignZ(d, at models.Vec3) *mat.Dense {
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	switch c := d.Z; {
	case c < -1+1e-12:
		// half turn about x
		r.Set(1, 1, -1)
		r.Set(2, 2, -1)
	case c < 1-1e-12:
		// Rodrigues with axis z×d
		k := mat.NewDense(3, 3, []float64{
			0, 0, d.X,
			0, 0, d.Y,
			-d.X, -d.Y, 0,
		})
		var k2 mat.Dense
		k2.Mul(k, k)
		s2 := d.X*d.X + d.Y*d.Y
		k2.Scale((1-c)/s2, &k2)
		r.Add(r, k)
		r.Add(r, &k2)
	}
	t := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.Set(i, j, r.At(i, j))
		}
	}
	t.Set(0, 3, at.X)
	t.Set(1, 3, at.Y)
	t.Set(2, 3, at.Z)
	t.Set(3, 3, 1)
	return t
}
