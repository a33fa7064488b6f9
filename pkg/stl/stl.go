// Package stl extracts iso-surfaces from sampled volumes and writes binary
// STL files. It is used to export meshes and the predicted polymerized
// volume of a toolpath.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"tplpath/internal/models"
	"tplpath/pkg/mesh"
)

// Triangle is one STL facet in single precision
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// MarchingCubes polygonises the iso-surface of a scalar grid. Each cell is
// split into six tetrahedra around its main diagonal, which avoids the
// ambiguous cases of the cube table.
type MarchingCubes struct {
	data          []float64
	width, height int
	depth         int
	isoLevel      float64
	scale         [3]float32
	origin        [3]float32
}

// NewMarchingCubes wraps data laid out x fastest, then y, then z. Points
// with a value at or above isoLevel are inside.
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		scale:    [3]float32{1, 1, 1},
	}
}

// FromVolume sets the grid geometry from v.
func FromVolume(v *models.Volume, isoLevel float64) *MarchingCubes {
	mc := NewMarchingCubes(v.Data, v.Width, v.Height, v.Depth, isoLevel)
	mc.SetScale(float32(v.Spacing.X), float32(v.Spacing.Y), float32(v.Spacing.Z))
	mc.SetOrigin(float32(v.Origin.X), float32(v.Origin.Y), float32(v.Origin.Z))
	return mc
}

// SetScale sets the grid spacing per axis.
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.scale = [3]float32{x, y, z}
}

// SetOrigin sets the position of grid point (0, 0, 0).
func (mc *MarchingCubes) SetOrigin(x, y, z float32) {
	mc.origin = [3]float32{x, y, z}
}

var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// the six tetrahedra sharing the 0-6 diagonal
var cubeTets = [6][4]int{
	{0, 6, 1, 2}, {0, 6, 2, 3}, {0, 6, 3, 7},
	{0, 6, 7, 4}, {0, 6, 4, 5}, {0, 6, 5, 1},
}

type corner struct {
	pos [3]float32
	val float64
}

// GenerateTriangles returns the iso-surface with outward facing normals.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	var out []Triangle
	if mc.width < 2 || mc.height < 2 || mc.depth < 2 || len(mc.data) < mc.width*mc.height*mc.depth {
		return nil
	}
	var cell [8]corner
	for z := 0; z < mc.depth-1; z++ {
		for y := 0; y < mc.height-1; y++ {
			for x := 0; x < mc.width-1; x++ {
				for i, c := range cubeCorners {
					cx, cy, cz := x+c[0], y+c[1], z+c[2]
					cell[i] = corner{
						pos: [3]float32{
							mc.origin[0] + float32(cx)*mc.scale[0],
							mc.origin[1] + float32(cy)*mc.scale[1],
							mc.origin[2] + float32(cz)*mc.scale[2],
						},
						val: mc.data[(cz*mc.height+cy)*mc.width+cx],
					}
				}
				for _, tet := range cubeTets {
					out = mc.tetrahedron(out, [4]corner{cell[tet[0]], cell[tet[1]], cell[tet[2]], cell[tet[3]]})
				}
			}
		}
	}
	return out
}

func (mc *MarchingCubes) tetrahedron(out []Triangle, t [4]corner) []Triangle {
	var in, ex []corner
	for _, c := range t {
		if c.val >= mc.isoLevel {
			in = append(in, c)
		} else {
			ex = append(ex, c)
		}
	}
	// outward points from the inside corners to the outside ones
	var outward [3]float32
	for _, c := range ex {
		outward = add(outward, c.pos)
	}
	for _, c := range in {
		outward = sub(outward, c.pos)
	}

	switch len(in) {
	case 1, 3:
		lone, rest := in, ex
		if len(in) == 3 {
			lone, rest = ex, in
		}
		a := mc.interp(lone[0], rest[0])
		b := mc.interp(lone[0], rest[1])
		c := mc.interp(lone[0], rest[2])
		out = appendFacet(out, a, b, c, outward)
	case 2:
		a := mc.interp(in[0], ex[0])
		b := mc.interp(in[0], ex[1])
		c := mc.interp(in[1], ex[1])
		d := mc.interp(in[1], ex[0])
		out = appendFacet(out, a, b, c, outward)
		out = appendFacet(out, a, c, d, outward)
	}
	return out
}

// interp places the crossing on the edge p-q by linear interpolation.
func (mc *MarchingCubes) interp(p, q corner) [3]float32 {
	t := float32(0.5)
	if d := q.val - p.val; math.Abs(d) > 1e-12 {
		t = float32((mc.isoLevel - p.val) / d)
	}
	return [3]float32{
		p.pos[0] + t*(q.pos[0]-p.pos[0]),
		p.pos[1] + t*(q.pos[1]-p.pos[1]),
		p.pos[2] + t*(q.pos[2]-p.pos[2]),
	}
}

func appendFacet(out []Triangle, a, b, c, outward [3]float32) []Triangle {
	n := cross(sub(b, a), sub(c, a))
	if dot(n, outward) < 0 {
		b, c = c, b
		n = [3]float32{-n[0], -n[1], -n[2]}
	}
	l := float32(math.Sqrt(float64(dot(n, n))))
	if l == 0 {
		return out
	}
	return append(out, Triangle{
		Normal:  [3]float32{n[0] / l, n[1] / l, n[2] / l},
		Vertex1: a,
		Vertex2: b,
		Vertex3: c,
	})
}

func add(a, b [3]float32) [3]float32 { return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func dot(a, b [3]float32) float32    { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func cross(a, b [3]float32) [3]float32 {
	return [3]float32{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

// FromMesh converts mesh facets to STL triangles.
func FromMesh(m *mesh.Mesh) []Triangle {
	tris := m.Triangles()
	out := make([]Triangle, 0, len(tris))
	f32 := func(v models.Vec3) [3]float32 { return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)} }
	for _, t := range tris {
		n := t.B.Sub(t.A).Cross(t.C.Sub(t.A))
		if l := n.Len(); l > 0 {
			n = n.Scale(1 / l)
		}
		out = append(out, Triangle{Normal: f32(n), Vertex1: f32(t.A), Vertex2: f32(t.B), Vertex3: f32(t.C)})
	}
	return out
}

// Write encodes triangles as binary STL.
func Write(w io.Writer, triangles []Triangle) error {
	bw := bufio.NewWriter(w)
	var header [80]byte
	copy(header[:], "tplpath binary STL")
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("writing STL header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("writing triangle count: %w", err)
	}
	for i, t := range triangles {
		rec := struct {
			Facet Triangle
			Attr  uint16
		}{Facet: t}
		if err := binary.Write(bw, binary.LittleEndian, rec); err != nil {
			return fmt.Errorf("writing triangle %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// SaveToSTL writes triangles as a binary STL file.
func SaveToSTL(path string, triangles []Triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating STL file: %w", err)
	}
	if err := Write(f, triangles); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
