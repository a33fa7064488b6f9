package stl

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tplpath/internal/models"
	"tplpath/pkg/mesh"
)

// sphereVolume returns a size³ grid that is 1 inside a centred sphere.
func sphereVolume(size int) []float64 {
	data := make([]float64, size*size*size)
	radius := float64(size) / 4
	center := float64(size) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[(z*size+y)*size+x] = 1
				}
			}
		}
	}
	return data
}

func TestMarchingCubes(t *testing.T) {
	size := 20
	mc := NewMarchingCubes(sphereVolume(size), size, size, size, 0.5)
	triangles := mc.GenerateTriangles()
	require.GreaterOrEqual(t, len(triangles), 100)

	center := float32(size) / 2
	for i, tri := range triangles {
		cx := (tri.Vertex1[0]+tri.Vertex2[0]+tri.Vertex3[0])/3 - center
		cy := (tri.Vertex1[1]+tri.Vertex2[1]+tri.Vertex3[1])/3 - center
		cz := (tri.Vertex1[2]+tri.Vertex2[2]+tri.Vertex3[2])/3 - center
		mag := float32(math.Sqrt(float64(cx*cx + cy*cy + cz*cz)))
		dot := (cx*tri.Normal[0] + cy*tri.Normal[1] + cz*tri.Normal[2]) / mag
		if dot < -0.5 {
			t.Fatalf("triangle %d normal points inward, dot %f", i, dot)
		}
	}
}

func TestSetScaleAndOrigin(t *testing.T) {
	data := []float64{
		1, 0,
		0, 0,

		0, 0,
		0, 0,
	}
	plain := NewMarchingCubes(data, 2, 2, 2, 0.5).GenerateTriangles()
	require.NotEmpty(t, plain)

	mc := NewMarchingCubes(data, 2, 2, 2, 0.5)
	mc.SetScale(2.5, 1.5, 3)
	mc.SetOrigin(10, 0, -1)
	scaled := mc.GenerateTriangles()
	require.Len(t, scaled, len(plain))

	scale := [3]float32{2.5, 1.5, 3}
	origin := [3]float32{10, 0, -1}
	for i := range plain {
		for k := 0; k < 3; k++ {
			assert.InDelta(t, plain[i].Vertex1[k]*scale[k]+origin[k], scaled[i].Vertex1[k], 1e-5)
			assert.InDelta(t, plain[i].Vertex2[k]*scale[k]+origin[k], scaled[i].Vertex2[k], 1e-5)
			assert.InDelta(t, plain[i].Vertex3[k]*scale[k]+origin[k], scaled[i].Vertex3[k], 1e-5)
		}
	}
}

func TestTriangleInterpolation(t *testing.T) {
	// a single inside corner at the origin: every facet cuts edges halfway
	data := []float64{
		1, 0,
		0, 0,

		0, 0,
		0, 0,
	}
	triangles := NewMarchingCubes(data, 2, 2, 2, 0.5).GenerateTriangles()
	require.NotEmpty(t, triangles)

	for _, tri := range triangles {
		for _, v := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
			assert.False(t, isIntegerCoordinate(v[0]) && isIntegerCoordinate(v[1]) && isIntegerCoordinate(v[2]),
				"vertex %v sits on a grid point", v)
		}
		n := tri.Normal
		assert.InDelta(t, 1, math.Sqrt(float64(n[0]*n[0]+n[1]*n[1]+n[2]*n[2])), 1e-5)
	}
}

func TestEmptyAndDegenerateGrids(t *testing.T) {
	assert.Empty(t, NewMarchingCubes(make([]float64, 27), 3, 3, 3, 0.5).GenerateTriangles())
	assert.Empty(t, NewMarchingCubes([]float64{1}, 1, 1, 1, 0.5).GenerateTriangles())
	// short data is rejected rather than indexed out of range
	assert.Empty(t, NewMarchingCubes([]float64{1, 0}, 2, 2, 2, 0.5).GenerateTriangles())
}

func TestFromVolume(t *testing.T) {
	v := models.NewVolume(2, 2, 2, models.Vec3{X: 5, Y: 5, Z: 5}, models.Vec3{X: 0.2, Y: 0.2, Z: 0.3})
	v.Data[v.Index(1, 1, 1)] = 1
	tris := FromVolume(v, 0.5).GenerateTriangles()
	require.NotEmpty(t, tris)
	for _, tri := range tris {
		for _, vert := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
			assert.GreaterOrEqual(t, vert[0], float32(5))
			assert.LessOrEqual(t, vert[0], float32(5.2)+1e-5)
			assert.LessOrEqual(t, vert[2], float32(5.3)+1e-5)
		}
	}
}

func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{{
		Normal:  [3]float32{0, 0, 1},
		Vertex1: [3]float32{0, 0, 0},
		Vertex2: [3]float32{1, 0, 0},
		Vertex3: [3]float32{0, 1, 0},
	}}
	path := filepath.Join(t.TempDir(), "facet.stl")
	require.NoError(t, SaveToSTL(path, triangles))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// header, count, one 50 byte record
	require.Len(t, data, 80+4+50)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[80:84]))
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[84+8:84+12])), "normal z")
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[84+24:84+28])), "second vertex x")
}

func TestFromMesh(t *testing.T) {
	cube, err := mesh.Cube(models.Vec3{X: 2, Y: 2, Z: 2}, models.Vec3{})
	require.NoError(t, err)
	tris := FromMesh(cube)
	require.Len(t, tris, cube.Len())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, tris))
	assert.Equal(t, 84+50*len(tris), buf.Len())

	for _, tri := range tris {
		c := [3]float32{
			(tri.Vertex1[0] + tri.Vertex2[0] + tri.Vertex3[0]) / 3,
			(tri.Vertex1[1] + tri.Vertex2[1] + tri.Vertex3[1]) / 3,
			(tri.Vertex1[2] + tri.Vertex2[2] + tri.Vertex3[2]) / 3,
		}
		assert.Greater(t, dot(c, tri.Normal), float32(0), "cube normals point outward")
	}
}

func isIntegerCoordinate(coord float32) bool {
	return math.Abs(float64(coord)-math.Round(float64(coord))) < 0.001
}

func BenchmarkMarchingCubes(b *testing.B) {
	size := 16
	data := sphereVolume(size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewMarchingCubes(data, size, size, size, 0.5).GenerateTriangles()
	}
}

func TestImplicitSphere(t *testing.T) {
	ball := func(p models.Vec3) float64 { return p.Len() - 3 }
	m, err := Implicit(ball, models.Vec3{X: -4, Y: -4, Z: -4}, models.Vec3{X: 4, Y: 4, Z: 4}, 0.2)
	require.NoError(t, err)

	assert.InEpsilon(t, 4.0/3*math.Pi*27, m.Volume(), 0.03)
	assert.True(t, m.Contains(models.Vec3{X: 0.05, Y: 0.03, Z: 0.01}))
	assert.False(t, m.Contains(models.Vec3{X: 3.5, Y: 0.03, Z: 0.01}))
	lo, hi := m.Bounds()
	assert.InDelta(t, -3, lo.X, 0.05)
	assert.InDelta(t, 3, hi.Z, 0.05)
}

func TestImplicitCutsAtBounds(t *testing.T) {
	// the field is negative everywhere; the border closes it into a box
	m, err := Implicit(func(models.Vec3) float64 { return -1 }, models.Vec3{}, models.Vec3{X: 2, Y: 2, Z: 2}, 0.5)
	require.NoError(t, err)
	assert.Greater(t, m.Volume(), 0.0)
	assert.Less(t, m.Volume(), 8.0)
	assert.True(t, m.Contains(models.Vec3{X: 1.01, Y: 0.98, Z: 1.03}))
}

func TestImplicitErrors(t *testing.T) {
	ball := func(p models.Vec3) float64 { return p.Len() - 1 }
	_, err := Implicit(ball, models.Vec3{X: -2, Y: -2, Z: -2}, models.Vec3{X: 2, Y: 2, Z: 2}, 0)
	assert.Error(t, err)
	_, err = Implicit(ball, models.Vec3{X: 2}, models.Vec3{}, 0.5)
	assert.Error(t, err)
	_, err = Implicit(ball, models.Vec3{X: 5, Y: 5, Z: 5}, models.Vec3{X: 6, Y: 6, Z: 6}, 0.5)
	assert.Error(t, err)
}

func TestCapsulesUnion(t *testing.T) {
	rods := [][2]models.Vec3{
		{{X: -4}, {X: 4}},
		{{Y: -4}, {Y: 4}},
	}
	field := Capsules(rods, 1)
	assert.InDelta(t, -0.5, field(models.Vec3{}), 1e-12)
	assert.InDelta(t, 0, field(models.Vec3{X: 2, Y: 0.5}), 1e-12)
	assert.InDelta(t, 0.5, field(models.Vec3{X: 5}), 1e-12)

	m, err := Implicit(field, models.Vec3{X: -5, Y: -5, Z: -1}, models.Vec3{X: 5, Y: 5, Z: 1}, 0.1)
	require.NoError(t, err)
	single := math.Pi*0.25*8 + 4.0/3*math.Pi*0.125
	assert.Greater(t, m.Volume(), single)
	assert.Less(t, m.Volume(), 2*single)
	assert.True(t, m.Contains(models.Vec3{X: 0.02, Y: 0.01, Z: 0.03}))
	assert.True(t, m.Contains(models.Vec3{X: 0.03, Y: 3.01, Z: 0.02}))
}
