package spatial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tplpath/internal/models"
)

func v(x, y, z float64) models.Vec3 { return models.Vec3{X: x, Y: y, Z: z} }

func TestSegmentDistance(t *testing.T) {
	tests := []struct {
		name           string
		p0, p1, q0, q1 models.Vec3
		want           float64
	}{
		{"parallel", v(0, 0, 0), v(10, 0, 0), v(0, 1, 0), v(10, 1, 0), 1},
		{"crossing above", v(0, 0, 0), v(10, 0, 0), v(5, -5, 2), v(5, 5, 2), 2},
		{"end to end", v(0, 0, 0), v(1, 0, 0), v(3, 0, 0), v(4, 0, 0), 2},
		{"degenerate", v(1, 1, 1), v(1, 1, 1), v(1, 4, 5), v(1, 4, 5), 5},
		{"point to segment", v(5, 3, 0), v(5, 3, 0), v(0, 0, 0), v(10, 0, 0), 3},
		{"skew offset", v(0, 0, 0), v(1, 0, 0), v(2, 1, 0), v(2, 2, 0), math.Sqrt(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SegmentDistance(tt.p0, tt.p1, tt.q0, tt.q1), 1e-12)
			assert.InDelta(t, tt.want, SegmentDistance(tt.q0, tt.q1, tt.p0, tt.p1), 1e-12)
		})
	}
}

func TestPointSegment(t *testing.T) {
	assert.InDelta(t, 1, PointSegment(v(5, 1, 0), v(0, 0, 0), v(10, 0, 0)), 1e-12)
	assert.InDelta(t, 5, PointSegment(v(-3, 4, 0), v(0, 0, 0), v(10, 0, 0)), 1e-12)
	assert.InDelta(t, 0.5, ClosestOnSegment(v(5, 7, 0), v(0, 0, 0), v(10, 0, 0)), 1e-12)
}

// TestNearMatchesBruteForce checks that the index never misses a segment
// within reach.
func TestNearMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var segs []Segment
	for i := 0; i < 300; i++ {
		a := v(rng.Float64()*20, rng.Float64()*20, float64(rng.Intn(5))*0.3)
		dir := v(rng.Float64()-0.5, rng.Float64()-0.5, 0)
		segs = append(segs, Segment{A: a, B: a.Add(dir.Scale(rng.Float64() * 8))})
	}
	const zScale = 0.5
	const r = 0.8
	ix := NewIndex(segs, 0.4, zScale)
	require.Equal(t, len(segs), ix.Len())
	s := ix.Searcher()

	scaled := func(p models.Vec3) models.Vec3 { return v(p.X, p.Y, p.Z*zScale) }
	for q := 0; q < 200; q++ {
		p := v(rng.Float64()*20, rng.Float64()*20, rng.Float64()*1.5)
		got := map[int]bool{}
		for _, i := range s.Near(p, r) {
			got[i] = true
		}
		for i, seg := range segs {
			if PointSegment(scaled(p), scaled(seg.A), scaled(seg.B)) <= r {
				assert.True(t, got[i], "segment %d within %g of %v was missed", i, r, p)
			}
		}
	}
}

func TestNearSegmentMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var segs []Segment
	for i := 0; i < 150; i++ {
		a := v(rng.Float64()*10, rng.Float64()*10, 0)
		segs = append(segs, Segment{A: a, B: a.Add(v(rng.Float64()*3, rng.Float64()*3, 0))})
	}
	ix := NewIndex(segs, 0.5, 1)
	s := ix.Searcher()
	for i, q := range segs {
		got := map[int]bool{}
		for _, j := range s.NearSegment(q.A, q.B, 1) {
			got[j] = true
		}
		assert.True(t, got[i])
		for j, o := range segs {
			if SegmentDistance(q.A, q.B, o.A, o.B) <= 1 {
				assert.True(t, got[j], "segment %d near %d was missed", j, i)
			}
		}
	}
}

func TestNearResultsAreUniqueAndSorted(t *testing.T) {
	segs := []Segment{{A: v(0, 0, 0), B: v(10, 0, 0)}, {A: v(0, 0.2, 0), B: v(10, 0.2, 0)}}
	s := NewIndex(segs, 0.1, 1).Searcher()
	assert.Equal(t, []int{0, 1}, s.Near(v(5, 0.1, 0), 0.5))
	assert.Empty(t, s.Near(v(50, 50, 0), 0.5))
}

func TestEmptyIndex(t *testing.T) {
	s := NewIndex(nil, 0.1, 1).Searcher()
	assert.Empty(t, s.Near(v(0, 0, 0), 1))
	assert.Empty(t, s.NearSegment(v(0, 0, 0), v(1, 0, 0), 1))
}
