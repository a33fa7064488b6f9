package hatch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/mesh"
	"tplpath/pkg/slicer"
)

func rect(x0, y0, x1, y1 float64) models.Polygon {
	return models.Polygon{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func squareLayer(index int) models.Layer {
	return models.Layer{
		Index:     index,
		Z:         0.15 + 0.3*float64(index),
		Thickness: 0.3,
		Contours:  []models.Contour{{Polygon: rect(0, 0, 10, 10)}},
	}
}

func totalLength(segs []models.ScanSegment) float64 {
	var l float64
	for _, s := range segs {
		l += s.Length()
	}
	return l
}

func TestRectilinearCentred(t *testing.T) {
	segs, err := Fill(squareLayer(0), 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	require.Len(t, segs, 20)

	for i, s := range segs {
		y := 0.25 + 0.5*float64(i)
		assert.InDelta(t, y, s.Start.Y, 1e-9)
		assert.InDelta(t, y, s.End.Y, 1e-9)
		assert.InDelta(t, 0, s.Start.X, 1e-9)
		assert.InDelta(t, 10, s.End.X, 1e-9)
		assert.True(t, s.Fixed)
		assert.Zero(t, s.Chain)
		assert.Equal(t, 0, s.Layer)
		assert.InDelta(t, 0.15, s.Z, 1e-12)
		assert.Zero(t, s.Power)
	}
	assert.InDelta(t, 200, totalLength(segs), 1e-6)
}

func TestCrossHatchRotatesOddLayers(t *testing.T) {
	opts := Options{CrossHatch: true}

	even, err := Fill(squareLayer(2), 0.5, models.Rectilinear, opts)
	require.NoError(t, err)
	require.Len(t, even, 20)
	for _, s := range even {
		assert.InDelta(t, s.Start.Y, s.End.Y, 1e-9)
	}

	odd, err := Fill(squareLayer(3), 0.5, models.Rectilinear, opts)
	require.NoError(t, err)
	require.Len(t, odd, 20)
	for _, s := range odd {
		assert.InDelta(t, s.Start.X, s.End.X, 1e-9, "odd layer lines must run along y")
		assert.InDelta(t, 10, s.Length(), 1e-9)
	}
}

func TestBidirectionalSingleChain(t *testing.T) {
	segs, err := Fill(squareLayer(0), 0.5, models.Rectilinear, Options{Bidirectional: true})
	require.NoError(t, err)
	require.Len(t, segs, 20)

	chain := segs[0].Chain
	assert.NotZero(t, chain)
	for i, s := range segs {
		assert.Equal(t, chain, s.Chain)
		assert.False(t, s.Fixed)
		if i%2 == 1 {
			assert.InDelta(t, 10, s.Start.X, 1e-9, "line %d should run backwards", i)
			assert.InDelta(t, 0, s.End.X, 1e-9)
		} else {
			assert.InDelta(t, 0, s.Start.X, 1e-9)
		}
	}
}

func TestRectilinearSkipsHole(t *testing.T) {
	layer := squareLayer(0)
	layer.Contours = append(layer.Contours, models.Contour{Polygon: rect(3, 3, 7, 7).Reversed(), Hole: true})

	segs, err := Fill(layer, 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	// eight lines cross the hole and split in two
	require.Len(t, segs, 28)
	assert.InDelta(t, 200-8*4, totalLength(segs), 1e-6)

	var pieces []models.ScanSegment
	for _, s := range segs {
		if s.Start.Y > 4.7 && s.Start.Y < 4.8 {
			pieces = append(pieces, s)
		}
	}
	require.Len(t, pieces, 2)
	assert.InDelta(t, 0, pieces[0].Start.X, 1e-9)
	assert.InDelta(t, 3, pieces[0].End.X, 1e-9)
	assert.InDelta(t, 7, pieces[1].Start.X, 1e-9)
	assert.InDelta(t, 10, pieces[1].End.X, 1e-9)

	for _, s := range segs {
		mid := s.Midpoint().XY()
		assert.False(t, mid.X > 3 && mid.X < 7 && mid.Y > 3 && mid.Y < 7, "segment inside hole at %+v", mid)
	}
}

func TestNarrowFeatureFallsBackToCenterline(t *testing.T) {
	layer := models.Layer{Z: 0.15, Contours: []models.Contour{{Polygon: rect(0, 0, 5, 0.2)}}}

	segs, err := Fill(layer, 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	s := segs[0]
	assert.InDelta(t, 5, s.Length(), 1e-9)
	assert.InDelta(t, 0.1, s.Start.Y, 1e-9)
	assert.InDelta(t, 0.1, s.End.Y, 1e-9)
	assert.Zero(t, s.Chain)
}

func TestConcentricRings(t *testing.T) {
	segs, err := Fill(squareLayer(0), 0.5, models.Concentric, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, segs)

	byChain := map[int]float64{}
	for _, s := range segs {
		require.NotZero(t, s.Chain)
		byChain[s.Chain] += s.Length()
	}
	// rings sit at 0.25, 0.75, … 4.75 from the boundary
	assert.Len(t, byChain, 10)
	assert.InDelta(t, 38, byChain[segs[0].Chain], 1e-6)
	assert.InDelta(t, 200, totalLength(segs), 1e-6)
}

func TestSpiralSingleChain(t *testing.T) {
	segs, err := Fill(squareLayer(0), 0.5, models.Spiral, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, segs)

	chain := segs[0].Chain
	assert.NotZero(t, chain)
	for i, s := range segs {
		assert.Equal(t, chain, s.Chain)
		if i > 0 {
			assert.InDelta(t, 0, segs[i-1].End.Dist(s.Start), 1e-9, "spiral breaks before segment %d", i)
		}
	}
	assert.Greater(t, totalLength(segs), 200.0)
}

func TestFillRejectsBadSpacing(t *testing.T) {
	_, err := Fill(squareLayer(4), 0.0005, models.Rectilinear, Options{})
	var cv *fault.ConstraintViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "hatch_distance", cv.Parameter)
	assert.Equal(t, 4, cv.Layer)
	assert.Equal(t, DefaultStageResolution, cv.Limit)

	_, err = Fill(squareLayer(0), 0, models.Rectilinear, Options{})
	assert.Error(t, err)
	_, err = Fill(squareLayer(0), -0.5, models.Rectilinear, Options{})
	assert.Error(t, err)
	_, err = Fill(squareLayer(0), 0.5, models.FillPattern("zigzag"), Options{})
	assert.Error(t, err)
}

func TestFillEmptyLayer(t *testing.T) {
	segs, err := Fill(models.Layer{Index: 1, Z: 0.45}, 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestFillLayersKeepsOrder(t *testing.T) {
	layers := make([]models.Layer, 8)
	for i := range layers {
		layers[i] = squareLayer(i)
	}
	out, err := FillLayers(context.Background(), layers, 0.5, models.Rectilinear, Options{CrossHatch: true, NumCores: 3})
	require.NoError(t, err)
	require.Len(t, out, len(layers))
	for i, segs := range out {
		require.Len(t, segs, 20)
		for _, s := range segs {
			assert.Equal(t, i, s.Layer)
			assert.InDelta(t, layers[i].Z, s.Z, 1e-12)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FillLayers(ctx, layers, 0.5, models.Rectilinear, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCubeScenario(t *testing.T) {
	cube, err := mesh.Cube(models.Vec3{X: 10, Y: 10, Z: 10}, models.Vec3{X: 5, Y: 5, Z: 5})
	require.NoError(t, err)
	zs, err := slicer.LayerHeights(cube, 0.3)
	require.NoError(t, err)
	layers, err := slicer.Slice(context.Background(), cube, zs, slicer.Options{})
	require.NoError(t, err)
	require.Len(t, layers, 34)

	out, err := FillLayers(context.Background(), layers, 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	for i, segs := range out {
		require.Len(t, segs, 20, "layer %d", i)
		for j, s := range segs {
			assert.InDelta(t, 10, s.Length(), 1e-9)
			if j > 0 {
				assert.InDelta(t, 0.5, s.Start.Y-segs[j-1].Start.Y, 1e-9)
			}
		}
	}
}

func dumbbellLayer() models.Layer {
	return models.Layer{Z: 0.15, Thickness: 0.3, Contours: []models.Contour{{Polygon: models.Polygon{
		{X: 0, Y: 0}, {X: 6, Y: 0}, {X: 6, Y: 2.5}, {X: 10, Y: 2.5},
		{X: 10, Y: 0}, {X: 16, Y: 0}, {X: 16, Y: 6}, {X: 10, Y: 6},
		{X: 10, Y: 3.5}, {X: 6, Y: 3.5}, {X: 6, Y: 6}, {X: 0, Y: 6},
	}}}}
}

// farthestInterior returns how far the worst-served interior grid point of
// the layer lies from its nearest segment.
func farthestInterior(layer models.Layer, segs []models.ScanSegment, step float64) (float64, int) {
	outer := layer.Contours[0].Polygon
	lo, hi := outer.Bounds()
	worst, samples := 0.0, 0
	for x := lo.X + step/2; x < hi.X; x += step {
		for y := lo.Y + step/2; y < hi.Y; y += step {
			p := models.Vec2{X: x, Y: y}
			if !outer.Contains(p) {
				continue
			}
			samples++
			nearest := math.Inf(1)
			for _, s := range segs {
				nearest = math.Min(nearest, segmentDist(p, s.Start, s.End))
			}
			worst = math.Max(worst, nearest)
		}
	}
	return worst, samples
}

func TestRingsFollowSplitLobes(t *testing.T) {
	layer := dumbbellLayer()
	for _, pattern := range []models.FillPattern{models.Concentric, models.Spiral, models.Rectilinear} {
		t.Run(string(pattern), func(t *testing.T) {
			segs, err := Fill(layer, 0.5, pattern, Options{})
			require.NoError(t, err)
			worst, samples := farthestInterior(layer, segs, 0.1)
			require.Greater(t, samples, 7000)
			assert.LessOrEqual(t, worst, 0.5)
		})
	}
}

func TestSpiralPerLobe(t *testing.T) {
	segs, err := Fill(dumbbellLayer(), 0.5, models.Spiral, Options{})
	require.NoError(t, err)
	chains := map[int]bool{}
	for _, s := range segs {
		chains[s.Chain] = true
	}
	// the ring around both lobes, then one spiral per lobe
	assert.Len(t, chains, 3)
}

func TestThinTabGetsCenterline(t *testing.T) {
	// a 3 x 0.15 tab sticking out between two scan lines
	layer := models.Layer{Z: 0.15, Contours: []models.Contour{{Polygon: models.Polygon{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5.3}, {X: 13, Y: 5.3},
		{X: 13, Y: 5.45}, {X: 10, Y: 5.45}, {X: 10, Y: 10}, {X: 0, Y: 10},
	}}}}
	for _, pattern := range []models.FillPattern{models.Rectilinear, models.Concentric, models.Spiral} {
		t.Run(string(pattern), func(t *testing.T) {
			segs, err := Fill(layer, 0.5, pattern, Options{})
			require.NoError(t, err)

			var tab []models.ScanSegment
			for _, s := range segs {
				if math.Min(s.Start.X, s.End.X) >= 10 {
					tab = append(tab, s)
				}
			}
			require.Len(t, tab, 1)
			s := tab[0]
			assert.InDelta(t, 13, math.Max(s.Start.X, s.End.X), 1e-9)
			assert.Greater(t, s.Length(), 2.5)
			assert.InDelta(t, 5.375, s.Start.Y, 1e-6)
			assert.InDelta(t, 5.375, s.End.Y, 1e-6)
			assert.Zero(t, s.Chain)
		})
	}

	// the pattern alone for the square part stays as it was
	segs, err := Fill(layer, 0.5, models.Rectilinear, Options{})
	require.NoError(t, err)
	assert.Len(t, segs, 21)
}

func TestSquareNeedsNoSliverLines(t *testing.T) {
	for _, pattern := range []models.FillPattern{models.Rectilinear, models.Concentric} {
		segs, err := Fill(squareLayer(0), 0.5, pattern, Options{})
		require.NoError(t, err)
		assert.InDelta(t, 200, totalLength(segs), 1e-6, "pattern %s", pattern)
	}
}
