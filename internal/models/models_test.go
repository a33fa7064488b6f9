package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) Polygon {
	return Polygon{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func TestPolygonMeasures(t *testing.T) {
	p := square(0, 0, 4, 2)
	assert.Equal(t, 8.0, p.SignedArea())
	assert.Equal(t, -8.0, p.Reversed().SignedArea())
	assert.Equal(t, 8.0, p.Reversed().Area())
	assert.Equal(t, 12.0, p.Perimeter())
	assert.Equal(t, Vec2{2, 1}, p.Centroid())

	lo, hi := p.Bounds()
	assert.Equal(t, Vec2{0, 0}, lo)
	assert.Equal(t, Vec2{4, 2}, hi)

	assert.True(t, p.Contains(Vec2{1, 1}))
	assert.False(t, p.Contains(Vec2{5, 1}))

	// degenerate polygons fall back to the vertex mean
	line := Polygon{{0, 0}, {2, 0}, {4, 0}}
	assert.Zero(t, line.SignedArea())
	assert.Equal(t, Vec2{2, 0}, line.Centroid())
}

func TestLayerRegions(t *testing.T) {
	layer := Layer{Contours: []Contour{
		{Polygon: square(0, 0, 10, 10)},
		{Polygon: square(2, 2, 4, 4).Reversed(), Hole: true},
		{Polygon: square(20, 0, 30, 10)},
		{Polygon: square(1, 1, 8, 8)},
		{Polygon: square(5, 5, 6, 6).Reversed(), Hole: true},
	}}
	regions := layer.Regions()
	require.Len(t, regions, 3)
	// holes attach to the smallest enclosing outer contour
	assert.Empty(t, regions[0].Holes)
	assert.Empty(t, regions[1].Holes)
	assert.Len(t, regions[2].Holes, 2)
	assert.Equal(t, 49.0-4-1, regions[2].Area())
	assert.False(t, regions[2].Contains(Vec2{3, 3}))
	assert.True(t, regions[2].Contains(Vec2{7, 3}))
	assert.False(t, layer.Empty())
	assert.True(t, Layer{}.Empty())
}

func TestParseFillPattern(t *testing.T) {
	tests := []struct {
		in      string
		want    FillPattern
		wantErr bool
	}{
		{"rectilinear", Rectilinear, false},
		{" Concentric ", Concentric, false},
		{"SPIRAL", Spiral, false},
		{"", Rectilinear, false},
		{"zigzag", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFillPattern(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParameterSetCloneAndValidate(t *testing.T) {
	p := ParameterSet{
		Power: 20, Speed: 50000, LayerHeight: 0.3, HatchDistance: 0.5,
		FillPattern: Rectilinear,
		FirstLayer:  &Override{Power: 30},
		Regions:     []RegionOverride{{Name: "a", Polygon: square(0, 0, 1, 1)}},
	}
	require.NoError(t, p.Validate())

	c := p.Clone()
	c.FirstLayer.Power = 40
	c.Regions[0].Polygon[0] = Vec2{-1, -1}
	assert.Equal(t, 30.0, p.FirstLayer.Power)
	assert.Equal(t, Vec2{0, 0}, p.Regions[0].Polygon[0])

	bad := []func(*ParameterSet){
		func(p *ParameterSet) { p.Power = -1 },
		func(p *ParameterSet) { p.Speed = 0 },
		func(p *ParameterSet) { p.LayerHeight = 0 },
		func(p *ParameterSet) { p.HatchDistance = -0.5 },
		func(p *ParameterSet) { p.FillPattern = "zigzag" },
	}
	for i, mutate := range bad {
		q := p.Clone()
		mutate(&q)
		assert.Error(t, q.Validate(), "case %d", i)
	}
}

func TestRegionOverrideBand(t *testing.T) {
	r := RegionOverride{Polygon: square(0, 0, 1, 1)}
	assert.True(t, r.AppliesAt(Vec2{0.5, 0.5}, 100))
	assert.False(t, r.AppliesAt(Vec2{1.5, 0.5}, 0))

	r.ZMin, r.ZMax = 1, 2
	assert.True(t, r.AppliesAt(Vec2{0.5, 0.5}, 1.5))
	assert.False(t, r.AppliesAt(Vec2{0.5, 0.5}, 2.5))
}

func TestLaserAndReport(t *testing.T) {
	l := DefaultLaser()
	assert.InDelta(t, 20/80e6, l.PulseEnergy(20), 1e-18)
	l.RepetitionRate = 0
	assert.Zero(t, l.PulseEnergy(20))

	assert.True(t, QualityReport{}.Acceptable())
	assert.False(t, QualityReport{ThermalRisk: true}.Acceptable())
}
