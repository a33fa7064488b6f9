package thermal

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tplpath/internal/models"
	"tplpath/pkg/toolpath"
)

func segment(x0, y0, x1, y1, power, speed float64) models.ScanSegment {
	return models.ScanSegment{
		Start: models.Vec2{X: x0, Y: y0},
		End:   models.Vec2{X: x1, Y: y1},
		Z:     0.15,
		Power: power,
		Speed: speed,
	}
}

// repeated writes the same 1 µm line n times.
func repeated(n int) *toolpath.Toolpath {
	tp := toolpath.New(100000)
	for i := 0; i < n; i++ {
		tp.Append(segment(0, 0, 1, 0, 20, 50000))
	}
	return tp
}

func TestSingleExposureRise(t *testing.T) {
	tp := toolpath.New(0)
	tp.Append(segment(0, 0, 10, 0, 20, 50000))
	res := Analyze(tp, models.DefaultLaser(), models.DefaultThermal())
	require.Len(t, res.Rise, 1)
	assert.InDelta(t, 16, res.Rise[0], 1e-9)
	assert.Zero(t, res.Prior[0])
	assert.Empty(t, res.AtRisk)
	assert.InDelta(t, 16, res.Max, 1e-9)
}

func TestSlowHighPowerIsAtRisk(t *testing.T) {
	tp := toolpath.New(0)
	tp.Append(segment(0, 0, 10, 0, 80, 10000))
	assert.Equal(t, []int{0}, Annotate(tp, models.DefaultLaser(), models.DefaultThermal()))
}

func TestHeatAccumulates(t *testing.T) {
	res := Analyze(repeated(10), models.DefaultLaser(), models.DefaultThermal())
	for i := 1; i < 10; i++ {
		assert.Greater(t, res.Temperature(i), res.Temperature(i-1))
	}
	// second write: one 1 µm travel (10 µs) after the first ended
	assert.InDelta(t, 16*math.Exp(-0.01), res.Prior[1], 1e-9)
	assert.Equal(t, []int{6, 7, 8, 9}, res.AtRisk)
}

func TestDistantExposuresDoNotHeat(t *testing.T) {
	tp := toolpath.New(0)
	tp.Append(segment(0, 0, 1, 0, 20, 50000))
	tp.Append(segment(0, 5, 1, 5, 20, 50000))
	res := Analyze(tp, models.DefaultLaser(), models.DefaultThermal())
	assert.Zero(t, res.Prior[1])
}

func TestHeatDecaysWithTime(t *testing.T) {
	consts := models.DefaultThermal()
	fast := toolpath.New(100000)
	fast.Append(segment(0, 0, 1, 0, 20, 50000))
	fast.Append(segment(0, 0.5, 1, 0.5, 20, 50000))

	slow := toolpath.New(100)
	slow.Append(segment(0, 0, 1, 0, 20, 50000))
	slow.Append(segment(0, 0.5, 1, 0.5, 20, 50000))

	a := Analyze(fast, models.DefaultLaser(), consts)
	b := Analyze(slow, models.DefaultLaser(), consts)
	assert.Greater(t, a.Prior[1], b.Prior[1])
}

func TestSuggestions(t *testing.T) {
	consts := models.DefaultThermal()
	res := Analyze(repeated(10), models.DefaultLaser(), consts)
	require.NotEmpty(t, res.AtRisk)

	for _, i := range res.AtRisk {
		d := res.SuggestDelay(i, consts)
		require.False(t, math.IsInf(d, 0))
		assert.Greater(t, d, 0.0)
		cooled := res.Rise[i] + res.Prior[i]*math.Exp(-d/consts.RelaxationTime)
		assert.InDelta(t, consts.DamageThreshold, cooled, 1e-9)

		v := res.SuggestSpeed(i, 50000, consts)
		assert.InDelta(t, consts.DamageThreshold, res.Temperature(i)*50000/v, 1e-9)
	}
	assert.Zero(t, res.SuggestDelay(0, consts))
	assert.Equal(t, 50000.0, res.SuggestSpeed(0, 50000, consts))

	hot := toolpath.New(0)
	hot.Append(segment(0, 0, 10, 0, 80, 10000))
	single := Analyze(hot, models.DefaultLaser(), consts)
	assert.True(t, math.IsInf(single.SuggestDelay(0, consts), 1))
}

func TestAnnotateDoesNotMutate(t *testing.T) {
	tp := repeated(5)
	before := tp.Records()
	Annotate(tp, models.DefaultLaser(), models.DefaultThermal())
	if diff := cmp.Diff(before, tp.Records()); diff != "" {
		t.Errorf("toolpath modified (-before +after):\n%s", diff)
	}
}
