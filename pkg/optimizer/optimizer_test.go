package optimizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
)

// fakeProcess under-exposes below 18 mW or above 60000 µm/s, overheats
// below 20000 µm/s and merges lines under 0.25 µm.
func fakeProcess(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
	r := models.QualityReport{
		UnderExposed: p.Power < 18 || p.Speed > 60000,
		ThermalRisk:  p.Speed < 20000,
		LinesMerged:  p.HatchDistance < 0.25,
		VoxelLateral: 0.3,
	}
	r.Stats.MeanConversion = p.Power / 30
	return r, nil
}

func baseParams() models.ParameterSet {
	return models.ParameterSet{Power: 20, Speed: 50000, LayerHeight: 0.3, HatchDistance: 0.5}
}

func testConfig() Config {
	return Config{
		PowerSweep: []float64{5, 10, 15, 20, 25, 30},
		SpeedSweep: GenerateRange(10000, 100000, 10000),
		HatchSweep: []float64{0.5, 0.4, 0.3, 0.2, 0.1},
		Margin:     1.3,
		RoundStep:  1,
		MaxPower:   100,
		MinSpacing: 0.05,
	}
}

type memRecorder struct {
	mu     sync.Mutex
	trials []Trial
}

func (m *memRecorder) Record(_ context.Context, t Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials = append(m.trials, t)
	return nil
}

func TestPowerThresholdScenario(t *testing.T) {
	opt, err := New(EvaluatorFunc(fakeProcess), testConfig())
	require.NoError(t, err)
	opt.Reset(baseParams())

	for opt.Stage() == StagePowerThreshold {
		require.NoError(t, opt.Step(context.Background()))
	}
	res := opt.Result()
	assert.Equal(t, StageSpeedOptimization, res.Stage)
	assert.Equal(t, 20.0, res.Threshold)
	assert.Equal(t, 26.0, res.WorkingPower)
	assert.Equal(t, 26.0, res.Params.Power)
	require.Len(t, res.History, 4)
	for i, want := range []float64{5, 10, 15, 20} {
		assert.Equal(t, want, res.History[i].Params.Power)
		assert.Equal(t, want == 20, res.History[i].Passed)
	}
	require.NotNil(t, res.PowerFit)
	assert.InDelta(t, 1.0/30, res.PowerFit.Slope, 1e-12)
	assert.InDelta(t, 1.0, res.PowerFit.RSquared, 1e-9)
}

func TestRunAllStages(t *testing.T) {
	rec := &memRecorder{}
	cfg := testConfig()
	cfg.Recorder = rec
	opt, err := New(EvaluatorFunc(fakeProcess), cfg)
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, 26.0, res.Params.Power)
	assert.Equal(t, 60000.0, res.Params.Speed)
	assert.Equal(t, 0.3, res.Params.HatchDistance)
	assert.InDelta(t, 0.18, res.Params.LayerHeight, 1e-12)

	// 4 power, 7 speed (10k..70k) and 3 hatch trials
	assert.Len(t, res.History, 14)
	assert.Len(t, rec.trials, 14)
	ids := map[string]bool{}
	for _, tr := range res.History {
		ids[tr.ID.String()] = true
	}
	assert.Len(t, ids, 14)
}

func TestThresholdNotFound(t *testing.T) {
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		return models.QualityReport{UnderExposed: true}, nil
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), baseParams())
	require.Error(t, err)

	var tnf *fault.ThresholdNotFoundError
	require.True(t, errors.As(err, &tnf))
	assert.Equal(t, []float64{5, 10, 15, 20, 25, 30}, tnf.Sweep)

	var conv *fault.ConvergenceError
	require.True(t, errors.As(err, &conv))
	partial, ok := conv.Partial.(Result)
	require.True(t, ok)
	assert.Len(t, partial.History, 6)
	assert.Equal(t, StagePowerThreshold, res.Stage)
}

func TestWorkingPowerAboveLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPower = 25
	opt, err := New(EvaluatorFunc(fakeProcess), cfg)
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), baseParams())
	var cv *fault.ConstraintViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "working_power", cv.Parameter)
	assert.Equal(t, 26.0, cv.Value)
}

func TestSweepPowerAboveLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPower = 12
	opt, err := New(EvaluatorFunc(fakeProcess), cfg)
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), baseParams())
	var cv *fault.ConstraintViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "power", cv.Parameter)
	assert.Equal(t, 15.0, cv.Value)
}

func TestSpeedStageFailsWhenSlowestIsUnderExposed(t *testing.T) {
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		return models.QualityReport{UnderExposed: p.Speed > 0 && p.Power < 40 && p.Speed != 50000}, nil
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), baseParams())
	var conv *fault.ConvergenceError
	require.True(t, errors.As(err, &conv))
	assert.Equal(t, StageSpeedOptimization.String(), conv.Stage)
}

func TestResolutionKeepsSpacingWhenFirstRefinementFails(t *testing.T) {
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		r, _ := fakeProcess(ctx, p)
		r.OverExposed = p.HatchDistance < 0.5
		return r, nil
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, 0.5, res.Params.HatchDistance)
	assert.Equal(t, 0.3, res.Params.LayerHeight)
	assert.Equal(t, 60000.0, res.Params.Speed)
	assert.False(t, res.Report.OverExposed)

	last := res.History[len(res.History)-1]
	assert.Equal(t, StageResolutionTuning, last.Stage)
	assert.Equal(t, 0.4, last.Params.HatchDistance)
	assert.False(t, last.Passed)
}

func TestResolutionStopsAtTargetFeature(t *testing.T) {
	cfg := testConfig()
	cfg.TargetFeature = 0.4
	opt, err := New(EvaluatorFunc(fakeProcess), cfg)
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Equal(t, 0.4, res.Params.HatchDistance)
	assert.Len(t, res.History, 12)
}

func TestResolutionRespectsFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpacing = 0.35
	opt, err := New(EvaluatorFunc(fakeProcess), cfg)
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Equal(t, 0.4, res.Params.HatchDistance)
}

func TestRunCancelledReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		calls++
		if calls == 6 {
			cancel()
		}
		return fakeProcess(ctx, p)
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	res, err := opt.Run(ctx, baseParams())
	require.NoError(t, err)
	assert.Equal(t, StageSpeedOptimization, res.Stage)
	assert.Equal(t, 26.0, res.WorkingPower)
	assert.Len(t, res.History, 6)
}

func TestRunCancelledInsideTrial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		if p.Power >= 15 {
			cancel()
			return models.QualityReport{}, ctx.Err()
		}
		return fakeProcess(ctx, p)
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	res, err := opt.Run(ctx, baseParams())
	require.NoError(t, err)
	assert.Len(t, res.History, 2)
}

func TestEvaluatorErrorCarriesTrialContext(t *testing.T) {
	boom := &fault.GeometryError{Layer: 3, Reason: "open contour"}
	eval := EvaluatorFunc(func(ctx context.Context, p models.ParameterSet) (models.QualityReport, error) {
		return models.QualityReport{}, boom
	})
	opt, err := New(eval, testConfig())
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), baseParams())
	var geo *fault.GeometryError
	require.True(t, errors.As(err, &geo))
	assert.Contains(t, err.Error(), "power_threshold")
	assert.Contains(t, err.Error(), "power=5mW")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, testConfig())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.PowerSweep = nil
	_, err = New(EvaluatorFunc(fakeProcess), cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SpeedSweep = nil
	_, err = New(EvaluatorFunc(fakeProcess), cfg)
	assert.Error(t, err)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "power_threshold", StagePowerThreshold.String())
	assert.Equal(t, "done", StageDone.String())
	assert.Equal(t, "stage(9)", Stage(9).String())
}
