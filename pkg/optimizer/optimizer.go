// Package optimizer searches process parameters in three ordered stages:
// the polymerization threshold power, the fastest safe scan speed at the
// working power, and the finest hatch the dose model still resolves.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
)

// Stage is the optimizer's position in its state machine
type Stage int

const (
	StagePowerThreshold Stage = iota
	StageSpeedOptimization
	StageResolutionTuning
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePowerThreshold:
		return "power_threshold"
	case StageSpeedOptimization:
		return "speed_optimization"
	case StageResolutionTuning:
		return "resolution_tuning"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Evaluator runs one trial: it builds the toolpath for params and predicts
// its quality.
type Evaluator interface {
	Evaluate(ctx context.Context, params models.ParameterSet) (models.QualityReport, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx context.Context, params models.ParameterSet) (models.QualityReport, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, params models.ParameterSet) (models.QualityReport, error) {
	return f(ctx, params)
}

// Recorder persists trials as they complete
type Recorder interface {
	Record(ctx context.Context, t Trial) error
}

// Trial is one evaluated parameter set
type Trial struct {
	ID     uuid.UUID            `json:"id"`
	Stage  Stage                `json:"stage"`
	Params models.ParameterSet  `json:"params"`
	Report models.QualityReport `json:"report"`
	Passed bool                 `json:"passed"`
	At     time.Time            `json:"at"`
}

// Config bounds the three sweeps
type Config struct {
	// PowerSweep is tried in ascending order (mW)
	PowerSweep []float64

	// SpeedSweep is tried in ascending order (µm/s)
	SpeedSweep []float64

	// HatchSweep is tried in descending order (µm); layer height follows
	// in proportion
	HatchSweep []float64

	// Margin multiplies the threshold power into the working power
	Margin float64

	// RoundStep is the granularity the working power is rounded to (mW)
	RoundStep float64

	// MaxPower is the laser's safe maximum; zero disables the check
	MaxPower float64

	// TargetFeature ends resolution tuning once both the hatch and the
	// voxel width are at or below it; zero tunes until the sweep or the
	// floor ends
	TargetFeature float64

	// MinSpacing is the hatch floor; candidates below it are not tried
	MinSpacing float64

	Recorder Recorder
	Logger   *zap.Logger
}

// DefaultConfig mirrors the defaults of the process configuration.
func DefaultConfig() Config {
	return Config{
		PowerSweep: GenerateRange(5, 50, 5),
		SpeedSweep: GenerateRange(10000, 100000, 10000),
		HatchSweep: []float64{0.5, 0.4, 0.3, 0.2, 0.1},
		Margin:     1.3,
		RoundStep:  1,
		MaxPower:   100,
		MinSpacing: 0.05,
	}
}

// Fit is the least-squares line of mean conversion against power over the
// threshold sweep
type Fit struct {
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`
	RSquared  float64 `json:"rSquared"`
}

// Result is the optimizer's best-so-far outcome
type Result struct {
	// Params is the best complete parameter set found
	Params models.ParameterSet `json:"params"`

	// Report is the quality report of Params, when it was evaluated
	Report models.QualityReport `json:"report"`

	// Stage is the furthest stage reached
	Stage Stage `json:"stage"`

	Threshold    float64 `json:"threshold"`
	WorkingPower float64 `json:"workingPower"`

	PowerFit *Fit `json:"powerFit,omitempty"`

	History []Trial `json:"history"`
}

type powerState struct {
	next int
}

type speedState struct {
	next   int
	best   float64
	report models.QualityReport
	found  bool
}

type resolutionState struct {
	next int
}

// Optimizer steps through the stages one trial at a time
type Optimizer struct {
	eval   Evaluator
	cfg    Config
	log    *zap.Logger
	powers []float64
	speeds []float64
	hatch  []float64

	base   models.ParameterSet
	stage  Stage
	power  powerState
	speed  speedState
	res    resolutionState
	result Result
}

// New validates cfg and returns an optimizer ready for Reset or Run.
func New(eval Evaluator, cfg Config) (*Optimizer, error) {
	if eval == nil {
		return nil, errors.New("optimizer needs an evaluator")
	}
	if len(cfg.PowerSweep) == 0 {
		return nil, errors.New("power sweep is empty")
	}
	if len(cfg.SpeedSweep) == 0 {
		return nil, errors.New("speed sweep is empty")
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 1.3
	}
	if cfg.RoundStep < 0 {
		return nil, fmt.Errorf("round step cannot be negative, got %g", cfg.RoundStep)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Optimizer{
		eval:   eval,
		cfg:    cfg,
		log:    cfg.Logger,
		powers: ascending(cfg.PowerSweep),
		speeds: ascending(cfg.SpeedSweep),
		hatch:  descending(cfg.HatchSweep),
	}, nil
}

// Reset starts over from base.
func (o *Optimizer) Reset(base models.ParameterSet) {
	o.base = base.Clone()
	o.stage = StagePowerThreshold
	o.power = powerState{}
	o.speed = speedState{}
	o.res = resolutionState{}
	o.result = Result{Params: base.Clone(), Stage: StagePowerThreshold}
}

// Stage returns the current stage.
func (o *Optimizer) Stage() Stage { return o.stage }

// Result returns the best-so-far outcome.
func (o *Optimizer) Result() Result {
	r := o.result
	r.Params = r.Params.Clone()
	r.History = append([]Trial(nil), r.History...)
	return r
}

// Run resets to base and steps until the last stage completes, a stage
// fails, or ctx is cancelled. Cancellation is not an error: the best result
// so far is returned.
func (o *Optimizer) Run(ctx context.Context, base models.ParameterSet) (Result, error) {
	o.Reset(base)
	for o.stage != StageDone {
		if ctx.Err() != nil {
			o.log.Info("optimization cancelled", zap.Stringer("stage", o.stage), zap.Int("trials", len(o.result.History)))
			return o.Result(), nil
		}
		if err := o.Step(ctx); err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				o.log.Info("optimization cancelled mid-trial", zap.Stringer("stage", o.stage))
				return o.Result(), nil
			}
			return o.Result(), err
		}
	}
	return o.Result(), nil
}

// Step runs the next trial of the current stage and advances the state
// machine. It is a no-op once the optimizer is done.
func (o *Optimizer) Step(ctx context.Context) error {
	switch o.stage {
	case StagePowerThreshold:
		return o.stepPower(ctx)
	case StageSpeedOptimization:
		return o.stepSpeed(ctx)
	case StageResolutionTuning:
		return o.stepResolution(ctx)
	default:
		return nil
	}
}

// trial evaluates params and records the outcome.
func (o *Optimizer) trial(ctx context.Context, params models.ParameterSet, passed func(models.QualityReport) bool) (Trial, error) {
	t := Trial{ID: uuid.New(), Stage: o.stage, Params: params.Clone(), At: time.Now()}
	report, err := o.eval.Evaluate(ctx, params)
	if err != nil {
		return t, fmt.Errorf("trial %s (%s, %s): %w", t.ID, o.stage, params, err)
	}
	t.Report = report
	t.Passed = passed(report)
	o.result.History = append(o.result.History, t)
	o.log.Info("trial finished",
		zap.String("trial", t.ID.String()),
		zap.Stringer("stage", o.stage),
		zap.Float64("power", params.Power),
		zap.Float64("speed", params.Speed),
		zap.Float64("hatch", params.HatchDistance),
		zap.Bool("passed", t.Passed),
		zap.Float64("score", report.Score))
	if o.cfg.Recorder != nil {
		if rerr := o.cfg.Recorder.Record(ctx, t); rerr != nil {
			o.log.Warn("recording trial failed", zap.String("trial", t.ID.String()), zap.Error(rerr))
		}
	}
	return t, nil
}

func (o *Optimizer) checkPower(p float64, name string) error {
	if o.cfg.MaxPower > 0 && p > o.cfg.MaxPower {
		return &fault.ConstraintViolationError{Parameter: name, Value: p, Limit: o.cfg.MaxPower, Layer: -1}
	}
	return nil
}

func (o *Optimizer) stepPower(ctx context.Context) error {
	p := o.powers[o.power.next]
	if err := o.checkPower(p, "power"); err != nil {
		return err
	}
	params := o.base.Clone()
	params.Power = p
	t, err := o.trial(ctx, params, func(r models.QualityReport) bool { return !r.UnderExposed })
	if err != nil {
		return err
	}
	o.power.next++

	if t.Passed {
		working := p * o.cfg.Margin
		if o.cfg.RoundStep > 0 {
			working = math.Round(working/o.cfg.RoundStep) * o.cfg.RoundStep
		}
		if err := o.checkPower(working, "working_power"); err != nil {
			return err
		}
		o.result.Threshold = p
		o.result.WorkingPower = working
		o.result.Params.Power = working
		o.result.PowerFit = o.powerFit()
		o.advance(StageSpeedOptimization)
		return nil
	}
	if o.power.next == len(o.powers) {
		o.result.PowerFit = o.powerFit()
		return &fault.ThresholdNotFoundError{
			ConvergenceError: fault.ConvergenceError{
				Stage:   StagePowerThreshold.String(),
				Reason:  fmt.Sprintf("no power up to %g mW cleared under-exposure", p),
				Partial: o.Result(),
			},
			Sweep: append([]float64(nil), o.powers...),
		}
	}
	return nil
}

// powerFit regresses mean target conversion on power over the threshold
// trials. It needs two distinct powers.
func (o *Optimizer) powerFit() *Fit {
	var xs, ys []float64
	for _, t := range o.result.History {
		if t.Stage == StagePowerThreshold {
			xs = append(xs, t.Params.Power)
			ys = append(ys, t.Report.Stats.MeanConversion)
		}
	}
	if len(xs) < 2 || xs[0] == xs[len(xs)-1] {
		return nil
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return &Fit{Intercept: alpha, Slope: beta, RSquared: stat.RSquared(xs, ys, nil, alpha, beta)}
}

func (o *Optimizer) stepSpeed(ctx context.Context) error {
	v := o.speeds[o.speed.next]
	params := o.base.Clone()
	params.Power = o.result.WorkingPower
	params.Speed = v
	t, err := o.trial(ctx, params, func(r models.QualityReport) bool { return !r.UnderExposed && !r.ThermalRisk })
	if err != nil {
		return err
	}
	o.speed.next++

	switch {
	case t.Passed:
		o.speed.best, o.speed.report, o.speed.found = v, t.Report, true
		o.result.Params.Speed = v
		o.result.Report = t.Report
	case o.speed.found:
		// faster only lowers the dose further
		return o.finishSpeed()
	case t.Report.UnderExposed:
		return &fault.ConvergenceError{
			Stage:   StageSpeedOptimization.String(),
			Reason:  fmt.Sprintf("under-exposed at the slowest remaining speed %g µm/s", v),
			Partial: o.Result(),
		}
	}
	if o.speed.next == len(o.speeds) {
		if !o.speed.found {
			return &fault.ConvergenceError{
				Stage:   StageSpeedOptimization.String(),
				Reason:  "thermal risk at every speed in the sweep",
				Partial: o.Result(),
			}
		}
		return o.finishSpeed()
	}
	return nil
}

func (o *Optimizer) finishSpeed() error {
	o.result.Params.Speed = o.speed.best
	o.result.Report = o.speed.report
	o.advance(StageResolutionTuning)
	return nil
}

func (o *Optimizer) stepResolution(ctx context.Context) error {
	// skip candidates no finer than the starting hatch or below the floor
	for o.res.next < len(o.hatch) && o.hatch[o.res.next] >= o.base.HatchDistance {
		o.res.next++
	}
	if o.res.next == len(o.hatch) || o.hatch[o.res.next] < o.cfg.MinSpacing {
		o.log.Info("resolution tuning reached the end of its sweep", zap.Float64("hatch", o.result.Params.HatchDistance))
		o.advance(StageDone)
		return nil
	}

	h := o.hatch[o.res.next]
	params := o.result.Params.Clone()
	params.HatchDistance = h
	if o.base.HatchDistance > 0 {
		params.LayerHeight = o.base.LayerHeight * h / o.base.HatchDistance
	}
	t, err := o.trial(ctx, params, func(r models.QualityReport) bool {
		return !r.UnderExposed && !r.ThermalRisk && !r.OverExposed && !r.LinesMerged
	})
	if err != nil {
		return err
	}
	o.res.next++

	if t.Report.LinesMerged {
		o.log.Info("lines merge, keeping the previous spacing", zap.Float64("hatch", h))
		o.advance(StageDone)
		return nil
	}
	if !t.Passed {
		// the current spacing already passed the earlier stages
		o.log.Info("refinement fails, keeping the previous spacing",
			zap.Float64("hatch", h),
			zap.Float64("kept", o.result.Params.HatchDistance),
			zap.Bool("under_exposed", t.Report.UnderExposed),
			zap.Bool("over_exposed", t.Report.OverExposed),
			zap.Bool("thermal_risk", t.Report.ThermalRisk))
		o.advance(StageDone)
		return nil
	}

	o.result.Params.HatchDistance = h
	o.result.Params.LayerHeight = params.LayerHeight
	o.result.Report = t.Report
	if o.cfg.TargetFeature > 0 && math.Max(h, t.Report.VoxelLateral) <= o.cfg.TargetFeature {
		o.advance(StageDone)
	}
	return nil
}

func (o *Optimizer) advance(s Stage) {
	o.log.Info("optimizer stage complete", zap.Stringer("from", o.stage), zap.Stringer("to", s))
	o.stage = s
	o.result.Stage = s
}
