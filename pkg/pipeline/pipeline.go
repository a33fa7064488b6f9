// Package pipeline runs one trial end to end: slice the mesh, hatch every
// layer, sequence the segments into a toolpath and predict its dose and
// heating. Runner implements optimizer.Evaluator.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"tplpath/internal/models"
	"tplpath/pkg/dose"
	"tplpath/pkg/hatch"
	"tplpath/pkg/mesh"
	"tplpath/pkg/sequencer"
	"tplpath/pkg/slicer"
	"tplpath/pkg/stl"
	"tplpath/pkg/thermal"
	"tplpath/pkg/toolpath"
)

// Options holds everything about a trial that is not a process parameter
type Options struct {
	Laser    models.Laser
	Material models.Material
	Thermal  models.ThermalConstants

	// WriteOrder pulls named regions ahead of others across layers
	WriteOrder []sequencer.WriteOrder

	// Slicer carries the chaining tolerance and retry offset
	Slicer slicer.Options

	// Hatch carries the scan angle, stage resolution and minimum piece
	// length; cross-hatching and bidirectional scanning come from the
	// trial's parameters
	Hatch hatch.Options

	// TopLayers re-slices the top of the part at TopHeight when both are
	// positive
	TopLayers int
	TopHeight float64

	// Dose carries the grid steps, interaction radius and sample retention
	Dose dose.Options

	TravelSpeed float64

	// KeepGrid keeps the sampled dose grid on the Plan
	KeepGrid bool

	// IntermediaryDir, when set, receives the artefacts of every step
	IntermediaryDir string

	NumCores int
	Logger   *zap.Logger
}

// Plan is the outcome of one trial
type Plan struct {
	Params   models.ParameterSet
	Layers   []models.Layer
	Segments int
	Toolpath *toolpath.Toolpath
	Report   models.QualityReport
	Thermal  thermal.Result

	// Grid is the sampled dose when Options.KeepGrid is set
	Grid *dose.Grid

	Steps []StepTiming
}

// StepTiming records how long one step took
type StepTiming struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
}

// Runner evaluates parameter sets against one mesh
type Runner struct {
	mesh *mesh.Mesh
	opts Options
	log  *zap.Logger
}

// NewRunner checks the physical constants once so trials fail only on
// their own parameters.
func NewRunner(m *mesh.Mesh, opts Options) (*Runner, error) {
	if m == nil {
		return nil, errors.New("pipeline needs a mesh")
	}
	if opts.Laser.WaistLateral <= 0 || opts.Laser.WaistAxial <= 0 {
		return nil, fmt.Errorf("beam waists must be positive, got %g and %g µm", opts.Laser.WaistLateral, opts.Laser.WaistAxial)
	}
	if opts.Material.Threshold <= 0 || opts.Material.Threshold >= 1 {
		return nil, fmt.Errorf("conversion threshold must lie in (0, 1), got %g", opts.Material.Threshold)
	}
	if opts.Thermal.RelaxationTime <= 0 {
		return nil, fmt.Errorf("relaxation time must be positive, got %g s", opts.Thermal.RelaxationTime)
	}
	if opts.NumCores <= 0 {
		opts.NumCores = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{mesh: m, opts: opts, log: opts.Logger}, nil
}

// Mesh returns the part being planned.
func (r *Runner) Mesh() *mesh.Mesh { return r.mesh }

// Evaluate runs the full pipeline and returns only the report.
func (r *Runner) Evaluate(ctx context.Context, params models.ParameterSet) (models.QualityReport, error) {
	plan, err := r.Plan(ctx, params)
	if err != nil {
		return models.QualityReport{}, err
	}
	return plan.Report, nil
}

const steps = 5

// Plan runs the pipeline for params. Steps run in order; each step's
// internal work is parallel. ctx is checked between steps and inside the
// parallel ones.
func (r *Runner) Plan(ctx context.Context, params models.ParameterSet) (*Plan, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	plan := &Plan{Params: params.Clone()}
	log := r.log.With(zap.Stringer("params", params))

	if r.opts.IntermediaryDir != "" {
		if err := os.MkdirAll(r.opts.IntermediaryDir, 0755); err != nil {
			return nil, fmt.Errorf("creating intermediary directory: %w", err)
		}
	}

	run := func(n int, name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug(fmt.Sprintf("step %d/%d: %s", n, steps, name))
		start := time.Now()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		plan.Steps = append(plan.Steps, StepTiming{Name: name, Elapsed: time.Since(start)})
		return nil
	}

	// Step 1: slice the mesh into layers
	err := run(1, "slicing", func() error {
		zs, err := r.layerHeights(params.LayerHeight)
		if err != nil {
			return err
		}
		so := r.opts.Slicer
		so.NumCores = r.opts.NumCores
		so.Logger = r.log
		plan.Layers, err = slicer.Slice(ctx, r.mesh, zs, so)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.saveIntermediary("01_layers.json", plan.Layers)

	// Step 2: hatch every layer
	var segments [][]models.ScanSegment
	err = run(2, "hatching", func() error {
		ho := r.opts.Hatch
		ho.CrossHatch = params.CrossHatch
		ho.Bidirectional = params.Bidirectional
		ho.NumCores = r.opts.NumCores
		var err error
		segments, err = hatch.FillLayers(ctx, plan.Layers, params.HatchDistance, params.FillPattern, ho)
		for _, l := range segments {
			plan.Segments += len(l)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// Step 3: order the segments and stamp power and speed
	err = run(3, "sequencing", func() error {
		var err error
		plan.Toolpath, err = sequencer.Sequence(segments, params, r.opts.WriteOrder, sequencer.Options{
			MaxPower:    r.opts.Laser.MaxPower,
			TravelSpeed: r.opts.TravelSpeed,
			Logger:      r.log,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	r.saveToolpath(plan.Toolpath)

	// Step 4: predict the dose against the target solid
	var grid *dose.Grid
	err = run(4, "dose", func() error {
		do := r.opts.Dose
		do.LayerHeight = params.LayerHeight
		do.HatchDistance = params.HatchDistance
		do.Target = r.mesh
		do.NumCores = r.opts.NumCores
		do.Logger = r.log
		var err error
		plan.Report, grid, err = dose.Analyze(ctx, plan.Toolpath, r.opts.Laser, r.opts.Material, do)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.opts.KeepGrid {
		plan.Grid = grid
	}

	// Step 5: predict heat accumulation and fold it into the report
	err = run(5, "thermal", func() error {
		plan.Thermal = thermal.Analyze(plan.Toolpath, r.opts.Laser, r.opts.Thermal)
		mergeThermal(&plan.Report, plan.Thermal, r.opts.Material)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.saveIntermediary("05_report.json", plan.Report)
	if r.opts.IntermediaryDir != "" && grid != nil {
		tris := Polymerized(grid, r.opts.Material)
		if err := stl.SaveToSTL(filepath.Join(r.opts.IntermediaryDir, "05_polymerized.stl"), tris); err != nil {
			log.Warn("saving polymerized volume failed", zap.Error(err))
		}
	}

	log.Info("trial planned",
		zap.Int("layers", len(plan.Layers)),
		zap.Int("segments", plan.Segments),
		zap.Int("moves", plan.Toolpath.Len()),
		zap.Float64("duration_s", plan.Toolpath.Duration()),
		zap.Bool("under_exposed", plan.Report.UnderExposed),
		zap.Bool("thermal_risk", plan.Report.ThermalRisk),
		zap.Float64("score", plan.Report.Score))
	return plan, nil
}

func (r *Runner) layerHeights(h float64) ([]float64, error) {
	if r.opts.TopLayers > 0 && r.opts.TopHeight > 0 {
		return slicer.AdaptiveHeights(r.mesh, h, r.opts.TopLayers, r.opts.TopHeight)
	}
	return slicer.LayerHeights(r.mesh, h)
}

// mergeThermal copies the heating verdict into the report and re-scores it.
func mergeThermal(report *models.QualityReport, th thermal.Result, material models.Material) {
	report.AtRisk = append([]int(nil), th.AtRisk...)
	report.ThermalRisk = len(th.AtRisk) > 0
	report.Stats.MaxTemperature = th.Max
	report.Score = dose.Score(*report, material)
}

// Polymerized extracts the predicted polymerized surface from a dose grid.
func Polymerized(grid *dose.Grid, material models.Material) []stl.Triangle {
	return stl.FromVolume(dose.ConversionVolume(grid, material), material.Threshold).GenerateTriangles()
}

func (r *Runner) saveIntermediary(name string, v any) {
	if r.opts.IntermediaryDir == "" {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(r.opts.IntermediaryDir, name), data, 0644)
	}
	if err != nil {
		r.log.Warn("saving intermediary result failed", zap.String("file", name), zap.Error(err))
	}
}

func (r *Runner) saveToolpath(tp *toolpath.Toolpath) {
	if r.opts.IntermediaryDir == "" {
		return
	}
	path := filepath.Join(r.opts.IntermediaryDir, "03_toolpath.json")
	f, err := os.Create(path)
	if err == nil {
		err = tp.WriteJSON(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		r.log.Warn("saving intermediary toolpath failed", zap.Error(err))
	}
}
