// Package config loads and saves the tplpath YAML configuration and turns
// it into the option structs of the pipeline and the optimizer.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tplpath/internal/logger"
	"tplpath/internal/models"
	"tplpath/pkg/dose"
	"tplpath/pkg/hatch"
	"tplpath/pkg/optimizer"
	"tplpath/pkg/pipeline"
	"tplpath/pkg/sequencer"
	"tplpath/pkg/slicer"
	"tplpath/pkg/toolpath"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	Laser    models.Laser            `yaml:"laser"`
	Material models.Material         `yaml:"material"`
	Thermal  models.ThermalConstants `yaml:"thermal"`

	// Process holds the default parameter set and the fill geometry
	Process struct {
		models.ParameterSet `yaml:",inline"`

		// HatchAngle is the rectilinear scan direction in degrees
		HatchAngle float64 `yaml:"hatchAngle"`

		// StageResolution is the smallest stage step in µm
		StageResolution float64 `yaml:"stageResolution"`

		// SliceTolerance is the contour endpoint matching tolerance in µm;
		// zero scales it with the part size
		SliceTolerance float64 `yaml:"sliceTolerance"`

		// TravelSpeed is the shutter-closed stage speed in µm/s
		TravelSpeed float64 `yaml:"travelSpeed"`

		// TopLayers and TopHeight re-slice the top of the part finer
		TopLayers int     `yaml:"topLayers"`
		TopHeight float64 `yaml:"topHeight"`

		// WriteOrder pulls named regions ahead of others
		WriteOrder []sequencer.WriteOrder `yaml:"writeOrder,omitempty"`
	} `yaml:"process"`

	// Dose tunes the evaluation grid
	Dose struct {
		RadiusFactor float64 `yaml:"radiusFactor"`

		// LateralStep and AxialStep are the grid spacing; zero derives them
		// from the beam waist and the layer height
		LateralStep float64 `yaml:"lateralStep"`
		AxialStep   float64 `yaml:"axialStep"`
	} `yaml:"dose"`

	// Optimizer bounds the three parameter sweeps. Sweeps are written as
	// "min:max:step".
	Optimizer struct {
		PowerSweep    string    `yaml:"powerSweep"`
		SpeedSweep    string    `yaml:"speedSweep"`
		HatchSweep    []float64 `yaml:"hatchSweep"`
		Margin        float64   `yaml:"margin"`
		RoundStep     float64   `yaml:"roundStep"`
		TargetFeature float64   `yaml:"targetFeature"`
		MinSpacing    float64   `yaml:"minSpacing"`
	} `yaml:"optimizer"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir receives toolpaths, reports and meshes
		Dir string `yaml:"dir"`

		// Format is json, gcode or csv
		Format string `yaml:"format"`

		// History is the SQLite database of optimizer trials; empty disables it
		History string `yaml:"history"`

		// SaveIntermediaryResults writes the artefacts of every pipeline step
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// ExportPolymerized writes the predicted polymerized volume as STL
		ExportPolymerized bool `yaml:"exportPolymerized"`
	} `yaml:"output"`

	Logging logger.Options `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Laser:    models.DefaultLaser(),
		Material: models.DefaultMaterial(),
		Thermal:  models.DefaultThermal(),
	}

	cfg.Process.ParameterSet = models.ParameterSet{
		Power:         20,
		Speed:         50000,
		LayerHeight:   0.3,
		HatchDistance: 0.5,
		FillPattern:   models.Rectilinear,
	}
	cfg.Process.StageResolution = hatch.DefaultStageResolution
	cfg.Process.TravelSpeed = toolpath.DefaultTravelSpeed

	cfg.Dose.RadiusFactor = dose.DefaultRadiusFactor

	def := optimizer.DefaultConfig()
	cfg.Optimizer.PowerSweep = "5:50:5"
	cfg.Optimizer.SpeedSweep = "10000:100000:10000"
	cfg.Optimizer.HatchSweep = def.HatchSweep
	cfg.Optimizer.Margin = def.Margin
	cfg.Optimizer.RoundStep = def.RoundStep
	cfg.Optimizer.MinSpacing = def.MinSpacing

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Output.Dir = "out"
	cfg.Output.Format = "json"

	cfg.Logging = logger.DefaultOptions()
	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 1) {
			errs = append(errs, fmt.Errorf("%s must be positive, got %g", name, v))
		}
	}

	positive("laser.waistLateral", c.Laser.WaistLateral)
	positive("laser.waistAxial", c.Laser.WaistAxial)
	positive("laser.repetitionRate", c.Laser.RepetitionRate)
	positive("laser.maxPower", c.Laser.MaxPower)
	positive("material.beta", c.Material.Beta)
	positive("material.gamma", c.Material.Gamma)
	if c.Material.Threshold <= 0 || c.Material.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("material.threshold must lie in (0, 1), got %g", c.Material.Threshold))
	}
	if c.Material.OverTolerance < 0 {
		errs = append(errs, fmt.Errorf("material.overTolerance cannot be negative, got %g", c.Material.OverTolerance))
	}
	positive("thermal.relaxationTime", c.Thermal.RelaxationTime)
	positive("thermal.damageThreshold", c.Thermal.DamageThreshold)
	if c.Thermal.Absorption < 0 || c.Thermal.Radius < 0 {
		errs = append(errs, errors.New("thermal.absorption and thermal.radius cannot be negative"))
	}

	if err := c.Process.ParameterSet.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("process: %w", err))
	}
	if c.Process.Power > c.Laser.MaxPower {
		errs = append(errs, fmt.Errorf("process.power %g mW exceeds laser.maxPower %g mW", c.Process.Power, c.Laser.MaxPower))
	}
	positive("process.stageResolution", c.Process.StageResolution)
	positive("process.travelSpeed", c.Process.TravelSpeed)
	if c.Process.SliceTolerance < 0 {
		errs = append(errs, fmt.Errorf("process.sliceTolerance cannot be negative, got %g", c.Process.SliceTolerance))
	}
	if c.Process.TopLayers < 0 || c.Process.TopHeight < 0 {
		errs = append(errs, errors.New("process.topLayers and process.topHeight cannot be negative"))
	}

	if c.Dose.RadiusFactor < 0 || c.Dose.LateralStep < 0 || c.Dose.AxialStep < 0 {
		errs = append(errs, errors.New("dose settings cannot be negative"))
	}

	if _, err := optimizer.ParseRangeSpec(c.Optimizer.PowerSweep); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.powerSweep: %w", err))
	}
	if _, err := optimizer.ParseRangeSpec(c.Optimizer.SpeedSweep); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.speedSweep: %w", err))
	}
	for _, h := range c.Optimizer.HatchSweep {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("optimizer.hatchSweep values must be positive, got %g", h))
			break
		}
	}
	positive("optimizer.margin", c.Optimizer.Margin)
	if c.Optimizer.RoundStep < 0 || c.Optimizer.MinSpacing < 0 || c.Optimizer.TargetFeature < 0 {
		errs = append(errs, errors.New("optimizer.roundStep, minSpacing and targetFeature cannot be negative"))
	}

	switch c.Output.Format {
	case "json", "gcode", "csv":
	default:
		errs = append(errs, fmt.Errorf("output.format must be json, gcode or csv, got %q", c.Output.Format))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

// ParameterSet returns a copy of the configured default parameters.
func (c *Config) ParameterSet() models.ParameterSet {
	return c.Process.ParameterSet.Clone()
}

// PipelineOptions maps the configuration onto the trial pipeline.
func (c *Config) PipelineOptions(log *zap.Logger) pipeline.Options {
	opts := pipeline.Options{
		Laser:      c.Laser,
		Material:   c.Material,
		Thermal:    c.Thermal,
		WriteOrder: append([]sequencer.WriteOrder(nil), c.Process.WriteOrder...),
		Slicer:     slicer.Options{Epsilon: c.Process.SliceTolerance},
		Hatch: hatch.Options{
			Angle:           c.Process.HatchAngle * math.Pi / 180,
			StageResolution: c.Process.StageResolution,
		},
		TopLayers: c.Process.TopLayers,
		TopHeight: c.Process.TopHeight,
		Dose: dose.Options{
			RadiusFactor: c.Dose.RadiusFactor,
			LateralStep:  c.Dose.LateralStep,
			AxialStep:    c.Dose.AxialStep,
		},
		TravelSpeed: c.Process.TravelSpeed,
		NumCores:    c.Processing.NumCores,
		Logger:      log,
	}
	if c.Output.SaveIntermediaryResults {
		opts.IntermediaryDir = filepath.Join(c.Output.Dir, "steps")
	}
	opts.KeepGrid = c.Output.ExportPolymerized
	return opts
}

// OptimizerConfig expands the sweep ranges.
func (c *Config) OptimizerConfig(log *zap.Logger) (optimizer.Config, error) {
	power, err := optimizer.ParseRangeSpec(c.Optimizer.PowerSweep)
	if err != nil {
		return optimizer.Config{}, fmt.Errorf("power sweep: %w", err)
	}
	speed, err := optimizer.ParseRangeSpec(c.Optimizer.SpeedSweep)
	if err != nil {
		return optimizer.Config{}, fmt.Errorf("speed sweep: %w", err)
	}
	return optimizer.Config{
		PowerSweep:    power.Values(),
		SpeedSweep:    speed.Values(),
		HatchSweep:    append([]float64(nil), c.Optimizer.HatchSweep...),
		Margin:        c.Optimizer.Margin,
		RoundStep:     c.Optimizer.RoundStep,
		MaxPower:      c.Laser.MaxPower,
		TargetFeature: c.Optimizer.TargetFeature,
		MinSpacing:    c.Optimizer.MinSpacing,
		Logger:        log,
	}, nil
}
