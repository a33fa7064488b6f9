package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tplpath/internal/models"
	"tplpath/pkg/config"
)

// flagKeys maps configuration keys to the flags that override them. Flags
// are bound per command at run time because plan and optimize share names.
var flagKeys = map[string]string{
	"logging.level":            "log-level",
	"logging.file":             "log-file",
	"processing.numCores":      "cores",
	"process.power":            "power",
	"process.speed":            "speed",
	"process.layerHeight":      "layer-height",
	"process.hatchDistance":    "hatch",
	"process.hatchAngle":       "hatch-angle",
	"process.fillPattern":      "fill",
	"process.crossHatch":       "cross-hatch",
	"process.bidirectional":    "bidirectional",
	"process.topLayers":        "top-layers",
	"process.topHeight":        "top-height",
	"output.dir":               "out",
	"output.format":            "format",
	"output.history":           "history",
	"output.exportPolymerized": "export-polymerized",
	"optimizer.powerSweep":     "power-sweep",
	"optimizer.speedSweep":     "speed-sweep",
	"optimizer.targetFeature":  "target-feature",
}

func bindFlags(fs *pflag.FlagSet) error {
	for key, name := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}
	return nil
}

// loadConfig reads the YAML file viper located, or the defaults, and then
// applies every key set by a flag or a TPLPATH_ environment variable.
func loadConfig() (*config.Config, error) {
	c := config.DefaultConfig()
	if f := viper.ConfigFileUsed(); f != "" {
		var err error
		if c, err = config.LoadConfig(f); err != nil {
			return nil, err
		}
	}

	floats := map[string]*float64{
		"process.power":           &c.Process.Power,
		"process.speed":           &c.Process.Speed,
		"process.layerHeight":     &c.Process.LayerHeight,
		"process.hatchDistance":   &c.Process.HatchDistance,
		"process.hatchAngle":      &c.Process.HatchAngle,
		"process.topHeight":       &c.Process.TopHeight,
		"laser.maxPower":          &c.Laser.MaxPower,
		"optimizer.margin":        &c.Optimizer.Margin,
		"optimizer.targetFeature": &c.Optimizer.TargetFeature,
	}
	for key, dst := range floats {
		if viper.IsSet(key) {
			*dst = viper.GetFloat64(key)
		}
	}

	strs := map[string]*string{
		"logging.level":        &c.Logging.Level,
		"logging.file":         &c.Logging.File,
		"output.dir":           &c.Output.Dir,
		"output.format":        &c.Output.Format,
		"output.history":       &c.Output.History,
		"optimizer.powerSweep": &c.Optimizer.PowerSweep,
		"optimizer.speedSweep": &c.Optimizer.SpeedSweep,
	}
	for key, dst := range strs {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}

	bools := map[string]*bool{
		"process.crossHatch":             &c.Process.CrossHatch,
		"process.bidirectional":          &c.Process.Bidirectional,
		"output.exportPolymerized":       &c.Output.ExportPolymerized,
		"output.saveIntermediaryResults": &c.Output.SaveIntermediaryResults,
	}
	for key, dst := range bools {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}

	if viper.IsSet("process.topLayers") {
		c.Process.TopLayers = viper.GetInt("process.topLayers")
	}
	if viper.IsSet("processing.numCores") {
		if n := viper.GetInt("processing.numCores"); n > 0 {
			c.Processing.NumCores = n
		}
	}
	if viper.IsSet("process.fillPattern") {
		p, err := models.ParseFillPattern(viper.GetString("process.fillPattern"))
		if err != nil {
			return nil, err
		}
		c.Process.FillPattern = p
	}
	return c, nil
}

// addProcessFlags adds the per-trial parameter flags shared by plan and
// optimize.
func addProcessFlags(fs *pflag.FlagSet) {
	fs.Float64("power", 0, "laser power in mW")
	fs.Float64("speed", 0, "scan speed in µm/s")
	fs.Float64("layer-height", 0, "layer height in µm")
	fs.Float64("hatch", 0, "hatch distance in µm")
	fs.Float64("hatch-angle", 0, "rectilinear scan angle in degrees")
	fs.String("fill", "", "fill pattern: rectilinear, concentric or spiral")
	fs.Bool("cross-hatch", false, "rotate rectilinear lines by 90° on odd layers")
	fs.Bool("bidirectional", false, "reverse every other rectilinear line")
	fs.Int("top-layers", 0, "re-slice this many top layers at --top-height")
	fs.Float64("top-height", 0, "layer height of the top layers in µm")
	fs.String("out", "", "output directory")
}
