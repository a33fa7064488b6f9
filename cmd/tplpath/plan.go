package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tplpath/internal/logger"
	"tplpath/pkg/pipeline"
	"tplpath/pkg/stl"
	"tplpath/pkg/toolpath"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a toolpath for a part and predict its quality",
	Long: `plan slices the part, hatches every layer, orders the segments into a
toolpath and evaluates the predicted dose and heating. The toolpath and
the quality report are written to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		part, err := buildShape(cmd.Flags())
		if err != nil {
			return err
		}
		runner, err := pipeline.NewRunner(part, cfg.PipelineOptions(logger.Named("pipeline")))
		if err != nil {
			return err
		}
		params := cfg.ParameterSet()
		plan, err := runner.Plan(cmd.Context(), params)
		if err != nil {
			return fmt.Errorf("planning %s: %w", params, err)
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		tpPath, err := writeToolpath(plan.Toolpath, cfg.Output.Dir, cfg.Output.Format)
		if err != nil {
			return err
		}
		reportPath := filepath.Join(cfg.Output.Dir, "report.json")
		if err := writeJSON(reportPath, plan.Report); err != nil {
			return err
		}
		if cfg.Output.ExportPolymerized && plan.Grid != nil {
			p := filepath.Join(cfg.Output.Dir, "polymerized.stl")
			if err := stl.SaveToSTL(p, pipeline.Polymerized(plan.Grid, cfg.Material)); err != nil {
				return err
			}
			logger.Info("polymerized volume written", zap.String("path", p))
		}

		st := plan.Toolpath.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Layers:         %d\n", len(plan.Layers))
		fmt.Fprintf(out, "Segments:       %d\n", plan.Segments)
		fmt.Fprintf(out, "Exposed length: %.1f µm\n", st.ExposedLength)
		fmt.Fprintf(out, "Write time:     %.3f s\n", st.Duration)
		fmt.Fprintf(out, "Voxel:          %.3f x %.3f µm\n", plan.Report.VoxelLateral, plan.Report.VoxelAxial)
		fmt.Fprintf(out, "Under-exposed:  %t (%.1f%% of target)\n", plan.Report.UnderExposed, 100*plan.Report.Stats.UnderExposedFraction)
		fmt.Fprintf(out, "Over-exposed:   %t\n", plan.Report.OverExposed)
		fmt.Fprintf(out, "Thermal risk:   %t (%d exposures, peak %.1f K)\n", plan.Report.ThermalRisk, len(plan.Report.AtRisk), plan.Report.Stats.MaxTemperature)
		fmt.Fprintf(out, "Score:          %.3f\n", plan.Report.Score)
		fmt.Fprintf(out, "Toolpath:       %s\n", tpPath)
		fmt.Fprintf(out, "Report:         %s\n", reportPath)
		return nil
	},
}

func init() {
	addShapeFlags(planCmd.Flags())
	addProcessFlags(planCmd.Flags())
	planCmd.Flags().String("format", "", "toolpath format: json, gcode or csv")
	planCmd.Flags().Bool("export-polymerized", false, "write the predicted polymerized volume as STL")
	rootCmd.AddCommand(planCmd)
}

func writeToolpath(tp *toolpath.Toolpath, dir, format string) (string, error) {
	name := "toolpath.json"
	write := tp.WriteJSON
	switch format {
	case "gcode":
		name = "toolpath.gcode"
		write = tp.WriteGCode
	case "csv":
		name = "toolpath.csv"
		write = tp.WriteCSV
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating toolpath file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", fmt.Errorf("writing toolpath: %w", err)
	}
	return path, f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
