package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tplpath/internal/logger"
	"tplpath/pkg/fault"
	"tplpath/pkg/history"
	"tplpath/pkg/optimizer"
	"tplpath/pkg/pipeline"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search threshold power, scan speed and hatch distance",
	Long: `optimize runs the three-stage parameter search against the part: the
lowest power that polymerizes the whole target, the fastest speed at the
working power without under-exposure or thermal risk, and the finest hatch
the dose model still resolves. Interrupting the search keeps the best
result found so far. Trials are stored in the history database when one is
configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		part, err := buildShape(cmd.Flags())
		if err != nil {
			return err
		}
		runner, err := pipeline.NewRunner(part, cfg.PipelineOptions(logger.Named("pipeline")))
		if err != nil {
			return err
		}
		oc, err := cfg.OptimizerConfig(logger.Named("optimizer"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		base := cfg.ParameterSet()
		if cfg.Output.History != "" {
			store, err := history.Open(cfg.Output.History)
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := store.StartRun(ctx, base)
			if err != nil {
				return err
			}
			oc.Recorder = run
			logger.Info("recording trials", zap.String("history", cfg.Output.History), zap.String("run", run.ID.String()))
		}

		opt, err := optimizer.New(runner, oc)
		if err != nil {
			return err
		}
		res, runErr := opt.Run(ctx, base)

		var conv *fault.ConvergenceError
		if runErr != nil && !errors.As(runErr, &conv) {
			return runErr
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		resultPath := filepath.Join(cfg.Output.Dir, "optimize.json")
		if err := writeJSON(resultPath, res); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Stage reached:  %s\n", res.Stage)
		fmt.Fprintf(out, "Trials:         %d\n", len(res.History))
		fmt.Fprintf(out, "Threshold:      %g mW\n", res.Threshold)
		fmt.Fprintf(out, "Working power:  %g mW\n", res.WorkingPower)
		fmt.Fprintf(out, "Parameters:     %s\n", res.Params)
		if res.PowerFit != nil {
			fmt.Fprintf(out, "Conversion fit: %.4f + %.4f·P (R² %.3f)\n", res.PowerFit.Intercept, res.PowerFit.Slope, res.PowerFit.RSquared)
		}
		fmt.Fprintf(out, "Result:         %s\n", resultPath)
		if conv != nil {
			return fmt.Errorf("optimization stopped early: %w", runErr)
		}
		return nil
	},
}

func init() {
	addShapeFlags(optimizeCmd.Flags())
	addProcessFlags(optimizeCmd.Flags())
	optimizeCmd.Flags().String("power-sweep", "", "power sweep min:max:step in mW")
	optimizeCmd.Flags().String("speed-sweep", "", "speed sweep min:max:step in µm/s")
	optimizeCmd.Flags().Float64("target-feature", 0, "stop refining once hatch and voxel reach this size in µm")
	optimizeCmd.Flags().String("history", "", "SQLite database recording every trial")
	rootCmd.AddCommand(optimizeCmd)
}
