package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tplpath/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded optimizer runs",
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.Runs(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tTRIALS\tBASE")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Started.Local().Format("2006-01-02 15:04:05"), r.Trials, r.Base)
		}
		return w.Flush()
	},
}

var historyTrialsCmd = &cobra.Command{
	Use:   "trials <run-id>",
	Short: "List the trials of a run in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("run id: %w", err)
		}
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		trials, err := store.Trials(cmd.Context(), id)
		if err != nil {
			return err
		}
		best, ok, err := store.Best(cmd.Context(), id)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tSTAGE\tPOWER\tSPEED\tHATCH\tLAYER\tPASSED\tSCORE")
		for _, t := range trials {
			mark := ""
			if ok && t.ID == best.ID {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%g\t%g\t%t\t%.3f\n", mark, t.Stage,
				t.Params.Power, t.Params.Speed, t.Params.HatchDistance, t.Params.LayerHeight, t.Passed, t.Report.Score)
		}
		return w.Flush()
	},
}

func openHistory() (*history.Store, error) {
	if cfg.Output.History == "" {
		return nil, errors.New("no history database configured (set output.history or --history)")
	}
	return history.Open(cfg.Output.History)
}

func init() {
	historyCmd.PersistentFlags().String("history", "", "SQLite database of recorded trials")
	historyCmd.AddCommand(historyRunsCmd, historyTrialsCmd)
	rootCmd.AddCommand(historyCmd)
}
