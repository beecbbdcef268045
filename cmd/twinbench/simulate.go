package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/danielorbach/go-component"
	"github.com/spf13/cobra"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/internal/fleet"
)

func newSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Step the scenario's cars through simulated time",
		Long: `simulate brakes every car of the scenario once per interval, from the
scenario's start until the cars stop or the end time is reached, and prints
what each car's monitor observed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenarioFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w, res, err := s.Simulate(ctx, workbench.WithSimulationLogger(component.Logger(ctx)))
			if err != nil {
				return err
			}
			monitors, err := w.Instances(fleet.MonitorModel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "simulation ended: %v\n\n", res.Status)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CAR\tREADINGS\tSPEEDING\tLAST")
			for _, id := range slices.Sorted(maps.Keys(monitors)) {
				m := monitors[id].(*fleet.Monitor)
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\n", id, m.Readings, m.Speeding, m.Last)
			}
			return tw.Flush()
		},
	}
}
