package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielorbach/go-component"
	"github.com/spf13/cobra"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/internal/fleet"
)

func newRealTimeCommand() *cobra.Command {
	var alertAbove float64
	cmd := &cobra.Command{
		Use:   "realtime <scenario.yaml>",
		Short: "Replay the scenario's readings through a real-time workbench",
		Long: `realtime stores a monitor for every car of the scenario, restores the
monitors into a real-time workbench, and sends them the scenario's readings in
order. Replies and alerts are printed as they are raised.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenarioFile(args[0])
			if err != nil {
				return err
			}
			return replay(cmd, s, alertAbove)
		},
	}
	cmd.Flags().Float64Var(&alertAbove, "alert-above", 0, "post a speeding alert for readings above this speed (0 disables alerts)")
	return cmd
}

func replay(cmd *cobra.Command, s fleet.Scenario, alertAbove float64) error {
	ctx := cmd.Context()
	logger := component.Logger(ctx)
	p, release, err := configFrom(ctx).persistence(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release persistence provider", slog.Any("error", err))
		}
	}()
	if err := s.Seed(ctx, p); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	w := workbench.NewRealTimeWorkbench(
		workbench.WithPersistence(p),
		workbench.WithLogger(logger),
		workbench.WithDataSourceHandler(func(_ context.Context, msg workbench.DataSourceMessage) error {
			mu.Lock()
			defer mu.Unlock()
			_, err := fmt.Fprintf(out, "%s/%s replied %+v\n", msg.Model, msg.TwinID, msg.Message)
			return err
		}),
	)
	defer w.Close()

	fleet.SetSpeedLimit(w.SharedGlobalData(), s.SpeedLimit)
	monitors, err := w.AddModel(fleet.Monitors())
	if err != nil {
		return err
	}
	if alertAbove > 0 {
		if err := w.AddAnomalyDetector(fleet.MonitorModel, fleet.SpeedingDetector, fleet.SpeedingAbove(alertAbove)); err != nil {
			return err
		}
	}

	if err := s.Replay(ctx, monitors); err != nil {
		return err
	}
	for _, a := range w.PostedAlerts() {
		fmt.Fprintf(out, "%s alert %q: %s\n", a.Provider, a.Alert.Title, a.Alert.Message)
	}
	return nil
}
