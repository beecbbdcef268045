package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"

	"github.com/go-digitaltwin/go-workbench"
)

// Topic names linked by Component.
const (
	ReadingsInterest = "fleet.readings"
	RepliesAspect    = "fleet.replies"
	AlertsAspect     = "fleet.alerts"
)

// Component deploys a real-time workbench hosting the monitor model. Readings
// arrive on the readings interest, named by their "twin-id" metadata; replies
// and speeding alerts leave through their aspects.
var Component = component.Descriptor{
	Name: "fleet-monitor",
	Doc:  "Watches car readings and flags those above the speed limit.",
	Bootstrap: func(l *component.L, linker component.Linker, options any) error {
		logger := component.Logger(l.Context())

		logger.Debug("Opening interest subscription...", slog.String("topic-name", ReadingsInterest))
		readings, err := linker.LinkInterest(l.GraceContext(), ReadingsInterest)
		if err != nil {
			return fmt.Errorf("open interest %q: %w", ReadingsInterest, err)
		}
		l.CleanupBackground(readings.Shutdown)

		logger.Debug("Opening aspect topic...", slog.String("topic-name", RepliesAspect))
		replies, err := linker.LinkAspect(l.GraceContext(), RepliesAspect)
		if err != nil {
			return fmt.Errorf("open aspect %q: %w", RepliesAspect, err)
		}
		l.CleanupContext(replies.Shutdown)

		logger.Debug("Opening aspect topic...", slog.String("topic-name", AlertsAspect))
		alerts, err := linker.LinkAspect(l.GraceContext(), AlertsAspect)
		if err != nil {
			return fmt.Errorf("open aspect %q: %w", AlertsAspect, err)
		}
		l.CleanupContext(alerts.Shutdown)
		logger.Info("Topics opened successfully")

		w := workbench.NewRealTimeWorkbench(
			workbench.WithDataSourceTopic(replies),
			workbench.WithAlertTopic(alerts),
			workbench.WithLogger(logger),
		)
		l.CleanupBackground(func(context.Context) error { return w.Close() })
		monitors, err := w.AddModel(Monitors())
		if err != nil {
			return err
		}
		if err := w.AddAnomalyDetector(MonitorModel, SpeedingDetector, SpeedingAbove(DefaultSpeedLimit)); err != nil {
			return err
		}

		l.Fork("monitor readings", monitors.Serve(readings))
		return nil
	},
	Aspects:   []string{RepliesAspect, AlertsAspect},
	Interests: []string{ReadingsInterest},
}
