package main

import (
	"fmt"
	"os"

	"github.com/danielorbach/go-component"
	"github.com/spf13/cobra"

	"github.com/go-digitaltwin/go-workbench/internal/fleet"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twinbench",
		Short: "Run fleet scenarios through the digital-twin workbenches",
		Long: `twinbench loads a YAML fleet scenario and runs it either through the
simulation workbench, stepping every car through simulated time, or through
the real-time workbench, replaying the scenario's readings.

Environment:
  TWINBENCH_LOG_LEVEL       debug, info, warn or error (default info)
  TWINBENCH_LOG_FORMAT      text or json (default text)
  TWINBENCH_NEO4J_URI       persist real-time twins in Neo4j instead of memory
  TWINBENCH_NEO4J_USER      (default neo4j)
  TWINBENCH_NEO4J_PASSWORD
  TWINBENCH_NEO4J_DATABASE  (default twinbench)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := component.InjectLogger(cmd.Context(), logger)
			cmd.SetContext(withConfig(ctx, cfg))
			return nil
		},
	}
	cmd.AddCommand(newSimulateCommand())
	cmd.AddCommand(newRealTimeCommand())
	return cmd
}

func loadScenarioFile(name string) (fleet.Scenario, error) {
	f, err := os.Open(name)
	if err != nil {
		return fleet.Scenario{}, err
	}
	defer f.Close()
	s, err := fleet.LoadScenario(f)
	if err != nil {
		return fleet.Scenario{}, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}
