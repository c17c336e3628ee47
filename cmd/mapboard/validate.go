package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a mapboard configuration file without starting the server.

This command parses the YAML, expands environment variables, validates
all fields and builds every source, including matrix expansions.
It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  mapboard validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	mb, cfg, err := buildMapboard(s)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	markerSource := "none"
	if src, ok := mb.MarkerSource(); ok {
		markerSource = src.Name()
	}
	direct := len(cfg.Grids)
	total := len(mb.GridSources())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", mb.Port())
	fmt.Fprintf(out, "  Poll interval: %s\n", mb.PollingInterval())
	fmt.Fprintf(out, "  Projection:    EPSG:%d\n", mb.Projection())
	fmt.Fprintf(out, "  Markers:       %s\n", markerSource)
	fmt.Fprintf(out, "  Grids:         %d direct + %d from matrices = %d total\n",
		direct, total-direct, total)

	return nil
}
