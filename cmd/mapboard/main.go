// Package main is the entry point for the mapboard CLI.
//
// mapboard can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	mapboard serve -c config.yaml    # Start the dashboard
//	mapboard validate -c config.yaml # Validate configuration
//	mapboard version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mapboard",
	Short: "A live map and grid dashboard for polled JSON feeds",
	Long: `mapboard polls JSON endpoints and keeps a live marker map and
record grids in sync with them, served in a web UI with Server-Sent Events
for live updates.

Quick start:
  1. Create a config file (mapboard.yaml)
  2. Run: mapboard serve -c mapboard.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  poll_interval: 5s
  markers:
    url: https://fleet.example.com/positions
  grids:
    - name: alerts
      url: https://fleet.example.com/alerts

Flags can also be set through MAPBOARD_* environment variables,
e.g. MAPBOARD_CONFIG, MAPBOARD_PORT and MAPBOARD_LOG_LEVEL.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this mapboard binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mapboard %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (or MAPBOARD_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error (or MAPBOARD_LOG_LEVEL)")
	rootCmd.AddCommand(versionCmd)
}
