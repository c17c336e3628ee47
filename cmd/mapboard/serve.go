package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/mapboard"
	"github.com/jpalmerr/mapboard/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Long: `Start the mapboard dashboard server.

The server will:
  - Load configuration from the specified YAML file
  - Start polling the marker source and all grid sources
  - Serve the dashboard UI on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  mapboard serve -c config.yaml
  MAPBOARD_PORT=9090 mapboard serve --config /etc/mapboard/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "HTTP port, overrides the config file (or MAPBOARD_PORT)")
}

// buildMapboard loads the config file and turns it into a Mapboard.
func buildMapboard(s settings, opts ...mapboard.Option) (*mapboard.Mapboard, *config.Config, error) {
	cfg, err := config.Load(s.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}

	sdkOpts, err := config.BuildOptions(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build sources: %w", err)
	}

	mb, err := mapboard.New(append(sdkOpts, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mapboard: %w", err)
	}
	return mb, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, s.LogLevel)

	mb, cfg, err := buildMapboard(s, mapboard.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("config loaded",
		"markers", cfg.Markers != nil,
		"grids", len(cfg.Grids),
		"matrices", len(cfg.Matrices),
	)
	logger.Info("starting server",
		"port", mb.Port(),
		"poll_interval", mb.PollingInterval().String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mb.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
