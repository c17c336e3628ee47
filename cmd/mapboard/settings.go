package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "MAPBOARD"

// settings are the CLI values resolved from flags, environment and defaults,
// in that order of precedence.
type settings struct {
	ConfigFile string
	LogLevel   slog.Level

	// Port overrides the config file when non-zero.
	Port int
}

// loadSettings binds the command's flags and MAPBOARD_* environment
// variables into a fresh viper instance.
func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("log-level", "info")

	// only flags given a value override the environment
	for _, name := range []string{"config", "log-level", "port"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed && f.Value.String() != "" {
			if err := v.BindPFlag(name, f); err != nil {
				return settings{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	level, err := parseLogLevel(v.GetString("log-level"))
	if err != nil {
		return settings{}, err
	}

	s := settings{
		ConfigFile: v.GetString("config"),
		LogLevel:   level,
	}
	if v.IsSet("port") {
		s.Port = v.GetInt("port")
	}

	if s.ConfigFile == "" {
		return settings{}, errors.New("config file required: use --config or MAPBOARD_CONFIG")
	}
	return s, nil
}

// parseLogLevel accepts debug, info, warn and error in any case.
func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
	return level, nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
