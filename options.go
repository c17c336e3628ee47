package mapboard

import (
	"errors"
	"log/slog"
	"time"
)

// mbConfig holds mutable state during Mapboard construction.
type mbConfig struct {
	title           string
	markerSource    *Source
	gridSources     []Source
	pollingInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	projection      int
	defaultLayer    string
	initialZoom     int
	corsOrigins     []string
	updateCallbacks []func(Update)
}

// Option is a function that configures a [Mapboard] instance during construction.
// Options return an error if validation fails.
type Option func(*mbConfig) error

// WithMarkerSource sets the source of marker tuples.
//
// At most one marker source may be configured.
func WithMarkerSource(s Source) Option {
	return func(cfg *mbConfig) error {
		if cfg.markerSource != nil {
			return errors.New("marker source already set")
		}
		cfg.markerSource = &s
		return nil
	}
}

// WithGridSource adds a single grid [Source]. The grid is published under the
// source name.
func WithGridSource(s Source) Option {
	return func(cfg *mbConfig) error {
		cfg.gridSources = append(cfg.gridSources, s)
		return nil
	}
}

// WithGridSources adds multiple grid sources, typically the output of
// [NewSourceMatrix].
func WithGridSources(sources ...Source) Option {
	return func(cfg *mbConfig) error {
		cfg.gridSources = append(cfg.gridSources, sources...)
		return nil
	}
}

// WithPollingInterval sets how often sources without their own interval are
// polled. Defaults to 15 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *mbConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *mbConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of concurrent HTTP requests
// per polling round. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *mbConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *mbConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
// Defaults to "Mapboard".
func WithTitle(title string) Option {
	return func(cfg *mbConfig) error {
		cfg.title = title
		return nil
	}
}

// WithProjection sets the EPSG code of the map projection. Tuple coordinates
// are always EPSG:4326 and are reprojected. Defaults to 3857 (Web Mercator).
//
// The code is checked by [New].
func WithProjection(epsg int) Option {
	return func(cfg *mbConfig) error {
		cfg.projection = epsg
		return nil
	}
}

// WithDefaultLayer sets the name of the layer that receives tuples without
// a layer field. Defaults to "Markers".
func WithDefaultLayer(name string) Option {
	return func(cfg *mbConfig) error {
		if name == "" {
			return errors.New("default layer name cannot be empty")
		}
		cfg.defaultLayer = name
		return nil
	}
}

// WithInitialZoom sets the zoom used when the first marker centers the map.
// Defaults to 12.
func WithInitialZoom(zoom int) Option {
	return func(cfg *mbConfig) error {
		if zoom < 0 || zoom > 28 {
			return errors.New("initial zoom must be between 0 and 28")
		}
		cfg.initialZoom = zoom
		return nil
	}
}

// WithCORSOrigins sets the origins allowed to call the API. Defaults to any
// origin.
func WithCORSOrigins(origins ...string) Option {
	return func(cfg *mbConfig) error {
		cfg.corsOrigins = append(cfg.corsOrigins, origins...)
		return nil
	}
}

// WithUpdateCallback registers a function called after every applied poll.
//
// Multiple callbacks execute in registration order. Callbacks run
// synchronously on the goroutine that applies poll results, so they must not
// block. Panics are recovered and logged.
//
// Example:
//
//	mb, err := mapboard.New(
//	    mapboard.WithMarkerSource(trucks),
//	    mapboard.WithUpdateCallback(func(u mapboard.Update) {
//	        if !u.OK() {
//	            log.Printf("%s failed: %v", u.Source, u.Err)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(Update)) Option {
	return func(cfg *mbConfig) error {
		if cb == nil {
			return nil
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}
