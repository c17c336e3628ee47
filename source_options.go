package mapboard

import (
	"errors"
	"net/http"
	"time"
)

// sourceConfig holds mutable state during source construction.
type sourceConfig struct {
	headers   map[string]string
	timeout   time.Duration
	extractor PayloadExtractor
	method    string
	interval  time.Duration
	idColumn  string
}

// SourceOption is a function that configures a [Source] during construction.
// Options return an error if validation fails.
type SourceOption func(*sourceConfig) error

// WithHeaders adds custom HTTP headers to poll requests for this source.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	src, err := mapboard.NewSource("trucks", url,
//	    mapboard.WithHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) SourceOption {
	return func(cfg *sourceConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the HTTP request timeout for this source.
// A poll that times out changes nothing; the previous data stays in place.
// Defaults to 10 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithExtractor sets the [PayloadExtractor] that selects the record array
// from the response body. Defaults to [RootArray].
//
// Example:
//
//	src, err := mapboard.NewSource("alerts", url,
//	    mapboard.WithExtractor(mapboard.FieldArray("result.items")),
//	)
func WithExtractor(e PayloadExtractor) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithMethod sets the HTTP method for poll requests. GET (default) and POST
// are supported.
//
// Returns an error for any other method.
func WithMethod(method string) SourceOption {
	return func(cfg *sourceConfig) error {
		switch method {
		case http.MethodGet, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithInterval sets a custom polling interval for this source.
//
// The interval must be at least 1 second and at most 1 hour. It is measured
// from when a poll starts, so for slow sources the effective interval is the
// configured interval plus the poll duration.
//
// If not specified, the source uses the interval configured via
// [WithPollingInterval].
func WithInterval(d time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if d < time.Second {
			return errors.New("interval must be at least 1 second")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}

// WithIDColumn names the grid column clients use as row identity.
func WithIDColumn(column string) SourceOption {
	return func(cfg *sourceConfig) error {
		if column == "" {
			return errors.New("id column cannot be empty")
		}
		cfg.idColumn = column
		return nil
	}
}
