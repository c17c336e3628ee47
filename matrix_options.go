package mapboard

import (
	"errors"
	"fmt"
	"time"
)

// matrixConfig holds configuration during source matrix construction.
type matrixConfig struct {
	urlTemplate string
	dimensions  map[string][]string
	headers     map[string]string
	timeout     time.Duration
	extractor   PayloadExtractor
	method      string
	interval    time.Duration
	idColumn    string
}

// MatrixOption configures [NewSourceMatrix].
type MatrixOption func(*matrixConfig) error

// WithURLTemplate sets the URL template for source generation.
// The template uses Go's text/template syntax with dimension keys as variables.
//
// Example:
//
//	WithURLTemplate("https://fleet.example.com/depots?region={{.region}}&kind={{.kind}}")
//
// Returns an error if the template string is empty.
func WithURLTemplate(tmpl string) MatrixOption {
	return func(cfg *matrixConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithDimensions sets the dimension values for cartesian product expansion.
// Each key becomes a template variable.
//
// Returns an error if the map is empty, any dimension has no values,
// or any value is an empty string.
func WithDimensions(dims map[string][]string) MatrixOption {
	return func(cfg *matrixConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for k, vals := range dims {
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", k)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", k, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithMatrixHeaders adds HTTP headers to all generated sources.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
func WithMatrixHeaders(keyValues ...string) MatrixOption {
	return func(cfg *matrixConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithMatrixHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithMatrixTimeout sets the HTTP request timeout for all generated sources.
// Zero means the source default.
//
// Returns an error if the duration is negative.
func WithMatrixTimeout(d time.Duration) MatrixOption {
	return func(cfg *matrixConfig) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMatrixExtractor sets the [PayloadExtractor] for all generated sources.
func WithMatrixExtractor(e PayloadExtractor) MatrixOption {
	return func(cfg *matrixConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithMatrixMethod sets the HTTP method for all generated sources.
// Validated by [WithMethod] when the sources are built.
func WithMatrixMethod(method string) MatrixOption {
	return func(cfg *matrixConfig) error {
		cfg.method = method
		return nil
	}
}

// WithMatrixInterval sets the polling interval for all generated sources.
// Zero means the global interval. Bounds are those of [WithInterval].
func WithMatrixInterval(d time.Duration) MatrixOption {
	return func(cfg *matrixConfig) error {
		if d < 0 {
			return errors.New("interval cannot be negative")
		}
		cfg.interval = d
		return nil
	}
}

// WithMatrixIDColumn sets the row identity column for all generated sources.
func WithMatrixIDColumn(column string) MatrixOption {
	return func(cfg *matrixConfig) error {
		cfg.idColumn = column
		return nil
	}
}
