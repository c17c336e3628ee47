// Package config provides YAML configuration parsing for mapboard.
//
// This package enables running mapboard as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	title: Fleet map
//	port: 8080
//	poll_interval: 5s
//
//	markers:
//	  url: https://fleet.example.com/positions
//	  path: data.vehicles
//	  interval: 2s
//
//	grids:
//	  - name: alerts
//	    url: https://fleet.example.com/alerts
//	    id_column: id
//
//	matrices:
//	  - name: Depots
//	    url_template: "https://fleet.example.com/depots?region={{.region}}"
//	    dimensions:
//	      region: [north, south]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
const minPollInterval = 1 * time.Second

const (
	defaultPort           = 8080
	defaultPollInterval   = 15 * time.Second
	defaultProjection     = 3857
	defaultLayer          = "Markers"
	defaultInitialZoom    = 12
	defaultMarkerSourceID = "markers"
)

// Config is the root configuration structure for mapboard.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "Mapboard" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the time between polls of sources without their own
	// interval. Defaults to 15s.
	PollInterval Duration `yaml:"poll_interval"`

	// MaxConcurrency limits concurrent requests. Zero means the SDK default.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Projection is the EPSG code of the map projection. Defaults to 3857.
	Projection int `yaml:"projection"`

	// DefaultLayer receives tuples without a layer. Defaults to "Markers".
	DefaultLayer string `yaml:"default_layer"`

	// InitialZoom is the zoom used when the first marker centers the map.
	// Defaults to 12.
	InitialZoom *int `yaml:"initial_zoom"`

	// CORSOrigins lists the origins allowed to call the API. Empty allows any.
	CORSOrigins []string `yaml:"cors_origins"`

	// Markers is the tuple source for the marker map.
	Markers *SourceConfig `yaml:"markers"`

	// Grids are record sources, one grid each.
	Grids []SourceConfig `yaml:"grids"`

	// Matrices are grid sources that expand via cartesian product.
	Matrices []MatrixConfig `yaml:"matrices"`
}

// SourceConfig defines a single polled source.
type SourceConfig struct {
	// Name identifies the source. Required for grids; the marker source
	// defaults to "markers".
	Name string `yaml:"name"`

	// URL is the polled URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Method is the HTTP method (GET, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Path is the dot path of the record array inside the response.
	// Empty means the response itself is the array.
	Path string `yaml:"path"`

	// Interval is the custom polling interval for this source.
	// Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`

	// IDColumn is the grid column used as row identity.
	IDColumn string `yaml:"id_column"`
}

// MatrixConfig defines grid sources that expand via cartesian product.
//
// For example, with dimensions {region: [north, south], kind: [hub, yard]},
// the matrix expands to 4 grids.
type MatrixConfig struct {
	// Name is the base name for generated grids.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating source URLs.
	// Dimension keys are available as template variables: {{.region}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	Method   string            `yaml:"method"`
	Timeout  Duration          `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	Path     string            `yaml:"path"`
	Interval Duration          `yaml:"interval"`
	IDColumn string            `yaml:"id_column"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part, if present
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in URLs, URL templates and header values are
// expanded. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Defaults are applied for Port (8080), PollInterval (15s), Projection
// (3857), DefaultLayer ("Markers") and InitialZoom (12).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}
	if cfg.Projection == 0 {
		cfg.Projection = defaultProjection
	}
	if cfg.DefaultLayer == "" {
		cfg.DefaultLayer = defaultLayer
	}
	if cfg.InitialZoom == nil {
		zoom := defaultInitialZoom
		cfg.InitialZoom = &zoom
	}
	if cfg.Markers != nil && cfg.Markers.Name == "" {
		cfg.Markers.Name = defaultMarkerSourceID
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency)
	}
	if c.Projection < 0 {
		return fmt.Errorf("projection must be a positive EPSG code, got %d", c.Projection)
	}
	if zoom := *c.InitialZoom; zoom < 0 || zoom > 28 {
		return fmt.Errorf("initial_zoom must be between 0 and 28, got %d", zoom)
	}

	if c.Markers != nil {
		if err := c.Markers.expandAndValidate("markers"); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]
		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}
		if err := g.expandAndValidate(fmt.Sprintf("grids[%d] (%s)", i, g.Name)); err != nil {
			return err
		}
	}

	for i := range c.Matrices {
		m := &c.Matrices[i]
		if m.Name == "" {
			return fmt.Errorf("matrices[%d]: name is required", i)
		}
		if err := m.expandAndValidate(fmt.Sprintf("matrices[%d] (%s)", i, m.Name)); err != nil {
			return err
		}
	}

	if c.Markers == nil && len(c.Grids) == 0 && len(c.Matrices) == 0 {
		return errors.New("at least one of markers, grids or matrices must be defined")
	}

	return nil
}

func (s *SourceConfig) expandAndValidate(where string) error {
	if s.URL == "" {
		return fmt.Errorf("%s: url is required", where)
	}
	expanded, err := expandEnvVars(s.URL)
	if err != nil {
		return fmt.Errorf("%s: url: %w", where, err)
	}
	s.URL = expanded

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", where, err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("%s: url must have a scheme (http:// or https://)", where)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: url scheme must be http or https, got %q", where, parsedURL.Scheme)
	}

	if err := expandHeaders(s.Headers, where); err != nil {
		return err
	}
	return validateRequest(where, s.Method, s.Timeout, s.Interval)
}

func (m *MatrixConfig) expandAndValidate(where string) error {
	if m.URLTemplate == "" {
		return fmt.Errorf("%s: url_template is required", where)
	}
	expanded, err := expandEnvVars(m.URLTemplate)
	if err != nil {
		return fmt.Errorf("%s: url_template: %w", where, err)
	}
	m.URLTemplate = expanded

	// fail fast before the SDK executes it
	if _, err := template.New("").Parse(m.URLTemplate); err != nil {
		return fmt.Errorf("%s: invalid url_template: %w", where, err)
	}

	if len(m.Dimensions) == 0 {
		return fmt.Errorf("%s: at least one dimension is required", where)
	}
	for dimName, dimValues := range m.Dimensions {
		if len(dimValues) == 0 {
			return fmt.Errorf("%s: dimension %q has no values", where, dimName)
		}
		seen := make(map[string]struct{}, len(dimValues))
		for _, v := range dimValues {
			if _, exists := seen[v]; exists {
				return fmt.Errorf("%s: dimension %q has duplicate value %q", where, dimName, v)
			}
			seen[v] = struct{}{}
		}
	}

	if err := expandHeaders(m.Headers, where); err != nil {
		return err
	}
	return validateRequest(where, m.Method, m.Timeout, m.Interval)
}

func expandHeaders(headers map[string]string, where string) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", where, k, err)
		}
		headers[k] = expanded
	}
	return nil
}

func validateRequest(where, method string, timeout, interval Duration) error {
	if method != "" && method != "GET" && method != "POST" {
		return fmt.Errorf("%s: method must be GET or POST", where)
	}

	if timeout != 0 {
		if timeout.Duration() < 0 {
			return fmt.Errorf("%s: timeout cannot be negative, got %s", where, timeout.Duration())
		}
		if timeout.Duration() < time.Second {
			return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", where, timeout.Duration())
		}
	}

	if interval != 0 {
		if interval.Duration() < time.Second {
			return fmt.Errorf("%s: interval must be at least 1s, got %s", where, interval.Duration())
		}
		if interval.Duration() > time.Hour {
			return fmt.Errorf("%s: interval must not exceed 1h, got %s", where, interval.Duration())
		}
	}
	return nil
}
