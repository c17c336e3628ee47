package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/mapboard"
)

// BuildOptions converts parsed configuration into SDK options for
// [mapboard.New]: the sources plus the dashboard settings.
//
// Matrices are expanded via cartesian product into grid sources.
func BuildOptions(cfg *Config) ([]mapboard.Option, error) {
	// zero values keep the SDK defaults
	var opts []mapboard.Option
	if cfg.Port != 0 {
		opts = append(opts, mapboard.WithPort(cfg.Port))
	}
	if cfg.PollInterval != 0 {
		opts = append(opts, mapboard.WithPollingInterval(cfg.PollInterval.Duration()))
	}
	if cfg.Projection != 0 {
		opts = append(opts, mapboard.WithProjection(cfg.Projection))
	}
	if cfg.DefaultLayer != "" {
		opts = append(opts, mapboard.WithDefaultLayer(cfg.DefaultLayer))
	}
	if cfg.Title != "" {
		opts = append(opts, mapboard.WithTitle(cfg.Title))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, mapboard.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.InitialZoom != nil {
		opts = append(opts, mapboard.WithInitialZoom(*cfg.InitialZoom))
	}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, mapboard.WithCORSOrigins(cfg.CORSOrigins...))
	}

	if cfg.Markers != nil {
		src, err := buildSource(*cfg.Markers)
		if err != nil {
			return nil, fmt.Errorf("markers: %w", err)
		}
		opts = append(opts, mapboard.WithMarkerSource(src))
	}

	grids, err := BuildGridSources(cfg)
	if err != nil {
		return nil, err
	}
	if len(grids) > 0 {
		opts = append(opts, mapboard.WithGridSources(grids...))
	}

	return opts, nil
}

// BuildGridSources converts grids and matrices into SDK sources, grids
// first, in configuration order.
func BuildGridSources(cfg *Config) ([]mapboard.Source, error) {
	var sources []mapboard.Source

	for _, gc := range cfg.Grids {
		src, err := buildSource(gc)
		if err != nil {
			return nil, fmt.Errorf("grid (%s): %w", gc.Name, err)
		}
		sources = append(sources, src)
	}

	for _, mc := range cfg.Matrices {
		expanded, err := buildMatrix(mc)
		if err != nil {
			return nil, fmt.Errorf("matrix (%s): %w", mc.Name, err)
		}
		sources = append(sources, expanded...)
	}

	return sources, nil
}

// buildSource converts a single SourceConfig to an SDK Source.
func buildSource(sc SourceConfig) (mapboard.Source, error) {
	var opts []mapboard.SourceOption

	if sc.Method != "" {
		opts = append(opts, mapboard.WithMethod(sc.Method))
	}
	if sc.Timeout != 0 {
		opts = append(opts, mapboard.WithTimeout(sc.Timeout.Duration()))
	}
	if len(sc.Headers) > 0 {
		opts = append(opts, mapboard.WithHeaders(mapToKeyValuePairs(sc.Headers)...))
	}
	if sc.Path != "" {
		opts = append(opts, mapboard.WithExtractor(mapboard.FieldArray(sc.Path)))
	}
	if sc.Interval != 0 {
		opts = append(opts, mapboard.WithInterval(sc.Interval.Duration()))
	}
	if sc.IDColumn != "" {
		opts = append(opts, mapboard.WithIDColumn(sc.IDColumn))
	}

	return mapboard.NewSource(sc.Name, sc.URL, opts...)
}

func buildMatrix(mc MatrixConfig) ([]mapboard.Source, error) {
	opts := []mapboard.MatrixOption{
		mapboard.WithURLTemplate(mc.URLTemplate),
		mapboard.WithDimensions(mc.Dimensions),
		mapboard.WithMatrixTimeout(mc.Timeout.Duration()),
		mapboard.WithMatrixInterval(mc.Interval.Duration()),
	}
	if mc.Method != "" {
		opts = append(opts, mapboard.WithMatrixMethod(mc.Method))
	}
	if len(mc.Headers) > 0 {
		opts = append(opts, mapboard.WithMatrixHeaders(mapToKeyValuePairs(mc.Headers)...))
	}
	if mc.Path != "" {
		opts = append(opts, mapboard.WithMatrixExtractor(mapboard.FieldArray(mc.Path)))
	}
	if mc.IDColumn != "" {
		opts = append(opts, mapboard.WithMatrixIDColumn(mc.IDColumn))
	}

	return mapboard.NewSourceMatrix(mc.Name, opts...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
