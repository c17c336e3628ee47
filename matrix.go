package mapboard

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewSourceMatrix creates one grid [Source] per combination of dimension
// values, using cartesian product expansion of a URL template.
//
// The URL template uses Go's text/template syntax. Dimension values are
// URL-encoded before interpolation. Missing template keys cause an error.
//
// Each source name includes dimension values in the format
// "Base (val1/val2)", with values ordered by sorted dimension key.
//
// Example:
//
//	regions, err := mapboard.NewSourceMatrix("Depots",
//	    mapboard.WithURLTemplate("https://fleet.example.com/depots?region={{.region}}"),
//	    mapboard.WithDimensions(map[string][]string{
//	        "region": {"north", "south"},
//	    }),
//	)
//	// Returns 2 sources, usable with WithGridSources(regions...)
func NewSourceMatrix(baseName string, opts ...MatrixOption) ([]Source, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, errors.New("base name cannot be empty")
	}

	cfg := &matrixConfig{
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	combinations := cartesianProduct(cfg.dimensions)
	if len(combinations) == 0 {
		return nil, nil
	}

	sources := make([]Source, 0, len(combinations))
	for _, combo := range combinations {
		urlStr, err := executeTemplate(tmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		name := formatSourceName(baseName, combo)

		var srcOpts []SourceOption
		if len(cfg.headers) > 0 {
			srcOpts = append(srcOpts, WithHeaders(flattenMap(cfg.headers)...))
		}
		if cfg.timeout > 0 {
			srcOpts = append(srcOpts, WithTimeout(cfg.timeout))
		}
		if cfg.extractor != nil {
			srcOpts = append(srcOpts, WithExtractor(cfg.extractor))
		}
		if cfg.method != "" {
			srcOpts = append(srcOpts, WithMethod(cfg.method))
		}
		if cfg.interval > 0 {
			srcOpts = append(srcOpts, WithInterval(cfg.interval))
		}
		if cfg.idColumn != "" {
			srcOpts = append(srcOpts, WithIDColumn(cfg.idColumn))
		}

		src, err := NewSource(name, urlStr, srcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create source '%s': %w", name, err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

// cartesianProduct generates all combinations of dimension values.
// Keys are sorted alphabetically; values keep their slice order.
//
// Example:
//
//	Input:  {"x": ["a","b"], "y": ["1","2"]}
//	Output: [{"x":"a","y":"1"}, {"x":"a","y":"2"}, {"x":"b","y":"1"}, {"x":"b","y":"2"}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}

	keys := sortedKeys(dims)
	total := 1
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
		total *= len(dims[k])
	}

	result := make([]map[string]string, 0, total)
	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		// rightmost index moves fastest
		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// urlEncodeMap returns a new map with all values URL-encoded.
func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatSourceName creates a name in the format "Base (v1/v2)".
func formatSourceName(baseName string, combo map[string]string) string {
	keys := sortedKeys(combo)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = combo[k]
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, "/"))
}

// flattenMap converts a map to sorted key-value pairs for variadic options.
func flattenMap(m map[string]string) []string {
	result := make([]string, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		result = append(result, k, m[k])
	}
	return result
}
