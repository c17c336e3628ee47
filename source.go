package mapboard

import (
	"errors"
	"net/url"
	"time"
)

const defaultSourceTimeout = 10 * time.Second

// Source is an HTTP URL that serves a JSON array of records.
//
// Source is immutable after creation via [NewSource]. All fields are private
// with getter methods that return copies of mutable data (maps).
//
// A source becomes the marker feed with [WithMarkerSource] or a grid with
// [WithGridSource]. Sources are configured with [SourceOption] functions such
// as [WithHeaders], [WithTimeout], [WithExtractor], [WithMethod],
// [WithInterval] and [WithIDColumn].
type Source struct {
	name      string
	url       string
	headers   map[string]string
	timeout   time.Duration
	extractor PayloadExtractor
	method    string
	interval  time.Duration
	idColumn  string
}

// Name returns the source name. Grid sources are published under this name.
func (s Source) Name() string {
	return s.name
}

// URL returns the URL that is polled.
func (s Source) URL() string {
	return s.url
}

// Headers returns a copy of the custom HTTP headers sent with every poll.
// Returns nil if no custom headers are set.
func (s Source) Headers() map[string]string {
	return copyMap(s.headers)
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (s Source) Timeout() time.Duration {
	return s.timeout
}

// Extractor returns the payload extractor, or nil when the whole body is
// the payload.
func (s Source) Extractor() PayloadExtractor {
	return s.extractor
}

// Method returns the HTTP method. Empty means GET.
func (s Source) Method() string {
	return s.method
}

// Interval returns the source's polling interval. Returns 0 if none was
// set, meaning the interval from [WithPollingInterval] is used.
func (s Source) Interval() time.Duration {
	return s.interval
}

// IDColumn returns the grid column clients should treat as row identity.
// Only meaningful for grid sources.
func (s Source) IDColumn() string {
	return s.idColumn
}

// NewSource creates a [Source] with the given name, URL, and options.
//
// The rawURL parameter must be a valid URL with a scheme (http:// or https://).
//
// Returns an error if the name is empty or the URL is invalid.
//
// Example:
//
//	trucks, err := mapboard.NewSource("trucks", "https://fleet.example.com/positions",
//	    mapboard.WithExtractor(mapboard.FieldArray("data.vehicles")),
//	    mapboard.WithInterval(2 * time.Second),
//	)
func NewSource(name, rawURL string, opts ...SourceOption) (Source, error) {
	if name == "" {
		return Source{}, errors.New("source name cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Source{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme == "" {
		return Source{}, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &sourceConfig{
		headers: make(map[string]string),
		timeout: defaultSourceTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Source{}, err
		}
	}

	return Source{
		name:      name,
		url:       rawURL,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		extractor: cfg.extractor,
		method:    cfg.method,
		interval:  cfg.interval,
		idColumn:  cfg.idColumn,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
