// Package markers reconciles the marker layers of a [geomap.Map] against
// freshly fetched tuples.
//
// Each call to [Synchronizer.Sync] is one cycle: every tuple gets exactly one
// live marker keyed "<layer>:<id>", existing markers are moved and refreshed
// in place, and markers whose tuple is missing from the cycle are purged.
package markers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"go.opentelemetry.io/otel/metric"

	"github.com/jpalmerr/mapboard/internal/geomap"
	"github.com/jpalmerr/mapboard/tuple"
)

// DefaultZoom is the zoom level used when the first marker centers the map.
const DefaultZoom = 12

// ErrUnknownMarker is returned for popup operations on an id that has no
// live marker.
var ErrUnknownMarker = errors.New("unknown marker")

// Summary describes the outcome of one cycle.
type Summary struct {
	Tuples   int
	Created  int
	Updated  int
	Removed  int
	Markers  int
	Layers   int
	Centered bool
	Duration time.Duration
}

// Option configures a [Synchronizer].
type Option func(*Synchronizer)

// WithInitialZoom sets the zoom used by the one-time map centering.
func WithInitialZoom(zoom int) Option {
	return func(s *Synchronizer) {
		s.zoom = zoom
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMeter sets the meter cycle metrics are recorded on. Defaults to the
// global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(s *Synchronizer) {
		if m != nil {
			s.metrics = newSyncMetrics(m)
		}
	}
}

// Synchronizer owns the marker mapping of one map.
//
// All methods are safe for concurrent use. A cycle holds the lock for its
// whole duration, so readers never observe a half-applied cycle.
type Synchronizer struct {
	mu      sync.Mutex
	m       *geomap.Map
	markers map[string]*geomap.Feature
	zoom    int
	logger  *slog.Logger
	metrics *syncMetrics
}

// New creates a synchronizer driving m.
func New(m *geomap.Map, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		m:       m,
		markers: make(map[string]*geomap.Feature),
		zoom:    DefaultZoom,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newSyncMetrics(meter())
	}
	return s
}

// Sync runs one reconciliation cycle over tuples, in order.
//
// Every tuple is projected before anything changes. If one cannot be
// projected the cycle is aborted, the markers stay as they were and the
// error names the tuple.
func (s *Synchronizer) Sync(ctx context.Context, tuples []tuple.Tuple) (Summary, error) {
	start := time.Now()

	s.mu.Lock()
	targets, err := s.project(tuples)
	if err != nil {
		s.mu.Unlock()
		return Summary{Tuples: len(tuples)}, err
	}
	sum := s.reconcile(tuples, targets)
	sum.Duration = time.Since(start)
	s.mu.Unlock()

	s.metrics.record(ctx, sum)
	s.logger.Debug("markers synchronized",
		"tuples", sum.Tuples,
		"created", sum.Created,
		"updated", sum.Updated,
		"removed", sum.Removed,
		"markers", sum.Markers,
		"layers", sum.Layers,
		"duration_ms", sum.Duration.Milliseconds(),
	)
	return sum, nil
}

// project converts every tuple position into the working projection.
func (s *Synchronizer) project(tuples []tuple.Tuple) ([]geom.Point, error) {
	projector := s.m.Projector()
	targets := make([]geom.Point, len(tuples))
	for i, t := range tuples {
		pt, err := projector.Project(t.Longitude, t.Latitude)
		if err != nil {
			return nil, fmt.Errorf("tuple %d (id %s): %w", i, t.ID, err)
		}
		targets[i] = pt
	}
	return targets, nil
}

// reconcile applies one cycle with the projected targets. Caller holds s.mu.
func (s *Synchronizer) reconcile(tuples []tuple.Tuple, targets []geom.Point) Summary {
	sum := Summary{Tuples: len(tuples)}
	seen := make(map[string]struct{}, len(tuples))

	for i, t := range tuples {
		icon := Icon(t.MarkerType)
		layer := s.layerFor(t)
		id := layer.Name() + ":" + t.ID.String()
		seen[id] = struct{}{}

		target := targets[i]

		if f, ok := s.markers[id]; ok {
			if f.Icon() != icon {
				f.SetIcon(icon)
			}
			f.SetTuple(t)
			f.Move(target)
			if p := f.Popup(); p != nil {
				p.SetContent(PopupHTML(t))
				p.MoveTo(target)
			}
			sum.Updated++
			continue
		}

		f := geomap.NewFeature(id, target, t, icon)
		layer.AddFeature(f)
		s.markers[id] = f
		sum.Created++

		// first time only: set the viewport if nothing else did
		if i == 0 {
			if _, ok := s.m.Center(); !ok {
				s.m.SetCenter(target, s.zoom)
				sum.Centered = true
			}
		}
	}

	for id, f := range s.markers {
		if _, ok := seen[id]; ok {
			continue
		}
		if l := f.Layer(); l != nil {
			l.RemoveFeature(f)
		}
		f.ClosePopup()
		f.Release()
		delete(s.markers, id)
		sum.Removed++
	}

	sum.Markers = len(s.markers)
	sum.Layers = len(s.m.Layers())
	return sum
}

// layerFor resolves the tuple's layer, creating it on first reference.
func (s *Synchronizer) layerFor(t tuple.Tuple) *geomap.Layer {
	if t.Layer == "" {
		return s.m.DefaultLayer()
	}
	return s.m.AddLayer(t.Layer)
}

// IDs returns the live marker ids, sorted.
func (s *Synchronizer) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.markers))
	for id := range s.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live markers.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

// Select opens the popup of a marker and returns its HTML content.
func (s *Synchronizer) Select(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.markers[id]
	if !ok {
		return "", ErrUnknownMarker
	}
	return f.OpenPopup(PopupHTML(f.Tuple())).Content(), nil
}

// Unselect destroys the popup of a marker. It is not an error if no popup
// is open.
func (s *Synchronizer) Unselect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.markers[id]
	if !ok {
		return ErrUnknownMarker
	}
	f.ClosePopup()
	return nil
}

// Snapshot returns the map as GeoJSON, marshaled under the lock.
func (s *Synchronizer) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.FeatureCollection().MarshalJSON()
}
