package mapboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/mapboard/dashboard"
	"github.com/jpalmerr/mapboard/internal/geomap"
	"github.com/jpalmerr/mapboard/internal/markers"
	"github.com/jpalmerr/mapboard/internal/poller"
	"github.com/jpalmerr/mapboard/internal/server"
	"github.com/jpalmerr/mapboard/internal/store"
	"github.com/jpalmerr/mapboard/tuple"
)

const (
	defaultPollingInterval = 15 * time.Second
	defaultPort            = 8080
	defaultMaxConcurrency  = 10
)

// Mapboard polls marker and grid sources and serves the live map and grids.
//
// Mapboard is created using [New] with functional options and started with
// [Mapboard.Start]:
//
//	mb, err := mapboard.New(mapboard.WithMarkerSource(trucks))
//	if err != nil {
//	    slog.Error("failed to create mapboard", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	mb.Start(ctx) // blocks until context cancelled
type Mapboard struct {
	title           string
	markerSource    *Source
	gridSources     []Source
	pollingInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	projector       *geomap.Projector
	defaultLayer    string
	initialZoom     int
	corsOrigins     []string
	updateCallbacks []func(Update)
}

// New creates a new [Mapboard] instance with the given options.
//
// At least one source must be configured via [WithMarkerSource],
// [WithGridSource] or [WithGridSources]. Source names must be unique.
// Other options have sensible defaults:
//   - Polling interval: 15 seconds
//   - Port: 8080
//   - Max concurrency: 10
//   - Projection: EPSG:3857
//   - Default layer: "Markers"
//   - Initial zoom: 12
//
// Returns an error if no source is configured or if any option is invalid.
func New(opts ...Option) (*Mapboard, error) {
	cfg := &mbConfig{
		pollingInterval: defaultPollingInterval,
		port:            defaultPort,
		maxConcurrency:  defaultMaxConcurrency,
		projection:      geomap.WebMercatorEPSG,
		defaultLayer:    geomap.DefaultLayerName,
		initialZoom:     markers.DefaultZoom,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.markerSource == nil && len(cfg.gridSources) == 0 {
		return nil, errors.New("at least one marker or grid source is required")
	}

	// names key the sequence tracking and the grids
	seen := make(map[string]bool, len(cfg.gridSources)+1)
	if cfg.markerSource != nil {
		seen[cfg.markerSource.name] = true
	}
	for _, src := range cfg.gridSources {
		if seen[src.name] {
			return nil, fmt.Errorf("duplicate source name: %q", src.name)
		}
		seen[src.name] = true
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	projector, err := geomap.NewProjector(cfg.projection)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Mapboard{
		title:           cfg.title,
		markerSource:    cfg.markerSource,
		gridSources:     cfg.gridSources,
		pollingInterval: cfg.pollingInterval,
		port:            cfg.port,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		projector:       projector,
		defaultLayer:    cfg.defaultLayer,
		initialZoom:     cfg.initialZoom,
		corsOrigins:     cfg.corsOrigins,
		updateCallbacks: cfg.updateCallbacks,
	}, nil
}

// Start begins polling sources and serving the dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// All sources are polled immediately, then on their intervals. Each poll result
// is applied in order: marker payloads are decoded and reconciled into the
// map, grid payloads replace their grid. A failed poll leaves its view as it
// was.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (mb *Mapboard) Start(ctx context.Context) error {
	mb.logger.Info("mapboard starting",
		"marker_source", mb.markerSource != nil,
		"grid_count", len(mb.gridSources),
		"projection", mb.projector.Name(),
	)
	mb.logger.Info("polling configured", "interval", mb.pollingInterval.String())
	mb.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", mb.port))

	if ctx.Err() != nil {
		return nil
	}

	gridStore := store.NewMemoryStore()
	synchronizer := markers.New(
		geomap.New(mb.projector, mb.defaultLayer),
		markers.WithInitialZoom(mb.initialZoom),
		markers.WithLogger(mb.logger),
	)
	c := newConsumer(gridStore, synchronizer, mb.idColumns(), mb.updateCallbacks, mb.logger)

	scheduler := poller.NewScheduler(mb.toPollerSources(), mb.pollingInterval, mb.maxConcurrency, mb.logger)
	scheduler.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range scheduler.Results() {
			c.handle(ctx, result)
		}
	}()

	cleanup := func() {
		scheduler.Stop() // closes results channel
		wg.Wait()
	}

	// the marker routes only exist when there is a marker feed
	var view server.MarkerView
	if mb.markerSource != nil {
		view = synchronizer
	}

	httpServer := server.NewServer(gridStore, view, server.Options{
		Port:        mb.port,
		Title:       mb.title,
		Assets:      dashboard.Assets,
		CORSOrigins: mb.corsOrigins,
	}, mb.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	mb.logger.Info("mapboard stopped")
	return nil
}

// toPollerSources converts the configured sources to scheduler sources.
func (mb *Mapboard) toPollerSources() []poller.SourceInfo {
	result := make([]poller.SourceInfo, 0, len(mb.gridSources)+1)
	if mb.markerSource != nil {
		result = append(result, toPollerSource(*mb.markerSource, poller.KindMarkers))
	}
	for _, src := range mb.gridSources {
		result = append(result, toPollerSource(src, poller.KindGrid))
	}
	return result
}

func toPollerSource(src Source, kind poller.Kind) poller.SourceInfo {
	extractor := src.extractor
	if extractor == nil {
		extractor = RootArray
	}
	return poller.SourceInfo{
		Name:      src.name,
		Kind:      kind,
		URL:       src.url,
		Headers:   copyMap(src.headers),
		Timeout:   src.timeout,
		Extractor: poller.PayloadExtractor(extractor),
		Method:    src.method,
		Interval:  src.interval,
	}
}

func (mb *Mapboard) idColumns() map[string]string {
	cols := make(map[string]string)
	for _, src := range mb.gridSources {
		if src.idColumn != "" {
			cols[src.name] = src.idColumn
		}
	}
	return cols
}

// MarkerSource returns the marker source, if one is configured.
func (mb *Mapboard) MarkerSource() (Source, bool) {
	if mb.markerSource == nil {
		return Source{}, false
	}
	return *mb.markerSource, true
}

// GridSources returns a copy of the configured grid sources.
func (mb *Mapboard) GridSources() []Source {
	cp := make([]Source, len(mb.gridSources))
	copy(cp, mb.gridSources)
	return cp
}

// Port returns the configured HTTP port for the dashboard server.
func (mb *Mapboard) Port() int {
	return mb.port
}

// PollingInterval returns the configured default polling interval.
func (mb *Mapboard) PollingInterval() time.Duration {
	return mb.pollingInterval
}

// Projection returns the EPSG code of the map projection.
func (mb *Mapboard) Projection() int {
	return mb.projector.EPSG()
}

// consumer applies poll results to the views, one at a time.
type consumer struct {
	store     store.Store
	sync      *markers.Synchronizer
	idColumns map[string]string
	callbacks []func(Update)
	logger    *slog.Logger
	lastSeq   map[string]uint64
}

func newConsumer(st store.Store, s *markers.Synchronizer, idColumns map[string]string, callbacks []func(Update), logger *slog.Logger) *consumer {
	return &consumer{
		store:     st,
		sync:      s,
		idColumns: idColumns,
		callbacks: callbacks,
		logger:    logger,
		lastSeq:   make(map[string]uint64),
	}
}

// handle applies a result and notifies callbacks. Stale results are dropped
// without notification.
func (c *consumer) handle(ctx context.Context, result poller.FetchResult) {
	u, applied := c.apply(ctx, result)
	if !applied {
		return
	}
	for _, cb := range c.callbacks {
		invokeCallbackSafe(cb, u, c.logger)
	}
}

// apply refreshes the view fed by result. It reports false for a result that
// is not newer than the last one seen from the same source.
func (c *consumer) apply(ctx context.Context, result poller.FetchResult) (Update, bool) {
	if last, ok := c.lastSeq[result.Source]; ok && result.Seq <= last {
		c.logger.Debug("stale poll result dropped",
			"source", result.Source,
			"seq", result.Seq,
			"last_seq", last,
		)
		return Update{}, false
	}
	c.lastSeq[result.Source] = result.Seq

	u := Update{
		Source:    result.Source,
		Kind:      UpdateKind(result.Kind),
		Seq:       result.Seq,
		FetchedAt: result.FetchedAt,
		Latency:   result.Latency,
		Err:       result.Error,
	}

	if u.Err == nil {
		switch result.Kind {
		case poller.KindMarkers:
			u.Err = c.applyMarkers(ctx, result.Payload, &u)
		case poller.KindGrid:
			u.Err = c.applyGrid(result.Source, result.Payload, &u)
		default:
			u.Err = fmt.Errorf("unknown source kind %q", result.Kind)
		}
	}

	logAttrs := []any{
		"source", result.Source,
		"kind", result.Kind,
		"url", result.URL,
		"seq", result.Seq,
		"latency_ms", result.Latency.Milliseconds(),
	}
	if u.Err != nil {
		c.logger.Warn("poll failed", append(logAttrs, "error", u.Err.Error())...)
	} else {
		c.logger.Debug("poll applied", logAttrs...)
	}
	return u, true
}

func (c *consumer) applyMarkers(ctx context.Context, payload []byte, u *Update) error {
	tuples, err := tuple.Decode(payload)
	if err != nil {
		return fmt.Errorf("decode tuples: %w", err)
	}

	sum, err := c.sync.Sync(ctx, tuples)
	if err != nil {
		return fmt.Errorf("sync markers: %w", err)
	}
	u.Markers = MarkerStats{
		Tuples:  sum.Tuples,
		Created: sum.Created,
		Updated: sum.Updated,
		Removed: sum.Removed,
		Markers: sum.Markers,
		Layers:  sum.Layers,
	}

	snapshot, err := c.sync.Snapshot()
	if err != nil {
		return fmt.Errorf("encode markers: %w", err)
	}
	c.store.PublishMarkers(snapshot)
	return nil
}

func (c *consumer) applyGrid(name string, payload []byte, u *Update) error {
	set, err := store.NewRecordSet(name, payload, c.idColumns[name])
	if err != nil {
		return fmt.Errorf("grid %q: %w", name, err)
	}

	stored := c.store.ReplaceGrid(set)
	u.GridVersion = stored.Version
	u.Rows = len(stored.Rows)
	return nil
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Update), u Update, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"source", u.Source,
				"correlation_id", uuid.New().String(),
			)
		}
	}()
	cb(u)
}
