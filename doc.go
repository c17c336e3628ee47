// Package mapboard provides an embeddable live map and grid dashboard fed by
// polled JSON endpoints.
//
// A marker source serves tuples, JSON objects with an id, a WGS84 longitude
// and latitude, and optional layer, markerType and note fields. Every poll
// reconciles the map against the fresh tuple list: new tuples become markers,
// known ones move, missing ones are removed. Grid sources serve arrays of flat
// records that replace their grid whole on every poll.
//
// # Quick Start
//
//	trucks, _ := mapboard.NewSource("trucks", "https://fleet.example.com/positions")
//	mb, _ := mapboard.New(mapboard.WithMarkerSource(trucks))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	mb.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
//	depots, _ := mapboard.NewSourceMatrix("Depots",
//	    mapboard.WithURLTemplate("https://fleet.example.com/depots?region={{.region}}"),
//	    mapboard.WithDimensions(map[string][]string{"region": {"north", "south"}}),
//	)
//	mb, err := mapboard.New(
//	    mapboard.WithMarkerSource(trucks),
//	    mapboard.WithGridSources(depots...),
//	    mapboard.WithPollingInterval(5 * time.Second),
//	    mapboard.WithProjection(3857),
//	    mapboard.WithPort(9090),
//	)
//
// # Payload Extractors
//
// Extractors select the record array from a response body:
//
//   - [RootArray]: the body itself is the array (default)
//   - [FieldArray]: the array sits at a dot path inside nested objects
//   - [FirstMatch]: tries extractors in order
//
// # Polling Without a Dashboard
//
// [StartPolling] runs a single typed poll loop and hands every decoded
// response to a callback.
//
// # Architecture
//
//   - tuple: tuple decoding with field order preserved
//   - format: time, link and query-string helpers
//   - internal/poller: concurrent HTTP polling with worker pool
//   - internal/geomap: map model with layers, features and popups
//   - internal/markers: marker reconciliation
//   - internal/store: grid record sets with pub/sub for real-time updates
//   - internal/server: HTTP server with REST API and Server-Sent Events
//   - dashboard: Embedded web UI assets
package mapboard
