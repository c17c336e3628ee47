package mapboard

import "time"

// UpdateKind tells which view an [Update] refreshed.
type UpdateKind string

const (
	// UpdateMarkers is an update of the marker map.
	UpdateMarkers UpdateKind = "markers"

	// UpdateGrid is an update of one grid.
	UpdateGrid UpdateKind = "grid"
)

// String returns the string representation of the kind.
func (k UpdateKind) String() string {
	return string(k)
}

// MarkerStats describes one marker reconciliation cycle.
type MarkerStats struct {
	Tuples  int
	Created int
	Updated int
	Removed int
	Markers int
	Layers  int
}

// Update holds the outcome of applying a single poll.
//
// Update is delivered to callbacks registered with [WithUpdateCallback]
// after the view has been refreshed.
type Update struct {
	// Source is the name of the polled source.
	Source string

	// Kind is the view the source feeds.
	Kind UpdateKind

	// Seq is the per-source poll sequence number, starting at 1.
	Seq uint64

	// FetchedAt is when the poll was issued.
	FetchedAt time.Time

	// Latency is the time taken to complete the HTTP request.
	Latency time.Duration

	// Err is the poll, extraction or decoding error. When set, the view
	// kept its previous state.
	Err error

	// Markers is set for successful [UpdateMarkers] updates.
	Markers MarkerStats

	// GridVersion and Rows are set for successful [UpdateGrid] updates.
	GridVersion uint64
	Rows        int
}

// OK reports whether the update refreshed its view.
func (u Update) OK() bool {
	return u.Err == nil
}
