package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/mapboard/format"
)

// ErrNotRecordArray is returned when a grid payload is not a JSON array of
// objects.
var ErrNotRecordArray = errors.New("grid payload is not a JSON array of objects")

// Row is one flat record of a grid, with values as raw JSON.
type Row map[string]json.RawMessage

// RecordSet is a snapshot of one grid.
//
// A RecordSet is never modified after it is handed to a [Store]; a new poll
// produces a new set that replaces the old one whole.
type RecordSet struct {
	// Name identifies the grid.
	Name string `json:"name"`

	// IDColumn optionally names the column clients use as row identity.
	IDColumn string `json:"id_column,omitempty"`

	// Columns is the union of all record keys, in first-seen order.
	Columns []string `json:"columns"`

	// Rows holds the records in payload order.
	Rows []Row `json:"rows"`

	// Version increments on every replacement, starting at 1.
	Version uint64 `json:"version"`

	// UpdatedAt is when the set was stored.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecordSet builds an unversioned record set from a JSON array of objects.
//
// Columns are collected in the order keys first appear across the records.
// An empty array is valid and yields a set with no rows or columns.
func NewRecordSet(name string, payload []byte, idColumn string) (RecordSet, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return RecordSet{}, ErrNotRecordArray
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return RecordSet{}, fmt.Errorf("%w: %v", ErrNotRecordArray, err)
	}

	set := RecordSet{
		Name:     name,
		IDColumn: idColumn,
		Columns:  []string{},
		Rows:     make([]Row, 0, len(elems)),
	}
	seen := make(map[string]struct{})

	for i, raw := range elems {
		keys, err := objectKeys(raw)
		if err != nil {
			return RecordSet{}, fmt.Errorf("%w: record[%d]: %v", ErrNotRecordArray, i, err)
		}
		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return RecordSet{}, fmt.Errorf("%w: record[%d]: %v", ErrNotRecordArray, i, err)
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			set.Columns = append(set.Columns, k)
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

// Summary returns the listing form of the set.
func (s RecordSet) Summary() GridSummary {
	return GridSummary{
		Name:      s.Name,
		Version:   s.Version,
		Rows:      len(s.Rows),
		UpdatedAt: s.UpdatedAt,
		Updated:   format.DateTime(float64(s.UpdatedAt.Unix()), time.UTC),
	}
}

// objectKeys returns the top-level keys of a JSON object in source order.
func objectKeys(obj []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// GridSummary is the listing entry of a grid.
type GridSummary struct {
	Name      string    `json:"name"`
	Version   uint64    `json:"version"`
	Rows      int       `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`

	// Updated is UpdatedAt for display, in UTC.
	Updated string `json:"updated"`
}

// EventKind identifies what changed.
type EventKind string

const (
	// EventGrid is published after a grid replacement.
	EventGrid EventKind = "grid"

	// EventMarkers is published after a marker reconciliation cycle.
	EventMarkers EventKind = "markers"
)

// Event is a change notification.
type Event struct {
	// Kind is the event type, used as the SSE event name.
	Kind EventKind `json:"kind"`

	// Name is the grid name, or empty for marker events.
	Name string `json:"name,omitempty"`

	// Version is the grid version or the marker cycle counter.
	Version uint64 `json:"version"`

	// Data is the JSON body sent to clients: the full record set for grid
	// events, the GeoJSON feature collection for marker events.
	Data json.RawMessage `json:"data"`
}

// Store defines the interface for grid storage and change subscriptions.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// ReplaceGrid stores set in place of any previous set with the same
	// name, stamps its version and update time, and notifies subscribers.
	// The stored set is returned.
	ReplaceGrid(set RecordSet) RecordSet

	// Grid returns the current set of the named grid.
	Grid(name string) (RecordSet, bool)

	// Grids returns summaries of all grids, sorted by name.
	Grids() []GridSummary

	// PublishMarkers notifies subscribers of a new marker snapshot.
	PublishMarkers(geoJSON []byte) Event

	// Subscribe returns a channel that receives events.
	// The returned channel has a buffer; slow consumers may miss events.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
