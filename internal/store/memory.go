package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage with a publish-subscribe mechanism
// for real-time updates. Record sets are keyed by grid name, with each
// replacement discarding the previous set.
//
// Subscribers receive events via buffered channels (buffer size 100). Events
// are sent non-blocking; if a subscriber's buffer is full, the event is
// dropped for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu          sync.RWMutex
	grids       map[string]RecordSet
	markersSeq  uint64
	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grids:       make(map[string]RecordSet),
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// ReplaceGrid stores set under its name and notifies all subscribers.
//
// The version is one more than the replaced set's version (1 for a new grid),
// regardless of any version carried by set.
func (m *MemoryStore) ReplaceGrid(set RecordSet) RecordSet {
	m.mu.Lock()
	set.Version = m.grids[set.Name].Version + 1
	set.UpdatedAt = m.now()
	m.grids[set.Name] = set
	m.mu.Unlock()

	data, err := json.Marshal(set)
	if err != nil {
		// unreachable: rows hold validated JSON
		return set
	}
	m.notifySubscribers(Event{
		Kind:    EventGrid,
		Name:    set.Name,
		Version: set.Version,
		Data:    data,
	})
	return set
}

// Grid returns the current set of the named grid.
func (m *MemoryStore) Grid(name string) (RecordSet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.grids[name]
	return set, ok
}

// Grids returns a snapshot of all grid summaries, sorted by name.
func (m *MemoryStore) Grids() []GridSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]GridSummary, 0, len(m.grids))
	for _, set := range m.grids {
		out = append(out, set.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishMarkers sends a marker snapshot to all subscribers. Each call
// increments the marker version.
func (m *MemoryStore) PublishMarkers(geoJSON []byte) Event {
	m.mu.Lock()
	m.markersSeq++
	seq := m.markersSeq
	m.mu.Unlock()

	ev := Event{
		Kind:    EventMarkers,
		Version: seq,
		Data:    json.RawMessage(geoJSON),
	}
	m.notifySubscribers(ev)
	return ev
}

// Subscribe creates a new subscription and returns a channel for receiving events.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new events are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// events will be sent. Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the event to all active subscribers without
// blocking.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the event
		}
	}
}
