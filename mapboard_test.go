package mapboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/mapboard/internal/geomap"
	"github.com/jpalmerr/mapboard/internal/markers"
	"github.com/jpalmerr/mapboard/internal/poller"
	"github.com/jpalmerr/mapboard/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestConsumer(t *testing.T, callbacks ...func(Update)) (*consumer, *store.MemoryStore, *markers.Synchronizer) {
	t.Helper()
	p, err := geomap.NewProjector(geomap.WebMercatorEPSG)
	if err != nil {
		t.Fatalf("NewProjector() error = %v", err)
	}
	st := store.NewMemoryStore()
	s := markers.New(geomap.New(p, ""), markers.WithLogger(discardLogger()))
	c := newConsumer(st, s, map[string]string{"alerts": "id"}, callbacks, discardLogger())
	return c, st, s
}

func markerResult(seq uint64, payload string) poller.FetchResult {
	return poller.FetchResult{
		Source:  "trucks",
		Kind:    poller.KindMarkers,
		URL:     "http://localhost/trucks",
		Seq:     seq,
		Payload: []byte(payload),
	}
}

func gridResult(seq uint64, payload string) poller.FetchResult {
	return poller.FetchResult{
		Source:  "alerts",
		Kind:    poller.KindGrid,
		URL:     "http://localhost/alerts",
		Seq:     seq,
		Payload: []byte(payload),
	}
}

func TestConsumer_AppliesMarkers(t *testing.T) {
	c, st, s := newTestConsumer(t)
	events := st.Subscribe()
	defer st.Unsubscribe(events)

	u, applied := c.apply(context.Background(), markerResult(1,
		`[{"id":1,"longitude":5,"latitude":6},{"id":2,"longitude":7,"latitude":8,"layer":"Trucks"}]`))
	if !applied {
		t.Fatal("apply() should apply the first result")
	}
	if u.Err != nil {
		t.Fatalf("Err = %v", u.Err)
	}
	if u.Kind != UpdateMarkers || u.Markers.Created != 2 || u.Markers.Markers != 2 || u.Markers.Layers != 2 {
		t.Errorf("Update = %+v", u)
	}

	ids := s.IDs()
	if len(ids) != 2 || ids[0] != "Markers:1" || ids[1] != "Trucks:2" {
		t.Errorf("IDs() = %v", ids)
	}

	select {
	case ev := <-events:
		if ev.Kind != store.EventMarkers || ev.Version != 1 {
			t.Errorf("event = %s v%d, want markers v1", ev.Kind, ev.Version)
		}
		var fc struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(ev.Data, &fc); err != nil {
			t.Fatalf("event data: %v", err)
		}
		if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
			t.Errorf("event data = %s", ev.Data)
		}
	default:
		t.Fatal("expected a markers event")
	}
}

func TestConsumer_DecodeErrorKeepsMarkers(t *testing.T) {
	c, st, s := newTestConsumer(t)
	c.apply(context.Background(), markerResult(1, `[{"id":1,"longitude":5,"latitude":6}]`))

	events := st.Subscribe()
	defer st.Unsubscribe(events)

	u, _ := c.apply(context.Background(), markerResult(2, `[{"id":1,"longitude":5}]`))
	if u.Err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(u.Err.Error(), "decode tuples") {
		t.Errorf("Err = %v", u.Err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want previous marker kept", s.Len())
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %s", ev.Kind)
	default:
	}
}

func TestConsumer_FetchErrorChangesNothing(t *testing.T) {
	c, _, s := newTestConsumer(t)
	c.apply(context.Background(), markerResult(1, `[{"id":1,"longitude":5,"latitude":6}]`))

	failed := markerResult(2, "")
	failed.Error = errors.New("connection refused")
	u, applied := c.apply(context.Background(), failed)

	if !applied || u.Err == nil || u.OK() {
		t.Errorf("Update = %+v, applied = %v", u, applied)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestConsumer_DropsStaleResults(t *testing.T) {
	c, _, s := newTestConsumer(t)

	c.apply(context.Background(), markerResult(2, `[{"id":"new","longitude":5,"latitude":6}]`))
	if _, applied := c.apply(context.Background(), markerResult(1, `[{"id":"old","longitude":5,"latitude":6}]`)); applied {
		t.Error("older result should be dropped")
	}
	if _, applied := c.apply(context.Background(), markerResult(2, `[]`)); applied {
		t.Error("repeated sequence number should be dropped")
	}

	if ids := s.IDs(); len(ids) != 1 || ids[0] != "Markers:new" {
		t.Errorf("IDs() = %v, want only the newest fetch applied", ids)
	}

	// sequence numbers are per source
	if _, applied := c.apply(context.Background(), gridResult(1, `[]`)); !applied {
		t.Error("grid seq 1 should apply independently of marker seqs")
	}
}

func TestConsumer_AppliesGrid(t *testing.T) {
	c, st, _ := newTestConsumer(t)

	u, _ := c.apply(context.Background(), gridResult(1, `[{"id":1,"level":"high"},{"id":2,"level":"low"}]`))
	if u.Err != nil {
		t.Fatalf("Err = %v", u.Err)
	}
	if u.Kind != UpdateGrid || u.GridVersion != 1 || u.Rows != 2 {
		t.Errorf("Update = %+v", u)
	}

	u, _ = c.apply(context.Background(), gridResult(2, `[{"id":3,"level":"mid"}]`))
	if u.GridVersion != 2 || u.Rows != 1 {
		t.Errorf("Update = %+v, want version 2 with 1 row", u)
	}

	set, ok := st.Grid("alerts")
	if !ok {
		t.Fatal("grid not stored")
	}
	if set.IDColumn != "id" || len(set.Rows) != 1 || string(set.Rows[0]["id"]) != "3" {
		t.Errorf("set = %+v", set)
	}
}

func TestConsumer_BadGridKeepsPrevious(t *testing.T) {
	c, st, _ := newTestConsumer(t)
	c.apply(context.Background(), gridResult(1, `[{"id":1}]`))

	u, _ := c.apply(context.Background(), gridResult(2, `{"id":1}`))
	if !errors.Is(u.Err, store.ErrNotRecordArray) {
		t.Errorf("Err = %v, want ErrNotRecordArray", u.Err)
	}

	set, _ := st.Grid("alerts")
	if set.Version != 1 || len(set.Rows) != 1 {
		t.Errorf("set = v%d with %d rows, want previous set", set.Version, len(set.Rows))
	}
}

func TestConsumer_CallbacksInOrder(t *testing.T) {
	var order []string
	c, _, _ := newTestConsumer(t,
		func(Update) { order = append(order, "first") },
		func(Update) { panic("boom") },
		func(u Update) { order = append(order, "third:"+u.Source) },
	)

	c.handle(context.Background(), markerResult(1, `[]`))
	c.handle(context.Background(), markerResult(1, `[]`)) // stale: no callbacks

	want := []string{"first", "third:trucks"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestInvokeCallbackSafe_LogsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	invokeCallbackSafe(func(Update) { panic("boom") }, Update{Source: "trucks"}, logger)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output = %q: %v", buf.String(), err)
	}
	if entry["msg"] != "update callback panicked" || entry["source"] != "trucks" || entry["panic"] != "boom" {
		t.Errorf("log entry = %v", entry)
	}
	if id, _ := entry["correlation_id"].(string); len(id) != 36 {
		t.Errorf("correlation_id = %q, want a uuid", id)
	}
}

func tupleServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	ts := tupleServer(t, `[{"id":1,"longitude":5,"latitude":6}]`)

	mb, err := New(
		WithMarkerSource(mustSourceURL(t, "trucks", ts.URL)),
		WithPort(freePort(t)),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mb.Start(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	mb, err := New(
		WithMarkerSource(mustSource(t, "trucks")),
		WithPort(freePort(t)),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := mb.Start(ctx); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	mb, err := New(
		WithMarkerSource(mustSource(t, "trucks")),
		WithPort(ln.Addr().(*net.TCPAddr).Port),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = mb.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "failed to start HTTP server") {
		t.Errorf("Start() error = %v, want bind failure", err)
	}
}

func mustSourceURL(t *testing.T, name, rawURL string, opts ...SourceOption) Source {
	t.Helper()
	src, err := NewSource(name, rawURL, opts...)
	if err != nil {
		t.Fatalf("NewSource(%q) error = %v", name, err)
	}
	return src
}

// TestStart_ServesPolledData runs the whole pipeline: poll, reconcile, store
// and serve over HTTP.
func TestStart_ServesPolledData(t *testing.T) {
	tuples := tupleServer(t, `{"data":[{"id":1,"longitude":5,"latitude":6,"note":"Depot"}]}`)
	alerts := tupleServer(t, `[{"id":"a1","level":"high"}]`)
	port := freePort(t)

	updates := make(chan Update, 16)
	mb, err := New(
		WithMarkerSource(mustSourceURL(t, "trucks", tuples.URL, WithExtractor(FieldArray("data")))),
		WithGridSource(mustSourceURL(t, "alerts", alerts.URL, WithIDColumn("id"))),
		WithPort(port),
		WithLogger(discardLogger()),
		WithUpdateCallback(func(u Update) {
			select {
			case updates <- u:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mb.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	seen := map[UpdateKind]bool{}
	for len(seen) < 2 {
		select {
		case u := <-updates:
			if u.Err != nil {
				t.Fatalf("update %s: %v", u.Source, u.Err)
			}
			seen[u.Kind] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for updates, got %v", seen)
		}
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var body []byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/api/markers")
		if err == nil {
			body, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET /api/markers failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(string(body), `"Markers:1"`) {
		t.Errorf("/api/markers = %s, want marker Markers:1", body)
	}

	resp, err := http.Post(base+"/api/markers/Markers:1/popup", "application/json", nil)
	if err != nil {
		t.Fatalf("POST popup: %v", err)
	}
	popup, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(popup), "Depot") {
		t.Errorf("popup = %d %s", resp.StatusCode, popup)
	}

	resp, err = http.Get(base + "/api/grids/alerts")
	if err != nil {
		t.Fatalf("GET grid: %v", err)
	}
	var set store.RecordSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	resp.Body.Close()
	if set.IDColumn != "id" || len(set.Rows) != 1 || set.Version == 0 {
		t.Errorf("grid = %+v", set)
	}
}

func TestStart_CallbacksNotConcurrent(t *testing.T) {
	ts := tupleServer(t, `[]`)

	var mu sync.Mutex
	inside := 0
	overlapped := false
	calls := 0

	cb := func(Update) {
		mu.Lock()
		inside++
		if inside > 1 {
			overlapped = true
		}
		calls++
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inside--
		mu.Unlock()
	}

	var sources []Source
	for i := 0; i < 5; i++ {
		sources = append(sources, mustSourceURL(t, fmt.Sprintf("grid-%d", i), ts.URL))
	}

	mb, err := New(
		WithGridSources(sources...),
		WithPort(freePort(t)),
		WithLogger(discardLogger()),
		WithUpdateCallback(cb),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = mb.Start(ctx)

	mu.Lock()
	defer mu.Unlock()
	if calls < len(sources) {
		t.Errorf("calls = %d, want at least %d", calls, len(sources))
	}
	if overlapped {
		t.Error("callbacks ran concurrently")
	}
}
