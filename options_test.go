package mapboard

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func mustSource(t *testing.T, name string) Source {
	t.Helper()
	src, err := NewSource(name, "http://localhost/"+name)
	if err != nil {
		t.Fatalf("NewSource(%q) error = %v", name, err)
	}
	return src
}

func TestNew_Defaults(t *testing.T) {
	mb, err := New(WithMarkerSource(mustSource(t, "trucks")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if mb.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", mb.Port())
	}
	if mb.PollingInterval() != 15*time.Second {
		t.Errorf("PollingInterval() = %v, want 15s", mb.PollingInterval())
	}
	if mb.Projection() != 3857 {
		t.Errorf("Projection() = %d, want 3857", mb.Projection())
	}
	if mb.maxConcurrency != 10 {
		t.Errorf("maxConcurrency = %d, want 10", mb.maxConcurrency)
	}
	if mb.defaultLayer != "Markers" {
		t.Errorf("defaultLayer = %q, want Markers", mb.defaultLayer)
	}
	if mb.initialZoom != 12 {
		t.Errorf("initialZoom = %d, want 12", mb.initialZoom)
	}
	if mb.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if src, ok := mb.MarkerSource(); !ok || src.Name() != "trucks" {
		t.Errorf("MarkerSource() = %v, %v", src, ok)
	}
}

func TestNew_Options(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	mb, err := New(
		WithGridSource(mustSource(t, "alerts")),
		WithGridSources(mustSource(t, "depots"), mustSource(t, "drivers")),
		WithPollingInterval(time.Second),
		WithPort(9090),
		WithMaxConcurrency(3),
		WithLogger(logger),
		WithTitle("Fleet"),
		WithProjection(4326),
		WithDefaultLayer("Vehicles"),
		WithInitialZoom(8),
		WithCORSOrigins("https://a.example", "https://b.example"),
		WithUpdateCallback(func(Update) {}),
		WithUpdateCallback(nil),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := len(mb.GridSources()); got != 3 {
		t.Errorf("len(GridSources()) = %d, want 3", got)
	}
	if _, ok := mb.MarkerSource(); ok {
		t.Error("MarkerSource() should be unset")
	}
	if mb.PollingInterval() != time.Second || mb.Port() != 9090 || mb.maxConcurrency != 3 {
		t.Errorf("interval/port/concurrency = %v/%d/%d", mb.PollingInterval(), mb.Port(), mb.maxConcurrency)
	}
	if mb.logger != logger {
		t.Error("logger not applied")
	}
	if mb.title != "Fleet" || mb.Projection() != 4326 || mb.defaultLayer != "Vehicles" || mb.initialZoom != 8 {
		t.Errorf("title/projection/layer/zoom = %q/%d/%q/%d", mb.title, mb.Projection(), mb.defaultLayer, mb.initialZoom)
	}
	if len(mb.corsOrigins) != 2 {
		t.Errorf("corsOrigins = %v", mb.corsOrigins)
	}
	if len(mb.updateCallbacks) != 1 {
		t.Errorf("len(updateCallbacks) = %d, want 1 (nil ignored)", len(mb.updateCallbacks))
	}
}

func TestNew_Errors(t *testing.T) {
	trucks := mustSource(t, "trucks")

	tests := []struct {
		name string
		opts []Option
	}{
		{"no sources", nil},
		{"second marker source", []Option{WithMarkerSource(trucks), WithMarkerSource(mustSource(t, "vans"))}},
		{"duplicate grid names", []Option{WithGridSources(mustSource(t, "a"), mustSource(t, "a"))}},
		{"grid named like marker source", []Option{WithMarkerSource(trucks), WithGridSource(trucks)}},
		{"zero polling interval", []Option{WithMarkerSource(trucks), WithPollingInterval(0)}},
		{"port too low", []Option{WithMarkerSource(trucks), WithPort(0)}},
		{"port too high", []Option{WithMarkerSource(trucks), WithPort(70000)}},
		{"zero concurrency", []Option{WithMarkerSource(trucks), WithMaxConcurrency(0)}},
		{"nil logger", []Option{WithMarkerSource(trucks), WithLogger(nil)}},
		{"unknown projection", []Option{WithMarkerSource(trucks), WithProjection(-1)}},
		{"empty default layer", []Option{WithMarkerSource(trucks), WithDefaultLayer("")}},
		{"zoom out of range", []Option{WithMarkerSource(trucks), WithInitialZoom(40)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestMapboard_GridSourcesReturnsCopy(t *testing.T) {
	mb, err := New(WithGridSource(mustSource(t, "alerts")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sources := mb.GridSources()
	sources[0] = mustSource(t, "other")

	if got := mb.GridSources()[0].Name(); got != "alerts" {
		t.Errorf("GridSources()[0].Name() = %q after mutation, want alerts", got)
	}
}

func TestToPollerSources(t *testing.T) {
	trucks, err := NewSource("trucks", "http://localhost/t", WithInterval(2*time.Second), WithHeaders("A", "1"))
	if err != nil {
		t.Fatal(err)
	}
	alerts, err := NewSource("alerts", "http://localhost/a", WithIDColumn("id"))
	if err != nil {
		t.Fatal(err)
	}

	mb, err := New(WithMarkerSource(trucks), WithGridSource(alerts))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := mb.toPollerSources()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "trucks" || got[0].Kind != "markers" || got[0].Interval != 2*time.Second || got[0].Headers["A"] != "1" {
		t.Errorf("marker source = %+v", got[0])
	}
	if got[1].Name != "alerts" || got[1].Kind != "grid" {
		t.Errorf("grid source = %+v", got[1])
	}
	for _, s := range got {
		if s.Extractor == nil {
			t.Errorf("%s: extractor should default to RootArray", s.Name)
		}
	}

	if cols := mb.idColumns(); cols["alerts"] != "id" || len(cols) != 1 {
		t.Errorf("idColumns() = %v", cols)
	}
}
