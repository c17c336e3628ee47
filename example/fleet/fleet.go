// Package fleet is a mock vehicle feed for the mapboard demos.
//
// It serves a slowly drifting fleet as tuples on /tuples, per-region depot
// records on /depots?region=<name> and a rotating alert list on /alerts.
package fleet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Vehicle is one mock tuple. Field order is the JSON order.
type Vehicle struct {
	ID         string  `json:"id"`
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Layer      string  `json:"layer,omitempty"`
	MarkerType string  `json:"markerType,omitempty"`
	Note       string  `json:"note,omitempty"`
	Speed      int     `json:"speed"`
	Driver     string  `json:"driver"`
}

var markerTypes = []string{"GREEN", "YELLOW", "RED", "BLUE", "WARNING", "AWARD"}

var drivers = []string{"Ann", "Bo", "Cy", "Dee", "Eli", "Fay", "Gus", "Hal"}

// Fleet is a mock fleet around a center point.
type Fleet struct {
	mu       sync.Mutex
	rng      *rand.Rand
	vehicles []Vehicle
	offline  map[string]bool
}

// New creates a fleet of size vehicles scattered around lon/lat.
func New(size int, lon, lat float64, seed int64) *Fleet {
	f := &Fleet{
		rng:     rand.New(rand.NewSource(seed)),
		offline: make(map[string]bool),
	}
	for i := 0; i < size; i++ {
		layer := "Trucks"
		if i%3 == 0 {
			layer = "Vans"
		}
		f.vehicles = append(f.vehicles, Vehicle{
			ID:         fmt.Sprintf("v%02d", i+1),
			Longitude:  lon + (f.rng.Float64()-0.5)*0.2,
			Latitude:   lat + (f.rng.Float64()-0.5)*0.2,
			Layer:      layer,
			MarkerType: markerTypes[i%len(markerTypes)],
			Driver:     drivers[i%len(drivers)],
		})
	}
	return f
}

// Step moves every vehicle a little and toggles one vehicle on or off line.
func (f *Fleet) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.vehicles {
		v := &f.vehicles[i]
		v.Longitude += (f.rng.Float64() - 0.5) * 0.002
		v.Latitude += (f.rng.Float64() - 0.5) * 0.002
		v.Speed = f.rng.Intn(90)
		v.Note = ""
		if v.Speed > 80 {
			v.Note = fmt.Sprintf("<b>%s</b> is speeding", v.Driver)
		}
	}

	if len(f.vehicles) > 0 {
		id := f.vehicles[f.rng.Intn(len(f.vehicles))].ID
		f.offline[id] = !f.offline[id]
	}
}

// Tuples returns the vehicles currently on line.
func (f *Fleet) Tuples() []Vehicle {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Vehicle, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		if !f.offline[v.ID] {
			out = append(out, v)
		}
	}
	return out
}

// Handler serves the mock feed. Every tuple request advances the fleet.
func (f *Fleet) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tuples", func(w http.ResponseWriter, r *http.Request) {
		f.Step()
		writeJSON(w, map[string]any{"data": f.Tuples()})
	})

	mux.HandleFunc("/depots", func(w http.ResponseWriter, r *http.Request) {
		region := r.URL.Query().Get("region")
		if region == "" {
			http.Error(w, "region required", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		depots := make([]map[string]any, 0, 3)
		for i := 1; i <= 3; i++ {
			depots = append(depots, map[string]any{
				"depot_id": fmt.Sprintf("%s-%d", region, i),
				"region":   region,
				"capacity": 10 * i,
				"parked":   f.rng.Intn(10 * i),
			})
		}
		writeJSON(w, depots)
	})

	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		var alerts []map[string]any
		for _, v := range f.Tuples() {
			if v.Speed > 60 {
				alerts = append(alerts, map[string]any{
					"id":      v.ID,
					"level":   level(v.Speed),
					"message": fmt.Sprintf("%s at %d km/h", v.Driver, v.Speed),
					"at":      time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
		if alerts == nil {
			alerts = []map[string]any{}
		}
		writeJSON(w, alerts)
	})

	return mux
}

func level(speed int) string {
	if speed > 80 {
		return "high"
	}
	return "medium"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("mock feed encode failed", "error", err)
	}
}
