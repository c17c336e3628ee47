package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/mapboard"
	"github.com/jpalmerr/mapboard/example/fleet"
	"github.com/jpalmerr/mapboard/format"
)

type alert struct {
	ID      string `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func main() {
	// mock feed around Berlin
	feed := fleet.New(12, 13.40, 52.52, time.Now().UnixNano())
	go func() {
		if err := http.ListenAndServe(":9999", feed.Handler()); err != nil {
			slog.Error("mock feed stopped", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	trucks, err := mapboard.NewSource("fleet", "http://localhost:9999/tuples",
		mapboard.WithExtractor(mapboard.FieldArray("data")),
		mapboard.WithInterval(2*time.Second),
	)
	if err != nil {
		slog.Error("failed to create marker source", "error", err)
		os.Exit(1)
	}

	alerts, err := mapboard.NewSource("alerts", "http://localhost:9999/alerts",
		mapboard.WithIDColumn("id"),
	)
	if err != nil {
		slog.Error("failed to create alert grid", "error", err)
		os.Exit(1)
	}

	// one grid per region from one declaration
	depots, err := mapboard.NewSourceMatrix("Depots",
		mapboard.WithURLTemplate("http://localhost:9999/depots?region={{.region}}"),
		mapboard.WithDimensions(map[string][]string{
			"region": {"north", "south"},
		}),
		mapboard.WithMatrixIDColumn("depot_id"),
		mapboard.WithMatrixInterval(30*time.Second),
	)
	if err != nil {
		slog.Error("failed to create depot grids", "error", err)
		os.Exit(1)
	}

	mb, err := mapboard.New(
		mapboard.WithTitle("Fleet demo"),
		mapboard.WithMarkerSource(trucks),
		mapboard.WithGridSource(alerts),
		mapboard.WithGridSources(depots...),
		mapboard.WithPollingInterval(5*time.Second),
		mapboard.WithPort(8080),
		mapboard.WithUpdateCallback(func(u mapboard.Update) {
			if u.Kind == mapboard.UpdateMarkers && u.OK() && (u.Markers.Created > 0 || u.Markers.Removed > 0) {
				slog.Info("fleet changed",
					"created", u.Markers.Created,
					"removed", u.Markers.Removed,
					"fetched_at", format.DateTimeMillis(float64(u.FetchedAt.UnixMilli()), nil),
				)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create mapboard", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Mapboard demo")
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  Markers: 12 mock vehicles in 2 layers, 2s interval")
	fmt.Println("  Grids:   alerts + 2 depot regions via a source matrix")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// side channel outside the dashboard: count high alerts on the console
	cancelAlerts, err := mapboard.StartPolling(ctx, "http://localhost:9999/alerts", 10*time.Second,
		func(alerts []alert) {
			high := 0
			for _, a := range alerts {
				if a.Level == "high" {
					high++
				}
			}
			slog.Info("alert check", "total", len(alerts), "high", high,
				"at", format.Time(float64(time.Now().Unix()), nil))
		},
	)
	if err != nil {
		slog.Error("failed to start alert polling", "error", err)
		os.Exit(1)
	}
	defer cancelAlerts()

	if err := mb.Start(ctx); err != nil {
		slog.Error("mapboard error", "error", err)
		os.Exit(1)
	}
}
