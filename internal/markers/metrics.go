package markers

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/jpalmerr/mapboard/internal/markers"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// syncMetrics counts reconciliation outcomes. Instruments that fail to
// register fall back to no-ops.
type syncMetrics struct {
	cycles   metric.Int64Counter
	created  metric.Int64Counter
	updated  metric.Int64Counter
	removed  metric.Int64Counter
	duration metric.Float64Histogram
}

func newSyncMetrics(m metric.Meter) *syncMetrics {
	sm := &syncMetrics{}
	var err error

	if sm.cycles, err = m.Int64Counter("mapboard.markers.cycles",
		metric.WithDescription("Reconciliation cycles run")); err != nil {
		sm.cycles = noop.Int64Counter{}
	}
	if sm.created, err = m.Int64Counter("mapboard.markers.created",
		metric.WithDescription("Markers created")); err != nil {
		sm.created = noop.Int64Counter{}
	}
	if sm.updated, err = m.Int64Counter("mapboard.markers.updated",
		metric.WithDescription("Markers moved or refreshed in place")); err != nil {
		sm.updated = noop.Int64Counter{}
	}
	if sm.removed, err = m.Int64Counter("mapboard.markers.removed",
		metric.WithDescription("Markers purged because their tuple disappeared")); err != nil {
		sm.removed = noop.Int64Counter{}
	}
	if sm.duration, err = m.Float64Histogram("mapboard.markers.cycle.duration",
		metric.WithDescription("Time spent in one reconciliation cycle"),
		metric.WithUnit("s")); err != nil {
		sm.duration = noop.Float64Histogram{}
	}
	return sm
}

func (sm *syncMetrics) record(ctx context.Context, s Summary) {
	sm.cycles.Add(ctx, 1)
	sm.created.Add(ctx, int64(s.Created))
	sm.updated.Add(ctx, int64(s.Updated))
	sm.removed.Add(ctx, int64(s.Removed))
	sm.duration.Record(ctx, s.Duration.Seconds())
}
