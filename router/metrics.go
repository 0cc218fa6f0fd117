package router

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("checkerls.router")

var (
	publishedDiagnostics metric.Int64Histogram
	storedNotes          metric.Int64Counter
	droppedEntries       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		publishedDiagnostics, err = meter.Int64Histogram(
			"checkerls_router_published_diagnostics",
			metric.WithDescription("Number of diagnostics per published file"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storedNotes, err = meter.Int64Counter(
			"checkerls_router_type_notes_total",
			metric.WithDescription("Total number of type information notes stored for hovers"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedEntries, err = meter.Int64Counter(
			"checkerls_router_dropped_entries_total",
			metric.WithDescription("Total number of batch entries that were not routed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRouted(ctx context.Context, diags, notes int) {
	if initMetrics() != nil {
		return
	}
	publishedDiagnostics.Record(ctx, int64(diags))
	storedNotes.Add(ctx, int64(notes))
}

func recordDropped(ctx context.Context, reason string, n int) {
	if initMetrics() != nil {
		return
	}
	droppedEntries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
