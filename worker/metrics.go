package worker

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("checkerls.worker")

var (
	spawnTotal       metric.Int64Counter
	degradedTotal    metric.Int64Counter
	submissionTotal  metric.Int64Counter
	submittedFiles   metric.Int64Histogram
	batchTotal       metric.Int64Counter
	decodeErrorTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics registers the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		spawnTotal, err = meter.Int64Counter(
			"checkerls_worker_spawns_total",
			metric.WithDescription("Total number of worker processes started"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		degradedTotal, err = meter.Int64Counter(
			"checkerls_worker_degraded_total",
			metric.WithDescription("Total number of times the supervisor became degraded"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		submissionTotal, err = meter.Int64Counter(
			"checkerls_worker_submissions_total",
			metric.WithDescription("Total number of check requests written to the worker"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		submittedFiles, err = meter.Int64Histogram(
			"checkerls_worker_submitted_files",
			metric.WithDescription("Number of files per check request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchTotal, err = meter.Int64Counter(
			"checkerls_worker_batches_total",
			metric.WithDescription("Total number of diagnostic batches decoded from worker output"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		decodeErrorTotal, err = meter.Int64Counter(
			"checkerls_worker_decode_errors_total",
			metric.WithDescription("Total number of worker output lines that failed to decode"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSpawn(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	spawnTotal.Add(ctx, 1)
}

func recordDegraded(ctx context.Context, reason string) {
	if initMetrics() != nil {
		return
	}
	degradedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordSubmission(ctx context.Context, files int, success bool) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	submissionTotal.Add(ctx, 1, attrs)
	submittedFiles.Record(ctx, int64(files), attrs)
}

func recordBatch(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	batchTotal.Add(ctx, 1)
}

func recordDecodeError(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	decodeErrorTotal.Add(ctx, 1)
}
