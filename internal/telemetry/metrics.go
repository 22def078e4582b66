// Package telemetry provides OpenTelemetry instrumentation for the HMS server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BootMetricsMeterName is the name used for the boot metrics meter
const BootMetricsMeterName = "github.com/stacklok/hms-server/boot"

// BootMetrics holds the OpenTelemetry instruments for the boot sequence.
// A nil *BootMetrics is valid and records nothing.
type BootMetrics struct {
	syncOutcomes metric.Int64Counter
	retries      metric.Int64Counter
	lockWait     metric.Float64Histogram
	seedRecords  metric.Int64Counter
	faults       metric.Int64Counter
	bootDuration metric.Float64Histogram
}

// NewBootMetrics creates the boot instruments on provider.
// If provider is nil, it returns nil (no-op metrics).
func NewBootMetrics(provider metric.MeterProvider) (*BootMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(BootMetricsMeterName)

	syncOutcomes, err := meter.Int64Counter(
		"hms_boot_schema_sync_total",
		metric.WithDescription("Schema synchronization results by model and outcome"),
		metric.WithUnit("{model}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"hms_boot_retries_total",
		metric.WithDescription("Operations retried after a transient database lock conflict"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	lockWait, err := meter.Float64Histogram(
		"hms_boot_lock_wait_seconds",
		metric.WithDescription("Time spent waiting for the migration lock"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	seedRecords, err := meter.Int64Counter(
		"hms_boot_seed_records_total",
		metric.WithDescription("Baseline records handled by the seeder by table and outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	faults, err := meter.Int64Counter(
		"hms_boot_faults_total",
		metric.WithDescription("Boot failures by class and severity"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	bootDuration, err := meter.Float64Histogram(
		"hms_boot_duration_seconds",
		metric.WithDescription("Duration of the boot sequence in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &BootMetrics{
		syncOutcomes: syncOutcomes,
		retries:      retries,
		lockWait:     lockWait,
		seedRecords:  seedRecords,
		faults:       faults,
		bootDuration: bootDuration,
	}, nil
}

// RecordSyncOutcome counts one model synchronization result
func (m *BootMetrics) RecordSyncOutcome(ctx context.Context, model, outcome string) {
	if m == nil || m.syncOutcomes == nil {
		return
	}
	m.syncOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

// RecordRetry counts one retried operation
func (m *BootMetrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordLockWait records how long acquiring the migration lock took
func (m *BootMetrics) RecordLockWait(ctx context.Context, backend string, wait time.Duration, acquired bool) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Record(ctx, wait.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("acquired", acquired),
	))
}

// RecordSeed counts one seeded record
func (m *BootMetrics) RecordSeed(ctx context.Context, table, outcome string) {
	if m == nil || m.seedRecords == nil {
		return
	}
	m.seedRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("outcome", outcome),
	))
}

// RecordFault counts one classified failure
func (m *BootMetrics) RecordFault(ctx context.Context, class, severity string) {
	if m == nil || m.faults == nil {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("severity", severity),
	))
}

// RecordBootDuration records the duration of a boot sequence
func (m *BootMetrics) RecordBootDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.bootDuration == nil {
		return
	}
	m.bootDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
