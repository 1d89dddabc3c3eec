package admission

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// admissionMetrics implements Metrics over OpenTelemetry instruments.
type admissionMetrics struct {
	scansAdmitted metric.Int64Counter
	scansQueued   metric.Int64Counter
	scansRejected metric.Int64Counter
	queueDepth    metric.Int64Gauge
	runningScans  metric.Int64Gauge
}

const namespace = "admission"

// NewAdmissionMetrics creates a new admission metrics instance.
func NewAdmissionMetrics(mp metric.MeterProvider) (*admissionMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(admissionMetrics)
	var err error

	if m.scansAdmitted, err = meter.Int64Counter(
		"scans_admitted_total",
		metric.WithDescription("Total number of scan requests admitted immediately"),
	); err != nil {
		return nil, err
	}

	if m.scansQueued, err = meter.Int64Counter(
		"scans_queued_total",
		metric.WithDescription("Total number of scan requests queued behind capacity"),
	); err != nil {
		return nil, err
	}

	if m.scansRejected, err = meter.Int64Counter(
		"scans_rejected_total",
		metric.WithDescription("Total number of structurally invalid scan requests rejected"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64Gauge(
		"queue_depth",
		metric.WithDescription("Current number of queued scan requests across all tenants"),
	); err != nil {
		return nil, err
	}

	if m.runningScans, err = meter.Int64Gauge(
		"running_scans",
		metric.WithDescription("Current number of scans holding an admission slot"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *admissionMetrics) IncScansAdmitted(ctx context.Context, tenantID string) {
	m.scansAdmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *admissionMetrics) IncScansQueued(ctx context.Context, tenantID string) {
	m.scansQueued.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *admissionMetrics) IncScansRejected(ctx context.Context, tenantID string) {
	m.scansRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *admissionMetrics) SetQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

func (m *admissionMetrics) SetRunningScans(ctx context.Context, count int) {
	m.runningScans.Record(ctx, int64(count))
}
