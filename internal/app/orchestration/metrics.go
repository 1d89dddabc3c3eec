package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// orchestrationMetrics implements Metrics over OpenTelemetry instruments.
type orchestrationMetrics struct {
	scansCompleted  metric.Int64Counter
	scansFailed     metric.Int64Counter
	scansCancelled  metric.Int64Counter
	scanDuration    metric.Float64Histogram
	credentialGaps  metric.Int64Counter
	netViolations   metric.Int64Counter
	activeSandboxes metric.Int64Gauge
}

const namespace = "orchestration"

// NewOrchestrationMetrics creates a new orchestration metrics instance.
func NewOrchestrationMetrics(mp metric.MeterProvider) (*orchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestrationMetrics)
	var err error

	if m.scansCompleted, err = meter.Int64Counter(
		"scans_completed_total",
		metric.WithDescription("Total number of scans that produced a normalized report"),
	); err != nil {
		return nil, err
	}

	if m.scansFailed, err = meter.Int64Counter(
		"scans_failed_total",
		metric.WithDescription("Total number of scans that terminated without a usable report"),
	); err != nil {
		return nil, err
	}

	if m.scansCancelled, err = meter.Int64Counter(
		"scans_cancelled_total",
		metric.WithDescription("Total number of scans cancelled while running"),
	); err != nil {
		return nil, err
	}

	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("End-to-end scan duration from slot acquisition to terminal state"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.credentialGaps, err = meter.Int64Counter(
		"credential_reconciliation_gaps_total",
		metric.WithDescription("Total number of credentials whose revocation exhausted retries"),
	); err != nil {
		return nil, err
	}

	if m.netViolations, err = meter.Int64Counter(
		"network_policy_violations_total",
		metric.WithDescription("Total number of outbound network attempts observed during isolation"),
	); err != nil {
		return nil, err
	}

	if m.activeSandboxes, err = meter.Int64Gauge(
		"active_sandboxes",
		metric.WithDescription("Current number of sandboxes in flight"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncScansCompleted(ctx context.Context, tenantID string) {
	m.scansCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *orchestrationMetrics) IncScansFailed(ctx context.Context, tenantID string, reason scanning.FailureReason) {
	m.scansFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("reason", string(reason)),
	))
}

func (m *orchestrationMetrics) IncScansCancelled(ctx context.Context, tenantID string) {
	m.scansCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *orchestrationMetrics) ObserveScanDuration(ctx context.Context, tenantID string, d time.Duration) {
	m.scanDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *orchestrationMetrics) IncCredentialReconciliationGaps(ctx context.Context) {
	m.credentialGaps.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncNetworkViolations(ctx context.Context, tenantID string) {
	m.netViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *orchestrationMetrics) SetActiveSandboxes(ctx context.Context, count int) {
	m.activeSandboxes.Record(ctx, int64(count))
}
