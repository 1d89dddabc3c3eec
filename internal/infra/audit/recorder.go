// Package audit implements the buffered audit recorder: recording never
// blocks or fails the calling operation, persistence retries happen in the
// background, and sustained loss surfaces as an alert metric.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/scanforge/internal/domain/audit"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

var _ audit.Recorder = (*BufferedRecorder)(nil)

// RecorderMetrics defines the telemetry the recorder emits about itself.
type RecorderMetrics interface {
	IncRecordsWritten(ctx context.Context)
	IncRecordsDropped(ctx context.Context)
}

// BufferedRecorder accepts records on a bounded channel and persists them on
// a background goroutine with bounded retries. When the buffer is full or a
// record exhausts its retries, the record is dropped and counted — the
// calling scan is never failed by its own audit trail.
type BufferedRecorder struct {
	store   audit.Store
	records chan audit.Record

	wg       sync.WaitGroup
	shutdown context.CancelFunc

	logger  *logger.Logger
	metrics RecorderMetrics
}

// NewBufferedRecorder starts a recorder draining into store. bufSize bounds
// how many records may be in flight before new ones are dropped.
func NewBufferedRecorder(store audit.Store, bufSize int, log *logger.Logger, metrics RecorderMetrics) *BufferedRecorder {
	if bufSize <= 0 {
		bufSize = 1024
	}
	drainCtx, cancel := context.WithCancel(context.Background())
	r := &BufferedRecorder{
		store:    store,
		records:  make(chan audit.Record, bufSize),
		shutdown: cancel,
		logger:   log.With("component", "audit_recorder"),
		metrics:  metrics,
	}
	r.wg.Add(1)
	go r.drain(drainCtx)
	return r
}

// Record enqueues the record without blocking. A full buffer drops the record
// and raises the drop counter.
func (r *BufferedRecorder) Record(ctx context.Context, rec audit.Record) {
	select {
	case r.records <- rec:
	default:
		r.metrics.IncRecordsDropped(ctx)
		r.logger.Error(ctx, "Audit buffer full, record dropped",
			"scan_id", rec.ScanID, "action", rec.Action)
	}
}

// Close stops accepting records, flushes the buffer, and waits for the drain
// goroutine to finish.
func (r *BufferedRecorder) Close() {
	close(r.records)
	r.wg.Wait()
	r.shutdown()
}

func (r *BufferedRecorder) drain(ctx context.Context) {
	defer r.wg.Done()
	for rec := range r.records {
		r.persist(ctx, rec)
	}
}

// persist writes one record with bounded exponential backoff. Exhaustion
// drops the record; the audit trail is best-effort by contract.
func (r *BufferedRecorder) persist(ctx context.Context, rec audit.Record) {
	op := func() error { return r.store.Append(ctx, rec) }

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		r.metrics.IncRecordsDropped(ctx)
		r.logger.Error(ctx, "Audit record dropped after retries",
			"error", err, "scan_id", rec.ScanID, "action", rec.Action)
		return
	}
	r.metrics.IncRecordsWritten(ctx)
}

// recorderMetrics implements RecorderMetrics over OpenTelemetry instruments.
type recorderMetrics struct {
	written metric.Int64Counter
	dropped metric.Int64Counter
}

// NewRecorderMetrics creates a new audit recorder metrics instance.
func NewRecorderMetrics(mp metric.MeterProvider) (*recorderMetrics, error) {
	meter := mp.Meter("audit_recorder", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(recorderMetrics)
	var err error

	if m.written, err = meter.Int64Counter(
		"audit_records_written_total",
		metric.WithDescription("Total number of audit records persisted"),
	); err != nil {
		return nil, err
	}

	if m.dropped, err = meter.Int64Counter(
		"audit_records_dropped_total",
		metric.WithDescription("Total number of audit records lost to buffer overflow or retry exhaustion"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *recorderMetrics) IncRecordsWritten(ctx context.Context) { m.written.Add(ctx, 1) }
func (m *recorderMetrics) IncRecordsDropped(ctx context.Context) { m.dropped.Add(ctx, 1) }
