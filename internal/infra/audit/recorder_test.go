package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainaudit "github.com/ahrav/scanforge/internal/domain/audit"
	auditmemory "github.com/ahrav/scanforge/internal/infra/storage/audit/memory"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

type countingMetrics struct {
	written atomic.Int64
	dropped atomic.Int64
}

func (m *countingMetrics) IncRecordsWritten(context.Context) { m.written.Add(1) }
func (m *countingMetrics) IncRecordsDropped(context.Context) { m.dropped.Add(1) }

func testRecord(scanID uuid.UUID) domainaudit.Record {
	return domainaudit.NewRecord(
		scanID, domainaudit.ActorSystem, domainaudit.ActionScanAdmitted,
		"https://github.com/acme/widgets", domainaudit.OutcomeSuccess, "",
	)
}

func TestBufferedRecorder_PersistsRecords(t *testing.T) {
	t.Parallel()

	store := auditmemory.NewAuditStore()
	metrics := &countingMetrics{}
	recorder := NewBufferedRecorder(store, 16, logger.Noop(), metrics)

	scanID := uuid.New()
	recorder.Record(context.Background(), testRecord(scanID))
	recorder.Record(context.Background(), testRecord(scanID))
	recorder.Close()

	assert.Len(t, store.RecordsFor(scanID), 2)
	assert.Equal(t, int64(2), metrics.written.Load())
	assert.Equal(t, int64(0), metrics.dropped.Load())
}

func TestBufferedRecorder_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	store := auditmemory.NewAuditStore()
	store.FailNext(errors.New("connection reset"))
	metrics := &countingMetrics{}
	recorder := NewBufferedRecorder(store, 16, logger.Noop(), metrics)

	scanID := uuid.New()
	recorder.Record(context.Background(), testRecord(scanID))
	recorder.Close()

	require.Len(t, store.RecordsFor(scanID), 1, "record survives one transient append failure")
	assert.Equal(t, int64(1), metrics.written.Load())
	assert.Equal(t, int64(0), metrics.dropped.Load())
}

func TestBufferedRecorder_NeverBlocksCaller(t *testing.T) {
	t.Parallel()

	// A one-slot buffer with an always-failing store: the drain goroutine is
	// stuck retrying, so further records overflow. Record must still return
	// immediately and count the drops.
	store := &blockedStore{release: make(chan struct{})}
	metrics := &countingMetrics{}
	recorder := NewBufferedRecorder(store, 1, logger.Noop(), metrics)

	scanID := uuid.New()
	start := time.Now()
	for i := 0; i < 5; i++ {
		recorder.Record(context.Background(), testRecord(scanID))
	}
	assert.Less(t, time.Since(start), time.Second, "recording never blocks the caller")

	assert.Eventually(t, func() bool {
		return metrics.dropped.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	close(store.release)
	recorder.Close()
}

// blockedStore stalls every Append until released.
type blockedStore struct{ release chan struct{} }

func (s *blockedStore) Append(ctx context.Context, _ domainaudit.Record) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
