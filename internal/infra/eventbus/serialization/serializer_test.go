package serialization

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

func envelope(payload events.DomainEvent, key string) events.EventEnvelope {
	return events.EventEnvelope{
		Type:      payload.EventType(),
		Key:       key,
		Headers:   map[string]string{"tenant": "tenant-a"},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload:   payload,
	}
}

func TestSerialize_RoundTrip_ScanProgressed(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	progress := scanning.NewProgressEvent(scanID, 7, scanning.PhaseScanning, 55, "tool semgrep succeeded", ts)

	data, err := Serialize(envelope(scanning.NewScanProgressedEvent(progress), scanID.String()))
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, scanning.EventTypeScanProgressed, decoded.Type)
	assert.Equal(t, scanID.String(), decoded.Key)
	assert.Equal(t, "tenant-a", decoded.Headers["tenant"])

	payload, ok := decoded.Payload.(scanning.ScanProgressedEvent)
	require.True(t, ok)
	assert.Equal(t, scanID, payload.Progress.ScanID())
	assert.Equal(t, int64(7), payload.Progress.Seq())
	assert.Equal(t, scanning.PhaseScanning, payload.Progress.Phase())
	assert.Equal(t, 55, payload.Progress.Percent())
	assert.Equal(t, "tool semgrep succeeded", payload.Progress.Message())
	assert.False(t, payload.Progress.IsHeartbeat())
	assert.Equal(t, ts, payload.Progress.Timestamp())
}

func TestSerialize_RoundTrip_HeartbeatProgress(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hb := scanning.NewHeartbeatEvent(scanID, 0, scanning.PhaseCloning, 25, ts).WithSeq(3)

	data, err := Serialize(envelope(scanning.NewScanProgressedEvent(hb), scanID.String()))
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	payload, ok := decoded.Payload.(scanning.ScanProgressedEvent)
	require.True(t, ok)
	assert.True(t, payload.Progress.IsHeartbeat())
	assert.Equal(t, int64(3), payload.Progress.Seq())
	assert.Equal(t, "heartbeat", payload.Progress.Message())
}

func TestSerialize_RoundTrip_ScanCompleted(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	evt := scanning.NewScanCompletedEvent(scanID, "tenant-a", 12, 3*time.Minute)

	data, err := Serialize(envelope(evt, scanID.String()))
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	payload, ok := decoded.Payload.(scanning.ScanCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, scanID, payload.ScanID)
	assert.Equal(t, "tenant-a", payload.TenantID)
	assert.Equal(t, 12, payload.FindingsCount)
	assert.Equal(t, 3*time.Minute, payload.Duration)
}

func TestSerialize_RoundTrip_ScanFailed(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	evt := scanning.NewScanFailedEvent(scanID, "tenant-a", scanning.ReasonNetworkPolicy, "tool semgrep violated isolation")

	data, err := Serialize(envelope(evt, scanID.String()))
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	payload, ok := decoded.Payload.(scanning.ScanFailedEvent)
	require.True(t, ok)
	assert.Equal(t, scanning.ReasonNetworkPolicy, payload.Reason)
	assert.Equal(t, "tool semgrep violated isolation", payload.Message)
}

func TestSerialize_RoundTrip_ScanCancelled(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	data, err := Serialize(envelope(scanning.NewScanCancelledEvent(scanID, "tenant-a"), scanID.String()))
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	payload, ok := decoded.Payload.(scanning.ScanCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, scanID, payload.ScanID)
	assert.Equal(t, "tenant-a", payload.TenantID)
}

func TestSerialize_UnknownPayloadType(t *testing.T) {
	t.Parallel()

	_, err := Serialize(events.EventEnvelope{
		Type:    "Mystery",
		Payload: struct{}{},
	})
	assert.Error(t, err)
}

func TestDeserialize_UnknownEventType(t *testing.T) {
	t.Parallel()

	_, err := Deserialize([]byte(`{"type": "Mystery", "payload": {}}`))
	assert.Error(t, err)
}

func TestDeserialize_MalformedEnvelope(t *testing.T) {
	t.Parallel()

	_, err := Deserialize([]byte(`{"type":`))
	assert.Error(t, err)
}
