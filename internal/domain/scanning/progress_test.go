package scanning

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestScanPhase_Percent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		phase    ScanPhase
		expected int
	}{
		{name: "queued", phase: PhaseQueued, expected: 0},
		{name: "provisioning", phase: PhaseProvisioning, expected: 10},
		{name: "cloning", phase: PhaseCloning, expected: 25},
		{name: "scanning", phase: PhaseScanning, expected: 40},
		{name: "merging", phase: PhaseMerging, expected: 85},
		{name: "completed", phase: PhaseCompleted, expected: 100},
		{name: "failed has no nominal percent", phase: PhaseFailed, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.phase.Percent())
		})
	}
}

func TestScanPhase_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, PhaseQueued.IsTerminal())
	assert.False(t, PhaseScanning.IsTerminal())
	assert.True(t, PhaseCompleted.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.True(t, PhaseCancelled.IsTerminal())
}

func TestParseScanPhase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PhaseMerging, ParseScanPhase("merging"))
	assert.Equal(t, PhaseUnspecified, ParseScanPhase("bogus"))
}

func TestProgressEvent_Heartbeat(t *testing.T) {
	t.Parallel()

	scanID := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	hb := NewHeartbeatEvent(scanID, 7, PhaseScanning, 40, ts)
	assert.True(t, hb.IsHeartbeat())
	assert.Equal(t, "heartbeat", hb.Message())
	assert.Equal(t, PhaseScanning, hb.Phase())
	assert.Equal(t, int64(7), hb.Seq())

	evt := NewProgressEvent(scanID, 8, PhaseMerging, 85, "normalizing outputs", ts)
	assert.False(t, evt.IsHeartbeat())
	assert.Equal(t, "normalizing outputs", evt.Message())
}

func TestProgressEvent_WithSeq(t *testing.T) {
	t.Parallel()

	evt := NewProgressEvent(uuid.New(), 0, PhaseCloning, 25, "checkout", time.Now())
	stamped := evt.WithSeq(42)

	assert.Equal(t, int64(42), stamped.Seq())
	assert.Equal(t, int64(0), evt.Seq(), "original event is unchanged")
	assert.Equal(t, evt.Phase(), stamped.Phase())
}
