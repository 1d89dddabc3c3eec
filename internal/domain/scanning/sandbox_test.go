package scanning

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() ResourceLimits {
	return ResourceLimits{
		CPUCores:  2.0,
		MemoryMB:  2048,
		DiskMB:    10240,
		PidsLimit: 256,
		WallClock: time.Hour,
	}
}

func TestNewSandboxInstance(t *testing.T) {
	t.Parallel()

	clock := &stubTimeProvider{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	scanID := uuid.New()
	sb := NewSandboxInstance(scanID, testLimits(), clock)

	assert.NotEqual(t, uuid.Nil, sb.ID())
	assert.Equal(t, scanID, sb.ScanID())
	assert.Equal(t, SandboxStateCreated, sb.State())
	assert.Equal(t, NetworkPostureOpen, sb.Network())
	assert.Equal(t, testLimits(), sb.Limits())
	assert.Equal(t, clock.now, sb.StartTime())
}

func TestSandboxInstance_FullLifecycle(t *testing.T) {
	t.Parallel()

	clock := &stubTimeProvider{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	sb := NewSandboxInstance(uuid.New(), testLimits(), clock)

	steps := []SandboxState{
		SandboxStateProvisioning,
		SandboxStateNetworkOpen,
		SandboxStateCloning,
		SandboxStateNetworkIsolated,
		SandboxStateScanning,
		SandboxStateMerging,
		SandboxStateCompleted,
	}
	for _, target := range steps {
		require.NoError(t, sb.TransitionTo(target), "transition to %s", target)
	}

	assert.Equal(t, SandboxStateCompleted, sb.State())
	end, done := sb.EndTime()
	require.True(t, done)
	assert.Equal(t, clock.now, end)
}

func TestSandboxInstance_IsolationFlipsNetworkPosture(t *testing.T) {
	t.Parallel()

	sb := NewSandboxInstance(uuid.New(), testLimits(), &stubTimeProvider{now: time.Now()})

	require.NoError(t, sb.TransitionTo(SandboxStateProvisioning))
	require.NoError(t, sb.TransitionTo(SandboxStateNetworkOpen))
	require.NoError(t, sb.TransitionTo(SandboxStateCloning))
	assert.Equal(t, NetworkPostureOpen, sb.Network(), "network stays open through cloning")

	require.NoError(t, sb.TransitionTo(SandboxStateNetworkIsolated))
	assert.Equal(t, NetworkPostureIsolated, sb.Network())
}

func TestSandboxInstance_InvalidJump(t *testing.T) {
	t.Parallel()

	sb := NewSandboxInstance(uuid.New(), testLimits(), &stubTimeProvider{now: time.Now()})

	assert.Error(t, sb.TransitionTo(SandboxStateScanning))
	assert.Equal(t, SandboxStateCreated, sb.State(), "failed transition leaves state untouched")
}

func TestSandboxInstance_FailureFromAnyNonTerminalState(t *testing.T) {
	t.Parallel()

	sb := NewSandboxInstance(uuid.New(), testLimits(), &stubTimeProvider{now: time.Now()})
	require.NoError(t, sb.TransitionTo(SandboxStateProvisioning))
	require.NoError(t, sb.TransitionTo(SandboxStateNetworkOpen))
	require.NoError(t, sb.TransitionTo(SandboxStateCloning))

	require.NoError(t, sb.TransitionTo(SandboxStateFailed))
	_, done := sb.EndTime()
	assert.True(t, done)

	assert.Error(t, sb.TransitionTo(SandboxStateCancelled), "terminal state rejects further transitions")
}

func TestSandboxInstance_RecordExit(t *testing.T) {
	t.Parallel()

	sb := NewSandboxInstance(uuid.New(), testLimits(), &stubTimeProvider{now: time.Now()})
	assert.Equal(t, 0, sb.ExitCode())

	sb.RecordExit(137)
	assert.Equal(t, 137, sb.ExitCode())
}
