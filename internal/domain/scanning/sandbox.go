package scanning

import (
	"time"

	"github.com/google/uuid"
)

// NetworkPosture describes the sandbox's outbound network policy.
type NetworkPosture string

const (
	// NetworkPostureOpen permits outbound access, used only for repository fetch.
	NetworkPostureOpen NetworkPosture = "open"

	// NetworkPostureIsolated denies all outbound access for the remainder of the scan.
	NetworkPostureIsolated NetworkPosture = "isolated"
)

// ResourceLimits defines the hard ceilings applied to an execution context.
// Exceeding any one of them is fatal to the scan.
type ResourceLimits struct {
	CPUCores  float64
	MemoryMB  int64
	DiskMB    int64
	PidsLimit int64
	// WallClock bounds the entire sandbox lifetime; it must stay below the
	// credential TTL margin so teardown happens while the credential is
	// still revocable.
	WallClock time.Duration
}

// SandboxInstance is the state-machine aggregate for one isolated execution
// context. It is exclusively owned by a single scan's orchestration for its
// entire lifetime.
type SandboxInstance struct {
	id       uuid.UUID
	scanID   uuid.UUID
	limits   ResourceLimits
	network  NetworkPosture
	state    SandboxState
	timeline *Timeline
	exitCode int
}

// NewSandboxInstance creates a sandbox aggregate in its initial state.
func NewSandboxInstance(scanID uuid.UUID, limits ResourceLimits, tp TimeProvider) *SandboxInstance {
	return &SandboxInstance{
		id:       uuid.New(),
		scanID:   scanID,
		limits:   limits,
		network:  NetworkPostureOpen,
		state:    SandboxStateCreated,
		timeline: NewTimeline(tp),
	}
}

// ID returns the unique identifier of this sandbox instance.
func (sb *SandboxInstance) ID() uuid.UUID { return sb.id }

// ScanID returns the scan this sandbox belongs to.
func (sb *SandboxInstance) ScanID() uuid.UUID { return sb.scanID }

// Limits returns the resource ceilings applied to this sandbox.
func (sb *SandboxInstance) Limits() ResourceLimits { return sb.limits }

// Network returns the current outbound network posture.
func (sb *SandboxInstance) Network() NetworkPosture { return sb.network }

// State returns the current lifecycle state.
func (sb *SandboxInstance) State() SandboxState { return sb.state }

// StartTime returns when the sandbox aggregate was created.
func (sb *SandboxInstance) StartTime() time.Time { return sb.timeline.StartedAt() }

// EndTime returns when the sandbox reached a terminal state.
func (sb *SandboxInstance) EndTime() (time.Time, bool) {
	if sb.state.IsTerminal() {
		return sb.timeline.CompletedAt(), true
	}
	return time.Time{}, false
}

// ExitCode returns the recorded exit status of the sandbox.
func (sb *SandboxInstance) ExitCode() int { return sb.exitCode }

// TransitionTo advances the state machine, enforcing lifecycle ordering.
// Terminal transitions record completion on the timeline.
func (sb *SandboxInstance) TransitionTo(target SandboxState) error {
	if err := sb.state.validateTransition(target); err != nil {
		return err
	}

	sb.state = target
	if target == SandboxStateNetworkIsolated {
		sb.network = NetworkPostureIsolated
	}
	if target.IsTerminal() {
		sb.timeline.MarkCompleted()
	} else {
		sb.timeline.UpdateLastUpdate()
	}
	return nil
}

// RecordExit stores the execution context's exit status for reporting.
func (sb *SandboxInstance) RecordExit(code int) { sb.exitCode = code }
