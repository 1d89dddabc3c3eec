package scanning

import (
	"errors"
	"fmt"
)

// SandboxState represents the lifecycle state of an isolated execution context.
// The state machine enforces the ordering of provisioning, network-open cloning,
// network-isolated scanning, and merging before a terminal outcome.
type SandboxState string

// ErrSandboxStateUnknown is returned when a sandbox state is unknown.
var ErrSandboxStateUnknown = errors.New("sandbox state unknown")

const (
	// SandboxStateCreated is the initial state before any resources are allocated.
	SandboxStateCreated SandboxState = "CREATED"

	// SandboxStateProvisioning indicates the execution context is being allocated
	// with its resource ceilings.
	SandboxStateProvisioning SandboxState = "PROVISIONING"

	// SandboxStateNetworkOpen indicates the context exists and outbound network
	// access is permitted solely for repository fetch.
	SandboxStateNetworkOpen SandboxState = "NETWORK_OPEN"

	// SandboxStateCloning indicates repository checkout is in progress.
	SandboxStateCloning SandboxState = "CLONING"

	// SandboxStateNetworkIsolated indicates checkout finished and outbound
	// network access has been revoked for the remainder of the scan.
	SandboxStateNetworkIsolated SandboxState = "NETWORK_ISOLATED"

	// SandboxStateScanning indicates tool adapters are executing against the workspace.
	SandboxStateScanning SandboxState = "SCANNING"

	// SandboxStateMerging indicates all adapters returned and their outputs are
	// being normalized into a single report.
	SandboxStateMerging SandboxState = "MERGING"

	// SandboxStateCompleted indicates a normalized report was produced.
	SandboxStateCompleted SandboxState = "COMPLETED"

	// SandboxStateFailed indicates the sandbox terminated without a usable report.
	SandboxStateFailed SandboxState = "FAILED"

	// SandboxStateCancelled indicates the sandbox was torn down in response to
	// an external cancellation request.
	SandboxStateCancelled SandboxState = "CANCELLED"

	// SandboxStateUnspecified is used when a sandbox state is unknown.
	SandboxStateUnspecified SandboxState = "UNSPECIFIED"
)

// String returns the string representation of the SandboxState.
func (s SandboxState) String() string { return string(s) }

// IsTerminal reports whether no further transitions are allowed from this state.
func (s SandboxState) IsTerminal() bool {
	return s == SandboxStateCompleted || s == SandboxStateFailed || s == SandboxStateCancelled
}

// ParseSandboxState converts a string to a SandboxState.
func ParseSandboxState(s string) SandboxState {
	switch s {
	case "CREATED":
		return SandboxStateCreated
	case "PROVISIONING":
		return SandboxStateProvisioning
	case "NETWORK_OPEN":
		return SandboxStateNetworkOpen
	case "CLONING":
		return SandboxStateCloning
	case "NETWORK_ISOLATED":
		return SandboxStateNetworkIsolated
	case "SCANNING":
		return SandboxStateScanning
	case "MERGING":
		return SandboxStateMerging
	case "COMPLETED":
		return SandboxStateCompleted
	case "FAILED":
		return SandboxStateFailed
	case "CANCELLED":
		return SandboxStateCancelled
	default:
		return SandboxStateUnspecified
	}
}

// validateTransition checks if a state transition is valid and returns an error if not.
func (s SandboxState) validateTransition(target SandboxState) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid sandbox state transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current state can transition to the target state.
// Forward progress follows the fixed pipeline; Failed and Cancelled are reachable
// from every non-terminal state so teardown can always record an outcome.
func (s SandboxState) isValidTransition(target SandboxState) bool {
	if s.IsTerminal() {
		return false
	}
	if target == SandboxStateFailed || target == SandboxStateCancelled {
		return true
	}

	switch s {
	case SandboxStateCreated:
		return target == SandboxStateProvisioning
	case SandboxStateProvisioning:
		return target == SandboxStateNetworkOpen
	case SandboxStateNetworkOpen:
		return target == SandboxStateCloning
	case SandboxStateCloning:
		return target == SandboxStateNetworkIsolated
	case SandboxStateNetworkIsolated:
		return target == SandboxStateScanning
	case SandboxStateScanning:
		return target == SandboxStateMerging
	case SandboxStateMerging:
		return target == SandboxStateCompleted
	default:
		return false
	}
}
