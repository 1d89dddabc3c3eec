package scanning

import (
	"errors"
	"fmt"
)

// FailureReason is the stable, machine-readable reason attached to a failed scan.
type FailureReason string

const (
	ReasonNone                  FailureReason = ""
	ReasonCredentialUnavailable FailureReason = "credential_unavailable"
	ReasonProvisioningFailed    FailureReason = "provisioning_failed"
	ReasonCloneFailed           FailureReason = "clone_failed"
	ReasonResourceExceeded      FailureReason = "resource_exceeded"
	ReasonNetworkPolicy         FailureReason = "network_policy_violation"
	ReasonNoUsableOutputs       FailureReason = "no_usable_outputs"
	ReasonInternal              FailureReason = "internal_error"
)

// Sentinel errors for the engine's error taxonomy.
var (
	// ErrCredentialUnavailable indicates credential issuance was exhausted
	// before any sandbox was created.
	ErrCredentialUnavailable = errors.New("credential unavailable")

	// ErrProvisioningFailed indicates execution-context creation failed after
	// its bounded retries.
	ErrProvisioningFailed = errors.New("provisioning failed")

	// ErrNoUsableOutputs indicates zero adapters produced parseable output.
	ErrNoUsableOutputs = errors.New("no usable tool outputs")

	// ErrScanNotFound indicates the referenced scan is not tracked.
	ErrScanNotFound = errors.New("scan not found")

	// ErrCancelled indicates the scan was cancelled by an external request.
	// Cancellation is not a failure; it maps to the cancelled terminal state.
	ErrCancelled = errors.New("scan cancelled")
)

// ResourceExceededError indicates a hard resource ceiling was breached.
// It is always fatal and never retried automatically.
type ResourceExceededError struct {
	// Limit names the specific ceiling that was breached (cpu, memory, disk,
	// pids, wall_clock).
	Limit string
	Msg   string
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("resource ceiling exceeded (%s): %s", e.Limit, e.Msg)
}

// NetworkPolicyViolationError indicates an outbound network attempt was
// observed during the isolated phase. It is fatal and audited as a
// security-relevant event distinct from ordinary failures.
type NetworkPolicyViolationError struct {
	Tool   string
	Detail string
}

func (e *NetworkPolicyViolationError) Error() string {
	return fmt.Sprintf("network policy violation by %s: %s", e.Tool, e.Detail)
}
