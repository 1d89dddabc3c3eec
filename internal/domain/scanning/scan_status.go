package scanning

import (
	"errors"
	"fmt"
)

// ScanStatus represents the externally visible lifecycle state of a scan.
// It tracks a scan from admission through its terminal outcome.
type ScanStatus string

// ErrScanStatusUnknown is returned when a scan status is unknown.
var ErrScanStatusUnknown = errors.New("scan status unknown")

const (
	// ScanStatusQueued indicates a scan was admitted but is waiting for a
	// tenant concurrency slot.
	ScanStatusQueued ScanStatus = "QUEUED"

	// ScanStatusRunning indicates a scan holds a slot and its sandbox
	// lifecycle is in progress.
	ScanStatusRunning ScanStatus = "RUNNING"

	// ScanStatusCompleted indicates a scan produced a normalized report.
	ScanStatusCompleted ScanStatus = "COMPLETED"

	// ScanStatusFailed indicates a scan terminated without a usable report.
	ScanStatusFailed ScanStatus = "FAILED"

	// ScanStatusCancelled indicates a scan was cancelled by an external request.
	ScanStatusCancelled ScanStatus = "CANCELLED"

	// ScanStatusUnspecified is used when a scan status is unknown.
	ScanStatusUnspecified ScanStatus = "UNSPECIFIED"
)

// String returns the string representation of the ScanStatus.
func (s ScanStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are allowed from this status.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// ParseScanStatus converts a string to a ScanStatus.
func ParseScanStatus(s string) ScanStatus {
	switch s {
	case "QUEUED":
		return ScanStatusQueued
	case "RUNNING":
		return ScanStatusRunning
	case "COMPLETED":
		return ScanStatusCompleted
	case "FAILED":
		return ScanStatusFailed
	case "CANCELLED":
		return ScanStatusCancelled
	default:
		return ScanStatusUnspecified
	}
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s ScanStatus) validateTransition(target ScanStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid scan status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// Cancellation is accepted from any non-terminal status.
func (s ScanStatus) isValidTransition(target ScanStatus) bool {
	switch s {
	case ScanStatusQueued:
		return target == ScanStatusRunning || target == ScanStatusFailed || target == ScanStatusCancelled
	case ScanStatusRunning:
		return target == ScanStatusCompleted || target == ScanStatusFailed || target == ScanStatusCancelled
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
