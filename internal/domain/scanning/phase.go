package scanning

// ScanPhase is the coarse-grained progress phase reported to observers.
// Phases advance monotonically within a scan until a terminal phase.
type ScanPhase string

const (
	PhaseQueued          ScanPhase = "queued"
	PhaseProvisioning    ScanPhase = "provisioning"
	PhaseCloning         ScanPhase = "cloning"
	PhaseScanning        ScanPhase = "scanning"
	PhaseMerging         ScanPhase = "merging"
	PhaseCompleted       ScanPhase = "completed"
	PhaseFailed          ScanPhase = "failed"
	PhaseCancelled       ScanPhase = "cancelled"
	PhaseUnspecified     ScanPhase = "unspecified"
)

// String returns the string representation of the ScanPhase.
func (p ScanPhase) String() string { return string(p) }

// IsTerminal reports whether this phase ends the progress stream for a scan.
func (p ScanPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Percent returns the nominal completion percentage for entering this phase.
// Percent is non-decreasing across the forward phases; terminal failure
// phases reset to the percentage at which the scan ended.
func (p ScanPhase) Percent() int {
	switch p {
	case PhaseQueued:
		return 0
	case PhaseProvisioning:
		return 10
	case PhaseCloning:
		return 25
	case PhaseScanning:
		return 40
	case PhaseMerging:
		return 85
	case PhaseCompleted:
		return 100
	default:
		return 0
	}
}

// ParseScanPhase converts a string to a ScanPhase.
func ParseScanPhase(s string) ScanPhase {
	switch s {
	case "queued":
		return PhaseQueued
	case "provisioning":
		return PhaseProvisioning
	case "cloning":
		return PhaseCloning
	case "scanning":
		return PhaseScanning
	case "merging":
		return PhaseMerging
	case "completed":
		return PhaseCompleted
	case "failed":
		return PhaseFailed
	case "cancelled":
		return PhaseCancelled
	default:
		return PhaseUnspecified
	}
}
