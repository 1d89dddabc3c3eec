package scanning

import (
	"time"

	"github.com/google/uuid"
)

// ToolStatus captures the outcome of one adapter invocation. A non-success
// status never aborts sibling adapters.
type ToolStatus string

const (
	// ToolStatusSucceeded indicates the adapter produced a report payload.
	ToolStatusSucceeded ToolStatus = "succeeded"

	// ToolStatusFailed indicates the adapter exited with an error or produced
	// no usable payload.
	ToolStatusFailed ToolStatus = "failed"

	// ToolStatusTimedOut indicates the adapter exceeded its per-tool timeout
	// and was force-terminated.
	ToolStatusTimedOut ToolStatus = "timed_out"

	// ToolStatusSkipped indicates the adapter declined the workspace.
	ToolStatusSkipped ToolStatus = "skipped"
)

// RawToolOutput holds the unmodified result of a single adapter invocation.
// One is produced per adapter, including for failures and timeouts.
type RawToolOutput struct {
	ScanID   uuid.UUID
	Tool     string
	Format   string
	Payload  []byte
	Status   ToolStatus
	ExitCode int
	Duration time.Duration
	// Stderr holds diagnostic text captured from the adapter's control
	// channel; it is never treated as findings data.
	Stderr string
}

// Usable reports whether this output can contribute findings to the merge.
func (o RawToolOutput) Usable() bool {
	return o.Status == ToolStatusSucceeded && len(o.Payload) > 0
}
