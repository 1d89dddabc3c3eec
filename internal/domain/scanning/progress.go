package scanning

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent is a point-in-time update on a scan's execution, delivered
// to observers in strict per-scan sequence order. Consumers deduplicate on
// the sequence number; delivery is at-least-once.
type ProgressEvent struct {
	scanID    uuid.UUID
	seq       int64
	phase     ScanPhase
	percent   int
	message   string
	heartbeat bool
	timestamp time.Time
}

// NewProgressEvent creates a progress event for a phase entry or step update.
func NewProgressEvent(scanID uuid.UUID, seq int64, phase ScanPhase, percent int, message string, ts time.Time) ProgressEvent {
	return ProgressEvent{
		scanID:    scanID,
		seq:       seq,
		phase:     phase,
		percent:   percent,
		message:   message,
		timestamp: ts,
	}
}

// NewHeartbeatEvent creates a liveness event carrying the current phase and
// percent without advancing either. It lets consumers distinguish "alive but
// slow" from a lost connection.
func NewHeartbeatEvent(scanID uuid.UUID, seq int64, phase ScanPhase, percent int, ts time.Time) ProgressEvent {
	return ProgressEvent{
		scanID:    scanID,
		seq:       seq,
		phase:     phase,
		percent:   percent,
		message:   "heartbeat",
		heartbeat: true,
		timestamp: ts,
	}
}

// ScanID returns the scan this event belongs to.
func (e ProgressEvent) ScanID() uuid.UUID { return e.scanID }

// Seq returns the per-scan monotonically increasing sequence number.
func (e ProgressEvent) Seq() int64 { return e.seq }

// Phase returns the progress phase at the time of the event.
func (e ProgressEvent) Phase() ScanPhase { return e.phase }

// Percent returns the completion percentage, non-decreasing within a scan
// except on transition to a terminal phase.
func (e ProgressEvent) Percent() int { return e.percent }

// Message returns the free-text step description.
func (e ProgressEvent) Message() string { return e.message }

// IsHeartbeat reports whether this event carries no phase change.
func (e ProgressEvent) IsHeartbeat() bool { return e.heartbeat }

// Timestamp returns when the event was produced.
func (e ProgressEvent) Timestamp() time.Time { return e.timestamp }

// WithSeq returns a copy of the event stamped with the given sequence number.
// Sequence assignment belongs to the publisher, which owns per-scan ordering.
func (e ProgressEvent) WithSeq(seq int64) ProgressEvent {
	e.seq = seq
	return e
}
