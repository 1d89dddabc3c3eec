package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scanforge/internal/domain/events"
)

// Event types relevant to scans:
const (
	EventTypeScanProgressed events.EventType = "ScanProgressed"
	EventTypeScanCompleted  events.EventType = "ScanCompleted"
	EventTypeScanFailed     events.EventType = "ScanFailed"
	EventTypeScanCancelled  events.EventType = "ScanCancelled"
)

// ScanProgressedEvent signals a new progress update was published for a scan.
type ScanProgressedEvent struct {
	occurredAt time.Time
	Progress   ProgressEvent
}

func NewScanProgressedEvent(p ProgressEvent) ScanProgressedEvent {
	return ScanProgressedEvent{occurredAt: time.Now(), Progress: p}
}

func (e ScanProgressedEvent) EventType() events.EventType { return EventTypeScanProgressed }
func (e ScanProgressedEvent) OccurredAt() time.Time       { return e.occurredAt }

// ScanCompletedEvent means the scan produced a normalized report.
type ScanCompletedEvent struct {
	occurredAt    time.Time
	ScanID        uuid.UUID
	TenantID      string
	FindingsCount int
	Duration      time.Duration
}

func NewScanCompletedEvent(scanID uuid.UUID, tenantID string, findings int, d time.Duration) ScanCompletedEvent {
	return ScanCompletedEvent{
		occurredAt:    time.Now(),
		ScanID:        scanID,
		TenantID:      tenantID,
		FindingsCount: findings,
		Duration:      d,
	}
}

func (e ScanCompletedEvent) EventType() events.EventType { return EventTypeScanCompleted }
func (e ScanCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// ScanFailedEvent means the scan terminated without a usable report.
type ScanFailedEvent struct {
	occurredAt time.Time
	ScanID     uuid.UUID
	TenantID   string
	Reason     FailureReason
	Message    string
}

func NewScanFailedEvent(scanID uuid.UUID, tenantID string, reason FailureReason, msg string) ScanFailedEvent {
	return ScanFailedEvent{
		occurredAt: time.Now(),
		ScanID:     scanID,
		TenantID:   tenantID,
		Reason:     reason,
		Message:    msg,
	}
}

func (e ScanFailedEvent) EventType() events.EventType { return EventTypeScanFailed }
func (e ScanFailedEvent) OccurredAt() time.Time       { return e.occurredAt }

// ScanCancelledEvent means an external cancellation request was honored.
type ScanCancelledEvent struct {
	occurredAt time.Time
	ScanID     uuid.UUID
	TenantID   string
}

func NewScanCancelledEvent(scanID uuid.UUID, tenantID string) ScanCancelledEvent {
	return ScanCancelledEvent{occurredAt: time.Now(), ScanID: scanID, TenantID: tenantID}
}

func (e ScanCancelledEvent) EventType() events.EventType { return EventTypeScanCancelled }
func (e ScanCancelledEvent) OccurredAt() time.Time       { return e.occurredAt }
