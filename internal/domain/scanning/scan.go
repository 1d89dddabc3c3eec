// Package scanning contains the core domain model for the scan execution engine:
// scan requests and their lifecycle, the sandbox state machine, tool outputs,
// and the progress event stream.
package scanning

import (
	"time"

	"github.com/google/uuid"
)

// ScanRequest describes the work a tenant submitted for analysis. It is
// immutable once accepted; the scan ID is assigned at admission.
type ScanRequest struct {
	TenantID      string   `validate:"required,min=1,max=128"`
	RepositoryURL string   `validate:"required,url"`
	Branch        string   `validate:"required,min=1,max=255"`
	CommitSHA     string   `validate:"omitempty,hexadecimal,len=40"`
	Tools         []string `validate:"required,min=1,dive,min=1"`
	SubmittedAt   time.Time
}

// Scan is the aggregate tracking one admitted scan request through its lifecycle.
type Scan struct {
	id            uuid.UUID
	request       ScanRequest
	status        ScanStatus
	failureReason FailureReason
	timeline      *Timeline
}

// NewScan creates a Scan for an admitted request, assigning its identity.
func NewScan(id uuid.UUID, req ScanRequest, tp TimeProvider) *Scan {
	return &Scan{
		id:       id,
		request:  req,
		status:   ScanStatusQueued,
		timeline: NewTimeline(tp),
	}
}

// ReconstructScan creates a Scan instance from stored fields, bypassing
// creation invariants. This should only be used when loading persisted state.
func ReconstructScan(id uuid.UUID, req ScanRequest, status ScanStatus, reason FailureReason, timeline *Timeline) *Scan {
	return &Scan{
		id:            id,
		request:       req,
		status:        status,
		failureReason: reason,
		timeline:      timeline,
	}
}

// ID returns the unique identifier for this scan.
func (s *Scan) ID() uuid.UUID { return s.id }

// TenantID returns the owning tenant's identifier.
func (s *Scan) TenantID() string { return s.request.TenantID }

// Request returns the immutable request this scan was created from.
func (s *Scan) Request() ScanRequest { return s.request }

// Status returns the current lifecycle status of the scan.
func (s *Scan) Status() ScanStatus { return s.status }

// FailureReason returns the stable machine-readable reason for a failed scan,
// or an empty reason for scans that did not fail.
func (s *Scan) FailureReason() FailureReason { return s.failureReason }

// StartTime returns when this scan was admitted.
func (s *Scan) StartTime() time.Time { return s.timeline.StartedAt() }

// EndTime returns when this scan reached a terminal status.
// The bool result is false while the scan is still in flight.
func (s *Scan) EndTime() (time.Time, bool) {
	if s.status.IsTerminal() {
		return s.timeline.CompletedAt(), true
	}
	return time.Time{}, false
}

// MarkRunning transitions the scan from queued to running.
func (s *Scan) MarkRunning() error {
	if err := s.status.validateTransition(ScanStatusRunning); err != nil {
		return err
	}
	s.status = ScanStatusRunning
	s.timeline.UpdateLastUpdate()
	return nil
}

// Complete transitions the scan to its successful terminal status.
func (s *Scan) Complete() error {
	if err := s.status.validateTransition(ScanStatusCompleted); err != nil {
		return err
	}
	s.status = ScanStatusCompleted
	s.timeline.MarkCompleted()
	return nil
}

// Fail transitions the scan to the failed terminal status with a stable reason.
func (s *Scan) Fail(reason FailureReason) error {
	if err := s.status.validateTransition(ScanStatusFailed); err != nil {
		return err
	}
	s.status = ScanStatusFailed
	s.failureReason = reason
	s.timeline.MarkCompleted()
	return nil
}

// Cancel transitions the scan to the cancelled terminal status. Cancellation
// is distinguished from failure in reporting and slot accounting.
func (s *Scan) Cancel() error {
	if err := s.status.validateTransition(ScanStatusCancelled); err != nil {
		return err
	}
	s.status = ScanStatusCancelled
	s.timeline.MarkCompleted()
	return nil
}
