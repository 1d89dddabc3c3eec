// Package audit defines the append-only record of security-relevant actions
// taken by the engine. Records are written by every component and never read
// back, mutated, or deleted by the engine.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed an audited action.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorTenant Actor = "tenant"
)

// Action names the security-relevant operation being recorded.
type Action string

const (
	ActionScanAdmitted       Action = "scan.admitted"
	ActionScanQueued         Action = "scan.queued"
	ActionScanRejected       Action = "scan.rejected"
	ActionScanPromoted       Action = "scan.promoted"
	ActionScanCancelled      Action = "scan.cancelled"
	ActionCredentialIssued   Action = "credential.issued"
	ActionCredentialRevoked  Action = "credential.revoked"
	ActionCredentialGap      Action = "credential.reconciliation_gap"
	ActionSandboxTransition  Action = "sandbox.transition"
	ActionSandboxTeardown    Action = "sandbox.teardown"
	ActionNetworkViolation   Action = "sandbox.network_violation"
	ActionReportPersisted    Action = "report.persisted"
)

// Outcome records whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Record is one immutable audit entry. Credential token values never appear
// here; only identifiers and timestamps.
type Record struct {
	ID         uuid.UUID
	ScanID     uuid.UUID
	Actor      Actor
	Action     Action
	Subject    string
	Outcome    Outcome
	Detail     string
	OccurredAt time.Time
}

// NewRecord creates an audit record stamped with a fresh identity and the
// current time.
func NewRecord(scanID uuid.UUID, actor Actor, action Action, subject string, outcome Outcome, detail string) Record {
	return Record{
		ID:         uuid.New(),
		ScanID:     scanID,
		Actor:      actor,
		Action:     action,
		Subject:    subject,
		Outcome:    outcome,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
}
