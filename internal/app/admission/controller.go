// Package admission gates acceptance of new scan work against per-tenant
// concurrency ceilings and a global capacity cap. Requests beyond a ceiling
// are queued FIFO per tenant and promoted under a global oldest-first
// fairness rule when capacity frees up.
package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/audit"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// Outcome is the admission decision returned to the caller.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
)

// Decision is the result of submitting a scan request. Rejected is returned
// only for structurally invalid requests; capacity pressure always yields
// queued, never rejected.
type Decision struct {
	ScanID  uuid.UUID
	Outcome Outcome
	Reason  string
}

// ScanLauncher starts the sandbox lifecycle for a scan that holds an
// admission slot. Implementations must not block the caller.
type ScanLauncher interface {
	LaunchScan(scan *scanning.Scan)
}

// Metrics defines the admission-specific telemetry the controller records.
type Metrics interface {
	IncScansAdmitted(ctx context.Context, tenantID string)
	IncScansQueued(ctx context.Context, tenantID string)
	IncScansRejected(ctx context.Context, tenantID string)
	SetQueueDepth(ctx context.Context, depth int)
	SetRunningScans(ctx context.Context, count int)
}

// queuedScan is one waiting request plus the global age used for fairness.
type queuedScan struct {
	scan    *scanning.Scan
	ceiling int
	age     int64
}

// trackedScan carries the accounting needed to release a slot exactly once.
// charged records whether the scan actually holds a slot: queued scans are
// tracked but never charged until promotion.
type trackedScan struct {
	tenantID string
	charged  bool
	released bool
}

// Controller is the engine's entry point. All slot and queue mutations happen
// under a single mutex so that release and promotion are atomic with respect
// to each other: no slot leaks, no double admission.
type Controller struct {
	maxGlobal      int
	defaultCeiling int

	policies scanning.TenantPolicyStore
	launcher ScanLauncher
	progress scanning.ProgressPublisher
	auditor  audit.Recorder
	clock    scanning.TimeProvider

	mu       sync.Mutex
	running  map[string]int
	total    int
	queues   map[string][]*queuedScan
	queued   int
	tracked  map[uuid.UUID]*trackedScan
	nextAge  int64

	validate *validator.Validate
	logger   *logger.Logger
	tracer   trace.Tracer
	metrics  Metrics
}

// NewController constructs an admission controller with the given capacity
// configuration and collaborators.
func NewController(
	maxGlobal int,
	defaultCeiling int,
	policies scanning.TenantPolicyStore,
	launcher ScanLauncher,
	progress scanning.ProgressPublisher,
	auditor audit.Recorder,
	clock scanning.TimeProvider,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *Controller {
	return &Controller{
		maxGlobal:      maxGlobal,
		defaultCeiling: defaultCeiling,
		policies:       policies,
		launcher:       launcher,
		progress:       progress,
		auditor:        auditor,
		clock:          clock,
		running:        make(map[string]int),
		queues:         make(map[string][]*queuedScan),
		tracked:        make(map[uuid.UUID]*trackedScan),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         log.With("component", "admission_controller"),
		tracer:         tracer,
		metrics:        metrics,
	}
}

// Submit admits, queues, or rejects a scan request. The scan ID is assigned
// here and identifies the scan for its entire lifetime.
func (c *Controller) Submit(ctx context.Context, req scanning.ScanRequest) (Decision, error) {
	ctx, span := c.tracer.Start(ctx, "admission.submit",
		trace.WithAttributes(
			attribute.String("tenant_id", req.TenantID),
			attribute.String("repository", req.RepositoryURL),
		),
	)
	defer span.End()

	if err := c.validate.Struct(req); err != nil {
		span.AddEvent("request_rejected_malformed")
		c.metrics.IncScansRejected(ctx, req.TenantID)
		c.auditor.Record(ctx, audit.NewRecord(
			uuid.Nil, audit.ActorTenant, audit.ActionScanRejected, req.RepositoryURL,
			audit.OutcomeDenied, "malformed request: "+err.Error(),
		))
		return Decision{Outcome: OutcomeRejected, Reason: "malformed request"}, nil
	}

	policy, err := c.policies.Lookup(ctx, req.TenantID)
	if err != nil {
		span.AddEvent("request_rejected_unknown_tenant")
		c.metrics.IncScansRejected(ctx, req.TenantID)
		c.auditor.Record(ctx, audit.NewRecord(
			uuid.Nil, audit.ActorTenant, audit.ActionScanRejected, req.TenantID,
			audit.OutcomeDenied, "unknown tenant",
		))
		return Decision{Outcome: OutcomeRejected, Reason: "unknown tenant"}, nil
	}

	for _, tool := range req.Tools {
		if !policy.PermitsTool(tool) {
			c.metrics.IncScansRejected(ctx, req.TenantID)
			c.auditor.Record(ctx, audit.NewRecord(
				uuid.Nil, audit.ActorTenant, audit.ActionScanRejected, tool,
				audit.OutcomeDenied, "tool not permitted by tenant policy",
			))
			return Decision{Outcome: OutcomeRejected, Reason: fmt.Sprintf("tool %q not permitted", tool)}, nil
		}
	}

	ceiling := policy.MaxConcurrentScans
	if ceiling <= 0 {
		ceiling = c.defaultCeiling
	}

	scan := scanning.NewScan(uuid.New(), req, c.clock)
	span.SetAttributes(attribute.String("scan_id", scan.ID().String()))

	c.mu.Lock()
	tracked := &trackedScan{tenantID: req.TenantID}
	c.tracked[scan.ID()] = tracked

	if c.running[req.TenantID] < ceiling && c.total < c.maxGlobal {
		tracked.charged = true
		c.running[req.TenantID]++
		c.total++
		total := c.total
		c.mu.Unlock()

		span.AddEvent("slot_acquired")
		c.metrics.IncScansAdmitted(ctx, req.TenantID)
		c.metrics.SetRunningScans(ctx, total)
		c.auditor.Record(ctx, audit.NewRecord(
			scan.ID(), audit.ActorSystem, audit.ActionScanAdmitted, req.RepositoryURL,
			audit.OutcomeSuccess, "",
		))

		c.launcher.LaunchScan(scan)
		return Decision{ScanID: scan.ID(), Outcome: OutcomeAccepted}, nil
	}

	c.nextAge++
	c.queues[req.TenantID] = append(c.queues[req.TenantID], &queuedScan{
		scan:    scan,
		ceiling: ceiling,
		age:     c.nextAge,
	})
	c.queued++
	depth := c.queued
	c.mu.Unlock()

	span.AddEvent("request_queued")
	c.metrics.IncScansQueued(ctx, req.TenantID)
	c.metrics.SetQueueDepth(ctx, depth)
	c.auditor.Record(ctx, audit.NewRecord(
		scan.ID(), audit.ActorSystem, audit.ActionScanQueued, req.RepositoryURL,
		audit.OutcomeSuccess, "",
	))

	if err := c.progress.Publish(ctx, scanning.NewProgressEvent(
		scan.ID(), 0, scanning.PhaseQueued, scanning.PhaseQueued.Percent(),
		"waiting for tenant capacity", c.clock.Now(),
	)); err != nil {
		c.logger.Warn(ctx, "Failed to publish queued progress event", "error", err, "scan_id", scan.ID())
	}

	span.SetStatus(codes.Ok, "request queued")
	return Decision{ScanID: scan.ID(), Outcome: OutcomeQueued}, nil
}

// Release frees the admission slot held by a scan. Called exactly once per
// terminal outcome (success, failure, or cancellation); duplicate calls are
// ignored so retries never leak or double-free a slot. Releasing promotes
// the globally oldest queued request whose tenant has spare capacity.
func (c *Controller) Release(ctx context.Context, scanID uuid.UUID) {
	ctx, span := c.tracer.Start(ctx, "admission.release",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())),
	)
	defer span.End()

	c.mu.Lock()
	t, ok := c.tracked[scanID]
	if !ok || t.released || !t.charged {
		// Unknown, already released, or still queued: no slot to give back.
		c.mu.Unlock()
		span.AddEvent("release_ignored")
		return
	}
	t.released = true
	delete(c.tracked, scanID)
	c.running[t.tenantID]--
	if c.running[t.tenantID] == 0 {
		delete(c.running, t.tenantID)
	}
	c.total--

	promoted := c.promoteLocked()
	total, depth := c.total, c.queued
	c.mu.Unlock()

	span.AddEvent("slot_released")
	c.metrics.SetRunningScans(ctx, total)
	c.metrics.SetQueueDepth(ctx, depth)

	if promoted != nil {
		span.AddEvent("queued_scan_promoted",
			trace.WithAttributes(attribute.String("promoted_scan_id", promoted.ID().String())))
		c.auditor.Record(ctx, audit.NewRecord(
			promoted.ID(), audit.ActorSystem, audit.ActionScanPromoted, promoted.Request().RepositoryURL,
			audit.OutcomeSuccess, "",
		))
		c.launcher.LaunchScan(promoted)
	}
}

// promoteLocked pops the globally oldest queued request whose tenant is
// under its ceiling, charges its slot, and returns it. Must be called with
// the mutex held so promotion is atomic with the release that freed the slot.
func (c *Controller) promoteLocked() *scanning.Scan {
	if c.total >= c.maxGlobal {
		return nil
	}

	var (
		bestTenant string
		bestIdx    = -1
		bestAge    int64
	)
	for tenantID, queue := range c.queues {
		for i, entry := range queue {
			if c.running[tenantID] >= entry.ceiling {
				break // FIFO per tenant: later entries can't jump ahead.
			}
			if bestIdx == -1 || entry.age < bestAge {
				bestTenant, bestIdx, bestAge = tenantID, i, entry.age
			}
			break
		}
	}
	if bestIdx == -1 {
		return nil
	}

	entry := c.queues[bestTenant][bestIdx]
	c.queues[bestTenant] = append(c.queues[bestTenant][:bestIdx], c.queues[bestTenant][bestIdx+1:]...)
	if len(c.queues[bestTenant]) == 0 {
		delete(c.queues, bestTenant)
	}
	c.queued--
	if t, ok := c.tracked[entry.scan.ID()]; ok {
		t.charged = true
	}
	c.running[bestTenant]++
	c.total++
	return entry.scan
}

// CancelQueued removes a scan from its tenant queue if it has not yet been
// promoted. It returns true when the scan was queued and is now cancelled;
// cancellation of running scans is the orchestrator's responsibility.
func (c *Controller) CancelQueued(ctx context.Context, scanID uuid.UUID) bool {
	ctx, span := c.tracer.Start(ctx, "admission.cancel_queued",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())),
	)
	defer span.End()

	c.mu.Lock()
	var cancelled *scanning.Scan
	for tenantID, queue := range c.queues {
		for i, entry := range queue {
			if entry.scan.ID() == scanID {
				c.queues[tenantID] = append(queue[:i], queue[i+1:]...)
				if len(c.queues[tenantID]) == 0 {
					delete(c.queues, tenantID)
				}
				c.queued--
				delete(c.tracked, scanID)
				cancelled = entry.scan
				break
			}
		}
		if cancelled != nil {
			break
		}
	}
	c.mu.Unlock()

	if cancelled == nil {
		return false
	}

	if err := cancelled.Cancel(); err != nil {
		c.logger.Error(ctx, "Failed to cancel queued scan", "error", err, "scan_id", scanID)
	}
	c.auditor.Record(ctx, audit.NewRecord(
		scanID, audit.ActorTenant, audit.ActionScanCancelled, "queued",
		audit.OutcomeSuccess, "",
	))
	if err := c.progress.Publish(ctx, scanning.NewProgressEvent(
		scanID, 0, scanning.PhaseCancelled, 0, "cancelled while queued", c.clock.Now(),
	)); err != nil {
		c.logger.Warn(ctx, "Failed to publish cancellation event", "error", err, "scan_id", scanID)
	}
	span.AddEvent("queued_scan_cancelled")
	return true
}

// RunningCount returns the number of scans currently holding a slot for the tenant.
func (c *Controller) RunningCount(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[tenantID]
}

// QueueDepth returns the number of waiting requests across all tenants.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}
