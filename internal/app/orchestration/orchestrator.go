// Package orchestration drives an admitted scan through the full sandbox
// lifecycle: credential issuance, provisioning, network-open clone, network
// isolation, tool execution, merge, and guaranteed teardown.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/app/admission"
	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/domain/audit"
	"github.com/ahrav/scanforge/internal/domain/credentials"
	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/findings"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// Config holds the orchestration tunables. Zero values are replaced with the
// package defaults at construction.
type Config struct {
	// Limits are the hard resource ceilings applied to every sandbox.
	Limits scanning.ResourceLimits

	// CredentialTTL is the requested credential lifetime; the broker clamps
	// it to the platform maximum.
	CredentialTTL time.Duration

	// CloneTimeout bounds the network-open repository fetch.
	CloneTimeout time.Duration

	// HeartbeatInterval is how often a liveness event is published while the
	// scan makes no phase progress.
	HeartbeatInterval time.Duration

	// IssueRetries and ProvisionRetries bound the retry budget for the two
	// retryable setup steps. Everything after isolation is never retried.
	IssueRetries     uint64
	ProvisionRetries uint64
	RevokeRetries    uint64
}

func (c Config) withDefaults() Config {
	if c.CredentialTTL <= 0 {
		c.CredentialTTL = credentials.MaxTTL
	}
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.Limits.WallClock <= 0 {
		c.Limits.WallClock = 60 * time.Minute
	}
	if c.IssueRetries == 0 {
		c.IssueRetries = 3
	}
	if c.ProvisionRetries == 0 {
		c.ProvisionRetries = 3
	}
	if c.RevokeRetries == 0 {
		c.RevokeRetries = 5
	}
	return c
}

// SlotReleaser frees the admission slot a scan holds. Implemented by the
// admission controller; duplicate releases are ignored there.
type SlotReleaser interface {
	Release(ctx context.Context, scanID uuid.UUID)
}

// Metrics defines the orchestration-specific telemetry recorded per scan.
type Metrics interface {
	IncScansCompleted(ctx context.Context, tenantID string)
	IncScansFailed(ctx context.Context, tenantID string, reason scanning.FailureReason)
	IncScansCancelled(ctx context.Context, tenantID string)
	ObserveScanDuration(ctx context.Context, tenantID string, d time.Duration)
	IncCredentialReconciliationGaps(ctx context.Context)
	IncNetworkViolations(ctx context.Context, tenantID string)
	SetActiveSandboxes(ctx context.Context, count int)
}

// Orchestrator owns the sandbox lifecycle for every running scan. Each scan
// executes in its own goroutine; the orchestrator guarantees that on every
// exit path the sandbox is torn down, the credential is revoked, and the
// admission slot is released exactly once.
type Orchestrator struct {
	cfg Config

	broker     credentials.Broker
	provider   scanning.SandboxProvider
	runner     *runner.Runner
	normalizer *normalize.Normalizer
	reports    findings.ReportStore
	progress   scanning.ProgressPublisher
	auditor    audit.Recorder
	releaser   SlotReleaser
	bus        events.DomainEventPublisher
	clock      scanning.TimeProvider

	rootCtx context.Context

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelCauseFunc
	active  int
	wg      sync.WaitGroup

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewOrchestrator constructs an Orchestrator. rootCtx bounds every scan this
// orchestrator will ever launch; cancelling it begins a drain.
func NewOrchestrator(
	rootCtx context.Context,
	cfg Config,
	broker credentials.Broker,
	provider scanning.SandboxProvider,
	run *runner.Runner,
	norm *normalize.Normalizer,
	reports findings.ReportStore,
	progress scanning.ProgressPublisher,
	auditor audit.Recorder,
	releaser SlotReleaser,
	bus events.DomainEventPublisher,
	clock scanning.TimeProvider,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		broker:     broker,
		provider:   provider,
		runner:     run,
		normalizer: norm,
		reports:    reports,
		progress:   progress,
		auditor:    auditor,
		releaser:   releaser,
		bus:        bus,
		clock:      clock,
		rootCtx:    rootCtx,
		cancels:    make(map[uuid.UUID]context.CancelCauseFunc),
		logger:     log.With("component", "orchestrator"),
		tracer:     tracer,
		metrics:    metrics,
	}
}

var _ admission.ScanLauncher = (*Orchestrator)(nil)

// LaunchScan starts the sandbox lifecycle for a scan holding an admission
// slot. It never blocks the caller; the scan runs in its own goroutine.
func (o *Orchestrator) LaunchScan(scan *scanning.Scan) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(scan)
	}()
}

// Cancel requests cancellation of a running scan. It returns false when the
// scan is not currently executing (already terminal, or still queued — queued
// cancellation belongs to the admission controller). Cancellation is
// observable promptly: every blocking step in the pipeline watches the scan
// context.
func (o *Orchestrator) Cancel(scanID uuid.UUID) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[scanID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel(scanning.ErrCancelled)
	return true
}

// Shutdown waits for in-flight scans to reach a terminal state. Cancel the
// root context first for a fast drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs one scan end to end. Teardown, credential revocation, and slot
// release happen in cleanup, exactly once per scan, and always BEFORE the
// terminal event is published: an observer that sees the terminal
// acknowledgement can rely on the sandbox being gone, the credential revoked,
// and the slot free. The deferred cleanup call is the panic backstop.
func (o *Orchestrator) execute(scan *scanning.Scan) {
	scanCtx, cancel := context.WithCancelCause(o.rootCtx)
	defer cancel(nil)

	o.mu.Lock()
	o.cancels[scan.ID()] = cancel
	o.active++
	active := o.active
	o.mu.Unlock()
	o.metrics.SetActiveSandboxes(scanCtx, active)

	defer func() {
		o.mu.Lock()
		delete(o.cancels, scan.ID())
		o.active--
		active := o.active
		o.mu.Unlock()
		o.metrics.SetActiveSandboxes(context.Background(), active)
	}()

	wallCtx, wallCancel := context.WithTimeout(scanCtx, o.cfg.Limits.WallClock)
	defer wallCancel()

	ctx, span := o.tracer.Start(wallCtx, "orchestration.execute_scan",
		trace.WithAttributes(
			attribute.String("scan_id", scan.ID().String()),
			attribute.String("tenant_id", scan.TenantID()),
		),
	)
	defer span.End()

	started := o.clock.Now()
	if err := scan.MarkRunning(); err != nil {
		span.RecordError(err)
		o.logger.Error(ctx, "Scan could not enter running state", "error", err, "scan_id", scan.ID())
		o.releaser.Release(context.WithoutCancel(ctx), scan.ID())
		return
	}

	sb := scanning.NewSandboxInstance(scan.ID(), o.cfg.Limits, o.clock)
	tracker := newPhaseTracker(scanning.PhaseProvisioning)
	stopHeartbeat := o.startHeartbeat(scanCtx, scan.ID(), tracker)

	var (
		env    scanning.SandboxEnv
		cred   *credentials.Credential
		report *findings.Report
		perr   error
	)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cleanupCancel()
			o.teardownSandbox(cleanupCtx, scan.ID(), env)
			o.revokeCredential(cleanupCtx, scan.ID(), cred)
			o.releaser.Release(cleanupCtx, scan.ID())
		})
	}
	defer cleanup()

	env, cred, report, perr = o.runPipeline(ctx, scan, sb, tracker)
	stopHeartbeat()

	// A deadline surfacing from the pipeline can only be the wall clock: the
	// per-step deadlines are classified where they fire. The wall clock is one
	// of the hard ceilings, so its breach is a resource_exceeded failure.
	if errors.Is(perr, context.DeadlineExceeded) {
		perr = &scanFailure{
			reason: scanning.ReasonResourceExceeded,
			err: &scanning.ResourceExceededError{
				Limit: "wall_clock",
				Msg:   fmt.Sprintf("scan exceeded the %s wall clock", o.cfg.Limits.WallClock),
			},
		}
	}

	cleanup()
	o.finish(ctx, scanCtx, scan, sb, started, report, perr)
}

// runPipeline advances the sandbox through its forward states. It returns the
// sandbox handle and credential even on error so the caller's deferred
// cleanup can see them.
func (o *Orchestrator) runPipeline(
	ctx context.Context,
	scan *scanning.Scan,
	sb *scanning.SandboxInstance,
	tracker *phaseTracker,
) (scanning.SandboxEnv, *credentials.Credential, *findings.Report, error) {
	req := scan.Request()

	if err := o.transition(ctx, sb, scanning.SandboxStateProvisioning); err != nil {
		return nil, nil, nil, err
	}
	o.publishPhase(ctx, scan.ID(), tracker, scanning.PhaseProvisioning,
		scanning.PhaseProvisioning.Percent(), "issuing scoped credential")

	cred, err := o.issueCredential(ctx, scan.ID(), req.RepositoryURL)
	if err != nil {
		return nil, nil, nil, err
	}
	o.auditor.Record(ctx, audit.NewRecord(
		scan.ID(), audit.ActorSystem, audit.ActionCredentialIssued, cred.ID().String(),
		audit.OutcomeSuccess, "scope="+string(cred.Scope()),
	))

	env, err := o.provisionSandbox(ctx, sb)
	if err != nil {
		return nil, cred, nil, err
	}
	if err := o.transition(ctx, sb, scanning.SandboxStateNetworkOpen); err != nil {
		return env, cred, nil, err
	}

	if err := o.transition(ctx, sb, scanning.SandboxStateCloning); err != nil {
		return env, cred, nil, err
	}
	o.publishPhase(ctx, scan.ID(), tracker, scanning.PhaseCloning,
		scanning.PhaseCloning.Percent(), "fetching repository")

	cloneCtx, cloneCancel := context.WithTimeout(ctx, o.cfg.CloneTimeout)
	err = env.Clone(cloneCtx, scanning.CloneSpec{
		RepositoryURL: req.RepositoryURL,
		Branch:        req.Branch,
		CommitSHA:     req.CommitSHA,
		Token:         cred.Token(),
		Timeout:       o.cfg.CloneTimeout,
	})
	cloneCancel()
	if err != nil {
		if ctx.Err() != nil {
			return env, cred, nil, ctx.Err()
		}
		var exceeded *scanning.ResourceExceededError
		if errors.As(err, &exceeded) {
			return env, cred, nil, &scanFailure{reason: scanning.ReasonResourceExceeded, err: err}
		}
		return env, cred, nil, &scanFailure{reason: scanning.ReasonCloneFailed, err: err}
	}

	// Isolation is the security boundary: it must hold before any adapter
	// touches the workspace.
	if err := env.IsolateNetwork(ctx); err != nil {
		return env, cred, nil, &scanFailure{
			reason: scanning.ReasonInternal,
			err:    fmt.Errorf("isolating sandbox network: %w", err),
		}
	}
	if err := o.transition(ctx, sb, scanning.SandboxStateNetworkIsolated); err != nil {
		return env, cred, nil, err
	}

	if err := o.transition(ctx, sb, scanning.SandboxStateScanning); err != nil {
		return env, cred, nil, err
	}
	o.publishPhase(ctx, scan.ID(), tracker, scanning.PhaseScanning,
		scanning.PhaseScanning.Percent(), "network isolated, running scanners")

	outputs, err := o.runScanners(ctx, scan, tracker, env, req.Tools)
	if err != nil {
		return env, cred, nil, err
	}
	// Adapters swallow the context error into their per-tool status; surface
	// a cancellation or wall-clock expiry here instead of merging stale output.
	if err := ctx.Err(); err != nil {
		return env, cred, nil, err
	}

	if err := o.transition(ctx, sb, scanning.SandboxStateMerging); err != nil {
		return env, cred, nil, err
	}
	o.publishPhase(ctx, scan.ID(), tracker, scanning.PhaseMerging,
		scanning.PhaseMerging.Percent(), "normalizing results")

	report := o.normalizer.Merge(ctx, scan.ID(), scan.TenantID(), outputs, o.clock.Now())
	if err := o.persistReport(ctx, report); err != nil {
		return env, cred, report, err
	}

	if report.Outcome == findings.OutcomeFailed {
		return env, cred, report, &scanFailure{
			reason: scanning.ReasonNoUsableOutputs,
			err:    scanning.ErrNoUsableOutputs,
		}
	}

	if err := o.transition(ctx, sb, scanning.SandboxStateCompleted); err != nil {
		return env, cred, report, err
	}
	return env, cred, report, nil
}

// runScanners executes the requested adapters and publishes per-tool progress
// as each one finishes. Percent advances from the scanning baseline toward
// the merging baseline proportionally to tools completed.
func (o *Orchestrator) runScanners(
	ctx context.Context,
	scan *scanning.Scan,
	tracker *phaseTracker,
	env scanning.SandboxEnv,
	tools []string,
) ([]scanning.RawToolOutput, error) {
	var (
		mu      sync.Mutex
		outputs []scanning.RawToolOutput
		done    int
	)
	base := scanning.PhaseScanning.Percent()
	width := scanning.PhaseMerging.Percent() - base

	err := o.runner.Run(ctx, scan.ID(), env, tools, func(out scanning.RawToolOutput) {
		mu.Lock()
		outputs = append(outputs, out)
		done++
		pct := base + width*done/len(tools)
		mu.Unlock()

		o.publishPhase(ctx, scan.ID(), tracker, scanning.PhaseScanning, pct,
			fmt.Sprintf("tool %s %s", out.Tool, out.Status))
	})
	if err != nil {
		var violation *scanning.NetworkPolicyViolationError
		if errors.As(err, &violation) {
			o.metrics.IncNetworkViolations(ctx, scan.TenantID())
			o.auditor.Record(ctx, audit.NewRecord(
				scan.ID(), audit.ActorSystem, audit.ActionNetworkViolation, violation.Tool,
				audit.OutcomeDenied, violation.Detail,
			))
			return nil, &scanFailure{reason: scanning.ReasonNetworkPolicy, err: err}
		}
		var exceeded *scanning.ResourceExceededError
		if errors.As(err, &exceeded) {
			return nil, &scanFailure{reason: scanning.ReasonResourceExceeded, err: err}
		}
		return nil, err
	}
	return outputs, nil
}

// issueCredential obtains a scoped credential with bounded exponential
// backoff. Exhaustion fails the scan before any sandbox resources exist.
func (o *Orchestrator) issueCredential(ctx context.Context, scanID uuid.UUID, repository string) (*credentials.Credential, error) {
	var cred *credentials.Credential
	op := func() error {
		var err error
		cred, err = o.broker.Issue(ctx, scanID, repository, o.cfg.CredentialTTL)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), o.cfg.IssueRetries)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scanFailure{
			reason: scanning.ReasonCredentialUnavailable,
			err:    fmt.Errorf("%w: %w", scanning.ErrCredentialUnavailable, err),
		}
	}
	return cred, nil
}

// provisionSandbox allocates the execution context with bounded retries.
func (o *Orchestrator) provisionSandbox(ctx context.Context, sb *scanning.SandboxInstance) (scanning.SandboxEnv, error) {
	var env scanning.SandboxEnv
	op := func() error {
		var err error
		env, err = o.provider.Provision(ctx, scanning.ProvisionSpec{
			ScanID: sb.ScanID(),
			Limits: sb.Limits(),
		})
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), o.cfg.ProvisionRetries)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scanFailure{
			reason: scanning.ReasonProvisioningFailed,
			err:    fmt.Errorf("%w: %w", scanning.ErrProvisioningFailed, err),
		}
	}
	return env, nil
}

// persistReport saves the merged report, records the audit entry, and bumps
// the tenant's usage counter. Usage accounting failures are logged, never
// fatal.
func (o *Orchestrator) persistReport(ctx context.Context, report *findings.Report) error {
	if err := o.reports.Save(ctx, report); err != nil {
		o.auditor.Record(ctx, audit.NewRecord(
			report.ScanID, audit.ActorSystem, audit.ActionReportPersisted, string(report.Outcome),
			audit.OutcomeFailure, err.Error(),
		))
		return &scanFailure{
			reason: scanning.ReasonInternal,
			err:    fmt.Errorf("persisting report: %w", err),
		}
	}
	o.auditor.Record(ctx, audit.NewRecord(
		report.ScanID, audit.ActorSystem, audit.ActionReportPersisted, string(report.Outcome),
		audit.OutcomeSuccess, fmt.Sprintf("findings=%d", len(report.Findings)),
	))

	now := o.clock.Now().UTC()
	if err := o.reports.IncrementTenantUsage(ctx, report.TenantID, now.Year(), now.Month()); err != nil {
		o.logger.Warn(ctx, "Failed to record tenant usage",
			"error", err, "tenant_id", report.TenantID, "scan_id", report.ScanID)
	}
	return nil
}

// finish classifies the pipeline outcome, moves the aggregates to their
// terminal states, and publishes the terminal progress event, audit record,
// domain event, and metrics.
func (o *Orchestrator) finish(
	ctx context.Context,
	scanCtx context.Context,
	scan *scanning.Scan,
	sb *scanning.SandboxInstance,
	started time.Time,
	report *findings.Report,
	perr error,
) {
	span := trace.SpanFromContext(ctx)
	duration := o.clock.Now().Sub(started)
	o.metrics.ObserveScanDuration(ctx, scan.TenantID(), duration)
	// Terminal publishing runs on a context that survives the wall clock.
	pubCtx := context.WithoutCancel(ctx)

	if perr == nil {
		if err := scan.Complete(); err != nil {
			o.logger.Error(ctx, "Scan could not complete", "error", err, "scan_id", scan.ID())
		}
		o.publishProgress(pubCtx, scanning.NewProgressEvent(
			scan.ID(), 0, scanning.PhaseCompleted, scanning.PhaseCompleted.Percent(),
			"scan completed", o.clock.Now(),
		))
		o.publishEvent(pubCtx, scan.ID(), scanning.NewScanCompletedEvent(
			scan.ID(), scan.TenantID(), len(report.Findings), duration,
		))
		o.metrics.IncScansCompleted(ctx, scan.TenantID())
		span.SetStatus(codes.Ok, "scan completed")
		o.logger.Info(ctx, "Scan completed",
			"scan_id", scan.ID(), "tenant_id", scan.TenantID(),
			"findings", len(report.Findings), "duration", duration)
		return
	}

	if cancelled(scanCtx, perr) {
		o.terminateSandbox(ctx, sb, scanning.SandboxStateCancelled)
		if err := scan.Cancel(); err != nil {
			o.logger.Error(ctx, "Scan could not cancel", "error", err, "scan_id", scan.ID())
		}
		o.auditor.Record(pubCtx, audit.NewRecord(
			scan.ID(), audit.ActorTenant, audit.ActionScanCancelled, "running",
			audit.OutcomeSuccess, "",
		))
		o.publishProgress(pubCtx, scanning.NewProgressEvent(
			scan.ID(), 0, scanning.PhaseCancelled, 0, "scan cancelled", o.clock.Now(),
		))
		o.publishEvent(pubCtx, scan.ID(), scanning.NewScanCancelledEvent(scan.ID(), scan.TenantID()))
		o.metrics.IncScansCancelled(ctx, scan.TenantID())
		span.AddEvent("scan_cancelled")
		o.logger.Info(ctx, "Scan cancelled", "scan_id", scan.ID(), "tenant_id", scan.TenantID())
		return
	}

	reason := classifyFailure(perr)
	o.terminateSandbox(ctx, sb, scanning.SandboxStateFailed)
	if err := scan.Fail(reason); err != nil {
		o.logger.Error(ctx, "Scan could not fail", "error", err, "scan_id", scan.ID())
	}
	o.publishProgress(pubCtx, scanning.NewProgressEvent(
		scan.ID(), 0, scanning.PhaseFailed, 0, "scan failed: "+string(reason), o.clock.Now(),
	))
	o.publishEvent(pubCtx, scan.ID(), scanning.NewScanFailedEvent(
		scan.ID(), scan.TenantID(), reason, perr.Error(),
	))
	o.metrics.IncScansFailed(ctx, scan.TenantID(), reason)
	span.RecordError(perr)
	span.SetStatus(codes.Error, string(reason))
	o.logger.Error(ctx, "Scan failed",
		"scan_id", scan.ID(), "tenant_id", scan.TenantID(),
		"reason", reason, "error", perr)
}

// cancelled reports whether the pipeline stopped because of an external
// cancellation rather than a failure or timeout.
func cancelled(scanCtx context.Context, perr error) bool {
	if errors.Is(perr, scanning.ErrCancelled) {
		return true
	}
	return errors.Is(context.Cause(scanCtx), scanning.ErrCancelled)
}

// classifyFailure maps a pipeline error onto the stable failure taxonomy.
func classifyFailure(perr error) scanning.FailureReason {
	var sf *scanFailure
	if errors.As(perr, &sf) {
		return sf.reason
	}
	return scanning.ReasonInternal
}

// transition advances the sandbox state machine and records the audit entry.
func (o *Orchestrator) transition(ctx context.Context, sb *scanning.SandboxInstance, target scanning.SandboxState) error {
	from := sb.State()
	if err := sb.TransitionTo(target); err != nil {
		return &scanFailure{reason: scanning.ReasonInternal, err: err}
	}
	o.auditor.Record(ctx, audit.NewRecord(
		sb.ScanID(), audit.ActorSystem, audit.ActionSandboxTransition, sb.ID().String(),
		audit.OutcomeSuccess, fmt.Sprintf("%s -> %s", from, target),
	))
	return nil
}

// terminateSandbox moves the sandbox aggregate to a terminal state if it has
// not reached one already.
func (o *Orchestrator) terminateSandbox(ctx context.Context, sb *scanning.SandboxInstance, target scanning.SandboxState) {
	if sb.State().IsTerminal() {
		return
	}
	if err := o.transition(ctx, sb, target); err != nil {
		o.logger.Error(ctx, "Sandbox could not reach terminal state",
			"error", err, "sandbox_id", sb.ID(), "target", target)
	}
}

// teardownSandbox releases the execution context. Teardown errors are audited
// and logged; they never change the scan's outcome.
func (o *Orchestrator) teardownSandbox(ctx context.Context, scanID uuid.UUID, env scanning.SandboxEnv) {
	if env == nil {
		return
	}
	if err := env.Teardown(ctx); err != nil {
		o.logger.Error(ctx, "Sandbox teardown failed", "error", err, "scan_id", scanID, "sandbox_id", env.ID())
		o.auditor.Record(ctx, audit.NewRecord(
			scanID, audit.ActorSystem, audit.ActionSandboxTeardown, env.ID(),
			audit.OutcomeFailure, err.Error(),
		))
		return
	}
	o.auditor.Record(ctx, audit.NewRecord(
		scanID, audit.ActorSystem, audit.ActionSandboxTeardown, env.ID(),
		audit.OutcomeSuccess, "",
	))
}

// revokeCredential revokes with bounded retries. A credential that cannot be
// revoked is a reconciliation gap: the TTL bounds the exposure, and the gap
// is audited and alerted on rather than failing the scan.
func (o *Orchestrator) revokeCredential(ctx context.Context, scanID uuid.UUID, cred *credentials.Credential) {
	if cred == nil {
		return
	}

	op := func() error { return o.broker.Revoke(ctx, cred.ID()) }
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), o.cfg.RevokeRetries)); err != nil {
		o.metrics.IncCredentialReconciliationGaps(ctx)
		o.auditor.Record(ctx, audit.NewRecord(
			scanID, audit.ActorSystem, audit.ActionCredentialGap, cred.ID().String(),
			audit.OutcomeFailure,
			fmt.Sprintf("revocation exhausted, credential expires at %s: %s",
				cred.ExpiresAt().Format(time.RFC3339), err),
		))
		o.logger.Error(ctx, "Credential revocation exhausted, relying on TTL expiry",
			"error", err, "scan_id", scanID, "credential_id", cred.ID(),
			"expires_at", cred.ExpiresAt())
		return
	}
	o.auditor.Record(ctx, audit.NewRecord(
		scanID, audit.ActorSystem, audit.ActionCredentialRevoked, cred.ID().String(),
		audit.OutcomeSuccess, "",
	))
}

// publishPhase publishes a progress event and remembers the phase for the
// heartbeat loop.
func (o *Orchestrator) publishPhase(
	ctx context.Context,
	scanID uuid.UUID,
	tracker *phaseTracker,
	phase scanning.ScanPhase,
	percent int,
	message string,
) {
	tracker.set(phase, percent)
	o.publishProgress(ctx, scanning.NewProgressEvent(scanID, 0, phase, percent, message, o.clock.Now()))
}

func (o *Orchestrator) publishProgress(ctx context.Context, evt scanning.ProgressEvent) {
	if err := o.progress.Publish(ctx, evt); err != nil {
		o.logger.Warn(ctx, "Failed to publish progress event",
			"error", err, "scan_id", evt.ScanID(), "phase", evt.Phase())
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, scanID uuid.UUID, evt events.DomainEvent) {
	if o.bus == nil {
		return
	}
	if err := o.bus.PublishDomainEvent(ctx, evt, events.WithKey(scanID.String())); err != nil {
		o.logger.Warn(ctx, "Failed to publish domain event",
			"error", err, "scan_id", scanID, "event_type", evt.EventType())
	}
}

// startHeartbeat emits liveness events at the configured interval until
// stopped. The returned stop function must be called before the terminal
// progress event so no heartbeat trails it.
func (o *Orchestrator) startHeartbeat(ctx context.Context, scanID uuid.UUID, tracker *phaseTracker) func() {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				phase, percent := tracker.get()
				o.publishProgress(hbCtx, scanning.NewHeartbeatEvent(scanID, 0, phase, percent, o.clock.Now()))
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

// phaseTracker is the shared view of scan progress read by the heartbeat loop.
type phaseTracker struct {
	mu      sync.Mutex
	phase   scanning.ScanPhase
	percent int
}

func newPhaseTracker(initial scanning.ScanPhase) *phaseTracker {
	return &phaseTracker{phase: initial, percent: initial.Percent()}
}

func (t *phaseTracker) set(phase scanning.ScanPhase, percent int) {
	t.mu.Lock()
	t.phase, t.percent = phase, percent
	t.mu.Unlock()
}

func (t *phaseTracker) get() (scanning.ScanPhase, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase, t.percent
}

// scanFailure carries the stable failure reason a pipeline step decided on.
type scanFailure struct {
	reason scanning.FailureReason
	err    error
}

func (f *scanFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.reason, f.err)
}

func (f *scanFailure) Unwrap() error { return f.err }
