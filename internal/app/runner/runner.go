package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// Runner executes the requested tool adapters against a workspace, emitting
// one RawToolOutput per adapter as it becomes available.
type Runner struct {
	registry    *Registry
	parallelism int64
	toolTimeout time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRunner constructs a Runner with the given adapter registry, parallelism
// limit, and per-tool timeout. The per-tool timeout must be shorter than the
// sandbox wall-clock timeout so a hung tool is caught first.
func NewRunner(registry *Registry, parallelism int, toolTimeout time.Duration, log *logger.Logger, tracer trace.Tracer) *Runner {
	return &Runner{
		registry:    registry,
		parallelism: int64(parallelism),
		toolTimeout: toolTimeout,
		logger:      log.With("component", "scanner_runner"),
		tracer:      tracer,
	}
}

// Run invokes each requested adapter against the workspace, up to the
// configured parallelism. Outputs are emitted incrementally through emit as
// adapters finish, never buffered in full first. Individual adapter failures
// and timeouts are recorded in their outputs; only a network policy violation
// or a resource ceiling breach aborts the run.
func (r *Runner) Run(
	ctx context.Context,
	scanID uuid.UUID,
	ws scanning.Workspace,
	tools []string,
	emit func(scanning.RawToolOutput),
) error {
	ctx, span := r.tracer.Start(ctx, "runner.run",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.Int("tool_count", len(tools)),
		),
	)
	defer span.End()

	var emitMu sync.Mutex
	send := func(out scanning.RawToolOutput) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(out)
	}

	sem := semaphore.NewWeighted(r.parallelism)
	g, gctx := errgroup.WithContext(ctx)

	for _, tool := range tools {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			out, err := r.runTool(gctx, scanID, ws, tool)
			if err != nil {
				return err
			}
			send(out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner aborted")
		return err
	}

	span.SetStatus(codes.Ok, "all adapters returned")
	return nil
}

// runTool executes one adapter with its own timeout. Failures and timeouts
// are encoded in the output's status; the error return is non-nil only for
// network policy violations and resource ceiling breaches, which must abort
// the whole run.
func (r *Runner) runTool(ctx context.Context, scanID uuid.UUID, ws scanning.Workspace, tool string) (scanning.RawToolOutput, error) {
	logger := r.logger.With("tool", tool, "scan_id", scanID)
	ctx, span := r.tracer.Start(ctx, "runner.run_tool",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.String("tool", tool),
		),
	)
	defer span.End()

	adapter, ok := r.registry.Get(tool)
	if !ok {
		span.AddEvent("adapter_not_registered")
		return scanning.RawToolOutput{
			ScanID: scanID,
			Tool:   tool,
			Status: scanning.ToolStatusFailed,
			Stderr: "adapter not registered",
		}, nil
	}

	if !adapter.Accepts(ctx, ws) {
		span.AddEvent("adapter_declined_workspace")
		logger.Debug(ctx, "Adapter declined workspace")
		return scanning.RawToolOutput{
			ScanID: scanID,
			Tool:   tool,
			Status: scanning.ToolStatusSkipped,
		}, nil
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	start := time.Now()
	out, err := adapter.Invoke(toolCtx, ws)
	out.ScanID = scanID
	out.Tool = tool
	out.Duration = time.Since(start)

	var violation *scanning.NetworkPolicyViolationError
	if errors.As(err, &violation) {
		// Fatal: surfaced to the orchestrator, which fails the scan and
		// writes the security-relevant audit record.
		span.RecordError(err)
		span.SetStatus(codes.Error, "network policy violation")
		logger.Error(ctx, "Adapter attempted network access while isolated", "error", err)
		return out, violation
	}

	// A ceiling breach is fatal to the scan, never retried: the ceilings are
	// hard limits and a breach likely indicates pathological input.
	var exceeded *scanning.ResourceExceededError
	if errors.As(err, &exceeded) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resource ceiling exceeded")
		logger.Error(ctx, "Adapter breached a resource ceiling", "error", err, "limit", exceeded.Limit)
		return out, exceeded
	}

	// A timeout on the tool context, while the parent is still live, means
	// this adapter hung and was force-terminated. Siblings proceed.
	if toolCtx.Err() != nil && ctx.Err() == nil {
		span.AddEvent("adapter_timed_out")
		logger.Warn(ctx, "Adapter exceeded per-tool timeout", "timeout", r.toolTimeout)
		out.Status = scanning.ToolStatusTimedOut
		out.Payload = nil
		return out, nil
	}

	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "Adapter invocation failed", "error", err)
		out.Status = scanning.ToolStatusFailed
		if out.Stderr == "" {
			out.Stderr = err.Error()
		}
		return out, nil
	}

	span.AddEvent("adapter_completed",
		trace.WithAttributes(attribute.Int("payload_bytes", len(out.Payload))))
	return out, nil
}
