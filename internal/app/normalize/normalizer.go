// Package normalize converts heterogeneous raw tool outputs into the unified
// finding schema and merges them into a single deterministic report.
package normalize

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/findings"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// parseFunc converts one raw payload into unified findings.
type parseFunc func(payload []byte) ([]findings.Finding, error)

// Normalizer merges raw tool outputs into a single Report. Merging is
// idempotent and independent of the order outputs arrive in: the same set of
// outputs always yields a byte-identical report (modulo timestamps).
type Normalizer struct {
	parsers map[string]parseFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewNormalizer constructs a Normalizer with parsers for every supported
// payload format.
func NewNormalizer(log *logger.Logger, tracer trace.Tracer) *Normalizer {
	return &Normalizer{
		parsers: map[string]parseFunc{
			FormatSARIF:        parseSARIF,
			FormatGitleaksJSON: parseGitleaks,
		},
		logger: log.With("component", "normalizer"),
		tracer: tracer,
	}
}

// Merge builds the unified report for a scan from its raw tool outputs.
// Unusable outputs (failed, timed out, skipped) contribute a tool summary but
// no findings; a payload that fails to parse is downgraded to a tool failure
// rather than aborting the merge. Findings sharing a fingerprint collapse
// into one entry at the highest reported severity, listing every
// corroborating tool.
func (n *Normalizer) Merge(
	ctx context.Context,
	scanID uuid.UUID,
	tenantID string,
	outputs []scanning.RawToolOutput,
	now time.Time,
) *findings.Report {
	ctx, span := n.tracer.Start(ctx, "normalizer.merge",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.String("tenant_id", tenantID),
			attribute.Int("output_count", len(outputs)),
		),
	)
	defer span.End()

	// Sort outputs by tool name up front so every downstream decision is
	// order-independent.
	sorted := make([]scanning.RawToolOutput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tool < sorted[j].Tool })

	merged := make(map[string]*findings.Finding)
	summaries := make([]findings.ToolSummary, 0, len(sorted))
	usable, failed := 0, 0

	for _, out := range sorted {
		summary := findings.ToolSummary{
			Tool:     out.Tool,
			Status:   string(out.Status),
			ExitCode: out.ExitCode,
			Duration: out.Duration,
			RawBytes: len(out.Payload),
		}

		switch {
		case out.Status == scanning.ToolStatusSkipped:
			// Not applicable to this workspace; neither usable nor failed.

		case !out.Usable():
			failed++
			summary.Error = out.Stderr

		default:
			parsed, err := n.parseOutput(out)
			if err != nil {
				span.RecordError(err)
				n.logger.Warn(ctx, "Tool payload failed to parse",
					"scan_id", scanID, "tool", out.Tool, "format", out.Format, "error", err)
				failed++
				summary.Status = string(scanning.ToolStatusFailed)
				summary.Error = err.Error()
				break
			}

			usable++
			summary.Findings = len(parsed)
			for _, f := range parsed {
				f.ScanID = scanID
				f.Tool = out.Tool
				f.CorroboratedBy = []string{out.Tool}
				mergeFinding(merged, f)
			}
		}

		summaries = append(summaries, summary)
	}

	fs := make([]findings.Finding, 0, len(merged))
	for _, f := range merged {
		fs = append(fs, *f)
	}
	findings.SortFindings(fs)

	report := &findings.Report{
		ScanID:    scanID,
		TenantID:  tenantID,
		Findings:  fs,
		Tools:     summaries,
		Outcome:   mergeOutcome(usable, failed),
		CreatedAt: now,
	}

	span.SetAttributes(
		attribute.Int("finding_count", len(fs)),
		attribute.String("outcome", string(report.Outcome)),
	)
	n.logger.Info(ctx, "Merged tool outputs into report",
		"scan_id", scanID,
		"findings", len(fs),
		"usable_tools", usable,
		"failed_tools", failed,
		"outcome", report.Outcome,
	)
	return report
}

func (n *Normalizer) parseOutput(out scanning.RawToolOutput) ([]findings.Finding, error) {
	parse, ok := n.parsers[out.Format]
	if !ok {
		return nil, &unknownFormatError{format: out.Format}
	}
	return parse(out.Payload)
}

// mergeFinding folds one finding into the de-duplication map. On a
// fingerprint collision the higher severity wins; on equal severity the
// lexicographically smallest tool's rendition wins, so the result does not
// depend on arrival order. Corroborating tools accumulate either way.
func mergeFinding(merged map[string]*findings.Finding, f findings.Finding) {
	fp := f.Fingerprint()
	existing, ok := merged[fp]
	if !ok {
		merged[fp] = &f
		return
	}

	if f.Severity > existing.Severity ||
		(f.Severity == existing.Severity && f.Tool < existing.Tool) {
		f.CorroboratedBy = existing.CorroboratedBy
		*existing = f
	}
	existing.CorroboratedBy = appendTool(existing.CorroboratedBy, f.Tool)
}

// appendTool inserts tool into the sorted, de-duplicated corroboration list.
func appendTool(tools []string, tool string) []string {
	i := sort.SearchStrings(tools, tool)
	if i < len(tools) && tools[i] == tool {
		return tools
	}
	tools = append(tools, "")
	copy(tools[i+1:], tools[i:])
	tools[i] = tool
	return tools
}

// mergeOutcome derives the overall outcome from tool counts. Skipped tools
// count toward neither side.
func mergeOutcome(usable, failed int) findings.Outcome {
	switch {
	case usable == 0:
		return findings.OutcomeFailed
	case failed > 0:
		return findings.OutcomePartial
	default:
		return findings.OutcomeSucceeded
	}
}

// unknownFormatError reports a payload format no parser is registered for.
type unknownFormatError struct{ format string }

func (e *unknownFormatError) Error() string {
	return "no parser registered for format " + e.format
}
