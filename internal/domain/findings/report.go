package findings

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Outcome is the overall result of a merge across all tools.
type Outcome string

const (
	// OutcomeSucceeded means at least one adapter produced usable output.
	// Individual tool failures do not change a succeeded outcome.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomePartial means at least one adapter produced usable output while
	// one or more others failed or timed out.
	OutcomePartial Outcome = "partial"

	// OutcomeFailed means zero adapters produced usable output.
	OutcomeFailed Outcome = "failed"
)

// ToolSummary records the per-tool success/failure outcome included in every report.
type ToolSummary struct {
	Tool     string        `json:"tool"`
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	RawBytes int           `json:"raw_bytes"`
	Findings int           `json:"findings"`
	// Error holds a human-readable description when the tool failed or its
	// payload could not be parsed.
	Error string `json:"error,omitempty"`
}

// Report is the single normalized output of a scan: ordered findings plus
// the per-tool summary and overall outcome.
type Report struct {
	ScanID    uuid.UUID     `json:"scan_id"`
	TenantID  string        `json:"tenant_id"`
	Findings  []Finding     `json:"findings"`
	Tools     []ToolSummary `json:"tools"`
	Outcome   Outcome       `json:"outcome"`
	CreatedAt time.Time     `json:"created_at"`
}

// SortFindings orders findings by severity (descending), then file path,
// then start line, producing deterministic output for identical inputs.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity != fs[j].Severity {
			return fs[i].Severity > fs[j].Severity
		}
		if fs[i].FilePath != fs[j].FilePath {
			return fs[i].FilePath < fs[j].FilePath
		}
		if fs[i].StartLine != fs[j].StartLine {
			return fs[i].StartLine < fs[j].StartLine
		}
		return fs[i].RuleID < fs[j].RuleID
	})
}

// ReportStore persists normalized reports and tenant usage accounting at the
// boundary with the external persistence layer.
type ReportStore interface {
	// Save persists the merged report for a scan.
	Save(ctx context.Context, report *Report) error

	// Get loads a previously stored report.
	Get(ctx context.Context, scanID uuid.UUID) (*Report, error)

	// IncrementTenantUsage bumps the tenant's scan counter for the given
	// month. Called once per terminal outcome.
	IncrementTenantUsage(ctx context.Context, tenantID string, year int, month time.Month) error
}
