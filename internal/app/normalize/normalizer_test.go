package normalize

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scanforge/internal/domain/findings"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

// semgrepSARIF reports a hardcoded secret in src/app.py:42 at error level plus
// an unused-import note, exercising rule-default level fallback.
const semgrepSARIF = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "semgrep", "rules": [
      {"id": "hardcoded-secret", "defaultConfiguration": {"level": "error"}},
      {"id": "unused-import", "defaultConfiguration": {"level": "note"}}
    ]}},
    "results": [
      {
        "ruleId": "hardcoded-secret",
        "message": {"text": "Hardcoded secret detected"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "src/app.py"},
          "region": {"startLine": 42, "endLine": 42}
        }}]
      },
      {
        "ruleId": "unused-import",
        "message": {"text": "unused import os"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "src/util.py"},
          "region": {"startLine": 3}
        }}]
      },
      {
        "ruleId": "hardcoded-secret",
        "message": {"text": "no location, must be dropped"},
        "locations": []
      }
    ]
  }]
}`

// gitleaksJSON reports the same secret as semgrepSARIF so the two collapse
// into one corroborated finding, plus one unique leak.
const gitleaksJSON = `[
  {
    "RuleID": "hardcoded-secret",
    "Description": "Hardcoded   SECRET detected",
    "File": "src/app.py",
    "StartLine": 42,
    "EndLine": 42
  },
  {
    "RuleID": "aws-access-key",
    "Description": "AWS access key",
    "File": "deploy/config.yml",
    "StartLine": 7
  }
]`

func sarifOutput(tool string, payload string) scanning.RawToolOutput {
	return scanning.RawToolOutput{
		Tool:    tool,
		Format:  FormatSARIF,
		Payload: []byte(payload),
		Status:  scanning.ToolStatusSucceeded,
	}
}

func gitleaksOutput(payload string) scanning.RawToolOutput {
	return scanning.RawToolOutput{
		Tool:    "gitleaks",
		Format:  FormatGitleaksJSON,
		Payload: []byte(payload),
		Status:  scanning.ToolStatusSucceeded,
	}
}

func findingByRule(t *testing.T, fs []findings.Finding, ruleID, path string) findings.Finding {
	t.Helper()
	for _, f := range fs {
		if f.RuleID == ruleID && f.FilePath == path {
			return f
		}
	}
	t.Fatalf("no finding with rule %s in %s", ruleID, path)
	return findings.Finding{}
}

func TestNormalizer_Merge_CrossToolDeduplication(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	scanID := uuid.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	report := n.Merge(context.Background(), scanID, "tenant-a",
		[]scanning.RawToolOutput{sarifOutput("semgrep", semgrepSARIF), gitleaksOutput(gitleaksJSON)}, now)

	require.Equal(t, findings.OutcomeSucceeded, report.Outcome)
	assert.Equal(t, scanID, report.ScanID)
	assert.Equal(t, "tenant-a", report.TenantID)
	assert.Equal(t, now, report.CreatedAt)

	// hardcoded-secret collapses across tools; unused-import and
	// aws-access-key stay distinct. The no-location SARIF result is dropped.
	require.Len(t, report.Findings, 3)

	secret := findingByRule(t, report.Findings, "hardcoded-secret", "src/app.py")
	assert.Equal(t, []string{"gitleaks", "semgrep"}, secret.CorroboratedBy)
	assert.Equal(t, findings.SeverityError, secret.Severity)

	unique := findingByRule(t, report.Findings, "aws-access-key", "deploy/config.yml")
	assert.Equal(t, []string{"gitleaks"}, unique.CorroboratedBy)
	assert.Equal(t, 7, unique.EndLine, "missing end line defaults to start line")

	note := findingByRule(t, report.Findings, "unused-import", "src/util.py")
	assert.Equal(t, findings.SeverityInfo, note.Severity, "rule default level applies when the result has none")
}

func TestNormalizer_Merge_OrderIndependent(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	scanID := uuid.New()
	now := time.Now()
	outputs := []scanning.RawToolOutput{sarifOutput("semgrep", semgrepSARIF), gitleaksOutput(gitleaksJSON)}
	reversed := []scanning.RawToolOutput{outputs[1], outputs[0]}

	a := n.Merge(context.Background(), scanID, "tenant-a", outputs, now)
	b := n.Merge(context.Background(), scanID, "tenant-a", reversed, now)

	assert.Equal(t, a.Findings, b.Findings)
	assert.Equal(t, a.Tools, b.Tools)
	assert.Equal(t, a.Outcome, b.Outcome)
}

func TestNormalizer_Merge_DeterministicOrdering(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	report := n.Merge(context.Background(), uuid.New(), "tenant-a",
		[]scanning.RawToolOutput{sarifOutput("semgrep", semgrepSARIF), gitleaksOutput(gitleaksJSON)}, time.Now())

	// Severity descending, then path, then line.
	require.Len(t, report.Findings, 3)
	assert.Equal(t, "aws-access-key", report.Findings[0].RuleID)
	assert.Equal(t, "hardcoded-secret", report.Findings[1].RuleID)
	assert.Equal(t, "unused-import", report.Findings[2].RuleID)
}

func TestNormalizer_Merge_MalformedPayloadDowngradesToFailure(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	report := n.Merge(context.Background(), uuid.New(), "tenant-a", []scanning.RawToolOutput{
		sarifOutput("semgrep", `{"version": "2.1.0"`),
		gitleaksOutput(gitleaksJSON),
	}, time.Now())

	assert.Equal(t, findings.OutcomePartial, report.Outcome)
	require.Len(t, report.Tools, 2)

	var semgrep findings.ToolSummary
	for _, s := range report.Tools {
		if s.Tool == "semgrep" {
			semgrep = s
		}
	}
	assert.Equal(t, string(scanning.ToolStatusFailed), semgrep.Status)
	assert.NotEmpty(t, semgrep.Error)
}

func TestNormalizer_Merge_UnknownFormatFails(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	report := n.Merge(context.Background(), uuid.New(), "tenant-a", []scanning.RawToolOutput{
		{Tool: "mystery", Format: "xml", Payload: []byte("<findings/>"), Status: scanning.ToolStatusSucceeded},
	}, time.Now())

	assert.Equal(t, findings.OutcomeFailed, report.Outcome)
	require.Len(t, report.Tools, 1)
	assert.Contains(t, report.Tools[0].Error, "no parser registered")
}

func TestNormalizer_Merge_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outputs  []scanning.RawToolOutput
		expected findings.Outcome
	}{
		{
			name:     "all usable",
			outputs:  []scanning.RawToolOutput{sarifOutput("semgrep", semgrepSARIF)},
			expected: findings.OutcomeSucceeded,
		},
		{
			name: "usable plus failed",
			outputs: []scanning.RawToolOutput{
				sarifOutput("semgrep", semgrepSARIF),
				{Tool: "bandit", Status: scanning.ToolStatusFailed, Stderr: "crashed"},
			},
			expected: findings.OutcomePartial,
		},
		{
			name: "usable plus timed out",
			outputs: []scanning.RawToolOutput{
				gitleaksOutput(gitleaksJSON),
				{Tool: "bandit", Status: scanning.ToolStatusTimedOut},
			},
			expected: findings.OutcomePartial,
		},
		{
			name: "all failed",
			outputs: []scanning.RawToolOutput{
				{Tool: "semgrep", Status: scanning.ToolStatusFailed},
				{Tool: "bandit", Status: scanning.ToolStatusTimedOut},
			},
			expected: findings.OutcomeFailed,
		},
		{
			name: "skipped only",
			outputs: []scanning.RawToolOutput{
				{Tool: "bandit", Status: scanning.ToolStatusSkipped},
			},
			expected: findings.OutcomeFailed,
		},
		{
			name: "usable plus skipped stays succeeded",
			outputs: []scanning.RawToolOutput{
				sarifOutput("semgrep", semgrepSARIF),
				{Tool: "bandit", Status: scanning.ToolStatusSkipped},
			},
			expected: findings.OutcomeSucceeded,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			report := newTestNormalizer().Merge(context.Background(), uuid.New(), "tenant-a", tt.outputs, time.Now())
			assert.Equal(t, tt.expected, report.Outcome)
		})
	}
}

func TestNormalizer_Merge_EqualSeverityCollisionPicksSmallestTool(t *testing.T) {
	t.Parallel()

	// Two SARIF tools report the identical finding with different end lines;
	// the lexicographically smaller tool's rendition must win regardless of
	// arrival order.
	doc := func(endLine int) string {
		return fmt.Sprintf(`{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "t"}},
    "results": [{
      "ruleId": "r1",
      "level": "warning",
      "message": {"text": "same finding"},
      "locations": [{"physicalLocation": {
        "artifactLocation": {"uri": "a.go"},
        "region": {"startLine": 5, "endLine": %d}
      }}]
    }]
  }]
}`, endLine)
	}

	n := newTestNormalizer()
	report := n.Merge(context.Background(), uuid.New(), "tenant-a", []scanning.RawToolOutput{
		sarifOutput("zzz-tool", doc(9)),
		sarifOutput("aaa-tool", doc(5)),
	}, time.Now())

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "aaa-tool", report.Findings[0].Tool)
	assert.Equal(t, 5, report.Findings[0].EndLine)
	assert.Equal(t, []string{"aaa-tool", "zzz-tool"}, report.Findings[0].CorroboratedBy)
}

func TestParseSARIF_NoRuns(t *testing.T) {
	t.Parallel()

	_, err := parseSARIF([]byte(`{"version": "2.1.0", "runs": []}`))
	assert.Error(t, err)
}

func TestParseGitleaks_Empty(t *testing.T) {
	t.Parallel()

	fs, err := parseGitleaks([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, fs)
}
