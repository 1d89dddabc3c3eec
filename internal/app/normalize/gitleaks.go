package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/scanforge/internal/domain/findings"
)

// FormatGitleaksJSON identifies gitleaks' native JSON report format, which
// predates its SARIF support and remains the default output.
const FormatGitleaksJSON = "gitleaks-json"

// gitleaksLeak models one entry of a gitleaks JSON report. The matched secret
// itself is intentionally not modeled; it must never reach the unified report.
type gitleaksLeak struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
	EndLine     int    `json:"EndLine"`
}

// parseGitleaks converts a gitleaks JSON report into unified findings. Every
// leak is an error: an exposed secret has no lesser severity.
func parseGitleaks(payload []byte) ([]findings.Finding, error) {
	var leaks []gitleaksLeak
	if err := json.Unmarshal(payload, &leaks); err != nil {
		return nil, fmt.Errorf("parsing gitleaks payload: %w", err)
	}

	out := make([]findings.Finding, 0, len(leaks))
	for _, leak := range leaks {
		endLine := leak.EndLine
		if endLine == 0 {
			endLine = leak.StartLine
		}
		out = append(out, findings.Finding{
			Severity:  findings.SeverityError,
			RuleID:    leak.RuleID,
			FilePath:  leak.File,
			StartLine: leak.StartLine,
			EndLine:   endLine,
			Message:   leak.Description,
		})
	}
	return out, nil
}
