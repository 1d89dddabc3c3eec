package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/scanforge/internal/domain/findings"
)

// FormatSARIF identifies SARIF 2.1.0 payloads, the lingua franca most
// adapters emit natively.
const FormatSARIF = "sarif"

// sarifDocument models the subset of SARIF 2.1.0 the merge needs. Fields the
// engine never reads are omitted rather than carried along.
type sarifDocument struct {
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool struct {
		Driver struct {
			Name  string      `json:"name"`
			Rules []sarifRule `json:"rules"`
		} `json:"driver"`
	} `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifRule struct {
	ID                   string `json:"id"`
	DefaultConfiguration struct {
		Level string `json:"level"`
	} `json:"defaultConfiguration"`
}

type sarifResult struct {
	RuleID  string `json:"ruleId"`
	Level   string `json:"level"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Locations []struct {
		PhysicalLocation struct {
			ArtifactLocation struct {
				URI string `json:"uri"`
			} `json:"artifactLocation"`
			Region struct {
				StartLine int `json:"startLine"`
				EndLine   int `json:"endLine"`
			} `json:"region"`
		} `json:"physicalLocation"`
	} `json:"locations"`
}

// parseSARIF converts a SARIF 2.1.0 payload into unified findings. Results
// without a location are dropped; a result's level falls back to its rule's
// default configuration when absent.
func parseSARIF(payload []byte) ([]findings.Finding, error) {
	var doc sarifDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parsing SARIF payload: %w", err)
	}
	if len(doc.Runs) == 0 {
		return nil, fmt.Errorf("SARIF payload has no runs")
	}

	var out []findings.Finding
	for _, run := range doc.Runs {
		ruleLevels := make(map[string]string, len(run.Tool.Driver.Rules))
		for _, rule := range run.Tool.Driver.Rules {
			ruleLevels[rule.ID] = rule.DefaultConfiguration.Level
		}

		for _, res := range run.Results {
			if len(res.Locations) == 0 {
				continue
			}
			loc := res.Locations[0].PhysicalLocation

			level := res.Level
			if level == "" {
				level = ruleLevels[res.RuleID]
			}

			endLine := loc.Region.EndLine
			if endLine == 0 {
				endLine = loc.Region.StartLine
			}

			out = append(out, findings.Finding{
				Severity:  sarifSeverity(level),
				RuleID:    res.RuleID,
				FilePath:  loc.ArtifactLocation.URI,
				StartLine: loc.Region.StartLine,
				EndLine:   endLine,
				Message:   res.Message.Text,
			})
		}
	}
	return out, nil
}

// sarifSeverity maps SARIF result levels onto the unified scale. SARIF's
// "note" and "none" carry no actionable weight, so both land on info.
func sarifSeverity(level string) findings.Severity {
	switch level {
	case "error":
		return findings.SeverityError
	case "warning":
		return findings.SeverityWarning
	case "note", "none", "":
		return findings.SeverityInfo
	default:
		return findings.ParseSeverity(level)
	}
}
