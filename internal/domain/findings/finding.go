package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Finding is one normalized result in the unified schema. Findings from
// different tools that share a fingerprint are collapsed into a single
// Finding listing every corroborating tool.
type Finding struct {
	ScanID    uuid.UUID `json:"scan_id"`
	Tool      string    `json:"tool"`
	Severity  Severity  `json:"severity"`
	RuleID    string    `json:"rule_id"`
	FilePath  string    `json:"file_path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Message   string    `json:"message"`

	// CorroboratedBy lists every tool that reported this finding, sorted
	// for deterministic output. Always contains at least Tool.
	CorroboratedBy []string `json:"corroborated_by"`
}

// Fingerprint returns the stable identity used for de-duplication across
// tools. The tool name is deliberately excluded so identical findings from
// different tools collapse into one corroborated entry.
func (f Finding) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", f.RuleID, f.FilePath, f.StartLine, normalizeMessage(f.Message))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeMessage collapses whitespace and case so cosmetic differences
// between tools reporting the same issue do not defeat de-duplication.
func normalizeMessage(msg string) string {
	return strings.ToLower(strings.Join(strings.Fields(msg), " "))
}
