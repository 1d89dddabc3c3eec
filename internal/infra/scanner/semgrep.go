package scanner

import (
	"context"

	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

const semgrepReport = "/tmp/semgrep.sarif"

var _ runner.Adapter = (*Semgrep)(nil)

// Semgrep runs semgrep with a locally installed ruleset and emits SARIF.
// Remote rule resolution is unusable inside an isolated sandbox, so the
// toolbox image ships its rules on disk.
type Semgrep struct {
	// RulesPath points at the on-disk ruleset inside the sandbox image.
	RulesPath string
}

// NewSemgrep creates the semgrep adapter.
func NewSemgrep(rulesPath string) *Semgrep {
	if rulesPath == "" {
		rulesPath = "/opt/rules/semgrep"
	}
	return &Semgrep{RulesPath: rulesPath}
}

func (s *Semgrep) Name() string { return "semgrep" }

// Accepts always: semgrep is multi-language.
func (s *Semgrep) Accepts(context.Context, scanning.Workspace) bool { return true }

func (s *Semgrep) Invoke(ctx context.Context, ws scanning.Workspace) (scanning.RawToolOutput, error) {
	return execute(ctx, ws, toolRun{
		tool:       s.Name(),
		format:     normalize.FormatSARIF,
		reportPath: semgrepReport,
		argv: []string{
			"semgrep", "scan",
			"--sarif",
			"--output", semgrepReport,
			"--metrics=off",
			"--config", s.RulesPath,
			".",
		},
		okExit: zeroOrOne,
	})
}
