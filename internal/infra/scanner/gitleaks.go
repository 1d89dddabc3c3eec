package scanner

import (
	"context"

	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

const gitleaksReport = "/tmp/gitleaks.json"

var _ runner.Adapter = (*Gitleaks)(nil)

// Gitleaks scans the checkout for exposed secrets, emitting its native JSON
// report.
type Gitleaks struct{}

// NewGitleaks creates the gitleaks adapter.
func NewGitleaks() *Gitleaks { return &Gitleaks{} }

func (g *Gitleaks) Name() string { return "gitleaks" }

// Accepts always: any repository can leak secrets.
func (g *Gitleaks) Accepts(context.Context, scanning.Workspace) bool { return true }

func (g *Gitleaks) Invoke(ctx context.Context, ws scanning.Workspace) (scanning.RawToolOutput, error) {
	return execute(ctx, ws, toolRun{
		tool:       g.Name(),
		format:     normalize.FormatGitleaksJSON,
		reportPath: gitleaksReport,
		argv: []string{
			"gitleaks", "detect",
			"--source", ".",
			"--report-format", "json",
			"--report-path", gitleaksReport,
			"--no-banner",
		},
		okExit: zeroOrOne,
	})
}
