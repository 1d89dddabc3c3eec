package scanner

import (
	"context"

	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

const ruffReport = "/tmp/ruff.sarif"

var _ runner.Adapter = (*Ruff)(nil)

// Ruff runs the Python linter restricted to the security and correctness
// rule groups and emits SARIF.
type Ruff struct{}

// NewRuff creates the ruff adapter.
func NewRuff() *Ruff { return &Ruff{} }

func (r *Ruff) Name() string { return "ruff" }

// Accepts declines workspaces with no Python source.
func (r *Ruff) Accepts(ctx context.Context, ws scanning.Workspace) bool {
	return hasPythonFiles(ctx, ws)
}

func (r *Ruff) Invoke(ctx context.Context, ws scanning.Workspace) (scanning.RawToolOutput, error) {
	return execute(ctx, ws, toolRun{
		tool:       r.Name(),
		format:     normalize.FormatSARIF,
		reportPath: ruffReport,
		argv: []string{
			"ruff", "check", ".",
			// Security (S), bugbear (B), and error/warning (E, F, W) groups.
			"--select", "S,B,E,F,W",
			"--output-format", "sarif",
			"--output-file", ruffReport,
		},
		okExit: zeroOrOne,
	})
}
