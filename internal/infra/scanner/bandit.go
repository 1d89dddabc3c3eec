package scanner

import (
	"context"

	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

const banditReport = "/tmp/bandit.sarif"

var _ runner.Adapter = (*Bandit)(nil)

// Bandit runs the Python security linter and emits SARIF.
type Bandit struct{}

// NewBandit creates the bandit adapter.
func NewBandit() *Bandit { return &Bandit{} }

func (b *Bandit) Name() string { return "bandit" }

// Accepts declines workspaces with no Python source.
func (b *Bandit) Accepts(ctx context.Context, ws scanning.Workspace) bool {
	return hasPythonFiles(ctx, ws)
}

func (b *Bandit) Invoke(ctx context.Context, ws scanning.Workspace) (scanning.RawToolOutput, error) {
	return execute(ctx, ws, toolRun{
		tool:       b.Name(),
		format:     normalize.FormatSARIF,
		reportPath: banditReport,
		argv: []string{
			"bandit", "-r", ".",
			"-f", "sarif",
			"-o", banditReport,
		},
		okExit: zeroOrOne,
	})
}
