// Package scanner contains the tool adapters that run analysis tools inside
// an isolated workspace and hand their raw reports to the merge.
//
// Every adapter follows the same shape: run the tool with its report written
// to a file inside the sandbox, read the file back, and map the exit code
// onto a tool status. Findings exit codes (conventionally 1) are successes;
// the findings themselves are the product.
package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// maxStderr bounds how much diagnostic text is carried into tool summaries.
const maxStderr = 4096

// toolRun describes one adapter invocation for the shared executor.
type toolRun struct {
	tool       string
	format     string
	reportPath string
	argv       []string
	// okExit reports whether the exit code still counts as a successful run.
	okExit func(int) bool
}

// execute runs the tool, enforces the network isolation contract, and reads
// the report file back. A network denial observed on the tool's stderr is
// returned as a NetworkPolicyViolationError, which aborts the whole scan.
func execute(ctx context.Context, ws scanning.Workspace, run toolRun) (scanning.RawToolOutput, error) {
	out := scanning.RawToolOutput{Format: run.format}

	res, err := ws.Exec(ctx, run.argv...)
	if err != nil {
		return out, fmt.Errorf("running %s: %w", run.tool, err)
	}

	out.ExitCode = res.ExitCode
	out.Stderr = truncate(string(res.Stderr), maxStderr)

	if res.NetworkDenied {
		return out, &scanning.NetworkPolicyViolationError{
			Tool:   run.tool,
			Detail: truncate(string(res.Stderr), 512),
		}
	}

	if !run.okExit(res.ExitCode) {
		out.Status = scanning.ToolStatusFailed
		return out, nil
	}

	payload, err := ws.ReadFile(ctx, run.reportPath)
	if err != nil {
		out.Status = scanning.ToolStatusFailed
		if out.Stderr == "" {
			out.Stderr = fmt.Sprintf("report file missing: %v", err)
		}
		return out, nil
	}

	out.Payload = payload
	out.Status = scanning.ToolStatusSucceeded
	return out, nil
}

// hasPythonFiles reports whether the workspace contains any Python source.
func hasPythonFiles(ctx context.Context, ws scanning.Workspace) bool {
	res, err := ws.Exec(ctx, "sh", "-c", "find . -name '*.py' -print -quit")
	if err != nil || res.ExitCode != 0 {
		return false
	}
	return len(strings.TrimSpace(string(res.Stdout))) > 0
}

// zeroOrOne accepts the conventional "clean" and "findings" exit codes.
func zeroOrOne(code int) bool { return code == 0 || code == 1 }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
