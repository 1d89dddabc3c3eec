package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// scriptedWorkspace returns canned results for Exec and ReadFile.
type scriptedWorkspace struct {
	execRes  scanning.ExecResult
	execErr  error
	file     []byte
	readErr  error
	lastArgv []string
}

func (w *scriptedWorkspace) ID() string       { return "sandbox-1" }
func (w *scriptedWorkspace) RepoPath() string { return "/workspace/repo" }

func (w *scriptedWorkspace) Exec(_ context.Context, argv ...string) (scanning.ExecResult, error) {
	w.lastArgv = argv
	return w.execRes, w.execErr
}

func (w *scriptedWorkspace) ReadFile(context.Context, string) ([]byte, error) {
	return w.file, w.readErr
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{
		execRes: scanning.ExecResult{ExitCode: 1, Stderr: []byte("3 findings")},
		file:    []byte(`{"version": "2.1.0"}`),
	}

	out, err := execute(context.Background(), ws, toolRun{
		tool:       "semgrep",
		format:     "sarif",
		reportPath: "/tmp/semgrep.sarif",
		argv:       []string{"semgrep", "scan"},
		okExit:     zeroOrOne,
	})
	require.NoError(t, err)

	assert.Equal(t, scanning.ToolStatusSucceeded, out.Status)
	assert.Equal(t, []byte(`{"version": "2.1.0"}`), out.Payload)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "3 findings", out.Stderr)
	assert.Equal(t, []string{"semgrep", "scan"}, ws.lastArgv)
}

func TestExecute_NetworkDenied(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{
		execRes: scanning.ExecResult{
			ExitCode:      2,
			Stderr:        []byte("connect: operation not permitted"),
			NetworkDenied: true,
		},
	}

	_, err := execute(context.Background(), ws, toolRun{
		tool:   "semgrep",
		argv:   []string{"semgrep", "scan"},
		okExit: zeroOrOne,
	})

	var violation *scanning.NetworkPolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "semgrep", violation.Tool)
	assert.Equal(t, "connect: operation not permitted", violation.Detail)
}

func TestExecute_NetworkDenied_TruncatesDetail(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{
		execRes: scanning.ExecResult{
			Stderr:        []byte(strings.Repeat("x", 2000)),
			NetworkDenied: true,
		},
	}

	_, err := execute(context.Background(), ws, toolRun{tool: "gitleaks", okExit: zeroOrOne})

	var violation *scanning.NetworkPolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Len(t, violation.Detail, 512)
}

func TestExecute_BadExitCode(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{
		execRes: scanning.ExecResult{ExitCode: 2, Stderr: []byte("fatal: parse error")},
		file:    []byte("ignored"),
	}

	out, err := execute(context.Background(), ws, toolRun{tool: "ruff", okExit: zeroOrOne})
	require.NoError(t, err)

	assert.Equal(t, scanning.ToolStatusFailed, out.Status)
	assert.Nil(t, out.Payload)
	assert.Equal(t, "fatal: parse error", out.Stderr)
}

func TestExecute_ExecError(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{execErr: errors.New("container gone")}

	_, err := execute(context.Background(), ws, toolRun{tool: "bandit", okExit: zeroOrOne})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running bandit")
}

func TestExecute_MissingReportFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stderr     []byte
		wantStderr string
	}{
		{
			name:       "tool stderr preserved",
			stderr:     []byte("wrote nothing"),
			wantStderr: "wrote nothing",
		},
		{
			name:       "read error reported when stderr empty",
			wantStderr: "report file missing: no such file",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws := &scriptedWorkspace{
				execRes: scanning.ExecResult{ExitCode: 0, Stderr: tt.stderr},
				readErr: errors.New("no such file"),
			}

			out, err := execute(context.Background(), ws, toolRun{tool: "semgrep", okExit: zeroOrOne})
			require.NoError(t, err)
			assert.Equal(t, scanning.ToolStatusFailed, out.Status)
			assert.Equal(t, tt.wantStderr, out.Stderr)
		})
	}
}

func TestExecute_TruncatesStderr(t *testing.T) {
	t.Parallel()

	ws := &scriptedWorkspace{
		execRes: scanning.ExecResult{ExitCode: 0, Stderr: []byte(strings.Repeat("e", maxStderr+100))},
		file:    []byte("{}"),
	}

	out, err := execute(context.Background(), ws, toolRun{tool: "semgrep", okExit: zeroOrOne})
	require.NoError(t, err)
	assert.Len(t, out.Stderr, maxStderr)
}

func TestHasPythonFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  scanning.ExecResult
		err  error
		want bool
	}{
		{name: "python file found", res: scanning.ExecResult{Stdout: []byte("./app/main.py\n")}, want: true},
		{name: "no python files", res: scanning.ExecResult{Stdout: []byte("\n")}, want: false},
		{name: "find fails", res: scanning.ExecResult{ExitCode: 1}, want: false},
		{name: "exec error", err: errors.New("container gone"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws := &scriptedWorkspace{execRes: tt.res, execErr: tt.err}
			assert.Equal(t, tt.want, hasPythonFiles(context.Background(), ws))
			if tt.err == nil {
				assert.Equal(t, []string{"sh", "-c", "find . -name '*.py' -print -quit"}, ws.lastArgv)
			}
		})
	}
}

func TestZeroOrOne(t *testing.T) {
	t.Parallel()

	assert.True(t, zeroOrOne(0))
	assert.True(t, zeroOrOne(1))
	assert.False(t, zeroOrOne(2))
	assert.False(t, zeroOrOne(-1))
}

func TestBandit_AcceptsOnlyPythonWorkspaces(t *testing.T) {
	t.Parallel()

	bandit := NewBandit()
	withPython := &scriptedWorkspace{execRes: scanning.ExecResult{Stdout: []byte("./x.py\n")}}
	withoutPython := &scriptedWorkspace{execRes: scanning.ExecResult{Stdout: nil}}

	assert.True(t, bandit.Accepts(context.Background(), withPython))
	assert.False(t, bandit.Accepts(context.Background(), withoutPython))
}
