// Package docker implements the sandbox provider on the Docker CLI: one
// container per scan with hard resource ceilings, attached to a network only
// long enough to fetch the repository.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// repoPath is where the repository is checked out inside every container.
const repoPath = "/workspace/repo"

// Config selects the container image and network used for sandboxes.
type Config struct {
	// Image is the container image holding git and the scanning toolchain.
	Image string

	// Network is the Docker network containers start attached to and are
	// disconnected from after the clone. Defaults to "bridge".
	Network string
}

var _ scanning.SandboxProvider = (*Provider)(nil)

// Provider allocates one container per scan via the Docker CLI.
type Provider struct {
	cfg Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewProvider creates a Docker-backed sandbox provider.
func NewProvider(cfg Config, log *logger.Logger, tracer trace.Tracer) *Provider {
	if cfg.Network == "" {
		cfg.Network = "bridge"
	}
	return &Provider{
		cfg:    cfg,
		logger: log.With("component", "docker_sandbox_provider"),
		tracer: tracer,
	}
}

// Provision starts a container with the spec's resource ceilings applied as
// hard Docker limits. The container idles until commands are executed in it.
func (p *Provider) Provision(ctx context.Context, spec scanning.ProvisionSpec) (scanning.SandboxEnv, error) {
	ctx, span := p.tracer.Start(ctx, "docker.provision",
		trace.WithAttributes(attribute.String("scan_id", spec.ScanID.String())),
	)
	defer span.End()

	name := "scanforge-" + spec.ScanID.String()
	args := provisionArgs(name, p.cfg, spec.Limits)

	out, stderr, _, err := runDocker(ctx, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "container start failed")
		return nil, fmt.Errorf("starting sandbox container: %w: %s", err, stderr)
	}

	containerID := strings.TrimSpace(string(out))
	span.SetAttributes(attribute.String("container_id", containerID))
	p.logger.Info(ctx, "Provisioned sandbox container",
		"scan_id", spec.ScanID, "container_id", containerID)

	return &sandboxEnv{
		containerID: containerID,
		network:     p.cfg.Network,
		logger:      p.logger,
		tracer:      p.tracer,
	}, nil
}

// provisionArgs builds the docker run invocation, mapping every configured
// ceiling onto a hard Docker limit. The workspace is a size-bounded tmpfs so
// the disk ceiling is enforced by the mount itself: a checkout or report that
// outgrows it fails with ENOSPC.
func provisionArgs(name string, cfg Config, limits scanning.ResourceLimits) []string {
	args := []string{
		"run", "-d",
		"--name", name,
		"--network", cfg.Network,
		"--workdir", "/workspace",
	}
	if limits.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", limits.MemoryMB))
	}
	if limits.CPUCores > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%g", limits.CPUCores))
	}
	if limits.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", limits.PidsLimit))
	}
	if limits.DiskMB > 0 {
		args = append(args, "--tmpfs", fmt.Sprintf("/workspace:rw,size=%dm", limits.DiskMB))
	}
	return append(args, cfg.Image, "sleep", "infinity")
}

// sandboxEnv is the lifecycle handle for one container.
type sandboxEnv struct {
	containerID string
	network     string
	isolated    bool
	torndown    bool

	logger *logger.Logger
	tracer trace.Tracer
}

var _ scanning.SandboxEnv = (*sandboxEnv)(nil)

func (e *sandboxEnv) ID() string       { return e.containerID }
func (e *sandboxEnv) RepoPath() string { return repoPath }

// Clone fetches the repository inside the container using the single-use
// token. The token is embedded in the remote URL and scrubbed from any error
// before it can reach logs.
func (e *sandboxEnv) Clone(ctx context.Context, spec scanning.CloneSpec) error {
	ctx, span := e.tracer.Start(ctx, "docker.clone",
		trace.WithAttributes(
			attribute.String("container_id", e.containerID),
			attribute.String("branch", spec.Branch),
		),
	)
	defer span.End()

	authURL, err := injectToken(spec.RepositoryURL, spec.Token)
	if err != nil {
		return err
	}

	cloneArgs := []string{
		"exec", e.containerID,
		"git", "clone", "--depth", "1", "--branch", spec.Branch, authURL, repoPath,
	}
	if _, stderr, exitCode, err := runDocker(ctx, cloneArgs...); err != nil {
		span.SetStatus(codes.Error, "clone failed")
		if breach := e.resourceBreach(ctx, exitCode, stderr); breach != nil {
			breach.Msg = scrub(breach.Msg, spec.Token)
			return breach
		}
		scrubbed := scrub(fmt.Sprintf("%v: %s", err, stderr), spec.Token)
		return fmt.Errorf("git clone: %s", scrubbed)
	}

	if spec.CommitSHA != "" {
		fetchArgs := []string{
			"exec", "--workdir", repoPath, e.containerID,
			"git", "fetch", "--depth", "1", "origin", spec.CommitSHA,
		}
		if _, stderr, _, err := runDocker(ctx, fetchArgs...); err != nil {
			return fmt.Errorf("git fetch %s: %s", spec.CommitSHA, scrub(fmt.Sprintf("%v: %s", err, stderr), spec.Token))
		}
		checkoutArgs := []string{
			"exec", "--workdir", repoPath, e.containerID,
			"git", "checkout", "--detach", spec.CommitSHA,
		}
		if _, stderr, _, err := runDocker(ctx, checkoutArgs...); err != nil {
			return fmt.Errorf("git checkout %s: %v: %s", spec.CommitSHA, err, stderr)
		}
	}

	// Drop the remote so the tokenized URL does not survive in the checkout.
	removeArgs := []string{
		"exec", "--workdir", repoPath, e.containerID,
		"git", "remote", "remove", "origin",
	}
	if _, stderr, _, err := runDocker(ctx, removeArgs...); err != nil {
		e.logger.Warn(ctx, "Failed to remove git remote", "error", err, "stderr", string(stderr))
	}

	span.AddEvent("repository_cloned")
	return nil
}

// IsolateNetwork disconnects the container from its network. Everything the
// scan runs afterwards has no outbound path.
func (e *sandboxEnv) IsolateNetwork(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "docker.isolate_network",
		trace.WithAttributes(attribute.String("container_id", e.containerID)),
	)
	defer span.End()

	if _, stderr, _, err := runDocker(ctx, "network", "disconnect", e.network, e.containerID); err != nil {
		span.SetStatus(codes.Error, "network disconnect failed")
		return fmt.Errorf("disconnecting network: %w: %s", err, stderr)
	}
	e.isolated = true
	e.logger.Info(ctx, "Sandbox network isolated", "container_id", e.containerID)
	return nil
}

// Exec runs a command inside the container. Once the network is isolated,
// stderr is inspected for the kernel- and resolver-level markers an outbound
// attempt leaves behind, and flagged as a network denial. A command killed or
// starved by one of the resource ceilings returns a ResourceExceededError,
// which is fatal to the scan.
func (e *sandboxEnv) Exec(ctx context.Context, argv ...string) (scanning.ExecResult, error) {
	args := append([]string{"exec", "--workdir", repoPath, e.containerID}, argv...)
	stdout, stderr, exitCode, err := runDocker(ctx, args...)
	if err != nil && exitCode < 0 {
		return scanning.ExecResult{}, err
	}

	res := scanning.ExecResult{
		ExitCode:      exitCode,
		Stdout:        stdout,
		Stderr:        stderr,
		NetworkDenied: e.isolated && networkDenied(stderr),
	}
	if breach := e.resourceBreach(ctx, exitCode, stderr); breach != nil {
		return res, breach
	}
	return res, nil
}

// ReadFile reads a file from inside the container.
func (e *sandboxEnv) ReadFile(ctx context.Context, path string) ([]byte, error) {
	stdout, stderr, exitCode, err := runDocker(ctx, "exec", e.containerID, "cat", path)
	if err != nil && exitCode < 0 {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("reading %s: %s", path, stderr)
	}
	return stdout, nil
}

// Teardown force-removes the container. Idempotent.
func (e *sandboxEnv) Teardown(ctx context.Context) error {
	if e.torndown {
		return nil
	}
	_, stderr, _, err := runDocker(ctx, "rm", "-f", e.containerID)
	if err != nil && !strings.Contains(string(stderr), "No such container") {
		return fmt.Errorf("removing container: %w: %s", err, stderr)
	}
	e.torndown = true
	return nil
}

// runDocker invokes the docker CLI. A negative exit code means the command
// could not run at all.
func runDocker(ctx context.Context, args ...string) (stdout, stderr []byte, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	exitCode = 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return outBuf.Bytes(), errBuf.Bytes(), exitCode, err
}

// oomExitCode is 128+SIGKILL, what a process killed by the cgroup memory
// ceiling exits with.
const oomExitCode = 137

// resourceBreach maps the traces a breached ceiling leaves behind onto the
// specific limit. Exit 137 inside the container is a SIGKILL the engine never
// sends; the memory ceiling is the presumed killer, with the container's
// OOMKilled flag consulted for confirmation.
func (e *sandboxEnv) resourceBreach(ctx context.Context, exitCode int, stderr []byte) *scanning.ResourceExceededError {
	if exitCode == oomExitCode {
		msg := "process killed (exit 137) under the memory ceiling"
		if e.oomKilled(ctx) {
			msg = "container killed by the kernel OOM killer"
		}
		return &scanning.ResourceExceededError{Limit: "memory", Msg: msg}
	}
	return stderrBreach(stderr)
}

func (e *sandboxEnv) oomKilled(ctx context.Context) bool {
	out, _, exitCode, err := runDocker(ctx, "inspect", "--format", "{{.State.OOMKilled}}", e.containerID)
	if err != nil || exitCode != 0 {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// pidExhaustionMarkers are what shells and git print when fork fails against
// the pids ceiling.
var pidExhaustionMarkers = []string{
	"Cannot fork",
	"can't fork",
	"fork: retry: Resource temporarily unavailable",
}

// stderrBreach recognizes the error text a full workspace tmpfs or an
// exhausted pid budget produces.
func stderrBreach(stderr []byte) *scanning.ResourceExceededError {
	s := string(stderr)
	if line, ok := lineWith(s, "No space left on device"); ok {
		return &scanning.ResourceExceededError{Limit: "disk", Msg: line}
	}
	for _, marker := range pidExhaustionMarkers {
		if line, ok := lineWith(s, marker); ok {
			return &scanning.ResourceExceededError{Limit: "pids", Msg: line}
		}
	}
	return nil
}

// lineWith returns the first line containing marker.
func lineWith(s, marker string) (string, bool) {
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

// networkDeniedMarkers are the stderr fragments an outbound attempt produces
// inside a disconnected container.
var networkDeniedMarkers = []string{
	"Network is unreachable",
	"Could not resolve host",
	"Temporary failure in name resolution",
	"no route to host",
}

func networkDenied(stderr []byte) bool {
	s := string(stderr)
	for _, marker := range networkDeniedMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// injectToken builds the authenticated clone URL GitHub expects for
// installation tokens.
func injectToken(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	rest, ok := strings.CutPrefix(repoURL, "https://")
	if !ok {
		return "", fmt.Errorf("only https repository URLs are supported")
	}
	return "https://x-access-token:" + token + "@" + rest, nil
}

// scrub removes the credential token from a message before it can be logged
// or attached to an error.
func scrub(msg, token string) string {
	if token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, token, "REDACTED")
}
