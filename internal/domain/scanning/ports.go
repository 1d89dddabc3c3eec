package scanning

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProvisionSpec describes the isolated execution context to allocate for a scan.
type ProvisionSpec struct {
	ScanID uuid.UUID
	Limits ResourceLimits
}

// CloneSpec describes the repository fetch performed while the network is open.
// The token is single-use, scoped to this repository, and must never be logged.
type CloneSpec struct {
	RepositoryURL string
	Branch        string
	CommitSHA     string
	Token         string
	Timeout       time.Duration
}

// ExecResult captures the outcome of one command executed inside the sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	// NetworkDenied reports that the command attempted outbound network
	// access while the sandbox was isolated. Fatal to the scan.
	NetworkDenied bool
}

// Workspace is the view of a provisioned sandbox that tool adapters operate on.
type Workspace interface {
	// ID returns the provider-specific identifier of the execution context.
	ID() string

	// RepoPath returns the in-sandbox path of the checked-out repository.
	RepoPath() string

	// Exec runs a command inside the sandbox and returns its result. A
	// non-zero exit code is reported through ExecResult, not an error.
	Exec(ctx context.Context, argv ...string) (ExecResult, error)

	// ReadFile reads a file from inside the sandbox.
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// SandboxEnv is the full lifecycle handle for one isolated execution context.
// It is exclusively owned by a single scan for its lifetime.
type SandboxEnv interface {
	Workspace

	// Clone fetches the repository at the requested branch/commit using the
	// provided single-use credential. Only valid while the network is open.
	Clone(ctx context.Context, spec CloneSpec) error

	// IsolateNetwork revokes outbound network access for the remainder of
	// the scan. Must complete before any adapter runs.
	IsolateNetwork(ctx context.Context) error

	// Teardown releases the execution context. Idempotent; called on every
	// exit path.
	Teardown(ctx context.Context) error
}

// SandboxProvider allocates isolated execution contexts with hard resource ceilings.
type SandboxProvider interface {
	Provision(ctx context.Context, spec ProvisionSpec) (SandboxEnv, error)
}

// ProgressPublisher fans out lifecycle and progress events to per-scan
// subscribers with at-least-once delivery and replay support.
type ProgressPublisher interface {
	// Publish appends an event to the scan's ordered stream, assigning its
	// sequence number.
	Publish(ctx context.Context, evt ProgressEvent) error

	// Subscribe returns a finite stream of events for one scan, replaying
	// buffered events with sequence numbers greater than fromSeq before
	// delivering live events. The stream terminates after a terminal-phase
	// event or when ctx is done.
	Subscribe(ctx context.Context, scanID uuid.UUID, fromSeq int64) (<-chan ProgressEvent, error)
}

// ErrUnknownTenant indicates the tenant is not registered with the platform.
var ErrUnknownTenant = errors.New("unknown tenant")

// TenantPolicy is the admission-relevant slice of a tenant's configuration,
// queried from the platform's tenant registry.
type TenantPolicy struct {
	TenantID           string
	MaxConcurrentScans int
	AllowedTools       []string
}

// PermitsTool reports whether the policy allows the named tool. An empty
// allow-list permits every registered tool.
func (p TenantPolicy) PermitsTool(tool string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// TenantPolicyStore looks up tenant policies at admission time.
type TenantPolicyStore interface {
	Lookup(ctx context.Context, tenantID string) (TenantPolicy, error)
}
