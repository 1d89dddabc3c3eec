package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxTTL is the hard ceiling on credential lifetime. The broker never issues
// a credential with a longer TTL regardless of what the caller requests.
const MaxTTL = 15 * time.Minute

// ErrIssueFailed indicates the upstream token source could not issue a
// credential after bounded retries.
var ErrIssueFailed = errors.New("credential issuance failed")

// Broker issues and revokes short-lived, single-repository, read-only credentials.
type Broker interface {
	// Issue creates a credential for the given scan, scoped to exactly one
	// repository. The effective TTL is min(ttl, MaxTTL).
	Issue(ctx context.Context, scanID uuid.UUID, repository string, ttl time.Duration) (*Credential, error)

	// Revoke invalidates a credential upstream. Idempotent and best-effort:
	// implementations retry a bounded number of times and then report the
	// reconciliation gap rather than failing the scan, since the TTL bounds
	// exposure.
	Revoke(ctx context.Context, credentialID uuid.UUID) error
}
