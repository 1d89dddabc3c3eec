// Package credentials models the short-lived, narrowly-scoped repository
// access tokens used by sandboxes, and the broker that issues and revokes them.
package credentials

import (
	"time"

	"github.com/google/uuid"
)

// Scope is the access level a credential grants. The broker only ever issues
// read-only, single-repository credentials.
type Scope string

const ScopeRepositoryReadOnly Scope = "repository:read"

// Credential is a single-use repository access token bound to exactly one
// scan. The token value is never persisted or logged in clear; only the
// credential ID and timestamps appear in audit records and events.
type Credential struct {
	id         uuid.UUID
	scanID     uuid.UUID
	repository string
	scope      Scope
	token      string
	issuedAt   time.Time
	expiresAt  time.Time
	revokedAt  *time.Time
}

// New creates a credential for one scan scoped to one repository.
func New(scanID uuid.UUID, repository, token string, issuedAt time.Time, ttl time.Duration) *Credential {
	return &Credential{
		id:         uuid.New(),
		scanID:     scanID,
		repository: repository,
		scope:      ScopeRepositoryReadOnly,
		token:      token,
		issuedAt:   issuedAt,
		expiresAt:  issuedAt.Add(ttl),
	}
}

// ID returns the credential's identifier, safe to log and audit.
func (c *Credential) ID() uuid.UUID { return c.id }

// ScanID returns the scan this credential is bound to.
func (c *Credential) ScanID() uuid.UUID { return c.scanID }

// Repository returns the single repository this credential is scoped to.
func (c *Credential) Repository() string { return c.repository }

// Scope returns the credential's access scope.
func (c *Credential) Scope() Scope { return c.scope }

// Token returns the secret token value. Callers must pass it only to the
// sandbox clone step and never write it to logs, events, or audit records.
func (c *Credential) Token() string { return c.token }

// IssuedAt returns when the credential was issued.
func (c *Credential) IssuedAt() time.Time { return c.issuedAt }

// ExpiresAt returns when the credential stops being valid upstream.
func (c *Credential) ExpiresAt() time.Time { return c.expiresAt }

// RevokedAt returns when the credential was revoked, if it was.
func (c *Credential) RevokedAt() (time.Time, bool) {
	if c.revokedAt == nil {
		return time.Time{}, false
	}
	return *c.revokedAt, true
}

// MarkRevoked records the revocation time. Idempotent.
func (c *Credential) MarkRevoked(at time.Time) {
	if c.revokedAt == nil {
		c.revokedAt = &at
	}
}

// Active reports whether the credential is still usable at the given time.
func (c *Credential) Active(now time.Time) bool {
	return c.revokedAt == nil && now.Before(c.expiresAt)
}

// String implements fmt.Stringer and redacts the token value.
func (c *Credential) String() string {
	return "credential{id=" + c.id.String() + " repo=" + c.repository + " token=REDACTED}"
}
