// Package memory provides an in-memory credential broker for tests and
// single-process development runs. Tokens are random and verify nothing.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scanforge/internal/domain/credentials"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

var _ credentials.Broker = (*Broker)(nil)

// Broker issues random tokens and tracks revocations in memory. Fault
// injection hooks let tests exercise issuance exhaustion and reconciliation
// gaps.
type Broker struct {
	clock scanning.TimeProvider

	mu      sync.Mutex
	issued  map[uuid.UUID]*credentials.Credential
	revoked map[uuid.UUID]bool

	issueErr    error
	issueFails  int
	revokeErr   error
	revokeFails int
}

// NewBroker creates an in-memory broker.
func NewBroker(clock scanning.TimeProvider) *Broker {
	return &Broker{
		clock:   clock,
		issued:  make(map[uuid.UUID]*credentials.Credential),
		revoked: make(map[uuid.UUID]bool),
	}
}

// Issue creates a credential with a random token, clamping the TTL to the
// platform ceiling.
func (b *Broker) Issue(_ context.Context, scanID uuid.UUID, repository string, ttl time.Duration) (*credentials.Credential, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.issueFails > 0 {
		b.issueFails--
		return nil, b.issueErr
	}

	if ttl <= 0 || ttl > credentials.MaxTTL {
		ttl = credentials.MaxTTL
	}

	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	cred := credentials.New(scanID, repository, "ghs_"+hex.EncodeToString(buf), b.clock.Now(), ttl)
	b.issued[cred.ID()] = cred
	return cred, nil
}

// Revoke marks the credential revoked. Idempotent: unknown or already-revoked
// credentials succeed.
func (b *Broker) Revoke(_ context.Context, credentialID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.revokeFails > 0 {
		b.revokeFails--
		return b.revokeErr
	}

	if cred, ok := b.issued[credentialID]; ok && !b.revoked[credentialID] {
		cred.MarkRevoked(b.clock.Now())
	}
	b.revoked[credentialID] = true
	return nil
}

// FailIssues makes the next n Issue calls return err.
func (b *Broker) FailIssues(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issueFails, b.issueErr = n, err
}

// FailRevokes makes the next n Revoke calls return err.
func (b *Broker) FailRevokes(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokeFails, b.revokeErr = n, err
}

// Issued returns the credential by ID, if this broker issued it.
func (b *Broker) Issued(credentialID uuid.UUID) (*credentials.Credential, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cred, ok := b.issued[credentialID]
	return cred, ok
}

// Revoked reports whether the credential has been revoked.
func (b *Broker) Revoked(credentialID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[credentialID]
}
