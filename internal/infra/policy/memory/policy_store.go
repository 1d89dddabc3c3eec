// Package memory provides a configuration-seeded tenant policy store. Tenant
// registration lives outside the engine; this store holds the admission-
// relevant slice loaded at startup.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

var _ scanning.TenantPolicyStore = (*PolicyStore)(nil)

// PolicyStore serves tenant policies from an in-memory table.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]scanning.TenantPolicy
}

// NewPolicyStore creates a store seeded with the given policies.
func NewPolicyStore(policies []scanning.TenantPolicy) *PolicyStore {
	s := &PolicyStore{policies: make(map[string]scanning.TenantPolicy, len(policies))}
	for _, p := range policies {
		s.policies[p.TenantID] = p
	}
	return s
}

// Lookup returns the tenant's policy, or ErrUnknownTenant for tenants the
// platform has never registered.
func (s *PolicyStore) Lookup(_ context.Context, tenantID string) (scanning.TenantPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[tenantID]
	if !ok {
		return scanning.TenantPolicy{}, scanning.ErrUnknownTenant
	}
	return policy, nil
}

// Upsert adds or replaces a tenant policy.
func (s *PolicyStore) Upsert(policy scanning.TenantPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.TenantID] = policy
}
