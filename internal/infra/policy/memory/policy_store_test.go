package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

func TestPolicyStore_Lookup(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore([]scanning.TenantPolicy{
		{TenantID: "tenant-a", MaxConcurrentScans: 3, AllowedTools: []string{"semgrep", "gitleaks"}},
	})

	policy, err := store.Lookup(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 3, policy.MaxConcurrentScans)
	assert.Equal(t, []string{"semgrep", "gitleaks"}, policy.AllowedTools)
}

func TestPolicyStore_Lookup_UnknownTenant(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore(nil)
	_, err := store.Lookup(context.Background(), "tenant-z")
	assert.ErrorIs(t, err, scanning.ErrUnknownTenant)
}

func TestPolicyStore_Upsert(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore([]scanning.TenantPolicy{
		{TenantID: "tenant-a", MaxConcurrentScans: 1},
	})

	store.Upsert(scanning.TenantPolicy{TenantID: "tenant-a", MaxConcurrentScans: 10})
	store.Upsert(scanning.TenantPolicy{TenantID: "tenant-b", MaxConcurrentScans: 2})

	policy, err := store.Lookup(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 10, policy.MaxConcurrentScans, "upsert replaces the existing policy")

	policy, err = store.Lookup(context.Background(), "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, 2, policy.MaxConcurrentScans)
}
