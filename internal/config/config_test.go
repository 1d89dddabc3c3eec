package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Admission.MaxGlobal)
	assert.Equal(t, 5, cfg.Admission.TenantCeiling)
	assert.Equal(t, "scanforge/toolbox:latest", cfg.Sandbox.Image)
	assert.Equal(t, 60*time.Minute, cfg.Sandbox.WallClock)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.CloneTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Credentials.TTL)
	assert.Equal(t, 3, cfg.Runner.Parallelism)
	assert.Equal(t, 10*time.Minute, cfg.Runner.ToolTimeout)
	assert.Equal(t, 15*time.Second, cfg.Progress.HeartbeatInterval)
	assert.Equal(t, 256, cfg.Progress.ReplayBuffer)
	assert.Equal(t, "scanforge.scan-events", cfg.Kafka.ScanEventsTopic)
	assert.Equal(t, "scanforge.scan-progress", cfg.Kafka.ProgressTopic)
	assert.Equal(t, "scanforge-engine", cfg.Kafka.GroupID)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Tenants)
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
admission:
  max_global: 8
  tenant_ceiling: 2
sandbox:
  wall_clock: 30m
credentials:
  ttl: 10m
tenants:
  - tenant_id: tenant-a
    max_concurrent_scans: 3
    allowed_tools: [semgrep, gitleaks]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Admission.MaxGlobal)
	assert.Equal(t, 2, cfg.Admission.TenantCeiling)
	assert.Equal(t, 30*time.Minute, cfg.Sandbox.WallClock)
	assert.Equal(t, 10*time.Minute, cfg.Credentials.TTL)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Runner.Parallelism)

	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "tenant-a", cfg.Tenants[0].TenantID)
	assert.Equal(t, 3, cfg.Tenants[0].MaxConcurrentScans)
	assert.Equal(t, []string{"semgrep", "gitleaks"}, cfg.Tenants[0].AllowedTools)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCANFORGE_ADMISSION_MAX_GLOBAL", "64")
	t.Setenv("SCANFORGE_CREDENTIALS_TTL", "5m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Admission.MaxGlobal)
	assert.Equal(t, 5*time.Minute, cfg.Credentials.TTL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Policies(t *testing.T) {
	t.Parallel()

	cfg := &Config{Tenants: []TenantConfig{
		{TenantID: "tenant-a", MaxConcurrentScans: 4, AllowedTools: []string{"semgrep"}},
		{TenantID: "tenant-b", MaxConcurrentScans: 1},
	}}

	policies := cfg.Policies()
	require.Len(t, policies, 2)
	assert.Equal(t, "tenant-a", policies[0].TenantID)
	assert.Equal(t, 4, policies[0].MaxConcurrentScans)
	assert.Equal(t, []string{"semgrep"}, policies[0].AllowedTools)
	assert.Equal(t, "tenant-b", policies[1].TenantID)
}

func TestConfig_Limits(t *testing.T) {
	t.Parallel()

	cfg := &Config{Sandbox: SandboxConfig{
		CPUCores:  1.5,
		MemoryMB:  1024,
		DiskMB:    4096,
		PidsLimit: 128,
		WallClock: 20 * time.Minute,
	}}

	limits := cfg.Limits()
	assert.Equal(t, 1.5, limits.CPUCores)
	assert.Equal(t, int64(1024), limits.MemoryMB)
	assert.Equal(t, int64(4096), limits.DiskMB)
	assert.Equal(t, int64(128), limits.PidsLimit)
	assert.Equal(t, 20*time.Minute, limits.WallClock)
}
