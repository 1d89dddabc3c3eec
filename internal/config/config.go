// Package config loads the engine configuration from YAML with environment
// overrides. Every knob carries a default so a bare config file runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// Config is the full engine configuration tree.
type Config struct {
	Admission   AdmissionConfig   `mapstructure:"admission"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Tenants     []TenantConfig    `mapstructure:"tenants"`
}

// AdmissionConfig bounds concurrent scan work.
type AdmissionConfig struct {
	// MaxGlobal caps concurrently running scans across all tenants.
	MaxGlobal int `mapstructure:"max_global"`
	// TenantCeiling is the per-tenant concurrency ceiling for tenants whose
	// policy does not set one.
	TenantCeiling int `mapstructure:"tenant_ceiling"`
}

// SandboxConfig describes the execution contexts scans run in.
type SandboxConfig struct {
	Image     string        `mapstructure:"image"`
	Network   string        `mapstructure:"network"`
	CPUCores  float64       `mapstructure:"cpu_cores"`
	MemoryMB  int64         `mapstructure:"memory_mb"`
	DiskMB    int64         `mapstructure:"disk_mb"`
	PidsLimit int64         `mapstructure:"pids_limit"`
	WallClock time.Duration `mapstructure:"wall_clock"`
	// CloneTimeout bounds the network-open repository fetch.
	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
}

// CredentialsConfig controls the scoped-credential broker.
type CredentialsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RunnerConfig controls adapter execution.
type RunnerConfig struct {
	Parallelism int           `mapstructure:"parallelism"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
}

// ProgressConfig controls the progress stream.
type ProgressConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReplayBuffer      int           `mapstructure:"replay_buffer"`
}

// KafkaConfig selects the broker and topics; empty brokers means the engine
// runs with the in-memory bus.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ScanEventsTopic string   `mapstructure:"scan_events_topic"`
	ProgressTopic   string   `mapstructure:"progress_topic"`
	GroupID         string   `mapstructure:"group_id"`
}

// GitHubConfig identifies the GitHub App used for credential issuance; empty
// app ID means the engine runs with the in-memory broker.
type GitHubConfig struct {
	AppID          string `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// TenantConfig seeds one tenant's admission policy.
type TenantConfig struct {
	TenantID           string   `mapstructure:"tenant_id"`
	MaxConcurrentScans int      `mapstructure:"max_concurrent_scans"`
	AllowedTools       []string `mapstructure:"allowed_tools"`
}

// Policies converts the tenant seed list to domain policies.
func (c *Config) Policies() []scanning.TenantPolicy {
	policies := make([]scanning.TenantPolicy, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		policies = append(policies, scanning.TenantPolicy{
			TenantID:           t.TenantID,
			MaxConcurrentScans: t.MaxConcurrentScans,
			AllowedTools:       t.AllowedTools,
		})
	}
	return policies
}

// Limits converts the sandbox section to domain resource ceilings.
func (c *Config) Limits() scanning.ResourceLimits {
	return scanning.ResourceLimits{
		CPUCores:  c.Sandbox.CPUCores,
		MemoryMB:  c.Sandbox.MemoryMB,
		DiskMB:    c.Sandbox.DiskMB,
		PidsLimit: c.Sandbox.PidsLimit,
		WallClock: c.Sandbox.WallClock,
	}
}

// Load reads configuration from the given file path (empty means search
// "scanforge.yaml" in the working directory and /etc/scanforge), applying
// SCANFORGE_-prefixed environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scanforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/scanforge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine: defaults plus env cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admission.max_global", 32)
	v.SetDefault("admission.tenant_ceiling", 5)

	v.SetDefault("sandbox.image", "scanforge/toolbox:latest")
	v.SetDefault("sandbox.network", "bridge")
	v.SetDefault("sandbox.cpu_cores", 2.0)
	v.SetDefault("sandbox.memory_mb", 2048)
	v.SetDefault("sandbox.disk_mb", 10240)
	v.SetDefault("sandbox.pids_limit", 256)
	v.SetDefault("sandbox.wall_clock", "60m")
	v.SetDefault("sandbox.clone_timeout", "5m")

	v.SetDefault("credentials.ttl", "15m")

	v.SetDefault("runner.parallelism", 3)
	v.SetDefault("runner.tool_timeout", "10m")

	v.SetDefault("progress.heartbeat_interval", "15s")
	v.SetDefault("progress.replay_buffer", 256)

	v.SetDefault("kafka.scan_events_topic", "scanforge.scan-events")
	v.SetDefault("kafka.progress_topic", "scanforge.scan-progress")
	v.SetDefault("kafka.group_id", "scanforge-engine")
}
