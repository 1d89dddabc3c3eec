package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolCatalog declares which scanner adapters the engine registers and their
// per-tool options. It is a separate document from the engine config so
// operators can roll out tool changes without touching capacity settings.
type ToolCatalog struct {
	Tools []ToolEntry `yaml:"tools"`
}

// ToolEntry configures one adapter.
type ToolEntry struct {
	Name string `yaml:"name"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// RulesPath points at the on-disk ruleset for adapters that need one.
	// Rules must ship inside the sandbox image: tools run with no network.
	RulesPath string `yaml:"rules_path"`
}

// DefaultToolCatalog returns the catalog used when no file is configured:
// every built-in adapter enabled with its default options.
func DefaultToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		Tools: []ToolEntry{
			{Name: "semgrep"},
			{Name: "bandit"},
			{Name: "ruff"},
			{Name: "gitleaks"},
		},
	}
}

// LoadToolCatalog parses the YAML catalog at path. An empty path yields the
// default catalog.
func LoadToolCatalog(path string) (*ToolCatalog, error) {
	if path == "" {
		return DefaultToolCatalog(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool catalog: %w", err)
	}

	var catalog ToolCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parsing tool catalog: %w", err)
	}
	if len(catalog.Tools) == 0 {
		return nil, fmt.Errorf("tool catalog %s declares no tools", path)
	}
	return &catalog, nil
}

// Entry returns the catalog entry for the named tool.
func (c *ToolCatalog) Entry(name string) (ToolEntry, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolEntry{}, false
}

// IsEnabled reports whether the named tool is present and not disabled.
func (c *ToolCatalog) IsEnabled(name string) bool {
	entry, ok := c.Entry(name)
	if !ok {
		return false
	}
	return entry.Enabled == nil || *entry.Enabled
}
