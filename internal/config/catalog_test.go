package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadToolCatalog_Default(t *testing.T) {
	t.Parallel()

	catalog, err := LoadToolCatalog("")
	require.NoError(t, err)

	require.Len(t, catalog.Tools, 4)
	for _, name := range []string{"semgrep", "bandit", "ruff", "gitleaks"} {
		assert.True(t, catalog.IsEnabled(name), "%s enabled by default", name)
	}
}

func TestLoadToolCatalog_FromFile(t *testing.T) {
	t.Parallel()

	path := writeCatalogFile(t, `
tools:
  - name: semgrep
    rules_path: /opt/rules/custom
  - name: bandit
    enabled: false
  - name: gitleaks
`)

	catalog, err := LoadToolCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Tools, 3)

	semgrep, ok := catalog.Entry("semgrep")
	require.True(t, ok)
	assert.Equal(t, "/opt/rules/custom", semgrep.RulesPath)
	assert.True(t, catalog.IsEnabled("semgrep"))

	assert.False(t, catalog.IsEnabled("bandit"), "explicitly disabled")
	assert.True(t, catalog.IsEnabled("gitleaks"), "enabled when the flag is omitted")
	assert.False(t, catalog.IsEnabled("ruff"), "absent tools are disabled")
}

func TestLoadToolCatalog_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
		missing  bool
	}{
		{name: "missing file", missing: true},
		{name: "malformed yaml", contents: "tools: ["},
		{name: "no tools declared", contents: "tools: []"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nope.yaml")
			if !tt.missing {
				path = writeCatalogFile(t, tt.contents)
			}
			_, err := LoadToolCatalog(path)
			assert.Error(t, err)
		})
	}
}

func TestToolCatalog_Entry_Unknown(t *testing.T) {
	t.Parallel()

	_, ok := DefaultToolCatalog().Entry("trivy")
	assert.False(t, ok)
}
