// Package runner executes tool adapters against a checked-out workspace,
// bounding each adapter with its own timeout and a fixed parallelism limit.
// Adapters fail independently; one misbehaving tool never aborts siblings.
package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// Adapter is the capability set a pluggable analysis tool implements. New
// tools are added by implementing this interface and registering it; the
// runner itself never changes.
type Adapter interface {
	// Name returns the tool identifier used in requests, reports, and events.
	Name() string

	// Accepts reports whether the tool applies to the given workspace
	// (e.g. a Python-only tool declines a repository with no Python files).
	Accepts(ctx context.Context, ws scanning.Workspace) bool

	// Invoke runs the tool inside the workspace and returns its raw output.
	// Tool errors are reported through the output's status, not the error
	// return; the error return is reserved for violations that must abort
	// the scan (e.g. a network policy violation).
	Invoke(ctx context.Context, ws scanning.Workspace) (scanning.RawToolOutput, error)
}

// Registry is the fixed, build-time table of available adapters. Keeping the
// adapter set closed makes the tool surface auditable.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, exists := r.adapters[a.Name()]; exists {
			return nil, fmt.Errorf("duplicate adapter registered: %s", a.Name())
		}
		r.adapters[a.Name()] = a
	}
	return r, nil
}

// Get returns the adapter registered under the given tool name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
