package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

// Registry holds the tools available to workflow executions.
//
// A registry is shared read-mostly state: tools are registered during
// process startup and invoked concurrently by runs afterwards. Invoke
// enforces the per-run allowlist a second time even though preparation
// already filters the specs handed to the model; a model can hallucinate
// tool names, so the registry is the authoritative gate.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or false when absent.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View returns the tool set visible to a run, filtered by an allowlist.
// A nil allowlist exposes every registered tool; an empty (non-nil)
// allowlist exposes none.
func (r *Registry) View(allowed []string) *View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := &View{registry: r}
	if allowed != nil {
		v.allowed = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			v.allowed[name] = struct{}{}
		}
	}
	return v
}

// View is a per-run, allowlist-filtered window onto a Registry.
type View struct {
	registry *Registry
	allowed  map[string]struct{} // nil means everything
}

// Allowed reports whether the named tool is visible through this view.
func (v *View) Allowed(name string) bool {
	if v.allowed == nil {
		return true
	}
	_, ok := v.allowed[name]
	return ok
}

// Specs returns the tool specs visible through this view, sorted by name,
// suitable for passing to a model request.
func (v *View) Specs() []model.ToolSpec {
	names := v.registry.Names()
	specs := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		if !v.Allowed(name) {
			continue
		}
		if t, ok := v.registry.Get(name); ok {
			specs = append(specs, t.Spec())
		}
	}
	return specs
}

// Invoke executes the named tool after re-checking the allowlist.
// Refusals and tool failures are both reported as *Error.
func (v *View) Invoke(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	if !v.Allowed(name) {
		return nil, &Error{Tool: name, Message: "not in allowed tools"}
	}
	t, ok := v.registry.Get(name)
	if !ok {
		return nil, &Error{Tool: name, Message: "not registered"}
	}

	out, err := t.Call(ctx, input)
	if err != nil {
		if _, ok := err.(*Error); ok {
			return nil, err
		}
		return nil, &Error{Tool: name, Message: err.Error(), Cause: err}
	}
	return out, nil
}
