package workflow

import "sync"

// TemplateRegistry holds named, pre-canned blueprints. Templates are
// immutable once registered; re-registering a name replaces the template
// and invalidates any cached compilation of the old one.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Blueprint
	cache     *Cache
}

// NewTemplateRegistry creates a registry holding the built-in templates.
// The cache, when non-nil, is invalidated on template replacement.
func NewTemplateRegistry(cache *Cache) *TemplateRegistry {
	r := &TemplateRegistry{
		templates: make(map[string]*Blueprint),
		cache:     cache,
	}
	for name, bp := range builtinTemplates() {
		r.templates[name] = bp
	}
	return r
}

// Register installs or replaces a template.
func (r *TemplateRegistry) Register(name string, bp *Blueprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.templates[name]; ok && r.cache != nil {
		r.cache.Invalidate(old.Hash())
	}
	r.templates[name] = bp
}

// Get returns the template blueprint, or false when unknown. Callers
// receive the shared instance; templates are treated as read-only.
func (r *TemplateRegistry) Get(name string) (*Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.templates[name]
	return bp, ok
}

// Names returns the registered template names.
func (r *TemplateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Built-in template names.
const (
	TemplateChat      = "chat"
	TemplateRAG       = "rag"
	TemplateToolAgent = "tool-agent"
)

func builtinTemplates() map[string]*Blueprint {
	return map[string]*Blueprint{
		// Plain chat: start -> model.
		TemplateChat: {
			Name: TemplateChat,
			Nodes: []NodeSpec{
				{ID: "start", Type: TypeStart},
				{ID: "respond", Type: TypeModel},
			},
			Edges: []EdgeSpec{
				{From: "start", To: "respond"},
			},
		},

		// Retrieval-augmented chat: start -> retrieval -> model.
		TemplateRAG: {
			Name: TemplateRAG,
			Nodes: []NodeSpec{
				{ID: "start", Type: TypeStart},
				{ID: "retrieve", Type: TypeRetrieval},
				{ID: "respond", Type: TypeModel},
			},
			Edges: []EdgeSpec{
				{From: "start", To: "retrieve"},
				{From: "retrieve", To: "respond"},
			},
		},

		// Single-round tool use: the first model call may request tools,
		// the tool node executes them, the second call answers.
		TemplateToolAgent: {
			Name: TemplateToolAgent,
			Nodes: []NodeSpec{
				{ID: "start", Type: TypeStart},
				{ID: "plan", Type: TypeModel},
				{ID: "tools", Type: TypeTool},
				{ID: "respond", Type: TypeModel},
			},
			Edges: []EdgeSpec{
				{From: "start", To: "plan"},
				{From: "plan", To: "tools"},
				{From: "tools", To: "respond"},
			},
		},
	}
}
