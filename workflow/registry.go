package workflow

import (
	"sort"
	"sync"
)

// Node type names. These are the only types the compiler accepts; adding
// a behavior means adding a descriptor to the registry, nowhere else.
const (
	TypeStart        = "start"
	TypeModel        = "model"
	TypeTool         = "tool"
	TypeRetrieval    = "retrieval"
	TypeMemory       = "memory"
	TypeConditional  = "conditional"
	TypeLoop         = "loop"
	TypeVariable     = "variable"
	TypeDelay        = "delay"
	TypeErrorHandler = "error-handler"
)

// ConfigKey declares one config entry a node type accepts.
type ConfigKey struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, object, array
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Descriptor is the registry entry for one node type: its schema, the
// state fields it touches, and the factory that builds instances. The
// API layer's node-types listing is a projection of these descriptors.
type Descriptor struct {
	Type        string      `json:"type"`
	DisplayName string      `json:"displayName"`
	Category    string      `json:"category"`
	ConfigKeys  []ConfigKey `json:"configKeys,omitempty"`
	Reads       []string    `json:"reads,omitempty"`
	Writes      []string    `json:"writes,omitempty"`

	Factory func(id string, config map[string]any) (Node, error) `json:"-"`
}

// NodeRegistry is the authoritative catalog of node types.
type NodeRegistry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
	order []string
}

// NewNodeRegistry creates an empty registry. Most callers want
// DefaultRegistry, which carries the built-in node set.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{types: make(map[string]Descriptor)}
}

// Register adds a descriptor, replacing any existing type of the same
// name.
func (r *NodeRegistry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[d.Type]; !exists {
		r.order = append(r.order, d.Type)
	}
	r.types[d.Type] = d
}

// List returns every descriptor in registration order.
func (r *NodeRegistry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.types[t])
	}
	return out
}

// Get returns the descriptor for a type, or false when unknown.
func (r *NodeRegistry) Get(nodeType string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[nodeType]
	return d, ok
}

// IsValid reports whether the type is registered.
func (r *NodeRegistry) IsValid(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// RequiredKeys returns the required config key names for a type, sorted.
func (r *NodeRegistry) RequiredKeys(nodeType string) []string {
	d, ok := r.Get(nodeType)
	if !ok {
		return nil
	}
	var keys []string
	for _, k := range d.ConfigKeys {
		if k.Required {
			keys = append(keys, k.Name)
		}
	}
	sort.Strings(keys)
	return keys
}

// Build constructs a node instance from a validated spec. Missing
// required keys surface as ValidationError; the Validator reports the
// same condition earlier with a path, so Build hitting one indicates a
// caller that skipped validation.
func (r *NodeRegistry) Build(spec NodeSpec) (Node, error) {
	d, ok := r.Get(spec.Type)
	if !ok {
		return nil, Errorf(KindValidation, "unknown node type %q", spec.Type)
	}
	for _, key := range d.ConfigKeys {
		if !key.Required {
			continue
		}
		if _, present := spec.Config[key.Name]; !present {
			return nil, Errorf(KindValidation, "node %s missing required config key %q", spec.ID, key.Name)
		}
	}
	return d.Factory(spec.ID, spec.Config)
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *NodeRegistry
)

// DefaultRegistry returns the shared registry holding the built-in node
// set.
func DefaultRegistry() *NodeRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewNodeRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

// registerBuiltins installs the ten built-in node types.
func registerBuiltins(r *NodeRegistry) {
	r.Register(Descriptor{
		Type:        TypeStart,
		DisplayName: "Start",
		Category:    "control",
		Factory: func(id string, _ map[string]any) (Node, error) {
			return &startNode{id: id}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeModel,
		DisplayName: "Model Call",
		Category:    "llm",
		ConfigKeys: []ConfigKey{
			{Name: "model", Type: "string", Description: "Override the run's model"},
			{Name: "temperature", Type: "number", Description: "Override the run's temperature"},
			{Name: "max_tokens", Type: "number", Description: "Override the run's max tokens"},
		},
		Reads:  []string{"messages", "retrievalContext"},
		Writes: []string{"messages", "usageMetadata"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &modelNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeTool,
		DisplayName: "Tool Call",
		Category:    "tools",
		Reads:       []string{"messages", "toolCallCount"},
		Writes:      []string{"messages", "toolCallCount"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &toolNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeRetrieval,
		DisplayName: "Document Retrieval",
		Category:    "rag",
		ConfigKeys: []ConfigKey{
			{Name: "query", Type: "string", Description: "Query template; defaults to the last user message"},
		},
		Reads:  []string{"messages"},
		Writes: []string{"messages", "retrievalContext"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &retrievalNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeMemory,
		DisplayName: "Memory Window",
		Category:    "memory",
		ConfigKeys: []ConfigKey{
			{Name: "window", Type: "number", Description: "Override the run's memory window"},
		},
		Reads:  []string{"messages"},
		Writes: []string{"messages", "conversationSummary"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &memoryNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeConditional,
		DisplayName: "Conditional Branch",
		Category:    "control",
		ConfigKeys: []ConfigKey{
			{Name: "variable", Type: "string", Required: true, Description: "Variable name, or last_message"},
			{Name: "operator", Type: "string", Required: true, Description: "equals, not_equals, contains, exists, gt, lt"},
			{Name: "value", Type: "string", Description: "Comparison operand"},
		},
		Reads:  []string{"variables", "messages"},
		Writes: []string{"conditionalResults"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &conditionalNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeLoop,
		DisplayName: "Loop",
		Category:    "control",
		ConfigKeys: []ConfigKey{
			{Name: "bound", Type: "number", Required: true, Description: "Maximum iterations"},
			{Name: "variable", Type: "string", Description: "Body condition variable"},
			{Name: "operator", Type: "string", Description: "Body condition operator"},
			{Name: "value", Type: "string", Description: "Body condition operand"},
		},
		Reads:  []string{"loopState", "variables"},
		Writes: []string{"loopState"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &loopNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeVariable,
		DisplayName: "Variable",
		Category:    "state",
		ConfigKeys: []ConfigKey{
			{Name: "name", Type: "string", Required: true, Description: "Variable name"},
			{Name: "operation", Type: "string", Description: "set (default), delete, or capture"},
			{Name: "value", Type: "string", Description: "Value for set"},
		},
		Reads:  []string{"variables", "messages"},
		Writes: []string{"variables"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &variableNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeDelay,
		DisplayName: "Delay",
		Category:    "control",
		ConfigKeys: []ConfigKey{
			{Name: "duration_ms", Type: "number", Required: true, Description: "Suspend duration in milliseconds"},
		},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &delayNode{id: id, config: config}, nil
		},
	})

	r.Register(Descriptor{
		Type:        TypeErrorHandler,
		DisplayName: "Error Handler",
		Category:    "control",
		Reads:       []string{"errorState"},
		Writes:      []string{"variables"},
		Factory: func(id string, config map[string]any) (Node, error) {
			return &errorHandlerNode{id: id, config: config}, nil
		},
	})
}
