package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// CompiledGraph is an immutable, executable form of a blueprint: node
// instances plus an adjacency list ordered for deterministic routing.
type CompiledGraph struct {
	nodes     map[string]Node
	adjacency map[string][]EdgeSpec
	startID   string
	hash      string
}

// Compile validates a blueprint and builds its executable graph. A
// blueprint that fails validation never compiles; the two checks are the
// same code path.
func Compile(bp *Blueprint, registry *NodeRegistry) (*CompiledGraph, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}

	if issues := Validate(bp, registry); len(issues) > 0 {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("blueprint %q failed validation with %d issue(s)", bp.Name, len(issues)),
			Details: map[string]any{"issues": issues},
		}
	}

	g := &CompiledGraph{
		nodes:     make(map[string]Node, len(bp.Nodes)),
		adjacency: make(map[string][]EdgeSpec),
		hash:      bp.Hash(),
	}

	for _, spec := range bp.Nodes {
		node, err := registry.Build(spec)
		if err != nil {
			return nil, err
		}
		g.nodes[spec.ID] = node
		if spec.Type == TypeStart {
			g.startID = spec.ID
		}
	}

	for _, edge := range bp.Edges {
		g.adjacency[edge.From] = append(g.adjacency[edge.From], edge)
	}
	for from := range g.adjacency {
		edges := g.adjacency[from]
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].Order < edges[j].Order
		})
	}

	return g, nil
}

// StartID returns the id of the graph's start node.
func (g *CompiledGraph) StartID() string { return g.startID }

// Hash returns the content hash of the source blueprint.
func (g *CompiledGraph) Hash() string { return g.hash }

// Node returns the compiled node with the given id.
func (g *CompiledGraph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes in the graph.
func (g *CompiledGraph) Len() int { return len(g.nodes) }

// Next selects the successor of a node for the given routing label.
// Edges whose condition matches the label win, lowest order first; when
// none match, the first condition-less edge is the default. An empty
// second return ends the run at this node.
func (g *CompiledGraph) Next(from, label string) (string, bool) {
	edges := g.adjacency[from]
	if label != "" {
		for _, e := range edges {
			if e.Condition == label {
				return e.To, true
			}
		}
	}
	for _, e := range edges {
		if e.Condition == "" {
			return e.To, true
		}
	}
	return "", false
}

// Outgoing returns the ordered outgoing edges of a node.
func (g *CompiledGraph) Outgoing(from string) []EdgeSpec {
	return g.adjacency[from]
}

// Cache memoizes compiled graphs keyed by blueprint content hash plus
// the config shape (the enable flags that change which node collaborators
// get bound). Same blueprint, same shape, same graph.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CompiledGraph
}

// NewCache creates an empty graph cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CompiledGraph)}
}

func cacheKey(bp *Blueprint, cfg Config) string {
	return bp.Hash() + ":" + cfg.shapeHash()
}

// Get returns the cached graph for a blueprint and config shape.
func (c *Cache) Get(bp *Blueprint, cfg Config) (*CompiledGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.entries[cacheKey(bp, cfg)]
	return g, ok
}

// Put stores a compiled graph.
func (c *Cache) Put(bp *Blueprint, cfg Config, g *CompiledGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(bp, cfg)] = g
}

// Compile returns the cached graph for the blueprint, compiling and
// storing it on miss.
func (c *Cache) Compile(bp *Blueprint, cfg Config, registry *NodeRegistry) (*CompiledGraph, error) {
	if g, ok := c.Get(bp, cfg); ok {
		return g, nil
	}
	g, err := Compile(bp, registry)
	if err != nil {
		return nil, err
	}
	c.Put(bp, cfg, g)
	return g, nil
}

// Invalidate drops every cached graph for the given blueprint hash.
func (c *Cache) Invalidate(blueprintHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(blueprintHash) && key[:len(blueprintHash)] == blueprintHash {
			delete(c.entries, key)
		}
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CompiledGraph)
}

// Len returns the number of cached graphs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
