// Package workflow implements the workflow execution core: blueprint
// resolution and validation, graph compilation, typed-node execution in
// unary and streaming modes, token/cost aggregation, lifecycle events,
// and resource limits.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Blueprint is a normalized, executable workflow description.
//
// Invariants (enforced by the Validator, assumed by the compiler):
//   - exactly one node of type "start"
//   - every node reachable from start
//   - no edge targets start; no duplicate (from, to) pair
//   - cycles only through a loop node's body edge
type Blueprint struct {
	Name  string     `json:"name,omitempty"`
	Nodes []NodeSpec `json:"nodes"`
	Edges []EdgeSpec `json:"edges"`
}

// NodeSpec declares one node of a blueprint.
type NodeSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// EdgeSpec declares one directed edge. Condition selects the edge when
// the source node routes by label (conditional branches, loop body/exit,
// error-handler continuation); an empty condition marks the default edge.
// Order breaks ties when multiple edges carry the same condition.
type EdgeSpec struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
	Order     int    `json:"order,omitempty"`
}

// Hash returns a stable content hash of the blueprint, independent of
// node and edge declaration order. Used as the compilation cache key.
func (b *Blueprint) Hash() string {
	nodes := make([]NodeSpec, len(b.Nodes))
	copy(nodes, b.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]EdgeSpec, len(b.Edges))
	copy(edges, b.Edges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})

	data, err := json.Marshal(struct {
		Name  string     `json:"name"`
		Nodes []NodeSpec `json:"nodes"`
		Edges []EdgeSpec `json:"edges"`
	}{b.Name, nodes, edges})
	if err != nil {
		// Marshal of plain maps and strings cannot fail; guard anyway.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SourceKind discriminates how a workflow description arrives.
type SourceKind string

const (
	// SourceInline carries the blueprint in the request itself.
	SourceInline SourceKind = "inline"

	// SourceDefinition references a durably stored blueprint by id.
	SourceDefinition SourceKind = "definition"

	// SourceTemplate names a parameterized blueprint generator.
	SourceTemplate SourceKind = "template"
)

// Source is the discriminated origin of a workflow. Exactly one of the
// variant fields is consulted, selected by Kind.
type Source struct {
	Kind SourceKind `json:"kind"`

	// Blueprint is used when Kind is SourceInline.
	Blueprint *Blueprint `json:"blueprint,omitempty"`

	// DefinitionID is used when Kind is SourceDefinition.
	DefinitionID string `json:"definitionId,omitempty"`

	// Template and Params are used when Kind is SourceTemplate.
	Template string         `json:"template,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Config holds the execution parameters of one run.
type Config struct {
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	Temperature     float64        `json:"temperature,omitempty"`
	MaxTokens       int            `json:"maxTokens,omitempty"`
	EnableTools     bool           `json:"enableTools"`
	EnableRetrieval bool           `json:"enableRetrieval"`
	EnableMemory    bool           `json:"enableMemory"`
	MemoryWindow    int            `json:"memoryWindow,omitempty"`
	MaxToolCalls    int            `json:"maxToolCalls,omitempty"`
	SystemMessage   string         `json:"systemMessage,omitempty"`
	AllowedTools    []string       `json:"allowedTools,omitempty"`
	DocumentIDs     []string       `json:"documentIds,omitempty"`

	// Trace enables per-node frames on streaming responses.
	Trace bool `json:"trace,omitempty"`
}

// shapeHash folds the config fields that influence compilation into the
// cache key. Per-run values (system message, document ids) do not change
// graph shape and are excluded.
func (c Config) shapeHash() string {
	data, _ := json.Marshal(struct {
		Tools     bool `json:"tools"`
		Retrieval bool `json:"retrieval"`
		Memory    bool `json:"memory"`
	}{c.EnableTools, c.EnableRetrieval, c.EnableMemory})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Input is one workflow execution request.
type Input struct {
	UserID         string         `json:"userId"`
	Message        string         `json:"message"`
	ConversationID string         `json:"conversationId,omitempty"`
	Source         Source         `json:"source"`
	Config         Config         `json:"config"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
