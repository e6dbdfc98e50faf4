package workflow

import "fmt"

// Issue is one validation finding. A non-empty issue list surfaces as a
// ValidationError; the executor never runs a blueprint that produced one.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes.
const (
	CodeEmptyBlueprint    = "empty_blueprint"
	CodeDuplicateNode     = "duplicate_node_id"
	CodeUnknownType       = "unknown_node_type"
	CodeMissingConfigKey  = "missing_config_key"
	CodeStartCount        = "start_node_count"
	CodeUnknownEndpoint   = "unknown_edge_endpoint"
	CodeDuplicateEdge     = "duplicate_edge"
	CodeEdgeIntoStart     = "edge_targets_start"
	CodeMissingEdge       = "missing_outgoing_edge"
	CodeUnreachable       = "unreachable_node"
	CodeIllegalCycle      = "illegal_cycle"
	CodeMissingCondition  = "missing_edge_condition"
	CodeEdgeOrderRequired = "edge_order_required"
	CodeRetrievalOrdering = "retrieval_after_tools"
	CodeBadConfigValue    = "bad_config_value"
)

// Validate checks a blueprint against the structural invariants. It is
// the single authoritative implementation; editor-side validation may be
// a subset of these rules but never a superset.
func Validate(bp *Blueprint, registry *NodeRegistry) []Issue {
	if registry == nil {
		registry = DefaultRegistry()
	}

	var issues []Issue
	if bp == nil || len(bp.Nodes) == 0 {
		return append(issues, Issue{
			Path: "nodes", Code: CodeEmptyBlueprint,
			Message: "blueprint declares no nodes",
		})
	}

	nodes := make(map[string]NodeSpec, len(bp.Nodes))
	startCount := 0
	for i, spec := range bp.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if _, dup := nodes[spec.ID]; dup {
			issues = append(issues, Issue{
				Path: path, Code: CodeDuplicateNode,
				Message: fmt.Sprintf("duplicate node id %q", spec.ID),
			})
			continue
		}
		nodes[spec.ID] = spec

		if !registry.IsValid(spec.Type) {
			issues = append(issues, Issue{
				Path: path, Code: CodeUnknownType,
				Message: fmt.Sprintf("unknown node type %q", spec.Type),
			})
			continue
		}
		if spec.Type == TypeStart {
			startCount++
		}
		for _, key := range registry.RequiredKeys(spec.Type) {
			if _, present := spec.Config[key]; !present {
				issues = append(issues, Issue{
					Path: path + ".config." + key, Code: CodeMissingConfigKey,
					Message: fmt.Sprintf("node %q requires config key %q", spec.ID, key),
				})
			}
		}
	}

	if startCount != 1 {
		issues = append(issues, Issue{
			Path: "nodes", Code: CodeStartCount,
			Message: fmt.Sprintf("blueprint must declare exactly one start node, found %d", startCount),
		})
	}

	outgoing := make(map[string][]EdgeSpec)
	seenEdges := make(map[[2]string]bool)
	for i, edge := range bp.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := nodes[edge.From]; !ok {
			issues = append(issues, Issue{
				Path: path + ".from", Code: CodeUnknownEndpoint,
				Message: fmt.Sprintf("edge references unknown node %q", edge.From),
			})
			continue
		}
		target, ok := nodes[edge.To]
		if !ok {
			issues = append(issues, Issue{
				Path: path + ".to", Code: CodeUnknownEndpoint,
				Message: fmt.Sprintf("edge references unknown node %q", edge.To),
			})
			continue
		}
		pair := [2]string{edge.From, edge.To}
		if seenEdges[pair] {
			issues = append(issues, Issue{
				Path: path, Code: CodeDuplicateEdge,
				Message: fmt.Sprintf("duplicate edge %s -> %s", edge.From, edge.To),
			})
			continue
		}
		seenEdges[pair] = true
		if target.Type == TypeStart {
			issues = append(issues, Issue{
				Path: path + ".to", Code: CodeEdgeIntoStart,
				Message: "no edge may target the start node",
			})
		}
		outgoing[edge.From] = append(outgoing[edge.From], edge)
	}

	// Routing nodes cannot be graph termini; they exist to choose a
	// continuation.
	for id, spec := range nodes {
		switch spec.Type {
		case TypeStart, TypeConditional, TypeLoop:
			if len(outgoing[id]) == 0 {
				issues = append(issues, Issue{
					Path: "nodes." + id, Code: CodeMissingEdge,
					Message: fmt.Sprintf("%s node %q has no outgoing edge", spec.Type, id),
				})
			}
		}
		if spec.Type == TypeLoop {
			issues = append(issues, checkLoopEdges(id, outgoing[id])...)
		}
		if spec.Type == TypeConditional {
			issues = append(issues, checkConditionalEdges(id, outgoing[id])...)
		}
	}

	// Same-condition edges from one node need distinct orders; routing
	// would otherwise be ambiguous.
	for id, edges := range outgoing {
		byCondition := make(map[string][]EdgeSpec)
		for _, e := range edges {
			byCondition[e.Condition] = append(byCondition[e.Condition], e)
		}
		for cond, group := range byCondition {
			if len(group) < 2 {
				continue
			}
			orders := make(map[int]bool)
			for _, e := range group {
				if orders[e.Order] {
					issues = append(issues, Issue{
						Path: "nodes." + id, Code: CodeEdgeOrderRequired,
						Message: fmt.Sprintf("edges from %q with condition %q need distinct order values", id, cond),
					})
					break
				}
				orders[e.Order] = true
			}
		}
	}

	if startCount == 1 {
		issues = append(issues, checkReachability(bp, nodes, outgoing)...)
		issues = append(issues, checkCycles(nodes, outgoing)...)
		issues = append(issues, checkRetrievalOrdering(nodes, outgoing)...)
	}

	return issues
}

// checkLoopEdges requires a loop node to declare both its body and exit
// continuations.
func checkLoopEdges(id string, edges []EdgeSpec) []Issue {
	hasBody, hasExit := false, false
	for _, e := range edges {
		switch e.Condition {
		case LabelBody:
			hasBody = true
		case LabelExit:
			hasExit = true
		}
	}
	var issues []Issue
	if len(edges) > 0 && !hasBody {
		issues = append(issues, Issue{
			Path: "nodes." + id, Code: CodeMissingCondition,
			Message: fmt.Sprintf("loop node %q has no body edge", id),
		})
	}
	if len(edges) > 0 && !hasExit {
		issues = append(issues, Issue{
			Path: "nodes." + id, Code: CodeMissingCondition,
			Message: fmt.Sprintf("loop node %q has no exit edge", id),
		})
	}
	return issues
}

// checkConditionalEdges requires every edge out of a conditional to carry
// a branch condition, and both branches to have a destination. A branch
// with no edge would silently end the run at evaluation time.
func checkConditionalEdges(id string, edges []EdgeSpec) []Issue {
	var issues []Issue
	branches := map[string]bool{}
	for _, e := range edges {
		if e.Condition == "" {
			issues = append(issues, Issue{
				Path: "nodes." + id, Code: CodeMissingCondition,
				Message: fmt.Sprintf("edge %s -> %s from conditional node needs a condition", e.From, e.To),
			})
			continue
		}
		branches[e.Condition] = true
	}
	if len(edges) > 0 {
		for _, label := range []string{LabelTrue, LabelFalse} {
			if !branches[label] {
				issues = append(issues, Issue{
					Path: "nodes." + id, Code: CodeMissingCondition,
					Message: fmt.Sprintf("conditional node %q has no %s branch edge", id, label),
				})
			}
		}
	}
	return issues
}

// checkReachability flags nodes the start node cannot reach.
func checkReachability(bp *Blueprint, nodes map[string]NodeSpec, outgoing map[string][]EdgeSpec) []Issue {
	startID := ""
	for id, spec := range nodes {
		if spec.Type == TypeStart {
			startID = id
			break
		}
	}
	if startID == "" {
		return nil
	}

	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range outgoing[current] {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	var issues []Issue
	for _, spec := range bp.Nodes {
		if _, ok := nodes[spec.ID]; !ok {
			continue
		}
		if !visited[spec.ID] {
			issues = append(issues, Issue{
				Path: "nodes." + spec.ID, Code: CodeUnreachable,
				Message: fmt.Sprintf("node %q is not reachable from start", spec.ID),
			})
		}
	}
	return issues
}

// checkCycles rejects cycles that do not pass through a loop node's body
// edge. With those edges removed the graph must be acyclic.
func checkCycles(nodes map[string]NodeSpec, outgoing map[string][]EdgeSpec) []Issue {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var cyclic bool
	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		for _, e := range outgoing[id] {
			if nodes[id].Type == TypeLoop && e.Condition == LabelBody {
				continue
			}
			switch color[e.To] {
			case white:
				visit(e.To)
			case gray:
				cyclic = true
			}
		}
		color[id] = black
	}
	for id := range nodes {
		if color[id] == white {
			visit(id)
		}
	}

	if cyclic {
		return []Issue{{
			Path: "edges", Code: CodeIllegalCycle,
			Message: "cycles are only allowed through a loop node's body edge",
		}}
	}
	return nil
}

// checkRetrievalOrdering enforces the declared rule that retrieval
// precedes tool execution: no retrieval node may be reachable from a
// tool node.
func checkRetrievalOrdering(nodes map[string]NodeSpec, outgoing map[string][]EdgeSpec) []Issue {
	var toolIDs []string
	hasRetrieval := false
	for id, spec := range nodes {
		switch spec.Type {
		case TypeTool:
			toolIDs = append(toolIDs, id)
		case TypeRetrieval:
			hasRetrieval = true
		}
	}
	if len(toolIDs) == 0 || !hasRetrieval {
		return nil
	}

	visited := make(map[string]bool)
	queue := append([]string(nil), toolIDs...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range outgoing[current] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			queue = append(queue, e.To)
		}
	}

	var issues []Issue
	for id, spec := range nodes {
		if spec.Type == TypeRetrieval && visited[id] {
			issues = append(issues, Issue{
				Path: "nodes." + id, Code: CodeRetrievalOrdering,
				Message: fmt.Sprintf("retrieval node %q must run before tool nodes", id),
			})
		}
	}
	return issues
}

// ValidateConfig checks execution parameters against their schema.
func ValidateConfig(cfg Config) []Issue {
	var issues []Issue
	if cfg.Provider == "" {
		issues = append(issues, Issue{
			Path: "config.provider", Code: CodeBadConfigValue,
			Message: "provider is required",
		})
	}
	if cfg.Model == "" {
		issues = append(issues, Issue{
			Path: "config.model", Code: CodeBadConfigValue,
			Message: "model is required",
		})
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		issues = append(issues, Issue{
			Path: "config.temperature", Code: CodeBadConfigValue,
			Message: "temperature must be between 0 and 2",
		})
	}
	if cfg.MaxTokens < 0 {
		issues = append(issues, Issue{
			Path: "config.maxTokens", Code: CodeBadConfigValue,
			Message: "maxTokens cannot be negative",
		})
	}
	if cfg.MaxToolCalls < 0 {
		issues = append(issues, Issue{
			Path: "config.maxToolCalls", Code: CodeBadConfigValue,
			Message: "maxToolCalls cannot be negative",
		})
	}
	if cfg.MemoryWindow < 0 {
		issues = append(issues, Issue{
			Path: "config.memoryWindow", Code: CodeBadConfigValue,
			Message: "memoryWindow cannot be negative",
		})
	}
	return issues
}
