package workflow

import (
	"context"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/retrieve"
	"github.com/flowgraph-dev/flowgraph/workflow/tool"
)

// Node is one typed step of a compiled graph.
//
// Nodes are constructed at compile time, invoked once per visit, and hold
// no per-run state; everything mutable lives in the ExecutionState the
// executor threads through them. A node reads the state it is handed and
// returns its changes as a Delta.
type Node interface {
	// ID returns the node's blueprint id.
	ID() string

	// Type returns the registry type name.
	Type() string

	// Execute runs the node against the current state. The returned
	// Delta is merged by the executor even when Err is set, so partial
	// progress (an executed tool call before a limit trip) is kept.
	Execute(ctx context.Context, rt *Runtime, state *ExecutionState) NodeResult
}

// NodeResult is what one node visit produces.
type NodeResult struct {
	// Delta is the node's partial state update.
	Delta Delta

	// Label selects the outgoing edge: conditional branch values,
	// "body"/"exit" for loops, "on-error" for error handlers. Empty
	// follows the default edge.
	Label string

	// Err aborts the run (or routes to an error handler) when non-nil.
	Err error
}

// Runtime carries the per-run collaborators bound at preparation. It is
// read-only during the run and shared by every node visit.
type Runtime struct {
	RunID  string
	Config Config

	// Provider is the LLM handle resolved for (provider, model).
	Provider model.Provider

	// Tools is the allowlist-filtered tool view, nil when tools are
	// disabled.
	Tools *tool.View

	// Retriever is the document retriever, nil when retrieval is
	// disabled.
	Retriever retrieve.Retriever

	// OnToken forwards streamed model tokens. Nil in unary mode; model
	// nodes then buffer silently.
	OnToken model.TokenFunc
}
