// Package event provides the in-process publish/subscribe bus the workflow
// executor announces its lifecycle on.
//
// The executor publishes; subscribers react. The executor has no knowledge
// of any subscriber, which keeps persistence, metrics, audit logging, and
// tracing out of the execution path proper.
package event

import "time"

// Kind classifies a lifecycle event.
type Kind string

const (
	// ExecutionStarted is published once, before any node runs.
	ExecutionStarted Kind = "execution_started"

	// NodeStarted is published before a node executes.
	NodeStarted Kind = "node_started"

	// NodeCompleted is published after a node executes successfully.
	NodeCompleted Kind = "node_completed"

	// NodeFailed is published after a node returns an error.
	NodeFailed Kind = "node_failed"

	// TokenChunk carries one streamed model token.
	TokenChunk Kind = "token_chunk"

	// UsageRecorded carries token usage from one model call.
	UsageRecorded Kind = "usage_recorded"

	// ToolInvoked is published after a tool call returns.
	ToolInvoked Kind = "tool_invoked"

	// ExecutionCompleted is the terminal event of a successful run.
	ExecutionCompleted Kind = "execution_completed"

	// ExecutionFailed is the terminal event of a failed run.
	ExecutionFailed Kind = "execution_failed"

	// ExecutionCancelled is the terminal event of a cancelled run.
	ExecutionCancelled Kind = "execution_cancelled"
)

// Terminal reports whether the kind ends a run's event sequence.
func (k Kind) Terminal() bool {
	return k == ExecutionCompleted || k == ExecutionFailed || k == ExecutionCancelled
}

// Event is one lifecycle announcement from a workflow run.
//
// Within a run, events are published in strict causal order:
// ExecutionStarted precedes any NodeStarted, every NodeStarted is paired
// with exactly one NodeCompleted or NodeFailed, and exactly one terminal
// event closes the sequence. Across runs no ordering is guaranteed.
type Event struct {
	// ID uniquely identifies this event. Used for deduplication by
	// consumers that may see an event more than once.
	ID string

	// RunID identifies the workflow execution that published this event.
	RunID string

	// Kind classifies the event.
	Kind Kind

	// Timestamp is when the event was published.
	Timestamp time.Time

	// NodeID identifies the node this event concerns.
	// Empty for run-level events.
	NodeID string

	// Payload carries event-specific structured data.
	// Common keys:
	//   - "error": failure details
	//   - "input_tokens", "output_tokens": usage counts
	//   - "tool": invoked tool name
	//   - "token": streamed text fragment
	//   - "duration_ms": node latency
	Payload map[string]any
}
