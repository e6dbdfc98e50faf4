package workflow

import (
	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/retrieve"
)

// ExecutionState is the per-run mutable context threaded through nodes.
//
// The executor exclusively owns the state; nodes receive it by reference,
// must not retain it beyond their invocation, and mutate it only through
// the Delta they return. Optional fields stay nil until first written so
// a plain chat run allocates nothing beyond its messages.
type ExecutionState struct {
	// Required fields, set by InitState.
	Messages       []model.Message
	UserID         string
	ConversationID string
	Metadata       map[string]any

	// Lazy fields, allocated on first write.
	RetrievalContext    []retrieve.Chunk
	ConversationSummary string
	ToolCallCount       int
	Variables           map[string]any
	LoopState           map[string]*LoopState
	ConditionalResults  map[string]string
	ErrorState          *ErrorState
	ExecutionHistory    []string

	// Usage holds the usage of the most recent model call only. The
	// aggregator owns run totals; consumers must never read this as a
	// cumulative value.
	Usage *model.Usage
}

// LoopState tracks one loop node's progress.
type LoopState struct {
	Iterations int `json:"iterations"`
	Bound      int `json:"bound"`
}

// ErrorState records a failure captured by an error-handler node.
type ErrorState struct {
	NodeID  string  `json:"nodeId"`
	Kind    ErrKind `json:"kind"`
	Message string  `json:"message"`
}

// LastMessage returns the most recent message, or false when empty.
func (s *ExecutionState) LastMessage() (model.Message, bool) {
	if len(s.Messages) == 0 {
		return model.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastUserMessage returns the most recent user-role message.
func (s *ExecutionState) LastUserMessage() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleUser {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

// LastAssistantMessage returns the most recent assistant-role message.
func (s *ExecutionState) LastAssistantMessage() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleAssistant {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

// Delta is the partial state update a node returns. The executor merges
// it into the run's ExecutionState; nodes never write the state directly.
//
// Zero-valued fields are no-ops, so a node touches only its declared
// write set.
type Delta struct {
	// AppendMessages are appended to state.Messages in order.
	AppendMessages []model.Message

	// ReplaceMessages, when set, substitutes the whole message list.
	// Used by memory nodes that prune history.
	ReplaceMessages    []model.Message
	ReplaceMessagesSet bool

	// RetrievalContext replaces the state's retrieval context.
	RetrievalContext []retrieve.Chunk

	// ConversationSummary, when non-nil, replaces the summary.
	ConversationSummary *string

	// ToolCalls increments state.ToolCallCount.
	ToolCalls int

	// ToolInvocations reports executed tool calls for events and frames.
	ToolInvocations []ToolInvocation

	// Variables are merged key-by-key into state.Variables.
	Variables map[string]any

	// LoopState entries are merged into state.LoopState.
	LoopState map[string]*LoopState

	// ConditionalResults entries are merged into state.ConditionalResults.
	ConditionalResults map[string]string

	// ErrorState, when non-nil, replaces the state's error record.
	ErrorState *ErrorState

	// Usage, when non-nil, overwrites state.Usage for this model call.
	Usage *model.Usage

	// UsageModel names the model that produced Usage. Node config may
	// override the run-level model per call; pricing follows the model
	// actually invoked.
	UsageModel string
}

// ToolInvocation summarizes one executed tool call.
type ToolInvocation struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
}

// Apply merges a delta into the state. Lazy maps are allocated on first
// write only.
func (s *ExecutionState) Apply(d Delta) {
	if d.ReplaceMessagesSet {
		s.Messages = d.ReplaceMessages
	}
	if len(d.AppendMessages) > 0 {
		s.Messages = append(s.Messages, d.AppendMessages...)
	}
	if d.RetrievalContext != nil {
		s.RetrievalContext = d.RetrievalContext
	}
	if d.ConversationSummary != nil {
		s.ConversationSummary = *d.ConversationSummary
	}
	s.ToolCallCount += d.ToolCalls

	if len(d.Variables) > 0 {
		if s.Variables == nil {
			s.Variables = make(map[string]any, len(d.Variables))
		}
		for k, v := range d.Variables {
			s.Variables[k] = v
		}
	}
	if len(d.LoopState) > 0 {
		if s.LoopState == nil {
			s.LoopState = make(map[string]*LoopState, len(d.LoopState))
		}
		for k, v := range d.LoopState {
			s.LoopState[k] = v
		}
	}
	if len(d.ConditionalResults) > 0 {
		if s.ConditionalResults == nil {
			s.ConditionalResults = make(map[string]string, len(d.ConditionalResults))
		}
		for k, v := range d.ConditionalResults {
			s.ConditionalResults[k] = v
		}
	}
	if d.ErrorState != nil {
		s.ErrorState = d.ErrorState
	}
	if d.Usage != nil {
		s.Usage = d.Usage
	}
}

// InitState builds the initial state for a run: the installed system
// message (when configured), then the user's message.
func InitState(input Input, cfg Config) *ExecutionState {
	var messages []model.Message
	if cfg.SystemMessage != "" {
		messages = append(messages, model.Message{
			Role:    model.RoleSystem,
			Content: cfg.SystemMessage,
		})
	}
	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: input.Message,
	})

	return &ExecutionState{
		Messages:       messages,
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
		Metadata:       input.Metadata,
	}
}
