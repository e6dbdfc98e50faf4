package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/store"
)

// Result is the canonical output of one workflow run. Every response
// shape the API exposes is a projection of this struct; nothing else
// builds a response.
type Result struct {
	RunID            string            `json:"runId"`
	AssistantMessage model.Message     `json:"assistantMessage"`
	Conversation     ConversationStats `json:"conversation"`
	ExecutionTimeMs  int64             `json:"executionTimeMs"`
	TokensUsed       int               `json:"tokensUsed"`
	PromptTokens     int               `json:"promptTokens"`
	CompletionTokens int               `json:"completionTokens"`
	Cost             float64           `json:"cost"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// ConversationStats is the conversation aggregate snapshot after the
// run's writes.
type ConversationStats struct {
	ID           string    `json:"id"`
	Messages     int       `json:"messages"`
	Tokens       int       `json:"tokens"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// ChatResponse is the minimal shape chat clients consume.
type ChatResponse struct {
	ConversationID string `json:"conversationId"`
	AssistantText  string `json:"assistantText"`
	TokensUsed     int    `json:"tokensUsed"`
}

// ExecutionResponse summarizes a run for execution listings.
type ExecutionResponse struct {
	RunID           string  `json:"runId"`
	ExecutionTimeMs int64   `json:"executionTimeMs"`
	TokensUsed      int     `json:"tokensUsed"`
	Cost            float64 `json:"cost"`
}

// DetailedResponse carries the full accounting breakdown.
type DetailedResponse struct {
	RunID            string            `json:"runId"`
	AssistantText    string            `json:"assistantText"`
	Conversation     ConversationStats `json:"conversation"`
	ExecutionTimeMs  int64             `json:"executionTimeMs"`
	PromptTokens     int               `json:"promptTokens"`
	CompletionTokens int               `json:"completionTokens"`
	TokensUsed       int               `json:"tokensUsed"`
	Cost             float64           `json:"cost"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// ToChatResponse projects the result for chat clients. The assistant
// text is exactly the result's assistant message content.
func (r *Result) ToChatResponse() ChatResponse {
	return ChatResponse{
		ConversationID: r.Conversation.ID,
		AssistantText:  r.AssistantMessage.Content,
		TokensUsed:     r.TokensUsed,
	}
}

// ToExecutionResponse projects the result for execution listings.
func (r *Result) ToExecutionResponse() ExecutionResponse {
	return ExecutionResponse{
		RunID:           r.RunID,
		ExecutionTimeMs: r.ExecutionTimeMs,
		TokensUsed:      r.TokensUsed,
		Cost:            r.Cost,
	}
}

// ToDetailedResponse projects the full result.
func (r *Result) ToDetailedResponse() DetailedResponse {
	return DetailedResponse{
		RunID:            r.RunID,
		AssistantText:    r.AssistantMessage.Content,
		Conversation:     r.Conversation,
		ExecutionTimeMs:  r.ExecutionTimeMs,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TokensUsed:       r.TokensUsed,
		Cost:             r.Cost,
		Metadata:         r.Metadata,
	}
}

// ResultProcessor folds a finished run's state and totals into a
// Result, persisting the assistant message and conversation aggregates
// on the way. Nil stores skip the corresponding write.
type ResultProcessor struct {
	Messages      store.MessageStore
	Conversations store.ConversationStore
}

// Process builds the canonical result for a completed run. Persistence
// failures surface as InternalError; the run itself already succeeded,
// so callers decide whether to fail the response or degrade.
func (p *ResultProcessor) Process(ctx context.Context, runID string, input Input, state *ExecutionState, totals Totals, elapsed time.Duration) (*Result, error) {
	assistant, ok := state.LastAssistantMessage()
	if !ok {
		return nil, Errorf(KindInternal, "run produced no assistant message")
	}

	result := &Result{
		RunID:            runID,
		AssistantMessage: assistant,
		ExecutionTimeMs:  elapsed.Milliseconds(),
		TokensUsed:       totals.TotalTokens,
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
		Cost:             totals.Cost,
		Metadata:         input.Metadata,
	}

	conversationID := input.ConversationID
	now := time.Now().UTC()
	if conversationID != "" && p.Messages != nil {
		msg := store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           string(assistant.Role),
			Content:        assistant.Content,
			CreatedAt:      now,
		}
		if err := p.Messages.Append(ctx, conversationID, msg); err != nil {
			return nil, &Error{Kind: KindInternal, Message: "persisting assistant message failed", Cause: err}
		}
	}
	if conversationID != "" && p.Conversations != nil {
		err := p.Conversations.UpdateAggregates(ctx, conversationID, store.AggregateDelta{
			Messages:     1,
			Tokens:       totals.TotalTokens,
			LastActiveAt: now,
		})
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: "updating conversation aggregates failed", Cause: err}
		}
	}

	result.Conversation = ConversationStats{
		ID:           conversationID,
		Messages:     len(state.Messages),
		Tokens:       totals.TotalTokens,
		LastActiveAt: now,
	}
	return result, nil
}
