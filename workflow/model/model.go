// Package model defines the LLM provider port consumed by the workflow
// executor, along with the message and usage types shared by all adapters.
package model

import "context"

// Standard role constants for chat messages. These align with the
// conventions used by the major LLM providers.
const (
	// RoleSystem sets context or instructions. System messages typically
	// appear first in a conversation.
	RoleSystem = "system"

	// RoleUser is input from the human user.
	RoleUser = "user"

	// RoleAssistant is a response generated by the model. Assistant
	// messages may carry tool-call requests instead of (or alongside) text.
	RoleAssistant = "assistant"

	// RoleTool is the result of a tool invocation, answering a specific
	// assistant tool-call request.
	RoleTool = "tool"
)

// Message is a single message in a conversation.
//
// A message carries either plain content, assistant tool-call requests, or a
// tool result. Tool results reference the originating call via ToolCallID.
type Message struct {
	// Role identifies the sender: one of the Role* constants.
	Role string `json:"role"`

	// Content is the message text. May be empty for assistant messages
	// that only request tool calls.
	Content string `json:"content"`

	// ToolCalls are tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID links a tool-result message to the assistant request
	// that produced it.
	ToolCallID string `json:"toolCallId,omitempty"`

	// Name is the tool name on tool-result messages.
	Name string `json:"name,omitempty"`
}

// ToolSpec describes a tool the model may call. Schema follows JSON Schema
// and describes the expected input parameters.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ToolCall is a request from the model to invoke a named tool.
type ToolCall struct {
	// ID uniquely identifies this call within the response, so tool
	// results can be correlated back to it.
	ID string `json:"id"`

	// Name must match a ToolSpec.Name from the request.
	Name string `json:"name"`

	// Input holds the call arguments, shaped by the tool's schema.
	Input map[string]any `json:"input,omitempty"`
}

// Usage reports token consumption for a single model call.
//
// TotalTokens may be zero when a provider does not report it; consumers
// should fall back to InputTokens+OutputTokens.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Total returns the reported total, or the sum of input and output tokens
// when the provider omitted one.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Request is a single chat completion request.
type Request struct {
	// Model is the provider-specific model identifier.
	Model string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools the model may call. Nil disables tool calling.
	Tools []ToolSpec

	// Temperature controls sampling. Zero means provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Reply is the outcome of a completed model call.
type Reply struct {
	// Message is the assistant message, including any tool-call requests.
	Message Message

	// Usage is the token accounting reported by the provider for this call.
	Usage Usage
}

// TokenFunc receives streamed response tokens in production order.
// Returning an error aborts the stream.
type TokenFunc func(token string) error

// Provider is the port the executor binds at preparation time.
//
// Implementations wrap a concrete LLM API (OpenAI, Anthropic, Gemini, or a
// test double). They must respect context cancellation on both entry points
// and translate provider failures into *ProviderError so callers can decide
// retryability.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai".
	Name() string

	// Complete performs a unary chat completion.
	Complete(ctx context.Context, req Request) (Reply, error)

	// Stream performs a streaming chat completion, invoking onToken for
	// each text token as it arrives. The returned Reply carries the full
	// accumulated message and final usage. onToken may be nil, in which
	// case Stream behaves like Complete.
	Stream(ctx context.Context, req Request, onToken TokenFunc) (Reply, error)
}

// ProviderError is a failure from an underlying LLM API.
//
// Retryable marks transient failures (rate limits, 5xx, network) that the
// executor may retry under its backoff policy.
type ProviderError struct {
	Provider  string
	Message   string
	Status    int
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}
