// Package openai adapts the official OpenAI Go SDK to the model.Provider port.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

// Provider implements model.Provider for OpenAI chat models.
//
// The underlying SDK client is safe for concurrent use, so one Provider can
// serve many runs. Transient API failures (429, 5xx, network) are surfaced
// as retryable *model.ProviderError; the executor owns the retry schedule.
//
// Example:
//
//	p := openai.New(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	reply, err := p.Complete(ctx, model.Request{Messages: msgs})
type Provider struct {
	client    *openai.Client
	modelName string
}

// New creates a Provider bound to the given model. An empty modelName
// selects gpt-4o-mini.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, modelName: modelName}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "openai" }

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request) (model.Reply, error) {
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	params, err := p.buildParams(req)
	if err != nil {
		return model.Reply{}, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Reply{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return model.Reply{}, &model.ProviderError{Provider: "openai", Message: "response contained no choices"}
	}

	msg := completion.Choices[0].Message
	reply := model.Reply{
		Message: model.Message{
			Role:      model.RoleAssistant,
			Content:   msg.Content,
			ToolCalls: decodeToolCalls(msg.ToolCalls),
		},
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	return reply, nil
}

// Stream implements model.Provider. Tokens are forwarded as the SSE deltas
// arrive; the accumulated message and the final usage frame are returned
// once the stream completes.
func (p *Provider) Stream(ctx context.Context, req model.Request, onToken model.TokenFunc) (model.Reply, error) {
	if onToken == nil {
		return p.Complete(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	params, err := p.buildParams(req)
	if err != nil {
		return model.Reply{}, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if err := onToken(delta); err != nil {
					return model.Reply{}, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return model.Reply{}, translateError(err)
	}
	if len(acc.Choices) == 0 {
		return model.Reply{}, &model.ProviderError{Provider: "openai", Message: "stream contained no choices"}
	}

	msg := acc.Choices[0].Message
	reply := model.Reply{
		Message: model.Message{
			Role:      model.RoleAssistant,
			Content:   msg.Content,
			ToolCalls: decodeToolCalls(msg.ToolCalls),
		},
		Usage: model.Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:  int(acc.Usage.TotalTokens),
		},
	}
	return reply, nil
}

// buildParams converts a model.Request into SDK parameters.
func (p *Provider) buildParams(req model.Request) (openai.ChatCompletionNewParams, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = p.modelName
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, encoded)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Schema),
		}))
	}
	return params, nil
}

// encodeMessage maps one conversation message onto the SDK's param union.
func encodeMessage(m model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case model.RoleSystem:
		return openai.SystemMessage(m.Content), nil

	case model.RoleUser:
		return openai.UserMessage(m.Content), nil

	case model.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID), nil

	case model.RoleAssistant:
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(m.Content),
			}
		}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Input)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, err
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil

	default:
		return openai.ChatCompletionMessageParamUnion{},
			&model.ProviderError{Provider: "openai", Message: "unsupported message role: " + m.Role}
	}
}

// decodeToolCalls converts SDK tool calls back to the port type. Arguments
// that fail to parse as JSON objects are preserved under a "raw" key rather
// than dropped.
func decodeToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, 0, len(calls))
	for _, c := range calls {
		var input map[string]any
		if c.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &input); err != nil {
				input = map[string]any{"raw": c.Function.Arguments}
			}
		}
		out = append(out, model.ToolCall{ID: c.ID, Name: c.Function.Name, Input: input})
	}
	return out
}

// translateError classifies SDK errors as retryable or permanent.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:  "openai",
			Message:   apiErr.Error(),
			Status:    apiErr.StatusCode,
			Retryable: apiErr.StatusCode == 429 || apiErr.StatusCode >= 500,
			Cause:     err,
		}
	}

	// Network-level failures without a status are worth retrying.
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporary")
	return &model.ProviderError{Provider: "openai", Message: err.Error(), Retryable: retryable, Cause: err}
}
