// Package anthropic adapts the official Anthropic Go SDK to the
// model.Provider port.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

const defaultMaxTokens = 4096

// Provider implements model.Provider for Anthropic Claude models.
//
// Anthropic keeps the system prompt outside the message list and returns
// content as typed blocks; this adapter folds both back into the flat
// message shape the executor works with.
type Provider struct {
	client    *anthropic.Client
	modelName string
}

// New creates a Provider bound to the given model. An empty modelName
// selects claude-3-5-sonnet.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, modelName: modelName}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request) (model.Reply, error) {
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	params := p.buildParams(req)
	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return model.Reply{}, translateError(err)
	}

	reply := model.Reply{
		Message: decodeMessage(message),
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	return reply, nil
}

// Stream implements model.Provider.
//
// Text deltas are forwarded to onToken as they arrive. Input tokens come
// from the message_start event and output tokens from the final
// message_delta event, matching the API's usage reporting split.
func (p *Provider) Stream(ctx context.Context, req model.Request, onToken model.TokenFunc) (model.Reply, error) {
	if onToken == nil {
		return p.Complete(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	var (
		text      strings.Builder
		toolCalls []model.ToolCall
		toolInput strings.Builder
		toolID    string
		toolName  string
		usage     model.Usage
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolID = blockStart.ContentBlock.ID
				toolName = blockStart.ContentBlock.Name
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					if err := onToken(delta.Text); err != nil {
						return model.Reply{}, err
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if toolName != "" {
				toolCalls = append(toolCalls, model.ToolCall{
					ID:    toolID,
					Name:  toolName,
					Input: decodeToolInput(toolInput.String()),
				})
				toolID, toolName = "", ""
				toolInput.Reset()
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return model.Reply{}, translateError(err)
	}

	reply := model.Reply{
		Message: model.Message{
			Role:      model.RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
		},
		Usage: usage,
	}
	return reply, nil
}

// buildParams converts a model.Request into SDK parameters. System messages
// are lifted into params.System; tool-result messages become user messages
// carrying tool_result blocks, per the Anthropic conversation format.
func (p *Provider) buildParams(req model.Request) anthropic.MessageNewParams {
	modelName := req.Model
	if modelName == "" {
		modelName = p.modelName
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{
				Type: "text",
				Text: m.Content,
			})

		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))

		case model.RoleTool:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{}
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				schema.Properties = props
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params
}

// decodeMessage flattens the response content blocks into one message.
func decodeMessage(message *anthropic.Message) model.Message {
	out := model.Message{Role: model.RoleAssistant}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: decodeToolInput(string(block.Input)),
			})
		}
	}
	out.Content = text.String()
	return out
}

func decodeToolInput(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return map[string]any{"raw": raw}
	}
	return input
}

// translateError classifies SDK errors as retryable or permanent.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:  "anthropic",
			Message:   apiErr.Error(),
			Status:    apiErr.StatusCode,
			Retryable: apiErr.StatusCode == 429 || apiErr.StatusCode == 529 || apiErr.StatusCode >= 500,
			Cause:     err,
		}
	}

	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "overloaded")
	return &model.ProviderError{Provider: "anthropic", Message: err.Error(), Retryable: retryable, Cause: err}
}
