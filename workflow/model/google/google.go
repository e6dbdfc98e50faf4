// Package google adapts the Google Gemini SDK to the model.Provider port.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

// Provider implements model.Provider for Google Gemini models.
//
// Gemini has no separate message-role array for system prompts; system
// messages are installed as the model's SystemInstruction and the remaining
// history is sent as chat content. Safety-filter blocks surface as
// non-retryable provider errors.
type Provider struct {
	apiKey    string
	modelName string
}

// New creates a Provider bound to the given model. An empty modelName
// selects gemini-1.5-flash.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &Provider{apiKey: apiKey, modelName: modelName}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "google" }

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request) (model.Reply, error) {
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	client, genModel, parts, err := p.prepare(ctx, req)
	if err != nil {
		return model.Reply{}, err
	}
	defer func() { _ = client.Close() }()

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return model.Reply{}, translateError(err)
	}
	return decodeResponse(resp), nil
}

// Stream implements model.Provider.
func (p *Provider) Stream(ctx context.Context, req model.Request, onToken model.TokenFunc) (model.Reply, error) {
	if onToken == nil {
		return p.Complete(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return model.Reply{}, err
	}

	client, genModel, parts, err := p.prepare(ctx, req)
	if err != nil {
		return model.Reply{}, err
	}
	defer func() { _ = client.Close() }()

	iter := genModel.GenerateContentStream(ctx, parts...)

	var (
		text      strings.Builder
		toolCalls []model.ToolCall
		usage     model.Usage
	)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return model.Reply{}, translateError(err)
		}

		chunk := decodeResponse(resp)
		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			if err := onToken(chunk.Message.Content); err != nil {
				return model.Reply{}, err
			}
		}
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		if chunk.Usage.InputTokens > 0 || chunk.Usage.OutputTokens > 0 {
			usage = chunk.Usage
		}
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

// prepare opens a client and configures the generative model for a request.
// The caller owns closing the returned client.
func (p *Provider) prepare(ctx context.Context, req model.Request) (*genai.Client, *genai.GenerativeModel, []genai.Part, error) {
	if p.apiKey == "" {
		return nil, nil, nil, &model.ProviderError{Provider: "google", Message: "API key is required"}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, nil, nil, &model.ProviderError{Provider: "google", Message: fmt.Sprintf("create client: %v", err), Cause: err}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = p.modelName
	}
	genModel := client.GenerativeModel(modelName)
	if req.Temperature > 0 {
		genModel.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		genModel.Tools = encodeTools(req.Tools)
	}

	var parts []genai.Part
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
			continue
		}
		if m.Role == model.RoleTool {
			parts = append(parts, genai.FunctionResponse{
				Name:     m.Name,
				Response: map[string]any{"result": m.Content},
			})
			continue
		}
		if m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
	}
	return client, genModel, parts, nil
}

// encodeTools converts tool specs to Gemini function declarations.
func encodeTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  encodeSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// encodeSchema converts a JSON-schema map into the genai schema type.
// Only the object/property/required subset used by tool specs is mapped.
func encodeSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]any)
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = encodeType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			properties[key] = prop
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []any:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func encodeType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// decodeResponse converts a Gemini response (full or stream chunk) into the
// port types.
func decodeResponse(resp *genai.GenerateContentResponse) model.Reply {
	reply := model.Reply{Message: model.Message{Role: model.RoleAssistant}}

	if resp.UsageMetadata != nil {
		reply.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return reply
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			reply.Message.ToolCalls = append(reply.Message.ToolCalls, model.ToolCall{
				Name:  v.Name,
				Input: v.Args,
			})
		}
	}
	reply.Message.Content = text.String()
	return reply
}

// translateError classifies SDK errors as retryable or permanent. Safety
// blocks are permanent; transport failures are retryable.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") {
		return &model.ProviderError{Provider: "google", Message: err.Error(), Cause: err}
	}
	retryable := strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "503")
	return &model.ProviderError{Provider: "google", Message: err.Error(), Retryable: retryable, Cause: err}
}
