package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/retrieve"
)

// Edge labels produced by routing nodes.
const (
	LabelBody    = "body"
	LabelExit    = "exit"
	LabelOnError = "on-error"
	LabelTrue    = "true"
	LabelFalse   = "false"
)

// startNode marks the graph entry. No-op.
type startNode struct {
	id string
}

func (n *startNode) ID() string   { return n.id }
func (n *startNode) Type() string { return TypeStart }

func (n *startNode) Execute(_ context.Context, _ *Runtime, _ *ExecutionState) NodeResult {
	return NodeResult{}
}

// modelNode calls the LLM bound at preparation with the current message
// history and appends the assistant reply. Tokens stream through
// rt.OnToken when set; otherwise the call buffers silently. Usage for
// this call overwrites any previous value.
type modelNode struct {
	id     string
	config map[string]any
}

func (n *modelNode) ID() string   { return n.id }
func (n *modelNode) Type() string { return TypeModel }

func (n *modelNode) Execute(ctx context.Context, rt *Runtime, state *ExecutionState) NodeResult {
	req := model.Request{
		Model:       rt.Config.Model,
		Messages:    state.Messages,
		Temperature: rt.Config.Temperature,
		MaxTokens:   rt.Config.MaxTokens,
	}
	if override, ok := configString(n.config, "model"); ok {
		req.Model = override
	}
	if override, ok := configFloat(n.config, "temperature"); ok {
		req.Temperature = override
	}
	if override, ok := configInt(n.config, "max_tokens", "maxTokens"); ok {
		req.MaxTokens = override
	}
	if rt.Config.EnableTools && rt.Tools != nil {
		req.Tools = rt.Tools.Specs()
	}

	var (
		reply model.Reply
		err   error
	)
	if rt.OnToken != nil {
		reply, err = rt.Provider.Stream(ctx, req, rt.OnToken)
	} else {
		reply, err = rt.Provider.Complete(ctx, req)
	}
	if err != nil {
		return NodeResult{Err: err}
	}

	usage := reply.Usage
	return NodeResult{Delta: Delta{
		AppendMessages: []model.Message{reply.Message},
		Usage:          &usage,
		UsageModel:     req.Model,
	}}
}

// toolNode executes the tool calls requested by the last assistant
// message. Each executed call increments the run's tool-call count; a
// call that would push the count past the configured maximum trips a
// limit error, keeping the delta of calls already executed.
type toolNode struct {
	id     string
	config map[string]any
}

func (n *toolNode) ID() string   { return n.id }
func (n *toolNode) Type() string { return TypeTool }

func (n *toolNode) Execute(ctx context.Context, rt *Runtime, state *ExecutionState) NodeResult {
	assistant, ok := state.LastAssistantMessage()
	if !ok || len(assistant.ToolCalls) == 0 {
		return NodeResult{}
	}
	if rt.Tools == nil {
		return NodeResult{Err: Errorf(KindTool, "tools are not enabled for this run")}
	}

	var res NodeResult
	count := state.ToolCallCount
	for _, call := range assistant.ToolCalls {
		if count+1 > rt.Config.MaxToolCalls {
			res.Err = Errorf(KindLimit, "tool call limit exceeded (max %d)", rt.Config.MaxToolCalls)
			return res
		}

		out, err := rt.Tools.Invoke(ctx, call.Name, call.Input)
		if err != nil {
			res.Delta.ToolInvocations = append(res.Delta.ToolInvocations, ToolInvocation{
				Name:    call.Name,
				OK:      false,
				Summary: err.Error(),
			})
			res.Err = err
			return res
		}

		content := encodeToolOutput(out)
		res.Delta.AppendMessages = append(res.Delta.AppendMessages, model.Message{
			Role:       model.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
		res.Delta.ToolCalls++
		res.Delta.ToolInvocations = append(res.Delta.ToolInvocations, ToolInvocation{
			Name:    call.Name,
			OK:      true,
			Summary: summarize(content, 120),
		})
		count++
	}
	return res
}

func encodeToolOutput(out map[string]any) string {
	if out == nil {
		return "{}"
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(data)
}

// retrievalNode queries the retriever with the configured query template
// (or the last user message), writes the retrieved chunks, and injects a
// context-augmented system message ahead of the next model call. Skipped
// entirely when retrieval is disabled.
type retrievalNode struct {
	id     string
	config map[string]any
}

func (n *retrievalNode) ID() string   { return n.id }
func (n *retrievalNode) Type() string { return TypeRetrieval }

func (n *retrievalNode) Execute(ctx context.Context, rt *Runtime, state *ExecutionState) NodeResult {
	if !rt.Config.EnableRetrieval {
		return NodeResult{}
	}
	if rt.Retriever == nil {
		return NodeResult{Err: Errorf(KindConfig, "retrieval is enabled but no retriever is bound")}
	}

	query, _ := configString(n.config, "query")
	if query == "" {
		if user, ok := state.LastUserMessage(); ok {
			query = user.Content
		}
	}

	chunks, err := rt.Retriever.Query(ctx, query, retrieve.Filter{
		DocumentIDs: rt.Config.DocumentIDs,
		OwnerID:     state.UserID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return NodeResult{Err: err}
		}
		return NodeResult{Err: &Error{Kind: KindProvider, Message: "retriever query failed: " + err.Error(), Cause: err}}
	}

	if chunks == nil {
		chunks = []retrieve.Chunk{}
	}
	delta := Delta{RetrievalContext: chunks}
	if len(chunks) > 0 {
		var b strings.Builder
		b.WriteString("Use the following retrieved context to answer:\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Content)
		}
		delta.AppendMessages = []model.Message{{
			Role:    model.RoleSystem,
			Content: b.String(),
		}}
	}
	return NodeResult{Delta: delta}
}

// memoryNode compacts message history to the configured window,
// preserving system messages and role boundaries, and records a summary
// of what was pruned. Deterministic for identical inputs.
type memoryNode struct {
	id     string
	config map[string]any
}

func (n *memoryNode) ID() string   { return n.id }
func (n *memoryNode) Type() string { return TypeMemory }

func (n *memoryNode) Execute(_ context.Context, rt *Runtime, state *ExecutionState) NodeResult {
	if !rt.Config.EnableMemory {
		return NodeResult{}
	}

	window := rt.Config.MemoryWindow
	if override, ok := configInt(n.config, "window"); ok {
		window = override
	}

	var system, history []model.Message
	for _, m := range state.Messages {
		if m.Role == model.RoleSystem {
			system = append(system, m)
		} else {
			history = append(history, m)
		}
	}

	var kept []model.Message
	if window <= 0 {
		// A zero window leaves the model only the current user turn.
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == model.RoleUser {
				kept = []model.Message{history[i]}
				break
			}
		}
	} else if len(history) > window {
		kept = history[len(history)-window:]
		// A tool-result message must not lead the window without the
		// assistant turn that requested it.
		for len(kept) > 0 && kept[0].Role == model.RoleTool {
			kept = kept[1:]
		}
	} else {
		kept = history
	}

	pruned := len(history) - len(kept)
	if pruned <= 0 {
		return NodeResult{}
	}

	summary := fmt.Sprintf("%d earlier messages pruned; conversation opened with: %s",
		pruned, summarize(history[0].Content, 80))

	replaced := make([]model.Message, 0, len(system)+len(kept))
	replaced = append(replaced, system...)
	replaced = append(replaced, kept...)
	return NodeResult{Delta: Delta{
		ReplaceMessages:     replaced,
		ReplaceMessagesSet:  true,
		ConversationSummary: &summary,
	}}
}

// conditionalNode evaluates its declared condition against the run's
// variables (or the last message) and routes by the resulting branch
// label. The chosen branch is recorded in conditionalResults.
type conditionalNode struct {
	id     string
	config map[string]any
}

func (n *conditionalNode) ID() string   { return n.id }
func (n *conditionalNode) Type() string { return TypeConditional }

func (n *conditionalNode) Execute(_ context.Context, _ *Runtime, state *ExecutionState) NodeResult {
	matched, err := evalCondition(n.config, state)
	if err != nil {
		return NodeResult{Err: err}
	}

	label := LabelFalse
	if matched {
		label = LabelTrue
	}
	return NodeResult{
		Delta: Delta{ConditionalResults: map[string]string{n.id: label}},
		Label: label,
	}
}

// loopNode bounds a cycle in the graph. Each visit checks the iteration
// count against the declared bound: below the bound with a true body
// condition, it increments and follows the body edge; otherwise it
// follows the exit edge. Seeing a count beyond the bound means an edge
// bypassed the loop and is reported as a limit violation.
type loopNode struct {
	id     string
	config map[string]any
}

func (n *loopNode) ID() string   { return n.id }
func (n *loopNode) Type() string { return TypeLoop }

func (n *loopNode) Execute(_ context.Context, _ *Runtime, state *ExecutionState) NodeResult {
	bound, _ := configInt(n.config, "bound")
	if bound < 0 {
		bound = 0
	}

	iterations := 0
	if ls, ok := state.LoopState[n.id]; ok && ls != nil {
		iterations = ls.Iterations
		bound = ls.Bound
	}

	if iterations > bound {
		return NodeResult{Err: Errorf(KindLimit, "loop %s exceeded bound %d", n.id, bound)}
	}

	label := LabelExit
	if iterations < bound {
		matched := true
		if _, hasCond := configString(n.config, "variable"); hasCond {
			var err error
			matched, err = evalCondition(n.config, state)
			if err != nil {
				return NodeResult{Err: err}
			}
		}
		if matched {
			iterations++
			label = LabelBody
		}
	}

	return NodeResult{
		Delta: Delta{LoopState: map[string]*LoopState{
			n.id: {Iterations: iterations, Bound: bound},
		}},
		Label: label,
	}
}

// variableNode reads and writes named keys in the run's variables.
// User-declared names are matched tolerantly across snake_case and
// camelCase spellings.
type variableNode struct {
	id     string
	config map[string]any
}

func (n *variableNode) ID() string   { return n.id }
func (n *variableNode) Type() string { return TypeVariable }

func (n *variableNode) Execute(_ context.Context, _ *Runtime, state *ExecutionState) NodeResult {
	name, ok := configString(n.config, "name")
	if !ok || name == "" {
		return NodeResult{Err: Errorf(KindValidation, "variable node %s requires a name", n.id)}
	}

	operation, _ := configString(n.config, "operation")
	switch operation {
	case "", "set":
		value, exists := n.config["value"]
		if !exists {
			return NodeResult{Err: Errorf(KindValidation, "variable node %s: set requires a value", n.id)}
		}
		return NodeResult{Delta: Delta{Variables: map[string]any{name: value}}}

	case "capture":
		content := ""
		if last, ok := state.LastMessage(); ok {
			content = last.Content
		}
		return NodeResult{Delta: Delta{Variables: map[string]any{name: content}}}

	case "delete":
		key := name
		if _, found := lookupVariable(state.Variables, name); found {
			key, _ = resolveVariableKey(state.Variables, name)
		}
		return NodeResult{Delta: Delta{Variables: map[string]any{key: nil}}}

	default:
		return NodeResult{Err: Errorf(KindValidation, "variable node %s: unknown operation %q", n.id, operation)}
	}
}

// delayNode suspends the run for a declared duration. Cancellation
// interrupts the wait immediately.
type delayNode struct {
	id     string
	config map[string]any
}

func (n *delayNode) ID() string   { return n.id }
func (n *delayNode) Type() string { return TypeDelay }

func (n *delayNode) Execute(ctx context.Context, _ *Runtime, _ *ExecutionState) NodeResult {
	ms, _ := configInt(n.config, "duration_ms", "durationMs")
	if ms <= 0 {
		return NodeResult{}
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return NodeResult{Err: ctx.Err()}
	case <-timer.C:
		return NodeResult{}
	}
}

// errorHandlerNode resumes a run after the executor caught a failure in
// its predecessor subgraph. The failure is already recorded in
// state.ErrorState when this node runs; it exposes the record to the
// rest of the graph and continues along its on-error edge.
type errorHandlerNode struct {
	id     string
	config map[string]any
}

func (n *errorHandlerNode) ID() string   { return n.id }
func (n *errorHandlerNode) Type() string { return TypeErrorHandler }

func (n *errorHandlerNode) Execute(_ context.Context, _ *Runtime, state *ExecutionState) NodeResult {
	delta := Delta{}
	if state.ErrorState != nil {
		delta.Variables = map[string]any{
			"last_error": map[string]any{
				"node":    state.ErrorState.NodeID,
				"kind":    string(state.ErrorState.Kind),
				"message": state.ErrorState.Message,
			},
		}
	}
	return NodeResult{Delta: delta, Label: LabelOnError}
}

// evalCondition evaluates the variable/operator/value triple common to
// conditional and loop nodes. The variable "last_message" reads the most
// recent message's content instead of the variables map.
func evalCondition(config map[string]any, state *ExecutionState) (bool, error) {
	variable, _ := configString(config, "variable")
	operator, _ := configString(config, "operator")
	operand, _ := configString(config, "value")

	var current any
	var exists bool
	if variable == "last_message" {
		if last, ok := state.LastMessage(); ok {
			current, exists = last.Content, true
		}
	} else {
		current, exists = lookupVariable(state.Variables, variable)
	}

	switch operator {
	case "exists":
		return exists && current != nil, nil
	case "equals":
		return exists && stringify(current) == operand, nil
	case "not_equals":
		return !exists || stringify(current) != operand, nil
	case "contains":
		return exists && strings.Contains(stringify(current), operand), nil
	case "gt", "lt":
		if !exists {
			return false, nil
		}
		left, err1 := toFloat(current)
		right, err2 := strconv.ParseFloat(operand, 64)
		if err1 != nil || err2 != nil {
			return false, nil
		}
		if operator == "gt" {
			return left > right, nil
		}
		return left < right, nil
	default:
		return false, Errorf(KindValidation, "unknown condition operator %q", operator)
	}
}

// lookupVariable finds a variable tolerating snake_case and camelCase
// spellings of the same user-declared name.
func lookupVariable(vars map[string]any, name string) (any, bool) {
	key, ok := resolveVariableKey(vars, name)
	if !ok {
		return nil, false
	}
	return vars[key], true
}

func resolveVariableKey(vars map[string]any, name string) (string, bool) {
	if vars == nil {
		return "", false
	}
	if _, ok := vars[name]; ok {
		return name, true
	}
	if snake := camelToSnake(name); snake != name {
		if _, ok := vars[snake]; ok {
			return snake, true
		}
	}
	if camel := snakeToCamel(name); camel != name {
		if _, ok := vars[camel]; ok {
			return camel, true
		}
	}
	return "", false
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

// configString reads the first present key from a node config.
func configString(config map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := config[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// configInt reads the first present numeric key, accepting JSON float64
// as well as native ints.
func configInt(config map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		if v, ok := config[key]; ok {
			switch t := v.(type) {
			case int:
				return t, true
			case int64:
				return int(t), true
			case float64:
				return int(t), true
			}
		}
	}
	return 0, false
}

func configFloat(config map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := config[key]; ok {
			switch t := v.(type) {
			case float64:
				return t, true
			case int:
				return float64(t), true
			}
		}
	}
	return 0, false
}

// summarize truncates s for event payloads and frame summaries.
func summarize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
