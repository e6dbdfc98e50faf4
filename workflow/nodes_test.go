package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/retrieve"
	"github.com/flowgraph-dev/flowgraph/workflow/tool"
)

func buildNode(t *testing.T, spec NodeSpec) Node {
	t.Helper()
	n, err := DefaultRegistry().Build(spec)
	require.NoError(t, err)
	return n
}

func TestModelNode(t *testing.T) {
	provider := &model.MockProvider{
		Replies: []model.Reply{{
			Message: model.Message{Role: model.RoleAssistant, Content: "hi there"},
			Usage:   model.Usage{InputTokens: 10, OutputTokens: 5},
		}},
	}
	rt := &Runtime{
		Config:   Config{Provider: "mock", Model: "test-model", Temperature: 0.7},
		Provider: provider,
	}
	state := &ExecutionState{Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}}}

	n := buildNode(t, NodeSpec{ID: "respond", Type: TypeModel})
	res := n.Execute(context.Background(), rt, state)
	require.NoError(t, res.Err)

	require.Len(t, res.Delta.AppendMessages, 1)
	assert.Equal(t, "hi there", res.Delta.AppendMessages[0].Content)
	require.NotNil(t, res.Delta.Usage)
	assert.Equal(t, 15, res.Delta.Usage.Total())
	assert.Equal(t, "test-model", res.Delta.UsageModel)

	require.Len(t, provider.Calls, 1)
	assert.Equal(t, "test-model", provider.Calls[0].Request.Model)
	assert.False(t, provider.Calls[0].Streaming)

	t.Run("config overrides request parameters", func(t *testing.T) {
		provider.Reset()
		n := buildNode(t, NodeSpec{ID: "respond", Type: TypeModel, Config: map[string]any{
			"model":       "other-model",
			"temperature": 0.1,
			"max_tokens":  float64(64), // JSON numbers decode as float64
		}})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		req := provider.Calls[0].Request
		assert.Equal(t, "other-model", req.Model)
		assert.Equal(t, 0.1, req.Temperature)
		assert.Equal(t, 64, req.MaxTokens)
		assert.Equal(t, "other-model", res.Delta.UsageModel, "usage must carry the model actually invoked")
	})

	t.Run("streams when a token callback is bound", func(t *testing.T) {
		provider.Reset()
		var tokens []string
		rt := &Runtime{
			Config:   rt.Config,
			Provider: provider,
			OnToken: func(tok string) error {
				tokens = append(tokens, tok)
				return nil
			},
		}
		n := buildNode(t, NodeSpec{ID: "respond", Type: TypeModel})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		assert.True(t, provider.Calls[0].Streaming)
		assert.Equal(t, []string{"hi there"}, tokens)
	})
}

func TestToolNode(t *testing.T) {
	newRuntime := func(maxCalls int, tools ...tool.Tool) *Runtime {
		registry := tool.NewRegistry()
		for _, tl := range tools {
			registry.Register(tl)
		}
		return &Runtime{
			Config: Config{Provider: "mock", Model: "m", EnableTools: true, MaxToolCalls: maxCalls},
			Tools:  registry.View(nil),
		}
	}

	assistantWithCalls := func(calls ...model.ToolCall) *ExecutionState {
		return &ExecutionState{Messages: []model.Message{
			{Role: model.RoleUser, Content: "do it"},
			{Role: model.RoleAssistant, ToolCalls: calls},
		}}
	}

	t.Run("executes requested calls and appends results", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "lookup", Responses: []map[string]any{{"answer": 42}}}
		rt := newRuntime(5, mock)
		state := assistantWithCalls(model.ToolCall{ID: "c1", Name: "lookup", Input: map[string]any{"q": "x"}})

		n := buildNode(t, NodeSpec{ID: "tools", Type: TypeTool})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)

		assert.Equal(t, 1, res.Delta.ToolCalls)
		require.Len(t, res.Delta.AppendMessages, 1)
		msg := res.Delta.AppendMessages[0]
		assert.Equal(t, model.RoleTool, msg.Role)
		assert.Equal(t, "c1", msg.ToolCallID)
		assert.JSONEq(t, `{"answer":42}`, msg.Content)
		require.Len(t, res.Delta.ToolInvocations, 1)
		assert.True(t, res.Delta.ToolInvocations[0].OK)
	})

	t.Run("no tool calls on last assistant message is a no-op", func(t *testing.T) {
		rt := newRuntime(5)
		state := &ExecutionState{Messages: []model.Message{
			{Role: model.RoleAssistant, Content: "plain text"},
		}}
		n := buildNode(t, NodeSpec{ID: "tools", Type: TypeTool})
		res := n.Execute(context.Background(), rt, state)
		assert.NoError(t, res.Err)
		assert.Empty(t, res.Delta.AppendMessages)
	})

	t.Run("nil tool view fails with ToolError", func(t *testing.T) {
		rt := &Runtime{Config: Config{MaxToolCalls: 5}}
		state := assistantWithCalls(model.ToolCall{ID: "c1", Name: "lookup"})
		n := buildNode(t, NodeSpec{ID: "tools", Type: TypeTool})
		res := n.Execute(context.Background(), rt, state)
		assert.Equal(t, KindTool, KindOf(res.Err))
	})

	t.Run("second call past the limit keeps the first call's delta", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "lookup", Responses: []map[string]any{{"ok": true}}}
		rt := newRuntime(1, mock)
		state := assistantWithCalls(
			model.ToolCall{ID: "c1", Name: "lookup"},
			model.ToolCall{ID: "c2", Name: "lookup"},
		)

		n := buildNode(t, NodeSpec{ID: "tools", Type: TypeTool})
		res := n.Execute(context.Background(), rt, state)
		require.Error(t, res.Err)
		assert.Equal(t, KindLimit, KindOf(res.Err))

		// The executed call survives the limit trip.
		assert.Equal(t, 1, res.Delta.ToolCalls)
		assert.Len(t, res.Delta.AppendMessages, 1)
		assert.Len(t, mock.Calls, 1)

		state.Apply(res.Delta)
		assert.Equal(t, 1, state.ToolCallCount)
	})

	t.Run("allowlisted-out tool fails the node", func(t *testing.T) {
		registry := tool.NewRegistry()
		registry.Register(&tool.MockTool{ToolName: "lookup"})
		rt := &Runtime{
			Config: Config{EnableTools: true, MaxToolCalls: 5},
			Tools:  registry.View([]string{}), // empty allowlist exposes nothing
		}
		state := assistantWithCalls(model.ToolCall{ID: "c1", Name: "lookup"})
		n := buildNode(t, NodeSpec{ID: "tools", Type: TypeTool})
		res := n.Execute(context.Background(), rt, state)
		require.Error(t, res.Err)
		assert.Equal(t, KindTool, KindOf(res.Err))
		require.Len(t, res.Delta.ToolInvocations, 1)
		assert.False(t, res.Delta.ToolInvocations[0].OK)
	})
}

func TestRetrievalNode(t *testing.T) {
	t.Run("disabled retrieval skips", func(t *testing.T) {
		rt := &Runtime{Config: Config{}}
		n := buildNode(t, NodeSpec{ID: "retrieve", Type: TypeRetrieval})
		res := n.Execute(context.Background(), rt, &ExecutionState{})
		assert.NoError(t, res.Err)
		assert.Nil(t, res.Delta.RetrievalContext)
	})

	t.Run("enabled without retriever is a config error", func(t *testing.T) {
		rt := &Runtime{Config: Config{EnableRetrieval: true}}
		n := buildNode(t, NodeSpec{ID: "retrieve", Type: TypeRetrieval})
		res := n.Execute(context.Background(), rt, &ExecutionState{})
		assert.Equal(t, KindConfig, KindOf(res.Err))
	})

	t.Run("chunks become a context system message", func(t *testing.T) {
		mock := &retrieve.MockRetriever{Results: [][]retrieve.Chunk{{
			{DocumentID: "d1", Content: "gophers burrow", Score: 0.9},
			{DocumentID: "d2", Content: "gophers eat roots", Score: 0.7},
		}}}
		rt := &Runtime{
			Config:    Config{EnableRetrieval: true, DocumentIDs: []string{"d1", "d2"}},
			Retriever: mock,
		}
		state := &ExecutionState{
			UserID:   "u1",
			Messages: []model.Message{{Role: model.RoleUser, Content: "tell me about gophers"}},
		}

		n := buildNode(t, NodeSpec{ID: "retrieve", Type: TypeRetrieval})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)

		assert.Len(t, res.Delta.RetrievalContext, 2)
		require.Len(t, res.Delta.AppendMessages, 1)
		assert.Equal(t, model.RoleSystem, res.Delta.AppendMessages[0].Role)
		assert.Contains(t, res.Delta.AppendMessages[0].Content, "[1] gophers burrow")

		// The query defaults to the last user message and carries the
		// run's document scope and owner.
		require.Len(t, mock.Queries, 1)
		assert.Equal(t, "tell me about gophers", mock.Queries[0].Text)
		assert.Equal(t, "u1", mock.Queries[0].Filter.OwnerID)
		assert.Equal(t, []string{"d1", "d2"}, mock.Queries[0].Filter.DocumentIDs)
	})

	t.Run("no matches still marks context populated", func(t *testing.T) {
		mock := &retrieve.MockRetriever{Results: [][]retrieve.Chunk{nil}}
		rt := &Runtime{Config: Config{EnableRetrieval: true}, Retriever: mock}
		state := &ExecutionState{Messages: []model.Message{{Role: model.RoleUser, Content: "q"}}}

		n := buildNode(t, NodeSpec{ID: "retrieve", Type: TypeRetrieval})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		assert.NotNil(t, res.Delta.RetrievalContext)
		assert.Empty(t, res.Delta.RetrievalContext)
		assert.Empty(t, res.Delta.AppendMessages)
	})
}

func TestMemoryNode(t *testing.T) {
	history := []model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "first question"},
		{Role: model.RoleAssistant, Content: "first answer"},
		{Role: model.RoleUser, Content: "second question"},
		{Role: model.RoleAssistant, Content: "second answer"},
		{Role: model.RoleUser, Content: "third question"},
	}

	t.Run("window prunes oldest history, keeps system", func(t *testing.T) {
		rt := &Runtime{Config: Config{EnableMemory: true, MemoryWindow: 3}}
		state := &ExecutionState{Messages: append([]model.Message(nil), history...)}

		n := buildNode(t, NodeSpec{ID: "memory", Type: TypeMemory})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		require.True(t, res.Delta.ReplaceMessagesSet)

		kept := res.Delta.ReplaceMessages
		require.Len(t, kept, 4)
		assert.Equal(t, model.RoleSystem, kept[0].Role)
		assert.Equal(t, "second question", kept[1].Content)
		require.NotNil(t, res.Delta.ConversationSummary)
		assert.Contains(t, *res.Delta.ConversationSummary, "2 earlier messages pruned")
	})

	t.Run("zero window keeps only the current user turn", func(t *testing.T) {
		rt := &Runtime{Config: Config{EnableMemory: true, MemoryWindow: 0}}
		state := &ExecutionState{Messages: append([]model.Message(nil), history...)}

		n := buildNode(t, NodeSpec{ID: "memory", Type: TypeMemory})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		require.True(t, res.Delta.ReplaceMessagesSet)
		require.Len(t, res.Delta.ReplaceMessages, 2)
		assert.Equal(t, model.RoleSystem, res.Delta.ReplaceMessages[0].Role)
		assert.Equal(t, "third question", res.Delta.ReplaceMessages[1].Content)
	})

	t.Run("history inside the window is untouched", func(t *testing.T) {
		rt := &Runtime{Config: Config{EnableMemory: true, MemoryWindow: 50}}
		state := &ExecutionState{Messages: append([]model.Message(nil), history...)}

		n := buildNode(t, NodeSpec{ID: "memory", Type: TypeMemory})
		res := n.Execute(context.Background(), rt, state)
		assert.NoError(t, res.Err)
		assert.False(t, res.Delta.ReplaceMessagesSet)
	})

	t.Run("window never opens with a tool result", func(t *testing.T) {
		withTool := []model.Message{
			{Role: model.RoleUser, Content: "q1"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c", Name: "x"}}},
			{Role: model.RoleTool, Content: "{}", ToolCallID: "c"},
			{Role: model.RoleAssistant, Content: "a1"},
			{Role: model.RoleUser, Content: "q2"},
		}
		rt := &Runtime{Config: Config{EnableMemory: true, MemoryWindow: 4}}
		state := &ExecutionState{Messages: withTool}

		n := buildNode(t, NodeSpec{ID: "memory", Type: TypeMemory})
		res := n.Execute(context.Background(), rt, state)
		require.NoError(t, res.Err)
		require.True(t, res.Delta.ReplaceMessagesSet)
		assert.NotEqual(t, model.RoleTool, res.Delta.ReplaceMessages[0].Role)
	})

	t.Run("disabled memory skips", func(t *testing.T) {
		rt := &Runtime{Config: Config{MemoryWindow: 1}}
		state := &ExecutionState{Messages: append([]model.Message(nil), history...)}
		n := buildNode(t, NodeSpec{ID: "memory", Type: TypeMemory})
		res := n.Execute(context.Background(), rt, state)
		assert.False(t, res.Delta.ReplaceMessagesSet)
	})
}

func TestConditionalNode(t *testing.T) {
	run := func(config map[string]any, state *ExecutionState) NodeResult {
		n := buildNode(t, NodeSpec{ID: "branch", Type: TypeConditional, Config: config})
		return n.Execute(context.Background(), &Runtime{}, state)
	}

	t.Run("equals routes true and records the branch", func(t *testing.T) {
		state := &ExecutionState{Variables: map[string]any{"mode": "fast"}}
		res := run(map[string]any{"variable": "mode", "operator": "equals", "value": "fast"}, state)
		require.NoError(t, res.Err)
		assert.Equal(t, LabelTrue, res.Label)
		assert.Equal(t, LabelTrue, res.Delta.ConditionalResults["branch"])
	})

	t.Run("missing variable routes false", func(t *testing.T) {
		res := run(map[string]any{"variable": "mode", "operator": "equals", "value": "fast"}, &ExecutionState{})
		require.NoError(t, res.Err)
		assert.Equal(t, LabelFalse, res.Label)
	})

	t.Run("last_message reads message content", func(t *testing.T) {
		state := &ExecutionState{Messages: []model.Message{
			{Role: model.RoleAssistant, Content: "the answer is DONE"},
		}}
		res := run(map[string]any{"variable": "last_message", "operator": "contains", "value": "DONE"}, state)
		require.NoError(t, res.Err)
		assert.Equal(t, LabelTrue, res.Label)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		state := &ExecutionState{Variables: map[string]any{"score": 7.5}}
		res := run(map[string]any{"variable": "score", "operator": "gt", "value": "5"}, state)
		assert.Equal(t, LabelTrue, res.Label)

		res = run(map[string]any{"variable": "score", "operator": "lt", "value": "5"}, state)
		assert.Equal(t, LabelFalse, res.Label)
	})

	t.Run("camelCase spelling finds snake_case variable", func(t *testing.T) {
		state := &ExecutionState{Variables: map[string]any{"retry_count": 2}}
		res := run(map[string]any{"variable": "retryCount", "operator": "exists"}, state)
		assert.Equal(t, LabelTrue, res.Label)
	})

	t.Run("unknown operator is a validation error", func(t *testing.T) {
		res := run(map[string]any{"variable": "x", "operator": "resembles"}, &ExecutionState{})
		assert.Equal(t, KindValidation, KindOf(res.Err))
	})
}

func TestLoopNode(t *testing.T) {
	build := func(bound int) Node {
		return buildNode(t, NodeSpec{ID: "loop", Type: TypeLoop, Config: map[string]any{"bound": bound}})
	}

	t.Run("iterates up to the bound then exits", func(t *testing.T) {
		n := build(2)
		state := &ExecutionState{}

		for i := 1; i <= 2; i++ {
			res := n.Execute(context.Background(), &Runtime{}, state)
			require.NoError(t, res.Err)
			assert.Equal(t, LabelBody, res.Label)
			state.Apply(res.Delta)
			assert.Equal(t, i, state.LoopState["loop"].Iterations)
		}

		res := n.Execute(context.Background(), &Runtime{}, state)
		require.NoError(t, res.Err)
		assert.Equal(t, LabelExit, res.Label)
		state.Apply(res.Delta)
		assert.Equal(t, 2, state.LoopState["loop"].Iterations)
	})

	t.Run("bound zero exits immediately", func(t *testing.T) {
		n := build(0)
		res := n.Execute(context.Background(), &Runtime{}, &ExecutionState{})
		require.NoError(t, res.Err)
		assert.Equal(t, LabelExit, res.Label)
		assert.Equal(t, 0, res.Delta.LoopState["loop"].Iterations)
	})

	t.Run("iterations past the bound trip a limit error", func(t *testing.T) {
		n := build(2)
		state := &ExecutionState{LoopState: map[string]*LoopState{
			"loop": {Iterations: 3, Bound: 2},
		}}
		res := n.Execute(context.Background(), &Runtime{}, state)
		assert.Equal(t, KindLimit, KindOf(res.Err))
	})

	t.Run("false body condition exits early", func(t *testing.T) {
		n := buildNode(t, NodeSpec{ID: "loop", Type: TypeLoop, Config: map[string]any{
			"bound": 5, "variable": "keep_going", "operator": "equals", "value": "yes",
		}})
		state := &ExecutionState{Variables: map[string]any{"keep_going": "no"}}
		res := n.Execute(context.Background(), &Runtime{}, state)
		require.NoError(t, res.Err)
		assert.Equal(t, LabelExit, res.Label)
	})
}

func TestVariableNode(t *testing.T) {
	exec := func(config map[string]any, state *ExecutionState) NodeResult {
		n := buildNode(t, NodeSpec{ID: "var", Type: TypeVariable, Config: config})
		return n.Execute(context.Background(), &Runtime{}, state)
	}

	t.Run("set", func(t *testing.T) {
		res := exec(map[string]any{"name": "mode", "value": "fast"}, &ExecutionState{})
		require.NoError(t, res.Err)
		assert.Equal(t, "fast", res.Delta.Variables["mode"])
	})

	t.Run("set without value is rejected", func(t *testing.T) {
		res := exec(map[string]any{"name": "mode", "operation": "set"}, &ExecutionState{})
		assert.Equal(t, KindValidation, KindOf(res.Err))
	})

	t.Run("capture stores the last message content", func(t *testing.T) {
		state := &ExecutionState{Messages: []model.Message{
			{Role: model.RoleAssistant, Content: "captured text"},
		}}
		res := exec(map[string]any{"name": "draft", "operation": "capture"}, state)
		require.NoError(t, res.Err)
		assert.Equal(t, "captured text", res.Delta.Variables["draft"])
	})

	t.Run("delete clears a tolerantly matched key", func(t *testing.T) {
		state := &ExecutionState{Variables: map[string]any{"retry_count": 3}}
		res := exec(map[string]any{"name": "retryCount", "operation": "delete"}, state)
		require.NoError(t, res.Err)
		v, present := res.Delta.Variables["retry_count"]
		assert.True(t, present)
		assert.Nil(t, v)
	})

	t.Run("unknown operation is rejected", func(t *testing.T) {
		res := exec(map[string]any{"name": "x", "operation": "increment"}, &ExecutionState{})
		assert.Equal(t, KindValidation, KindOf(res.Err))
	})
}

func TestDelayNode(t *testing.T) {
	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		n := buildNode(t, NodeSpec{ID: "pause", Type: TypeDelay, Config: map[string]any{
			"duration_ms": 10_000,
		}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := n.Execute(ctx, &Runtime{}, &ExecutionState{})
		assert.Equal(t, KindCancelled, KindOf(res.Err))
	})

	t.Run("zero duration returns immediately", func(t *testing.T) {
		n := buildNode(t, NodeSpec{ID: "pause", Type: TypeDelay, Config: map[string]any{
			"duration_ms": 0,
		}})
		res := n.Execute(context.Background(), &Runtime{}, &ExecutionState{})
		assert.NoError(t, res.Err)
	})
}

func TestErrorHandlerNode(t *testing.T) {
	state := &ExecutionState{ErrorState: &ErrorState{
		NodeID: "respond", Kind: KindProvider, Message: "upstream down",
	}}
	n := buildNode(t, NodeSpec{ID: "recover", Type: TypeErrorHandler})
	res := n.Execute(context.Background(), &Runtime{}, state)
	require.NoError(t, res.Err)
	assert.Equal(t, LabelOnError, res.Label)

	lastErr, ok := res.Delta.Variables["last_error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "respond", lastErr["node"])
	assert.Equal(t, string(KindProvider), lastErr["kind"])
}
