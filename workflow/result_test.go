package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/store"
)

func sampleResult() *Result {
	return &Result{
		RunID: "run-1",
		AssistantMessage: model.Message{
			Role:    model.RoleAssistant,
			Content: "the answer",
		},
		Conversation:     ConversationStats{ID: "conv-1", Messages: 4, Tokens: 30},
		ExecutionTimeMs:  120,
		TokensUsed:       30,
		PromptTokens:     20,
		CompletionTokens: 10,
		Cost:             0.00012,
		Metadata:         map[string]any{"source": "test"},
	}
}

func TestResultProjections(t *testing.T) {
	r := sampleResult()

	t.Run("chat response mirrors the assistant message", func(t *testing.T) {
		chat := r.ToChatResponse()
		assert.Equal(t, r.AssistantMessage.Content, chat.AssistantText)
		assert.Equal(t, "conv-1", chat.ConversationID)
		assert.Equal(t, 30, chat.TokensUsed)
	})

	t.Run("execution response carries run accounting", func(t *testing.T) {
		exec := r.ToExecutionResponse()
		assert.Equal(t, "run-1", exec.RunID)
		assert.Equal(t, int64(120), exec.ExecutionTimeMs)
		assert.Equal(t, r.Cost, exec.Cost)
	})

	t.Run("detailed response carries everything", func(t *testing.T) {
		det := r.ToDetailedResponse()
		assert.Equal(t, r.AssistantMessage.Content, det.AssistantText)
		assert.Equal(t, r.PromptTokens, det.PromptTokens)
		assert.Equal(t, r.CompletionTokens, det.CompletionTokens)
		assert.Equal(t, r.Conversation, det.Conversation)
		assert.Equal(t, r.Metadata, det.Metadata)
	})
}

func TestResultProcessor_PersistsAndFills(t *testing.T) {
	st := store.NewMemoryStore()
	p := &ResultProcessor{Messages: st, Conversations: st}

	input := Input{UserID: "u1", Message: "q", ConversationID: "conv-9"}
	state := &ExecutionState{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "q"},
			{Role: model.RoleAssistant, Content: "a"},
		},
		UserID:         "u1",
		ConversationID: "conv-9",
	}
	totals := Totals{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8, Cost: 0.001}

	result, err := p.Process(context.Background(), "run-9", input, state, totals, 250*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, "a", result.AssistantMessage.Content)
	assert.Equal(t, int64(250), result.ExecutionTimeMs)
	assert.Equal(t, 8, result.TokensUsed)

	msgs, err := st.Messages(context.Background(), "conv-9")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)

	agg := st.Aggregates("conv-9")
	assert.Equal(t, 1, agg.Messages)
	assert.Equal(t, 8, agg.Tokens)
}

func TestResultProcessor_NoAssistantMessageIsInternal(t *testing.T) {
	p := &ResultProcessor{}
	state := &ExecutionState{Messages: []model.Message{{Role: model.RoleUser, Content: "q"}}}
	_, err := p.Process(context.Background(), "run-1", Input{}, state, Totals{}, 0)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestResultProcessor_NoConversationSkipsPersistence(t *testing.T) {
	st := store.NewMemoryStore()
	p := &ResultProcessor{Messages: st, Conversations: st}
	state := &ExecutionState{Messages: []model.Message{
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleAssistant, Content: "a"},
	}}

	result, err := p.Process(context.Background(), "run-1", Input{}, state, Totals{}, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Conversation.ID)

	msgs, err := st.Messages(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
