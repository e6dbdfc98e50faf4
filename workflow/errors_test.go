package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/tool"
)

func TestWrap_Classification(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil))
	})

	t.Run("typed errors pass through unchanged", func(t *testing.T) {
		orig := Errorf(KindValidation, "bad blueprint")
		assert.Same(t, orig, Wrap(orig))
	})

	t.Run("context cancellation", func(t *testing.T) {
		assert.Equal(t, KindCancelled, Wrap(context.Canceled).Kind)
	})

	t.Run("deadline expiry", func(t *testing.T) {
		assert.Equal(t, KindTimeout, Wrap(context.DeadlineExceeded).Kind)
	})

	t.Run("provider failures keep the retryable flag", func(t *testing.T) {
		cause := &model.ProviderError{Provider: "openai", Message: "rate limited", Retryable: true}
		typed := Wrap(cause)
		assert.Equal(t, KindProvider, typed.Kind)
		assert.True(t, typed.Retryable)
		assert.Equal(t, "openai", typed.Details["provider"])
		assert.ErrorIs(t, typed, cause)
	})

	t.Run("tool failures", func(t *testing.T) {
		cause := &tool.Error{Tool: "search", Message: "backend down"}
		typed := Wrap(cause)
		assert.Equal(t, KindTool, typed.Kind)
		assert.Equal(t, "search", typed.Details["tool"])
	})

	t.Run("everything else is internal", func(t *testing.T) {
		typed := Wrap(errors.New("unexpected"))
		assert.Equal(t, KindInternal, typed.Kind)
		assert.Equal(t, "unexpected", typed.Message)
	})
}

func TestDecorate(t *testing.T) {
	t.Run("stamps run context", func(t *testing.T) {
		typed := Decorate(errors.New("boom"), "run-1", "execute", "respond")
		assert.Equal(t, "run-1", typed.RunID)
		assert.Equal(t, "execute", typed.Stage)
		assert.Equal(t, "respond", typed.NodeID)
	})

	t.Run("never overwrites inner stamps", func(t *testing.T) {
		inner := Errorf(KindTool, "refused")
		inner.NodeID = "tools"
		typed := Decorate(inner, "run-1", "execute", "respond")
		assert.Equal(t, "tools", typed.NodeID)
		assert.Equal(t, "run-1", typed.RunID)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Decorate(nil, "run-1", "execute", ""))
	})
}

func TestError_Message(t *testing.T) {
	err := Errorf(KindLimit, "tool call budget exceeded")
	assert.Equal(t, "LimitError: tool call budget exceeded", err.Error())

	err.NodeID = "tools"
	assert.Equal(t, "LimitError at node tools: tool call budget exceeded", err.Error())
}

func TestKindOfAndRetryable(t *testing.T) {
	require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, ErrKind(""), KindOf(nil))

	assert.True(t, IsRetryable(&model.ProviderError{Message: "503", Retryable: true}))
	assert.False(t, IsRetryable(&model.ProviderError{Message: "401"}))
	assert.False(t, IsRetryable(Errorf(KindValidation, "bad")))
	assert.False(t, IsRetryable(nil))
}
