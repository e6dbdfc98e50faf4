package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_SumsAcrossCalls(t *testing.T) {
	agg := NewAggregator(DefaultPriceTable())

	require.True(t, agg.Record("e1", "gpt-4o", map[string]any{
		"input_tokens": 100, "output_tokens": 50,
	}))
	require.True(t, agg.Record("e2", "gpt-4o", map[string]any{
		"input_tokens": 200, "output_tokens": 80,
	}))

	totals := agg.Totals()
	assert.Equal(t, 300, totals.PromptTokens)
	assert.Equal(t, 130, totals.CompletionTokens)
	assert.Equal(t, 430, totals.TotalTokens)
	assert.Equal(t, 2, totals.ModelCalls)
	assert.InDelta(t, 300.0/1e6*2.50+130.0/1e6*10.00, totals.Cost, 1e-12)
}

func TestAggregator_DeduplicatesByEventID(t *testing.T) {
	agg := NewAggregator(nil)
	payload := map[string]any{"input_tokens": 10, "output_tokens": 10}

	require.True(t, agg.Record("e1", "m", payload))
	assert.False(t, agg.Record("e1", "m", payload), "redelivered event must not count")

	totals := agg.Totals()
	assert.Equal(t, 20, totals.TotalTokens)
	assert.Equal(t, 1, totals.ModelCalls)
}

func TestAggregator_AcceptsBothSpellings(t *testing.T) {
	agg := NewAggregator(nil)

	// Prompt/completion spelling, float64 as produced by a JSON decode.
	agg.Record("e1", "m", map[string]any{
		"prompt_tokens":     float64(40),
		"completion_tokens": float64(20),
	})

	totals := agg.Totals()
	assert.Equal(t, 40, totals.PromptTokens)
	assert.Equal(t, 20, totals.CompletionTokens)
}

func TestAggregator_UnknownModelAggregatesWithoutCost(t *testing.T) {
	agg := NewAggregator(DefaultPriceTable())
	agg.Record("e1", "mystery-model-9000", map[string]any{
		"input_tokens": 100, "output_tokens": 100,
	})

	totals := agg.Totals()
	assert.Equal(t, 200, totals.TotalTokens)
	assert.Zero(t, totals.Cost)
}

func TestPriceTable_Lookup(t *testing.T) {
	table := DefaultPriceTable()

	t.Run("exact match", func(t *testing.T) {
		p, ok := table.Lookup("gpt-4o-mini")
		require.True(t, ok)
		assert.Equal(t, 0.15, p.InputPer1M)
	})

	t.Run("dated release falls back to longest prefix", func(t *testing.T) {
		p, ok := table.Lookup("gpt-4o-2024-08-06")
		require.True(t, ok)
		assert.Equal(t, 2.50, p.InputPer1M)

		p, ok = table.Lookup("claude-3-5-sonnet-20241022")
		require.True(t, ok)
		assert.Equal(t, 3.00, p.InputPer1M)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, ok := table.Lookup("unpriced")
		assert.False(t, ok)
		assert.Zero(t, table.Cost("unpriced", 1000, 1000))
	})
}
