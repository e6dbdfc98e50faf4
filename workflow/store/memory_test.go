package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Messages(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.Append(ctx, "conv1", Message{ID: "m1", Role: "user", Content: "hi"}))
	require.NoError(t, st.Append(ctx, "conv1", Message{ID: "m2", Role: "assistant", Content: "hello"}))
	require.NoError(t, st.Append(ctx, "conv2", Message{ID: "m3", Role: "user", Content: "other"}))

	msgs, err := st.Messages(ctx, "conv1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)

	msgs, err = st.Messages(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStore_Aggregates(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.UpdateAggregates(ctx, "conv1", AggregateDelta{Messages: 1, Tokens: 10, LastActiveAt: now}))
	require.NoError(t, st.UpdateAggregates(ctx, "conv1", AggregateDelta{Messages: 2, Tokens: 15, LastActiveAt: now.Add(time.Minute)}))

	agg := st.Aggregates("conv1")
	assert.Equal(t, 3, agg.Messages)
	assert.Equal(t, 25, agg.Tokens)
	assert.Equal(t, now.Add(time.Minute), agg.LastActiveAt)
}

func TestMemoryStore_Executions(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, rec := range []Execution{
		{ID: "r1", UserID: "u1", Status: StatusCompleted},
		{ID: "r2", UserID: "u1", Status: StatusFailed},
		{ID: "r3", UserID: "u2", Status: StatusCompleted},
	} {
		rec.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, st.Create(ctx, rec))
	}

	t.Run("get", func(t *testing.T) {
		rec, err := st.Get(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status)

		_, err = st.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		rec, _ := st.Get(ctx, "r1")
		finished := base.Add(time.Hour)
		rec.Status = StatusCompleted
		rec.FinishedAt = &finished
		rec.Tokens = 42
		require.NoError(t, st.Update(ctx, rec))

		got, err := st.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, 42, got.Tokens)
		require.NotNil(t, got.FinishedAt)

		assert.ErrorIs(t, st.Update(ctx, Execution{ID: "missing"}), ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		execs, err := st.List(ctx, ExecutionFilter{})
		require.NoError(t, err)
		require.Len(t, execs, 3)
		assert.Equal(t, "r3", execs[0].ID)
		assert.Equal(t, "r1", execs[2].ID)
	})

	t.Run("list filters", func(t *testing.T) {
		execs, err := st.List(ctx, ExecutionFilter{UserID: "u1", Status: StatusFailed})
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, "r2", execs[0].ID)

		execs, err = st.List(ctx, ExecutionFilter{Since: base.Add(1500 * time.Millisecond)})
		require.NoError(t, err)
		assert.Len(t, execs, 1)

		execs, err = st.List(ctx, ExecutionFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, execs, 2)
	})
}

func TestMemoryStore_Definitions(t *testing.T) {
	st := NewMemoryStore()
	defs := st.Definitions()
	ctx := context.Background()

	def := Definition{ID: "d1", UserID: "u1", Name: "chat", Blueprint: []byte(`{"nodes":[]}`)}
	require.NoError(t, defs.Save(ctx, def))

	got, err := defs.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "chat", got.Name)

	_, err = defs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := defs.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, defs.Delete(ctx, "d1"))
	_, err = defs.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, defs.Delete(ctx, "d1"), ErrNotFound)
}
