package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededIndex(topK int) *Index {
	ix := NewIndex(topK)
	ix.Add(Document{ID: "d1", OwnerID: "u1", Content: "Go workflow engines schedule graph nodes"})
	ix.Add(Document{ID: "d2", OwnerID: "u1", Content: "The billing export runs nightly"})
	ix.Add(Document{ID: "d3", OwnerID: "u2", Content: "Go compiler internals and graph coloring"})
	return ix
}

func TestIndex_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("scores by term overlap", func(t *testing.T) {
		ix := seededIndex(0)
		chunks, err := ix.Query(ctx, "workflow graph nodes", Filter{OwnerID: "u1"})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "d1", chunks[0].DocumentID)
		assert.InDelta(t, 1.0, chunks[0].Score, 1e-9)
	})

	t.Run("foreign documents are excluded", func(t *testing.T) {
		ix := seededIndex(0)
		chunks, err := ix.Query(ctx, "graph", Filter{OwnerID: "u1", DocumentIDs: []string{"d1", "d3"}})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "d1", chunks[0].DocumentID)
	})

	t.Run("document filter narrows the corpus", func(t *testing.T) {
		ix := seededIndex(0)
		chunks, err := ix.Query(ctx, "runs nightly", Filter{OwnerID: "u1", DocumentIDs: []string{"d2"}})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "d2", chunks[0].DocumentID)
	})

	t.Run("ties break by document ID", func(t *testing.T) {
		ix := NewIndex(0)
		ix.Add(Document{ID: "b", Content: "shared term"})
		ix.Add(Document{ID: "a", Content: "shared term"})
		chunks, err := ix.Query(ctx, "shared", Filter{})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "a", chunks[0].DocumentID)
		assert.Equal(t, "b", chunks[1].DocumentID)
	})

	t.Run("topK caps the result", func(t *testing.T) {
		ix := NewIndex(1)
		ix.Add(Document{ID: "a", Content: "term"})
		ix.Add(Document{ID: "b", Content: "term"})
		chunks, err := ix.Query(ctx, "term", Filter{})
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
	})

	t.Run("empty query matches everything", func(t *testing.T) {
		ix := seededIndex(0)
		chunks, err := ix.Query(ctx, "", Filter{OwnerID: "u1"})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		for _, c := range chunks {
			assert.InDelta(t, 1.0, c.Score, 1e-9)
		}
	})

	t.Run("no matching terms means no chunks", func(t *testing.T) {
		ix := seededIndex(0)
		chunks, err := ix.Query(ctx, "zebra", Filter{OwnerID: "u1"})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ix := seededIndex(0)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ix.Query(cancelled, "graph", Filter{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIndex_AddReplaces(t *testing.T) {
	ix := NewIndex(0)
	ix.Add(Document{ID: "d1", Content: "first version"})
	ix.Add(Document{ID: "d1", Content: "second version"})

	chunks, err := ix.Query(context.Background(), "second", Filter{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "second version", chunks[0].Content)
}

func TestMockRetriever(t *testing.T) {
	ctx := context.Background()

	t.Run("scripted results repeat the last set", func(t *testing.T) {
		m := &MockRetriever{Results: [][]Chunk{
			{{DocumentID: "d1", Content: "one"}},
			{{DocumentID: "d2", Content: "two"}},
		}}
		for _, want := range []string{"d1", "d2", "d2"} {
			chunks, err := m.Query(ctx, "q", Filter{})
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Equal(t, want, chunks[0].DocumentID)
		}
		assert.Equal(t, 3, m.CallCount())
	})

	t.Run("queries are recorded", func(t *testing.T) {
		m := &MockRetriever{}
		_, err := m.Query(ctx, "billing docs", Filter{OwnerID: "u1", DocumentIDs: []string{"d2"}})
		require.NoError(t, err)
		require.Len(t, m.Queries, 1)
		assert.Equal(t, "billing docs", m.Queries[0].Text)
		assert.Equal(t, "u1", m.Queries[0].Filter.OwnerID)
	})

	t.Run("error short-circuits", func(t *testing.T) {
		m := &MockRetriever{Err: errors.New("index offline")}
		_, err := m.Query(ctx, "q", Filter{})
		assert.ErrorContains(t, err, "index offline")
	})
}
