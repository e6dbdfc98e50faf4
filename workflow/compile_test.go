package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_BuildsGraph(t *testing.T) {
	g, err := Compile(chatBlueprint(), nil)
	require.NoError(t, err)

	assert.Equal(t, "start", g.StartID())
	assert.Equal(t, 2, g.Len())
	assert.NotEmpty(t, g.Hash())

	n, ok := g.Node("respond")
	require.True(t, ok)
	assert.Equal(t, TypeModel, n.Type())
}

func TestCompile_RejectsInvalid(t *testing.T) {
	_, err := Compile(&Blueprint{}, nil)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCompiledGraph_Next(t *testing.T) {
	bp := &Blueprint{
		Nodes: []NodeSpec{
			{ID: "start", Type: TypeStart},
			{ID: "branch", Type: TypeConditional, Config: map[string]any{
				"variable": "x", "operator": "exists",
			}},
			{ID: "yes", Type: TypeModel},
			{ID: "no", Type: TypeModel},
		},
		Edges: []EdgeSpec{
			{From: "start", To: "branch"},
			{From: "branch", To: "no", Condition: LabelFalse, Order: 1},
			{From: "branch", To: "yes", Condition: LabelTrue, Order: 0},
		},
	}
	g, err := Compile(bp, nil)
	require.NoError(t, err)

	t.Run("label selects matching edge", func(t *testing.T) {
		next, ok := g.Next("branch", LabelTrue)
		require.True(t, ok)
		assert.Equal(t, "yes", next)

		next, ok = g.Next("branch", LabelFalse)
		require.True(t, ok)
		assert.Equal(t, "no", next)
	})

	t.Run("empty label follows default edge", func(t *testing.T) {
		next, ok := g.Next("start", "")
		require.True(t, ok)
		assert.Equal(t, "branch", next)
	})

	t.Run("no outgoing edge ends traversal", func(t *testing.T) {
		_, ok := g.Next("yes", "")
		assert.False(t, ok)
	})

	t.Run("unmatched label without default ends traversal", func(t *testing.T) {
		_, ok := g.Next("branch", "sideways")
		assert.False(t, ok)
	})
}

func TestCache(t *testing.T) {
	cache := NewCache()
	bp := chatBlueprint()
	cfg := Config{Provider: "mock", Model: "m"}

	g1, err := cache.Compile(bp, cfg, nil)
	require.NoError(t, err)
	g2, err := cache.Compile(bp, cfg, nil)
	require.NoError(t, err)
	assert.Same(t, g1, g2, "second compile must hit the cache")
	assert.Equal(t, 1, cache.Len())

	t.Run("config shape changes the key", func(t *testing.T) {
		withTools := cfg
		withTools.EnableTools = true
		g3, err := cache.Compile(bp, withTools, nil)
		require.NoError(t, err)
		assert.NotSame(t, g1, g3)
		assert.Equal(t, 2, cache.Len())
	})

	t.Run("invalidate drops all shapes of a blueprint", func(t *testing.T) {
		cache.Invalidate(bp.Hash())
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("clear empties the cache", func(t *testing.T) {
		_, err := cache.Compile(bp, cfg, nil)
		require.NoError(t, err)
		cache.Clear()
		assert.Equal(t, 0, cache.Len())
	})
}

func TestBlueprintHash_OrderIndependent(t *testing.T) {
	a := chatBlueprint()
	b := &Blueprint{
		Name:  a.Name,
		Nodes: []NodeSpec{a.Nodes[1], a.Nodes[0]},
		Edges: a.Edges,
	}
	assert.Equal(t, a.Hash(), b.Hash())

	c := chatBlueprint()
	c.Name = "different"
	assert.NotEqual(t, a.Hash(), c.Hash())
}
