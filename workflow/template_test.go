package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRegistry_BuiltinsCompile(t *testing.T) {
	r := NewTemplateRegistry(nil)

	for _, name := range []string{TemplateChat, TemplateRAG, TemplateToolAgent} {
		bp, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Empty(t, Validate(bp, nil), "template %s must be valid", name)
	}

	_, ok := r.Get("unknown")
	assert.False(t, ok)
}

func TestTemplateRegistry_ReplaceInvalidatesCache(t *testing.T) {
	cache := NewCache()
	r := NewTemplateRegistry(cache)

	bp, _ := r.Get(TemplateChat)
	cfg := Config{Provider: "mock", Model: "m"}
	_, err := cache.Compile(bp, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	r.Register(TemplateChat, chatBlueprint())
	assert.Equal(t, 0, cache.Len(), "replacing a template must drop its cached graphs")
}

func TestApplyTemplateParams(t *testing.T) {
	r := NewTemplateRegistry(nil)
	tpl, _ := r.Get(TemplateChat)

	t.Run("per-node params overlay node config", func(t *testing.T) {
		bp := applyTemplateParams(tpl, map[string]any{
			"respond": map[string]any{"temperature": 0.2},
		})
		var respond NodeSpec
		for _, n := range bp.Nodes {
			if n.ID == "respond" {
				respond = n
			}
		}
		assert.Equal(t, 0.2, respond.Config["temperature"])
	})

	t.Run("template itself is untouched", func(t *testing.T) {
		applyTemplateParams(tpl, map[string]any{
			"respond": map[string]any{"model": "huge-model"},
		})
		for _, n := range tpl.Nodes {
			assert.Empty(t, n.Config, "template node %s must stay clean", n.ID)
		}
	})

	t.Run("non-object params are ignored", func(t *testing.T) {
		bp := applyTemplateParams(tpl, map[string]any{"respond": "not an object"})
		assert.Empty(t, Validate(bp, nil))
	})
}
