package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/retrieve"
	"github.com/flowgraph-dev/flowgraph/workflow/store"
	"github.com/flowgraph-dev/flowgraph/workflow/tool"
)

// Preparer resolves a workflow source into a runnable graph with its
// collaborators bound. It owns blueprint lookup, ownership checks,
// compilation (through the cache), and provider/tool/retriever binding.
type Preparer struct {
	Registry    *NodeRegistry
	Cache       *Cache
	Templates   *TemplateRegistry
	Definitions store.DefinitionStore
	Resolver    *model.Resolver
	Tools       *tool.Registry
	Retriever   retrieve.Retriever
}

// Prepared is a fully bound run: compiled graph plus the collaborators
// the executor hands to nodes through the Runtime.
type Prepared struct {
	Blueprint *Blueprint
	Graph     *CompiledGraph
	Provider  model.Provider
	Tools     *tool.View
	Retriever retrieve.Retriever
	Config    Config
}

// Prepare resolves, compiles, and binds. Resolution failures carry the
// kind the caller maps to a status code: NotFound for missing
// definitions and templates, Unauthorized for foreign definitions,
// ValidationError for malformed blueprints, ConfigError for unknown
// providers.
func (p *Preparer) Prepare(ctx context.Context, input Input) (*Prepared, error) {
	bp, err := p.resolveBlueprint(ctx, input.Source, input.UserID)
	if err != nil {
		return nil, err
	}

	graph, err := p.compile(bp, input.Config)
	if err != nil {
		return nil, err
	}

	provider, err := p.Resolver.Resolve(input.Config.Provider, input.Config.Model)
	if err != nil {
		if errors.Is(err, model.ErrUnknownProvider) {
			return nil, Errorf(KindConfig, "unknown provider %q", input.Config.Provider)
		}
		return nil, &Error{Kind: KindConfig, Message: "provider setup failed", Cause: err}
	}

	prepared := &Prepared{
		Blueprint: bp,
		Graph:     graph,
		Provider:  provider,
		Config:    input.Config,
	}
	if input.Config.EnableTools && p.Tools != nil {
		prepared.Tools = p.Tools.View(input.Config.AllowedTools)
	}
	if input.Config.EnableRetrieval {
		prepared.Retriever = p.Retriever
	}
	return prepared, nil
}

func (p *Preparer) compile(bp *Blueprint, cfg Config) (*CompiledGraph, error) {
	registry := p.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	if p.Cache != nil {
		return p.Cache.Compile(bp, cfg, registry)
	}
	return Compile(bp, registry)
}

func (p *Preparer) resolveBlueprint(ctx context.Context, src Source, userID string) (*Blueprint, error) {
	switch src.Kind {
	case SourceInline:
		if src.Blueprint == nil {
			return nil, Errorf(KindValidation, "inline source carries no blueprint")
		}
		return src.Blueprint, nil

	case SourceDefinition:
		if p.Definitions == nil {
			return nil, Errorf(KindConfig, "no definition store configured")
		}
		def, err := p.Definitions.Get(ctx, src.DefinitionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, Errorf(KindNotFound, "definition %s not found", src.DefinitionID)
			}
			return nil, Wrap(err)
		}
		if def.UserID != userID {
			return nil, Errorf(KindUnauthorized, "definition %s belongs to another user", src.DefinitionID)
		}
		var bp Blueprint
		if err := json.Unmarshal(def.Blueprint, &bp); err != nil {
			return nil, &Error{
				Kind:    KindValidation,
				Message: fmt.Sprintf("definition %s holds malformed blueprint JSON", src.DefinitionID),
				Cause:   err,
			}
		}
		return &bp, nil

	case SourceTemplate:
		if p.Templates == nil {
			return nil, Errorf(KindConfig, "no template registry configured")
		}
		bp, ok := p.Templates.Get(src.Template)
		if !ok {
			return nil, Errorf(KindNotFound, "template %q not found", src.Template)
		}
		return applyTemplateParams(bp, src.Params), nil

	default:
		return nil, Errorf(KindValidation, "unknown source kind %q", src.Kind)
	}
}

// applyTemplateParams clones the template and merges per-node parameter
// maps into node configs. A param keyed by a node id whose value is an
// object overlays that node's config; anything else is ignored.
func applyTemplateParams(tpl *Blueprint, params map[string]any) *Blueprint {
	bp := &Blueprint{
		Name:  tpl.Name,
		Nodes: make([]NodeSpec, len(tpl.Nodes)),
		Edges: append([]EdgeSpec(nil), tpl.Edges...),
	}
	for i, n := range tpl.Nodes {
		spec := NodeSpec{ID: n.ID, Type: n.Type}
		if len(n.Config) > 0 || hasNodeParams(params, n.ID) {
			spec.Config = make(map[string]any, len(n.Config))
			for k, v := range n.Config {
				spec.Config[k] = v
			}
			if overlay, ok := params[n.ID].(map[string]any); ok {
				for k, v := range overlay {
					spec.Config[k] = v
				}
			}
		}
		bp.Nodes[i] = spec
	}
	return bp
}

func hasNodeParams(params map[string]any, nodeID string) bool {
	_, ok := params[nodeID].(map[string]any)
	return ok
}
