package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph-dev/flowgraph/workflow/store"
)

// Service is the callable API surface of the execution core. Transports
// (HTTP handlers, RPC servers) translate wire requests into these calls
// and project the results; no workflow logic lives outside this package.
type Service struct {
	Executor    *Executor
	Registry    *NodeRegistry
	Executions  store.ExecutionStore
	Definitions store.DefinitionStore
	Cache       *Cache
}

// ValidationReport is the outcome of ValidateWorkflow.
type ValidationReport struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// ExecuteWorkflow runs a workflow in unary mode.
func (s *Service) ExecuteWorkflow(ctx context.Context, input Input) (*Result, error) {
	return s.Executor.Execute(ctx, input)
}

// StreamWorkflow runs a workflow in streaming mode, delivering frames
// to the sink. The returned result matches what unary mode produces.
func (s *Service) StreamWorkflow(ctx context.Context, input Input, sink FrameSink) (*Result, error) {
	return s.Executor.Stream(ctx, input, sink)
}

// ValidateWorkflow checks a blueprint without executing it. The checks
// are exactly those the executor applies; a valid report here means the
// blueprint compiles.
func (s *Service) ValidateWorkflow(bp *Blueprint) ValidationReport {
	issues := Validate(bp, s.registry())
	return ValidationReport{Valid: len(issues) == 0, Issues: issues}
}

// ListNodeTypes returns the node type descriptors in registration
// order, for editors and clients building workflows.
func (s *Service) ListNodeTypes() []Descriptor {
	return s.registry().List()
}

// GetExecution returns a persisted execution record.
func (s *Service) GetExecution(ctx context.Context, id string) (store.Execution, error) {
	exec, err := s.Executions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Execution{}, Errorf(KindNotFound, "execution %s not found", id)
		}
		return store.Execution{}, Wrap(err)
	}
	return exec, nil
}

// ListExecutions returns execution records matching the filter, newest
// first.
func (s *Service) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]store.Execution, error) {
	execs, err := s.Executions.List(ctx, filter)
	if err != nil {
		return nil, Wrap(err)
	}
	return execs, nil
}

// SaveDefinition validates and durably stores a blueprint under the
// user's account, returning the stored definition. Saving invalidates
// any cached compilation of a previous version.
func (s *Service) SaveDefinition(ctx context.Context, userID, name string, bp *Blueprint) (store.Definition, error) {
	if issues := Validate(bp, s.registry()); len(issues) > 0 {
		return store.Definition{}, &Error{
			Kind:    KindValidation,
			Message: "blueprint failed validation",
			Details: map[string]any{"issues": issues},
		}
	}

	data, err := json.Marshal(bp)
	if err != nil {
		return store.Definition{}, Errorf(KindValidation, "blueprint is not serializable")
	}

	now := time.Now().UTC()
	def := store.Definition{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Blueprint: data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Definitions.Save(ctx, def); err != nil {
		return store.Definition{}, Wrap(err)
	}
	if s.Cache != nil {
		s.Cache.Invalidate(bp.Hash())
	}
	return def, nil
}

// GetDefinition returns a stored definition after an ownership check.
func (s *Service) GetDefinition(ctx context.Context, userID, id string) (store.Definition, error) {
	def, err := s.Definitions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Definition{}, Errorf(KindNotFound, "definition %s not found", id)
		}
		return store.Definition{}, Wrap(err)
	}
	if def.UserID != userID {
		return store.Definition{}, Errorf(KindUnauthorized, "definition %s belongs to another user", id)
	}
	return def, nil
}

// DeleteDefinition removes a stored definition after an ownership
// check.
func (s *Service) DeleteDefinition(ctx context.Context, userID, id string) error {
	if _, err := s.GetDefinition(ctx, userID, id); err != nil {
		return err
	}
	if err := s.Definitions.Delete(ctx, id); err != nil {
		return Wrap(err)
	}
	return nil
}

// ListDefinitions returns the user's stored definitions.
func (s *Service) ListDefinitions(ctx context.Context, userID string) ([]store.Definition, error) {
	defs, err := s.Definitions.List(ctx, userID)
	if err != nil {
		return nil, Wrap(err)
	}
	return defs, nil
}

func (s *Service) registry() *NodeRegistry {
	if s.Registry != nil {
		return s.Registry
	}
	return DefaultRegistry()
}
