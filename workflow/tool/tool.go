// Package tool defines the executable-tool port and the registry the
// workflow executor invokes tools through.
package tool

import (
	"context"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

// Tool is an executable capability the model can request.
//
// Implementations should:
//   - Validate input parameters and return descriptive errors
//   - Respect context cancellation before expensive operations
//   - Return structured output as map[string]any
//   - Be idempotent when possible
type Tool interface {
	// Name returns the unique identifier for this tool, matching the
	// ToolSpec name the model sees (lowercase with underscores).
	Name() string

	// Spec describes the tool for the model: name, description, and a
	// JSON-schema parameter description.
	Spec() model.ToolSpec

	// Call executes the tool. Input may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Error is a refused or failed tool invocation.
type Error struct {
	Tool    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Tool != "" {
		return "tool " + e.Tool + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}
