package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
	"github.com/flowgraph-dev/flowgraph/workflow/tool"
)

// ErrKind classifies a workflow failure. Every error surfaced to a caller
// carries exactly one kind.
type ErrKind string

const (
	// KindValidation means the blueprint or config failed structural or
	// semantic checks.
	KindValidation ErrKind = "ValidationError"

	// KindNotFound means a referenced template, definition, or
	// conversation is absent.
	KindNotFound ErrKind = "NotFound"

	// KindUnauthorized means the user lacks access to a referenced
	// resource.
	KindUnauthorized ErrKind = "Unauthorized"

	// KindConfig means a provider, model, or tool is unavailable or
	// incompatible.
	KindConfig ErrKind = "ConfigError"

	// KindLimit means a quota, step, tool-call, or loop bound was
	// exceeded.
	KindLimit ErrKind = "LimitError"

	// KindProvider means an LLM, tool, or retriever call failed.
	KindProvider ErrKind = "ProviderError"

	// KindTool means a tool invocation was refused or returned an error.
	KindTool ErrKind = "ToolError"

	// KindTimeout means the run's deadline expired.
	KindTimeout ErrKind = "TimeoutError"

	// KindCancelled means the run was cancelled.
	KindCancelled ErrKind = "CancelledError"

	// KindInternal means an invariant was violated. Never user-caused.
	KindInternal ErrKind = "InternalError"
)

// Error is the typed failure surfaced by every workflow operation.
//
// RunID, NodeID, and Stage are filled in by the error decorator as the
// failure propagates; callers construct errors with just a kind and
// message.
type Error struct {
	Kind      ErrKind        `json:"kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`

	RunID  string `json:"runId,omitempty"`
	NodeID string `json:"nodeId,omitempty"`
	Stage  string `json:"stage,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s at node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts an arbitrary error into a typed *Error, classifying by
// the underlying cause:
//
//   - context cancellation  -> CancelledError
//   - deadline expiry       -> TimeoutError
//   - provider failures     -> ProviderError (retryable flag preserved)
//   - tool failures         -> ToolError
//   - already-typed errors  -> returned as-is
//   - anything else         -> InternalError
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "deadline exceeded", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Message: "execution cancelled", Cause: err}
	}

	var provErr *model.ProviderError
	if errors.As(err, &provErr) {
		return &Error{
			Kind:      KindProvider,
			Message:   provErr.Message,
			Retryable: provErr.Retryable,
			Details:   map[string]any{"provider": provErr.Provider},
			Cause:     err,
		}
	}

	var toolErr *tool.Error
	if errors.As(err, &toolErr) {
		return &Error{
			Kind:    KindTool,
			Message: toolErr.Message,
			Details: map[string]any{"tool": toolErr.Tool},
			Cause:   err,
		}
	}

	return &Error{Kind: KindInternal, Message: err.Error(), Cause: err}
}

// Decorate wraps err and stamps run context onto it. Existing stamps are
// kept; decoration never overwrites what an inner frame recorded.
func Decorate(err error, runID, stage, nodeID string) *Error {
	typed := Wrap(err)
	if typed == nil {
		return nil
	}
	if typed.RunID == "" {
		typed.RunID = runID
	}
	if typed.Stage == "" {
		typed.Stage = stage
	}
	if typed.NodeID == "" {
		typed.NodeID = nodeID
	}
	return typed
}

// KindOf returns the kind err would surface with.
func KindOf(err error) ErrKind {
	typed := Wrap(err)
	if typed == nil {
		return ""
	}
	return typed.Kind
}

// IsRetryable reports whether err is a transient provider failure worth
// retrying. Only ProviderError carries the retryable flag; every other
// kind surfaces immediately.
func IsRetryable(err error) bool {
	typed := Wrap(err)
	return typed != nil && typed.Kind == KindProvider && typed.Retryable
}
