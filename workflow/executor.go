package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph-dev/flowgraph/workflow/event"
)

// Executor drives a prepared graph to completion through the staged
// pipeline: validate, enforce limits, publish start, prepare, init
// state, run graph, aggregate, persist, publish end. Any stage may
// short-circuit with a typed error; the decorator stamps the stage and
// run onto it before it surfaces.
//
// Unary and streaming execution share this code path entirely; they
// differ only in whether model token callbacks reach a frame sink.
type Executor struct {
	Preparer *Preparer
	Bus      *event.Bus
	Limiter  *Limiter
	Pricing  PriceTable
	Retry    RetryPolicy
	Results  *ResultProcessor
}

// Execute runs a workflow in unary mode: tokens are buffered and the
// caller receives the canonical result.
func (e *Executor) Execute(ctx context.Context, input Input) (*Result, error) {
	return e.run(ctx, input, discardFrames, false)
}

// Stream runs a workflow in streaming mode, delivering typed frames to
// the sink in production order. The returned result is identical to
// what Execute would produce for the same input.
func (e *Executor) Stream(ctx context.Context, input Input, sink FrameSink) (*Result, error) {
	if sink == nil {
		sink = discardFrames
	}
	return e.run(ctx, input, sink, true)
}

func (e *Executor) run(ctx context.Context, input Input, sink FrameSink, streaming bool) (*Result, error) {
	// Stage: validate. Config and inline blueprints are checked before
	// anything is published or admitted; a malformed request never
	// produces an ExecutionStarted event or an execution record.
	if issues := ValidateConfig(input.Config); len(issues) > 0 {
		return nil, Decorate(&Error{
			Kind:    KindValidation,
			Message: "config failed validation",
			Details: map[string]any{"issues": issues},
		}, "", "validate", "")
	}
	if input.Source.Kind == SourceInline {
		if issues := Validate(input.Source.Blueprint, e.registry()); len(issues) > 0 {
			return nil, Decorate(&Error{
				Kind:    KindValidation,
				Message: "blueprint failed validation",
				Details: map[string]any{"issues": issues},
			}, "", "validate", "")
		}
	}

	// Stage: enforce limits.
	if e.Limiter != nil {
		if input.Source.Kind == SourceInline {
			if err := e.Limiter.CheckBlueprintSize(input.Source.Blueprint); err != nil {
				return nil, Decorate(err, "", "limits", "")
			}
		}
		if err := e.Limiter.Acquire(input.UserID); err != nil {
			return nil, Decorate(err, "", "limits", "")
		}
		defer e.Limiter.Release(input.UserID)

		if d := e.Limiter.Limits().MaxRunDuration; d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	// Stage: publish start.
	e.publish(event.Event{
		RunID: runID,
		Kind:  event.ExecutionStarted,
		Payload: map[string]any{
			"user_id": input.UserID,
			"source":  string(input.Source.Kind),
		},
	})
	if err := sink(Frame{Type: FrameStart, RunID: runID}); err != nil {
		return nil, e.finishFailed(runID, sink, Decorate(err, runID, "start", ""))
	}

	// Stage: prepare.
	prepared, err := e.Preparer.Prepare(ctx, input)
	if err != nil {
		return nil, e.finishFailed(runID, sink, Decorate(err, runID, "prepare", ""))
	}
	if e.Limiter != nil && input.Source.Kind != SourceInline {
		if err := e.Limiter.CheckBlueprintSize(prepared.Blueprint); err != nil {
			return nil, e.finishFailed(runID, sink, Decorate(err, runID, "limits", ""))
		}
	}

	// Stage: init state.
	state := InitState(input, prepared.Config)
	aggregator := NewAggregator(e.Pricing)

	rt := &Runtime{
		RunID:     runID,
		Config:    prepared.Config,
		Provider:  prepared.Provider,
		Tools:     prepared.Tools,
		Retriever: prepared.Retriever,
	}
	if streaming {
		rt.OnToken = func(token string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.publish(event.Event{
				RunID:   runID,
				Kind:    event.TokenChunk,
				Payload: map[string]any{"token": token},
			})
			return sink(Frame{Type: FrameToken, Content: token})
		}
	}

	// Stage: run graph.
	if err := e.runGraph(ctx, prepared.Graph, rt, state, input, aggregator, sink); err != nil {
		typed := Decorate(err, runID, "run", "")
		if typed.Kind == KindCancelled || typed.Kind == KindTimeout {
			return nil, e.finishCancelled(runID, sink, typed)
		}
		return nil, e.finishFailed(runID, sink, typed)
	}

	// Stages: aggregate and persist.
	totals := aggregator.Totals()
	processor := e.Results
	if processor == nil {
		processor = &ResultProcessor{}
	}
	result, err := processor.Process(ctx, runID, input, state, totals, time.Since(startedAt))
	if err != nil {
		return nil, e.finishFailed(runID, sink, Decorate(err, runID, "persist", ""))
	}

	// Stage: publish end.
	e.publish(event.Event{
		RunID: runID,
		Kind:  event.ExecutionCompleted,
		Payload: map[string]any{
			"tokens":      totals.TotalTokens,
			"cost":        totals.Cost,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	})
	if err := sink(Frame{Type: FrameDone, Result: result}); err != nil {
		return nil, Decorate(err, runID, "end", "")
	}
	return result, nil
}

// runGraph walks the compiled graph from its start node, applying node
// deltas and publishing per-node events. Traversal within a run is
// single-threaded and deterministic.
func (e *Executor) runGraph(ctx context.Context, graph *CompiledGraph, rt *Runtime, state *ExecutionState, input Input, aggregator *Aggregator, sink FrameSink) error {
	current := graph.StartID()
	steps := 0

	for current != "" {
		if err := ctx.Err(); err != nil {
			return Wrap(err)
		}
		if e.Limiter != nil {
			if err := e.Limiter.CheckSteps(steps); err != nil {
				return Decorate(err, rt.RunID, "run", current)
			}
		}

		node, ok := graph.Node(current)
		if !ok {
			return Errorf(KindInternal, "edge points at unknown node %q", current)
		}

		e.publish(event.Event{RunID: rt.RunID, Kind: event.NodeStarted, NodeID: current})
		if rt.Config.Trace {
			if err := sink(Frame{Type: FrameNode, Name: current, Phase: "start"}); err != nil {
				return Wrap(err)
			}
		}

		nodeStart := time.Now()
		res := e.executeNode(ctx, node, rt, state)

		// The delta is applied even on failure so partial progress, a
		// tool call executed before a limit tripped, stays visible in
		// state and in the persisted record.
		state.Apply(res.Delta)
		state.ExecutionHistory = append(state.ExecutionHistory, current)

		if err := e.emitDeltaEvents(rt, input, res.Delta, aggregator, sink); err != nil {
			return Wrap(err)
		}

		duration := time.Since(nodeStart).Milliseconds()
		if res.Err != nil {
			typed := Decorate(res.Err, rt.RunID, "run", current)
			e.publish(event.Event{
				RunID:  rt.RunID,
				Kind:   event.NodeFailed,
				NodeID: current,
				Payload: map[string]any{
					"error":       map[string]any{"kind": string(typed.Kind), "message": typed.Message},
					"duration_ms": duration,
				},
			})

			if handler := e.findErrorHandler(graph, current); handler != "" &&
				typed.Kind != KindCancelled && typed.Kind != KindTimeout {
				state.ErrorState = &ErrorState{
					NodeID:  current,
					Kind:    typed.Kind,
					Message: typed.Message,
				}
				current = handler
				steps++
				continue
			}
			return typed
		}

		e.publish(event.Event{
			RunID:   rt.RunID,
			Kind:    event.NodeCompleted,
			NodeID:  current,
			Payload: map[string]any{"duration_ms": duration},
		})
		if rt.Config.Trace {
			if err := sink(Frame{Type: FrameNode, Name: current, Phase: "end"}); err != nil {
				return Wrap(err)
			}
		}

		next, ok := graph.Next(current, res.Label)
		if !ok {
			return nil
		}
		current = next
		steps++
	}
	return nil
}

// executeNode runs one node, retrying transient provider failures. The
// retry discards the failed attempt's delta; only the final attempt's
// result is applied.
func (e *Executor) executeNode(ctx context.Context, node Node, rt *Runtime, state *ExecutionState) NodeResult {
	var res NodeResult
	err := e.Retry.Do(ctx, func(ctx context.Context) error {
		res = node.Execute(ctx, rt, state)
		return res.Err
	})
	if err != nil && res.Err == nil {
		// Backoff was interrupted by cancellation.
		res = NodeResult{Err: err}
	}
	return res
}

// emitDeltaEvents publishes the usage and tool events a delta carries
// and forwards the matching frames.
func (e *Executor) emitDeltaEvents(rt *Runtime, input Input, d Delta, aggregator *Aggregator, sink FrameSink) error {
	if d.Usage != nil {
		modelName := d.UsageModel
		if modelName == "" {
			modelName = rt.Config.Model
		}
		payload := map[string]any{
			"input_tokens":  d.Usage.InputTokens,
			"output_tokens": d.Usage.OutputTokens,
			"model":         modelName,
		}
		id := e.publish(event.Event{
			RunID:   rt.RunID,
			Kind:    event.UsageRecorded,
			Payload: payload,
		})
		aggregator.Record(id, modelName, payload)
		if e.Limiter != nil {
			e.Limiter.RecordTokens(input.UserID, d.Usage.Total())
		}
		err := sink(Frame{
			Type:         FrameUsage,
			InputTokens:  d.Usage.InputTokens,
			OutputTokens: d.Usage.OutputTokens,
			TotalTokens:  d.Usage.Total(),
		})
		if err != nil {
			return err
		}
	}

	for _, inv := range d.ToolInvocations {
		e.publish(event.Event{
			RunID: rt.RunID,
			Kind:  event.ToolInvoked,
			Payload: map[string]any{
				"tool":    inv.Name,
				"ok":      inv.OK,
				"summary": inv.Summary,
			},
		})
		if err := sink(Frame{Type: FrameTool, Name: inv.Name, OK: inv.OK, Summary: inv.Summary}); err != nil {
			return err
		}
	}
	return nil
}

// findErrorHandler returns the nearest error-handler node reachable
// from the failing node, or empty when none exists. A failure inside an
// error handler never re-routes.
func (e *Executor) findErrorHandler(graph *CompiledGraph, from string) string {
	if n, ok := graph.Node(from); ok && n.Type() == TypeErrorHandler {
		return ""
	}

	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range graph.Outgoing(current) {
			if visited[edge.To] {
				continue
			}
			visited[edge.To] = true
			if n, ok := graph.Node(edge.To); ok && n.Type() == TypeErrorHandler {
				return edge.To
			}
			queue = append(queue, edge.To)
		}
	}
	return ""
}

// finishFailed publishes the terminal failure event and error frame,
// then returns the error for the caller.
func (e *Executor) finishFailed(runID string, sink FrameSink, typed *Error) error {
	e.publish(event.Event{
		RunID:  runID,
		Kind:   event.ExecutionFailed,
		NodeID: typed.NodeID,
		Payload: map[string]any{
			"error": map[string]any{
				"kind":    string(typed.Kind),
				"message": typed.Message,
			},
		},
	})
	_ = sink(Frame{Type: FrameError, Kind: typed.Kind, Message: typed.Message})
	return typed
}

// finishCancelled publishes the terminal cancellation event. Partial
// state reaches the execution record through the persistence
// subscriber; no assistant message is persisted.
func (e *Executor) finishCancelled(runID string, sink FrameSink, typed *Error) error {
	e.publish(event.Event{
		RunID:  runID,
		Kind:   event.ExecutionCancelled,
		NodeID: typed.NodeID,
		Payload: map[string]any{
			"error": map[string]any{
				"kind":    string(typed.Kind),
				"message": typed.Message,
			},
		},
	})
	_ = sink(Frame{Type: FrameError, Kind: typed.Kind, Message: typed.Message})
	return typed
}

// publish stamps an id and timestamp onto the event and delivers it.
// Returns the event id for consumers that deduplicate.
func (e *Executor) publish(ev event.Event) string {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	if e.Bus != nil {
		e.Bus.Publish(ev)
	}
	return ev.ID
}

func (e *Executor) registry() *NodeRegistry {
	if e.Preparer != nil && e.Preparer.Registry != nil {
		return e.Preparer.Registry
	}
	return DefaultRegistry()
}
