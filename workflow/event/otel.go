package event

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceSubscriber is a Subscriber that records each event as an
// OpenTelemetry span.
//
// Each event becomes a span with:
//   - Span name: the event kind (e.g. "node_started", "usage_recorded")
//   - Attributes: run ID, node ID, and all payload fields
//   - Status: error when the payload carries an "error" entry
//
// Spans are ended immediately; events are points in time, not durations.
//
// Usage:
//
//	tracer := otel.Tracer("flowgraph")
//	bus.Subscribe(event.NewTraceSubscriber(tracer))
type TraceSubscriber struct {
	tracer trace.Tracer
}

// NewTraceSubscriber creates a TraceSubscriber over the given tracer.
func NewTraceSubscriber(tracer trace.Tracer) *TraceSubscriber {
	return &TraceSubscriber{tracer: tracer}
}

// Notify implements Subscriber.
func (t *TraceSubscriber) Notify(e Event) {
	_, span := t.tracer.Start(context.Background(), string(e.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("flowgraph.run_id", e.RunID),
		attribute.String("flowgraph.event_id", e.ID),
	)
	if e.NodeID != "" {
		span.SetAttributes(attribute.String("flowgraph.node_id", e.NodeID))
	}
	addPayloadAttributes(span, e.Payload)

	if errMsg := payloadError(e.Payload); errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// Flush forces export of pending spans. Call before shutdown so batched
// spans reach the backend.
func (t *TraceSubscriber) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// payloadError extracts a human-readable error from a payload. Failure
// events carry either a plain string or a {kind, message} map.
func payloadError(payload map[string]any) string {
	switch v := payload["error"].(type) {
	case string:
		return v
	case map[string]any:
		msg, _ := v["message"].(string)
		if kind, _ := v["kind"].(string); kind != "" && msg != "" {
			return kind + ": " + msg
		}
		return msg
	}
	return ""
}

// addPayloadAttributes converts payload entries to span attributes.
//
// Token accounting keys are mapped onto the flowgraph.llm namespace so
// dashboards can aggregate them across services.
func addPayloadAttributes(span trace.Span, payload map[string]any) {
	for key, value := range payload {
		attrKey := key
		switch key {
		case "input_tokens":
			attrKey = "flowgraph.llm.input_tokens"
		case "output_tokens":
			attrKey = "flowgraph.llm.output_tokens"
		case "cost_usd":
			attrKey = "flowgraph.llm.cost_usd"
		case "model":
			attrKey = "flowgraph.llm.model"
		case "duration_ms":
			attrKey = "flowgraph.node.duration_ms"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
