package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/flowgraph-dev/flowgraph/workflow/event"
	"github.com/flowgraph-dev/flowgraph/workflow/store"
)

// ExecutionRecorder is the persistence subscriber: it materializes
// execution records from lifecycle events. The executor never writes
// execution rows itself; this subscriber is the only writer, so the
// record reflects exactly what was published.
type ExecutionRecorder struct {
	Store store.ExecutionStore

	// WriteTimeout bounds each store write. Zero means 5 seconds.
	WriteTimeout time.Duration

	mu     sync.Mutex
	seen   map[string]struct{}
	tokens map[string]int
	cost   map[string]float64
}

// NewExecutionRecorder creates a recorder writing to the given store.
func NewExecutionRecorder(s store.ExecutionStore) *ExecutionRecorder {
	return &ExecutionRecorder{
		Store:  s,
		seen:   make(map[string]struct{}),
		tokens: make(map[string]int),
		cost:   make(map[string]float64),
	}
}

// Notify implements event.Subscriber.
func (r *ExecutionRecorder) Notify(ev event.Event) {
	switch ev.Kind {
	case event.ExecutionStarted:
		userID, _ := ev.Payload["user_id"].(string)
		ref, _ := ev.Payload["source"].(string)
		r.write(func(ctx context.Context) error {
			return r.Store.Create(ctx, store.Execution{
				ID:           ev.RunID,
				BlueprintRef: ref,
				UserID:       userID,
				Status:       store.StatusRunning,
				StartedAt:    ev.Timestamp,
			})
		})

	case event.UsageRecorded:
		r.recordUsage(ev)

	case event.ExecutionCompleted:
		tokens, cost := r.takeTotals(ev.RunID)
		if c, ok := payloadFloat(ev.Payload, "cost"); ok {
			cost = c
		}
		r.finish(ev, store.StatusCompleted, tokens, cost, "")

	case event.ExecutionFailed, event.ExecutionCancelled:
		status := store.StatusFailed
		if ev.Kind == event.ExecutionCancelled {
			status = store.StatusCancelled
		}
		tokens, cost := r.takeTotals(ev.RunID)
		r.finish(ev, status, tokens, cost, errorMessage(ev.Payload))
	}
}

// finish transitions the record to a terminal status. The record is
// read back and merged because Update replaces whole rows; the started
// fields must survive the transition.
func (r *ExecutionRecorder) finish(ev event.Event, status store.Status, tokens int, cost float64, errMsg string) {
	finished := ev.Timestamp
	r.write(func(ctx context.Context) error {
		rec, err := r.Store.Get(ctx, ev.RunID)
		if err != nil {
			return err
		}
		rec.Status = status
		rec.FinishedAt = &finished
		rec.Tokens = tokens
		rec.Cost = cost
		rec.Error = errMsg
		return r.Store.Update(ctx, rec)
	})
}

// recordUsage accumulates per-run token counts, deduplicating by event
// id so a redelivered usage event counts once.
func (r *ExecutionRecorder) recordUsage(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID != "" {
		if _, dup := r.seen[ev.ID]; dup {
			return
		}
		r.seen[ev.ID] = struct{}{}
	}
	input := payloadInt(ev.Payload, "input_tokens", "prompt_tokens")
	output := payloadInt(ev.Payload, "output_tokens", "completion_tokens")
	r.tokens[ev.RunID] += input + output
}

func (r *ExecutionRecorder) takeTotals(runID string) (int, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := r.tokens[runID]
	cost := r.cost[runID]
	delete(r.tokens, runID)
	delete(r.cost, runID)
	return tokens, cost
}

func (r *ExecutionRecorder) write(fn func(ctx context.Context) error) {
	timeout := r.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// Persistence failures must not disturb the publishing run.
	_ = fn(ctx)
}

// MetricsSubscriber feeds the Prometheus collectors from lifecycle
// events.
type MetricsSubscriber struct {
	Metrics *Metrics

	mu       sync.Mutex
	nodeFrom map[string]time.Time // runID+nodeID -> NodeStarted time
}

// NewMetricsSubscriber creates a subscriber recording into m.
func NewMetricsSubscriber(m *Metrics) *MetricsSubscriber {
	return &MetricsSubscriber{
		Metrics:  m,
		nodeFrom: make(map[string]time.Time),
	}
}

// Notify implements event.Subscriber.
func (s *MetricsSubscriber) Notify(ev event.Event) {
	m := s.Metrics
	if m == nil {
		return
	}

	switch ev.Kind {
	case event.ExecutionStarted:
		m.InflightRuns.Inc()

	case event.NodeStarted:
		s.mu.Lock()
		s.nodeFrom[ev.RunID+"/"+ev.NodeID] = ev.Timestamp
		s.mu.Unlock()

	case event.NodeCompleted, event.NodeFailed:
		key := ev.RunID + "/" + ev.NodeID
		s.mu.Lock()
		started, ok := s.nodeFrom[key]
		delete(s.nodeFrom, key)
		s.mu.Unlock()
		if ok {
			m.NodeLatency.Observe(ev.Timestamp.Sub(started).Seconds())
		}

	case event.UsageRecorded:
		m.TokensTotal.WithLabelValues("input").Add(float64(payloadInt(ev.Payload, "input_tokens", "prompt_tokens")))
		m.TokensTotal.WithLabelValues("output").Add(float64(payloadInt(ev.Payload, "output_tokens", "completion_tokens")))

	case event.ToolInvoked:
		m.ToolInvocationsTotal.Inc()

	case event.ExecutionCompleted:
		m.InflightRuns.Dec()
		m.ExecutionsTotal.WithLabelValues("completed").Inc()

	case event.ExecutionFailed:
		m.InflightRuns.Dec()
		m.ExecutionsTotal.WithLabelValues("failed").Inc()

	case event.ExecutionCancelled:
		m.InflightRuns.Dec()
		m.ExecutionsTotal.WithLabelValues("cancelled").Inc()
	}
}

func payloadFloat(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func errorMessage(payload map[string]any) string {
	errMap, ok := payload["error"].(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := errMap["kind"].(string)
	msg, _ := errMap["message"].(string)
	if kind != "" && msg != "" {
		return kind + ": " + msg
	}
	if msg != "" {
		return msg
	}
	return kind
}
