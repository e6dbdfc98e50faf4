package workflow

import "sync"

// Totals is the run-level token and cost accounting.
type Totals struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Cost             float64 `json:"cost"`
	ModelCalls       int     `json:"modelCalls"`
}

// Aggregator folds per-step usage reports into run totals.
//
// Reports are keyed by event id so redelivered events count once. The
// aggregator accepts both the inputTokens/outputTokens and the
// promptTokens/completionTokens spellings because usage payloads cross a
// JSON boundary on some paths and arrive as float64.
type Aggregator struct {
	pricing PriceTable

	mu     sync.Mutex
	seen   map[string]struct{}
	totals Totals
}

// NewAggregator creates an Aggregator priced by the given table. A nil
// table aggregates tokens without cost.
func NewAggregator(pricing PriceTable) *Aggregator {
	return &Aggregator{
		pricing: pricing,
		seen:    make(map[string]struct{}),
	}
}

// Record folds one usage report into the totals. Duplicate event ids are
// ignored. Returns true when the report was counted.
func (a *Aggregator) Record(eventID, model string, payload map[string]any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if eventID != "" {
		if _, dup := a.seen[eventID]; dup {
			return false
		}
		a.seen[eventID] = struct{}{}
	}

	input := payloadInt(payload, "input_tokens", "inputTokens", "prompt_tokens", "promptTokens")
	output := payloadInt(payload, "output_tokens", "outputTokens", "completion_tokens", "completionTokens")

	a.totals.PromptTokens += input
	a.totals.CompletionTokens += output
	a.totals.TotalTokens += input + output
	a.totals.ModelCalls++
	if a.pricing != nil {
		a.totals.Cost += a.pricing.Cost(model, input, output)
	}
	return true
}

// Totals returns a snapshot of the run totals.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// payloadInt reads the first present key as an integer, accepting the
// int and float64 forms JSON decoding produces.
func payloadInt(payload map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}
