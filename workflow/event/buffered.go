package event

import "sync"

// Recorder is a Subscriber that stores events in memory, organized by
// run ID, with query support.
//
// Useful for tests, debugging, and post-execution analysis. Everything is
// held in memory, so long-lived production processes should prefer a
// persistent subscriber or clear finished runs.
type Recorder struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events from a run's history. All set fields must
// match (AND logic); zero values mean no filter.
type HistoryFilter struct {
	NodeID string
	Kind   Kind
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]Event)}
}

// Notify implements Subscriber.
func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.RunID] = append(r.events[e.RunID], e)
}

// History returns all events recorded for a run, in publish order.
// The returned slice is a copy.
func (r *Recorder) History(runID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the run's events matching the filter, in
// publish order.
func (r *Recorder) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for _, e := range r.events[runID] {
		if filter.NodeID != "" && e.NodeID != filter.NodeID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		result = append(result, e)
	}
	if result == nil {
		return []Event{}
	}
	return result
}

// Kinds returns the ordered kind sequence of a run's events. Convenient
// for asserting causal order in tests.
func (r *Recorder) Kinds(runID string) []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[runID]
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Clear removes stored events. A non-empty runID clears only that run;
// an empty runID clears everything.
func (r *Recorder) Clear(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if runID == "" {
		r.events = make(map[string][]Event)
		return
	}
	delete(r.events, runID)
}
