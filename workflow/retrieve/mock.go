package retrieve

import (
	"context"
	"sync"
)

// MockRetriever is a test implementation of Retriever.
//
// It returns scripted chunk sets in order, repeating the last set once the
// script is exhausted, and records every query for assertions.
type MockRetriever struct {
	// Results contains the sequence of chunk sets to return.
	Results [][]Chunk

	// Err, if set, is returned by Query instead of a result.
	Err error

	// Queries tracks the history of all Query invocations.
	Queries []MockQuery

	mu        sync.Mutex
	callIndex int
}

// MockQuery records a single invocation of Query.
type MockQuery struct {
	Text   string
	Filter Filter
}

// Query implements Retriever.
func (m *MockRetriever) Query(ctx context.Context, text string, filter Filter) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Queries = append(m.Queries, MockQuery{Text: text, Filter: filter})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Results) == 0 {
		return nil, nil
	}

	idx := m.callIndex
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	} else {
		m.callIndex++
	}
	return m.Results[idx], nil
}

// CallCount returns the number of queries made so far.
func (m *MockRetriever) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}
