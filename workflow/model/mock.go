package model

import (
	"context"
	"sync"
)

// MockProvider is a scripted test implementation of Provider.
//
// Use it to verify executor behavior without real LLM calls. It provides:
//   - A fixed sequence of replies (the last one repeats when exhausted)
//   - Per-reply token chunks for streaming tests
//   - Error injection
//   - Call history tracking
//
// Example:
//
//	mock := &model.MockProvider{
//	    Replies: []model.Reply{
//	        {Message: model.Message{Role: model.RoleAssistant, Content: "hello"},
//	         Usage:   model.Usage{InputTokens: 3, OutputTokens: 2}},
//	    },
//	    Chunks: [][]string{{"he", "llo"}},
//	}
type MockProvider struct {
	// Replies is the sequence of replies to return, one per call.
	// When exhausted, the last reply repeats.
	Replies []Reply

	// Chunks optionally scripts the streamed tokens per call. When the
	// call index has no entry, Stream emits the reply content as a single
	// token.
	Chunks [][]string

	// Err, if set, is returned by every call instead of a reply.
	Err error

	// Calls records every invocation, streaming or unary.
	Calls []MockCall

	mu        sync.Mutex
	callIndex int
}

// MockCall records a single provider invocation.
type MockCall struct {
	Request   Request
	Streaming bool
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Reply, error) {
	reply, _, err := m.next(ctx, req, false)
	return reply, err
}

// Stream implements Provider. Scripted chunks are delivered in order; the
// context is checked between chunks so cancellation tests can interrupt
// mid-stream.
func (m *MockProvider) Stream(ctx context.Context, req Request, onToken TokenFunc) (Reply, error) {
	reply, chunks, err := m.next(ctx, req, true)
	if err != nil {
		return Reply{}, err
	}
	if onToken == nil {
		return reply, nil
	}

	if len(chunks) == 0 && reply.Message.Content != "" {
		chunks = []string{reply.Message.Content}
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		if err := onToken(chunk); err != nil {
			return Reply{}, err
		}
	}
	return reply, nil
}

func (m *MockProvider) next(ctx context.Context, req Request, streaming bool) (Reply, []string, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Request: req, Streaming: streaming})

	if m.Err != nil {
		return Reply{}, nil, m.Err
	}
	if len(m.Replies) == 0 {
		return Reply{}, nil, nil
	}

	idx := m.callIndex
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	} else {
		m.callIndex++
	}

	var chunks []string
	if idx < len(m.Chunks) {
		chunks = m.Chunks[idx]
	}
	return m.Replies[idx], chunks, nil
}

// Reset clears call history and restarts the reply sequence.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times the provider has been invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
