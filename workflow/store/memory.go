package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of every persistence port.
//
// Data is lost when the process exits. Intended for tests and
// prototyping; the SQLite and MySQL stores cover durable deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]Message
	aggregates    map[string]AggregateDelta
	executions    map[string]Execution
	executionSeq  []string
	definitions   map[string]Definition
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string][]Message),
		aggregates:  make(map[string]AggregateDelta),
		executions:  make(map[string]Execution),
		definitions: make(map[string]Definition),
	}
}

// Append implements MessageStore.
func (m *MemoryStore) Append(ctx context.Context, conversationID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ConversationID = conversationID
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return nil
}

// Messages implements MessageStore.
func (m *MemoryStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// UpdateAggregates implements ConversationStore.
func (m *MemoryStore) UpdateAggregates(ctx context.Context, conversationID string, delta AggregateDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := m.aggregates[conversationID]
	agg.Messages += delta.Messages
	agg.Tokens += delta.Tokens
	if delta.LastActiveAt.After(agg.LastActiveAt) {
		agg.LastActiveAt = delta.LastActiveAt
	}
	m.aggregates[conversationID] = agg
	return nil
}

// Aggregates returns a conversation's current totals. Test helper.
func (m *MemoryStore) Aggregates(conversationID string) AggregateDelta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregates[conversationID]
}

// Create implements ExecutionStore.
func (m *MemoryStore) Create(ctx context.Context, rec Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[rec.ID]; !exists {
		m.executionSeq = append(m.executionSeq, rec.ID)
	}
	m.executions[rec.ID] = rec
	return nil
}

// Update implements ExecutionStore.
func (m *MemoryStore) Update(ctx context.Context, rec Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[rec.ID]; !exists {
		return ErrNotFound
	}
	m.executions[rec.ID] = rec
	return nil
}

// Get implements ExecutionStore.
func (m *MemoryStore) Get(ctx context.Context, id string) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return rec, nil
}

// List implements ExecutionStore.
func (m *MemoryStore) List(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Execution
	// Walk newest first.
	for i := len(m.executionSeq) - 1; i >= 0; i-- {
		rec, ok := m.executions[m.executionSeq[i]]
		if !ok {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && rec.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Save implements DefinitionStore.
func (m *MemoryStore) Save(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	return nil
}

// GetDefinition implements DefinitionStore's Get. Named to avoid clashing
// with ExecutionStore.Get on the combined type; use the Definitions()
// accessor to obtain the DefinitionStore view.
func (m *MemoryStore) GetDefinition(ctx context.Context, id string) (Definition, error) {
	if err := ctx.Err(); err != nil {
		return Definition{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

// DeleteDefinition removes a stored definition.
func (m *MemoryStore) DeleteDefinition(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return ErrNotFound
	}
	delete(m.definitions, id)
	return nil
}

// ListDefinitions returns a user's definitions ordered by name.
func (m *MemoryStore) ListDefinitions(ctx context.Context, userID string) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Definition
	for _, def := range m.definitions {
		if userID != "" && def.UserID != userID {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Definitions returns the store's DefinitionStore view.
func (m *MemoryStore) Definitions() DefinitionStore {
	return memoryDefinitions{m}
}

// memoryDefinitions adapts MemoryStore's definition methods to the
// DefinitionStore interface.
type memoryDefinitions struct {
	m *MemoryStore
}

func (d memoryDefinitions) Save(ctx context.Context, def Definition) error {
	return d.m.Save(ctx, def)
}

func (d memoryDefinitions) Get(ctx context.Context, id string) (Definition, error) {
	return d.m.GetDefinition(ctx, id)
}

func (d memoryDefinitions) Delete(ctx context.Context, id string) error {
	return d.m.DeleteDefinition(ctx, id)
}

func (d memoryDefinitions) List(ctx context.Context, userID string) ([]Definition, error) {
	return d.m.ListDefinitions(ctx, userID)
}
