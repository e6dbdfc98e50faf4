// Package store defines the persistence ports the workflow core writes
// through: conversation messages, conversation aggregates, execution
// records, and durable workflow definitions.
//
// Implementations here cover in-memory (tests, prototyping), SQLite
// (single-process deployments), and MySQL (production).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Message is one persisted conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// AggregateDelta is the per-run increment applied to a conversation's
// rolling totals.
type AggregateDelta struct {
	Messages     int
	Tokens       int
	LastActiveAt time.Time
}

// Execution is the persisted record of one workflow run. It is created
// when the run starts and updated by event subscribers only; the executor
// itself never writes it.
type Execution struct {
	ID           string     `json:"id"`
	BlueprintRef string     `json:"blueprint_ref,omitempty"`
	UserID       string     `json:"user_id"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Tokens       int        `json:"tokens"`
	Cost         float64    `json:"cost"`
	Error        string     `json:"error,omitempty"`
}

// ExecutionFilter selects execution records for listing. Zero values mean
// no filter; set fields are combined with AND logic.
type ExecutionFilter struct {
	UserID string
	Status Status
	Since  time.Time
	Limit  int
}

// Definition is a workflow blueprint stored durably and referenced by id.
// Blueprint holds the serialized blueprint JSON.
type Definition struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Blueprint []byte    `json:"blueprint"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStore persists conversation messages.
type MessageStore interface {
	// Append adds a message to a conversation.
	Append(ctx context.Context, conversationID string, msg Message) error

	// Messages returns a conversation's messages in append order.
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}

// ConversationStore maintains per-conversation rolling aggregates.
type ConversationStore interface {
	// UpdateAggregates applies a delta to the conversation's totals,
	// creating the aggregate row if absent.
	UpdateAggregates(ctx context.Context, conversationID string, delta AggregateDelta) error
}

// ExecutionStore persists workflow execution records.
type ExecutionStore interface {
	// Create inserts a new execution record.
	Create(ctx context.Context, rec Execution) error

	// Update replaces an existing record. Returns ErrNotFound when the
	// record does not exist.
	Update(ctx context.Context, rec Execution) error

	// Get returns a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Execution, error)

	// List returns records matching the filter, most recent first.
	List(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
}

// DefinitionStore persists durable workflow definitions.
type DefinitionStore interface {
	// Save inserts or replaces a definition.
	Save(ctx context.Context, def Definition) error

	// Get returns a definition by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Definition, error)

	// Delete removes a definition. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// List returns a user's definitions ordered by name.
	List(ctx context.Context, userID string) ([]Definition, error)
}
