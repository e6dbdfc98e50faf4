package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements every persistence port on a single-file SQLite
// database.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments
//   - Prototyping before migrating to MySQL
//
// WAL mode is enabled so readers are not blocked by the single writer.
//
// Schema:
//   - conversation_messages: persisted chat messages
//   - conversation_aggregates: per-conversation rolling totals
//   - workflow_executions: one row per run
//   - workflow_definitions: durable blueprints
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Use ":memory:" for an in-memory database (data lost on close).
//
// The store creates the database file and required tables on first use,
// enables WAL mode, and sets a 5 second busy timeout.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT NOT NULL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON conversation_messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_aggregates (
			conversation_id TEXT NOT NULL PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			last_active_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			id TEXT NOT NULL PRIMARY KEY,
			blueprint_ref TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_user
			ON workflow_executions(user_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS workflow_definitions (
			id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			blueprint TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_definitions_user
			ON workflow_definitions(user_id, name)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Append implements MessageStore.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, msg Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `
		INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, conversationID, msg.Role, msg.Content, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages implements MessageStore.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var (
			msg       Message
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return out, nil
}

// UpdateAggregates implements ConversationStore.
func (s *SQLiteStore) UpdateAggregates(ctx context.Context, conversationID string, delta AggregateDelta) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_aggregates (conversation_id, message_count, tokens, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			message_count = message_count + excluded.message_count,
			tokens = tokens + excluded.tokens,
			last_active_at = MAX(COALESCE(last_active_at, ''), excluded.last_active_at)
	`
	lastActive := delta.LastActiveAt
	if lastActive.IsZero() {
		lastActive = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		conversationID, delta.Messages, delta.Tokens, lastActive.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to update aggregates: %w", err)
	}
	return nil
}

// Create implements ExecutionStore.
func (s *SQLiteStore) Create(ctx context.Context, rec Execution) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions
			(id, blueprint_ref, user_id, status, started_at, finished_at, tokens, cost, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.BlueprintRef, rec.UserID, string(rec.Status),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), formatNullableTime(rec.FinishedAt),
		rec.Tokens, rec.Cost, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Update implements ExecutionStore.
func (s *SQLiteStore) Update(ctx context.Context, rec Execution) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET blueprint_ref = ?, user_id = ?, status = ?, started_at = ?,
			finished_at = ?, tokens = ?, cost = ?, error = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.BlueprintRef, rec.UserID, string(rec.Status),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), formatNullableTime(rec.FinishedAt),
		rec.Tokens, rec.Cost, rec.Error, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements ExecutionStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Execution, error) {
	if err := s.checkOpen(); err != nil {
		return Execution{}, err
	}

	query := `
		SELECT id, blueprint_ref, user_id, status, started_at, finished_at, tokens, cost, error
		FROM workflow_executions
		WHERE id = ?
	`
	rec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("failed to load execution: %w", err)
	}
	return rec, nil
}

// List implements ExecutionStore.
func (s *SQLiteStore) List(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, blueprint_ref, user_id, status, started_at, finished_at, tokens, cost, error
		FROM workflow_executions
		WHERE 1=1
	`
	var args []any
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return out, nil
}

// Save implements DefinitionStore.
func (s *SQLiteStore) Save(ctx context.Context, def Definition) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := def.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO workflow_definitions (id, user_id, name, blueprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			blueprint = excluded.blueprint,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		def.ID, def.UserID, def.Name, string(def.Blueprint),
		createdAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

// GetDefinition returns a stored definition by id.
func (s *SQLiteStore) GetDefinition(ctx context.Context, id string) (Definition, error) {
	if err := s.checkOpen(); err != nil {
		return Definition{}, err
	}

	query := `
		SELECT id, user_id, name, blueprint, created_at, updated_at
		FROM workflow_definitions
		WHERE id = ?
	`
	var (
		def       Definition
		blueprint string
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&def.ID, &def.UserID, &def.Name, &blueprint, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	if err != nil {
		return Definition{}, fmt.Errorf("failed to load definition: %w", err)
	}
	def.Blueprint = []byte(blueprint)
	def.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	def.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return def, nil
}

// DeleteDefinition removes a stored definition.
func (s *SQLiteStore) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDefinitions returns a user's definitions ordered by name.
func (s *SQLiteStore) ListDefinitions(ctx context.Context, userID string) ([]Definition, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, name, blueprint, created_at, updated_at
		FROM workflow_definitions
		WHERE user_id = ?
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Definition
	for rows.Next() {
		var (
			def       Definition
			blueprint string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&def.ID, &def.UserID, &def.Name, &blueprint, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition row: %w", err)
		}
		def.Blueprint = []byte(blueprint)
		def.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		def.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definition rows: %w", err)
	}
	return out, nil
}

// Definitions returns the store's DefinitionStore view.
func (s *SQLiteStore) Definitions() DefinitionStore {
	return sqliteDefinitions{s}
}

type sqliteDefinitions struct {
	s *SQLiteStore
}

func (d sqliteDefinitions) Save(ctx context.Context, def Definition) error {
	return d.s.Save(ctx, def)
}

func (d sqliteDefinitions) Get(ctx context.Context, id string) (Definition, error) {
	return d.s.GetDefinition(ctx, id)
}

func (d sqliteDefinitions) Delete(ctx context.Context, id string) error {
	return d.s.DeleteDefinition(ctx, id)
}

func (d sqliteDefinitions) List(ctx context.Context, userID string) ([]Definition, error) {
	return d.s.ListDefinitions(ctx, userID)
}

// Close closes the database connection. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (Execution, error) {
	var (
		rec        Execution
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.BlueprintRef, &rec.UserID, &status,
		&startedAt, &finishedAt, &rec.Tokens, &rec.Cost, &rec.Error)
	if err != nil {
		return Execution{}, err
	}
	rec.Status = Status(status)
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid && finishedAt.String != "" {
		t, perr := time.Parse(time.RFC3339Nano, finishedAt.String)
		if perr == nil {
			rec.FinishedAt = &t
		}
	}
	return rec, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
