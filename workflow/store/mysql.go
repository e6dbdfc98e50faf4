package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements every persistence port on MySQL/MariaDB.
//
// Designed for:
//   - Production deployments with multiple workers
//   - Long-lived records that survive process restarts
//   - Audit trails and compliance requirements
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(localhost:3306)/flowgraph?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a MySQL-backed store, verifying connectivity and
// creating the schema on first use.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			conversation_id VARCHAR(64) NOT NULL,
			role VARCHAR(32) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_messages_conversation (conversation_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS conversation_aggregates (
			conversation_id VARCHAR(64) NOT NULL PRIMARY KEY,
			message_count INT NOT NULL DEFAULT 0,
			tokens BIGINT NOT NULL DEFAULT 0,
			last_active_at DATETIME(6) NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflow_executions (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			blueprint_ref VARCHAR(255) NOT NULL DEFAULT '',
			user_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at DATETIME(6) NOT NULL,
			finished_at DATETIME(6) NULL,
			tokens BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE NOT NULL DEFAULT 0,
			error TEXT,
			INDEX idx_executions_user (user_id, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflow_definitions (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			blueprint JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_definitions_user (user_id, name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Append implements MessageStore.
func (m *MySQLStore) Append(ctx context.Context, conversationID string, msg Message) error {
	if err := m.checkOpen(); err != nil {
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
	_, err := m.db.ExecContext(ctx, query, msg.ID, conversationID, msg.Role, msg.Content, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages implements MessageStore.
func (m *MySQLStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := m.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return out, nil
}

// UpdateAggregates implements ConversationStore.
func (m *MySQLStore) UpdateAggregates(ctx context.Context, conversationID string, delta AggregateDelta) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	lastActive := delta.LastActiveAt
	if lastActive.IsZero() {
		lastActive = time.Now()
	}
	query := `
		INSERT INTO conversation_aggregates (conversation_id, message_count, tokens, last_active_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			message_count = message_count + VALUES(message_count),
			tokens = tokens + VALUES(tokens),
			last_active_at = GREATEST(COALESCE(last_active_at, VALUES(last_active_at)), VALUES(last_active_at))
	`
	_, err := m.db.ExecContext(ctx, query, conversationID, delta.Messages, delta.Tokens, lastActive.UTC())
	if err != nil {
		return fmt.Errorf("failed to update aggregates: %w", err)
	}
	return nil
}

// Create implements ExecutionStore.
func (m *MySQLStore) Create(ctx context.Context, rec Execution) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions
			(id, blueprint_ref, user_id, status, started_at, finished_at, tokens, cost, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := m.db.ExecContext(ctx, query,
		rec.ID, rec.BlueprintRef, rec.UserID, string(rec.Status),
		rec.StartedAt.UTC(), nullableTime(rec.FinishedAt), rec.Tokens, rec.Cost, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Update implements ExecutionStore.
func (m *MySQLStore) Update(ctx context.Context, rec Execution) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET blueprint_ref = ?, user_id = ?, status = ?, started_at = ?,
			finished_at = ?, tokens = ?, cost = ?, error = ?
		WHERE id = ?
	`
	res, err := m.db.ExecContext(ctx, query,
		rec.BlueprintRef, rec.UserID, string(rec.Status),
		rec.StartedAt.UTC(), nullableTime(rec.FinishedAt), rec.Tokens, rec.Cost, rec.Error, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// MySQL reports zero affected rows for no-op updates too, so
		// confirm absence before reporting not found.
		if _, gerr := m.Get(ctx, rec.ID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
	}
	return nil
}

// Get implements ExecutionStore.
func (m *MySQLStore) Get(ctx context.Context, id string) (Execution, error) {
	if err := m.checkOpen(); err != nil {
		return Execution{}, err
	}

	query := `
		SELECT id, blueprint_ref, user_id, status, started_at, finished_at, tokens, cost, error
		FROM workflow_executions
		WHERE id = ?
	`
	var (
		rec        Execution
		status     string
		finishedAt sql.NullTime
		errText    sql.NullString
	)
	err := m.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.BlueprintRef, &rec.UserID, &status,
		&rec.StartedAt, &finishedAt, &rec.Tokens, &rec.Cost, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("failed to load execution: %w", err)
	}
	rec.Status = Status(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	rec.Error = errText.String
	return rec, nil
}

// List implements ExecutionStore.
func (m *MySQLStore) List(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	if err := m.checkOpen(); err != nil {
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
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		var (
			rec        Execution
			status     string
			finishedAt sql.NullTime
			errText    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.BlueprintRef, &rec.UserID, &status,
			&rec.StartedAt, &finishedAt, &rec.Tokens, &rec.Cost, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		rec.Status = Status(status)
		if finishedAt.Valid {
			t := finishedAt.Time
			rec.FinishedAt = &t
		}
		rec.Error = errText.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return out, nil
}

// Save implements DefinitionStore.
func (m *MySQLStore) Save(ctx context.Context, def Definition) error {
	if err := m.checkOpen(); err != nil {
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
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			name = VALUES(name),
			blueprint = VALUES(blueprint),
			updated_at = VALUES(updated_at)
	`
	_, err := m.db.ExecContext(ctx, query,
		def.ID, def.UserID, def.Name, string(def.Blueprint), createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

// GetDefinition returns a stored definition by id.
func (m *MySQLStore) GetDefinition(ctx context.Context, id string) (Definition, error) {
	if err := m.checkOpen(); err != nil {
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
	)
	err := m.db.QueryRowContext(ctx, query, id).Scan(
		&def.ID, &def.UserID, &def.Name, &blueprint, &def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	if err != nil {
		return Definition{}, fmt.Errorf("failed to load definition: %w", err)
	}
	def.Blueprint = []byte(blueprint)
	return def, nil
}

// DeleteDefinition removes a stored definition.
func (m *MySQLStore) DeleteDefinition(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = ?", id)
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
func (m *MySQLStore) ListDefinitions(ctx context.Context, userID string) ([]Definition, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, name, blueprint, created_at, updated_at
		FROM workflow_definitions
		WHERE user_id = ?
		ORDER BY name ASC
	`
	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Definition
	for rows.Next() {
		var (
			def       Definition
			blueprint string
		)
		if err := rows.Scan(&def.ID, &def.UserID, &def.Name, &blueprint, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition row: %w", err)
		}
		def.Blueprint = []byte(blueprint)
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definition rows: %w", err)
	}
	return out, nil
}

// Definitions returns the store's DefinitionStore view.
func (m *MySQLStore) Definitions() DefinitionStore {
	return mysqlDefinitions{m}
}

type mysqlDefinitions struct {
	m *MySQLStore
}

func (d mysqlDefinitions) Save(ctx context.Context, def Definition) error {
	return d.m.Save(ctx, def)
}

func (d mysqlDefinitions) Get(ctx context.Context, id string) (Definition, error) {
	return d.m.GetDefinition(ctx, id)
}

func (d mysqlDefinitions) Delete(ctx context.Context, id string) error {
	return d.m.DeleteDefinition(ctx, id)
}

func (d mysqlDefinitions) List(ctx context.Context, userID string) ([]Definition, error) {
	return d.m.ListDefinitions(ctx, userID)
}

// Close closes the database connection. Safe to call more than once.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
