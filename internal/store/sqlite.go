// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The sealer encrypts provider
// credentials at rest; pass nil to store them in the clear (tests only).
func NewSQLiteStore(path string, sealer *Sealer) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			title         TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_updated
			ON chat_sessions(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			role             TEXT NOT NULL,
			content          TEXT NOT NULL DEFAULT '',
			thinking         TEXT NOT NULL DEFAULT '',
			usage_json       TEXT,
			streaming_status TEXT NOT NULL DEFAULT 'completed',
			created_at       TEXT NOT NULL,

			FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant')),
			CHECK (streaming_status IN ('streaming', 'completed', 'interrupted'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON chat_messages(session_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_session_status
			ON chat_messages(session_id, streaming_status);

		CREATE TABLE IF NOT EXISTS ai_providers (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			name        TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT 'text',
			base_url    TEXT NOT NULL,
			model       TEXT NOT NULL,
			api_key     TEXT NOT NULL,
			temperature REAL NOT NULL DEFAULT 0.7,
			max_tokens  INTEGER NOT NULL DEFAULT 1000,
			is_active   INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (category IN ('text', 'image'))
		);

		CREATE INDEX IF NOT EXISTS idx_providers_user_category
			ON ai_providers(user_id, category, is_active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateSession creates a new chat session.
// Returns ErrDuplicateSession if a session with the same ID already exists.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, title, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Title,
		session.MessageCount,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, user_id, title, message_count, created_at, updated_at
		FROM chat_sessions
		WHERE id = ?
	`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&session.MessageCount,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &session, nil
}

// ListSessions retrieves a user's sessions ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, title, message_count, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Title,
			&session.MessageCount,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		session.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// RenameSession updates a session's title and refreshes its activity timestamp.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, title string) error {
	query := `UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, title, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("renamed session", "id", id)
	return nil
}

// DeleteSession removes a session and all of its messages.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	// Messages go first: the cascade only fires when foreign_keys is on,
	// and an explicit delete keeps the behavior driver-independent.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting session messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// CompleteExchange bumps the message count by two and refreshes the activity
// timestamp. Called by the job manager when a generation completes normally.
func (s *SQLiteStore) CompleteExchange(ctx context.Context, id string) error {
	query := `
		UPDATE chat_sessions
		SET message_count = message_count + 2, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating session counters: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveUserMessage persists a user-role message. User messages are always
// stored already completed.
func (s *SQLiteStore) SaveUserMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO chat_messages (id, session_id, role, content, thinking, streaming_status, created_at)
		VALUES (?, ?, 'user', ?, '', 'completed', ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting user message: %w", err)
	}

	s.logger.Debug("saved user message", "id", msg.ID, "session_id", msg.SessionID)
	return nil
}

// CreatePlaceholder inserts an empty assistant message in streaming state and
// returns it. This is the row a generation job appends to.
func (s *SQLiteStore) CreatePlaceholder(ctx context.Context, sessionID string) (*Message, error) {
	msg := &Message{
		ID:              newID(),
		SessionID:       sessionID,
		Role:            RoleAssistant,
		StreamingStatus: StatusStreaming,
		CreatedAt:       time.Now().UTC(),
	}

	query := `
		INSERT INTO chat_messages (id, session_id, role, content, thinking, streaming_status, created_at)
		VALUES (?, ?, 'assistant', '', '', 'streaming', ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting placeholder: %w", err)
	}

	s.logger.Debug("created placeholder", "id", msg.ID, "session_id", sessionID)
	return msg, nil
}

// AppendDelta appends one delta's worth of content and thinking text to a
// message. Each call is flushed immediately so a crash loses at most the
// in-flight chunk, never accumulated progress.
func (s *SQLiteStore) AppendDelta(ctx context.Context, messageID, content, thinking string) error {
	query := `
		UPDATE chat_messages
		SET content = content || ?, thinking = thinking || ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, content, thinking, messageID)
	if err != nil {
		return fmt.Errorf("appending delta: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// FinalizeMessage transitions a streaming message to a terminal status.
// The transition is idempotent to the first writer: a message that has
// already settled is left untouched and false is returned. usage may be
// empty; when set it is stored as the message's token-usage JSON.
func (s *SQLiteStore) FinalizeMessage(ctx context.Context, messageID, status, usage string) (bool, error) {
	if status != StatusCompleted && status != StatusInterrupted {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}

	query := `
		UPDATE chat_messages
		SET streaming_status = ?, usage_json = COALESCE(NULLIF(?, ''), usage_json)
		WHERE id = ? AND streaming_status = 'streaming'
	`

	result, err := s.db.ExecContext(ctx, query, status, usage, messageID)
	if err != nil {
		return false, fmt.Errorf("finalizing message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("finalized message", "id", messageID, "status", status)
	}
	return rowsAffected > 0, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, session_id, role, content, thinking, usage_json, streaming_status, created_at
		FROM chat_messages
		WHERE id = ?
	`
	return scanMessageRow(s.db.QueryRowContext(ctx, query, id))
}

func scanMessageRow(row *sql.Row) (*Message, error) {
	var msg Message
	var usage sql.NullString
	var createdAtStr string

	err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.Role,
		&msg.Content,
		&msg.Thinking,
		&usage,
		&msg.StreamingStatus,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	if usage.Valid {
		msg.Usage = usage.String
	}
	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// ListMessages retrieves a session's messages in chronological order.
// If limit is 0 or negative, a default limit of 1000 is used.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	return s.listMessages(ctx, sessionID, limit, false)
}

// ListSettledMessages retrieves only completed and interrupted messages,
// chronological order. Used to build generation history without picking up
// the in-flight placeholder.
func (s *SQLiteStore) ListSettledMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	return s.listMessages(ctx, sessionID, limit, true)
}

func (s *SQLiteStore) listMessages(ctx context.Context, sessionID string, limit int, settledOnly bool) ([]*Message, error) {
	if limit <= 0 {
		limit = 1000
	}

	statusFilter := ""
	if settledOnly {
		statusFilter = `AND streaming_status IN ('completed', 'interrupted')`
	}

	// The most recent N, returned in chronological order.
	query := fmt.Sprintf(`
		SELECT id, session_id, role, content, thinking, usage_json, streaming_status, created_at
		FROM (
			SELECT id, session_id, role, content, thinking, usage_json, streaming_status, created_at
			FROM chat_messages
			WHERE session_id = ? %s
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, statusFilter)

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var usage sql.NullString
		var createdAtStr string

		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Role,
			&msg.Content,
			&msg.Thinking,
			&usage,
			&msg.StreamingStatus,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if usage.Valid {
			msg.Usage = usage.String
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// FindStreaming returns the session's message in streaming state, if any.
// Returns ErrNotFound when no message is streaming.
func (s *SQLiteStore) FindStreaming(ctx context.Context, sessionID string) (*Message, error) {
	return s.findByStatus(ctx, sessionID, StatusStreaming)
}

// FindInterrupted returns the session's most recent interrupted message, if any.
// Returns ErrNotFound when none exists.
func (s *SQLiteStore) FindInterrupted(ctx context.Context, sessionID string) (*Message, error) {
	return s.findByStatus(ctx, sessionID, StatusInterrupted)
}

func (s *SQLiteStore) findByStatus(ctx context.Context, sessionID, status string) (*Message, error) {
	query := `
		SELECT id, session_id, role, content, thinking, usage_json, streaming_status, created_at
		FROM chat_messages
		WHERE session_id = ? AND streaming_status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanMessageRow(s.db.QueryRowContext(ctx, query, sessionID, status))
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
