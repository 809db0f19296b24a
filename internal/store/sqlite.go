// ABOUTME: SQLite implementation of local conversation persistence using modernc.org/sqlite
// ABOUTME: Provides conversation/message storage with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversations in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
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
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			synced          INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			last_message_at TEXT,

			CHECK (status IN ('active', 'deleted'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id)
				ON UPDATE CASCADE ON DELETE CASCADE,
			chat_id         TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			feedback        TEXT NOT NULL DEFAULT '',
			synced          INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			UNIQUE (conversation_id, chat_id, role),
			CHECK (role IN ('user', 'assistant', 'system')),
			CHECK (feedback IN ('', 'up', 'down'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS pending_titles (
			conversation_id TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TEXT,
			created_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS promotions (
			conversation_id TEXT PRIMARY KEY,
			promoted_at     TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertConversation inserts or replaces a conversation row.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, title, status, synced, created_at, updated_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			synced = excluded.synced,
			updated_at = excluded.updated_at,
			last_message_at = excluded.last_message_at
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Title,
		conv.Status,
		boolToInt(conv.Synced),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
		formatTimePtr(conv.LastMessageAt),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	s.logger.Debug("upserted conversation", "id", conv.ID, "synced", conv.Synced)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, title, status, synced, created_at, updated_at, last_message_at
		FROM conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all non-deleted conversations, most recently
// updated first. Used to merge local placeholders into the sidebar.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT id, title, status, synced, created_at, updated_at, last_message_at
		FROM conversations
		WHERE status != 'deleted'
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and everything hanging off it.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	// Messages cascade; retry and ordering state go with the conversation.
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_titles WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting pending title: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotions WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting promotion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// Rekey migrates a conversation from a provisional id to its server id in
// one transaction: conversation row, messages (via cascade), pending title,
// and promotion stamp all move together.
// Returns ErrNotFound if the old id doesn't exist.
func (s *SQLiteStore) Rekey(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE conversations SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("rekeying conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE pending_titles SET conversation_id = ? WHERE conversation_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("rekeying pending title: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE promotions SET conversation_id = ? WHERE conversation_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("rekeying promotion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rekey: %w", err)
	}

	s.logger.Debug("rekeyed conversation", "old_id", oldID, "new_id", newID)
	return nil
}

// UpsertMessage inserts a message, or updates content, feedback, and the
// synced flag when the same exchange side was already committed. An exchange
// is one chat_id with a user row and an assistant row; replaying a commit
// lands exactly once.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, chat_id, role, content, feedback, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, chat_id, role) DO UPDATE SET
			content = excluded.content,
			feedback = excluded.feedback,
			synced = excluded.synced
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.ChatID,
		msg.Role,
		msg.Content,
		msg.Feedback,
		boolToInt(msg.Synced),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}
	return nil
}

// ListMessages returns the messages of a conversation in creation order.
// A limit of 0 means no limit.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, chat_id, role, content, feedback, synced, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var synced int
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Feedback, &synced, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Synced = synced != 0
		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// HasUnsyncedMessages reports whether any message in the conversation has
// not reached the remote store yet.
func (s *SQLiteStore) HasUnsyncedMessages(ctx context.Context, conversationID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND synced = 0`,
		conversationID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting unsynced messages: %w", err)
	}
	return n > 0, nil
}

// SetMessageFeedback records feedback on an exchange's assistant reply.
// Returns ErrNotFound if the message doesn't exist, ErrInvalidFeedback if
// the value is outside the tri-state.
func (s *SQLiteStore) SetMessageFeedback(ctx context.Context, conversationID, chatID, feedback string) error {
	if !ValidFeedback(feedback) {
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, feedback)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET feedback = ? WHERE conversation_id = ? AND chat_id = ? AND role = 'assistant'`,
		feedback, conversationID, chatID,
	)
	if err != nil {
		return fmt.Errorf("updating feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPendingTitle records or refreshes a title retry entry.
func (s *SQLiteStore) UpsertPendingTitle(ctx context.Context, pending *PendingTitle) error {
	query := `
		INSERT INTO pending_titles (conversation_id, title, attempts, last_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			title = excluded.title,
			attempts = excluded.attempts,
			last_attempt_at = excluded.last_attempt_at
	`

	_, err := s.db.ExecContext(ctx, query,
		pending.ConversationID,
		pending.Title,
		pending.Attempts,
		formatTimePtr(pending.LastAttemptAt),
		formatTime(pending.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting pending title: %w", err)
	}
	return nil
}

// ListPendingTitles returns all title retry entries, oldest first.
func (s *SQLiteStore) ListPendingTitles(ctx context.Context) ([]*PendingTitle, error) {
	query := `
		SELECT conversation_id, title, attempts, last_attempt_at, created_at
		FROM pending_titles
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying pending titles: %w", err)
	}
	defer rows.Close()

	var pendings []*PendingTitle
	for rows.Next() {
		var p PendingTitle
		var lastAttempt sql.NullString
		var createdAtStr string
		if err := rows.Scan(&p.ConversationID, &p.Title, &p.Attempts, &lastAttempt, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning pending title: %w", err)
		}
		if lastAttempt.Valid {
			t, err := parseTime(lastAttempt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_attempt_at: %w", err)
			}
			p.LastAttemptAt = &t
		}
		p.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		pendings = append(pendings, &p)
	}
	return pendings, rows.Err()
}

// DeletePendingTitle removes a retry entry once the title landed remotely.
func (s *SQLiteStore) DeletePendingTitle(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_titles WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting pending title: %w", err)
	}
	return nil
}

// SavePromotion persists a promotion stamp.
func (s *SQLiteStore) SavePromotion(ctx context.Context, conversationID string, promotedAt time.Time) error {
	query := `
		INSERT INTO promotions (conversation_id, promoted_at)
		VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET promoted_at = excluded.promoted_at
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, formatTime(promotedAt)); err != nil {
		return fmt.Errorf("saving promotion: %w", err)
	}
	return nil
}

// ListPromotions returns all persisted promotion stamps.
func (s *SQLiteStore) ListPromotions(ctx context.Context) ([]*Promotion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, promoted_at FROM promotions`)
	if err != nil {
		return nil, fmt.Errorf("querying promotions: %w", err)
	}
	defer rows.Close()

	var promos []*Promotion
	for rows.Next() {
		var p Promotion
		var promotedAtStr string
		if err := rows.Scan(&p.ConversationID, &promotedAtStr); err != nil {
			return nil, fmt.Errorf("scanning promotion: %w", err)
		}
		p.PromotedAt, err = parseTime(promotedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing promoted_at: %w", err)
		}
		promos = append(promos, &p)
	}
	return promos, rows.Err()
}

// PurgePromotionsOlderThan removes promotion stamps past the age limit.
// Called at startup to bound table growth.
func (s *SQLiteStore) PurgePromotionsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-age))
	result, err := s.db.ExecContext(ctx, `DELETE FROM promotions WHERE promoted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging promotions: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if purged > 0 {
		s.logger.Info("purged stale promotions", "count", purged)
	}
	return purged, nil
}

// PurgeConversationsOlderThan deletes conversations not touched within the
// age limit, with their messages, pending titles, and promotion stamps.
// Called at startup to keep the local database bounded.
func (s *SQLiteStore) PurgeConversationsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-age))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	old := `SELECT id FROM conversations WHERE updated_at < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_titles WHERE conversation_id IN (`+old+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purging pending titles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotions WHERE conversation_id IN (`+old+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purging promotions: %w", err)
	}

	// Messages cascade with their conversation.
	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging conversations: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}
	if purged > 0 {
		s.logger.Info("purged old conversations", "count", purged)
	}
	return purged, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Timestamps are stored as RFC 3339 with sub-second precision so promotion
// ordering survives a round trip.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var synced int
	var createdAtStr, updatedAtStr string
	var lastMessage sql.NullString

	err := row.Scan(&conv.ID, &conv.Title, &conv.Status, &synced, &createdAtStr, &updatedAtStr, &lastMessage)
	if err != nil {
		return nil, err
	}

	conv.Synced = synced != 0
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastMessage.Valid {
		t, err := parseTime(lastMessage.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}
	return &conv, nil
}
