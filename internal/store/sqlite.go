package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			is_title_set INTEGER NOT NULL DEFAULT 0,
			timestamp REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			group_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp REAL NOT NULL,
			files TEXT,
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON chat_messages(chat_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			fullname TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS connectors (
			user_id TEXT NOT NULL,
			connector_type TEXT NOT NULL,
			connector_id TEXT NOT NULL,
			PRIMARY KEY (user_id, connector_type)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_files (
			chat_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			name TEXT,
			PRIMARY KEY (chat_id, file_id),
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertChat bumps an existing chat's timestamp or creates a new one.
func (s *SQLiteStore) UpsertChat(ctx context.Context, userID, chatID string) (bool, *domain.Chat, error) {
	now := domain.NowTimestamp()

	if chatID != "" {
		res, err := s.db.ExecContext(ctx,
			`UPDATE chats SET timestamp = ? WHERE chat_id = ? AND user_id = ?`,
			now, chatID, userID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to update chat: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, nil, err
		}
		if affected == 0 {
			return false, nil, domain.ErrChatNotFound
		}
		chat, err := s.GetChat(ctx, userID, chatID)
		if err != nil {
			return false, nil, err
		}
		return false, chat, nil
	}

	chat := &domain.Chat{
		ChatID:    domain.NewID(),
		UserID:    userID,
		Title:     domain.DefaultChatTitle,
		Timestamp: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, user_id, title, is_title_set, timestamp) VALUES (?, ?, ?, 0, ?)`,
		chat.ChatID, chat.UserID, chat.Title, chat.Timestamp)
	if err != nil {
		return false, nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return true, chat, nil
}

// GetChat retrieves a chat owned by the user.
func (s *SQLiteStore) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, title, is_title_set, timestamp FROM chats WHERE chat_id = ? AND user_id = ?`,
		chatID, userID)

	var chat domain.Chat
	var titleSet int
	if err := row.Scan(&chat.ChatID, &chat.UserID, &chat.Title, &titleSet, &chat.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.TitleSet = titleSet != 0
	return &chat, nil
}

// UpdateChatTitle sets the chat title and marks it as set.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, userID, chatID, title string) (*domain.Chat, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, is_title_set = 1, timestamp = ? WHERE chat_id = ? AND user_id = ?`,
		title, domain.NowTimestamp(), chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update chat title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrChatNotFound
	}
	return s.GetChat(ctx, userID, chatID)
}

// CreateMessage persists a single message. Empty messages are rejected by
// the batch path; the user-message path trims before calling this.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.ChatMessage) error {
	content, files, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, chat_id, group_id, role, content, timestamp, files)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ChatID, msg.GroupID, string(msg.Role), content, msg.Timestamp, files)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// CreateMessages persists a batch of messages in one transaction, in order,
// skipping messages whose trimmed content is empty.
func (s *SQLiteStore) CreateMessages(ctx context.Context, msgs []domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chat_messages (message_id, chat_id, group_id, role, content, timestamp, files)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range msgs {
		msg := &msgs[i]
		if msg.Empty() {
			continue
		}
		content, files, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			msg.MessageID, msg.ChatID, msg.GroupID, string(msg.Role), content, msg.Timestamp, files); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// UpdateConfirmationApprove mutates a confirmation message in place with
// the final approval payload and returns the updated message.
func (s *SQLiteStore) UpdateConfirmationApprove(ctx context.Context, chatID, messageID string, c domain.Confirmation) (*domain.ChatMessage, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal confirmation: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET content = ?, timestamp = ?
		 WHERE message_id = ? AND chat_id = ? AND role = ?`,
		string(payload), domain.NowTimestamp(), messageID, chatID, string(domain.RoleConfirmation))
	if err != nil {
		return nil, fmt.Errorf("failed to update confirmation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrMissingConfirmationContext
	}
	return s.getMessage(ctx, messageID)
}

func (s *SQLiteStore) getMessage(ctx context.Context, messageID string) (*domain.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, chat_id, group_id, role, content, timestamp, files
		 FROM chat_messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrMissingConfirmationContext
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessages returns a page of messages for a chat, newest first. An
// unknown chat yields ErrChatNotFound rather than an empty page.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string, limit int, cursor string) (*domain.MessagePage, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chats WHERE chat_id = ?`, chatID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check chat: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `SELECT message_id, chat_id, group_id, role, content, timestamp, files
	          FROM chat_messages WHERE chat_id = ?`
	args := []any{chatID}
	if cursor != "" {
		// Cursor is a message id; continue strictly after it in scan order.
		query += ` AND timestamp < (SELECT timestamp FROM chat_messages WHERE message_id = ?)`
		args = append(args, cursor)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &domain.MessagePage{Total: total, Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.NextCursor = page.Messages[limit-1].MessageID
	}
	return page, nil
}

// GetChats returns a page of the user's chats, most recently active first.
func (s *SQLiteStore) GetChats(ctx context.Context, userID string, limit int, cursor string) (*domain.ChatPage, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count chats: %w", err)
	}

	query := `SELECT chat_id, user_id, title, is_title_set, timestamp FROM chats WHERE user_id = ?`
	args := []any{userID}
	if cursor != "" {
		query += ` AND timestamp < (SELECT timestamp FROM chats WHERE chat_id = ?)`
		args = append(args, cursor)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var chat domain.Chat
		var titleSet int
		if err := rows.Scan(&chat.ChatID, &chat.UserID, &chat.Title, &titleSet, &chat.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chat.TitleSet = titleSet != 0
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &domain.ChatPage{Total: total, Chats: chats}
	if len(chats) > limit {
		page.Chats = chats[:limit]
		page.NextCursor = page.Chats[limit-1].ChatID
	}
	return page, nil
}

// GetUserFullname returns the user's full name, or "" when unknown.
func (s *SQLiteStore) GetUserFullname(ctx context.Context, userID string) (string, error) {
	var fullname sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT fullname FROM users WHERE user_id = ?`, userID).Scan(&fullname)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return fullname.String, nil
}

// GetConnectors returns the user's linked external accounts.
func (s *SQLiteStore) GetConnectors(ctx context.Context, userID string) ([]domain.Connector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, connector_type, connector_id FROM connectors WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connectors: %w", err)
	}
	defer rows.Close()

	var connectors []domain.Connector
	for rows.Next() {
		var c domain.Connector
		if err := rows.Scan(&c.UserID, &c.ConnectorType, &c.ConnectorID); err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

// AddChatFiles records uploaded file references for a chat.
func (s *SQLiteStore) AddChatFiles(ctx context.Context, chatID string, files []domain.FileRef) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_files (chat_id, file_id, name) VALUES (?, ?, ?)`,
			chatID, f.FileID, f.Name); err != nil {
			return fmt.Errorf("failed to add chat file: %w", err)
		}
	}
	return nil
}

// GetChatFiles returns every file previously referenced in a chat.
func (s *SQLiteStore) GetChatFiles(ctx context.Context, chatID string) ([]domain.FileRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, name FROM chat_files WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat files: %w", err)
	}
	defer rows.Close()

	var files []domain.FileRef
	for rows.Next() {
		var f domain.FileRef
		var name sql.NullString
		if err := rows.Scan(&f.FileID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan chat file: %w", err)
		}
		f.Name = name.String
		files = append(files, f)
	}
	return files, rows.Err()
}

// encodeMessage serializes the content and files columns. Confirmation
// payloads are stored as JSON in the content column.
func encodeMessage(msg *domain.ChatMessage) (content string, files any, err error) {
	content = strings.TrimSpace(msg.Content)
	if msg.Role == domain.RoleConfirmation && msg.Confirmation != nil {
		raw, err := json.Marshal(msg.Confirmation)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal confirmation: %w", err)
		}
		content = string(raw)
	}
	if len(msg.Files) > 0 {
		raw, err := json.Marshal(msg.Files)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal files: %w", err)
		}
		return content, string(raw), nil
	}
	return content, nil, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	var role string
	var groupID, files sql.NullString
	if err := row.Scan(&msg.MessageID, &msg.ChatID, &groupID, &role, &msg.Content, &msg.Timestamp, &files); err != nil {
		return nil, err
	}
	msg.GroupID = groupID.String
	msg.Role = domain.ChatRole(role)
	if msg.Role == domain.RoleConfirmation && msg.Content != "" {
		var c domain.Confirmation
		if err := json.Unmarshal([]byte(msg.Content), &c); err == nil {
			msg.Confirmation = &c
			msg.Content = ""
		}
	}
	if files.Valid && files.String != "" {
		var refs []domain.FileRef
		if err := json.Unmarshal([]byte(files.String), &refs); err == nil {
			msg.Files = refs
		}
	}
	return &msg, nil
}
