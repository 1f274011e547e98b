package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parley-chat/parley/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// fallback when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/parley.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_group INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		is_admin INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), name, email, passwordHash, now)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id.String())
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SearchUsers finds users whose name or email contains the query,
// excluding the searching user.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE id != ? AND (name LIKE '%' || ? || '%' OR email LIKE '%' || ? || '%')
		ORDER BY name
		LIMIT ?
	`, exclude.String(), query, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var idStr string
		if err := rows.Scan(&idStr, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateConversation creates a conversation with its participants.
func (s *SQLiteStore) CreateConversation(ctx context.Context, name string, isGroup bool, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.New()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, is_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), name, isGroup, now, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO participants (conversation_id, user_id, is_admin)
		VALUES (?, ?, 1)
	`, id.String(), creatorID.String()); err != nil {
		return nil, err
	}
	for _, mid := range memberIDs {
		if mid == creatorID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO participants (conversation_id, user_id, is_admin)
			VALUES (?, ?, 0)
		`, id.String(), mid.String()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:        id,
		Name:      name,
		IsGroup:   isGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conv.Participants, err = s.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID, without participants.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id.String()))
}

// FindDirectConversation finds an existing non-group conversation shared by
// both users. Deduplication is 1:1-only, matching conversation creation.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.is_group, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.is_group = 0
		  AND EXISTS (SELECT 1 FROM participants WHERE conversation_id = c.id AND user_id = ?)
		  AND EXISTS (SELECT 1 FROM participants WHERE conversation_id = c.id AND user_id = ?)
		LIMIT 1
	`, userA.String(), userB.String()))
	if err != nil || conv == nil {
		return conv, err
	}
	conv.Participants, err = s.GetParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr string
	err := row.Scan(&idStr, &conv.Name, &conv.IsGroup, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if conv.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser lists conversations the user participates in,
// most recently updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.is_group, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		convs[i].Participants, err = s.GetParticipants(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// DeleteConversation removes a conversation with its messages and
// participants.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM participants WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetParticipants returns the participant set of a conversation.
func (s *SQLiteStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.user_id, u.name, p.is_admin
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY u.name
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		var idStr string
		if err := rows.Scan(&idStr, &p.Name, &p.IsAdmin); err != nil {
			return nil, err
		}
		if p.UserID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// IsParticipant reports whether the user is a member of the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = ? AND user_id = ?)
	`, conversationID.String(), userID.String()).Scan(&ok)
	return ok, err
}

// IsAdmin reports whether the user is an admin of the conversation.
func (s *SQLiteStore) IsAdmin(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = ? AND user_id = ? AND is_admin = 1)
	`, conversationID.String(), userID.String()).Scan(&ok)
	return ok, err
}

// InsertMessage appends a message to a conversation and bumps the
// conversation's updated_at.
func (s *SQLiteStore) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	now := time.Now().UTC()
	msg := &models.Message{
		ID:             newMessageID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, conversationID.String(), senderID.String(), content, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID.String()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID within a conversation.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ? AND m.conversation_id = ?
	`, messageID, conversationID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var convStr, senderStr string
	err := row.Scan(&msg.ID, &convStr, &senderStr, &msg.SenderName, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID, err = uuid.Parse(convStr); err != nil {
		return nil, err
	}
	if msg.SenderID, err = uuid.Parse(senderStr); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessagesAfter returns messages with ID strictly greater than afterID
// in ascending ID order. An empty afterID returns the full history.
func (s *SQLiteStore) ListMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ? AND m.id > ?
		ORDER BY m.id ASC
		LIMIT ?
	`, conversationID.String(), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id = ? AND conversation_id = ?
	`, messageID, conversationID.String())
	return err
}
