package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-chat/parley/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates tables if they don't exist.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_group BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id UUID NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, password_hash, created_at
	`, uuid.New(), name, email, passwordHash).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SearchUsers finds users whose name or email contains the query,
// excluding the searching user.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE id != $1 AND (name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3
	`, exclude, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateConversation creates a conversation with its participants. The
// creator is flagged admin, which only matters for group conversations.
func (s *PostgresStore) CreateConversation(ctx context.Context, name string, isGroup bool, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	conv := &models.Conversation{}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, name, is_group)
		VALUES ($1, $2, $3)
		RETURNING id, name, is_group, created_at, updated_at
	`, uuid.New(), name, isGroup).Scan(
		&conv.ID,
		&conv.Name,
		&conv.IsGroup,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO participants (conversation_id, user_id, is_admin)
		VALUES ($1, $2, TRUE)
	`, conv.ID, creatorID); err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if id == creatorID {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO participants (conversation_id, user_id, is_admin)
			VALUES ($1, $2, FALSE)
			ON CONFLICT DO NOTHING
		`, conv.ID, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	conv.Participants, err = s.GetParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID, without participants.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_group, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID,
		&conv.Name,
		&conv.IsGroup,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// FindDirectConversation finds an existing non-group conversation that both
// users participate in. The duplicate check is deliberately limited to the
// 1:1 case; group conversations are never deduplicated.
func (s *PostgresStore) FindDirectConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.is_group, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.is_group = FALSE
		  AND EXISTS (SELECT 1 FROM participants WHERE conversation_id = c.id AND user_id = $1)
		  AND EXISTS (SELECT 1 FROM participants WHERE conversation_id = c.id AND user_id = $2)
		LIMIT 1
	`, userA, userB).Scan(
		&conv.ID,
		&conv.Name,
		&conv.IsGroup,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conv.Participants, err = s.GetParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser lists conversations the user participates in,
// most recently updated first.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.is_group, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
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
func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetParticipants returns the participant set of a conversation.
func (s *PostgresStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.user_id, u.name, p.is_admin
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY u.name
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.Name, &p.IsAdmin); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// IsParticipant reports whether the user is a member of the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// IsAdmin reports whether the user is an admin of the conversation.
func (s *PostgresStore) IsAdmin(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2 AND is_admin = TRUE)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// InsertMessage appends a message to a conversation and bumps the
// conversation's updated_at.
func (s *PostgresStore) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	now := time.Now().UTC()
	msg := &models.Message{
		ID:             newMessageID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = NOW() WHERE id = $1
	`, conversationID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID within a conversation.
func (s *PostgresStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1 AND m.conversation_id = $2
	`, messageID, conversationID).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessagesAfter returns messages with ID strictly greater than afterID
// in ascending ID order. An empty afterID returns the full history. The
// query is read-only, so repeated polls with the same cursor are idempotent.
func (s *PostgresStore) ListMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, u.name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND m.id > $2
		ORDER BY m.id ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, conversationID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message. Clients learn about the deletion on
// their next poll; there is no retraction push.
func (s *PostgresStore) DeleteMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE id = $1 AND conversation_id = $2
	`, messageID, conversationID)
	return err
}
