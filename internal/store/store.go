package store

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/parley-chat/parley/internal/models"
)

// DataStore defines the interface for persistent storage of users,
// conversations and messages. Both PostgresStore and SQLiteStore implement
// this interface. Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.User, error)

	// Conversation operations
	CreateConversation(ctx context.Context, name string, isGroup bool, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	// Message operations
	InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error)
	GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error)
	ListMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, limit int) ([]models.Message, error)
	DeleteMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newMessageID generates a ULID for a message. The monotonic entropy source
// keeps IDs generated within the same millisecond strictly increasing, so
// ordering a conversation by ID is a total order with no timestamp ties.
func newMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
