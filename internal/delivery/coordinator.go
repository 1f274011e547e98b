// Package delivery sequences message persistence before push notification.
// The coordinator guarantees the relay never announces a message that does
// not yet exist durably: a storage failure aborts the whole operation, while
// a publish failure is logged and swallowed because the write already
// succeeded and clients recover via polling.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
)

var (
	// ErrInvalidContent is returned for empty or oversized message bodies.
	ErrInvalidContent = errors.New("invalid message content")
	// ErrNotAParticipant is returned when the user is not a member of the
	// conversation (or the conversation does not exist).
	ErrNotAParticipant = errors.New("not a conversation participant")
	// ErrMessageNotFound is returned when deleting a message that does not
	// exist in the conversation.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotAllowed is returned when a user may see a message but not
	// delete it.
	ErrNotAllowed = errors.New("operation not allowed")
)

// Store is the subset of the data store the coordinator needs.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error)
	GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error)
	ListMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, limit int) ([]models.Message, error)
	DeleteMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error
}

// Publisher pushes a stored message to connected recipients. Implementations
// must not block on any single recipient.
type Publisher interface {
	Publish(conversationID uuid.UUID, msg *models.Message, recipients []uuid.UUID) error
}

// convLockStripes is the size of the fixed lock set. Conversations hash
// onto stripes, so memory stays constant no matter how many conversations
// come and go; two conversations sharing a stripe just serialize, which
// is harmless.
const convLockStripes = 64

// Coordinator is the glue between the store and the relay.
type Coordinator struct {
	store      Store
	relay      Publisher
	logger     zerolog.Logger
	maxContent int

	// Persist-then-publish is serialized per conversation so connected
	// recipients observe messages in persistence order.
	convLocks [convLockStripes]sync.Mutex
}

// NewCoordinator creates a Coordinator. maxContent bounds message length in
// bytes; zero means no bound.
func NewCoordinator(store Store, relay Publisher, logger zerolog.Logger, maxContent int) *Coordinator {
	return &Coordinator{
		store:      store,
		relay:      relay,
		logger:     logger,
		maxContent: maxContent,
	}
}

func (c *Coordinator) lockConversation(id uuid.UUID) *sync.Mutex {
	// UUIDs are uniformly random, so any byte picks a stripe fairly.
	return &c.convLocks[int(id[0])%convLockStripes]
}

// RecordAndDeliver validates, persists and then pushes a message. Push
// failure does not fail the operation; by the time publish runs the message
// is durable and reachable through the poll path.
func (c *Coordinator) RecordAndDeliver(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidContent)
	}
	if c.maxContent > 0 && len(content) > c.maxContent {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidContent, c.maxContent)
	}

	participants, err := c.store.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	var senderName string
	sender := false
	for _, p := range participants {
		if p.UserID == senderID {
			sender = true
			senderName = p.Name
			break
		}
	}
	if !sender {
		return nil, ErrNotAParticipant
	}

	l := c.lockConversation(conversationID)
	l.Lock()
	defer l.Unlock()

	msg, err := c.store.InsertMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	msg.SenderName = senderName
	metrics.MessagesStored.Inc()

	recipients := make([]uuid.UUID, len(participants))
	for i, p := range participants {
		recipients[i] = p.UserID
	}
	if err := c.relay.Publish(conversationID, msg, recipients); err != nil {
		metrics.PushDegraded.Inc()
		c.logger.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Str("message_id", msg.ID).
			Msg("push delivery degraded, clients will catch up via poll")
	}

	return msg, nil
}

// FetchSince returns messages with ID strictly after the cursor, in order.
// An empty cursor returns the full history. Safe to call repeatedly with
// the same cursor.
func (c *Coordinator) FetchSince(ctx context.Context, conversationID, userID uuid.UUID, afterID string, limit int) ([]models.Message, error) {
	ok, err := c.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, ErrNotAParticipant
	}
	msgs, err := c.store.ListMessagesAfter(ctx, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// RemoveMessage hard-deletes a message. Only the sender, or a group admin,
// may delete. There is no retraction push: other clients keep showing the
// message until their next full fetch.
func (c *Coordinator) RemoveMessage(ctx context.Context, conversationID, userID uuid.UUID, messageID string) error {
	ok, err := c.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotAParticipant
	}

	msg, err := c.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	if msg.SenderID != userID {
		conv, err := c.store.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			return ErrNotAParticipant
		}
		admin := false
		if conv.IsGroup {
			admin, err = c.store.IsAdmin(ctx, conversationID, userID)
			if err != nil {
				return fmt.Errorf("check admin: %w", err)
			}
		}
		if !admin {
			return ErrNotAllowed
		}
	}

	if err := c.store.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
