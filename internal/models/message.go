package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is immutable once stored; deletion is the only mutation.
// IDs are ULIDs, so lexicographic order matches creation order and a
// message ID doubles as a poll cursor.
type Message struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
