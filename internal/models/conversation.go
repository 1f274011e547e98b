package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a direct (1:1) or group chat with a fixed participant set.
type Conversation struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name,omitempty"`
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `json:"participants,omitempty"`
}

// Participant ties a user to a conversation. IsAdmin is meaningful only
// when the conversation is a group.
type Participant struct {
	UserID  uuid.UUID `json:"user_id"`
	Name    string    `json:"name,omitempty"`
	IsAdmin bool      `json:"is_admin"`
}
