// Package relay implements in-memory fan-out of newly stored messages to
// connected websocket sessions, grouped into per-conversation delivery
// rooms. Room membership is derived from the store at connect time and is
// never authoritative: the relay can lose all state and clients recover by
// polling with their last-seen message ID.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
)

// Event is the wire frame pushed to connected sessions.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

// EventMessage is the only push event type: a newly stored message.
// Deletions are not pushed; clients observe them on their next poll.
const EventMessage = "message"

// Relay tracks connected sessions and their delivery rooms. All membership
// mutation happens through Connect/Disconnect under a single lock.
type Relay struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	users map[uuid.UUID]map[*Session]struct{}
	rooms map[uuid.UUID]map[*Session]struct{}
}

// New creates a Relay. It is constructed once in main and injected into the
// delivery coordinator; there is no package-level instance.
func New(logger zerolog.Logger) *Relay {
	return &Relay{
		logger: logger,
		users:  make(map[uuid.UUID]map[*Session]struct{}),
		rooms:  make(map[uuid.UUID]map[*Session]struct{}),
	}
}

// Connect registers a session under its user identity and joins it to one
// room per conversation. Reconnecting simply re-establishes membership.
func (r *Relay) Connect(s *Session, conversationIDs []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.users[s.userID] == nil {
		r.users[s.userID] = make(map[*Session]struct{})
	}
	r.users[s.userID][s] = struct{}{}

	for _, id := range conversationIDs {
		if r.rooms[id] == nil {
			r.rooms[id] = make(map[*Session]struct{})
		}
		r.rooms[id][s] = struct{}{}
		s.joined[id] = struct{}{}
	}

	metrics.WebsocketSessions.Inc()
	r.logger.Info().
		Str("user_id", s.userID.String()).
		Int("rooms", len(conversationIDs)).
		Msg("session connected")
}

// Disconnect removes the session from its user channel and all rooms.
// Rooms left empty are dropped; this is pure garbage collection.
func (r *Relay) Disconnect(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.users[s.userID]
	if !ok {
		return
	}
	if _, ok := sessions[s]; !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(r.users, s.userID)
	}

	for id := range s.joined {
		if room, ok := r.rooms[id]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(r.rooms, id)
			}
		}
	}

	s.close()
	metrics.WebsocketSessions.Dec()
	r.logger.Info().
		Str("user_id", s.userID.String()).
		Msg("session disconnected")
}

// Publish forwards a stored message to every connected session among the
// recipients that is a member of the conversation's room. It never blocks
// on a recipient and never fails the caller: sessions with a full send
// buffer are skipped and heal via polling, and recipients without a
// connected session silently receive nothing.
func (r *Relay) Publish(conversationID uuid.UUID, msg *models.Message, recipients []uuid.UUID) error {
	event := Event{
		Type:           EventMessage,
		ConversationID: conversationID.String(),
		Message:        msg,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	for _, userID := range recipients {
		for s := range r.users[userID] {
			if _, ok := room[s]; !ok {
				continue
			}
			select {
			case s.send <- payload:
				metrics.PushDelivered.Inc()
			default:
				// Slow consumer; the poll path catches it up.
				metrics.PushDropped.Inc()
				r.logger.Warn().
					Str("user_id", userID.String()).
					Str("message_id", msg.ID).
					Msg("send buffer full, dropping push")
			}
		}
	}
	return nil
}

// RoomSize returns the number of sessions in a conversation's room.
func (r *Relay) RoomSize(conversationID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// Close disconnects every session. Used at server shutdown.
func (r *Relay) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0)
	for _, set := range r.users {
		for s := range set {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.Disconnect(s)
	}
}
