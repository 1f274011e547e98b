package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/models"
)

// fakeStore is an in-memory Store for coordinator tests.
type fakeStore struct {
	conv         *models.Conversation
	participants []models.Participant
	admins       map[uuid.UUID]bool
	messages     []models.Message

	insertErr error
	nextID    int
}

func newFakeStore(isGroup bool, userIDs ...uuid.UUID) *fakeStore {
	fs := &fakeStore{
		conv: &models.Conversation{
			ID:      uuid.New(),
			IsGroup: isGroup,
		},
		admins: make(map[uuid.UUID]bool),
	}
	for i, id := range userIDs {
		fs.participants = append(fs.participants, models.Participant{
			UserID: id,
			Name:   fmt.Sprintf("user%d", i),
		})
	}
	return fs
}

func (fs *fakeStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if fs.conv != nil && fs.conv.ID == id {
		return fs.conv, nil
	}
	return nil, nil
}

func (fs *fakeStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	return fs.participants, nil
}

func (fs *fakeStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	for _, p := range fs.participants {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (fs *fakeStore) IsAdmin(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	return fs.admins[userID], nil
}

func (fs *fakeStore) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	if fs.insertErr != nil {
		return nil, fs.insertErr
	}
	fs.nextID++
	msg := models.Message{
		ID:             fmt.Sprintf("01TEST%020d", fs.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	fs.messages = append(fs.messages, msg)
	out := msg
	return &out, nil
}

func (fs *fakeStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	for _, m := range fs.messages {
		if m.ID == messageID {
			out := m
			return &out, nil
		}
	}
	return nil, nil
}

func (fs *fakeStore) ListMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range fs.messages {
		if m.ID > afterID {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (fs *fakeStore) DeleteMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error {
	for i, m := range fs.messages {
		if m.ID == messageID {
			fs.messages = append(fs.messages[:i], fs.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// recordingPublisher captures publishes; it can be told to fail.
type recordingPublisher struct {
	published  []*models.Message
	recipients [][]uuid.UUID
	err        error
}

func (p *recordingPublisher) Publish(conversationID uuid.UUID, msg *models.Message, recipients []uuid.UUID) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	p.recipients = append(p.recipients, recipients)
	return nil
}

func TestRecordAndDeliverPersistsThenPushes(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	fs := newFakeStore(false, alice, bob)
	pub := &recordingPublisher{}
	c := NewCoordinator(fs, pub, zerolog.Nop(), 4096)

	msg, err := c.RecordAndDeliver(context.Background(), fs.conv.ID, alice, "hello bob")
	if err != nil {
		t.Fatalf("RecordAndDeliver: %v", err)
	}
	if msg.SenderName != "user0" {
		t.Errorf("sender name = %q, want %q", msg.SenderName, "user0")
	}

	if len(fs.messages) != 1 {
		t.Fatalf("stored %d messages, want 1", len(fs.messages))
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if pub.published[0].ID != fs.messages[0].ID {
		t.Errorf("published ID %s does not match stored ID %s", pub.published[0].ID, fs.messages[0].ID)
	}
	if len(pub.recipients[0]) != 2 {
		t.Errorf("push went to %d recipients, want 2", len(pub.recipients[0]))
	}
}

func TestRecordAndDeliverSurvivesPushFailure(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	pub := &recordingPublisher{err: errors.New("relay down")}
	c := NewCoordinator(fs, pub, zerolog.Nop(), 4096)

	msg, err := c.RecordAndDeliver(context.Background(), fs.conv.ID, alice, "still stored")
	if err != nil {
		t.Fatalf("push failure must not fail the send: %v", err)
	}
	if len(fs.messages) != 1 || fs.messages[0].ID != msg.ID {
		t.Error("message was not persisted despite push failure")
	}
}

func TestRecordAndDeliverStorageFailureSkipsPush(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	fs.insertErr = errors.New("disk full")
	pub := &recordingPublisher{}
	c := NewCoordinator(fs, pub, zerolog.Nop(), 4096)

	_, err := c.RecordAndDeliver(context.Background(), fs.conv.ID, alice, "doomed")
	if err == nil {
		t.Fatal("expected storage error")
	}
	if len(pub.published) != 0 {
		t.Error("publish happened for a message that was never stored")
	}
}

func TestRecordAndDeliverRejectsInvalidContent(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	pub := &recordingPublisher{}
	c := NewCoordinator(fs, pub, zerolog.Nop(), 10)

	cases := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"oversized", strings.Repeat("x", 11)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.RecordAndDeliver(context.Background(), fs.conv.ID, alice, tc.content)
			if !errors.Is(err, ErrInvalidContent) {
				t.Fatalf("err = %v, want ErrInvalidContent", err)
			}
		})
	}
	if len(fs.messages) != 0 || len(pub.published) != 0 {
		t.Error("invalid content left side effects")
	}
}

func TestRecordAndDeliverRejectsNonParticipant(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	pub := &recordingPublisher{}
	c := NewCoordinator(fs, pub, zerolog.Nop(), 4096)

	_, err := c.RecordAndDeliver(context.Background(), fs.conv.ID, uuid.New(), "intruder")
	if !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("err = %v, want ErrNotAParticipant", err)
	}
	if len(fs.messages) != 0 || len(pub.published) != 0 {
		t.Error("non-participant send left side effects")
	}
}

func TestFetchSinceRequiresMembership(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	c := NewCoordinator(fs, &recordingPublisher{}, zerolog.Nop(), 4096)

	if _, err := c.FetchSince(context.Background(), fs.conv.ID, uuid.New(), "", 100); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("err = %v, want ErrNotAParticipant", err)
	}
}

func TestFetchSinceCursor(t *testing.T) {
	alice := uuid.New()
	fs := newFakeStore(false, alice)
	c := NewCoordinator(fs, &recordingPublisher{}, zerolog.Nop(), 4096)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := c.RecordAndDeliver(ctx, fs.conv.ID, alice, fmt.Sprintf("msg %d", i))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	// Empty cursor returns everything.
	all, err := c.FetchSince(ctx, fs.conv.ID, alice, "", 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("full fetch returned %d, want 3", len(all))
	}

	// Cursor at the first message returns exactly the remainder.
	rest, err := c.FetchSince(ctx, fs.conv.ID, alice, ids[0], 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != ids[1] || rest[1].ID != ids[2] {
		t.Errorf("cursor fetch = %v, want [%s %s]", rest, ids[1], ids[2])
	}

	// Cursor at the last message returns nothing; repeating it is a no-op.
	for i := 0; i < 2; i++ {
		none, err := c.FetchSince(ctx, fs.conv.ID, alice, ids[2], 100)
		if err != nil {
			t.Fatalf("FetchSince: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("fetch past end returned %d messages", len(none))
		}
	}
}

func TestConversationLockingIsStableAndBounded(t *testing.T) {
	c := NewCoordinator(newFakeStore(false), &recordingPublisher{}, zerolog.Nop(), 0)

	// Same conversation always maps to the same mutex.
	id := uuid.New()
	if c.lockConversation(id) != c.lockConversation(id) {
		t.Error("same conversation returned different locks")
	}

	// Lock memory is fixed: many conversations reuse a bounded set.
	distinct := make(map[*sync.Mutex]struct{})
	for i := 0; i < 10*convLockStripes; i++ {
		distinct[c.lockConversation(uuid.New())] = struct{}{}
	}
	if len(distinct) > convLockStripes {
		t.Errorf("saw %d distinct locks, want at most %d", len(distinct), convLockStripes)
	}
}

func TestRemoveMessagePermissions(t *testing.T) {
	sender := uuid.New()
	admin := uuid.New()
	member := uuid.New()
	ctx := context.Background()

	setup := func(isGroup bool) (*Coordinator, *fakeStore, string) {
		fs := newFakeStore(isGroup, sender, admin, member)
		fs.admins[admin] = true
		c := NewCoordinator(fs, &recordingPublisher{}, zerolog.Nop(), 4096)
		msg, err := c.RecordAndDeliver(ctx, fs.conv.ID, sender, "target")
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
		return c, fs, msg.ID
	}

	t.Run("sender can delete", func(t *testing.T) {
		c, fs, id := setup(true)
		if err := c.RemoveMessage(ctx, fs.conv.ID, sender, id); err != nil {
			t.Fatalf("sender delete: %v", err)
		}
		if len(fs.messages) != 0 {
			t.Error("message still present")
		}
	})

	t.Run("group admin can delete", func(t *testing.T) {
		c, fs, id := setup(true)
		if err := c.RemoveMessage(ctx, fs.conv.ID, admin, id); err != nil {
			t.Fatalf("admin delete: %v", err)
		}
	})

	t.Run("plain member cannot delete", func(t *testing.T) {
		c, fs, id := setup(true)
		if err := c.RemoveMessage(ctx, fs.conv.ID, member, id); !errors.Is(err, ErrNotAllowed) {
			t.Fatalf("err = %v, want ErrNotAllowed", err)
		}
	})

	t.Run("admin flag ignored outside groups", func(t *testing.T) {
		c, fs, id := setup(false)
		if err := c.RemoveMessage(ctx, fs.conv.ID, admin, id); !errors.Is(err, ErrNotAllowed) {
			t.Fatalf("err = %v, want ErrNotAllowed", err)
		}
	})

	t.Run("outsider gets not-a-participant", func(t *testing.T) {
		c, fs, id := setup(true)
		if err := c.RemoveMessage(ctx, fs.conv.ID, uuid.New(), id); !errors.Is(err, ErrNotAParticipant) {
			t.Fatalf("err = %v, want ErrNotAParticipant", err)
		}
	})

	t.Run("missing message", func(t *testing.T) {
		c, fs, _ := setup(true)
		if err := c.RemoveMessage(ctx, fs.conv.ID, sender, "01TESTNOSUCHMESSAGE00000000"); !errors.Is(err, ErrMessageNotFound) {
			t.Fatalf("err = %v, want ErrMessageNotFound", err)
		}
	})
}
