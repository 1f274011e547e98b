package parley

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval matches the web client's polling cadence.
const DefaultPollInterval = 3 * time.Second

// Poller repeatedly fetches messages newer than its cursor for one
// conversation. The cursor is a message ID; because IDs sort in creation
// order, advancing it to the last received message makes each poll exact:
// no duplicates, no gaps, and a failed poll just retries with the same
// cursor.
type Poller struct {
	client         *Client
	conversationID string
	interval       time.Duration

	// mu guards cursor: Observe may be called from a push-handling
	// goroutine while Run polls.
	mu     sync.Mutex
	cursor string

	// Handler receives each batch of new messages, in order.
	Handler func(msgs []Message)
}

// NewPoller creates a poller for a conversation starting from the given
// cursor. An empty cursor replays the full history on the first poll.
func NewPoller(client *Client, conversationID, cursor string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:         client,
		conversationID: conversationID,
		interval:       interval,
		cursor:         cursor,
	}
}

// Cursor returns the ID of the last message the poller has seen.
func (p *Poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Observe advances the cursor past a message received out of band (for
// example over a websocket push), so the next poll does not re-fetch it.
// Safe to call concurrently with Run; the cursor never regresses.
func (p *Poller) Observe(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if messageID > p.cursor {
		p.cursor = messageID
	}
}

// Run polls until the context is cancelled. Poll errors are swallowed;
// the cursor does not move, so the next tick retries the same window.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	msgs, err := p.client.MessagesAfter(p.conversationID, p.Cursor())
	if err != nil {
		return
	}
	if len(msgs) == 0 {
		return
	}

	// Observe rather than assign: a concurrent push may already have
	// moved the cursor past this batch.
	p.Observe(msgs[len(msgs)-1].ID)
	if p.Handler != nil {
		p.Handler(msgs)
	}
}
