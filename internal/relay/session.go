package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// Inbound frames are ignored, so a small limit is enough.
	maxReadBytes = 512

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one websocket connection for one authenticated user. A user
// may hold several sessions (multiple tabs or devices); each joins the same
// rooms independently.
type Session struct {
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	joined map[uuid.UUID]struct{}
	once   sync.Once
}

func newSession(userID uuid.UUID, conn *websocket.Conn) *Session {
	return &Session{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		joined: make(map[uuid.UUID]struct{}),
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.send)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// ServeWS upgrades the request to a websocket, registers the session with
// the relay and starts the read/write pumps. conversationIDs is the set of
// conversations the user participates in, derived from the store by the
// caller at connect time.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request, userID uuid.UUID, conversationIDs []uuid.UUID) error {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}

	s := newSession(userID, conn)
	r.Connect(s, conversationIDs)

	go s.writePump(r.logger)
	go s.readPump(r)
	return nil
}

// readPump consumes inbound frames until the connection drops. Messages are
// sent over HTTP, not the socket, so inbound payloads are discarded; the
// read loop exists to run the pong handler and detect disconnects.
func (s *Session) readPump(r *Relay) {
	defer func() {
		r.Disconnect(s)
	}()

	s.conn.SetReadLimit(maxReadBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Session) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug().Err(err).
					Str("user_id", s.userID.String()).
					Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
