package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scribe.evalgo.org/common"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is the read deadline refreshed by pongs; pings go out at
	// pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames; a delta larger than this is
	// hostile.
	maxMessageSize = 512 * 1024
)

// Session is one authenticated client socket. Inbound frames are read
// and dispatched by readPump; outbound frames are serialised through the
// send channel by writePump. documentID is the room the socket currently
// occupies; it is written by the hub goroutine only, synchronised
// through the Join/Leave channel handshake.
type Session struct {
	ID     string
	UserID string
	Email  string

	conn    *websocket.Conn
	send    chan []byte
	service *Service

	documentID string

	closeOnce sync.Once
}

func newSession(id, userID, email string, conn *websocket.Conn, service *Service, sendBuffer int) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Session{
		ID:      id,
		UserID:  userID,
		Email:   email,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		service: service,
	}
}

// CurrentDocument is the room the socket has joined, empty before join.
// Only safe to call from the session's own read loop.
func (s *Session) CurrentDocument() string {
	return s.documentID
}

// Emit marshals and enqueues an event for this socket.
func (s *Session) Emit(event string, data interface{}) {
	payload, err := MarshalEnvelope(event, data)
	if err != nil {
		common.Logger.WithError(err).WithField("event", event).Error("failed to marshal outbound event")
		return
	}
	s.enqueue(payload)
}

// enqueue appends a frame for delivery. A full buffer means the consumer
// cannot keep up with the room; the socket is dropped rather than
// letting it stall every other member.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	default:
		common.Logger.WithFields(map[string]interface{}{
			"session_id": s.ID,
			"user_id":    s.UserID,
		}).Warn("dropping slow consumer")
		s.close(websocket.ClosePolicyViolation, "send buffer overflow")
	}
}

// close shuts the connection down once; writePump and readPump unwind
// from the closed conn.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// readPump reads frames until the socket dies, dispatching each one to
// the service. It owns room membership cleanup on exit.
func (s *Session) readPump() {
	defer func() {
		s.service.handleDisconnect(s)
		s.close(websocket.CloseNormalClosure, "")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				common.Logger.WithError(err).WithField("session_id", s.ID).Debug("socket closed")
			}
			return
		}
		s.service.dispatch(s, payload)
	}
}

// writePump serialises outbound frames and heartbeats.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
