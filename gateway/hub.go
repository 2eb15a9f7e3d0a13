package gateway

import (
	"context"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/pubsub"
)

// outbound is one room delivery request. A nil exclude delivers to every
// member.
type outbound struct {
	documentID string
	payload    []byte
	exclude    *Session
}

type joinRequest struct {
	session    *Session
	documentID string
	done       chan struct{}
}

type sizeQuery struct {
	documentID string
	reply      chan int
}

// Hub owns room membership. All map mutation happens on the hub
// goroutine, so no locks guard the session maps; sessions talk to it
// through channels only.
type Hub struct {
	join      chan joinRequest
	leave     chan *Session
	broadcast chan outbound
	size      chan sizeQuery
	stop      chan struct{}
	stopped   chan struct{}

	// rooms and members are touched only by run.
	rooms map[string]map[*Session]bool

	// fan is the cross-instance adapter; nil degrades to local-only
	// delivery (single-instance mode).
	fan *pubsub.Fan
}

// NewHub builds a hub; call Run on its own goroutine. fan may be nil.
func NewHub(fan *pubsub.Fan) *Hub {
	return &Hub{
		join:      make(chan joinRequest),
		leave:     make(chan *Session),
		broadcast: make(chan outbound, 256),
		size:      make(chan sizeQuery),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		rooms:     make(map[string]map[*Session]bool),
		fan:       fan,
	}
}

// Run serialises membership changes and local deliveries until Stop.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case req := <-h.join:
			h.handleJoin(ctx, req)
		case s := <-h.leave:
			h.handleLeave(s)
		case msg := <-h.broadcast:
			h.deliver(msg)
		case q := <-h.size:
			q.reply <- len(h.rooms[q.documentID])
		}
	}
}

// Stop terminates the hub loop.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.stopped
}

// Join moves the session into the document's room. A socket lives in at
// most one room; joining a second document leaves the first.
func (h *Hub) Join(session *Session, documentID string) {
	req := joinRequest{session: session, documentID: documentID, done: make(chan struct{})}
	select {
	case h.join <- req:
		<-req.done
	case <-h.stopped:
	}
}

// Leave removes the session from its room. Idempotent; safe to call on
// disconnect regardless of join state.
func (h *Hub) Leave(session *Session) {
	select {
	case h.leave <- session:
	case <-h.stopped:
	}
}

// Broadcast delivers payload to the room's local members, excluding
// exclude when non-nil.
func (h *Hub) Broadcast(documentID string, payload []byte, exclude *Session) {
	select {
	case h.broadcast <- outbound{documentID: documentID, payload: payload, exclude: exclude}:
	case <-h.stopped:
	}
}

// HandleRemote is the pubsub fan's delivery callback: events published
// by peers on other instances re-enter here and go to every local
// member (the sender was excluded on its own instance).
func (h *Hub) HandleRemote(documentID string, env pubsub.Envelope) {
	payload, err := MarshalEnvelope(env.Event, env.Data)
	if err != nil {
		common.Logger.WithError(err).Warn("dropping malformed remote room event")
		return
	}
	h.Broadcast(documentID, payload, nil)
}

func (h *Hub) handleJoin(ctx context.Context, req joinRequest) {
	defer close(req.done)
	s := req.session

	if s.documentID != "" && s.documentID != req.documentID {
		h.removeFromRoom(s)
	}

	room := h.rooms[req.documentID]
	if room == nil {
		room = make(map[*Session]bool)
		h.rooms[req.documentID] = room
		if h.fan != nil {
			h.fan.Subscribe(ctx, req.documentID)
		}
	}
	room[s] = true
	s.documentID = req.documentID
}

func (h *Hub) handleLeave(s *Session) {
	h.removeFromRoom(s)
}

func (h *Hub) removeFromRoom(s *Session) {
	if s.documentID == "" {
		return
	}
	room := h.rooms[s.documentID]
	if room != nil {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, s.documentID)
			if h.fan != nil {
				h.fan.Unsubscribe(s.documentID)
			}
		}
	}
	s.documentID = ""
}

func (h *Hub) deliver(msg outbound) {
	room := h.rooms[msg.documentID]
	for s := range room {
		if s == msg.exclude {
			continue
		}
		s.enqueue(msg.payload)
	}
}

// RoomSize reports local membership, for readiness details and tests.
// It round-trips through the hub goroutine to stay race-free.
func (h *Hub) RoomSize(documentID string) int {
	reply := make(chan int, 1)
	select {
	case h.size <- sizeQuery{documentID: documentID, reply: reply}:
		return <-reply
	case <-h.stopped:
		return 0
	}
}
