package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/db"
	"scribe.evalgo.org/presence"
	"scribe.evalgo.org/pubsub"
	"scribe.evalgo.org/security"
	"scribe.evalgo.org/stream"
)

// cursorColors is the palette assigned to collaborators, stable per user
// id so a user keeps the same colour across sessions.
var cursorColors = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324",
}

// ServiceConfig carries the gateway session-layer settings.
type ServiceConfig struct {
	// InstanceID uniquely names this process on the pub/sub fabric.
	// Empty generates one.
	InstanceID string

	// SendBuffer is the per-session outbound channel capacity.
	SendBuffer int
}

// Service is the collaboration gateway: it terminates client sockets,
// keeps room membership in the hub, heartbeats presence, publishes edits
// onto the shared log and batches raw operation records to the store.
type Service struct {
	cfg       ServiceConfig
	jwt       *security.JWTService
	hub       *Hub
	fan       *pubsub.Fan
	publisher stream.Publisher
	batch     *BatchWriter
	presence  *presence.Client
	access    AccessChecker
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]bool

	shutdownOnce sync.Once
}

// NewService wires the gateway together. redisClient and presenceClient
// may be nil: without Redis the gateway runs single-instance, without
// presence it answers joins with an empty user list.
func NewService(
	cfg ServiceConfig,
	jwt *security.JWTService,
	publisher stream.Publisher,
	opStore db.OperationStore,
	batchSize int,
	batchInterval time.Duration,
	redisClient *redis.Client,
	presenceClient *presence.Client,
	access AccessChecker,
) *Service {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if access == nil {
		access = AllowAllChecker{}
	}

	s := &Service{
		cfg:       cfg,
		jwt:       jwt,
		publisher: publisher,
		batch:     NewBatchWriter(opStore, batchSize, batchInterval),
		presence:  presenceClient,
		access:    access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin clients are expected; auth is the token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*Session]bool),
	}

	s.hub = NewHub(nil)
	if redisClient != nil {
		s.fan = pubsub.NewFan(redisClient, cfg.InstanceID, s.hub.HandleRemote)
		s.hub.fan = s.fan
	}
	return s
}

// InstanceID reports the id this gateway publishes under.
func (s *Service) InstanceID() string { return s.cfg.InstanceID }

// Hub exposes room membership, for readiness details and tests.
func (s *Service) Hub() *Hub { return s.hub }

// Start launches the hub and the batch writer.
func (s *Service) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.batch.Run(ctx)
}

// UpdatesGroup and EventsGroup derive the per-instance consumer groups.
// Every gateway instance must see every record on these topics, so the
// group is unique per process.
func (s *Service) UpdatesGroup() string { return "scribe-gateway-updates-" + s.cfg.InstanceID }
func (s *Service) EventsGroup() string  { return "scribe-gateway-events-" + s.cfg.InstanceID }

// HandleRecord dispatches a shared-log record to the matching handler.
// Wired as the Handler of this instance's consumers.
func (s *Service) HandleRecord(ctx context.Context, record *stream.Record) error {
	switch record.Topic {
	case stream.TopicUpdates:
		return s.handleUpdateRecord(ctx, record)
	case stream.TopicEvents:
		return s.handleEventRecord(ctx, record)
	default:
		return nil
	}
}

// HandleWebSocket upgrades the connection and runs the session. The
// token comes from the token query parameter or a bearer header; an
// invalid one is answered over the socket with close code 4401 so
// browser clients can distinguish auth failure from transport loss.
func (s *Service) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	token := c.QueryParam("token")
	if token == "" {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(auth) > 7 && auth[:7] == "Bearer " {
			token = auth[7:]
		}
	}

	userID, email, err := s.jwt.ValidateToken(token)
	if err != nil {
		common.Logger.WithError(err).Warn("rejecting socket with invalid token")
		msg := websocket.FormatCloseMessage(CloseAuthFailure, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}

	session := newSession(uuid.NewString(), userID, email, conn, s, s.cfg.SendBuffer)
	s.register(session)

	common.Logger.WithFields(map[string]interface{}{
		"session_id": session.ID,
		"user_id":    userID,
	}).Info("socket connected")

	go session.writePump()
	go session.readPump()
	return nil
}

func (s *Service) register(session *Session) {
	s.mu.Lock()
	s.sessions[session] = true
	s.mu.Unlock()
}

func (s *Service) unregister(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// SessionCount reports connected sockets, for the readiness probe.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// dispatch routes one inbound frame. Protocol failures answer the
// offending socket and never tear it down.
func (s *Service) dispatch(session *Session, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		session.Emit(EventError, ErrorData{Message: "malformed frame"})
		return
	}

	switch env.Event {
	case EventJoinDocument:
		s.handleJoin(session, env.Data)
	case EventSendChanges:
		s.handleSendChanges(session, env.Data)
	case EventCursorMove:
		s.handleCursorMove(session, env.Data)
	default:
		session.Emit(EventError, ErrorData{Message: fmt.Sprintf("unknown event %q", env.Event)})
	}
}

func (s *Service) handleJoin(session *Session, data json.RawMessage) {
	documentID, err := UnmarshalJoin(data)
	if err != nil || documentID == "" {
		session.Emit(EventError, ErrorData{Message: "join-document requires a document id"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.access.CheckAccess(ctx, documentID, session.UserID); err != nil {
		if common.IsAuthorisationError(err) {
			session.Emit(EventError, ErrorData{Message: "access to document denied"})
			return
		}
		// Access service down: refuse rather than fail open.
		common.Logger.WithError(err).WithField("document_id", documentID).
			Error("access check unavailable")
		session.Emit(EventError, ErrorData{Message: "document service unavailable, try again"})
		return
	}

	s.hub.Join(session, documentID)

	s.heartbeat(ctx, session, documentID, 0, nil)

	s.broadcastRoom(ctx, documentID, EventUserJoined, UserEventData{UserID: session.UserID}, session)

	var users []presence.Record
	if s.presence != nil {
		users, err = s.presence.List(ctx, documentID)
		if err != nil {
			common.Logger.WithError(err).WithField("document_id", documentID).
				Warn("presence list failed, answering join without sessions")
			users = nil
		}
	}
	session.Emit(EventDocumentJoined, DocumentJoinedData{DocumentID: documentID, Sessions: users})
}

func (s *Service) handleSendChanges(session *Session, data json.RawMessage) {
	var msg SendChangesData
	if err := json.Unmarshal(data, &msg); err != nil {
		session.Emit(EventError, ErrorData{Message: "malformed send-changes payload"})
		return
	}
	if session.CurrentDocument() == "" || msg.DocumentID != session.CurrentDocument() {
		session.Emit(EventError, ErrorData{Message: "join the document before editing it"})
		return
	}
	if len(msg.Operation) == 0 {
		session.Emit(EventError, ErrorData{Message: "send-changes requires an operation"})
		return
	}

	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Raw record first: the audit trail must not depend on the log
	// publish succeeding.
	s.batch.Add(db.OperationalTransform{
		DocumentID: msg.DocumentID,
		UserID:     session.UserID,
		Operation:  append(json.RawMessage(nil), msg.Operation...),
		Version:    msg.Version,
		Timestamp:  now,
	})

	s.broadcastRoom(ctx, msg.DocumentID, EventReceiveChanges, ReceiveChangesData{
		Operation: msg.Operation,
		Version:   msg.Version,
		UserID:    session.UserID,
	}, session)

	err := s.publisher.PublishJSON(ctx, stream.TopicChanges, msg.DocumentID, stream.ChangeMessage{
		DocumentID: msg.DocumentID,
		Operation:  msg.Operation,
		Version:    msg.Version,
		UserID:     session.UserID,
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		common.Logger.WithError(err).WithField("document_id", msg.DocumentID).
			Error("edit lost to the log")
		session.Emit(EventError, ErrorData{Message: "change could not be persisted, please resync"})
	}
}

func (s *Service) handleCursorMove(session *Session, data json.RawMessage) {
	var msg CursorMoveData
	if err := json.Unmarshal(data, &msg); err != nil {
		session.Emit(EventError, ErrorData{Message: "malformed cursor-move payload"})
		return
	}
	if session.CurrentDocument() == "" || msg.DocumentID != session.CurrentDocument() {
		session.Emit(EventError, ErrorData{Message: "join the document before moving a cursor"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.heartbeat(ctx, session, msg.DocumentID, msg.Position, msg.Selection)

	s.broadcastRoom(ctx, msg.DocumentID, EventCursorUpdate, CursorUpdateData{
		UserID:    session.UserID,
		Position:  msg.Position,
		Selection: msg.Selection,
	}, session)
}

// heartbeat upserts presence. Soft failure: presence never blocks the
// edit path.
func (s *Service) heartbeat(ctx context.Context, session *Session, documentID string, cursor int, sel *presence.Selection) {
	if s.presence == nil {
		return
	}
	err := s.presence.Upsert(ctx, documentID, session.UserID, presence.UpsertRequest{
		Name:      session.Email,
		Color:     colorFor(session.UserID),
		Cursor:    cursor,
		Selection: sel,
	})
	if err != nil {
		common.Logger.WithError(err).WithField("document_id", documentID).
			Warn("presence heartbeat failed")
	}
}

// handleDisconnect runs on readPump exit. It announces the departure
// before leaving so the room still resolves the membership.
func (s *Service) handleDisconnect(session *Session) {
	documentID := session.CurrentDocument()
	if documentID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.broadcastRoom(ctx, documentID, EventUserLeft, UserEventData{UserID: session.UserID}, session)
		cancel()
	}
	s.hub.Leave(session)
	s.unregister(session)

	common.Logger.WithFields(map[string]interface{}{
		"session_id": session.ID,
		"user_id":    session.UserID,
	}).Info("socket disconnected")
}

// broadcastRoom delivers an event to the room's local members (excluding
// exclude) and to peers on other instances. A fan failure degrades to
// local-only delivery.
func (s *Service) broadcastRoom(ctx context.Context, documentID, event string, data interface{}, exclude *Session) {
	payload, err := MarshalEnvelope(event, data)
	if err != nil {
		common.Logger.WithError(err).WithField("event", event).Error("failed to marshal room event")
		return
	}
	s.hub.Broadcast(documentID, payload, exclude)

	if s.fan != nil {
		if err := s.fan.Publish(ctx, documentID, event, data); err != nil {
			common.Logger.WithError(err).WithFields(map[string]interface{}{
				"document_id": documentID,
				"event":       event,
			}).Warn("cross-instance publish failed")
		}
	}
}

// Shutdown closes every socket with 1012 so clients reconnect to a
// surviving instance, then flushes the batch writer and stops the hub.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Service) shutdown() {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		open = append(open, session)
	}
	s.mu.Unlock()

	for _, session := range open {
		session.close(CloseServiceRestart, "gateway restarting")
	}

	s.batch.Stop()
	s.hub.Stop()
	if s.fan != nil {
		s.fan.Close()
	}
}

func colorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return cursorColors[int(h.Sum32())%len(cursorColors)]
}
