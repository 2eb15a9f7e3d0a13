package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe.evalgo.org/security"
	"scribe.evalgo.org/stream"
)

type testGateway struct {
	svc   *Service
	pub   *stream.MockPublisher
	store *mockOpStore
	srv   *httptest.Server
	jwt   *security.JWTService
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	jwtSvc := security.NewJWTService("test-secret")
	pub := stream.NewMockPublisher()
	store := &mockOpStore{}

	svc := NewService(ServiceConfig{InstanceID: "test-instance", SendBuffer: 16},
		jwtSvc, pub, store, 50, 20*time.Millisecond, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	e := echo.New()
	e.GET("/ws", svc.HandleWebSocket)
	srv := httptest.NewServer(e)

	t.Cleanup(func() {
		svc.Shutdown()
		srv.Close()
		cancel()
	})

	return &testGateway{svc: svc, pub: pub, store: store, srv: srv, jwt: jwtSvc}
}

func (tg *testGateway) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := tg.jwt.GenerateToken(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := MarshalEnvelope(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestSocketRejectsInvalidToken(t *testing.T) {
	tg := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws?token=garbage"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, CloseAuthFailure, closeErr.Code)
}

func TestJoinEditCursorRoundTrip(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, "alice")
	sendEnvelope(t, alice, EventJoinDocument, JoinDocumentData{DocumentID: "doc-1"})

	env := readEnvelope(t, alice)
	require.Equal(t, EventDocumentJoined, env.Event)
	var joined DocumentJoinedData
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.Equal(t, "doc-1", joined.DocumentID)
	assert.Empty(t, joined.Sessions)

	bob := tg.dial(t, "bob")
	sendEnvelope(t, bob, EventJoinDocument, JoinDocumentData{DocumentID: "doc-1"})
	require.Equal(t, EventDocumentJoined, readEnvelope(t, bob).Event)

	env = readEnvelope(t, alice)
	require.Equal(t, EventUserJoined, env.Event)
	var user UserEventData
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "bob", user.UserID)

	// Alice edits: bob receives the raw change, alice does not echo it,
	// and the edit lands on the shared log keyed by document.
	op := json.RawMessage(`{"ops":[{"insert":"hello"}]}`)
	sendEnvelope(t, alice, EventSendChanges, SendChangesData{
		DocumentID: "doc-1",
		Operation:  op,
		Version:    0,
	})

	env = readEnvelope(t, bob)
	require.Equal(t, EventReceiveChanges, env.Event)
	var changes ReceiveChangesData
	require.NoError(t, json.Unmarshal(env.Data, &changes))
	assert.Equal(t, "alice", changes.UserID)
	assert.JSONEq(t, string(op), string(changes.Operation))

	require.Eventually(t, func() bool {
		return len(tg.pub.TopicRecords(stream.TopicChanges)) == 1
	}, time.Second, 5*time.Millisecond)

	published := tg.pub.TopicRecords(stream.TopicChanges)[0]
	assert.Equal(t, "doc-1", published.Key)
	var change stream.ChangeMessage
	require.NoError(t, json.Unmarshal(published.Value, &change))
	assert.Equal(t, "alice", change.UserID)
	assert.JSONEq(t, string(op), string(change.Operation))

	// The raw record reaches the batch writer's store.
	require.Eventually(t, func() bool { return tg.store.saved() == 1 }, time.Second, 5*time.Millisecond)

	// Cursor moves fan out to peers only.
	sendEnvelope(t, alice, EventCursorMove, CursorMoveData{DocumentID: "doc-1", Position: 5})
	env = readEnvelope(t, bob)
	require.Equal(t, EventCursorUpdate, env.Event)
	var cursor CursorUpdateData
	require.NoError(t, json.Unmarshal(env.Data, &cursor))
	assert.Equal(t, "alice", cursor.UserID)
	assert.Equal(t, 5, cursor.Position)
}

func TestEditBeforeJoinIsRejected(t *testing.T) {
	tg := newTestGateway(t)

	conn := tg.dial(t, "alice")
	sendEnvelope(t, conn, EventSendChanges, SendChangesData{
		DocumentID: "doc-1",
		Operation:  json.RawMessage(`{"ops":[]}`),
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, EventError, env.Event)
	assert.Empty(t, tg.pub.Records())
}

func TestUnknownEventAnswersError(t *testing.T) {
	tg := newTestGateway(t)

	conn := tg.dial(t, "alice")
	sendEnvelope(t, conn, "no-such-event", map[string]string{})

	env := readEnvelope(t, conn)
	assert.Equal(t, EventError, env.Event)
}

func TestUserLeftOnDisconnect(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, "alice")
	sendEnvelope(t, alice, EventJoinDocument, "doc-1")
	require.Equal(t, EventDocumentJoined, readEnvelope(t, alice).Event)

	bob := tg.dial(t, "bob")
	sendEnvelope(t, bob, EventJoinDocument, "doc-1")
	require.Equal(t, EventDocumentJoined, readEnvelope(t, bob).Event)
	require.Equal(t, EventUserJoined, readEnvelope(t, alice).Event)

	require.NoError(t, bob.Close())

	env := readEnvelope(t, alice)
	require.Equal(t, EventUserLeft, env.Event)
	var user UserEventData
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "bob", user.UserID)
}

func TestUpdateRecordEmitsDocumentSynced(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, "alice")
	sendEnvelope(t, alice, EventJoinDocument, "doc-1")
	require.Equal(t, EventDocumentJoined, readEnvelope(t, alice).Event)

	value, err := json.Marshal(stream.UpdateMessage{
		DocumentID:    "doc-1",
		Version:       0,
		Status:        stream.StatusSynced,
		UserID:        "alice",
		ServerVersion: 1,
		Timestamp:     time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	require.NoError(t, tg.svc.HandleRecord(context.Background(), &stream.Record{
		Topic: stream.TopicUpdates,
		Value: value,
	}))

	env := readEnvelope(t, alice)
	require.Equal(t, EventDocumentSynced, env.Event)
	var synced DocumentSyncedData
	require.NoError(t, json.Unmarshal(env.Data, &synced))
	assert.Equal(t, int64(1), synced.Version)
	assert.Equal(t, stream.StatusSynced, synced.Status)
	assert.Equal(t, "alice", synced.UserID)
}

func TestExternalUpdateRecordReachesRoom(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, "alice")
	sendEnvelope(t, alice, EventJoinDocument, "doc-1")
	require.Equal(t, EventDocumentJoined, readEnvelope(t, alice).Event)

	value, err := json.Marshal(stream.EventMessage{
		Type:       stream.EventDocumentUpdated,
		DocumentID: "doc-1",
		UserID:     "rest-api",
	})
	require.NoError(t, err)

	require.NoError(t, tg.svc.HandleRecord(context.Background(), &stream.Record{
		Topic: stream.TopicEvents,
		Value: value,
	}))

	env := readEnvelope(t, alice)
	assert.Equal(t, EventDocumentExternalUpdate, env.Event)
}

func TestMalformedRecordsAreCommitted(t *testing.T) {
	tg := newTestGateway(t)

	assert.NoError(t, tg.svc.HandleRecord(context.Background(), &stream.Record{
		Topic: stream.TopicUpdates,
		Value: []byte("not json"),
	}))
	assert.NoError(t, tg.svc.HandleRecord(context.Background(), &stream.Record{
		Topic: stream.TopicEvents,
		Value: []byte("not json"),
	}))
}

func TestShutdownClosesWithServiceRestart(t *testing.T) {
	tg := newTestGateway(t)

	conn := tg.dial(t, "alice")
	sendEnvelope(t, conn, EventJoinDocument, "doc-1")
	require.Equal(t, EventDocumentJoined, readEnvelope(t, conn).Event)

	tg.svc.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, CloseServiceRestart, closeErr.Code)
}
