// Package gateway implements the collaboration gateway: the stateful
// session layer terminating client websockets, routing per-document
// rooms with cross-instance fan-out, publishing edits onto the shared
// log and batching raw operation records into Postgres.
package gateway

import (
	"encoding/json"
	"fmt"

	"scribe.evalgo.org/presence"
)

// Client-to-server events.
const (
	EventJoinDocument = "join-document"
	EventSendChanges  = "send-changes"
	EventCursorMove   = "cursor-move"
)

// Server-to-client events.
const (
	EventDocumentJoined         = "document-joined"
	EventReceiveChanges         = "receive-changes"
	EventCursorUpdate           = "cursor-update"
	EventDocumentSynced         = "document-synced"
	EventDocumentExternalUpdate = "document-external-update"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventError                  = "error"
)

// Websocket close codes. 4401 distinguishes authentication failures from
// transport errors; 1012 (service restart) marks a graceful shutdown as
// transient so clients reconnect.
const (
	CloseAuthFailure    = 4401
	CloseServiceRestart = 1012
)

// Envelope is the socket wire format: every frame in either direction is
// {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalEnvelope builds a wire frame.
func MarshalEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// JoinDocumentData is the join-document payload. The bare string form
// ("doc-id") is accepted alongside the object form.
type JoinDocumentData struct {
	DocumentID string `json:"documentId"`
}

// UnmarshalJoin accepts both payload forms.
func UnmarshalJoin(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj JoinDocumentData
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("join-document payload must be a document id")
	}
	return obj.DocumentID, nil
}

// SendChangesData is the send-changes payload.
type SendChangesData struct {
	DocumentID string          `json:"documentId"`
	Operation  json.RawMessage `json:"operation"`
	Version    int64           `json:"version"`
}

// CursorMoveData is the cursor-move payload.
type CursorMoveData struct {
	DocumentID string              `json:"documentId"`
	Position   int                 `json:"position"`
	Selection  *presence.Selection `json:"selection,omitempty"`
}

// DocumentJoinedData answers a successful join with the room's active
// users.
type DocumentJoinedData struct {
	DocumentID string            `json:"documentId"`
	Sessions   []presence.Record `json:"sessions"`
}

// ReceiveChangesData fans one peer edit out to the room.
type ReceiveChangesData struct {
	Operation json.RawMessage `json:"operation"`
	Version   int64           `json:"version"`
	UserID    string          `json:"userId"`
}

// CursorUpdateData fans one peer cursor move out to the room.
type CursorUpdateData struct {
	UserID    string              `json:"userId"`
	Position  int                 `json:"position"`
	Selection *presence.Selection `json:"selection,omitempty"`
}

// DocumentSyncedData advances the client's confirmed pointer; emitted
// per reconciler acknowledgement.
type DocumentSyncedData struct {
	Version   int64  `json:"version"`
	Status    string `json:"status"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// UserEventData tags user-joined and user-left.
type UserEventData struct {
	UserID string `json:"userId"`
}

// ErrorData answers the offending socket; the connection is retained.
type ErrorData struct {
	Message string `json:"message"`
}
