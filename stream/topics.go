// Package stream wraps the shared log (Kafka via franz-go) used to order
// and distribute document traffic. All five topics are keyed by document
// id; that keying is what gives the reconciler a per-document total
// order, so every publisher must honor it.
package stream

import "encoding/json"

// Topic names of the shared log.
const (
	TopicChanges   = "document-changes"
	TopicUpdates   = "document-updates"
	TopicSnapshots = "document-snapshots"
	TopicEvents    = "document-events"
	TopicDLQ       = "dlq"
)

// Document lifecycle event types carried on TopicEvents.
const (
	EventDocumentCreated    = "DOCUMENT_CREATED"
	EventDocumentUpdated    = "DOCUMENT_UPDATED"
	EventDocumentDeleted    = "DOCUMENT_DELETED"
	EventCollaboratorAdded  = "COLLABORATOR_ADDED"
	EventCollaboratorRemove = "COLLABORATOR_REMOVED"
)

// ChangeMessage is one raw client edit published by a gateway onto
// TopicChanges. Version is the client-known base version and is opaque
// as a clock; only the reconciler's server version orders edits.
type ChangeMessage struct {
	DocumentID string          `json:"documentId"`
	Operation  json.RawMessage `json:"operation"`
	Version    int64           `json:"version"`
	UserID     string          `json:"userId"`
	Timestamp  int64           `json:"timestamp"`
}

// UpdateMessage is the reconciler's acknowledgement on TopicUpdates,
// consumed by gateways to emit document-synced into rooms.
type UpdateMessage struct {
	DocumentID    string `json:"documentId"`
	Version       int64  `json:"version"`
	Status        string `json:"status"`
	UserID        string `json:"userId"`
	ServerVersion int64  `json:"serverVersion"`
	Timestamp     int64  `json:"timestamp"`
}

// StatusSynced is the only status the reconciler currently emits.
const StatusSynced = "synced"

// SnapshotMessage is a full point-in-time document state on
// TopicSnapshots, consumed by the archiver.
type SnapshotMessage struct {
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	Timestamp  int64           `json:"timestamp"`
}

// EventMessage is an externally produced document lifecycle event on
// TopicEvents.
type EventMessage struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// DLQMessage wraps a message that could not be processed. The original
// bytes are preserved verbatim for operator replay.
type DLQMessage struct {
	OriginalTopic   string `json:"originalTopic"`
	OriginalMessage string `json:"originalMessage"`
	Error           string `json:"error"`
	Stack           string `json:"stack,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	Instance        string `json:"instance"`
}
