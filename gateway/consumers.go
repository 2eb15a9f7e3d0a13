package gateway

import (
	"context"
	"encoding/json"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/stream"
)

// The gateway consumes the shared log with a per-instance group: every
// instance must see every acknowledgement, because the session holding
// the edited socket may live anywhere. Malformed records are logged and
// committed; redelivering them cannot make them parse.

// handleUpdateRecord turns a reconciler acknowledgement into a
// document-synced frame for the room's local members.
func (s *Service) handleUpdateRecord(ctx context.Context, record *stream.Record) error {
	var msg stream.UpdateMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		common.Logger.WithError(err).WithField("offset", record.Offset).
			Warn("skipping malformed update record")
		return nil
	}

	payload, err := MarshalEnvelope(EventDocumentSynced, DocumentSyncedData{
		Version:   msg.ServerVersion,
		Status:    msg.Status,
		UserID:    msg.UserID,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg.DocumentID, payload, nil)
	return nil
}

// handleEventRecord relays out-of-band document lifecycle events. Only
// DOCUMENT_UPDATED reaches clients, as document-external-update; a REST
// write elsewhere invalidates whatever the room believes it is editing.
func (s *Service) handleEventRecord(ctx context.Context, record *stream.Record) error {
	var msg stream.EventMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		common.Logger.WithError(err).WithField("offset", record.Offset).
			Warn("skipping malformed event record")
		return nil
	}

	if msg.Type != stream.EventDocumentUpdated {
		return nil
	}

	payload, err := MarshalEnvelope(EventDocumentExternalUpdate, map[string]interface{}{
		"documentId": msg.DocumentID,
		"userId":     msg.UserID,
		"timestamp":  msg.Timestamp,
	})
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg.DocumentID, payload, nil)
	return nil
}
