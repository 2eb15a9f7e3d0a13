// Package bridge forwards document lifecycle events from the shared log
// to the legacy RabbitMQ exchange, for consumers that have not moved to
// the log.
package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/queue"
	"scribe.evalgo.org/stream"
)

// Bridge re-publishes document-events records one to one. The routing
// key is the prefixed lowercased event type, e.g. DOCUMENT_UPDATED
// becomes document.document_updated.
type Bridge struct {
	publisher queue.EventPublisher
	prefix    string
}

// New builds a bridge over an AMQP publisher.
func New(publisher queue.EventPublisher, routingPrefix string) *Bridge {
	if routingPrefix == "" {
		routingPrefix = "document."
	}
	return &Bridge{publisher: publisher, prefix: routingPrefix}
}

// HandleEvent forwards one record. The body crosses verbatim; only the
// routing key is derived. A broker failure leaves the offset
// uncommitted so the event is redelivered rather than lost.
func (b *Bridge) HandleEvent(ctx context.Context, record *stream.Record) error {
	var msg stream.EventMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		common.Logger.WithError(err).WithField("offset", record.Offset).
			Warn("skipping malformed event record")
		return nil
	}
	if msg.Type == "" {
		common.Logger.WithField("offset", record.Offset).Warn("skipping event without type")
		return nil
	}

	routingKey := b.prefix + strings.ToLower(msg.Type)
	if err := b.publisher.PublishEvent(routingKey, record.Value); err != nil {
		common.Logger.WithError(err).WithField("routing_key", routingKey).
			Error("bridge publish failed, offset left uncommitted")
		return err
	}
	return nil
}
