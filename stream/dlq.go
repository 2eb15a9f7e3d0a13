package stream

import (
	"context"
	"runtime/debug"
	"time"

	"scribe.evalgo.org/common"
)

// DLQ publishes unprocessable messages to the dead-letter topic. The DLQ
// is the end of the automatic retry chain; draining it is an operator
// concern.
type DLQ struct {
	publisher Publisher
	instance  string
}

// NewDLQ builds a dead-letter publisher tagged with this process's
// instance id.
func NewDLQ(publisher Publisher, instance string) *DLQ {
	return &DLQ{publisher: publisher, instance: instance}
}

// Send wraps the original message bytes with error metadata and
// publishes them to the dlq topic. Failures are logged but not
// propagated: the caller commits the offending offset either way, and a
// lost DLQ entry must never wedge the consumer.
func (d *DLQ) Send(ctx context.Context, originalTopic string, original []byte, cause error) {
	msg := DLQMessage{
		OriginalTopic:   originalTopic,
		OriginalMessage: string(original),
		Error:           cause.Error(),
		Stack:           string(debug.Stack()),
		Timestamp:       time.Now().UnixMilli(),
		Instance:        d.instance,
	}
	if err := d.publisher.PublishJSON(ctx, TopicDLQ, "", msg); err != nil {
		common.Logger.WithError(err).WithField("original_topic", originalTopic).
			Error("failed to publish dead-letter message")
	}
}
