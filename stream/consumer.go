package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"scribe.evalgo.org/common"
)

// Record is the subset of a shared-log record handlers see.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Handler processes one record. A nil return commits the offset; an
// error leaves it uncommitted so the record is redelivered (at-least-once
// consumers). Handlers that dead-letter a record return nil so the
// consumer advances past it.
type Handler func(ctx context.Context, rec *Record) error

// ConsumerConfig configures a consumer-group subscription.
type ConsumerConfig struct {
	Brokers  []string
	Group    string
	Topics   []string
	ClientID string

	// FromStart makes a fresh group begin at the earliest offset.
	// Consumers that must not replay history (the archiver) leave it
	// false and start at the end.
	FromStart bool
}

// GroupConsumer polls a consumer group and dispatches records in
// partition order. Offsets are committed record by record after the
// handler accepts them; auto-commit is disabled.
type GroupConsumer struct {
	client *kgo.Client
	group  string
	stopCh chan struct{}
}

// NewGroupConsumer joins the consumer group.
func NewGroupConsumer(cfg ConsumerConfig) (*GroupConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		offset = kgo.NewOffset().AtStart()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(10 * time.Second),
		kgo.RebalanceTimeout(30 * time.Second),
		kgo.FetchMaxWait(500 * time.Millisecond),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &GroupConsumer{
		client: client,
		group:  cfg.Group,
		stopCh: make(chan struct{}),
	}, nil
}

// Run polls until the context is cancelled or Stop is called. Records
// within a partition are handed to the handler strictly in offset order.
func (c *GroupConsumer) Run(ctx context.Context, handle Handler) error {
	log := common.Logger.WithField("group", c.group)
	log.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped by context")
			return ctx.Err()
		case <-c.stopCh:
			log.Info("consumer stopped")
			return nil
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				if err.Err == context.Canceled {
					continue
				}
				log.WithError(err.Err).WithField("topic", err.Topic).Error("fetch error")
			}
		}

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			recs := make([]*Record, len(p.Records))
			for i, record := range p.Records {
				recs[i] = &Record{
					Topic:     record.Topic,
					Partition: record.Partition,
					Offset:    record.Offset,
					Key:       record.Key,
					Value:     record.Value,
				}
			}

			accepted := processInOrder(ctx, recs, handle)
			for _, record := range p.Records[:accepted] {
				if err := c.client.CommitRecords(ctx, record); err != nil {
					log.WithError(err).WithFields(map[string]interface{}{
						"partition": record.Partition,
						"offset":    record.Offset,
					}).Warn("offset commit failed")
				}
			}

			if accepted < len(p.Records) {
				// Rewind the partition to the failed record so the next
				// poll refetches it. Carrying on would commit later
				// offsets and advance the group past the failure.
				failed := p.Records[accepted]
				c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
					failed.Topic: {failed.Partition: {
						Epoch:  failed.LeaderEpoch,
						Offset: failed.Offset,
					}},
				})
			}
		})
	}
}

// processInOrder feeds a partition's records to the handler in offset
// order and returns how many were accepted. It stops at the first
// handler error: records behind an unprocessed one must not be handled
// or committed, or the failed record would never be redelivered.
func processInOrder(ctx context.Context, recs []*Record, handle Handler) int {
	for i, rec := range recs {
		if err := handle(ctx, rec); err != nil {
			common.Logger.WithError(err).WithFields(map[string]interface{}{
				"topic":     rec.Topic,
				"partition": rec.Partition,
				"offset":    rec.Offset,
			}).Error("record not processed, partition rewound for redelivery")
			return i
		}
	}
	return len(recs)
}

// Stop gracefully stops the consumer.
func (c *GroupConsumer) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
		c.client.Close()
	}
}
