package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"scribe.evalgo.org/common"
)

// Publisher is the producer-side interface services depend on, so tests
// can substitute a recording fake.
type Publisher interface {
	// Publish writes one record keyed by key. The call retries
	// transient failures with bounded backoff before surfacing an
	// error to the caller.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// PublishJSON marshals v and publishes it.
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error

	Close()
}

// ProducerConfig configures the shared-log producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string

	// Retries bounds publish attempts (default 8).
	Retries int

	// Backoff is the initial retry backoff, doubled per attempt
	// (default 100ms).
	Backoff time.Duration
}

// Producer publishes records onto the shared log.
type Producer struct {
	client  *kgo.Client
	retries int
	backoff time.Duration
}

// NewProducer connects a producer to the shared log.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 8
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{client: client, retries: cfg.Retries, backoff: cfg.Backoff}, nil
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	backoff := p.backoff
	var lastErr error
	for attempt := 0; attempt < p.retries; attempt++ {
		if err := p.client.ProduceSync(ctx, record).FirstErr(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			break
		}
		common.Logger.WithError(lastErr).WithField("topic", topic).Warn("publish failed, retrying")
		select {
		case <-ctx.Done():
			return common.NewTransientError("publish cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return common.NewTransientError(fmt.Sprintf("publish to %s exhausted %d attempts", topic, p.retries), lastErr)
}

func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, body)
}

func (p *Producer) Close() {
	p.client.Close()
}
