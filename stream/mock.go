package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// PublishedRecord is one record captured by the MockPublisher.
type PublishedRecord struct {
	Topic string
	Key   string
	Value []byte
}

// MockPublisher records published messages for assertions in tests. It
// is safe for concurrent use.
type MockPublisher struct {
	mu      sync.Mutex
	records []PublishedRecord

	// FailTopics makes Publish fail for the named topics.
	FailTopics map[string]bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailTopics: map[string]bool{}}
}

func (m *MockPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("mock publish failure on %s", topic)
	}
	m.records = append(m.records, PublishedRecord{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockPublisher) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Publish(ctx, topic, key, body)
}

func (m *MockPublisher) Close() {}

// SetFail toggles publish failures for one topic.
func (m *MockPublisher) SetFail(topic string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailTopics[topic] = fail
}

// Records returns a copy of everything published so far.
func (m *MockPublisher) Records() []PublishedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedRecord, len(m.records))
	copy(out, m.records)
	return out
}

// TopicRecords returns records published to one topic.
func (m *MockPublisher) TopicRecords(topic string) []PublishedRecord {
	var out []PublishedRecord
	for _, r := range m.Records() {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}
