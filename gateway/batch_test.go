package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe.evalgo.org/db"
)

type mockOpStore struct {
	mu       sync.Mutex
	batches  [][]db.OperationalTransform
	failures int
}

func (m *mockOpStore) SaveBatch(_ context.Context, records []db.OperationalTransform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("store down")
	}
	batch := make([]db.OperationalTransform, len(records))
	copy(batch, records)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockOpStore) saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func record(doc string, version int64) db.OperationalTransform {
	return db.OperationalTransform{
		DocumentID: doc,
		UserID:     "user-1",
		Operation:  []byte(`{"ops":[{"insert":"x"}]}`),
		Version:    version,
		Timestamp:  time.Now(),
	}
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	store := &mockOpStore{}
	w := NewBatchWriter(store, 2, time.Hour)
	go w.Run(context.Background())
	defer w.Stop()

	w.Add(record("doc-1", 1))
	w.Add(record("doc-1", 2))

	require.Eventually(t, func() bool { return store.saved() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	store := &mockOpStore{}
	w := NewBatchWriter(store, 100, 20*time.Millisecond)
	go w.Run(context.Background())
	defer w.Stop()

	w.Add(record("doc-1", 1))

	require.Eventually(t, func() bool { return store.saved() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatchWriterRetainsRecordsOnFailure(t *testing.T) {
	store := &mockOpStore{failures: 1}
	w := NewBatchWriter(store, 2, 20*time.Millisecond)
	go w.Run(context.Background())
	defer w.Stop()

	w.Add(record("doc-1", 1))
	w.Add(record("doc-1", 2))

	// First flush fails; the interval retry must deliver both records.
	require.Eventually(t, func() bool { return store.saved() == 2 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.batches, 1)
}

func TestBatchWriterFlushesOnStop(t *testing.T) {
	store := &mockOpStore{}
	w := NewBatchWriter(store, 100, time.Hour)
	go w.Run(context.Background())

	w.Add(record("doc-1", 1))
	w.Stop()

	assert.Equal(t, 1, store.saved())
}
