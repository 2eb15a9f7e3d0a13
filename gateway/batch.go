package gateway

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/db"
)

// BatchWriter accumulates raw operation records and flushes them to the
// store in bulk, either when the buffer reaches the configured size or
// on the interval tick. A failed flush keeps the records buffered for
// the next attempt; duplicate rows from a partially applied batch are
// absorbed by the store's conflict handling.
type BatchWriter struct {
	store    db.OperationStore
	size     int
	interval time.Duration

	in      chan db.OperationalTransform
	stop    chan struct{}
	stopped chan struct{}
}

// NewBatchWriter builds a writer; call Run on its own goroutine.
func NewBatchWriter(store db.OperationStore, size int, interval time.Duration) *BatchWriter {
	if size <= 0 {
		size = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BatchWriter{
		store:    store,
		size:     size,
		interval: interval,
		in:       make(chan db.OperationalTransform, size*4),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Add enqueues one record for the next flush.
func (w *BatchWriter) Add(record db.OperationalTransform) {
	select {
	case w.in <- record:
	case <-w.stopped:
		common.Logger.WithField("document_id", record.DocumentID).
			Warn("batch writer stopped, dropping operation record")
	}
}

// Run owns the buffer until Stop. The buffer is touched by this
// goroutine only.
func (w *BatchWriter) Run(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var buffer []db.OperationalTransform
	for {
		select {
		case record := <-w.in:
			buffer = append(buffer, record)
			if len(buffer) >= w.size {
				buffer = w.flush(ctx, buffer)
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				buffer = w.flush(ctx, buffer)
			}
		case <-w.stop:
			w.drain(buffer)
			return
		case <-ctx.Done():
			w.drain(buffer)
			return
		}
	}
}

// Stop flushes the remaining records and terminates the loop.
func (w *BatchWriter) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *BatchWriter) flush(ctx context.Context, buffer []db.OperationalTransform) []db.OperationalTransform {
	if err := w.store.SaveBatch(ctx, buffer); err != nil {
		common.Logger.WithError(err).WithField("records", humanize.Comma(int64(len(buffer)))).
			Error("operation batch flush failed, keeping records buffered")
		return buffer
	}
	common.Logger.WithField("records", humanize.Comma(int64(len(buffer)))).
		Debug("flushed operation batch")
	return buffer[:0]
}

// drain empties the inbound channel and makes a last flush attempt on
// shutdown.
func (w *BatchWriter) drain(buffer []db.OperationalTransform) {
	for {
		select {
		case record := <-w.in:
			buffer = append(buffer, record)
			continue
		default:
		}
		break
	}
	if len(buffer) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.SaveBatch(flushCtx, buffer); err != nil {
		common.Logger.WithError(err).WithField("records", len(buffer)).
			Error("final operation batch flush failed, records lost")
	}
}
