package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/db"
	"scribe.evalgo.org/delta"
	"scribe.evalgo.org/stream"
)

// Config carries the engine settings.
type Config struct {
	// Workers is the number of document-actor goroutines. A document is
	// pinned to one worker by id hash, so per-document processing is
	// single-threaded.
	Workers int

	// HistoryLimit bounds each buffer's transform history ring.
	HistoryLimit int

	// FlushInterval is the dirty-buffer commit cadence.
	FlushInterval time.Duration

	// EvictInterval and IdleTTL control dropping clean idle buffers.
	EvictInterval time.Duration
	IdleTTL       time.Duration
}

// Engine consumes raw edits, reconciles them per document and commits
// the results. One engine instance owns the partitions its consumer
// group assigns it; within the instance each document is owned by one
// worker goroutine.
type Engine struct {
	cfg     Config
	docs    db.DocumentStore
	pub     stream.Publisher
	dlq     *stream.DLQ
	workers []*worker

	// now is injectable for tests.
	now func() time.Time

	stopOnce sync.Once
}

// NewEngine builds an engine; call Start before handing records to it.
func NewEngine(cfg Config, docs db.DocumentStore, pub stream.Publisher, dlq *stream.DLQ) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 5 * time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Engine{
		cfg:  cfg,
		docs: docs,
		pub:  pub,
		dlq:  dlq,
		now:  time.Now,
	}
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.workers = make([]*worker, e.cfg.Workers)
	for i := range e.workers {
		w := newWorker(e, i)
		e.workers[i] = w
		go w.run(ctx)
	}
}

// Stop flushes every dirty buffer and terminates the workers.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		for _, w := range e.workers {
			w.stopAndWait()
		}
	})
}

// HandleChange processes one document-changes record. It blocks until
// the owning worker has reconciled the edit, so a nil return really
// means the offset may be committed.
func (e *Engine) HandleChange(ctx context.Context, record *stream.Record) error {
	documentID := string(record.Key)
	if documentID == "" {
		var probe struct {
			DocumentID string `json:"documentId"`
		}
		if err := json.Unmarshal(record.Value, &probe); err != nil || probe.DocumentID == "" {
			e.dlq.Send(ctx, record.Topic, record.Value, fmt.Errorf("record carries no document id"))
			return nil
		}
		documentID = probe.DocumentID
	}
	return e.workerFor(documentID).submit(ctx, task{record: record})
}

// HandleEvent processes one document-events record: an external write or
// delete invalidates the cached buffer so the next edit reloads from the
// store.
func (e *Engine) HandleEvent(ctx context.Context, record *stream.Record) error {
	var msg stream.EventMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		common.Logger.WithError(err).WithField("offset", record.Offset).
			Warn("skipping malformed event record")
		return nil
	}
	switch msg.Type {
	case stream.EventDocumentUpdated, stream.EventDocumentDeleted:
		if msg.DocumentID == "" {
			return nil
		}
		return e.workerFor(msg.DocumentID).submit(ctx, task{drop: msg.DocumentID})
	default:
		return nil
	}
}

// FlushAll synchronously commits every dirty buffer. Used on demand and
// in tests; the per-worker ticker does this continuously in production.
func (e *Engine) FlushAll(ctx context.Context) {
	for _, w := range e.workers {
		_ = w.submit(ctx, task{flush: true})
	}
}

func (e *Engine) workerFor(documentID string) *worker {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return e.workers[int(h.Sum32())%len(e.workers)]
}

// task is one unit of worker input. Exactly one of record, drop and
// flush is set.
type task struct {
	record *stream.Record
	drop   string
	flush  bool
	done   chan error
}

// worker is one document actor loop: it owns the buffers of the
// documents hashed to it and is the only goroutine touching them.
type worker struct {
	engine  *Engine
	index   int
	tasks   chan task
	stop    chan struct{}
	stopped chan struct{}

	buffers map[string]*Buffer
}

func newWorker(e *Engine, index int) *worker {
	return &worker{
		engine:  e,
		index:   index,
		tasks:   make(chan task),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		buffers: make(map[string]*Buffer),
	}
}

// submit hands a task to the worker and waits for it.
func (w *worker) submit(ctx context.Context, t task) error {
	t.done = make(chan error, 1)
	select {
	case w.tasks <- t:
	case <-w.stopped:
		return common.NewTransientError("reconciler stopped", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-w.stopped:
		return common.NewTransientError("reconciler stopped", nil)
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.stopped)

	flushTick := time.NewTicker(w.engine.cfg.FlushInterval)
	defer flushTick.Stop()
	evictTick := time.NewTicker(w.engine.cfg.EvictInterval)
	defer evictTick.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush()
			return
		case <-w.stop:
			w.finalFlush()
			return
		case t := <-w.tasks:
			var err error
			switch {
			case t.record != nil:
				err = w.processRecord(ctx, t.record)
			case t.drop != "":
				w.dropBuffer(t.drop)
			case t.flush:
				w.flushDirty(ctx)
			}
			t.done <- err
		case <-flushTick.C:
			w.flushDirty(ctx)
		case <-evictTick.C:
			w.evictIdle()
		}
	}
}

func (w *worker) stopAndWait() {
	close(w.stop)
	<-w.stopped
}

// processRecord reconciles one raw edit. A nil return commits the
// offset; only infrastructure failures (store unreachable) surface as
// errors so the record is redelivered.
func (w *worker) processRecord(ctx context.Context, record *stream.Record) error {
	e := w.engine

	var msg stream.ChangeMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		e.dlq.Send(ctx, record.Topic, record.Value, fmt.Errorf("malformed change message: %w", err))
		return nil
	}

	op, err := delta.Parse(msg.Operation)
	if err != nil {
		e.dlq.Send(ctx, record.Topic, record.Value,
			common.NewReconciliationError("operation is not a valid delta", err))
		return nil
	}

	log := common.Logger.WithField("document_id", msg.DocumentID)

	buf, err := w.buffer(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			log.Warn("edit for unknown document, dead-lettering")
			e.dlq.Send(ctx, record.Topic, record.Value, err)
			return nil
		}
		return err
	}

	// Redelivery after a rebalance or restart: already folded in.
	if record.Offset <= buf.logOffset {
		log.WithField("offset", record.Offset).Debug("skipping already applied record")
		return nil
	}

	transformed := buf.transformSince(op, msg.Version)

	next, applyErr := delta.Apply(buf.content, transformed)
	histOp := transformed
	if applyErr != nil {
		// The edit is unusable but the stream must keep moving: the
		// version still advances (with a no-op in history) and the ack
		// still goes out, so no client stalls on a poisoned edit.
		log.WithError(applyErr).Error("operation does not apply, dead-lettering")
		// applyErr already carries the protocol kind; wrapping it as a
		// reconciliation failure would misclassify a client-side edit.
		e.dlq.Send(ctx, record.Topic, record.Value, applyErr)
		next = buf.content
		histOp = delta.New()
	}

	buf.advance(next, histOp, record.Offset, e.now())

	ack := stream.UpdateMessage{
		DocumentID:    msg.DocumentID,
		Version:       msg.Version,
		Status:        stream.StatusSynced,
		UserID:        msg.UserID,
		ServerVersion: buf.version,
		Timestamp:     e.now().UnixMilli(),
	}
	if err := e.pub.PublishJSON(ctx, stream.TopicUpdates, msg.DocumentID, ack); err != nil {
		// The reconciled state is safe (dirty flush will commit it);
		// clients recover the lost ack through their next sync.
		log.WithError(err).Error("failed to publish sync acknowledgement")
	}
	return nil
}

// buffer returns the cached working state, loading it from the store on
// first touch.
func (w *worker) buffer(ctx context.Context, documentID string) (*Buffer, error) {
	if buf, ok := w.buffers[documentID]; ok {
		return buf, nil
	}
	doc, err := w.engine.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	buf, err := newBuffer(doc, w.engine.cfg.HistoryLimit)
	if err != nil {
		// Corrupt stored content: start from empty rather than wedging
		// the partition on one document.
		common.Logger.WithError(err).WithField("document_id", documentID).
			Error("stored content unusable, reconciling from empty")
		buf, _ = newBuffer(&db.Document{ID: documentID, Version: doc.Version, LogOffset: doc.LogOffset},
			w.engine.cfg.HistoryLimit)
	}
	buf.lastTouched = w.engine.now()
	w.buffers[documentID] = buf
	return buf, nil
}

func (w *worker) dropBuffer(documentID string) {
	if _, ok := w.buffers[documentID]; ok {
		common.Logger.WithField("document_id", documentID).
			Info("dropping buffer after external document event")
		delete(w.buffers, documentID)
	}
}

// flushDirty commits every dirty buffer and publishes a snapshot for
// each committed version. A failed commit keeps the buffer dirty for
// the next tick; a failed snapshot publish keeps the buffer
// snapshot-pending so the publish is retried; a stale or vanished row
// drops the buffer so the next edit reloads authoritative state.
func (w *worker) flushDirty(ctx context.Context) {
	e := w.engine
	for id, buf := range w.buffers {
		if !buf.dirty && !buf.snapshotPending {
			continue
		}
		log := common.Logger.WithFields(map[string]interface{}{
			"document_id": id,
			"version":     buf.version,
		})

		data, err := buf.snapshot()
		if err != nil {
			log.WithError(err).Error("failed to marshal reconciled content")
			continue
		}

		if buf.dirty {
			err = e.docs.CommitReconciled(ctx, id, data, buf.version, buf.logOffset, e.now())
			switch {
			case err == nil:
				buf.dirty = false
				buf.snapshotPending = true
			case errors.Is(err, db.ErrStaleCommit), errors.Is(err, db.ErrDocumentNotFound):
				log.WithError(err).Warn("buffer superseded, dropping")
				delete(w.buffers, id)
				continue
			default:
				log.WithError(err).Error("commit failed, keeping buffer dirty")
				continue
			}
		}

		snap := stream.SnapshotMessage{
			DocumentID: id,
			Data:       data,
			Version:    buf.version,
			Timestamp:  e.now().UnixMilli(),
		}
		if err := e.pub.PublishJSON(ctx, stream.TopicSnapshots, id, snap); err != nil {
			log.WithError(err).Warn("failed to publish snapshot, retrying next flush")
			continue
		}
		buf.snapshotPending = false
	}
}

// evictIdle drops clean buffers untouched for longer than the TTL. A
// buffer still owing a commit or a snapshot publish is never evicted.
func (w *worker) evictIdle() {
	cutoff := w.engine.now().Add(-w.engine.cfg.IdleTTL)
	for id, buf := range w.buffers {
		if !buf.dirty && !buf.snapshotPending && buf.lastTouched.Before(cutoff) {
			delete(w.buffers, id)
		}
	}
}

// finalFlush makes a last commit attempt on shutdown with a fresh
// context.
func (w *worker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.flushDirty(ctx)
}
