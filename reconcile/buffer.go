// Package reconcile implements the reconciliation engine: the single
// writer that consumes raw edits off the shared log in partition order,
// transforms them against concurrent history, applies them to the
// canonical document and commits the result.
package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"scribe.evalgo.org/db"
	"scribe.evalgo.org/delta"
)

// versionedOp is one applied operation in transformed form, tagged with
// the server version it produced.
type versionedOp struct {
	version int64
	op      *delta.Delta
}

// Buffer is the in-memory working state of one document, owned by
// exactly one engine worker. Concurrency control lives in the routing,
// not here.
type Buffer struct {
	documentID string
	content    *delta.Delta

	// version counts reconciled operations; it seeds from the stored
	// row and never moves backwards.
	version int64

	// logOffset is the highest shared-log offset folded into content,
	// the duplicate guard after rebalances and restarts.
	logOffset int64

	// history holds the last applied ops in transformed form, oldest
	// first, bounded by limit.
	history []versionedOp
	limit   int

	dirty bool

	// snapshotPending marks a committed version whose snapshot publish
	// has not succeeded yet; the flush loop keeps retrying it.
	snapshotPending bool

	lastTouched time.Time
}

// newBuffer seeds a buffer from a stored document row.
func newBuffer(doc *db.Document, limit int) (*Buffer, error) {
	content := delta.New()
	if len(doc.Data) > 0 && string(doc.Data) != "null" {
		parsed, err := delta.Parse(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("stored content of %s is not a valid delta: %w", doc.ID, err)
		}
		content = parsed
	}
	if limit <= 0 {
		limit = 100
	}
	return &Buffer{
		documentID: doc.ID,
		content:    content,
		version:    doc.Version,
		logOffset:  doc.LogOffset,
		limit:      limit,
	}, nil
}

// transformSince rewrites op against every historical op the client had
// not seen. clientVersion is untrusted: it is clamped into the window
// the ring still covers, so a lying or long-offline client transforms
// against the whole ring instead of failing.
func (b *Buffer) transformSince(op *delta.Delta, clientVersion int64) *delta.Delta {
	if clientVersion > b.version {
		clientVersion = b.version
	}
	if len(b.history) > 0 {
		if oldest := b.history[0].version - 1; clientVersion < oldest {
			clientVersion = oldest
		}
	}
	for _, entry := range b.history {
		if entry.version <= clientVersion {
			continue
		}
		op = delta.Transform(op, entry.op, delta.Left)
	}
	return op
}

// advance records one reconciled operation: content moves to next, the
// version increments and op joins the history ring. A no-op op keeps
// the numbering consistent when an apply was refused.
func (b *Buffer) advance(next *delta.Delta, op *delta.Delta, offset int64, now time.Time) {
	b.content = next
	b.version++
	b.logOffset = offset
	b.history = append(b.history, versionedOp{version: b.version, op: op})
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	b.dirty = true
	b.lastTouched = now
}

// snapshot marshals the current content for persistence.
func (b *Buffer) snapshot() (json.RawMessage, error) {
	return json.Marshal(b.content)
}
