// Package archive implements the snapshot archiver: it drains the
// snapshot topic into the object store and serves the archived history
// over a small read API.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/stream"
)

// blobWriter is the slice of the object store the archiver writes
// through.
type blobWriter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// Archiver persists every snapshot under
// {prefix}{documentId}/{version}-{epochMillis}.json. The blob is the
// snapshot message verbatim, so each object is self-describing.
type Archiver struct {
	store  blobWriter
	dlq    *stream.DLQ
	prefix string
}

// NewArchiver builds an archiver; dlq may be nil to drop malformed
// records with a log line only.
func NewArchiver(store blobWriter, dlq *stream.DLQ, prefix string) *Archiver {
	if prefix == "" {
		prefix = "snapshots/"
	}
	return &Archiver{store: store, dlq: dlq, prefix: prefix}
}

// HandleSnapshot archives one document-snapshots record. A store
// failure leaves the offset uncommitted for redelivery; archiving the
// same snapshot twice just overwrites the same key.
func (a *Archiver) HandleSnapshot(ctx context.Context, record *stream.Record) error {
	var msg stream.SnapshotMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		common.Logger.WithError(err).WithField("offset", record.Offset).
			Warn("skipping malformed snapshot record")
		if a.dlq != nil {
			a.dlq.Send(ctx, record.Topic, record.Value, fmt.Errorf("malformed snapshot: %w", err))
		}
		return nil
	}
	if msg.DocumentID == "" {
		common.Logger.WithField("offset", record.Offset).Warn("skipping snapshot without document id")
		return nil
	}

	key := a.Key(msg.DocumentID, msg.Version, msg.Timestamp)
	if err := a.store.PutJSON(ctx, key, record.Value); err != nil {
		common.Logger.WithError(err).WithField("key", key).Error("snapshot archive failed")
		return err
	}

	common.Logger.WithFields(map[string]interface{}{
		"document_id": msg.DocumentID,
		"version":     msg.Version,
		"key":         key,
		"size":        humanize.Bytes(uint64(len(record.Value))),
	}).Debug("snapshot archived")
	return nil
}

// Key builds the object key for one snapshot.
func (a *Archiver) Key(documentID string, version, timestampMillis int64) string {
	return fmt.Sprintf("%s%s/%d-%d.json", a.prefix, documentID, version, timestampMillis)
}

// parseKey inverts Key. Objects that do not match the layout report
// ok false and are skipped by listings.
func (a *Archiver) parseKey(key string) (documentID string, version int64, ts time.Time, ok bool) {
	rest, found := strings.CutPrefix(key, a.prefix)
	if !found {
		return "", 0, time.Time{}, false
	}
	documentID, name, found := strings.Cut(rest, "/")
	if !found || documentID == "" {
		return "", 0, time.Time{}, false
	}
	name, found = strings.CutSuffix(name, ".json")
	if !found || strings.Contains(name, "/") {
		return "", 0, time.Time{}, false
	}
	versionPart, tsPart, found := strings.Cut(name, "-")
	if !found {
		return "", 0, time.Time{}, false
	}
	version, err := strconv.ParseInt(versionPart, 10, 64)
	if err != nil {
		return "", 0, time.Time{}, false
	}
	millis, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return "", 0, time.Time{}, false
	}
	return documentID, version, time.UnixMilli(millis), true
}
