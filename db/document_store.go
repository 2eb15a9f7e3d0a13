package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"scribe.evalgo.org/common"
)

// ErrDocumentNotFound is returned when no row exists for the id.
var ErrDocumentNotFound = errors.New("document not found")

// ErrStaleCommit is returned when a commit would overwrite a row whose
// version is already ahead of the one being written.
var ErrStaleCommit = errors.New("stale commit: row version is newer")

// DocumentStore is the reconciliation engine's view of the Document
// table.
type DocumentStore interface {
	// Get loads a document row; reads may be served by a replica.
	Get(ctx context.Context, id string) (*Document, error)

	// CommitReconciled writes the reconciled content, version and log
	// offset in a single UPDATE. The write is refused when the stored
	// version is strictly greater than version (ErrStaleCommit).
	CommitReconciled(ctx context.Context, id string, data json.RawMessage, version, logOffset int64, modified time.Time) error
}

// GormDocumentStore implements DocumentStore over gorm with an optional
// read replica for Get.
type GormDocumentStore struct {
	db      *gorm.DB
	replica *gorm.DB
}

// NewDocumentStore builds a store; replica may equal db when no replica
// is configured.
func NewDocumentStore(db, replica *gorm.DB) *GormDocumentStore {
	if replica == nil {
		replica = db
	}
	return &GormDocumentStore{db: db, replica: replica}
}

func (s *GormDocumentStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.replica.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, common.NewPersistenceError("load document", err)
	}
	return &doc, nil
}

func (s *GormDocumentStore) CommitReconciled(ctx context.Context, id string, data json.RawMessage, version, logOffset int64, modified time.Time) error {
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND version <= ?", id, version).
		Updates(map[string]interface{}{
			"data":          data,
			"version":       version,
			"log_offset":    logOffset,
			"last_modified": modified,
		})
	if res.Error != nil {
		return common.NewPersistenceError("commit reconciled document", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the row vanished (external delete) or a newer version
		// is already committed; distinguish for the caller.
		var count int64
		if err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return common.NewPersistenceError("commit reconciled document", err)
		}
		if count == 0 {
			return fmt.Errorf("commit %s: %w", id, ErrDocumentNotFound)
		}
		return fmt.Errorf("commit %s at version %d: %w", id, version, ErrStaleCommit)
	}
	return nil
}
