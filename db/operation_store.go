package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scribe.evalgo.org/common"
)

// OperationStore is the gateway batch writer's view of the append-only
// OperationalTransform table.
type OperationStore interface {
	// SaveBatch bulk-inserts raw operation records, silently skipping
	// duplicates (records re-flushed after a partial failure).
	SaveBatch(ctx context.Context, records []OperationalTransform) error
}

// GormOperationStore implements OperationStore over gorm.
type GormOperationStore struct {
	db *gorm.DB
}

func NewOperationStore(db *gorm.DB) *GormOperationStore {
	return &GormOperationStore{db: db}
}

func (s *GormOperationStore) SaveBatch(ctx context.Context, records []OperationalTransform) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].Fingerprint == "" {
			records[i].Fingerprint = Fingerprint(&records[i])
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, len(records)).Error
	if err != nil {
		return common.NewPersistenceError("save operation batch", err)
	}
	return nil
}

// Fingerprint derives the duplicate-skip key for a raw operation record.
// Identical content re-submitted after a failed flush lands on the same
// key and is dropped by the ON CONFLICT clause.
func Fingerprint(r *OperationalTransform) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|", r.DocumentID, r.UserID, r.Version)
	h.Write(r.Operation)
	return hex.EncodeToString(h.Sum(nil))
}
