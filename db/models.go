package db

import (
	"encoding/json"
	"time"
)

// Document is the durable canonical state of one collaborative document.
// The row is created by the external document service; only the
// reconciliation engine's commit path mutates Data, Version, LogOffset
// and LastModified.
type Document struct {
	// ID is the opaque document id (UUID), assigned externally.
	ID string `gorm:"primaryKey;size:64" json:"id"`

	// Title is owned by the document service and read-only here.
	Title string `gorm:"size:512" json:"title"`

	// Data is the reconciled rich-text delta, opaque JSON to everything
	// except the reconciliation engine.
	Data json.RawMessage `gorm:"type:jsonb" json:"data"`

	// Version strictly increases with every reconciled operation and
	// never rolls back on recovery.
	Version int64 `gorm:"not null;default:0" json:"version"`

	// LogOffset is the shared-log offset of the last applied change.
	// It is committed in the same UPDATE as Data and Version so a
	// restarted reconciler can skip already-applied records.
	LogOffset int64 `gorm:"not null;default:-1" json:"logOffset"`

	// OwnerID is authorisation input owned by the document service.
	OwnerID string `gorm:"size:64;index" json:"ownerId"`

	LastModified time.Time `json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OperationalTransform is one raw client edit as received by a gateway,
// persisted append-only in batches. Insertion order within a document
// equals gateway receipt order on that instance; the reconciled log is
// the global authority.
type OperationalTransform struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID string          `gorm:"size:64;index;not null" json:"documentId"`
	UserID     string          `gorm:"size:64;not null" json:"userId"`
	Operation  json.RawMessage `gorm:"type:jsonb" json:"operation"`

	// Version is the client-sent base version at time of issuance,
	// opaque as a clock.
	Version int64 `json:"version"`

	// Fingerprint deduplicates re-flushed records after a failed batch
	// write (documentId + userId + version + operation hash).
	Fingerprint string `gorm:"size:128;uniqueIndex" json:"-"`

	Timestamp time.Time `json:"timestamp"`
}
