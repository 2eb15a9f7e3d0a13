// Package presence implements the soft-state registry of which users
// occupy which document. Records live in Redis under a 30-second TTL;
// a per-document sorted set scored by last-seen time indexes the room
// and is pruned on every read.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scribe.evalgo.org/common"
)

// Selection is an optional cursor selection range.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Record is one user's presence in one document.
type Record struct {
	UserID    string     `json:"userId"`
	Name      string     `json:"name,omitempty"`
	Color     string     `json:"color,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
	LastSeen  int64      `json:"lastSeen"`
}

// StoreConfig contains the TTL windows.
type StoreConfig struct {
	// RecordTTL is the heartbeat window (default 30s). A record absent
	// or older than this is inactive.
	RecordTTL time.Duration

	// IndexTTL is refreshed on the per-document member set on every
	// write (default 5m).
	IndexTTL time.Duration
}

// Store reads and writes presence records.
type Store struct {
	client *redis.Client
	cfg    StoreConfig

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewStore builds a presence store over an existing Redis client.
func NewStore(client *redis.Client, cfg StoreConfig) *Store {
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 30 * time.Second
	}
	if cfg.IndexTTL <= 0 {
		cfg.IndexTTL = 5 * time.Minute
	}
	return &Store{client: client, cfg: cfg, now: time.Now}
}

func recordKey(documentID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", documentID, userID)
}

func indexKey(documentID string) string {
	return "doc_users:" + documentID
}

// Upsert writes a presence record with the record TTL, adds the user to
// the document's member set scored by now, and refreshes the set TTL.
// Idempotent: repeating the same payload only moves lastSeen forward.
func (s *Store) Upsert(ctx context.Context, documentID, userID string, rec Record) error {
	now := s.now()
	rec.UserID = userID
	rec.LastSeen = now.UnixMilli()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(documentID, userID), body, s.cfg.RecordTTL)
	pipe.ZAdd(ctx, indexKey(documentID), redis.Z{
		Score:  float64(rec.LastSeen),
		Member: userID,
	})
	pipe.Expire(ctx, indexKey(documentID), s.cfg.IndexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return common.NewTransientError("presence upsert failed", err)
	}
	return nil
}

// List returns the document's active users. Members whose score has
// fallen outside the heartbeat window are evicted first (the score-range
// removal is atomic in Redis, so concurrent readers are safe), and any
// member whose record TTL already expired is dropped from the result.
func (s *Store) List(ctx context.Context, documentID string) ([]Record, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.RecordTTL).UnixMilli()

	key := indexKey(documentID)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf",
		"("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, common.NewTransientError("presence eviction failed", err)
	}

	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, common.NewTransientError("presence index read failed", err)
	}
	if len(members) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = recordKey(documentID, m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, common.NewTransientError("presence record read failed", err)
	}

	out := make([]Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // record TTL expired between index read and fetch
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			common.Logger.WithError(err).Warn("dropping malformed presence record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
