package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe.evalgo.org/storage"
	"scribe.evalgo.org/stream"
)

func snapshotRecord(t *testing.T, msg stream.SnapshotMessage) *stream.Record {
	t.Helper()
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return &stream.Record{Topic: stream.TopicSnapshots, Key: []byte(msg.DocumentID), Value: value}
}

func TestHandleSnapshotArchivesBlob(t *testing.T) {
	client := storage.NewMockS3Client()
	store := storage.NewBlobStore(client, nil, "scribe-snapshots")
	archiver := NewArchiver(store, nil, "snapshots/")
	ctx := context.Background()

	msg := stream.SnapshotMessage{
		DocumentID: "doc-1",
		Data:       json.RawMessage(`[{"insert":"Hello"}]`),
		Version:    3,
		Timestamp:  1700000000000,
	}
	require.NoError(t, archiver.HandleSnapshot(ctx, snapshotRecord(t, msg)))

	key := "snapshots/doc-1/3-1700000000000.json"
	body, err := store.Get(ctx, key)
	require.NoError(t, err)

	var stored stream.SnapshotMessage
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, "doc-1", stored.DocumentID)
	assert.Equal(t, int64(3), stored.Version)
}

func TestHandleSnapshotStoreFailureLeavesOffsetUncommitted(t *testing.T) {
	client := storage.NewMockS3Client()
	client.Err = fmt.Errorf("store down")
	archiver := NewArchiver(storage.NewBlobStore(client, nil, "b"), nil, "snapshots/")

	err := archiver.HandleSnapshot(context.Background(), snapshotRecord(t, stream.SnapshotMessage{
		DocumentID: "doc-1",
		Version:    1,
		Timestamp:  100,
	}))
	assert.Error(t, err)
}

func TestHandleSnapshotMalformedIsDeadLettered(t *testing.T) {
	pub := stream.NewMockPublisher()
	archiver := NewArchiver(storage.NewBlobStore(storage.NewMockS3Client(), nil, "b"),
		stream.NewDLQ(pub, "test"), "snapshots/")

	err := archiver.HandleSnapshot(context.Background(), &stream.Record{
		Topic: stream.TopicSnapshots,
		Value: []byte("not json"),
	})
	require.NoError(t, err)
	assert.Len(t, pub.TopicRecords(stream.TopicDLQ), 1)
}

func TestParseKeyRoundTrip(t *testing.T) {
	archiver := NewArchiver(nil, nil, "snapshots/")

	key := archiver.Key("doc-1", 7, 1700000000000)
	doc, version, ts, ok := archiver.parseKey(key)
	require.True(t, ok)
	assert.Equal(t, "doc-1", doc)
	assert.Equal(t, int64(7), version)
	assert.Equal(t, time.UnixMilli(1700000000000), ts)

	for _, bad := range []string{
		"other/doc-1/7-100.json",
		"snapshots/7-100.json",
		"snapshots/doc-1/extra/7-100.json",
		"snapshots/doc-1/7.json",
		"snapshots/doc-1/x-100.json",
	} {
		_, _, _, ok := archiver.parseKey(bad)
		assert.False(t, ok, bad)
	}
}

func newTestAPI(t *testing.T) (*storage.BlobStore, *Archiver, *echo.Echo) {
	t.Helper()
	client := storage.NewMockS3Client()
	presigner := &storage.MockPresigner{BaseURL: "https://minio.local/scribe-snapshots"}
	store := storage.NewBlobStore(client, presigner, "scribe-snapshots")
	archiver := NewArchiver(store, nil, "snapshots/")

	e := echo.New()
	SetupRoutes(e, &Handlers{Store: store, Archiver: archiver, PresignTTL: 5 * time.Minute})
	return store, archiver, e
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	_, archiver, e := newTestAPI(t)
	ctx := context.Background()

	for version, ts := range map[int64]int64{1: 100, 3: 300, 2: 200} {
		require.NoError(t, archiver.HandleSnapshot(ctx, snapshotRecord(t, stream.SnapshotMessage{
			DocumentID: "doc-1",
			Data:       json.RawMessage(`[]`),
			Version:    version,
			Timestamp:  ts,
		})))
	}

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-1/snapshots", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Snapshots []SnapshotInfo `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Snapshots, 3)
	assert.Equal(t, int64(3), payload.Snapshots[0].Version)
	assert.Equal(t, int64(1), payload.Snapshots[2].Version)
	assert.Equal(t, "snapshots/doc-1/3-300.json", payload.Snapshots[0].Key)
	assert.NotZero(t, payload.Snapshots[0].Size)
}

func TestListSnapshotsEmptyDocument(t *testing.T) {
	_, _, e := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-nobody/snapshots", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"snapshots":[]}`, rec.Body.String())
}

func TestDownloadSnapshotRedirects(t *testing.T) {
	_, archiver, e := newTestAPI(t)
	require.NoError(t, archiver.HandleSnapshot(context.Background(), snapshotRecord(t, stream.SnapshotMessage{
		DocumentID: "doc-1",
		Version:    3,
		Timestamp:  300,
	})))

	req := httptest.NewRequest(http.MethodGet, "/snapshots/doc-1/3-300.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "snapshots/doc-1/3-300.json")
	assert.Contains(t, location, "signed=true")
}

func TestDownloadSnapshotRejectsBadKey(t *testing.T) {
	_, _, e := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/snapshots/doc-1/garbage", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
