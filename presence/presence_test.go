package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, StoreConfig{
		RecordTTL: 30 * time.Second,
		IndexTTL:  5 * time.Minute,
	}), mr
}

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	err := store.Upsert(ctx, "doc-1", "user-1", Record{
		Name:      "Ada",
		Color:     "#ff0000",
		Cursor:    5,
		Selection: &Selection{Start: 5, End: 11},
	})
	require.NoError(t, err)

	users, err := store.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-1", users[0].UserID)
	assert.Equal(t, "Ada", users[0].Name)
	assert.Equal(t, 5, users[0].Cursor)
	require.NotNil(t, users[0].Selection)
	assert.Equal(t, 11, users[0].Selection.End)
	assert.NotZero(t, users[0].LastSeen)
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	rec := Record{Name: "Ada", Cursor: 5}
	require.NoError(t, store.Upsert(ctx, "doc-1", "user-1", rec))
	require.NoError(t, store.Upsert(ctx, "doc-1", "user-1", rec))

	users, err := store.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestListEvictsStaleMembers(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.Upsert(ctx, "doc-1", "user-1", Record{Cursor: 0}))

	// 31 seconds later with no heartbeat: both the record TTL and the
	// index score have fallen outside the window.
	store.now = func() time.Time { return base.Add(31 * time.Second) }
	mr.FastForward(31 * time.Second)

	users, err := store.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, users)

	// Re-join at t=35s: the user reappears.
	store.now = func() time.Time { return base.Add(35 * time.Second) }
	require.NoError(t, store.Upsert(ctx, "doc-1", "user-1", Record{Cursor: 2}))

	users, err = store.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 2, users[0].Cursor)
}

func TestListDropsExpiredRecordStillIndexed(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.Upsert(ctx, "doc-1", "user-1", Record{Cursor: 0}))

	// The record key expires but the index score is still in-window:
	// the reader must drop the member rather than return a ghost.
	mr.FastForward(31 * time.Second)

	users, err := store.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestListEmptyDocument(t *testing.T) {
	store, _ := newTestStore(t)
	users, err := store.List(context.Background(), "doc-nobody")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestHandlers(t *testing.T) {
	store, _ := newTestStore(t)
	e := echo.New()
	SetupRoutes(e, &Handlers{Store: store})

	t.Run("upsert", func(t *testing.T) {
		body := `{"name":"Ada","cursor":3,"selection":{"start":3,"end":7}}`
		req := httptest.NewRequest(http.MethodPost, "/presence/doc-1/user-1", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/presence/doc-1", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "user-1")
		assert.Contains(t, rec.Body.String(), "Ada")
	})

	t.Run("upsert bad payload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/presence/doc-1/user-1", strings.NewReader("{"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClientAgainstHandlers(t *testing.T) {
	store, _ := newTestStore(t)
	e := echo.New()
	SetupRoutes(e, &Handlers{Store: store})
	srv := httptest.NewServer(e)
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Upsert(ctx, "doc-1", "user-9", UpsertRequest{
		Name:   "Grace",
		Cursor: 12,
	}))

	users, err := client.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-9", users[0].UserID)
	assert.Equal(t, 12, users[0].Cursor)
}
