package archive

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"scribe.evalgo.org/storage"
)

// blobReader is the slice of the object store the read API uses.
type blobReader interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SnapshotInfo is one archived snapshot in a listing, newest version
// first.
type SnapshotInfo struct {
	Key          string    `json:"key"`
	Version      int64     `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Handlers exposes the archive over HTTP.
type Handlers struct {
	Store      blobReader
	Archiver   *Archiver
	PresignTTL time.Duration
}

// SetupRoutes mounts the archive endpoints. Middleware (token auth in
// production) applies to the archive routes only, not to health checks.
func SetupRoutes(e *echo.Echo, h *Handlers, m ...echo.MiddlewareFunc) {
	e.GET("/documents/:documentId/snapshots", h.ListSnapshots, m...)
	e.GET("/snapshots/*", h.DownloadSnapshot, m...)
}

// ListSnapshots enumerates a document's archived history.
func (h *Handlers) ListSnapshots(c echo.Context) error {
	documentID := c.Param("documentId")
	if documentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "documentId is required"})
	}

	objects, err := h.Store.List(c.Request().Context(), h.Archiver.prefix+documentID+"/")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}

	snapshots := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		_, version, ts, ok := h.Archiver.parseKey(obj.Key)
		if !ok {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Key:          obj.Key,
			Version:      version,
			Timestamp:    ts,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Version > snapshots[j].Version })

	return c.JSON(http.StatusOK, map[string]interface{}{"snapshots": snapshots})
}

// DownloadSnapshot answers with a redirect to a time-limited signed URL
// instead of proxying the blob.
func (h *Handlers) DownloadSnapshot(c echo.Context) error {
	key := h.Archiver.prefix + c.Param("*")
	if _, _, _, ok := h.Archiver.parseKey(key); !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid snapshot key"})
	}

	ttl := h.PresignTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	url, err := h.Store.PresignGet(c.Request().Context(), key, ttl)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not sign download"})
	}
	return c.Redirect(http.StatusFound, url)
}
