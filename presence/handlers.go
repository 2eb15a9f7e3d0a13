package presence

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the presence store over HTTP.
type Handlers struct {
	Store *Store
}

// SetupRoutes mounts the tracker endpoints.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.POST("/presence/:documentId/:userId", h.Upsert)
	e.GET("/presence/:documentId", h.List)
}

// UpsertRequest is the write payload. Cursor is required; the rest is
// optional decoration.
type UpsertRequest struct {
	Name      string     `json:"name,omitempty"`
	Color     string     `json:"color,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
}

func (h *Handlers) Upsert(c echo.Context) error {
	documentID := c.Param("documentId")
	userID := c.Param("userId")
	if documentID == "" || userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "documentId and userId are required"})
	}

	var req UpsertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	rec := Record{
		Name:      req.Name,
		Color:     req.Color,
		Cursor:    req.Cursor,
		Selection: req.Selection,
	}
	if err := h.Store.Upsert(c.Request().Context(), documentID, userID, rec); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "presence write failed"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) List(c echo.Context) error {
	documentID := c.Param("documentId")
	if documentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "documentId is required"})
	}

	users, err := h.Store.List(c.Request().Context(), documentID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "presence read failed"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"users": users})
}
