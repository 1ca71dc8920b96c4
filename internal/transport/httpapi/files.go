package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SearchFiles searches the user's uploaded documents.
// GET /v1/files/search?user_id=...&q=...&limit=10
func (h *Handler) SearchFiles(c echo.Context) error {
	userID := c.QueryParam("user_id")
	query := c.QueryParam("q")
	if userID == "" || query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id and q are required"})
	}
	limit := parseLimit(c, 10)

	ctx := c.Request().Context()

	hits, err := h.searcher.Search(ctx, userID, query, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"hits": hits,
	})
}
