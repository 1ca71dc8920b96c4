package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// GetChats retrieves the user's chats, newest first.
// GET /v1/chats?user_id=...&limit=20&cursor=...
func (h *Handler) GetChats(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	limit := parseLimit(c, 20)
	cursor := c.QueryParam("cursor")

	ctx := c.Request().Context()

	page, err := h.store.GetChats(ctx, userID, limit, cursor)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, page)
}

// GetChatMessages retrieves messages for a chat, newest first.
// GET /v1/chats/:chat_id/messages?limit=50&cursor=...
func (h *Handler) GetChatMessages(c echo.Context) error {
	chatID := c.Param("chat_id")
	limit := parseLimit(c, 50)
	cursor := c.QueryParam("cursor")

	ctx := c.Request().Context()

	page, err := h.store.GetMessages(ctx, chatID, limit, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "chat not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, page)
}

func parseLimit(c echo.Context, fallback int) int {
	limit := fallback
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}
