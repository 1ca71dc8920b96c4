// Package httpapi provides the REST API for chat history and document
// search.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/my-personal-agent/chat-service/internal/search"
	"github.com/my-personal-agent/chat-service/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store    store.Store
	searcher search.Searcher
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, searcher search.Searcher) *Handler {
	return &Handler{
		store:    st,
		searcher: searcher,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/chats", h.GetChats)
	e.GET("/v1/chats/:chat_id/messages", h.GetChatMessages)
	e.GET("/v1/files/search", h.SearchFiles)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
