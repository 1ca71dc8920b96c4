// Package store provides durable persistence for chats and messages.
package store

import (
	"context"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// Store is the persistence interface consumed by the session controller
// and the HTTP API.
type Store interface {
	// UpsertChat bumps the chat's last-activity timestamp, or creates a new
	// chat with the default title when chatID is empty. Returns
	// domain.ErrChatNotFound when a non-empty chatID does not belong to the
	// user.
	UpsertChat(ctx context.Context, userID, chatID string) (created bool, chat *domain.Chat, err error)

	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	UpdateChatTitle(ctx context.Context, userID, chatID, title string) (*domain.Chat, error)

	CreateMessage(ctx context.Context, msg *domain.ChatMessage) error
	// CreateMessages persists a batch of finalized segments in order,
	// skipping messages whose trimmed content is empty.
	CreateMessages(ctx context.Context, msgs []domain.ChatMessage) error
	// UpdateConfirmationApprove mutates a confirmation message in place with
	// the final approval payload.
	UpdateConfirmationApprove(ctx context.Context, chatID, messageID string, c domain.Confirmation) (*domain.ChatMessage, error)

	GetMessages(ctx context.Context, chatID string, limit int, cursor string) (*domain.MessagePage, error)
	GetChats(ctx context.Context, userID string, limit int, cursor string) (*domain.ChatPage, error)

	GetUserFullname(ctx context.Context, userID string) (string, error)
	GetConnectors(ctx context.Context, userID string) ([]domain.Connector, error)

	AddChatFiles(ctx context.Context, chatID string, files []domain.FileRef) error
	GetChatFiles(ctx context.Context, chatID string) ([]domain.FileRef, error)

	Close() error
}
