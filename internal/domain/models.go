package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChatTitle is the title assigned to a chat until one is generated.
const DefaultChatTitle = "New Chat"

// Chat represents a conversation owned by a user.
type Chat struct {
	ChatID    string  `json:"chat_id"`
	UserID    string  `json:"user_id"`
	Title     string  `json:"title"`
	TitleSet  bool    `json:"title_set"`
	Timestamp float64 `json:"timestamp"`
}

// FileRef is a reference to an uploaded file attached to a message.
type FileRef struct {
	FileID string `json:"file_id"`
	Name   string `json:"name,omitempty"`
}

// Confirmation is the structured payload of a confirmation message.
type Confirmation struct {
	Name    string         `json:"name"`
	Args    map[string]any `json:"args"`
	Approve ApproveType    `json:"approve"`
}

// ChatMessage represents a persisted message. For role "confirmation" the
// Confirmation field carries the structured payload; Content is empty.
type ChatMessage struct {
	MessageID    string        `json:"id"`
	ChatID       string        `json:"chat_id"`
	GroupID      string        `json:"group_id,omitempty"`
	Role         ChatRole      `json:"role"`
	Content      string        `json:"content"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Timestamp    float64       `json:"timestamp"`
	Files        []FileRef     `json:"files,omitempty"`
}

// Empty reports whether the message has no persistable content.
func (m *ChatMessage) Empty() bool {
	return m.Confirmation == nil && strings.TrimSpace(m.Content) == ""
}

// Segment is an in-memory run of same-kind streamed content. It is not
// persisted until the turn finalizes it into a ChatMessage.
type Segment struct {
	ID        string   `json:"id"`
	ChatID    string   `json:"chat_id"`
	GroupID   string   `json:"group_id"`
	Role      ChatRole `json:"role"`
	Content   string   `json:"content"`
	Timestamp float64  `json:"timestamp"`
	Thinking  bool     `json:"thinking"`
}

// Message converts a finalized segment into its persistable form.
func (s *Segment) Message() ChatMessage {
	return ChatMessage{
		MessageID: s.ID,
		ChatID:    s.ChatID,
		GroupID:   s.GroupID,
		Role:      s.Role,
		Content:   strings.TrimSpace(s.Content),
		Timestamp: s.Timestamp,
	}
}

// PendingConfirmation is the ephemeral cache record keyed by the
// confirmation message id, holding everything needed to resume or cancel
// the paused agent graph.
type PendingConfirmation struct {
	GroupID        string         `json:"group_id"`
	ToolCallID     string         `json:"tool_call_id"`
	ToolName       string         `json:"tool_name"`
	ToolArgs       map[string]any `json:"tool_args"`
	LastMessageIDs []string       `json:"last_message_ids"`
	UserText       string         `json:"user_text"`
}

// ProgressEntry is the ephemeral cache record keyed by chat id, holding the
// in-flight segment so a reconnecting client can replay it.
type ProgressEntry struct {
	Current  *Segment `json:"current"`
	Thinking bool     `json:"thinking"`
}

// Connector links a user to an external account (e.g. gmail).
type Connector struct {
	UserID        string `json:"user_id"`
	ConnectorType string `json:"connector_type"`
	ConnectorID   string `json:"connector_id"`
}

// MessagePage is a cursor-paginated slice of a chat's history.
type MessagePage struct {
	Total      int           `json:"total"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Messages   []ChatMessage `json:"messages"`
}

// ChatPage is a cursor-paginated slice of a user's chats.
type ChatPage struct {
	Total      int    `json:"total"`
	NextCursor string `json:"next_cursor,omitempty"`
	Chats      []Chat `json:"chats"`
}

// NowTimestamp returns the current time as float epoch seconds, the
// timestamp representation used on frames and in the store.
func NowTimestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewID returns a fresh unique identifier.
func NewID() string {
	return uuid.New().String()
}
