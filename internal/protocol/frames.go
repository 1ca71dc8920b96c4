// Package protocol defines the frame protocol between clients and the chat
// service. Each frame kind has its own struct carrying only its relevant
// fields; the Type discriminator selects the variant.
package protocol

import (
	"encoding/json"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// Frame types from client to server
const (
	TypePing        = "ping"
	TypeResume      = "resume"
	TypeUserMessage = "user_message"
	TypeStop        = "stop"
)

// Frame types from server to client
const (
	TypePong            = "pong"
	TypeResumeAck       = "resume_ack"
	TypeResumeThinking  = "resume_thinking"
	TypeResumeMessaging = "resume_messaging"
	TypeCreateChat      = "create_chat"
	TypeUpdateChat      = "update_chat"
	TypeInit            = "init"
	TypeCheckingTitle   = "checking_title"
	TypeGeneratedTitle  = "generated_title"
	TypeStartThinking   = "start_thinking"
	TypeThinking        = "thinking"
	TypeEndThinking     = "end_thinking"
	TypeStartMessaging  = "start_messaging"
	TypeMessaging       = "messaging"
	TypeEndMessaging    = "end_messaging"
	TypeConfirmation    = "confirmation"
	TypeEndConfirmation = "end_confirmation"
	TypeComplete        = "complete"
	TypeError           = "error"
)

// ClientEvent is the envelope used to dispatch incoming frames before the
// variant is decoded.
type ClientEvent struct {
	Type        string           `json:"type"`
	ChatID      string           `json:"chat_id,omitempty"`
	Message     json.RawMessage  `json:"message,omitempty"`
	UploadFiles []domain.FileRef `json:"upload_files,omitempty"`
}

// ConfirmationReply is the structured form of a user_message frame's
// message field when it answers a pending confirmation.
type ConfirmationReply struct {
	MsgID   string             `json:"msg_id"`
	Approve domain.ApproveType `json:"approve"`
	Data    *ApprovalData      `json:"data,omitempty"`
}

// ApprovalData carries the optional payload of an update or feedback reply.
type ApprovalData struct {
	Args     map[string]any `json:"args,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
}

// DecodeMessage splits a user_message frame's message field into either
// free text or a confirmation reply.
func (e *ClientEvent) DecodeMessage() (text string, reply *ConfirmationReply, err error) {
	if len(e.Message) == 0 {
		return "", nil, nil
	}
	if err := json.Unmarshal(e.Message, &text); err == nil {
		return text, nil, nil
	}
	var r ConfirmationReply
	if err := json.Unmarshal(e.Message, &r); err != nil {
		return "", nil, err
	}
	return "", &r, nil
}

// PongFrame answers a ping.
type PongFrame struct {
	Type string `json:"type"`
}

func Pong() PongFrame { return PongFrame{Type: TypePong} }

// ChatFrame announces chat creation or a last-activity bump.
type ChatFrame struct {
	Type      string  `json:"type"`
	ChatID    string  `json:"chat_id"`
	Content   string  `json:"content,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// TitleFrame carries the title generation lifecycle.
type TitleFrame struct {
	Type      string  `json:"type"`
	ChatID    string  `json:"chat_id"`
	Content   string  `json:"content,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// MessageFrame is the content-bearing frame for user echo, thinking and
// assistant segments, and resume replays.
type MessageFrame struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	Role      domain.ChatRole  `json:"role"`
	GroupID   string           `json:"group_id,omitempty"`
	Timestamp float64          `json:"timestamp"`
	Content   string           `json:"content"`
	Files     []domain.FileRef `json:"files,omitempty"`
}

// SegmentFrame builds a MessageFrame of the given type from a segment.
func SegmentFrame(frameType string, seg domain.Segment) MessageFrame {
	return MessageFrame{
		Type:      frameType,
		ID:        seg.ID,
		ChatID:    seg.ChatID,
		Role:      seg.Role,
		GroupID:   seg.GroupID,
		Timestamp: seg.Timestamp,
		Content:   seg.Content,
	}
}

// ConfirmationFrame carries a confirmation request or its resolution.
type ConfirmationFrame struct {
	Type      string              `json:"type"`
	ID        string              `json:"id"`
	ChatID    string              `json:"chat_id"`
	Role      domain.ChatRole     `json:"role"`
	GroupID   string              `json:"group_id,omitempty"`
	Timestamp float64             `json:"timestamp"`
	Content   domain.Confirmation `json:"content"`
}

// ResumeAckFrame terminates a resume replay.
type ResumeAckFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// CompleteFrame signals the end of a turn.
type CompleteFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
}

// ErrorFrame reports a recoverable protocol or server error.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}
