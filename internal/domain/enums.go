// Package domain defines the core domain models for the chat service.
package domain

// ChatRole represents the role of a chat message.
type ChatRole string

const (
	RoleUser         ChatRole = "user"
	RoleAssistant    ChatRole = "assistant"
	RoleSystem       ChatRole = "system"
	RoleConfirmation ChatRole = "confirmation"
)

// ApproveType represents the approval state of a confirmation.
type ApproveType string

const (
	ApproveAsking   ApproveType = "asking"
	ApproveAccept   ApproveType = "accept"
	ApproveUpdate   ApproveType = "update"
	ApproveFeedback ApproveType = "feedback"
	ApproveCancel   ApproveType = "cancel"
)

// ValidApproval reports whether v is a client-submittable approval value.
// "asking" is server-assigned and never accepted from clients.
func ValidApproval(v ApproveType) bool {
	switch v {
	case ApproveAccept, ApproveUpdate, ApproveFeedback, ApproveCancel:
		return true
	}
	return false
}
