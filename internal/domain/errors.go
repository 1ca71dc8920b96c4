package domain

import "errors"

var (
	// ErrChatNotFound is returned when a chat id does not exist for the user.
	ErrChatNotFound = errors.New("chat not found")

	// ErrInvalidApproval is returned when a confirmation response carries an
	// unknown approve value. The pending confirmation is left intact so the
	// client can retry.
	ErrInvalidApproval = errors.New("invalid approval value")

	// ErrMissingConfirmationContext is returned when a confirmation response
	// references a pending confirmation that expired or never existed.
	ErrMissingConfirmationContext = errors.New("missing confirmation context")
)
