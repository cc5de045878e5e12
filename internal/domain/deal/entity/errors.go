package entity

import (
	"errors"
	"fmt"
)

// Domain errors for the deal room
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrActionNotFound       = errors.New("quick action not found")
	ErrActionUnavailable    = errors.New("quick action is not available")
	ErrNoSelection          = errors.New("no conversation selected")
	ErrEmptyMessage         = errors.New("message text cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidStage         = errors.New("invalid transaction stage")
	ErrInvalidTransition    = errors.New("stage transition is not allowed")
	ErrStageGuard           = errors.New("stage requirements are not met")
	ErrInvalidMessage       = errors.New("message payload does not match its type")
	ErrUnauthorized         = errors.New("unauthorized to perform this action")
	ErrSessionClosed        = errors.New("session is closed")
	ErrOwnMessage           = errors.New("cannot mark your own message as read")
)

// TransitionError reports an illegal stage transition
type TransitionError struct {
	From TransactionStage
	To   TransactionStage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("stage transition %s -> %s is not allowed", e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
