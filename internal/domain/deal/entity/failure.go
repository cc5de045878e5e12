package entity

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// FailureKind classifies a failed user action
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureNetwork    FailureKind = "network"
	FailureConflict   FailureKind = "conflict"
	FailureNotFound   FailureKind = "not_found"
)

// Failure is the error returned by user actions. Callers switch on Kind
// instead of matching message text.
type Failure struct {
	Kind    FailureKind       `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether the user may retry the same action unchanged.
// Only network failures qualify; there is no automatic retry.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureNetwork
}

// NetworkFailure wraps an I/O error from an external collaborator
func NetworkFailure(message string, err error) *Failure {
	return &Failure{Kind: FailureNetwork, Message: message, Err: err}
}

// ConflictFailure reports an action that is not allowed in the current deal state
func ConflictFailure(message string, err error) *Failure {
	return &Failure{Kind: FailureConflict, Message: message, Err: err}
}

// NotFoundFailure reports a lookup miss
func NotFoundFailure(err error) *Failure {
	return &Failure{Kind: FailureNotFound, Message: err.Error(), Err: err}
}

// AsFailure converts any error into a Failure, classifying domain sentinels
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NetworkFailure("request cancelled", err)
	case errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrActionNotFound),
		errors.Is(err, ErrNoSelection):
		return NotFoundFailure(err)
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrActionUnavailable),
		errors.Is(err, ErrStageGuard),
		errors.Is(err, ErrOwnMessage),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrSessionClosed):
		return ConflictFailure(err.Error(), err)
	case errors.Is(err, ErrInvalidStage),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrInvalidMessage):
		return &Failure{Kind: FailureValidation, Message: err.Error(), Err: err}
	}
	return NetworkFailure("request failed", err)
}

// FieldErrors collects per-field validation messages
type FieldErrors map[string]string

// Add records the first error for a field
func (fe FieldErrors) Add(field, message string) {
	if _, ok := fe[field]; !ok {
		fe[field] = message
	}
}

// Err returns a validation Failure, or nil when no field failed
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	names := make([]string, 0, len(fe))
	for name := range fe {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Failure{
		Kind:    FailureValidation,
		Message: "invalid " + strings.Join(names, ", "),
		Fields:  fe,
	}
}
