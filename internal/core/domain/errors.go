package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies failures reported to callers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindSecretsResolution ErrorKind = "secrets_resolution"
	KindBuild             ErrorKind = "build"
	KindProvisioning      ErrorKind = "provisioning"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
)

// ErrTransient marks a failure the scheduler expects to clear on its own,
// such as exhausted capacity. Adapters wrap it so callers can retry.
var ErrTransient = errors.New("transient failure")

// Error is the structured error returned by every public operation.
type Error struct {
	Kind    ErrorKind
	Op      string // Operation that failed (e.g., "Deploy")
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller can fix the failure by changing its
// input or retrying later.
func (e *Error) Retryable() bool {
	return e.Kind == KindValidation || e.Kind == KindConflict
}

// NewError creates a new Error.
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// ValidationError creates a validation error with the given message.
func ValidationError(op, message string) *Error {
	return NewError(KindValidation, op, message, nil)
}

// NotFoundError reports an unknown service name.
func NotFoundError(op, name string) *Error {
	return NewError(KindNotFound, op, fmt.Sprintf("service %q not found", name), nil)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err wraps ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
