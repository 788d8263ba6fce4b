package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")
)

// Kind classifies failures surfaced at the action boundary
type Kind string

const (
	// KindConfiguration: no matching rule or path, missing steps. Actionable by an administrator.
	KindConfiguration Kind = "configuration"
	// KindAuthorization: wrong actor or segregation-of-duties violation.
	KindAuthorization Kind = "authorization"
	// KindState: task or transaction not in the required state.
	KindState Kind = "state"
	// KindValidation: missing comment, bad date range, delegation overlap or duration.
	KindValidation Kind = "validation"
	// KindNotFound: referenced record does not exist.
	KindNotFound Kind = "not_found"
	// KindInternal: unexpected fault.
	KindInternal Kind = "internal"
)

// Error is a classified workflow failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindState}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError creates a configuration failure
func ConfigurationError(format string, args ...interface{}) *Error {
	return newError(KindConfiguration, format, args...)
}

// AuthorizationError creates an authorization failure
func AuthorizationError(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, format, args...)
}

// StateError creates a state failure
func StateError(format string, args ...interface{}) *Error {
	return newError(KindState, format, args...)
}

// ValidationError creates a validation failure
func ValidationError(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// NotFoundError creates a not-found failure
func NotFoundError(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Kind
	}
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidState) {
		return KindState
	}
	return KindInternal
}
