// Package apperr defines the error taxonomy shared by the circle core and
// its adapters.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedInput    = errors.New("malformed input")
)

// Error carries a kind plus a caller-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return newf(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newf(ErrForbidden, format, args...)
}

func InvalidTransition(format string, args ...any) error {
	return newf(ErrInvalidTransition, format, args...)
}

func InvalidState(format string, args ...any) error {
	return newf(ErrInvalidState, format, args...)
}

func RateLimited(format string, args ...any) error {
	return newf(ErrRateLimited, format, args...)
}

func Unauthenticated(format string, args ...any) error {
	return newf(ErrUnauthenticated, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return newf(ErrUnauthorized, format, args...)
}

func MalformedInput(format string, args ...any) error {
	return newf(ErrMalformedInput, format, args...)
}

// Is reports whether err matches any of the given kinds.
func Is(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
