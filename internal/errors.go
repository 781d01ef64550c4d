package internal

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindConflict   ErrorKind = "conflict"
	KindState      ErrorKind = "state"
	KindNotFound   ErrorKind = "not_found"
	KindResource   ErrorKind = "resource"
	KindProtocol   ErrorKind = "protocol"
)

// Kind sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrState      = &Error{Kind: KindState}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrResource   = &Error{Kind: KindResource}
	ErrProtocol   = &Error{Kind: KindProtocol}
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewValidationError(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func NewAuthError(format string, args ...any) error {
	return newError(KindAuth, format, args...)
}

// NewPermissionError is an auth-kind error for actions the requester may not perform.
func NewPermissionError(format string, args ...any) error {
	return newError(KindAuth, format, args...)
}

func NewConflictError(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

func NewStateError(format string, args ...any) error {
	return newError(KindState, format, args...)
}

func NewNotFoundError(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func NewProtocolError(format string, args ...any) error {
	return newError(KindProtocol, format, args...)
}

func NewResourceError(err error, format string, args ...any) error {
	e := newError(KindResource, format, args...)
	e.Err = err
	return e
}

// KindOf returns the taxonomy kind of err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
