// Package apperr is the error taxonomy shared by services and transports.
//
// Services return *Error values; handlers translate the Kind into a status
// code. Anything that is not an *Error is treated as a store failure.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindStore Kind = iota
	KindUnauthorized
	KindConflict
	KindNotFound
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	default:
		return "store"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrStore        = &Error{Kind: KindStore, Message: "internal error"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "not authorized"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalid      = &Error{Kind: KindInvalid, Message: "invalid input"}
)

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

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Message: msg} }
func Conflict(msg string) error     { return &Error{Kind: KindConflict, Message: msg} }
func NotFound(msg string) error     { return &Error{Kind: KindNotFound, Message: msg} }
func Invalid(msg string) error      { return &Error{Kind: KindInvalid, Message: msg} }

// Store wraps an underlying store failure. msg is what the caller sees;
// err is kept for server-side logs only.
func Store(msg string, err error) error {
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

// KindOf returns the kind of err. Unknown errors are store failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// PublicMessage is the message safe to show to a caller. Store failures
// never expose the wrapped driver error.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrStore.Message
}
