package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindInsufficientStock
	KindNetwork
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindNetwork:
		return "network"
	default:
		return "unexpected"
	}
}

// Error is the structured failure every backend operation returns.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Detail string // server-reported text, shown to the user verbatim
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrUnexpected        = &Error{Kind: KindUnexpected}
)

func NewValidationError(op, detail string) *Error {
	return &Error{Kind: KindValidation, Op: op, Detail: detail}
}

const FallbackMessage = "Something went wrong. Please try again."

// UserMessage picks the text to surface for err: the server's detail for
// business errors, a generic fallback for transport and unexpected failures.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return FallbackMessage
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindInsufficientStock:
		if e.Detail != "" {
			return e.Detail
		}
	}
	return FallbackMessage
}

// KindOf returns the kind of err, or KindUnexpected for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
